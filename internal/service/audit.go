package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/ayo6706/branch-transactions/internal/repository"
	"github.com/google/uuid"
)

// AuditService writes immutable audit trail entries.
type AuditService struct {
	store QueryStore
}

func NewAuditService(store QueryStore) *AuditService {
	return &AuditService{store: store}
}

// Write stores a single immutable audit record inside the caller's transaction.
func (s *AuditService) Write(ctx context.Context, qtx repository.Querier, entityType string, entityID uuid.UUID, actorID, action, prevState, nextState string, metadata []byte) error {
	if err := qtx.InsertAuditLog(ctx, &models.AuditEntry{
		ID:         uuid.New(),
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Action:     action,
		PrevState:  prevState,
		NextState:  nextState,
		Metadata:   metadata,
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// Trail returns the audit entries for one entity, oldest first.
func (s *AuditService) Trail(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditEntry, error) {
	return s.store.Queries().ListAuditLog(ctx, entityType, entityID)
}
