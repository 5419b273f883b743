package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Querier is the data access contract shared by the Postgres and in-memory stores.
type Querier interface {
	InsertWorkflow(ctx context.Context, w *models.ApprovalWorkflow) (bool, error)
	GetWorkflowByVoucher(ctx context.Context, voucherID string) (*models.ApprovalWorkflow, error)
	GetWorkflowByVoucherForUpdate(ctx context.Context, voucherID string) (*models.ApprovalWorkflow, error)
	ListWorkflowsByStatus(ctx context.Context, statuses []string, limit, offset int32) ([]models.ApprovalWorkflow, error)
	CountWorkflowsByStatus(ctx context.Context, status string) (int64, error)
	UpdateWorkflowStatus(ctx context.Context, params UpdateWorkflowStatusParams) (int64, error)

	InsertDecision(ctx context.Context, d *models.ApprovalDecision) error
	ListDecisions(ctx context.Context, workflowID uuid.UUID) ([]models.ApprovalDecision, error)

	InsertAuditLog(ctx context.Context, e *models.AuditEntry) error
	ListAuditLog(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditEntry, error)

	GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error)
	ReserveIdempotencyKey(ctx context.Context, params ReserveIdempotencyKeyParams) (bool, error)
	FinalizeIdempotencyKey(ctx context.Context, params FinalizeIdempotencyKeyParams) (IdempotencyKey, error)
	DeleteIdempotencyKey(ctx context.Context, key, requestHash string) error
	DeleteExpiredIdempotencyKeys(ctx context.Context, before time.Time) (int64, error)
}

// Store scopes queries to a transaction.
type Store interface {
	Queries() Querier
	RunInTx(ctx context.Context, fn func(q Querier) error) error
	Ping(ctx context.Context) error
}

// UpdateWorkflowStatusParams is a compare-and-set: the row only changes while it is still in FromStatus.
type UpdateWorkflowStatusParams struct {
	ID            uuid.UUID
	FromStatus    string
	ToStatus      string
	SignatureHash *string
}

type IdempotencyKey struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
	CreatedAt      time.Time
}

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
}

type FinalizeIdempotencyKeyParams struct {
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	IdempotencyKey string
	RequestHash    string
}
