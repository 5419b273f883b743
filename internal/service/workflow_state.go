package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/ayo6706/branch-transactions/internal/repository"
)

// Statuses only move forward. Rejection branches off the two pending states,
// and approved, rejected and completed are final.
var workflowTransitions = map[string]map[string]struct{}{
	domain.WorkflowDraft: {
		domain.WorkflowPendingVerification: {},
		domain.WorkflowPendingApproval:     {},
		domain.WorkflowCompleted:           {},
	},
	domain.WorkflowPendingVerification: {
		domain.WorkflowPendingApproval: {},
		domain.WorkflowVerified:        {},
		domain.WorkflowRejected:        {},
	},
	domain.WorkflowPendingApproval: {
		domain.WorkflowVerified: {},
		domain.WorkflowApproved: {},
		domain.WorkflowRejected: {},
	},
	domain.WorkflowVerified: {
		domain.WorkflowApproved: {},
	},
	domain.WorkflowApproved:  {},
	domain.WorkflowRejected:  {},
	domain.WorkflowCompleted: {},
}

func normalizeState(state string) string {
	return strings.ToLower(strings.TrimSpace(state))
}

func canTransition(current, next string) bool {
	nextStates, ok := workflowTransitions[normalizeState(current)]
	if !ok {
		return false
	}
	_, ok = nextStates[normalizeState(next)]
	return ok
}

func isTerminal(state string) bool {
	next, ok := workflowTransitions[normalizeState(state)]
	return ok && len(next) == 0
}

// transitionWorkflowState moves a locked workflow from its current status to next and audits the move.
func transitionWorkflowState(ctx context.Context, qtx repository.Querier, audit *AuditService, w *models.ApprovalWorkflow, nextState string, signatureHash *string, actorID, action string, metadata []byte) error {
	if !canTransition(w.Status, nextState) {
		return fmt.Errorf("invalid workflow state transition %s -> %s: %w", w.Status, nextState, models.ErrWorkflowState)
	}

	rows, err := qtx.UpdateWorkflowStatus(ctx, repository.UpdateWorkflowStatusParams{
		ID:            w.ID,
		FromStatus:    w.Status,
		ToStatus:      nextState,
		SignatureHash: signatureHash,
	})
	if err != nil {
		return fmt.Errorf("update workflow state: %w", err)
	}
	if err := requireExactlyOne(rows, "update workflow state"); err != nil {
		return fmt.Errorf("%w: %w", ErrAlreadyDecided, err)
	}

	if err := audit.Write(ctx, qtx, "approval_workflow", w.ID, actorID, action, w.Status, nextState, metadata); err != nil {
		return err
	}

	w.Status = nextState
	if signatureHash != nil {
		w.SignatureHash = signatureHash
	}
	return nil
}
