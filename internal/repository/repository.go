package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const workflowColumns = `id, voucher_id, voucher_type, transaction_type, amount, original_amount, original_currency,
	segment, tier, status, approval_reason, voucher_data, signature_hash, created_by, created_at, updated_at`

func scanWorkflow(row pgx.Row) (*models.ApprovalWorkflow, error) {
	var (
		w       models.ApprovalWorkflow
		reason  *string
		creator *string
	)
	err := row.Scan(&w.ID, &w.VoucherID, &w.VoucherType, &w.TransactionType, &w.Amount, &w.OriginalAmount,
		&w.OriginalCurrency, &w.Segment, &w.Tier, &w.Status, &reason, &w.VoucherData, &w.SignatureHash,
		&creator, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if reason != nil {
		w.ApprovalReason = *reason
	}
	if creator != nil {
		w.CreatedBy = *creator
	}
	return &w, nil
}

// InsertWorkflow reports false when a workflow for the voucher already exists.
func (q *Queries) InsertWorkflow(ctx context.Context, w *models.ApprovalWorkflow) (bool, error) {
	query := `INSERT INTO approval_workflows (id, voucher_id, voucher_type, transaction_type, amount, original_amount,
		original_currency, segment, tier, status, approval_reason, voucher_data, signature_hash, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		ON CONFLICT (voucher_id) DO NOTHING
		RETURNING created_at, updated_at`
	err := q.db.QueryRow(ctx, query, w.ID, w.VoucherID, w.VoucherType, w.TransactionType, w.Amount, w.OriginalAmount,
		w.OriginalCurrency, w.Segment, w.Tier, w.Status, w.ApprovalReason, w.VoucherData, w.SignatureHash, w.CreatedBy).
		Scan(&w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert approval workflow: %w", err)
	}
	return true, nil
}

func (q *Queries) GetWorkflowByVoucher(ctx context.Context, voucherID string) (*models.ApprovalWorkflow, error) {
	return scanWorkflow(q.db.QueryRow(ctx, `SELECT `+workflowColumns+` FROM approval_workflows WHERE voucher_id = $1`, voucherID))
}

func (q *Queries) GetWorkflowByVoucherForUpdate(ctx context.Context, voucherID string) (*models.ApprovalWorkflow, error) {
	return scanWorkflow(q.db.QueryRow(ctx, `SELECT `+workflowColumns+` FROM approval_workflows WHERE voucher_id = $1 FOR UPDATE`, voucherID))
}

func (q *Queries) ListWorkflowsByStatus(ctx context.Context, statuses []string, limit, offset int32) ([]models.ApprovalWorkflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM approval_workflows
		WHERE status = ANY($1)
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`
	rows, err := q.db.Query(ctx, query, statuses, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list approval workflows: %w", err)
	}
	defer rows.Close()

	var out []models.ApprovalWorkflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval workflow: %w", err)
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (q *Queries) CountWorkflowsByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM approval_workflows WHERE status = $1`, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("count approval workflows: %w", err)
	}
	return n, nil
}

func (q *Queries) UpdateWorkflowStatus(ctx context.Context, params UpdateWorkflowStatusParams) (int64, error) {
	query := `UPDATE approval_workflows
		SET status = $3, signature_hash = COALESCE($4, signature_hash), updated_at = NOW()
		WHERE id = $1 AND status = $2`
	tag, err := q.db.Exec(ctx, query, params.ID, params.FromStatus, params.ToStatus, params.SignatureHash)
	if err != nil {
		return 0, fmt.Errorf("update approval workflow status: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) InsertDecision(ctx context.Context, d *models.ApprovalDecision) error {
	query := `INSERT INTO approval_decisions (id, workflow_id, voucher_id, action, approved_by, approver_role, reason,
		binding_hash, prev_status, next_status, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := q.db.Exec(ctx, query, d.ID, d.WorkflowID, d.VoucherID, d.Action, d.ApprovedBy, d.ApproverRole, d.Reason,
		d.BindingHash, d.PrevStatus, d.NextStatus, d.DecidedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("insert approval decision: %w: %w", ErrDuplicate, err)
		}
		return fmt.Errorf("insert approval decision: %w", err)
	}
	return nil
}

func (q *Queries) ListDecisions(ctx context.Context, workflowID uuid.UUID) ([]models.ApprovalDecision, error) {
	query := `SELECT id, workflow_id, voucher_id, action, approved_by, approver_role, COALESCE(reason, ''),
		binding_hash, prev_status, next_status, decided_at
		FROM approval_decisions WHERE workflow_id = $1 ORDER BY decided_at ASC`
	rows, err := q.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list approval decisions: %w", err)
	}
	defer rows.Close()

	var out []models.ApprovalDecision
	for rows.Next() {
		var d models.ApprovalDecision
		if err := rows.Scan(&d.ID, &d.WorkflowID, &d.VoucherID, &d.Action, &d.ApprovedBy, &d.ApproverRole, &d.Reason,
			&d.BindingHash, &d.PrevStatus, &d.NextStatus, &d.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan approval decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (q *Queries) InsertAuditLog(ctx context.Context, e *models.AuditEntry) error {
	query := `INSERT INTO audit_log (id, entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING created_at`
	var metadata []byte
	if len(e.Metadata) > 0 {
		metadata = e.Metadata
	}
	if err := q.db.QueryRow(ctx, query, e.ID, e.EntityType, e.EntityID, e.ActorID, e.Action, e.PrevState, e.NextState, metadata).
		Scan(&e.CreatedAt); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (q *Queries) ListAuditLog(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditEntry, error) {
	query := `SELECT id, entity_type, entity_id, COALESCE(actor_id, ''), action, COALESCE(prev_state, ''),
		COALESCE(next_state, ''), metadata, created_at
		FROM audit_log WHERE entity_type = $1 AND entity_id = $2 ORDER BY created_at ASC`
	rows, err := q.db.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.ActorID, &e.Action, &e.PrevState, &e.NextState,
			&e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error) {
	query := `SELECT idempotency_key, request_hash, method, path, response_status, COALESCE(response_body, ''::bytea),
		content_type, in_progress, created_at
		FROM idempotency_keys WHERE idempotency_key = $1`
	var rec IdempotencyKey
	err := q.db.QueryRow(ctx, query, key).Scan(&rec.IdempotencyKey, &rec.RequestHash, &rec.Method, &rec.Path,
		&rec.ResponseStatus, &rec.ResponseBody, &rec.ContentType, &rec.InProgress, &rec.CreatedAt)
	if err != nil {
		return IdempotencyKey{}, notFound(err)
	}
	return rec, nil
}

// ReserveIdempotencyKey reports false when another request already holds the key.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, params ReserveIdempotencyKeyParams) (bool, error) {
	query := `INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress, created_at)
		VALUES ($1, $2, $3, $4, TRUE, NOW())
		ON CONFLICT (idempotency_key) DO NOTHING`
	tag, err := q.db.Exec(ctx, query, params.IdempotencyKey, params.RequestHash, params.Method, params.Path)
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, params FinalizeIdempotencyKeyParams) (IdempotencyKey, error) {
	query := `UPDATE idempotency_keys
		SET response_status = $1, response_body = $2, content_type = $3, in_progress = FALSE
		WHERE idempotency_key = $4 AND request_hash = $5
		RETURNING idempotency_key, request_hash, method, path, response_status, response_body, content_type, in_progress, created_at`
	var rec IdempotencyKey
	err := q.db.QueryRow(ctx, query, params.ResponseStatus, params.ResponseBody, params.ContentType,
		params.IdempotencyKey, params.RequestHash).
		Scan(&rec.IdempotencyKey, &rec.RequestHash, &rec.Method, &rec.Path, &rec.ResponseStatus, &rec.ResponseBody,
			&rec.ContentType, &rec.InProgress, &rec.CreatedAt)
	if err != nil {
		return IdempotencyKey{}, notFound(err)
	}
	return rec, nil
}

func (q *Queries) DeleteIdempotencyKey(ctx context.Context, key, requestHash string) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE idempotency_key = $1 AND request_hash = $2`, key, requestHash); err != nil {
		return fmt.Errorf("delete idempotency key: %w", err)
	}
	return nil
}

func (q *Queries) DeleteExpiredIdempotencyKeys(ctx context.Context, before time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1 AND in_progress = FALSE`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
