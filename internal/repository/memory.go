package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/google/uuid"
)

type memoryState struct {
	workflows   map[string]models.ApprovalWorkflow
	decisions   []models.ApprovalDecision
	bindings    map[string]struct{}
	audit       []models.AuditEntry
	idempotency map[string]IdempotencyKey
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		workflows:   make(map[string]models.ApprovalWorkflow, len(s.workflows)),
		decisions:   slices.Clone(s.decisions),
		bindings:    make(map[string]struct{}, len(s.bindings)),
		audit:       slices.Clone(s.audit),
		idempotency: make(map[string]IdempotencyKey, len(s.idempotency)),
	}
	for k, v := range s.workflows {
		c.workflows[k] = v
	}
	for k := range s.bindings {
		c.bindings[k] = struct{}{}
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	return c
}

// MemoryStore is a process-local Store used when STORAGE_DRIVER=memory and in tests.
// Transactions are serialized and rolled back by restoring a snapshot.
type MemoryStore struct {
	txMu  sync.Mutex
	mu    sync.Mutex
	state *memoryState
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memoryState{
			workflows:   map[string]models.ApprovalWorkflow{},
			bindings:    map[string]struct{}{},
			idempotency: map[string]IdempotencyKey{},
		},
		now: time.Now,
	}
}

func (s *MemoryStore) Queries() Querier {
	return &memoryQueries{store: s}
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(q Querier) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.state.clone()
	s.mu.Unlock()

	if err := fn(&memoryQueries{store: s}); err != nil {
		s.mu.Lock()
		s.state = snapshot
		s.mu.Unlock()
		return err
	}
	return ctx.Err()
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

type memoryQueries struct {
	store *MemoryStore
}

func (q *memoryQueries) lock() (*memoryState, func()) {
	q.store.mu.Lock()
	return q.store.state, q.store.mu.Unlock
}

func (q *memoryQueries) InsertWorkflow(_ context.Context, w *models.ApprovalWorkflow) (bool, error) {
	st, unlock := q.lock()
	defer unlock()
	if _, ok := st.workflows[w.VoucherID]; ok {
		return false, nil
	}
	now := q.store.now()
	w.CreatedAt, w.UpdatedAt = now, now
	st.workflows[w.VoucherID] = *w
	return true, nil
}

func (q *memoryQueries) GetWorkflowByVoucher(_ context.Context, voucherID string) (*models.ApprovalWorkflow, error) {
	st, unlock := q.lock()
	defer unlock()
	w, ok := st.workflows[voucherID]
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

// GetWorkflowByVoucherForUpdate relies on RunInTx serialization for the row lock.
func (q *memoryQueries) GetWorkflowByVoucherForUpdate(ctx context.Context, voucherID string) (*models.ApprovalWorkflow, error) {
	return q.GetWorkflowByVoucher(ctx, voucherID)
}

func (q *memoryQueries) ListWorkflowsByStatus(_ context.Context, statuses []string, limit, offset int32) ([]models.ApprovalWorkflow, error) {
	st, unlock := q.lock()
	defer unlock()
	var out []models.ApprovalWorkflow
	for _, w := range st.workflows {
		if slices.Contains(statuses, w.Status) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].VoucherID < out[j].VoucherID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if int(offset) >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && int(limit) < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (q *memoryQueries) CountWorkflowsByStatus(_ context.Context, status string) (int64, error) {
	st, unlock := q.lock()
	defer unlock()
	var n int64
	for _, w := range st.workflows {
		if w.Status == status {
			n++
		}
	}
	return n, nil
}

func (q *memoryQueries) UpdateWorkflowStatus(_ context.Context, params UpdateWorkflowStatusParams) (int64, error) {
	st, unlock := q.lock()
	defer unlock()
	for key, w := range st.workflows {
		if w.ID != params.ID {
			continue
		}
		if w.Status != params.FromStatus {
			return 0, nil
		}
		w.Status = params.ToStatus
		if params.SignatureHash != nil {
			hash := *params.SignatureHash
			w.SignatureHash = &hash
		}
		w.UpdatedAt = q.store.now()
		st.workflows[key] = w
		return 1, nil
	}
	return 0, nil
}

func (q *memoryQueries) InsertDecision(_ context.Context, d *models.ApprovalDecision) error {
	st, unlock := q.lock()
	defer unlock()
	if _, ok := st.bindings[d.BindingHash]; ok {
		return ErrDuplicate
	}
	st.bindings[d.BindingHash] = struct{}{}
	st.decisions = append(st.decisions, *d)
	return nil
}

func (q *memoryQueries) ListDecisions(_ context.Context, workflowID uuid.UUID) ([]models.ApprovalDecision, error) {
	st, unlock := q.lock()
	defer unlock()
	var out []models.ApprovalDecision
	for _, d := range st.decisions {
		if d.WorkflowID == workflowID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (q *memoryQueries) InsertAuditLog(_ context.Context, e *models.AuditEntry) error {
	st, unlock := q.lock()
	defer unlock()
	e.CreatedAt = q.store.now()
	st.audit = append(st.audit, *e)
	return nil
}

func (q *memoryQueries) ListAuditLog(_ context.Context, entityType string, entityID uuid.UUID) ([]models.AuditEntry, error) {
	st, unlock := q.lock()
	defer unlock()
	var out []models.AuditEntry
	for _, e := range st.audit {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (q *memoryQueries) GetIdempotencyKey(_ context.Context, key string) (IdempotencyKey, error) {
	st, unlock := q.lock()
	defer unlock()
	rec, ok := st.idempotency[key]
	if !ok {
		return IdempotencyKey{}, ErrNotFound
	}
	return rec, nil
}

func (q *memoryQueries) ReserveIdempotencyKey(_ context.Context, params ReserveIdempotencyKeyParams) (bool, error) {
	st, unlock := q.lock()
	defer unlock()
	if _, ok := st.idempotency[params.IdempotencyKey]; ok {
		return false, nil
	}
	st.idempotency[params.IdempotencyKey] = IdempotencyKey{
		IdempotencyKey: params.IdempotencyKey,
		RequestHash:    params.RequestHash,
		Method:         params.Method,
		Path:           params.Path,
		ContentType:    "application/json",
		InProgress:     true,
		CreatedAt:      q.store.now(),
	}
	return true, nil
}

func (q *memoryQueries) FinalizeIdempotencyKey(_ context.Context, params FinalizeIdempotencyKeyParams) (IdempotencyKey, error) {
	st, unlock := q.lock()
	defer unlock()
	rec, ok := st.idempotency[params.IdempotencyKey]
	if !ok || rec.RequestHash != params.RequestHash {
		return IdempotencyKey{}, ErrNotFound
	}
	rec.ResponseStatus = params.ResponseStatus
	rec.ResponseBody = slices.Clone(params.ResponseBody)
	rec.ContentType = params.ContentType
	rec.InProgress = false
	st.idempotency[params.IdempotencyKey] = rec
	return rec, nil
}

func (q *memoryQueries) DeleteIdempotencyKey(_ context.Context, key, requestHash string) error {
	st, unlock := q.lock()
	defer unlock()
	if rec, ok := st.idempotency[key]; ok && rec.RequestHash == requestHash {
		delete(st.idempotency, key)
	}
	return nil
}

func (q *memoryQueries) DeleteExpiredIdempotencyKeys(_ context.Context, before time.Time) (int64, error) {
	st, unlock := q.lock()
	defer unlock()
	var n int64
	for key, rec := range st.idempotency {
		if !rec.InProgress && rec.CreatedAt.Before(before) {
			delete(st.idempotency, key)
			n++
		}
	}
	return n, nil
}
