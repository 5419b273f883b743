package confirmation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/ayo6706/branch-transactions/internal/observability"
	"github.com/ayo6706/branch-transactions/internal/wizard"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// RedirectDelay is how long the invalid-state message shows before the client
// returns to the form.
const RedirectDelay = 3 * time.Second

var (
	ErrInvalidState       = fmt.Errorf("no transaction to show, returning to the form: %w", models.ErrWorkflowState)
	ErrCancelNotConfirmed = fmt.Errorf("cancellation must be confirmed: %w", models.ErrValidation)
)

const notCancellableReason = "Only pending requests can be cancelled"

// Backend is the slice of the core-banking API the controller reads and cancels through.
type Backend interface {
	Get(ctx context.Context, t domain.TransactionType, id string) (*models.TransactionRecord, error)
	Cancel(ctx context.Context, t domain.TransactionType, id string) (*models.TransactionRecord, error)
}

type Updater interface {
	NewForUpdate(owner string, rec *models.TransactionRecord) (*wizard.Sequencer, error)
}

type Redirect struct {
	Path    string            `json:"path"`
	Query   map[string]string `json:"query,omitempty"`
	AfterMS int64             `json:"after_ms,omitempty"`
}

// FormPath is the client route of the form a transaction type is entered on.
func FormPath(t domain.TransactionType) string {
	return "/forms/" + strings.ReplaceAll(string(t), "_", "-")
}

// InvalidStateError means there is no record to render. The client follows Redirect.
type InvalidStateError struct {
	Redirect Redirect
}

func (e *InvalidStateError) Error() string { return ErrInvalidState.Error() }
func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// StateError refuses an action against the server's current status. View is
// the refreshed record so the client can re-render without another call.
type StateError struct {
	View View
}

func (e *StateError) Error() string {
	if e.View.Record == nil {
		return "transaction cannot be changed"
	}
	return fmt.Sprintf("transaction is %s and cannot be changed", e.View.Record.Status)
}

func (e *StateError) Unwrap() error { return models.ErrWorkflowState }

type View struct {
	Record               *models.TransactionRecord `json:"record"`
	CanCancel            bool                      `json:"can_cancel"`
	CanUpdate            bool                      `json:"can_update"`
	CancelDisabledReason string                    `json:"cancel_disabled_reason,omitempty"`
	Display              *wizard.Display           `json:"display,omitempty"`
}

type CancelResult struct {
	View     View     `json:"view"`
	Redirect Redirect `json:"redirect"`
}

// Controller renders submitted transactions and runs cancel and update against them.
type Controller struct {
	backend Backend
	updater Updater
	logger  *zap.Logger
}

func NewController(backend Backend, updater Updater, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{backend: backend, updater: updater, logger: logger}
}

// CanCancel holds only for the exact backend status "Pending".
func CanCancel(rec *models.TransactionRecord) bool {
	return rec != nil && rec.Status == domain.RecordStatusPending
}

func viewOf(rec *models.TransactionRecord) View {
	v := View{
		Record:    rec,
		CanCancel: CanCancel(rec),
		CanUpdate: CanCancel(rec),
		Display:   displayOf(rec),
	}
	if !v.CanCancel {
		v.CancelDisabledReason = notCancellableReason
	}
	return v
}

func displayOf(rec *models.TransactionRecord) *wizard.Display {
	if rec == nil || !rec.Type.HasAmount() {
		return nil
	}
	d := &wizard.Display{AmountETB: rec.Amount.StringFixed(domain.AmountScale)}
	if c := strings.ToUpper(rec.OriginalCurrency); c != "" && c != domain.BaseCurrency && rec.OriginalAmount.IsPositive() {
		d.OriginalAmount = rec.OriginalAmount.StringFixed(domain.AmountScale)
		d.OriginalCurrency = c
		if rec.ExchangeRate.IsPositive() {
			d.ExchangeRate = rec.ExchangeRate.String()
		}
	}
	return d
}

func invalidState(t domain.TransactionType) *InvalidStateError {
	return &InvalidStateError{Redirect: Redirect{Path: FormPath(t), AfterMS: RedirectDelay.Milliseconds()}}
}

// Load renders carried when it is complete and falls back to the backend otherwise.
func (c *Controller) Load(ctx context.Context, t domain.TransactionType, id string, carried *models.TransactionRecord) (View, error) {
	if carried.Complete() && (id == "" || carried.ID == id) {
		return viewOf(carried), nil
	}
	rec, err := c.fetch(ctx, t, id)
	if err != nil {
		return View{}, err
	}
	return viewOf(rec), nil
}

func (c *Controller) fetch(ctx context.Context, t domain.TransactionType, id string) (*models.TransactionRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" || !t.Valid() {
		return nil, invalidState(t)
	}
	rec, err := c.backend.Get(ctx, t, id)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return nil, invalidState(t)
	case err != nil:
		return nil, fmt.Errorf("fetch %s %s: %w", t.Resource(), id, err)
	}
	if rec == nil || rec.ID == "" {
		return nil, invalidState(t)
	}
	if !rec.Type.Valid() {
		rec.Type = t
	}
	return rec, nil
}

// Cancel re-reads the record before cancelling so a stale Pending view can
// never cancel something the branch has already processed.
func (c *Controller) Cancel(ctx context.Context, t domain.TransactionType, id string, confirmed bool) (CancelResult, error) {
	if !confirmed {
		return CancelResult{}, ErrCancelNotConfirmed
	}

	ctx, span := observability.StartSpan(ctx, "confirmation.cancel",
		attribute.String(observability.AttrTransactionType, string(t)))
	defer span.End()

	rec, err := c.fetch(ctx, t, id)
	if err != nil {
		observability.SetSpanError(span, err)
		observability.IncrementCancellation(string(t), "fetch_failed")
		return CancelResult{}, err
	}
	if !CanCancel(rec) {
		observability.IncrementCancellation(string(t), "not_pending")
		return CancelResult{}, &StateError{View: viewOf(rec)}
	}

	cancelled, err := c.backend.Cancel(ctx, t, rec.ID)
	if err != nil {
		observability.SetSpanError(span, err)
		if errors.Is(err, models.ErrWorkflowState) {
			// lost a race with the branch; show what the backend now holds
			if fresh, ferr := c.fetch(ctx, t, rec.ID); ferr == nil {
				observability.IncrementCancellation(string(t), "not_pending")
				return CancelResult{}, &StateError{View: viewOf(fresh)}
			}
		}
		observability.IncrementCancellation(string(t), "failed")
		c.logger.Warn("cancel transaction failed",
			zap.String("type", string(t)),
			zap.String("record_id", rec.ID),
			zap.Error(err))
		return CancelResult{}, fmt.Errorf("cancel %s %s: %w", t.Resource(), rec.ID, err)
	}
	if cancelled == nil || cancelled.ID == "" {
		cancelled = rec
		cancelled.Status = domain.RecordStatusCancelled
	}
	if !cancelled.Type.Valid() {
		cancelled.Type = t
	}

	observability.IncrementCancellation(string(t), "success")
	c.logger.Info("transaction cancelled", zap.String("type", string(t)), zap.String("record_id", rec.ID))
	return CancelResult{
		View:     viewOf(cancelled),
		Redirect: Redirect{Path: FormPath(t), Query: map[string]string{"success": "true"}},
	}, nil
}

// Update re-fetches the record and opens an update-mode wizard on it.
func (c *Controller) Update(ctx context.Context, t domain.TransactionType, id, owner string) (*wizard.Sequencer, error) {
	rec, err := c.fetch(ctx, t, id)
	if err != nil {
		return nil, err
	}
	if !CanCancel(rec) {
		return nil, &StateError{View: viewOf(rec)}
	}
	return c.updater.NewForUpdate(owner, rec)
}

