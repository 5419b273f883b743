package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/ayo6706/branch-transactions/internal/observability"
	"github.com/ayo6706/branch-transactions/internal/repository"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ApprovalPolicy controls which submissions get a workflow record.
type ApprovalPolicy string

const (
	// PolicyAlways records every submission; sub-threshold ones are created completed.
	PolicyAlways ApprovalPolicy = "always"
	// PolicyRequiredOnly records only submissions that need approval.
	PolicyRequiredOnly ApprovalPolicy = "required_only"
)

func ParseApprovalPolicy(raw string) (ApprovalPolicy, error) {
	switch p := ApprovalPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "", PolicyAlways:
		return PolicyAlways, nil
	case PolicyRequiredOnly:
		return p, nil
	}
	return "", fmt.Errorf("unknown approval workflow policy %q", raw)
}

const (
	TopicWorkflowCreated = "approval.workflow.created"
	TopicWorkflowDecided = "approval.workflow.decided"

	defaultQueueLimit = 50
	maxQueueLimit     = 200
)

var (
	ErrWorkflowNotFound          = fmt.Errorf("approval workflow not found: %w", models.ErrNotFound)
	ErrAlreadyDecided            = fmt.Errorf("approval workflow already decided: %w", models.ErrWorkflowState)
	ErrApproverUnauthorized      = fmt.Errorf("approver is not allowed to act on this workflow: %w", models.ErrAuthorization)
	ErrInvalidDecision           = fmt.Errorf("action must be approve or reject: %w", models.ErrValidation)
	ErrRejectionReasonRequired   = fmt.Errorf("a reason is required to reject: %w", models.ErrValidation)
	ErrDecisionSignatureRequired = fmt.Errorf("a digital signature is required: %w", models.ErrValidation)
	ErrSignatureReplay           = fmt.Errorf("signature binding already used: %w", models.ErrWorkflowState)
)

// queueStatuses maps a role to the statuses it works on.
var queueStatuses = map[string][]string{
	domain.RoleMaker:   {domain.WorkflowPendingVerification},
	domain.RoleManager: {domain.WorkflowPendingApproval},
	domain.RoleAdmin:   {domain.WorkflowPendingVerification, domain.WorkflowPendingApproval},
}

type ApprovalService struct {
	store  QueryStore
	audit  *AuditService
	binder *SignatureBinder
	events EventPublisher
	policy ApprovalPolicy
	clock  clockwork.Clock
	logger *zap.Logger
}

type ApprovalOption func(*ApprovalService)

func WithApprovalClock(clock clockwork.Clock) ApprovalOption {
	return func(s *ApprovalService) { s.clock = clock }
}

func WithApprovalEvents(events EventPublisher) ApprovalOption {
	return func(s *ApprovalService) {
		if events != nil {
			s.events = events
		}
	}
}

func WithApprovalPolicy(policy ApprovalPolicy) ApprovalOption {
	return func(s *ApprovalService) {
		if policy != "" {
			s.policy = policy
		}
	}
}

func NewApprovalService(store QueryStore, audit *AuditService, binder *SignatureBinder, logger *zap.Logger, opts ...ApprovalOption) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ApprovalService{
		store:  store,
		audit:  audit,
		binder: binder,
		events: nopPublisher{},
		policy: PolicyAlways,
		clock:  clockwork.NewRealClock(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateWorkflowRequest struct {
	VoucherID        string
	TransactionType  domain.TransactionType
	AmountETB        decimal.Decimal
	OriginalAmount   decimal.Decimal
	OriginalCurrency string
	Segment          string
	Outcome          domain.ApprovalOutcome
	VoucherData      json.RawMessage
	// CustomerSignature, when present, is bound to the voucher at creation.
	CustomerSignature string
	CreatedBy         string
}

// initialStatus places a new workflow in the queue of the first role that must act.
func initialStatus(outcome domain.ApprovalOutcome) string {
	switch {
	case !outcome.Required:
		return domain.WorkflowCompleted
	case outcome.Tier == domain.TierMakerAndManager:
		return domain.WorkflowPendingVerification
	default:
		return domain.WorkflowPendingApproval
	}
}

// CreateWorkflow is idempotent per voucher id: a second call returns the existing record.
// Under PolicyRequiredOnly it returns nil for submissions that need no approval.
func (s *ApprovalService) CreateWorkflow(ctx context.Context, req CreateWorkflowRequest) (*models.ApprovalWorkflow, error) {
	if strings.TrimSpace(req.VoucherID) == "" || !req.TransactionType.Valid() {
		return nil, ErrVoucherRequired
	}
	if s.policy == PolicyRequiredOnly && !req.Outcome.Required {
		return nil, nil
	}

	ctx, span := observability.StartSpan(ctx, "approval.create_workflow",
		attribute.String(observability.AttrVoucherID, req.VoucherID),
		attribute.String(observability.AttrTransactionType, string(req.TransactionType)))
	defer span.End()

	currency := strings.ToUpper(req.OriginalCurrency)
	if currency == "" {
		currency = domain.BaseCurrency
	}
	tier := req.Outcome.Tier
	if tier == "" {
		tier = domain.TierNone
	}
	w := &models.ApprovalWorkflow{
		ID:               uuid.New(),
		VoucherID:        req.VoucherID,
		VoucherType:      req.TransactionType.VoucherType(),
		TransactionType:  req.TransactionType,
		Amount:           req.AmountETB,
		OriginalAmount:   req.OriginalAmount,
		OriginalCurrency: currency,
		Segment:          domain.NormalizeSegment(req.Segment),
		Tier:             tier,
		Status:           initialStatus(req.Outcome),
		ApprovalReason:   req.Outcome.Reason,
		VoucherData:      req.VoucherData,
		CreatedBy:        req.CreatedBy,
	}
	if req.CustomerSignature != "" {
		binding, err := s.binder.Bind(req.CustomerSignature, VoucherRef{ID: w.VoucherID, Type: w.VoucherType}, domain.RoleCustomer, s.clock.Now())
		if err != nil {
			return nil, err
		}
		w.SignatureHash = &binding.BindingHash
	}

	created := false
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		inserted, err := qtx.InsertWorkflow(ctx, w)
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := qtx.GetWorkflowByVoucher(ctx, w.VoucherID)
			if err != nil {
				return fmt.Errorf("load existing workflow: %w", err)
			}
			w = existing
			return nil
		}
		created = true
		meta, _ := json.Marshal(map[string]any{
			"tier":       w.Tier,
			"amount_etb": w.Amount.StringFixed(domain.AmountScale),
			"reason":     w.ApprovalReason,
		})
		return s.audit.Write(ctx, qtx, "approval_workflow", w.ID, req.CreatedBy, "workflow_created", domain.WorkflowDraft, w.Status, meta)
	})
	if err != nil {
		observability.SetSpanError(span, err)
		return nil, fmt.Errorf("create approval workflow: %w", err)
	}

	if created {
		s.logger.Info("approval workflow created",
			zap.String("voucher_id", w.VoucherID),
			zap.String("status", w.Status),
			zap.String("tier", string(w.Tier)))
		if w.Status != domain.WorkflowCompleted {
			s.events.Publish(ctx, TopicWorkflowCreated, WorkflowEvent{
				VoucherID: w.VoucherID, VoucherType: w.VoucherType, Status: w.Status, Tier: string(w.Tier),
				AmountETB: w.Amount.StringFixed(domain.AmountScale), OccurredAt: s.clock.Now().UTC(),
			})
		}
	}
	return w, nil
}

// PendingForRole lists the queue a role works on, oldest first.
func (s *ApprovalService) PendingForRole(ctx context.Context, role string, limit, offset int) ([]models.ApprovalWorkflow, error) {
	statuses, ok := queueStatuses[strings.ToLower(role)]
	if !ok {
		return nil, ErrApproverUnauthorized
	}
	if limit <= 0 {
		limit = defaultQueueLimit
	}
	if limit > maxQueueLimit {
		limit = maxQueueLimit
	}
	if offset < 0 {
		offset = 0
	}
	items, err := s.store.Queries().ListWorkflowsByStatus(ctx, statuses, int32(limit), int32(offset))
	if err != nil {
		return nil, fmt.Errorf("list pending workflows: %w", err)
	}
	if items == nil {
		items = []models.ApprovalWorkflow{}
	}
	return items, nil
}

type WorkflowDetail struct {
	Workflow  models.ApprovalWorkflow   `json:"workflow"`
	Decisions []models.ApprovalDecision `json:"decisions"`
}

func (s *ApprovalService) Workflow(ctx context.Context, voucherID string) (*WorkflowDetail, error) {
	w, err := s.store.Queries().GetWorkflowByVoucher(ctx, voucherID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	decisions, err := s.store.Queries().ListDecisions(ctx, w.ID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	if decisions == nil {
		decisions = []models.ApprovalDecision{}
	}
	return &WorkflowDetail{Workflow: *w, Decisions: decisions}, nil
}

type DecisionRequest struct {
	VoucherID        string
	Action           string
	ApprovedBy       string
	ApproverRole     string
	Reason           string
	DigitalSignature string
}

type DecisionResult struct {
	Success  bool                     `json:"success"`
	Message  string                   `json:"message"`
	Workflow *models.ApprovalWorkflow `json:"workflow"`
	Decision *models.ApprovalDecision `json:"decision"`
}

// decisionTarget returns the status an action moves a workflow to, or an
// authorization error when the role does not own the current queue.
func decisionTarget(status, role, action string) (string, error) {
	switch {
	case role == domain.RoleMaker && status == domain.WorkflowPendingVerification:
	case role == domain.RoleManager && status == domain.WorkflowPendingApproval:
	default:
		return "", ErrApproverUnauthorized
	}
	if action == domain.ActionReject {
		return domain.WorkflowRejected, nil
	}
	if role == domain.RoleMaker {
		return domain.WorkflowPendingApproval, nil
	}
	return domain.WorkflowApproved, nil
}

// ProcessApproval applies one maker or manager decision. The status move, the
// decision row and the audit entry commit together or not at all.
func (s *ApprovalService) ProcessApproval(ctx context.Context, req DecisionRequest) (*DecisionResult, error) {
	action := strings.ToLower(strings.TrimSpace(req.Action))
	role := strings.ToLower(strings.TrimSpace(req.ApproverRole))
	if action != domain.ActionApprove && action != domain.ActionReject {
		return nil, ErrInvalidDecision
	}
	if action == domain.ActionReject && strings.TrimSpace(req.Reason) == "" {
		return nil, ErrRejectionReasonRequired
	}
	if strings.TrimSpace(req.DigitalSignature) == "" {
		return nil, ErrDecisionSignatureRequired
	}
	if strings.TrimSpace(req.ApprovedBy) == "" {
		return nil, ErrApproverUnauthorized
	}

	ctx, span := observability.StartSpan(ctx, "approval.process",
		attribute.String(observability.AttrVoucherID, req.VoucherID),
		attribute.String("approval.action", action),
		attribute.String("approval.role", role))
	defer span.End()

	now := s.clock.Now().UTC()
	var (
		workflow *models.ApprovalWorkflow
		decision *models.ApprovalDecision
	)
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		w, err := qtx.GetWorkflowByVoucherForUpdate(ctx, req.VoucherID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrWorkflowNotFound
			}
			return fmt.Errorf("lock workflow: %w", err)
		}
		if isTerminal(w.Status) {
			return ErrAlreadyDecided
		}
		if w.CreatedBy != "" && w.CreatedBy == req.ApprovedBy {
			return ErrApproverUnauthorized
		}
		next, err := decisionTarget(w.Status, role, action)
		if err != nil {
			return err
		}

		binding, err := s.binder.Bind(req.DigitalSignature, VoucherRef{ID: w.VoucherID, Type: w.VoucherType}, role, now)
		if err != nil {
			return err
		}

		prev := w.Status
		meta, _ := json.Marshal(map[string]any{
			"approver_role":    role,
			"reason":           req.Reason,
			"binding_hash":     binding.BindingHash,
			"signature_digest": binding.SignatureDigest,
			"algorithm":        binding.Algorithm,
		})
		if err := transitionWorkflowState(ctx, qtx, s.audit, w, next, &binding.BindingHash, req.ApprovedBy, "workflow_"+action, meta); err != nil {
			return err
		}

		d := &models.ApprovalDecision{
			ID:           uuid.New(),
			WorkflowID:   w.ID,
			VoucherID:    w.VoucherID,
			Action:       action,
			ApprovedBy:   req.ApprovedBy,
			ApproverRole: role,
			Reason:       strings.TrimSpace(req.Reason),
			BindingHash:  binding.BindingHash,
			PrevStatus:   prev,
			NextStatus:   next,
			DecidedAt:    now,
		}
		if err := qtx.InsertDecision(ctx, d); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrSignatureReplay
			}
			return err
		}
		workflow, decision = w, d
		return nil
	})
	if err != nil {
		observability.IncrementApprovalDecision(action, role, decisionResultLabel(err))
		observability.SetSpanError(span, err)
		if models.Kind(err) != nil {
			return nil, err
		}
		return nil, fmt.Errorf("process approval: %w", err)
	}

	observability.IncrementApprovalDecision(action, role, "success")
	s.logger.Info("approval decision recorded",
		zap.String("voucher_id", workflow.VoucherID),
		zap.String("action", action),
		zap.String("role", role),
		zap.String("status", workflow.Status))
	s.events.Publish(ctx, TopicWorkflowDecided, WorkflowEvent{
		VoucherID: workflow.VoucherID, VoucherType: workflow.VoucherType, Status: workflow.Status, Tier: string(workflow.Tier),
		AmountETB: workflow.Amount.StringFixed(domain.AmountScale), Action: action, ActorRole: role, OccurredAt: now,
	})

	return &DecisionResult{
		Success:  true,
		Message:  decisionMessage(action, workflow.Status),
		Workflow: workflow,
		Decision: decision,
	}, nil
}

// QueueSizes counts workflows per pending status.
func (s *ApprovalService) QueueSizes(ctx context.Context) (map[string]int64, error) {
	out := map[string]int64{}
	for _, status := range []string{domain.WorkflowPendingVerification, domain.WorkflowPendingApproval} {
		n, err := s.store.Queries().CountWorkflowsByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, nil
}

// WorkflowEvent is the payload published on workflow topics.
type WorkflowEvent struct {
	VoucherID   string    `json:"voucher_id"`
	VoucherType string    `json:"voucher_type"`
	Status      string    `json:"status"`
	Tier        string    `json:"tier"`
	AmountETB   string    `json:"amount_etb"`
	Action      string    `json:"action,omitempty"`
	ActorRole   string    `json:"actor_role,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func decisionMessage(action, status string) string {
	switch {
	case action == domain.ActionReject:
		return "Transaction rejected"
	case status == domain.WorkflowPendingApproval:
		return "Verified, awaiting manager approval"
	default:
		return "Transaction approved"
	}
}

func decisionResultLabel(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyDecided):
		return "already_decided"
	case errors.Is(err, ErrApproverUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrWorkflowNotFound):
		return "not_found"
	case errors.Is(err, ErrSignatureReplay):
		return "replay"
	case errors.Is(err, models.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
