package wizard

import (
	"time"

	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/ayo6706/branch-transactions/internal/otp"
)

// Display holds the amounts shown on confirm: the ETB figure that is submitted
// and the entered foreign amount when it differs.
type Display struct {
	AmountETB        string `json:"amount_etb"`
	OriginalAmount   string `json:"original_amount,omitempty"`
	OriginalCurrency string `json:"original_currency,omitempty"`
	ExchangeRate     string `json:"exchange_rate,omitempty"`
}

// View is the snapshot a client renders.
type View struct {
	ID          string                    `json:"id"`
	Type        domain.TransactionType    `json:"type"`
	Mode        Mode                      `json:"mode"`
	RecordID    string                    `json:"record_id,omitempty"`
	Step        StepID                    `json:"step"`
	Steps       []StepID                  `json:"steps"`
	Draft       *models.TransactionDraft  `json:"draft,omitempty"`
	FieldErrors domain.FieldErrors        `json:"field_errors,omitempty"`
	FocusField  domain.Field              `json:"focus_field,omitempty"`
	StepError   string                    `json:"step_error,omitempty"`
	Approval    *domain.ApprovalOutcome   `json:"approval,omitempty"`
	Display     *Display                  `json:"display,omitempty"`
	OTP         otp.View                  `json:"otp"`
	Busy        bool                      `json:"busy"`
	Submitted   bool                      `json:"submitted"`
	Result      *models.TransactionRecord `json:"result,omitempty"`
	Workflow    *models.ApprovalWorkflow  `json:"workflow,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

func (s *Sequencer) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := *s.draft
	draft.Signatures = append([]models.Signature(nil), s.draft.Signatures...)
	draft.OTPCode = ""

	v := View{
		ID:        s.id,
		Type:      draft.Type,
		Mode:      s.mode,
		RecordID:  s.recordID,
		Step:      s.flow.Current().ID,
		Steps:     s.flow.Visible(s.draft),
		Draft:     &draft,
		StepError: s.stepError,
		Approval:  s.approval,
		OTP:       s.challenge.View(),
		Busy:      s.busy,
		Submitted: s.result != nil,
		Result:    s.result,
		Workflow:  s.workflow,
		CreatedAt: s.createdAt,
		UpdatedAt: s.lastActive,
	}
	if len(s.fieldErrors) > 0 {
		v.FieldErrors = append(domain.FieldErrors(nil), s.fieldErrors...)
		v.FocusField = s.fieldErrors[0].Field
	}
	if s.result != nil {
		v.Draft = nil
	}
	if draft.Type.HasAmount() && draft.AmountETB.IsPositive() {
		d := &Display{AmountETB: draft.AmountETB.StringFixed(domain.AmountScale)}
		if draft.Currency != "" && draft.Currency != domain.BaseCurrency {
			orig := draft.OriginalMoney()
			d.OriginalAmount = orig.Amount.StringFixed(domain.AmountScale)
			d.OriginalCurrency = orig.Currency
			d.ExchangeRate = draft.ExchangeRate.String()
		}
		v.Display = d
	}
	return v
}
