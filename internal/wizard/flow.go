package wizard

import "github.com/ayo6706/branch-transactions/internal/domain"

type StepID string

const (
	StepDetails    StepID = "details"
	StepSignatures StepID = "signatures"
	StepConfirm    StepID = "confirm"
	StepOTP        StepID = "otp"
)

// Step is one page of a wizard. Fields lists what the step owns, in display order.
type Step[D any] struct {
	ID       StepID
	Fields   []domain.Field
	Validate func(d D) domain.FieldErrors
	SkipIf   func(d D) bool
}

func (s Step[D]) skipped(d D) bool {
	return s.SkipIf != nil && s.SkipIf(d)
}

func (s Step[D]) Owns(field domain.Field) bool {
	for _, f := range s.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// Flow walks a declarative step table, skipping steps whose SkipIf holds for the draft.
type Flow[D any] struct {
	steps []Step[D]
	index int
}

func NewFlow[D any](steps []Step[D]) *Flow[D] {
	return &Flow[D]{steps: steps}
}

func (f *Flow[D]) Current() Step[D] {
	return f.steps[f.index]
}

// Validate runs the gate of the current step.
func (f *Flow[D]) Validate(d D) domain.FieldErrors {
	step := f.Current()
	if step.Validate == nil {
		return nil
	}
	return step.Validate(d)
}

// Next moves to the following visible step. It reports false at the last step.
func (f *Flow[D]) Next(d D) (Step[D], bool) {
	for i := f.index + 1; i < len(f.steps); i++ {
		if !f.steps[i].skipped(d) {
			f.index = i
			return f.steps[i], true
		}
	}
	return f.Current(), false
}

// Back moves to the previous visible step. It reports false at the first step.
func (f *Flow[D]) Back(d D) (Step[D], bool) {
	for i := f.index - 1; i >= 0; i-- {
		if !f.steps[i].skipped(d) {
			f.index = i
			return f.steps[i], true
		}
	}
	return f.Current(), false
}

// Jump moves directly to id regardless of skip rules.
func (f *Flow[D]) Jump(id StepID) bool {
	for i, s := range f.steps {
		if s.ID == id {
			f.index = i
			return true
		}
	}
	return false
}

// Visible lists the steps a customer will walk through for d.
func (f *Flow[D]) Visible(d D) []StepID {
	out := make([]StepID, 0, len(f.steps))
	for _, s := range f.steps {
		if !s.skipped(d) {
			out = append(out, s.ID)
		}
	}
	return out
}
