package models

import (
	"errors"
	"fmt"

	"github.com/ayo6706/branch-transactions/internal/domain"
)

// Error kinds. Every error surfaced by the workflow wraps exactly one of these.
var (
	ErrValidation         = errors.New("validation error")
	ErrVerificationFailed = errors.New("verification failed")
	ErrNetwork            = errors.New("network error")
	ErrAuthorization      = errors.New("authorization error")
	ErrWorkflowState      = errors.New("workflow state error")
	ErrNotFound           = errors.New("not found")
)

// ValidationError carries ordered field errors from a step gate.
type ValidationError struct {
	Fields domain.FieldErrors
}

func NewValidationError(fields domain.FieldErrors) *ValidationError {
	return &ValidationError{Fields: fields}
}

// FieldValidationError is a shortcut for a single invalid field.
func FieldValidationError(field domain.Field, err error) *ValidationError {
	return &ValidationError{Fields: domain.FieldErrors{{Field: field, Message: err.Error()}}}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Fields.Error())
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// FirstField returns the field a client should focus.
func (e *ValidationError) FirstField() domain.Field {
	first, _ := e.Fields.First()
	return first.Field
}

// Kind returns the taxonomy sentinel that err wraps, or nil.
func Kind(err error) error {
	for _, kind := range []error{ErrValidation, ErrVerificationFailed, ErrNetwork, ErrAuthorization, ErrWorkflowState, ErrNotFound} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
