package otp

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/gateway"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/ayo6706/branch-transactions/internal/observability"
	"go.uber.org/zap"
)

var (
	ErrRequestRejected = fmt.Errorf("otp request rejected: %w", models.ErrVerificationFailed)
	ErrCooldownActive  = fmt.Errorf("otp resend is cooling down: %w", models.ErrValidation)
	ErrNotRequested    = fmt.Errorf("no otp has been requested: %w", models.ErrWorkflowState)
	ErrExpired         = fmt.Errorf("otp has expired, request a new one: %w", models.ErrVerificationFailed)
)

// Sender is the backend call that issues a code.
type Sender interface {
	RequestOTP(ctx context.Context, phone string) (gateway.OTPResult, error)
}

type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Client requests one-time passcodes bound to a phone number.
type Client struct {
	sender Sender
	logger *zap.Logger
}

func NewClient(sender Sender, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{sender: sender, logger: logger}
}

// Request issues a code. Failures are step-local and can be retried.
func (c *Client) Request(ctx context.Context, phone string) (Result, error) {
	return c.send(ctx, phone, "request")
}

func (c *Client) send(ctx context.Context, phone, kind string) (Result, error) {
	if err := domain.ValidatePhone(phone); err != nil {
		observability.IncrementOTPRequest(kind, "invalid_phone")
		return Result{}, models.FieldValidationError(domain.FieldPhone, err)
	}

	res, err := c.sender.RequestOTP(ctx, phone)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNetwork):
			observability.IncrementOTPRequest(kind, "network_error")
			c.logger.Warn("otp request failed", zap.String("kind", kind), zap.Error(err))
			return Result{}, fmt.Errorf("request otp: %w", err)
		case errors.Is(err, models.ErrAuthorization):
			observability.IncrementOTPRequest(kind, "unauthorized")
			return Result{}, fmt.Errorf("request otp: %w", err)
		default:
			observability.IncrementOTPRequest(kind, "rejected")
			msg := gateway.RejectionMessage(err)
			if msg == "" {
				msg = err.Error()
			}
			return Result{Message: msg}, fmt.Errorf("%s: %w", msg, ErrRequestRejected)
		}
	}
	if !res.Success {
		observability.IncrementOTPRequest(kind, "rejected")
		return Result{Message: res.Message}, fmt.Errorf("%s: %w", res.Message, ErrRequestRejected)
	}

	observability.IncrementOTPRequest(kind, "success")
	return Result{Success: true, Message: res.Message}, nil
}
