package service

import (
	"context"
	"errors"
	"strings"

	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/ayo6706/branch-transactions/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// AccountLookup resolves one account number against the backend.
type AccountLookup interface {
	LookupAccount(ctx context.Context, accountNumber string) (*models.Account, error)
}

// Resolution is the outcome of an account lookup. Found=false covers every
// failure the customer can act on: malformed number, unknown account, backend down.
type Resolution struct {
	Found       bool   `json:"found"`
	HolderName  string `json:"holder_name,omitempty"`
	AccountType string `json:"account_type,omitempty"`
	IsDiaspora  bool   `json:"is_diaspora"`
	Segment     string `json:"segment,omitempty"`
	Message     string `json:"message,omitempty"`
}

type AccountVerifier struct {
	backend AccountLookup
	logger  *zap.Logger
}

func NewAccountVerifier(backend AccountLookup, logger *zap.Logger) *AccountVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountVerifier{backend: backend, logger: logger}
}

// Resolve never returns an error for lookup failures; only an authorization
// failure propagates, because the session itself is no longer valid.
func (v *AccountVerifier) Resolve(ctx context.Context, accountNumber string) (Resolution, error) {
	accountNumber = strings.TrimSpace(accountNumber)
	if err := domain.ValidateAccountNumber(accountNumber); err != nil {
		return Resolution{Found: false, Message: err.Error()}, nil
	}

	ctx, span := observability.StartSpan(ctx, "account.resolve")
	defer span.End()

	acct, err := v.backend.LookupAccount(ctx, accountNumber)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrAuthorization):
			observability.SetSpanError(span, err)
			return Resolution{}, err
		case errors.Is(err, models.ErrNetwork):
			v.logger.Warn("account lookup unavailable", zap.Error(err))
			observability.SetSpanError(span, err, attribute.String("failure", "network"))
		case errors.Is(err, models.ErrNotFound):
			v.logger.Debug("account not found")
		default:
			v.logger.Info("account lookup rejected", zap.Error(err))
			observability.SetSpanError(span, err, attribute.String("failure", "rejected"))
		}
		return Resolution{Found: false, Message: domain.ErrAccountNotFound.Error()}, nil
	}
	if acct == nil || strings.TrimSpace(acct.HolderName) == "" {
		return Resolution{Found: false, Message: domain.ErrAccountNotFound.Error()}, nil
	}

	segment := domain.NormalizeSegment(acct.CustomerSegment)
	if acct.IsDiaspora {
		segment = domain.SegmentDiaspora
	}
	return Resolution{
		Found:       true,
		HolderName:  acct.HolderName,
		AccountType: acct.AccountType,
		IsDiaspora:  acct.IsDiaspora,
		Segment:     segment,
	}, nil
}
