package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/branch-transactions/internal/models"
	"go.uber.org/zap"
)

// AccountLister lists the accounts linked to a phone number.
type AccountLister interface {
	ListAccounts(ctx context.Context, phone string) ([]models.Account, error)
}

// PreferenceStore remembers the last debit account a phone number used.
type PreferenceStore interface {
	GetPreferredAccount(ctx context.Context, phone string) (string, bool, error)
	SetPreferredAccount(ctx context.Context, phone, accountNumber string) error
	DeletePreferredAccount(ctx context.Context, phone string) error
}

// AccountDirectory serves a customer's accounts and their preferred debit account.
type AccountDirectory struct {
	backend AccountLister
	prefs   PreferenceStore
	logger  *zap.Logger
}

func NewAccountDirectory(backend AccountLister, prefs PreferenceStore, logger *zap.Logger) *AccountDirectory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountDirectory{backend: backend, prefs: prefs, logger: logger}
}

func (d *AccountDirectory) Accounts(ctx context.Context, phone string) ([]models.Account, error) {
	accounts, err := d.backend.ListAccounts(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// Owned returns the account with number if phone owns it.
func (d *AccountDirectory) Owned(ctx context.Context, phone, number string) (*models.Account, bool, error) {
	accounts, err := d.Accounts(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	for i := range accounts {
		if accounts[i].AccountNumber == number {
			return &accounts[i], true, nil
		}
	}
	return nil, false, nil
}

// Preferred revalidates the remembered account against the current list and
// forgets it once the customer no longer owns it.
func (d *AccountDirectory) Preferred(ctx context.Context, phone string) (*models.Account, error) {
	if d.prefs == nil {
		return nil, nil
	}
	number, ok, err := d.prefs.GetPreferredAccount(ctx, phone)
	if err != nil {
		d.logger.Warn("read preferred account", zap.Error(err))
		return nil, nil
	}
	if !ok {
		return nil, nil
	}

	acct, owned, err := d.Owned(ctx, phone, number)
	if err != nil {
		return nil, err
	}
	if !owned {
		d.Invalidate(ctx, phone)
		return nil, nil
	}
	return acct, nil
}

func (d *AccountDirectory) Remember(ctx context.Context, phone, accountNumber string) {
	if d.prefs == nil {
		return
	}
	if err := d.prefs.SetPreferredAccount(ctx, phone, accountNumber); err != nil {
		d.logger.Warn("store preferred account", zap.Error(err))
	}
}

func (d *AccountDirectory) Invalidate(ctx context.Context, phone string) {
	if d.prefs == nil {
		return
	}
	if err := d.prefs.DeletePreferredAccount(ctx, phone); err != nil {
		d.logger.Warn("forget preferred account", zap.Error(err))
	}
}
