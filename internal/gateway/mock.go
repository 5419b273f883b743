package gateway

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	mrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockBackend simulates the core-banking backend in memory.
// Each issued OTP can be consumed exactly once, like the real backend.
type MockBackend struct {
	// FailureRate is the probability (0.0 to 1.0) that a call fails as unavailable.
	FailureRate float64
	// Latency is the upper bound of the random delay added to every call.
	Latency time.Duration
	// OTPGenerator returns the next code to issue. Defaults to a random 6-digit code.
	OTPGenerator func() string

	mu            sync.Mutex
	accounts      map[string]models.Account
	phoneAccounts map[string][]string
	issuedOTPs    map[string]string
	records       map[string]*models.TransactionRecord
	rates         []models.ExchangeRate
	sequence      int
	now           func() time.Time
}

// NewMockBackend returns a backend seeded with demo customers and a rate board.
func NewMockBackend() *MockBackend {
	m := &MockBackend{
		OTPGenerator:  randomOTP,
		accounts:      make(map[string]models.Account),
		phoneAccounts: make(map[string][]string),
		issuedOTPs:    make(map[string]string),
		records:       make(map[string]*models.TransactionRecord),
		now:           time.Now,
	}
	m.AddAccount("0911000001", models.Account{AccountNumber: "1234567890", HolderName: "John Doe", AccountType: domain.AccountTypeSavings, CustomerSegment: domain.SegmentRetail})
	m.AddAccount("0911000001", models.Account{AccountNumber: "1234567891234", HolderName: "John Doe Trading", AccountType: domain.AccountTypeCurrent, CustomerSegment: domain.SegmentBusiness})
	m.AddAccount("0911000002", models.Account{AccountNumber: "0987654321", HolderName: "Jane Roe", AccountType: domain.AccountTypeSavings, CustomerSegment: domain.SegmentRetail})
	m.AddAccount("0911000003", models.Account{AccountNumber: "5550001112", HolderName: "Abebe Kebede", AccountType: domain.AccountTypeSavings, IsDiaspora: true, CustomerSegment: domain.SegmentDiaspora, Currency: "USD"})
	m.SetRates([]models.ExchangeRate{
		{CurrencyCode: "USD", CashBuying: decimal.RequireFromString("56.80"), CashSelling: decimal.RequireFromString("57.94"), TransactionBuying: decimal.RequireFromString("57.25"), TransactionSelling: decimal.RequireFromString("58.40")},
		{CurrencyCode: "EUR", CashBuying: decimal.RequireFromString("61.10"), CashSelling: decimal.RequireFromString("62.32"), TransactionBuying: decimal.RequireFromString("61.60"), TransactionSelling: decimal.RequireFromString("62.83")},
		{CurrencyCode: "GBP", CashBuying: decimal.RequireFromString("71.45"), CashSelling: decimal.RequireFromString("72.88"), TransactionBuying: decimal.RequireFromString("72.05"), TransactionSelling: decimal.RequireFromString("73.49")},
	})
	return m
}

// AddAccount registers an account and links it to the owner's phone.
func (m *MockBackend) AddAccount(phone string, acct models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acct.AccountNumber] = acct
	if phone != "" {
		m.phoneAccounts[phone] = append(m.phoneAccounts[phone], acct.AccountNumber)
	}
}

func (m *MockBackend) SetRates(rates []models.ExchangeRate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates = append([]models.ExchangeRate(nil), rates...)
}

// IssuedOTP returns the outstanding code for phone, if any.
func (m *MockBackend) IssuedOTP(phone string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.issuedOTPs[phone]
	return code, ok
}

// SetRecordStatus forces a record into status, as a teller action would.
func (m *MockBackend) SetRecordStatus(t domain.TransactionType, id, status string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey(t, id)]
	if ok {
		rec.Status = status
	}
	return ok
}

func (m *MockBackend) RequestOTP(ctx context.Context, phone string) (OTPResult, error) {
	if err := m.simulate(ctx); err != nil {
		return OTPResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issuedOTPs[phone] = m.OTPGenerator()
	return OTPResult{Success: true, Message: "OTP sent to " + maskPhone(phone)}, nil
}

func (m *MockBackend) LookupAccount(ctx context.Context, accountNumber string) (*models.Account, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[accountNumber]
	if !ok {
		return nil, ErrNotFound
	}
	return &acct, nil
}

func (m *MockBackend) ListAccounts(ctx context.Context, phone string) ([]models.Account, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Account, 0, len(m.phoneAccounts[phone]))
	for _, number := range m.phoneAccounts[phone] {
		out = append(out, m.accounts[number])
	}
	return out, nil
}

func (m *MockBackend) Submit(ctx context.Context, t domain.TransactionType, p SubmitPayload) (*models.TransactionRecord, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.consumeOTP(p.PhoneNumber, p.OTPCode); err != nil {
		return nil, err
	}
	if _, ok := m.accounts[p.AccountNumber]; !ok {
		return nil, &RejectedError{Status: 422, Code: "ACCOUNT_NOT_FOUND", Message: "debit account does not exist"}
	}

	m.sequence++
	rec := recordFromPayload(t, p)
	rec.ID = uuid.NewString()
	rec.Status = domain.RecordStatusPending
	rec.TokenNumber = fmt.Sprintf("T-%04d", m.sequence)
	rec.QueueNumber = fmt.Sprintf("%d", 100+m.sequence)
	rec.CreatedAt = m.now().UTC()
	m.records[recordKey(t, rec.ID)] = rec

	out := *rec
	return &out, nil
}

func (m *MockBackend) Update(ctx context.Context, t domain.TransactionType, id string, p SubmitPayload) (*models.TransactionRecord, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.records[recordKey(t, id)]
	if !ok {
		return nil, ErrNotFound
	}
	if existing.Status != domain.RecordStatusPending {
		return nil, &RejectedError{Status: 409, Code: "NOT_PENDING", Message: "only pending requests can be updated"}
	}
	if err := m.consumeOTP(p.PhoneNumber, p.OTPCode); err != nil {
		return nil, err
	}
	updated := recordFromPayload(t, p)
	updated.ID = existing.ID
	updated.Status = existing.Status
	updated.TokenNumber = existing.TokenNumber
	updated.QueueNumber = existing.QueueNumber
	updated.CreatedAt = existing.CreatedAt
	m.records[recordKey(t, id)] = updated

	out := *updated
	return &out, nil
}

func (m *MockBackend) Cancel(ctx context.Context, t domain.TransactionType, id string) (*models.TransactionRecord, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey(t, id)]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status != domain.RecordStatusPending {
		return nil, &RejectedError{Status: 409, Code: "NOT_PENDING", Message: "only pending requests can be cancelled"}
	}
	rec.Status = domain.RecordStatusCancelled
	out := *rec
	return &out, nil
}

func (m *MockBackend) Get(ctx context.Context, t domain.TransactionType, id string) (*models.TransactionRecord, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey(t, id)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (m *MockBackend) ExchangeRates(ctx context.Context) ([]models.ExchangeRate, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ExchangeRate(nil), m.rates...), nil
}

// consumeOTP must be called with mu held.
func (m *MockBackend) consumeOTP(phone, code string) error {
	issued, ok := m.issuedOTPs[phone]
	if !ok || code == "" || issued != code {
		return fmt.Errorf("invalid or already used OTP: %w", ErrOTPRejected)
	}
	delete(m.issuedOTPs, phone)
	return nil
}

func (m *MockBackend) simulate(ctx context.Context) error {
	if m.Latency > 0 {
		delay := time.Duration(mrand.Int63n(int64(m.Latency)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("backend call canceled: %w", errors.Join(ErrUnavailable, ctx.Err()))
		}
	}
	if m.FailureRate > 0 && mrand.Float64() < m.FailureRate {
		return fmt.Errorf("simulated outage: %w", ErrUnavailable)
	}
	return nil
}

func recordFromPayload(t domain.TransactionType, p SubmitPayload) *models.TransactionRecord {
	amount, _ := decimal.NewFromString(string(p.Amount))
	original, _ := decimal.NewFromString(string(p.OriginalAmount))
	rate, _ := decimal.NewFromString(string(p.ExchangeRate))
	return &models.TransactionRecord{
		Type:                t,
		PhoneNumber:         p.PhoneNumber,
		DebitAccountNumber:  p.AccountNumber,
		AccountHolderName:   p.AccountHolderName,
		CreditAccountNumber: p.BeneficiaryAccountNumber,
		CreditHolderName:    p.BeneficiaryName,
		Amount:              amount,
		OriginalAmount:      original,
		OriginalCurrency:    p.OriginalCurrency,
		ExchangeRate:        rate,
		ChequeNumber:        p.ChequeNumber,
		StopPaymentID:       p.StopPaymentID,
		Reason:              p.Reason,
	}
}

func recordKey(t domain.TransactionType, id string) string {
	return string(t) + "|" + id
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

func randomOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return fmt.Sprintf("%06d", mrand.Intn(1_000_000))
	}
	return fmt.Sprintf("%06d", n.Int64())
}
