package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/ayo6706/branch-transactions/internal/observability"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

var otpRejectionCodes = map[string]struct{}{
	"OTP_INVALID": {},
	"OTP_USED":    {},
	"OTP_EXPIRED": {},
}

// HTTPBackend talks to the core-banking REST API.
type HTTPBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

func NewHTTPBackend(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *HTTPBackend {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// flexString accepts either a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

type accountWire struct {
	AccountNumber     flexString `json:"accountNumber"`
	AccountHolderName string     `json:"accountHolderName"`
	Name              string     `json:"name"`
	AccountType       string     `json:"accountType"`
	IsDiaspora        bool       `json:"isDiaspora"`
	CustomerSegment   string     `json:"customerSegment"`
	Currency          string     `json:"currency"`
}

func (a accountWire) toModel(fallbackNumber string) models.Account {
	holder := a.AccountHolderName
	if holder == "" {
		holder = a.Name
	}
	number := string(a.AccountNumber)
	if number == "" {
		number = fallbackNumber
	}
	return models.Account{
		AccountNumber:   number,
		HolderName:      holder,
		AccountType:     a.AccountType,
		IsDiaspora:      a.IsDiaspora,
		CustomerSegment: a.CustomerSegment,
		Currency:        a.Currency,
	}
}

type recordWire struct {
	ID                       flexString      `json:"id"`
	Status                   string          `json:"status"`
	PhoneNumber              string          `json:"phoneNumber"`
	AccountNumber            flexString      `json:"accountNumber"`
	AccountHolderName        string          `json:"accountHolderName"`
	AccountType              string          `json:"accountType"`
	BeneficiaryAccountNumber flexString      `json:"beneficiaryAccountNumber"`
	BeneficiaryName          string          `json:"beneficiaryName"`
	Amount                   decimal.Decimal `json:"amount"`
	OriginalAmount           decimal.Decimal `json:"originalAmount"`
	OriginalCurrency         string          `json:"originalCurrency"`
	ExchangeRate             decimal.Decimal `json:"exchangeRate"`
	ChequeNumber             flexString      `json:"chequeNumber"`
	StopPaymentID            flexString      `json:"stopPaymentId"`
	Reason                   string          `json:"reason"`
	TokenNumber              flexString      `json:"tokenNumber"`
	QueueNumber              flexString      `json:"queueNumber"`
	CreatedAt                time.Time       `json:"createdAt"`
}

func (w recordWire) toModel(t domain.TransactionType) *models.TransactionRecord {
	return &models.TransactionRecord{
		ID:                  string(w.ID),
		Type:                t,
		Status:              w.Status,
		PhoneNumber:         w.PhoneNumber,
		DebitAccountNumber:  string(w.AccountNumber),
		AccountHolderName:   w.AccountHolderName,
		AccountType:         w.AccountType,
		CreditAccountNumber: string(w.BeneficiaryAccountNumber),
		CreditHolderName:    w.BeneficiaryName,
		Amount:              w.Amount,
		OriginalAmount:      w.OriginalAmount,
		OriginalCurrency:    w.OriginalCurrency,
		ExchangeRate:        w.ExchangeRate,
		ChequeNumber:        string(w.ChequeNumber),
		StopPaymentID:       string(w.StopPaymentID),
		Reason:              w.Reason,
		TokenNumber:         string(w.TokenNumber),
		QueueNumber:         string(w.QueueNumber),
		CreatedAt:           w.CreatedAt,
	}
}

type rateWire struct {
	CurrencyCode       string          `json:"currencyCode"`
	CashBuying         decimal.Decimal `json:"cashBuying"`
	CashSelling        decimal.Decimal `json:"cashSelling"`
	TransactionBuying  decimal.Decimal `json:"transactionBuying"`
	TransactionSelling decimal.Decimal `json:"transactionSelling"`
}

func (b *HTTPBackend) RequestOTP(ctx context.Context, phone string) (OTPResult, error) {
	env, err := b.do(ctx, http.MethodPost, "/auth/request-otp", "/auth/request-otp", map[string]string{"phoneNumber": phone})
	if err != nil {
		return OTPResult{}, err
	}
	return OTPResult{Success: env.Success, Message: env.Message}, nil
}

func (b *HTTPBackend) LookupAccount(ctx context.Context, accountNumber string) (*models.Account, error) {
	env, err := b.do(ctx, http.MethodGet, "/Accounts/AccountNumExist/{accountNumber}", "/Accounts/AccountNumExist/"+url.PathEscape(accountNumber), nil)
	if err != nil {
		return nil, err
	}
	var wire accountWire
	if err := json.Unmarshal(env.Data, &wire); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	acct := wire.toModel(accountNumber)
	if acct.HolderName == "" {
		return nil, ErrNotFound
	}
	return &acct, nil
}

func (b *HTTPBackend) ListAccounts(ctx context.Context, phone string) ([]models.Account, error) {
	env, err := b.do(ctx, http.MethodGet, "/Accounts/phone/{phone}", "/Accounts/phone/"+url.PathEscape(phone), nil)
	if err != nil {
		return nil, err
	}
	var wire []accountWire
	if err := json.Unmarshal(env.Data, &wire); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	out := make([]models.Account, 0, len(wire))
	for _, a := range wire {
		out = append(out, a.toModel(""))
	}
	return out, nil
}

func (b *HTTPBackend) Submit(ctx context.Context, t domain.TransactionType, payload SubmitPayload) (*models.TransactionRecord, error) {
	return b.record(ctx, t, http.MethodPost, "/"+t.Resource()+"/submit", "/"+t.Resource()+"/submit", payload)
}

func (b *HTTPBackend) Update(ctx context.Context, t domain.TransactionType, id string, payload SubmitPayload) (*models.TransactionRecord, error) {
	return b.record(ctx, t, http.MethodPut, "/"+t.Resource()+"/{id}", "/"+t.Resource()+"/"+url.PathEscape(id), payload)
}

func (b *HTTPBackend) Cancel(ctx context.Context, t domain.TransactionType, id string) (*models.TransactionRecord, error) {
	return b.record(ctx, t, http.MethodPut, "/"+t.Resource()+"/cancel-by-customer/{id}", "/"+t.Resource()+"/cancel-by-customer/"+url.PathEscape(id), nil)
}

func (b *HTTPBackend) Get(ctx context.Context, t domain.TransactionType, id string) (*models.TransactionRecord, error) {
	return b.record(ctx, t, http.MethodGet, "/"+t.Resource()+"/{id}", "/"+t.Resource()+"/"+url.PathEscape(id), nil)
}

func (b *HTTPBackend) ExchangeRates(ctx context.Context) ([]models.ExchangeRate, error) {
	env, err := b.do(ctx, http.MethodGet, "/exchangeRate", "/exchangeRate", nil)
	if err != nil {
		return nil, err
	}
	var wire []rateWire
	if err := json.Unmarshal(env.Data, &wire); err != nil {
		return nil, fmt.Errorf("decode exchange rates: %w", err)
	}
	out := make([]models.ExchangeRate, 0, len(wire))
	for _, r := range wire {
		out = append(out, models.ExchangeRate{
			CurrencyCode:       strings.ToUpper(r.CurrencyCode),
			CashBuying:         r.CashBuying,
			CashSelling:        r.CashSelling,
			TransactionBuying:  r.TransactionBuying,
			TransactionSelling: r.TransactionSelling,
		})
	}
	return out, nil
}

func (b *HTTPBackend) record(ctx context.Context, t domain.TransactionType, method, route, path string, body any) (*models.TransactionRecord, error) {
	env, err := b.do(ctx, method, route, path, body)
	if err != nil {
		return nil, err
	}
	var wire recordWire
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &wire); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", t.Resource(), err)
		}
	}
	return wire.toModel(t), nil
}

// do performs one call and classifies the outcome into the error taxonomy.
// route is the path template used for span names and metric labels.
func (b *HTTPBackend) do(ctx context.Context, method, route, path string, body any) (*envelope, error) {
	ctx, span := observability.StartSpan(ctx, "backend "+method+" "+route,
		attribute.String(observability.AttrBackendPath, route))
	defer span.End()
	start := time.Now()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.apiKey != "" {
		req.Header.Set("X-Api-Key", b.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := b.client.Do(req)
	if err != nil {
		observability.ObserveBackendCall(method, route, "network_error", time.Since(start))
		observability.SetSpanError(span, err)
		b.logger.Warn("backend call failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%s %s: %w", method, path, errors.Join(ErrUnavailable, err))
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int(observability.AttrHTTPStatus, resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		observability.ObserveBackendCall(method, route, "read_error", time.Since(start))
		observability.SetSpanError(span, err)
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, errors.Join(ErrUnavailable, err))
	}

	env := decodeEnvelope(raw)
	if classified := classify(resp.StatusCode, env); classified != nil {
		observability.ObserveBackendCall(method, route, outcomeLabel(classified), time.Since(start))
		observability.SetSpanError(span, classified)
		return nil, fmt.Errorf("%s %s: %w", method, path, classified)
	}
	observability.ObserveBackendCall(method, route, "success", time.Since(start))
	return env, nil
}

// decodeEnvelope tolerates bare JSON arrays and bodies that are not envelopes.
func decodeEnvelope(raw []byte) *envelope {
	trimmed := bytes.TrimSpace(raw)
	env := &envelope{}
	if len(trimmed) == 0 {
		return env
	}
	if trimmed[0] == '[' {
		env.Success = true
		env.Data = json.RawMessage(trimmed)
		return env
	}
	if err := json.Unmarshal(trimmed, env); err != nil {
		env.Message = string(trimmed)
	}
	return env
}

func classify(status int, env *envelope) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= 500:
		return fmt.Errorf("status %d: %w", status, ErrUnavailable)
	case status >= 400 || !env.Success:
		if isOTPRejection(env) {
			return fmt.Errorf("%s: %w", env.Message, ErrOTPRejected)
		}
		if status < 400 {
			status = http.StatusUnprocessableEntity
		}
		return &RejectedError{Status: status, Code: env.Code, Message: env.Message}
	}
	return nil
}

func isOTPRejection(env *envelope) bool {
	if _, ok := otpRejectionCodes[strings.ToUpper(env.Code)]; ok {
		return true
	}
	return strings.Contains(strings.ToLower(env.Message), "otp")
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrOTPRejected):
		return "otp_rejected"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "rejected"
	}
}
