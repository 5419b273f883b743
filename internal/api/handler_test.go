package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/ayo6706/branch-transactions/internal/api"
	"github.com/ayo6706/branch-transactions/internal/api/middleware"
	"github.com/ayo6706/branch-transactions/internal/cache"
	"github.com/ayo6706/branch-transactions/internal/confirmation"
	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/gateway"
	"github.com/ayo6706/branch-transactions/internal/idempotency"
	"github.com/ayo6706/branch-transactions/internal/otp"
	"github.com/ayo6706/branch-transactions/internal/repository"
	"github.com/ayo6706/branch-transactions/internal/service"
	"github.com/ayo6706/branch-transactions/internal/wizard"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "branch-transactions-test"
	testJWTAudience = "branch-api-test"

	customerPhone = "0911000001"
	testSignature = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR4nGNgYGD4DwABBAEAwS2OUAAAAABJRU5ErkJggg=="
)

func TestMain(m *testing.M) {
	middleware.SetJWTSecret(testJWTSecret)
	middleware.SetJWTValidation(testJWTIssuer, testJWTAudience)
	os.Exit(m.Run())
}

type testAPI struct {
	router   chi.Router
	backend  *gateway.MockBackend
	registry *wizard.Registry
	store    *repository.MemoryStore
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := zap.NewNop()
	clock := clockwork.NewRealClock()
	backend := gateway.NewMockBackend()
	backend.OTPGenerator = func() string { return "123456" }
	store := repository.NewMemoryStore()
	kv := cache.New(nil, clock)

	approvals := service.NewApprovalService(store, service.NewAuditService(store),
		service.NewSignatureBinder("test-binding-key"), logger)
	rates := service.NewExchangeRateService(backend, kv, time.Minute, logger)
	accounts := service.NewAccountDirectory(backend, kv, logger)
	factory := wizard.NewFactory(wizard.Dependencies{
		Backend:   backend,
		OTP:       otp.NewClient(backend, logger),
		Verifier:  service.NewAccountVerifier(backend, logger),
		Accounts:  accounts,
		Rates:     rates,
		Workflows: approvals,
		Clock:     clock,
		Logger:    logger,
	})
	registry := wizard.NewRegistry(15*time.Minute, clock)
	t.Cleanup(registry.CloseAll)

	router := api.NewRouter(api.Dependencies{
		Store:        store,
		Idempotency:  idempotency.NewStore(nil, store, time.Hour),
		Factory:      factory,
		Registry:     registry,
		Confirmation: confirmation.NewController(backend, factory, logger),
		Approvals:    approvals,
		Rates:        rates,
		Accounts:     accounts,
		Limits:       api.Limits{PublicRPS: 1000, AuthRPS: 1000, OTPPerMinute: 1000},
		Logger:       logger,
	})
	return &testAPI{router: router.Routes(), backend: backend, registry: registry, store: store}
}

func generateToken(userID, role, phone string) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"iss":     testJWTIssuer,
		"aud":     testJWTAudience,
		"sub":     userID,
		"iat":     now.Unix(),
		"nbf":     now.Add(-30 * time.Second).Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	}
	if phone != "" {
		claims["phone"] = phone
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		panic(err)
	}
	return signed
}

type request struct {
	method string
	path   string
	token  string
	body   any
	key    string
}

func (a *testAPI) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if req.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(req.body))
	}
	r := httptest.NewRequest(req.method, req.path, &body)
	r.Header.Set("Content-Type", "application/json")
	if req.token != "" {
		r.Header.Set("Authorization", "Bearer "+req.token)
	}
	if req.key != "" {
		r.Header.Set("Idempotency-Key", req.key)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type problemBody struct {
	Type      string `json:"type"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Retryable bool   `json:"retryable"`
	Errors    []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"errors"`
	Redirect *confirmation.Redirect `json:"redirect"`
	Current  json.RawMessage        `json:"current"`
}

// openWithdrawal walks a customer withdrawal of amount ETB to the OTP step.
func (a *testAPI) openWithdrawal(t *testing.T, token, amount string) wizard.View {
	t.Helper()
	w := a.do(t, request{method: http.MethodPost, path: "/v1/wizards", token: token, body: map[string]string{"type": "withdrawal"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	view := decode[wizard.View](t, w)
	assert.Equal(t, customerPhone, view.Draft.PhoneNumber)
	base := "/v1/wizards/" + view.ID

	w = a.do(t, request{method: http.MethodPut, path: base + "/debit-account", token: token, body: map[string]string{"account_number": "1234567890"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(t, request{method: http.MethodPatch, path: base + "/fields", token: token, body: map[string]any{
		"fields": []map[string]string{{"field": string(domain.FieldAmount), "value": amount}},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(t, request{method: http.MethodPost, path: base + "/continue", token: token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, wizard.StepConfirm, decode[wizard.View](t, w).Step)

	w = a.do(t, request{method: http.MethodPost, path: base + "/continue", token: token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view = decode[wizard.View](t, w)
	require.Equal(t, wizard.StepOTP, view.Step)
	return view
}

func TestHealthEndpoints(t *testing.T) {
	a := setupAPI(t)

	w := a.do(t, request{method: http.MethodGet, path: "/livez"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, request{method: http.MethodGet, path: "/readyz"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ready")

	w = a.do(t, request{method: http.MethodGet, path: "/openapi.yaml"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "openapi:")
}

func TestAuthAndRoles(t *testing.T) {
	a := setupAPI(t)

	w := a.do(t, request{method: http.MethodGet, path: "/v1/exchange-rates"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	customer := generateToken("cust-1", domain.RoleCustomer, customerPhone)
	w = a.do(t, request{method: http.MethodGet, path: "/v1/approvals", token: customer})
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := generateToken("admin-1", domain.RoleAdmin, "")
	w = a.do(t, request{method: http.MethodPost, path: "/v1/approvals/V-1/decision", token: admin, key: "k1",
		body: map[string]string{"action": "approve", "digital_signature": testSignature}})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWithdrawalSubmitAndCancel(t *testing.T) {
	a := setupAPI(t)
	token := generateToken("cust-1", domain.RoleCustomer, customerPhone)
	view := a.openWithdrawal(t, token, "500")
	base := "/v1/wizards/" + view.ID

	t.Run("submit needs an idempotency key", func(t *testing.T) {
		w := a.do(t, request{method: http.MethodPost, path: base + "/submit", token: token, body: map[string]string{"otp_code": "123456"}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	w := a.do(t, request{method: http.MethodPost, path: base + "/submit", token: token, key: "submit-1", body: map[string]string{"otp_code": "123456"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	submitted := decode[wizard.View](t, w)
	require.True(t, submitted.Submitted)
	require.NotNil(t, submitted.Result)
	recordID := submitted.Result.ID
	assert.NotEmpty(t, recordID)

	t.Run("replay returns the stored response", func(t *testing.T) {
		w := a.do(t, request{method: http.MethodPost, path: base + "/submit", token: token, key: "submit-1", body: map[string]string{"otp_code": "123456"}})
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-Idempotent-Replay"))
		assert.Equal(t, recordID, decode[wizard.View](t, w).Result.ID)
	})

	txPath := "/v1/transactions/withdrawal/" + recordID

	t.Run("confirmation renders the carried record", func(t *testing.T) {
		w := a.do(t, request{method: http.MethodGet, path: txPath + "?session=" + view.ID, token: token})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		got := decode[confirmation.View](t, w)
		assert.True(t, got.CanCancel)
		assert.Equal(t, "500.00", got.Display.AmountETB)
	})

	t.Run("cancel must be confirmed", func(t *testing.T) {
		w := a.do(t, request{method: http.MethodPost, path: txPath + "/cancel", token: token, key: "cancel-0", body: map[string]bool{"confirmed": false}})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	w = a.do(t, request{method: http.MethodPost, path: txPath + "/cancel", token: token, key: "cancel-1", body: map[string]bool{"confirmed": true}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[confirmation.CancelResult](t, w)
	assert.Equal(t, domain.RecordStatusCancelled, res.View.Record.Status)
	assert.Equal(t, "/forms/withdrawal", res.Redirect.Path)
	assert.Equal(t, "true", res.Redirect.Query["success"])

	t.Run("second cancel sees the server status", func(t *testing.T) {
		w := a.do(t, request{method: http.MethodPost, path: txPath + "/cancel", token: token, key: "cancel-2", body: map[string]bool{"confirmed": true}})
		require.Equal(t, http.StatusConflict, w.Code)
		p := decode[problemBody](t, w)
		var current confirmation.View
		require.NoError(t, json.Unmarshal(p.Current, &current))
		assert.False(t, current.CanCancel)
		assert.NotEmpty(t, current.CancelDisabledReason)
	})
}

func TestWizard_ErrorsCarryFieldsAndState(t *testing.T) {
	a := setupAPI(t)
	token := generateToken("cust-1", domain.RoleCustomer, customerPhone)

	w := a.do(t, request{method: http.MethodPost, path: "/v1/wizards", token: token, body: map[string]string{"type": "fund-transfer"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode[wizard.View](t, w).ID

	t.Run("details gate lists fields in form order", func(t *testing.T) {
		w := a.do(t, request{method: http.MethodPost, path: "/v1/wizards/" + id + "/continue", token: token})
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		p := decode[problemBody](t, w)
		require.NotEmpty(t, p.Errors)
		assert.Equal(t, string(domain.FieldDebitAccount), p.Errors[0].Field)
		assert.NotEmpty(t, p.Current)
	})

	t.Run("inline errors do not fail the patch", func(t *testing.T) {
		w := a.do(t, request{method: http.MethodPatch, path: "/v1/wizards/" + id + "/fields", token: token, body: map[string]any{
			"fields": []map[string]string{{"field": string(domain.FieldAmount), "value": "-5"}},
		}})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), "inline_errors")
	})

	t.Run("wizard is private to its owner", func(t *testing.T) {
		other := generateToken("cust-2", domain.RoleCustomer, "0911000002")
		w := a.do(t, request{method: http.MethodGet, path: "/v1/wizards/" + id, token: other})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown type", func(t *testing.T) {
		w := a.do(t, request{method: http.MethodPost, path: "/v1/wizards", token: token, body: map[string]string{"type": "loan"}})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("customer phone comes from the token", func(t *testing.T) {
		w := a.do(t, request{method: http.MethodPatch, path: "/v1/wizards/" + id + "/fields", token: token, body: map[string]any{
			"fields": []map[string]string{{"field": string(domain.FieldPhone), "value": "0911000002"}},
		}})
		require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
		p := decode[problemBody](t, w)
		require.NotEmpty(t, p.Errors)
		assert.Equal(t, string(domain.FieldPhone), p.Errors[0].Field)

		w = a.do(t, request{method: http.MethodGet, path: "/v1/wizards/" + id, token: token})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, customerPhone, decode[wizard.View](t, w).Draft.PhoneNumber)
	})

	t.Run("delete closes the session", func(t *testing.T) {
		w := a.do(t, request{method: http.MethodDelete, path: "/v1/wizards/" + id, token: token})
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Zero(t, a.registry.Len())
	})
}

func TestBackendOutageIsRetryable(t *testing.T) {
	a := setupAPI(t)
	a.backend.FailureRate = 1
	token := generateToken("cust-1", domain.RoleCustomer, customerPhone)

	w := a.do(t, request{method: http.MethodGet, path: "/v1/exchange-rates", token: token})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.True(t, decode[problemBody](t, w).Retryable)
}

func TestAccounts_PhoneScope(t *testing.T) {
	a := setupAPI(t)
	customer := generateToken("cust-1", domain.RoleCustomer, customerPhone)

	w := a.do(t, request{method: http.MethodGet, path: "/v1/accounts", token: customer})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "1234567890")

	w = a.do(t, request{method: http.MethodGet, path: "/v1/accounts?phone=0911000002", token: customer})
	assert.Equal(t, http.StatusForbidden, w.Code)

	teller := generateToken("teller-1", domain.RoleMaker, "")
	w = a.do(t, request{method: http.MethodGet, path: "/v1/accounts", token: teller})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = a.do(t, request{method: http.MethodGet, path: "/v1/accounts?phone=0911000002", token: teller})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "0987654321")

	w = a.do(t, request{method: http.MethodGet, path: "/v1/accounts/preferred", token: customer})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"account":null}`, w.Body.String())
}

func TestApprovals_QueueAndDecision(t *testing.T) {
	a := setupAPI(t)
	customer := generateToken("cust-1", domain.RoleCustomer, customerPhone)
	view := a.openWithdrawal(t, customer, "150000")
	w := a.do(t, request{method: http.MethodPost, path: "/v1/wizards/" + view.ID + "/submit", token: customer, key: "big-1", body: map[string]string{"otp_code": "123456"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	submitted := decode[wizard.View](t, w)
	require.NotNil(t, submitted.Workflow)
	assert.Equal(t, domain.WorkflowPendingApproval, submitted.Workflow.Status)
	voucherID := submitted.Workflow.VoucherID

	manager := generateToken("mgr-1", domain.RoleManager, "")
	maker := generateToken("mkr-1", domain.RoleMaker, "")
	admin := generateToken("admin-1", domain.RoleAdmin, "")

	type queue struct {
		Role  string `json:"role"`
		Items []struct {
			VoucherID string `json:"voucher_id"`
		} `json:"items"`
	}

	w = a.do(t, request{method: http.MethodGet, path: "/v1/approvals", token: manager})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	q := decode[queue](t, w)
	require.Len(t, q.Items, 1)
	assert.Equal(t, voucherID, q.Items[0].VoucherID)

	w = a.do(t, request{method: http.MethodGet, path: "/v1/approvals?role=manager", token: maker})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, request{method: http.MethodGet, path: "/v1/approvals?role=maker", token: admin})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[queue](t, w).Items)

	decision := "/v1/approvals/" + voucherID + "/decision"
	w = a.do(t, request{method: http.MethodPost, path: decision, token: manager, key: "d-0",
		body: map[string]string{"action": "reject", "digital_signature": testSignature}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = a.do(t, request{method: http.MethodPost, path: decision, token: maker, key: "d-1",
		body: map[string]string{"action": "approve", "digital_signature": testSignature}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, request{method: http.MethodPost, path: decision, token: manager, key: "d-2",
		body: map[string]string{"action": "approve", "digital_signature": testSignature}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), domain.WorkflowApproved)

	w = a.do(t, request{method: http.MethodPost, path: decision, token: manager, key: "d-3",
		body: map[string]string{"action": "approve", "digital_signature": testSignature}})
	assert.Equal(t, http.StatusConflict, w.Code)
}
