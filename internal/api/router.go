package api

import (
	"net/http"

	"github.com/ayo6706/branch-transactions/internal/api/handler"
	"github.com/ayo6706/branch-transactions/internal/api/middleware"
	"github.com/ayo6706/branch-transactions/internal/api/spec"
	"github.com/ayo6706/branch-transactions/internal/confirmation"
	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/idempotency"
	"github.com/ayo6706/branch-transactions/internal/service"
	"github.com/ayo6706/branch-transactions/internal/wizard"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Limits are requests per second, except OTPPerMinute.
type Limits struct {
	PublicRPS    int
	AuthRPS      int
	OTPPerMinute int
}

// Dependencies are the services the HTTP layer fronts.
type Dependencies struct {
	Store        handler.Pinger
	Redis        redis.Cmdable
	Idempotency  *idempotency.Store
	Factory      *wizard.Factory
	Registry     *wizard.Registry
	Confirmation *confirmation.Controller
	Approvals    *service.ApprovalService
	Rates        *service.ExchangeRateService
	Accounts     *service.AccountDirectory
	Limits       Limits
	Logger       *zap.Logger
}

type Router struct {
	deps Dependencies
}

func NewRouter(deps Dependencies) *Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Limits.PublicRPS <= 0 {
		deps.Limits.PublicRPS = 20
	}
	if deps.Limits.AuthRPS <= 0 {
		deps.Limits.AuthRPS = 50
	}
	if deps.Limits.OTPPerMinute <= 0 {
		deps.Limits.OTPPerMinute = 5
	}
	return &Router{deps: deps}
}

func (api *Router) Routes() chi.Router {
	d := api.deps
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(d.Logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RecoverMiddleware(d.Logger))

	health := handler.NewHealthHandler(d.Store, d.Redis)
	wizards := handler.NewWizardHandler(d.Factory, d.Registry)
	transactions := handler.NewTransactionHandler(d.Confirmation, d.Registry)
	approvals := handler.NewApprovalHandler(d.Approvals)
	reference := handler.NewReferenceHandler(d.Rates, d.Accounts)

	idempotent := middleware.IdempotencyMiddleware(d.Idempotency, d.Logger)
	otpLimit := middleware.OTPRateLimiter(d.Limits.OTPPerMinute)

	// Public Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(d.Limits.PublicRPS))
		r.Get("/livez", health.Live)
		r.Get("/readyz", health.Ready)
		r.Handle("/metrics", promhttp.Handler())
		r.Get("/openapi.yaml", spec.OpenAPIHandler())
		r.Get("/docs", http.RedirectHandler("/docs/index.html", http.StatusMovedPermanently).ServeHTTP)
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	})

	// Protected Routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(d.Limits.AuthRPS))

		r.Route("/wizards", func(r chi.Router) {
			r.Use(middleware.RequireRole(domain.RoleCustomer, domain.RoleMaker, domain.RoleManager))
			r.With(otpLimit).Post("/", wizards.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", wizards.Get)
				r.Delete("/", wizards.Delete)
				r.Patch("/fields", wizards.SetFields)
				r.Put("/debit-account", wizards.SelectDebitAccount)
				r.Post("/credit-account/verify", wizards.VerifyCreditAccount)
				r.Post("/signatures", wizards.AddSignature)
				r.Delete("/signatures/{index}", wizards.RemoveSignature)
				r.With(otpLimit).Post("/continue", wizards.Continue)
				r.Post("/back", wizards.Back)
				r.With(otpLimit).Post("/otp/resend", wizards.ResendOTP)
				r.With(idempotent).Post("/submit", wizards.Submit)
			})
		})

		r.Route("/transactions/{type}/{id}", func(r chi.Router) {
			r.Use(middleware.RequireRole(domain.RoleCustomer, domain.RoleMaker, domain.RoleManager))
			r.Get("/", transactions.Get)
			r.With(idempotent).Post("/cancel", transactions.Cancel)
			r.Post("/update", transactions.Update)
		})

		r.Route("/approvals", func(r chi.Router) {
			r.Use(middleware.RequireRole(domain.RoleMaker, domain.RoleManager, domain.RoleAdmin))
			r.Get("/", approvals.List)
			r.Get("/{voucherId}", approvals.Get)
			r.With(middleware.RequireRole(domain.RoleMaker, domain.RoleManager), idempotent).
				Post("/{voucherId}/decision", approvals.Decide)
		})

		r.Get("/exchange-rates", reference.ExchangeRates)
		r.Get("/accounts", reference.Accounts)
		r.Get("/accounts/preferred", reference.PreferredAccount)
	})

	return r
}
