package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ayo6706/branch-transactions/internal/api"
	"github.com/ayo6706/branch-transactions/internal/api/middleware"
	"github.com/ayo6706/branch-transactions/internal/cache"
	"github.com/ayo6706/branch-transactions/internal/config"
	"github.com/ayo6706/branch-transactions/internal/confirmation"
	"github.com/ayo6706/branch-transactions/internal/db"
	"github.com/ayo6706/branch-transactions/internal/events"
	"github.com/ayo6706/branch-transactions/internal/gateway"
	"github.com/ayo6706/branch-transactions/internal/idempotency"
	"github.com/ayo6706/branch-transactions/internal/observability"
	"github.com/ayo6706/branch-transactions/internal/otp"
	"github.com/ayo6706/branch-transactions/internal/repository"
	"github.com/ayo6706/branch-transactions/internal/service"
	"github.com/ayo6706/branch-transactions/internal/wizard"
	"github.com/ayo6706/branch-transactions/internal/worker"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.TracingEnabled)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var redisCmd redis.Cmdable
	if cfg.RedisURL != "" {
		redisClient, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		redisCmd = redisClient
	}

	publisher, subscriber, err := events.Open(events.Config{
		Driver:  cfg.EventsDriver,
		Brokers: cfg.KafkaBrokers,
		Source:  cfg.ServiceName,
	}, logger)
	if err != nil {
		return fmt.Errorf("open events: %w", err)
	}
	defer publisher.Close()
	if subscriber != nil {
		if err := logWorkflowEvents(ctx, subscriber, logger); err != nil {
			return err
		}
	}

	backend := newBackend(cfg, logger)
	clock := clockwork.NewRealClock()
	kv := cache.New(redisCmd, clock)

	approvals := service.NewApprovalService(store, service.NewAuditService(store),
		service.NewSignatureBinder(cfg.SignatureBindingKey), logger,
		service.WithApprovalPolicy(cfg.ApprovalPolicy),
		service.WithApprovalEvents(publisher))
	rates := service.NewExchangeRateService(backend, kv, cfg.RateCacheTTL, logger)
	accounts := service.NewAccountDirectory(backend, kv, logger)

	factory := wizard.NewFactory(wizard.Dependencies{
		Backend:     backend,
		OTP:         otp.NewClient(backend, logger),
		Verifier:    service.NewAccountVerifier(backend, logger),
		Accounts:    accounts,
		Rates:       rates,
		Workflows:   approvals,
		Clock:       clock,
		OTPValidity: cfg.OTPValidity,
		OTPCooldown: cfg.OTPCooldown,
		Logger:      logger,
	})
	registry := wizard.NewRegistry(cfg.SessionTTL, clock)

	idemStore := idempotency.NewStore(redisCmd, store, cfg.IdempotencyTTL)

	workers := []*worker.Periodic{
		worker.NewSessionSweeper(registry, cfg.SessionSweepInterval),
		worker.NewRateRefresher(rates, cfg.RateRefreshInterval),
		worker.NewQueueGauge(approvals, cfg.QueueGaugeInterval),
		worker.NewIdempotencyPurger(idemStore, cfg.IdempotencyRetention, cfg.IdempotencyPurgeInterval),
	}
	stops := make([]func(), 0, len(workers))
	for _, w := range workers {
		stops = append(stops, w.Run(ctx))
	}

	router := api.NewRouter(api.Dependencies{
		Store:        store,
		Redis:        redisCmd,
		Idempotency:  idemStore,
		Factory:      factory,
		Registry:     registry,
		Confirmation: confirmation.NewController(backend, factory, logger),
		Approvals:    approvals,
		Rates:        rates,
		Accounts:     accounts,
		Limits: api.Limits{
			PublicRPS:    cfg.PublicRateLimitRPS,
			AuthRPS:      cfg.AuthRateLimitRPS,
			OTPPerMinute: cfg.OTPRateLimitPerMinute,
		},
		Logger: logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting",
			zap.String("port", cfg.HTTPPort),
			zap.String("storage", cfg.StorageDriver),
			zap.Bool("mock_backend", cfg.MockBackend),
			zap.String("events", cfg.EventsDriver))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
		logger.Info("context cancelled")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	for _, stop := range stops {
		stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	registry.CloseAll()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// Migrate applies the Postgres schema and exits.
func Migrate(ctx context.Context, cfg *config.Config) error {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("DATABASE_URL is required to migrate")
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return repository.Migrate(ctx, pool)
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, func(), error) {
	if cfg.StorageDriver != config.StoragePostgres {
		return repository.NewMemoryStore(), func() {}, nil
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := repository.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return repository.NewStore(pool), pool.Close, nil
}

func newBackend(cfg *config.Config, logger *zap.Logger) gateway.Backend {
	if cfg.MockBackend {
		mock := gateway.NewMockBackend()
		mock.FailureRate = cfg.MockFailureRate
		mock.Latency = 300 * time.Millisecond
		logger.Warn("using in-memory core banking backend", zap.Float64("failure_rate", cfg.MockFailureRate))
		return mock
	}
	return gateway.NewHTTPBackend(cfg.BackendURL, cfg.BackendAPIKey, cfg.BackendTimeout, logger)
}

// logWorkflowEvents tails the in-process event bus into the log.
func logWorkflowEvents(ctx context.Context, sub message.Subscriber, logger *zap.Logger) error {
	for _, topic := range []string{service.TopicWorkflowCreated, service.TopicWorkflowDecided} {
		err := events.Consume(ctx, sub, topic, func(_ context.Context, msg *message.Message) error {
			logger.Info("workflow event",
				zap.String("topic", msg.Metadata.Get(events.MetadataEventType)),
				zap.String("message_id", msg.UUID),
				zap.ByteString("payload", msg.Payload))
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
