package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/branch-transactions/internal/service"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config holds all runtime configuration derived from environment variables.
type Config struct {
	HTTPPort    string
	LogLevel    string
	ServiceName string

	StorageDriver string
	DatabaseURL   string
	DBMaxConns    int32
	RedisURL      string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	BackendURL      string
	BackendAPIKey   string
	BackendTimeout  time.Duration
	MockBackend     bool
	MockFailureRate float64

	SessionTTL           time.Duration
	SessionSweepInterval time.Duration
	OTPValidity          time.Duration
	OTPCooldown          time.Duration
	RateCacheTTL         time.Duration
	RateRefreshInterval  time.Duration
	QueueGaugeInterval   time.Duration

	ApprovalPolicy      service.ApprovalPolicy
	SignatureBindingKey string

	EventsDriver   string
	KafkaBrokers   []string
	TracingEnabled bool

	IdempotencyTTL           time.Duration
	IdempotencyRetention     time.Duration
	IdempotencyPurgeInterval time.Duration

	PublicRateLimitRPS    int
	AuthRateLimitRPS      int
	OTPRateLimitPerMinute int
}

var durationKeys = map[string]string{
	"backend_timeout":            "BACKEND_TIMEOUT",
	"session_ttl":                "SESSION_TTL",
	"session_sweep_interval":     "SESSION_SWEEP_INTERVAL",
	"otp_validity":               "OTP_VALIDITY",
	"otp_cooldown":               "OTP_COOLDOWN",
	"rate_cache_ttl":             "RATE_CACHE_TTL",
	"rate_refresh_interval":      "RATE_REFRESH_INTERVAL",
	"queue_gauge_interval":       "QUEUE_GAUGE_INTERVAL",
	"idempotency_ttl":            "IDEMPOTENCY_TTL",
	"idempotency_retention":      "IDEMPOTENCY_RETENTION",
	"idempotency_purge_interval": "IDEMPOTENCY_PURGE_INTERVAL",
}

// Load reads environment variables using viper and returns a typed config.
// Every key is also accepted with a TELLER_ prefix.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	bindEnv(v, "port", "PORT", "HTTP_PORT")
	bindEnv(v, "log_level", "LOG_LEVEL")
	bindEnv(v, "service_name", "SERVICE_NAME", "OTEL_SERVICE_NAME")
	bindEnv(v, "storage_driver", "STORAGE_DRIVER")
	bindEnv(v, "database_url", "DATABASE_URL")
	bindEnv(v, "db_max_conns", "DB_MAX_CONNS")
	bindEnv(v, "redis_url", "REDIS_URL")
	bindEnv(v, "jwt_secret", "JWT_SECRET")
	bindEnv(v, "jwt_issuer", "JWT_ISSUER")
	bindEnv(v, "jwt_audience", "JWT_AUDIENCE")
	bindEnv(v, "backend_url", "BACKEND_URL")
	bindEnv(v, "backend_api_key", "BACKEND_API_KEY")
	bindEnv(v, "mock_backend", "MOCK_BACKEND")
	bindEnv(v, "mock_failure_rate", "MOCK_FAILURE_RATE")
	bindEnv(v, "approval_workflow_policy", "APPROVAL_WORKFLOW_POLICY")
	bindEnv(v, "signature_binding_key", "SIGNATURE_BINDING_KEY")
	bindEnv(v, "events_driver", "EVENTS_DRIVER")
	bindEnv(v, "kafka_brokers", "KAFKA_BROKERS")
	bindEnv(v, "tracing_enabled", "TRACING_ENABLED")
	bindEnv(v, "public_rate_limit_rps", "PUBLIC_RATE_LIMIT_RPS")
	bindEnv(v, "auth_rate_limit_rps", "AUTH_RATE_LIMIT_RPS")
	bindEnv(v, "otp_rate_limit_per_minute", "OTP_RATE_LIMIT_PER_MINUTE")
	for key, name := range durationKeys {
		bindEnv(v, key, name)
	}

	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("service_name", "branch-transactions")
	v.SetDefault("storage_driver", StorageMemory)
	v.SetDefault("database_url", "")
	v.SetDefault("db_max_conns", 10)
	v.SetDefault("redis_url", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_issuer", "branch-identity")
	v.SetDefault("jwt_audience", "branch-transactions")
	v.SetDefault("mock_backend", false)
	v.SetDefault("mock_failure_rate", 0.0)
	v.SetDefault("approval_workflow_policy", string(service.PolicyAlways))
	v.SetDefault("events_driver", "none")
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("public_rate_limit_rps", 10)
	v.SetDefault("auth_rate_limit_rps", 100)
	v.SetDefault("otp_rate_limit_per_minute", 5)
	v.SetDefault("backend_timeout", "15s")
	v.SetDefault("session_ttl", "15m")
	v.SetDefault("session_sweep_interval", "1m")
	v.SetDefault("otp_validity", "5m")
	v.SetDefault("otp_cooldown", "30s")
	v.SetDefault("rate_cache_ttl", "5m")
	v.SetDefault("rate_refresh_interval", "5m")
	v.SetDefault("queue_gauge_interval", "30s")
	v.SetDefault("idempotency_ttl", "24h")
	v.SetDefault("idempotency_retention", "72h")
	v.SetDefault("idempotency_purge_interval", "1h")

	durations := make(map[string]time.Duration, len(durationKeys))
	var errs []error
	for key, name := range durationKeys {
		d, err := time.ParseDuration(v.GetString(key))
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
		case d <= 0:
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
		durations[key] = d
	}

	policy, err := service.ParseApprovalPolicy(v.GetString("approval_workflow_policy"))
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid APPROVAL_WORKFLOW_POLICY: %w", err))
	}

	cfg := &Config{
		HTTPPort:                 v.GetString("port"),
		LogLevel:                 v.GetString("log_level"),
		ServiceName:              v.GetString("service_name"),
		StorageDriver:            strings.ToLower(strings.TrimSpace(v.GetString("storage_driver"))),
		DatabaseURL:              v.GetString("database_url"),
		DBMaxConns:               int32(max(v.GetInt("db_max_conns"), 2)),
		RedisURL:                 strings.TrimSpace(v.GetString("redis_url")),
		JWTSecret:                v.GetString("jwt_secret"),
		JWTIssuer:                v.GetString("jwt_issuer"),
		JWTAudience:              v.GetString("jwt_audience"),
		BackendURL:               strings.TrimSpace(v.GetString("backend_url")),
		BackendAPIKey:            v.GetString("backend_api_key"),
		BackendTimeout:           durations["backend_timeout"],
		MockBackend:              v.GetBool("mock_backend"),
		MockFailureRate:          v.GetFloat64("mock_failure_rate"),
		SessionTTL:               durations["session_ttl"],
		SessionSweepInterval:     durations["session_sweep_interval"],
		OTPValidity:              durations["otp_validity"],
		OTPCooldown:              durations["otp_cooldown"],
		RateCacheTTL:             durations["rate_cache_ttl"],
		RateRefreshInterval:      durations["rate_refresh_interval"],
		QueueGaugeInterval:       durations["queue_gauge_interval"],
		ApprovalPolicy:           policy,
		SignatureBindingKey:      v.GetString("signature_binding_key"),
		EventsDriver:             strings.ToLower(strings.TrimSpace(v.GetString("events_driver"))),
		KafkaBrokers:             splitList(v.GetString("kafka_brokers")),
		TracingEnabled:           v.GetBool("tracing_enabled"),
		IdempotencyTTL:           durations["idempotency_ttl"],
		IdempotencyRetention:     durations["idempotency_retention"],
		IdempotencyPurgeInterval: durations["idempotency_purge_interval"],
		PublicRateLimitRPS:       max(v.GetInt("public_rate_limit_rps"), 1),
		AuthRateLimitRPS:         max(v.GetInt("auth_rate_limit_rps"), 1),
		OTPRateLimitPerMinute:    max(v.GetInt("otp_rate_limit_per_minute"), 1),
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters"))
	}
	if strings.TrimSpace(c.JWTIssuer) == "" {
		errs = append(errs, errors.New("JWT_ISSUER is required"))
	}
	if strings.TrimSpace(c.JWTAudience) == "" {
		errs = append(errs, errors.New("JWT_AUDIENCE is required"))
	}
	if !c.MockBackend && c.BackendURL == "" {
		errs = append(errs, errors.New("BACKEND_URL is required unless MOCK_BACKEND is set"))
	}
	if c.MockFailureRate < 0 || c.MockFailureRate > 1 {
		errs = append(errs, errors.New("MOCK_FAILURE_RATE must be between 0 and 1"))
	}
	switch c.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver))
	}
	switch c.EventsDriver {
	case "none", "gochannel":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for the kafka events driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EVENTS_DRIVER %q", c.EventsDriver))
	}
	return errs
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func bindEnv(v *viper.Viper, key string, names ...string) {
	args := []string{key}
	for _, name := range names {
		args = append(args, name, "TELLER_"+name)
	}
	_ = v.BindEnv(args...)
}
