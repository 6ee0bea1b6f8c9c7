// Package config provides application configuration loaded from environment
// variables with defaults and validation. It covers the HTTP server, logging,
// persistence, the third-party integrations (payments, inference, storage,
// email, LLM, identity) and the periodic jobs.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the gorm dialector.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite path
	DSN    string // Postgres connection string
}

// AuthConfig verifies bearer tokens issued by the hosted auth platform.
type AuthConfig struct {
	JWTSecret string
	Issuer    string // optional; checked when set
	Audience  string // optional; checked when set

	// Admin endpoint of the auth platform, used for account deletion.
	AdminURL   string
	ServiceKey string
}

// PaymentsConfig configures the Stripe integration.
type PaymentsConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string // {CHECKOUT_SESSION_ID} is appended by the provider
	CancelURL     string
	Currency      string

	// Catalog price ids. Empty ids disable the matching product.
	TopupSmallPriceID string
	TopupLargePriceID string
	PlanBasicPriceID  string
	PlanProPriceID    string
}

// InferenceConfig configures the model-inference gateway.
type InferenceConfig struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	PollInterval time.Duration
	MaxPolls     int
}

// StorageConfig configures the S3-compatible bucket for generated images.
type StorageConfig struct {
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
	Prefix        string
	UsePathStyle  bool
	Retention     time.Duration
}

// EmailConfig configures transactional email.
type EmailConfig struct {
	SendGridKey string
	FromAddress string
	FromName    string
	AppURL      string
}

// LLMConfig configures prompt enhancement.
type LLMConfig struct {
	GeminiKey      string
	Model          string
	MaxPromptRunes int
}

// RedisConfig configures the shared generation quota.
type RedisConfig struct {
	Addr        string
	Password    string
	QuotaLimit  int
	QuotaWindow time.Duration
}

// KafkaConfig configures domain event publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// CreditsConfig holds credit costs and grants.
type CreditsConfig struct {
	SignupGrant          int
	GenerateCost         int
	UpscaleCost          int
	RemoveBackgroundCost int
}

// JobsConfig configures the periodic batch jobs.
type JobsConfig struct {
	Enabled         bool
	RefillInterval  time.Duration
	RefillPeriod    time.Duration
	CleanupInterval time.Duration
	BatchSize       int
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // generation requests poll upstream, keep this generous
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // trace|debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	DB DBConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig

	// Integrations
	Auth      AuthConfig
	Payments  PaymentsConfig
	Inference InferenceConfig
	Storage   StorageConfig
	Email     EmailConfig
	LLM       LLMConfig
	Redis     RedisConfig
	Kafka     KafkaConfig

	Credits CreditsConfig
	Jobs    JobsConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 3*time.Minute),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api")),

		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "app.db"),
			DSN:    getenv("DATABASE_URL", ""),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "imagegen-api"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},

		Auth: AuthConfig{
			JWTSecret:  getenv("AUTH_JWT_SECRET", ""),
			Issuer:     getenv("AUTH_JWT_ISSUER", ""),
			Audience:   getenv("AUTH_JWT_AUDIENCE", "authenticated"),
			AdminURL:   getenv("AUTH_ADMIN_URL", ""),
			ServiceKey: getenv("AUTH_SERVICE_KEY", ""),
		},

		Payments: PaymentsConfig{
			SecretKey:         getenv("STRIPE_SECRET_KEY", ""),
			WebhookSecret:     getenv("STRIPE_WEBHOOK_SECRET", ""),
			SuccessURL:        getenv("BILLING_SUCCESS_URL", "http://localhost:3000/billing/success"),
			CancelURL:         getenv("BILLING_CANCEL_URL", "http://localhost:3000/billing"),
			Currency:          strings.ToLower(getenv("BILLING_CURRENCY", "usd")),
			TopupSmallPriceID: getenv("STRIPE_PRICE_TOPUP_SMALL", ""),
			TopupLargePriceID: getenv("STRIPE_PRICE_TOPUP_LARGE", ""),
			PlanBasicPriceID:  getenv("STRIPE_PRICE_PLAN_BASIC", ""),
			PlanProPriceID:    getenv("STRIPE_PRICE_PLAN_PRO", ""),
		},

		Inference: InferenceConfig{
			BaseURL:      getenv("INFERENCE_BASE_URL", "https://api.kie.ai"),
			APIKey:       getenv("INFERENCE_API_KEY", ""),
			Timeout:      getdur("INFERENCE_TIMEOUT", 30*time.Second),
			PollInterval: getdur("INFERENCE_POLL_INTERVAL", 2*time.Second),
			MaxPolls:     getint("INFERENCE_MAX_POLLS", 60),
		},

		Storage: StorageConfig{
			Endpoint:      getenv("S3_ENDPOINT", ""),
			Region:        getenv("S3_REGION", "us-east-1"),
			Bucket:        getenv("S3_BUCKET", ""),
			AccessKey:     getenv("S3_ACCESS_KEY", ""),
			SecretKey:     getenv("S3_SECRET_KEY", ""),
			PublicBaseURL: getenv("S3_PUBLIC_BASE_URL", ""),
			Prefix:        getenv("S3_PREFIX", "generations"),
			UsePathStyle:  getbool("S3_USE_PATH_STYLE", false),
			Retention:     getdur("STORAGE_RETENTION", 30*24*time.Hour),
		},

		Email: EmailConfig{
			SendGridKey: getenv("SENDGRID_API_KEY", ""),
			FromAddress: getenv("EMAIL_FROM_ADDRESS", "no-reply@example.com"),
			FromName:    getenv("EMAIL_FROM_NAME", "Image Studio"),
			AppURL:      getenv("APP_URL", "http://localhost:3000"),
		},

		LLM: LLMConfig{
			GeminiKey:      getenv("GEMINI_API_KEY", ""),
			Model:          getenv("GEMINI_MODEL", "gemini-1.5-flash"),
			MaxPromptRunes: getint("PROMPT_MAX_RUNES", 2000),
		},

		Redis: RedisConfig{
			Addr:        getenv("REDIS_ADDR", ""),
			Password:    getenv("REDIS_PASSWORD", ""),
			QuotaLimit:  getint("GENERATION_QUOTA", 30),
			QuotaWindow: getdur("GENERATION_QUOTA_WINDOW", time.Minute),
		},

		Kafka: KafkaConfig{
			Brokers: splitCSV(getenv("KAFKA_BROKERS", "")),
			Topic:   getenv("KAFKA_TOPIC", "imagegen.events"),
		},

		Credits: CreditsConfig{
			SignupGrant:          getint("CREDITS_SIGNUP_GRANT", 5),
			GenerateCost:         getint("CREDITS_COST_GENERATE", 1),
			UpscaleCost:          getint("CREDITS_COST_UPSCALE", 1),
			RemoveBackgroundCost: getint("CREDITS_COST_REMOVE_BACKGROUND", 1),
		},

		Jobs: JobsConfig{
			Enabled:         getbool("JOBS_ENABLED", false),
			RefillInterval:  getdur("JOBS_REFILL_INTERVAL", time.Hour),
			RefillPeriod:    getdur("JOBS_REFILL_PERIOD", 30*24*time.Hour),
			CleanupInterval: getdur("JOBS_CLEANUP_INTERVAL", 6*time.Hour),
			BatchSize:       getint("JOBS_BATCH_SIZE", 100),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" || cfg.DB.Driver == "pg" {
		cfg.DB.Driver = "postgres"
	}
	cfg.Inference.BaseURL = strings.TrimRight(cfg.Inference.BaseURL, "/")

	// --- validation ---
	switch cfg.LogLevel {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: trace, debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.DSN) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	if cfg.Inference.PollInterval <= 0 || cfg.Inference.Timeout <= 0 {
		return cfg, errors.New("INFERENCE_TIMEOUT and INFERENCE_POLL_INTERVAL must be positive")
	}
	if cfg.Inference.MaxPolls < 1 {
		return cfg, errors.New("INFERENCE_MAX_POLLS must be >= 1")
	}
	if cfg.Storage.Retention <= 0 {
		return cfg, errors.New("STORAGE_RETENTION must be > 0")
	}
	if cfg.LLM.MaxPromptRunes < 1 {
		return cfg, errors.New("PROMPT_MAX_RUNES must be >= 1")
	}
	if cfg.Redis.QuotaLimit < 0 || cfg.Redis.QuotaWindow <= 0 {
		return cfg, errors.New("GENERATION_QUOTA must be >= 0 and GENERATION_QUOTA_WINDOW > 0")
	}
	c := cfg.Credits
	if c.SignupGrant < 0 || c.GenerateCost < 1 || c.UpscaleCost < 1 || c.RemoveBackgroundCost < 1 {
		return cfg, errors.New("credit costs must be >= 1 and CREDITS_SIGNUP_GRANT >= 0")
	}
	if cfg.Jobs.RefillInterval <= 0 || cfg.Jobs.CleanupInterval <= 0 || cfg.Jobs.RefillPeriod <= 0 {
		return cfg, errors.New("job intervals must be positive durations")
	}
	if cfg.Jobs.BatchSize < 1 {
		return cfg, errors.New("JOBS_BATCH_SIZE must be >= 1")
	}

	return cfg, nil
}

// RequireAuth reports an error when the server cannot authenticate users.
// Binaries that don't serve user routes (worker, apikey) skip this check.
func (c Config) RequireAuth() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("AUTH_JWT_SECRET must be set")
	}
	return nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
