package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 3*time.Minute, cfg.WriteTimeout, "generation requests poll upstream")
	assert.Equal(t, "release", cfg.GinMode)
	assert.Equal(t, "/api", cfg.APIBasePath)
	assert.Equal(t, DBConfig{Driver: "sqlite", Path: "app.db"}, cfg.DB)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)

	assert.Equal(t, "authenticated", cfg.Auth.Audience)
	assert.Equal(t, "usd", cfg.Payments.Currency)
	assert.Equal(t, 60, cfg.Inference.MaxPolls)
	assert.Equal(t, "generations", cfg.Storage.Prefix)
	assert.Equal(t, 30*24*time.Hour, cfg.Storage.Retention)
	assert.Equal(t, 2000, cfg.LLM.MaxPromptRunes)
	assert.Equal(t, 30, cfg.Redis.QuotaLimit)
	assert.Nil(t, cfg.Kafka.Brokers)
	assert.Equal(t, CreditsConfig{SignupGrant: 5, GenerateCost: 1, UpscaleCost: 1, RemoveBackgroundCost: 1}, cfg.Credits)
	assert.False(t, cfg.Jobs.Enabled)
	assert.Equal(t, 100, cfg.Jobs.BatchSize)

	assert.Error(t, cfg.RequireAuth(), "no signing secret by default")
}

func TestLoad_Overrides(t *testing.T) {
	env := map[string]string{
		"PORT":                        "9090",
		"GIN_MODE":                    "chatty",
		"LOG_LEVEL":                   "Warning",
		"LOG_PRETTY":                  "yes",
		"API_BASE_PATH":               "v1/",
		"DB_DRIVER":                   "pg",
		"DATABASE_URL":                "postgres://u:p@db/app",
		"CORS_ALLOWED_ORIGINS":        " https://studio.app , ,http://localhost:3000 ",
		"ENABLE_HSTS":                 "on",
		"OTEL_TRACES_SAMPLER_ARG":     "0.25",
		"AUTH_JWT_SECRET":             "shh",
		"STRIPE_PRICE_PLAN_PRO":       "price_pro",
		"BILLING_CURRENCY":            "EUR",
		"INFERENCE_BASE_URL":          "https://gateway.local/",
		"S3_USE_PATH_STYLE":           "true",
		"KAFKA_BROKERS":               "k1:9092,k2:9092",
		"GENERATION_QUOTA":            "0",
		"CREDITS_COST_UPSCALE":        "3",
		"JOBS_ENABLED":                "1",
		"JOBS_REFILL_INTERVAL":        "15m",
		"IDEMPOTENCY_TTL":             "not-a-duration",
		"CREDITS_COST_GENERATE":       "two",
		"OTEL_EXPORTER_OTLP_INSECURE": "maybe",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "release", cfg.GinMode)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.LogPretty)
	assert.Equal(t, "/v1", cfg.APIBasePath)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, []string{"https://studio.app", "http://localhost:3000"}, cfg.CORS.AllowedOrigins)
	assert.True(t, cfg.Security.EnableHSTS)
	assert.Equal(t, 0.25, cfg.OTEL.SampleRatio)
	assert.NoError(t, cfg.RequireAuth())
	assert.Equal(t, "price_pro", cfg.Payments.PlanProPriceID)
	assert.Equal(t, "eur", cfg.Payments.Currency)
	assert.Equal(t, "https://gateway.local", cfg.Inference.BaseURL)
	assert.True(t, cfg.Storage.UsePathStyle)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Zero(t, cfg.Redis.QuotaLimit)
	assert.Equal(t, 3, cfg.Credits.UpscaleCost)
	assert.True(t, cfg.Jobs.Enabled)
	assert.Equal(t, 15*time.Minute, cfg.Jobs.RefillInterval)

	// unparsable values fall back to defaults
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 1, cfg.Credits.GenerateCost)
	assert.True(t, cfg.OTEL.Insecure)
}

func TestLoad_Rejects(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		msg  string
	}{
		{"log level", map[string]string{"LOG_LEVEL": "loud"}, "LOG_LEVEL"},
		{"zero timeout", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts"},
		{"header bytes", map[string]string{"MAX_HEADER_BYTES": "-1"}, "MAX_HEADER_BYTES"},
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER"},
		{"postgres without dsn", map[string]string{"DB_DRIVER": "postgres"}, "DATABASE_URL"},
		{"negative rps", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"burst", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"sample ratio", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
		{"max polls", map[string]string{"INFERENCE_MAX_POLLS": "0"}, "INFERENCE_MAX_POLLS"},
		{"retention", map[string]string{"STORAGE_RETENTION": "-1h"}, "STORAGE_RETENTION"},
		{"prompt runes", map[string]string{"PROMPT_MAX_RUNES": "0"}, "PROMPT_MAX_RUNES"},
		{"quota", map[string]string{"GENERATION_QUOTA": "-5"}, "GENERATION_QUOTA"},
		{"free generation", map[string]string{"CREDITS_COST_REMOVE_BACKGROUND": "0"}, "credit costs"},
		{"refill period", map[string]string{"JOBS_REFILL_PERIOD": "-1h"}, "job intervals"},
		{"batch", map[string]string{"JOBS_BATCH_SIZE": "0"}, "JOBS_BATCH_SIZE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestMustLoad(t *testing.T) {
	assert.NotPanics(t, func() { MustLoad() })

	t.Setenv("DB_DRIVER", "oracle")
	assert.Panics(t, func() { MustLoad() })
}

func TestHelpers(t *testing.T) {
	t.Setenv("CFG_BOOL", "OFF")
	t.Setenv("CFG_BOOL_BAD", "sometimes")
	assert.False(t, getbool("CFG_BOOL", true))
	assert.True(t, getbool("CFG_BOOL_BAD", true))
	assert.True(t, getbool("CFG_BOOL_UNSET", true))

	t.Setenv("CFG_EMPTY", "")
	assert.Equal(t, "fallback", getenv("CFG_EMPTY", "fallback"))

	assert.Nil(t, splitCSV(""))
	assert.Empty(t, splitCSV(" , "))

	for in, want := range map[string]string{"": "/", "/": "/", "api": "/api", "/api/": "/api", " /v2// ": "/v2"} {
		assert.Equal(t, want, normalizeBasePath(in), "input %q", in)
	}
}
