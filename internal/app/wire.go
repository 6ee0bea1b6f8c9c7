// Package app assembles the infrastructure clients shared by the binaries.
// Optional integrations fall back to no-op implementations when their
// configuration is missing, so a bare local setup still boots.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/rahu7v3rma/soreal-sub001/internal/config"
	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
	"github.com/rahu7v3rma/soreal-sub001/internal/email"
	"github.com/rahu7v3rma/soreal-sub001/internal/events"
	"github.com/rahu7v3rma/soreal-sub001/internal/identity"
	"github.com/rahu7v3rma/soreal-sub001/internal/inference"
	"github.com/rahu7v3rma/soreal-sub001/internal/jobs"
	"github.com/rahu7v3rma/soreal-sub001/internal/llm"
	"github.com/rahu7v3rma/soreal-sub001/internal/payments"
	"github.com/rahu7v3rma/soreal-sub001/internal/quota"
	"github.com/rahu7v3rma/soreal-sub001/internal/repo"
	"github.com/rahu7v3rma/soreal-sub001/internal/services"
	"github.com/rahu7v3rma/soreal-sub001/internal/storage"
)

// OpenDB opens the configured database, adds query tracing and migrates.
func OpenDB(cfg config.Config) (*gorm.DB, error) {
	db, err := repo.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if cfg.OTEL.Enabled {
		if err := repo.Instrument(db); err != nil {
			return nil, fmt.Errorf("instrument db: %w", err)
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Publisher returns a Kafka publisher, or Noop without brokers.
func Publisher(cfg config.KafkaConfig) (events.Publisher, error) {
	if len(cfg.Brokers) == 0 {
		log.Warn().Msg("events: KAFKA_BROKERS not set, events disabled")
		return events.Noop{}, nil
	}
	k, err := events.NewKafka(cfg.Brokers, cfg.Topic)
	if err != nil {
		return nil, err
	}
	return k, nil
}

// Store returns the S3 image store. ok is false when storage is not
// configured; generated images then keep their provider URL.
func Store(cfg config.StorageConfig) (s *storage.S3, ok bool, err error) {
	s, err = storage.New(cfg)
	if errors.Is(err, storage.ErrNotConfigured) {
		log.Warn().Msg("storage: S3 bucket not configured, images stay on the provider")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Gateway returns the Stripe gateway, or nil when no secret key is set;
// billing endpoints then answer 503.
func Gateway(cfg config.PaymentsConfig) (payments.Gateway, error) {
	if cfg.SecretKey == "" {
		log.Warn().Msg("payments: STRIPE_SECRET_KEY not set, billing disabled")
		return nil, nil
	}
	g, err := payments.NewStripe(cfg.SecretKey, cfg.WebhookSecret, nil)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Identity returns the auth admin client, or Noop without credentials.
func Identity(cfg config.AuthConfig) identity.Admin {
	if cfg.AdminURL == "" || cfg.ServiceKey == "" {
		log.Warn().Msg("identity: admin credentials not set, auth users are kept on account deletion")
		return identity.Noop{}
	}
	g, err := identity.New(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("identity: falling back to noop")
		return identity.Noop{}
	}
	return g
}

// Enhancer returns the Gemini enhancer and its closer, or the Static
// enhancer without an API key.
func Enhancer(ctx context.Context, cfg config.LLMConfig) (llm.Enhancer, func() error, error) {
	if cfg.GeminiKey == "" {
		log.Warn().Msg("llm: GEMINI_API_KEY not set, prompts are only normalised")
		return llm.Static{}, func() error { return nil }, nil
	}
	g, err := llm.NewGemini(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return g, g.Close, nil
}

// Quota returns a Redis-backed generation quota, an in-memory one when no
// Redis address is set, or nil when the limit is disabled.
func Quota(cfg config.RedisConfig) (quota.Counter, func() error) {
	noop := func() error { return nil }
	if cfg.QuotaLimit <= 0 {
		return nil, noop
	}
	if cfg.Addr == "" {
		log.Warn().Msg("quota: REDIS_ADDR not set, using per-process counters")
		return quota.NewMemory(cfg.QuotaLimit, cfg.QuotaWindow), noop
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password})
	return quota.NewRedis(rdb, cfg.QuotaLimit, cfg.QuotaWindow), rdb.Close
}

// Catalog builds the products on sale from the configured price ids.
func Catalog(cfg config.PaymentsConfig) domain.Catalog {
	return domain.DefaultCatalog(cfg.Currency, cfg.TopupSmallPriceID, cfg.TopupLargePriceID, cfg.PlanBasicPriceID, cfg.PlanProPriceID)
}

// Services is the fully wired service layer.
type Services struct {
	Users       *services.UserService
	Billing     *services.BillingService
	Generations *services.GenerationService
	Prompts     *services.PromptService
	Blog        *services.BlogService
	Keys        *services.APIKeyService
}

// Clients are the integrations the service layer talks to.
type Clients struct {
	Payments payments.Gateway
	Identity identity.Admin
	Store    *storage.S3 // nil when storage is not configured
	Mailer   email.Sender
	Events   events.Publisher
	Enhancer llm.Enhancer
}

// NewServices wires the service layer over db and the given clients.
func NewServices(db *gorm.DB, cfg config.Config, c Clients) *Services {
	users := &services.UserService{
		DB:          db,
		Identity:    c.Identity,
		Payments:    c.Payments,
		SignupGrant: cfg.Credits.SignupGrant,
	}
	gens := &services.GenerationService{
		DB:        db,
		Users:     users,
		Inference: inference.NewClient(cfg.Inference),
		Mailer:    c.Mailer,
		Events:    c.Events,
		Costs: map[string]int{
			domain.KindGenerate:         cfg.Credits.GenerateCost,
			domain.KindUpscale:          cfg.Credits.UpscaleCost,
			domain.KindRemoveBackground: cfg.Credits.RemoveBackgroundCost,
		},
		MaxPromptRunes: cfg.LLM.MaxPromptRunes,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}
	if c.Store != nil {
		gens.Store = c.Store
	}
	return &Services{
		Users: users,
		Billing: &services.BillingService{
			DB:         db,
			Gateway:    c.Payments,
			Catalog:    Catalog(cfg.Payments),
			Users:      users,
			Events:     c.Events,
			SuccessURL: cfg.Payments.SuccessURL,
			CancelURL:  cfg.Payments.CancelURL,
		},
		Generations: gens,
		Prompts:     &services.PromptService{Enhancer: c.Enhancer, MaxPromptRunes: cfg.LLM.MaxPromptRunes},
		Blog:        &services.BlogService{DB: db},
		Keys:        &services.APIKeyService{DB: db},
	}
}

// Schedule builds the periodic jobs: credit refills and storage cleanup.
// store may be nil, in which case cleanup only drops expired idempotency
// records.
func Schedule(cfg config.Config, db *gorm.DB, store *storage.S3, pub events.Publisher) *jobs.Scheduler {
	cleanup := &jobs.Cleanup{DB: db, Retention: cfg.Storage.Retention}
	if store != nil {
		cleanup.Store = store
	}
	s := &jobs.Scheduler{}
	return s.
		Every(cfg.Jobs.RefillInterval, &jobs.Refill{DB: db, Events: pub, Period: cfg.Jobs.RefillPeriod, Batch: cfg.Jobs.BatchSize}).
		Every(cfg.Jobs.CleanupInterval, cleanup)
}
