package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahu7v3rma/soreal-sub001/internal/config"
	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
	"github.com/rahu7v3rma/soreal-sub001/internal/events"
	"github.com/rahu7v3rma/soreal-sub001/internal/identity"
	"github.com/rahu7v3rma/soreal-sub001/internal/llm"
	"github.com/rahu7v3rma/soreal-sub001/internal/quota"
)

func TestFallbacksWithoutConfiguration(t *testing.T) {
	pub, err := Publisher(config.KafkaConfig{})
	require.NoError(t, err)
	assert.IsType(t, events.Noop{}, pub)

	store, ok, err := Store(config.StorageConfig{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, store)

	gw, err := Gateway(config.PaymentsConfig{})
	require.NoError(t, err)
	assert.Nil(t, gw)

	assert.IsType(t, identity.Noop{}, Identity(config.AuthConfig{}))

	enh, closeFn, err := Enhancer(context.Background(), config.LLMConfig{})
	require.NoError(t, err)
	assert.IsType(t, llm.Static{}, enh)
	assert.NoError(t, closeFn())

	q, _ := Quota(config.RedisConfig{})
	assert.Nil(t, q)
}

func TestStore_MissingCredentials(t *testing.T) {
	_, _, err := Store(config.StorageConfig{Bucket: "b", PublicBaseURL: "https://cdn"})
	assert.Error(t, err)
}

func TestQuota_Backends(t *testing.T) {
	q, closeFn := Quota(config.RedisConfig{QuotaLimit: 2, QuotaWindow: time.Minute})
	assert.IsType(t, &quota.Memory{}, q)
	assert.NoError(t, closeFn())

	mr := miniredis.RunT(t)
	q, closeFn = Quota(config.RedisConfig{Addr: mr.Addr(), QuotaLimit: 1, QuotaWindow: time.Minute})
	defer closeFn()
	require.IsType(t, &quota.Redis{}, q)

	ok, remaining, err := q.Allow(context.Background(), "gen:u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, remaining)
	ok, _, err = q.Allow(context.Background(), "gen:u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenDBAndServices(t *testing.T) {
	cfg := config.Config{
		DB:             config.DBConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "app.db")},
		OTEL:           config.OTELConfig{Enabled: true},
		Credits:        config.CreditsConfig{SignupGrant: 25, GenerateCost: 2, UpscaleCost: 1, RemoveBackgroundCost: 1},
		IdempotencyTTL: time.Hour,
	}
	db, err := OpenDB(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	svc := NewServices(db, cfg, Clients{Identity: identity.Noop{}, Events: events.Noop{}, Enhancer: llm.Static{}})
	assert.Nil(t, svc.Generations.Store, "nil store must stay a nil interface")
	assert.Equal(t, 2, svc.Generations.Costs[domain.KindGenerate])

	acct, err := svc.Users.Get(context.Background(), "u1", "u1@example.com")
	require.NoError(t, err)
	assert.Equal(t, 25, acct.Credits)
	assert.Len(t, svc.Billing.Plans().Plans, 2)
}

func TestSchedule(t *testing.T) {
	cfg := config.Config{Jobs: config.JobsConfig{RefillInterval: time.Hour, CleanupInterval: 0}}
	assert.Equal(t, 1, Schedule(cfg, nil, nil, events.Noop{}).Len())

	cfg.Jobs.CleanupInterval = time.Hour
	assert.Equal(t, 2, Schedule(cfg, nil, nil, events.Noop{}).Len())
}
