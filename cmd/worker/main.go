// Command worker runs the periodic jobs: monthly credit refills and storage
// cleanup. Pass -once to run every job a single time and exit, e.g. from a
// cron.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/rahu7v3rma/soreal-sub001/internal/app"
	"github.com/rahu7v3rma/soreal-sub001/internal/config"
	"github.com/rahu7v3rma/soreal-sub001/internal/observability"
	"github.com/rahu7v3rma/soreal-sub001/internal/sysutil"
)

func main() {
	once := flag.Bool("once", false, "run each job once and exit")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		sysutil.SetupLogger(os.Stderr, "info", false, "worker")
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, "worker")

	ctx, stop := sysutil.SignalContext(context.Background())
	defer stop()

	if err := run(ctx, cfg, *once); err != nil {
		log.Fatal().Err(err).Msg("worker stopped")
	}
}

func run(ctx context.Context, cfg config.Config, once bool) error {
	version := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), "dev")
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version, "worker")
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(sctx)
	}()

	db, err := app.OpenDB(cfg)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	pub, err := app.Publisher(cfg.Kafka)
	if err != nil {
		return err
	}
	defer pub.Close()

	store, _, err := app.Store(cfg.Storage)
	if err != nil {
		return err
	}

	sched := app.Schedule(cfg, db, store, pub)
	if once {
		return sched.RunAll(ctx)
	}

	log.Info().Int("jobs", sched.Len()).Msg("worker started")
	sched.Run(ctx)
	log.Info().Msg("worker stopped")
	return nil
}
