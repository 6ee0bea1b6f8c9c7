// Command server runs the image-generation HTTP API.
//
// @title                       Image Generation API
// @version                     1.0
// @description                 Credits, billing, image jobs, prompt enhancement and the blog CMS.
// @BasePath                    /api
// @schemes                     https http
//
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
// @description                 "Bearer <access token>" issued by the auth platform.
//
// @securityDefinitions.apikey  AdminKey
// @in                          header
// @name                        X-API-Key
// @description                 Admin key "sk_<prefix>_<secret>" with blog scopes.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/rahu7v3rma/soreal-sub001/docs"
	"github.com/rahu7v3rma/soreal-sub001/internal/app"
	"github.com/rahu7v3rma/soreal-sub001/internal/config"
	"github.com/rahu7v3rma/soreal-sub001/internal/email"
	httpapi "github.com/rahu7v3rma/soreal-sub001/internal/http"
	"github.com/rahu7v3rma/soreal-sub001/internal/http/handlers"
	"github.com/rahu7v3rma/soreal-sub001/internal/observability"
	"github.com/rahu7v3rma/soreal-sub001/internal/sysutil"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		sysutil.SetupLogger(os.Stderr, "info", false, "api")
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, "api")

	ctx, stop := sysutil.SignalContext(context.Background())
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	if err := cfg.RequireAuth(); err != nil {
		return err
	}
	version = sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version, "api")
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := app.OpenDB(cfg)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	pub, err := app.Publisher(cfg.Kafka)
	if err != nil {
		return err
	}
	defer pub.Close()

	store, _, err := app.Store(cfg.Storage)
	if err != nil {
		return err
	}
	gateway, err := app.Gateway(cfg.Payments)
	if err != nil {
		return err
	}
	enhancer, closeLLM, err := app.Enhancer(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	defer closeLLM()
	counter, closeQuota := app.Quota(cfg.Redis)
	defer closeQuota()

	svc := app.NewServices(db, cfg, app.Clients{
		Payments: gateway,
		Identity: app.Identity(cfg.Auth),
		Store:    store,
		Mailer:   email.New(cfg.Email),
		Events:   pub,
		Enhancer: enhancer,
	})

	gin.SetMode(cfg.GinMode)
	docs.SwaggerInfo.BasePath = cfg.APIBasePath
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB: db,
		Handlers: handlers.Deps{
			Users:       svc.Users,
			Billing:     svc.Billing,
			Generations: svc.Generations,
			Prompts:     svc.Prompts,
			Blog:        svc.Blog,
			DB:          sqlDB,
		},
		Keys:  svc.Keys,
		Quota: counter,
	}, cfg)

	if cfg.Jobs.Enabled {
		sched := app.Schedule(cfg, db, store, pub)
		go sched.Run(ctx)
		log.Info().Int("jobs", sched.Len()).Msg("in-process jobs enabled")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
