// Package httpapi wires the HTTP transport (Gin) to the application
// services, middleware and route handlers. It owns the cross-cutting chain:
// tracing, correlation IDs, redacted logging, panic recovery, metrics,
// idempotency keys, rate limiting, CORS and security headers.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/rahu7v3rma/soreal-sub001/internal/config"
	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
	"github.com/rahu7v3rma/soreal-sub001/internal/http/handlers"
	"github.com/rahu7v3rma/soreal-sub001/internal/http/middleware"
	"github.com/rahu7v3rma/soreal-sub001/internal/quota"
	"github.com/rahu7v3rma/soreal-sub001/internal/repo"
	"github.com/rahu7v3rma/soreal-sub001/internal/services"
)

// Deps carries everything RegisterRoutes needs beyond configuration.
type Deps struct {
	// DB backs the idempotency replay lookup. May be nil in tests.
	DB *gorm.DB
	// Handlers lists the services behind the endpoints.
	Handlers handlers.Deps
	// Keys verifies admin API keys for the blog CMS.
	Keys middleware.KeyVerifier
	// Quota counts generations per user; nil disables the quota.
	Quota quota.Counter
}

// RegisterRoutes attaches all middleware and HTTP endpoints to r.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency key validation
//  8. CORS and security headers
//
// Authentication and the rate limiter run per group. The limiter sits after
// RequireUser so signed-in callers get per-user buckets, and after the scoped
// idempotency check on image jobs so replays are never throttled. Public and
// admin routes are limited per client IP.
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{middleware.HeaderIdempotencyKey},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))

	useCORS(r, cfg.CORS.AllowedOrigins)

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	h := handlers.New(d.Handlers)
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := groupWithPrefix(r, cfg.APIBasePath)
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	// Public
	pub := api.Group("", rl.Handler())
	pub.GET("/billing/plans", h.ListPlans)
	pub.POST("/billing/webhook", h.Webhook)
	blog := pub.Group("/blog", gzip.Gzip(gzip.DefaultCompression))
	{
		blog.GET("/posts", h.ListPublishedPosts)
		blog.GET("/posts/:slug", h.GetPublishedPost)
		blog.GET("/search", h.SearchPosts)
	}

	requireUser := middleware.RequireUser(middleware.AuthOptions{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Leeway:   30 * time.Second,
	})

	user := api.Group("", requireUser, rl.Handler())
	{
		user.GET("/user", h.GetUser)
		user.PATCH("/user", h.UpdateUser)
		user.DELETE("/user", h.DeleteUser)
		user.GET("/user/generations", h.ListGenerations)
		user.GET("/user/generations/:id", h.GetGeneration)
		user.GET("/user/credits/history", h.CreditHistory)

		user.POST("/billing/topup/checkout", h.TopupCheckout)
		user.GET("/billing/topup/verify", h.TopupVerify)
		user.POST("/billing/subscription/checkout", h.SubscriptionCheckout)
		user.GET("/billing/subscription/verify", h.SubscriptionVerify)
		user.POST("/billing/subscription/cancel", h.SubscriptionCancel)

		user.POST("/enhance-prompt", h.EnhancePrompt)
	}

	images := api.Group("/create-image",
		requireUser,
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{Scope: imageScope}, idempotencyLookup(d.DB)),
		rl.Handler(),
		middleware.GenerationQuota(d.Quota),
	)
	{
		images.POST("/generate", h.Generate)
		images.POST("/upscale", h.Upscale)
		images.POST("/remove-background", h.RemoveBackground)
	}

	admin := api.Group("/admin/blog", rl.Handler(), middleware.RequireAPIKey(d.Keys, func(err error) bool {
		return errors.Is(err, services.ErrInvalidAPIKey)
	}))
	{
		read := middleware.RequireScope(domain.ScopeBlogRead)
		write := middleware.RequireScope(domain.ScopeBlogWrite)
		del := middleware.RequireScope(domain.ScopeBlogDelete)

		admin.GET("/posts", read, h.AdminListPosts)
		admin.GET("/posts/:id", read, h.AdminGetPost)
		admin.POST("/posts", write, h.AdminCreatePost)
		admin.PUT("/posts/:id", write, h.AdminUpdatePost)
		admin.POST("/posts/:id/publish", write, h.AdminPublishPost)
		admin.POST("/posts/:id/unpublish", write, h.AdminUnpublishPost)
		admin.DELETE("/posts/:id", del, h.AdminDeletePost)
	}
}

// imageScope maps /create-image/<kind> to the scope the generation service
// stores idempotency records under.
func imageScope(c *gin.Context) string {
	kind := strings.ReplaceAll(path.Base(c.FullPath()), "-", "_")
	return "create-image:" + kind
}

func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	if db == nil {
		return nil
	}
	return func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
		_, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, repo.ErrNotFound):
			return false, nil
		default:
			return false, err
		}
	}
}

// useCORS installs gin-contrib/cors. With no allowlist every origin is
// accepted without credentials; otherwise matching origins are echoed.
func useCORS(r *gin.Engine, origins []string) {
	base := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			middleware.HeaderAPIKey, middleware.HeaderIdempotencyKey,
		},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "X-Quota-Remaining", handlers.HeaderReplayed},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}

	if len(origins) == 0 {
		// Force ACAO: * even without an Origin header so probes see it too.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		base.AllowAllOrigins = true
		r.Use(cors.New(base))
		return
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	})
	base.AllowOrigins = origins
	r.Use(cors.New(base))
}

// limitBody caps the request body at maxBytes; reads past the cap fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
