package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/clincore/clincore-backend/internal/billing"
	clinicalhandler "github.com/clincore/clincore-backend/internal/clinical/handler"
	clinicalrepo "github.com/clincore/clincore-backend/internal/clinical/repository"
	"github.com/clincore/clincore-backend/internal/clinical/scoring"
	clinicalservice "github.com/clincore/clincore-backend/internal/clinical/service"
	"github.com/clincore/clincore-backend/internal/events"
	feedbackhandler "github.com/clincore/clincore-backend/internal/feedback/handler"
	feedbackrepo "github.com/clincore/clincore-backend/internal/feedback/repository"
	feedbackservice "github.com/clincore/clincore-backend/internal/feedback/service"
	identityhandler "github.com/clincore/clincore-backend/internal/identity/handler"
	identityrepo "github.com/clincore/clincore-backend/internal/identity/repository"
	identityservice "github.com/clincore/clincore-backend/internal/identity/service"
	"github.com/clincore/clincore-backend/pkg/config"
	"github.com/clincore/clincore-backend/pkg/database"
	"github.com/clincore/clincore-backend/pkg/httputil"
	"github.com/clincore/clincore-backend/pkg/logger"
	"github.com/clincore/clincore-backend/pkg/messaging"
	"github.com/clincore/clincore-backend/pkg/ratelimit"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	cfg, err := config.LoadWithValidation("clincore-server")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithLevel("clincore-server", cfg.Server.Environment, cfg.LogLevel)
	log.Info().Str("version", Version).Msg("starting ClinCore server")

	// Connect to database and apply migrations
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := db.Migrate(migrateCtx); err != nil {
		cancelMigrate()
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}
	cancelMigrate()

	// Event publishing is optional: no RABBITMQ_URL, no broker.
	var publisher *events.Publisher
	if cfg.RabbitMQ.Enabled() {
		rmq, err := messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		inner, err := messaging.NewPublisher(rmq, messaging.ExchangeEvents, "clincore-server", log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
		publisher = events.New(inner, log)
	} else {
		log.Info().Msg("RABBITMQ_URL not set, event publishing disabled")
		publisher = events.New(nil, log)
	}

	// Repositories
	keyRepo := identityrepo.NewAPIKeyRepository(db)
	usageRepo := identityrepo.NewUsageRepository(db)
	caseRepo := clinicalrepo.NewCaseRepository(db)
	auditRepo := clinicalrepo.NewAuditLogRepository(db, log)
	fbRepo := feedbackrepo.NewFeedbackRepository(db)

	// Services
	identitySvc := identityservice.NewIdentityService(keyRepo, usageRepo, cfg.Bootstrap.Token, publisher, log)
	gate := billing.NewGate(db, usageRepo, cfg.Billing)
	caseSvc := clinicalservice.NewCaseService(caseRepo, auditRepo, gate,
		scoring.NewStubScorer(), publisher, cfg.Scoring.Timeout, log)
	feedbackSvc := feedbackservice.NewFeedbackService(fbRepo, publisher, log)

	// Handlers
	identityH := identityhandler.NewIdentityHandler(identitySvc, log)
	caseH := clinicalhandler.NewCaseHandler(caseSvc, log)
	feedbackH := feedbackhandler.NewFeedbackHandler(feedbackSvc, log)

	limiter := ratelimit.New(cfg.RateLimit.PerMinute, cfg.RateLimit.Window)
	go evictLoop(limiter)

	// tenantAuth binds the caller's tenant: API key when presented,
	// X-Tenant-ID header otherwise.
	tenantAuth := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != "" {
				identityH.Auth(next).ServeHTTP(w, r)
				return
			}
			httputil.TenantHeader(next).ServeHTTP(w, r)
		})
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Tenant-ID", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health and version, unauthenticated and unlimited
	health := func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "clincore-server",
			"database": db.Health(r.Context()),
		})
	}
	r.Get("/health", health)
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})
	r.Get("/health/ready", readiness(db))
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{
			"service":        "clincore-server",
			"version":        Version,
			"engine_version": scoring.EngineVersion,
		})
	})

	// Provisioning and key rotation
	r.Post("/bootstrap", identityH.Bootstrap)
	r.Post("/auth/api-keys/rotate", identityH.Rotate)

	// Case lifecycle, addressed by tenant header
	r.Route("/cases", func(r chi.Router) {
		r.Use(httputil.TenantHeader)
		r.Use(httputil.RateLimit(limiter))

		r.Post("/", caseH.Create)
		r.Get("/{id}", caseH.Get)
		r.Post("/{id}/finalize", caseH.Finalize)
		r.Post("/{id}/verify-replay", caseH.VerifyReplay)
	})

	// Outcome feedback, addressed by API key or tenant header
	r.Route("/mcare", func(r chi.Router) {
		r.Use(tenantAuth)
		r.Use(httputil.RateLimit(limiter))

		r.Post("/feedback", feedbackH.Record)
		r.Get("/feedback/summary", feedbackH.Summary)
	})

	// Admin surface, API key with admin role required
	r.Route("/admin", func(r chi.Router) {
		r.Use(identityH.Auth)
		r.Use(identityH.RequireAdmin)
		r.Use(httputil.RateLimit(limiter))

		r.Get("/usage", identityH.Usage)
		r.Get("/api-keys", identityH.ListKeys)
		r.Post("/api-keys/revoke/{id}", identityH.RevokeKey)
		r.Get("/mcare/feedback", feedbackH.AdminStats)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// readiness reports whether the instance can serve traffic. Unlike the
// liveness endpoint it answers 503 when the database does not respond, so
// orchestrators stop routing to an instance that cannot reach its store.
func readiness(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbStatus := db.Health(r.Context())

		body := map[string]interface{}{
			"status":   "ready",
			"service":  "clincore-server",
			"database": dbStatus,
		}
		if dbStatus["status"] != "up" {
			body["status"] = "not ready"
			httputil.JSON(w, http.StatusServiceUnavailable, body)
			return
		}
		httputil.JSON(w, http.StatusOK, body)
	}
}

// evictLoop drops rate limit buckets idle for a while so tenant churn
// does not grow the limiter without bound.
func evictLoop(limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		limiter.EvictInactive(15 * time.Minute)
	}
}
