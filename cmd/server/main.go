package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/satriadamar/komikvault/internal/auth"
	"github.com/satriadamar/komikvault/internal/config"
	"github.com/satriadamar/komikvault/internal/csrf"
	"github.com/satriadamar/komikvault/internal/guard"
	"github.com/satriadamar/komikvault/internal/health"
	"github.com/satriadamar/komikvault/internal/logger"
	"github.com/satriadamar/komikvault/internal/metrics"
	appmw "github.com/satriadamar/komikvault/internal/middleware"
	"github.com/satriadamar/komikvault/internal/moderation"
	"github.com/satriadamar/komikvault/internal/session"
	"github.com/satriadamar/komikvault/internal/store"
	"github.com/satriadamar/komikvault/internal/throttle"
)

// Version is set at build time
var Version = "dev"

const (
	loginRateLimit  = 10
	loginRateWindow = time.Minute
	apiRateLimit    = 120
	apiRateWindow   = time.Minute
)

func main() {
	// .env is optional; real deployments use the environment directly
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	appLogger := logger.New(logger.DefaultConfig())

	dbPool, err := setupDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbPool.Close()

	// Redis backs the rate limiter across replicas when configured;
	// otherwise throttling stays in-process.
	var redisClient *redis.Client
	var windowStore throttle.WindowStore
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		windowStore = throttle.NewRedisWindowStore(redisClient, "komikvault:rl")
		appLogger.Info("rate limiter using redis", "addr", cfg.Redis.Addr)
	} else {
		memStore := throttle.NewMemoryWindowStore(time.Minute)
		defer memStore.Close()
		windowStore = memStore
	}

	// Repositories
	accountRepo := store.NewAccountRepository(dbPool)
	profileRepo := store.NewProfileRepository(dbPool)
	magicTokenRepo := store.NewMagicTokenRepository(dbPool)

	// Session layer
	codec := session.NewCodec(session.CodecConfig{
		Secret: cfg.Session.Secret,
		Expiry: cfg.Session.TokenExpiry,
		Issuer: cfg.Session.Issuer,
	})
	cookies := session.NewCookieTransport(cfg.Session.CookieName, cfg.Session.TokenExpiry, cfg.IsProduction())

	// Throttling
	backoff := throttle.NewLoginBackoff()
	defer backoff.Close()
	loginLimiter := throttle.NewLimiter(windowStore, loginRateLimit, loginRateWindow)
	apiLimiter := throttle.NewLimiter(windowStore, apiRateLimit, apiRateWindow)

	// Auth service and handlers
	credentials := auth.NewCredentialVerifier()
	magicIssuer := auth.NewMagicTokenIssuer(cfg.Session.Secret, cfg.Session.Issuer)
	authService := auth.NewService(
		accountRepo,
		magicTokenRepo,
		credentials,
		codec,
		magicIssuer,
		backoff,
		cfg.Session.MagicTokenTTL,
		appLogger,
	)
	authHandler := auth.NewHandler(authService, cookies, profileRepo, appLogger)

	// Guards and CSRF
	g := guard.New(cookies, codec, profileRepo, appLogger)
	csrfValidator := csrf.New(cfg.Security.ParsedTrustedOrigins(), appLogger)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sweepExpiredMagicTokens(sweepCtx, magicTokenRepo, appLogger)

	healthHandler := health.NewHandler(dbPool, redisClient, Version)
	logging := appmw.NewLoggingMiddleware(appLogger)

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(logging.Handler)
	r.Use(metrics.HTTPMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(cfg),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "x-api-key"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	healthHandler.RegisterRoutes(r)
	metrics.RegisterRoutes(r)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(csrfValidator.Middleware)
		r.Use(throttle.Middleware(apiLimiter, throttle.ByClientIP("api")))

		// /auth/me parses the subject id, so it sits behind the
		// usable-identity variant of the auth guard.
		auth.RegisterRoutes(r, authHandler,
			g.RequireUserAPI,
			throttle.Middleware(loginLimiter, throttle.ByClientIP("login")),
		)
		moderation.RegisterRoutes(r, moderation.NewHandler(appLogger), g, cfg.Security.APIKey)
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("starting server", "addr", addr, "env", cfg.Env, "version", Version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	appLogger.Info("server exited")
}

// sweepExpiredMagicTokens periodically removes expired magic-token rows.
// Redemption already refuses expired tokens; the sweep only keeps the
// table from growing without bound.
func sweepExpiredMagicTokens(ctx context.Context, repo store.MagicTokenRepository, log *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := repo.DeleteExpired(ctx)
			if err != nil {
				log.Warn("expired magic token sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				log.Info("removed expired magic tokens", "count", deleted)
			}
		}
	}
}

// corsOrigins builds the CORS allowlist from the configured trusted
// origins plus the local development origins.
func corsOrigins(cfg *config.Config) []string {
	origins := []string{"http://localhost:3000", "http://localhost:8080"}
	origins = append(origins, cfg.Security.ParsedTrustedOrigins()...)
	return origins
}

// setupDatabase creates and configures the database connection pool
func setupDatabase(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
