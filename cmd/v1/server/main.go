package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/davidatlihan/codesafe/internal/v1/api"
	"github.com/davidatlihan/codesafe/internal/v1/auth"
	"github.com/davidatlihan/codesafe/internal/v1/config"
	"github.com/davidatlihan/codesafe/internal/v1/health"
	"github.com/davidatlihan/codesafe/internal/v1/logging"
	"github.com/davidatlihan/codesafe/internal/v1/ratelimit"
	"github.com/davidatlihan/codesafe/internal/v1/room"
	"github.com/davidatlihan/codesafe/internal/v1/store"
	"github.com/davidatlihan/codesafe/internal/v1/tracing"
	"github.com/davidatlihan/codesafe/internal/v1/transport"
	"github.com/davidatlihan/codesafe/internal/v1/types"
)

// developmentSecret signs tokens when JWT_SECRET is absent. Config
// validation only allows that in development mode.
const developmentSecret = "codesafe-development-secret-do-not-use-in-prod"

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.Development()); err != nil {
		slog.Error("Logger initialization failed", "error", err)
		os.Exit(1)
	}

	if cfg.Development() {
		slog.Info("Running in DEVELOPMENT MODE")
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	// --- Tracing (Optional) ---
	tracerShutdown := func(context.Context) error { return nil }
	if cfg.OTLPEndpoint != "" {
		tp, err := tracing.InitTracer(ctx, "codesafe-server", cfg.OTLPEndpoint)
		if err != nil {
			slog.Error("Failed to initialize tracing, continuing without it", "error", err)
		} else {
			tracerShutdown = tp.Shutdown
			slog.Info("✅ Tracing initialized", "endpoint", cfg.OTLPEndpoint)
		}
	}

	// --- Token signing and verification ---
	secret := cfg.JWTSecret
	if secret == "" {
		slog.Warn("⚠️ JWT_SECRET missing, using built-in development secret - DO NOT USE IN PRODUCTION")
		secret = developmentSecret
	}
	issuer := auth.NewIssuer([]byte(secret), cfg.TokenTTL)

	// Sockets and REST verify against the same source: the built-in HMAC
	// verifier by default, or an external JWKS provider when configured.
	var verifier types.TokenVerifier = auth.NewVerifier([]byte(secret))
	if cfg.JWKSDomain != "" {
		jwksVerifier, err := auth.NewJWKSVerifier(ctx, cfg.JWKSDomain, cfg.JWKSAudience)
		if err != nil {
			slog.Error("Failed to create JWKS verifier", "error", err)
			os.Exit(1)
		}
		verifier = jwksVerifier
		slog.Info("✅ JWKS verifier initialized", "domain", cfg.JWKSDomain, "audience", cfg.JWKSAudience)
	}

	// --- Document store (Optional) ---
	gateway := store.New(cfg.MongoURI, cfg.MongoDatabase)
	if gateway.Enabled() {
		if gateway.EnsureConnection(ctx) {
			slog.Info("✅ Document store connected", "database", cfg.MongoDatabase)
		} else {
			slog.Warn("⚠️ Document store unreachable, running ephemeral")
		}
	} else {
		slog.Info("Running ephemeral (MONGODB_URI not set), project state will not survive restarts")
	}

	// --- Redis for rate limit counters (Optional) ---
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			slog.Error("Failed to connect to Redis, rate limits fall back to local counters", "error", err)
			_ = redisClient.Close()
			redisClient = nil
		} else {
			slog.Info("✅ Redis connected for shared rate limit counters", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("Running with process-local rate limit counters (Redis disabled)")
	}

	limiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		slog.Error("Rate limiter configuration invalid", "error", err)
		os.Exit(1)
	}

	// --- Assemble the server ---
	// The draining flag is shared by the hub and the REST handlers so one
	// store makes both surfaces refuse new work.
	draining := new(atomic.Bool)
	registry := room.NewRegistry(gateway)
	hub := transport.NewHub(registry, verifier, limiter, cfg.CORSOrigins, draining)
	handlers := api.NewHandlers(registry, gateway, verifier, issuer, draining)

	router := api.NewRouter(api.RouterDeps{
		Handlers:    handlers,
		Health:      health.NewHandler(gateway),
		Hub:         hub,
		Limiter:     limiter,
		CORSOrigins: cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Collaboration server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// The context gives in-flight work 30 seconds to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Refuse new sockets and REST writes, then flush and close every room
	hub.Shutdown(shutdownCtx)

	// Shutdown HTTP server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	// Release external connections
	if err := gateway.Close(shutdownCtx); err != nil {
		slog.Error("Failed to close store connection:", "error", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		}
	}
	if err := tracerShutdown(shutdownCtx); err != nil {
		slog.Error("Failed to flush traces:", "error", err)
	}

	slog.Info("Server exiting")
}
