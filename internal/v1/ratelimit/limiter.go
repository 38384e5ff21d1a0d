// Package ratelimit enforces per-caller request and connection limits.
// Counters live in Redis when configured, so replicas share limits; the
// fallback is a process-local memory store.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/davidatlihan/codesafe/internal/v1/config"
	"github.com/davidatlihan/codesafe/internal/v1/logging"
	"github.com/davidatlihan/codesafe/internal/v1/metrics"
	"github.com/davidatlihan/codesafe/internal/v1/types"
)

// identityKey is the gin context key the auth middleware stores the
// verified identity under. Kept in sync with the api package.
const identityKey = "identity"

// ErrLimitExceeded is returned when a caller runs over a connection limit.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// RateLimiter bundles the limiters protecting each surface of the server:
// the general API, the login endpoint, and WebSocket connects.
type RateLimiter struct {
	api         *limiter.Limiter
	login       *limiter.Limiter
	ws          *limiter.Limiter
	redisClient *redis.Client
}

// NewRateLimiter builds the limiter set from the configured rates
// (ulule format, e.g. "300-M"). With a Redis client the counters are
// shared across instances; without one they are process-local.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	apiRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPI)
	if err != nil {
		return nil, fmt.Errorf("invalid API rate: %w", err)
	}

	loginRate, err := limiter.NewRateFromFormatted(cfg.RateLimitLogin)
	if err != nil {
		return nil, fmt.Errorf("invalid login rate: %w", err)
	}

	wsRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWS)
	if err != nil {
		return nil, fmt.Errorf("invalid WS rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		store, err = sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		logging.Info(context.Background(), "✅ Rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Info(context.Background(), "Rate limiter using memory store")
	}

	return &RateLimiter{
		api:         limiter.New(store, apiRate),
		login:       limiter.New(store, loginRate),
		ws:          limiter.New(store, wsRate),
		redisClient: redisClient,
	}, nil
}

// callerKey identifies the caller for limiting purposes: the
// authenticated user when the auth middleware already ran, the client IP
// otherwise.
func callerKey(c *gin.Context) string {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(types.Identity); ok && id.UserID != "" {
			return "user:" + id.UserID
		}
	}
	return "ip:" + c.ClientIP()
}

// APIMiddleware enforces the general API limit. Attach it after the auth
// middleware so authenticated callers are limited per user rather than
// per IP.
func (rl *RateLimiter) APIMiddleware() gin.HandlerFunc {
	return rl.middleware(rl.api, "api", callerKey)
}

// LoginMiddleware enforces the login limit. Login happens before any
// token exists, so the key is always the client IP.
func (rl *RateLimiter) LoginMiddleware() gin.HandlerFunc {
	return rl.middleware(rl.login, "login", func(c *gin.Context) string {
		return "ip:" + c.ClientIP()
	})
}

// middleware runs one limiter with the given key derivation. A failing
// limiter store fails open: availability over strictness.
func (rl *RateLimiter) middleware(l *limiter.Limiter, limitType string, key func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		lctx, err := l.Get(ctx, key(c))
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.String("limit", limitType), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(limitType).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(limitType).Inc()
		c.Next()
	}
}

// CheckWebSocket enforces the per-IP connection limit before a socket is
// upgraded. A rejected handshake answers with a plain 429 since no
// WebSocket exists yet. Returns false when the connection must not
// proceed.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	lctx, err := rl.ws.Get(ctx, "ws:ip:"+c.ClientIP())
	if err != nil {
		logging.Error(ctx, "rate limiter store failed", zap.String("limit", "ws_ip"), zap.Error(err))
		return true
	}

	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_ip").Inc()
		c.Header("Retry-After", strconv.FormatInt(lctx.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections from this IP"})
		return false
	}

	metrics.RateLimitRequests.WithLabelValues("ws_ip").Inc()
	return true
}

// CheckWebSocketUser enforces the per-user connection limit. Runs after
// token verification, once the caller is known.
func (rl *RateLimiter) CheckWebSocketUser(ctx context.Context, userID string) error {
	lctx, err := rl.ws.Get(ctx, "ws:user:"+userID)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed", zap.String("limit", "ws_user"), zap.Error(err))
		return nil
	}

	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_user").Inc()
		return fmt.Errorf("user %s: %w", userID, ErrLimitExceeded)
	}

	return nil
}
