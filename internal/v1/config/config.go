package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	Port      string
	JWTSecret string // required unless running in development

	// Persistence (absent = ephemeral mode, nothing survives restarts)
	MongoURI      string
	MongoDatabase string

	// Optional variables with defaults
	GoEnv    string
	LogLevel string

	// WebSocket handshake and browser access
	CORSOrigins []string

	// Token issuing
	TokenTTL time.Duration

	// Rate limiting store
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Rate Limits
	RateLimitAPI   string
	RateLimitLogin string
	RateLimitWS    string

	// Tracing
	OTLPEndpoint string

	// External identity provider (overrides the built-in HMAC verifier)
	JWKSDomain   string
	JWKSAudience string
}

// ValidateEnv validates all required environment variables and returns a Config object
// Returns an error if any required variable is missing or invalid
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Optional: GO_ENV (NODE_ENV accepted as an alias, defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = os.Getenv("NODE_ENV")
	}
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Required in production: JWT_SECRET (minimum 32 characters)
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		if !cfg.Development() {
			errors = append(errors, "JWT_SECRET is required in production")
		}
	} else if len(cfg.JWTSecret) < 32 {
		errors = append(errors, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	// Optional: MONGODB_URI (absent disables the store entirely)
	cfg.MongoURI = os.Getenv("MONGODB_URI")
	cfg.MongoDatabase = getEnvOrDefault("MONGODB_DB", "codesafe")

	// Optional: CORS_ORIGINS (comma list; empty = allow any origin)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, trimmed)
			}
		}
	}

	// Optional: TOKEN_TTL (defaults to 24h)
	ttlStr := getEnvOrDefault("TOKEN_TTL", "24h")
	ttl, err := time.ParseDuration(ttlStr)
	if err != nil || ttl <= 0 {
		errors = append(errors, fmt.Sprintf("TOKEN_TTL must be a positive duration (got '%s')", ttlStr))
	} else {
		cfg.TokenTTL = ttl
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			// Default to localhost:6379 if not specified
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Rate Limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitAPI = getEnvOrDefault("RATE_LIMIT_API", "300-M")
	cfg.RateLimitLogin = getEnvOrDefault("RATE_LIMIT_LOGIN", "30-M")
	cfg.RateLimitWS = getEnvOrDefault("RATE_LIMIT_WS", "60-M")

	// Tracing (absent = tracing disabled)
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	// External identity provider (both must be set to take effect)
	cfg.JWKSDomain = os.Getenv("JWKS_DOMAIN")
	cfg.JWKSAudience = os.Getenv("JWKS_AUDIENCE")
	if (cfg.JWKSDomain == "") != (cfg.JWKSAudience == "") {
		errors = append(errors, "JWKS_DOMAIN and JWKS_AUDIENCE must be set together")
	}

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// Development reports whether the server runs with relaxed checks.
func (c *Config) Development() bool {
	return c.GoEnv == "development"
}

// StoreEnabled reports whether a persistence backend is configured.
func (c *Config) StoreEnabled() bool {
	return c.MongoURI != ""
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"go_env", cfg.GoEnv,
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"mongodb_uri", redactSecret(cfg.MongoURI),
		"mongodb_db", cfg.MongoDatabase,
		"cors_origins", cfg.CORSOrigins,
		"token_ttl", cfg.TokenTTL,
		"redis_enabled", cfg.RedisEnabled,
		"log_level", cfg.LogLevel,
		"rate_limit_api", cfg.RateLimitAPI,
		"rate_limit_ws", cfg.RateLimitWS,
		"otlp_endpoint", cfg.OTLPEndpoint,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
