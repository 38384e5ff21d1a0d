// Package health exposes the liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/davidatlihan/codesafe/internal/v1/logging"
)

// StorePinger is the slice of the persistence gateway the probes need.
type StorePinger interface {
	Enabled() bool
	Ping(ctx context.Context) error
}

// Handler manages health check endpoints
type Handler struct {
	store StorePinger
}

// NewHandler creates a new health check handler. A nil store means the
// server runs ephemeral and readiness skips the store check.
func NewHandler(store StorePinger) *Handler {
	return &Handler{store: store}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles the basic health endpoint
// GET /api/health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Liveness handles the liveness probe endpoint
// GET /health/live
// Returns 200 if the process is alive (no dependency checks)
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint
// GET /health/ready
// Returns 200 only if all critical dependencies are healthy
// Returns 503 if any dependency is unhealthy
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	storeStatus := h.checkStore(ctx)
	checks["store"] = storeStatus
	if storeStatus == "unhealthy" {
		allHealthy = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}

// checkStore verifies the document store connection. A server without a
// configured store is still ready; it just never persists.
func (h *Handler) checkStore(ctx context.Context) string {
	if h.store == nil || !h.store.Enabled() {
		return "disabled"
	}

	if err := h.store.Ping(ctx); err != nil {
		logging.Error(ctx, "store health check failed", zap.Error(err))
		return "unhealthy"
	}

	return "healthy"
}
