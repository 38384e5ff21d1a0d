package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/davidatlihan/codesafe/internal/v1/health"
	"github.com/davidatlihan/codesafe/internal/v1/middleware"
	"github.com/davidatlihan/codesafe/internal/v1/ratelimit"
	"github.com/davidatlihan/codesafe/internal/v1/transport"
)

// RouterDeps bundles everything NewRouter needs to assemble the server.
type RouterDeps struct {
	Handlers    *Handlers
	Health      *health.Handler
	Hub         *transport.Hub
	Limiter     *ratelimit.RateLimiter
	CORSOrigins []string
}

// NewRouter builds the gin engine: the collaboration socket at the root,
// REST under /api, probes and metrics alongside.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware("codesafe-server"))

	// Cors
	corsConfig := cors.DefaultConfig()
	if len(deps.CORSOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = deps.CORSOrigins
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", middleware.HeaderXCorrelationID)
	router.Use(cors.New(corsConfig))

	// Collaboration socket
	router.GET("/", deps.Hub.ServeWs)

	// REST surface
	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/health", deps.Health.Health)

		authGroup := apiGroup.Group("/auth")
		authGroup.Use(deps.Handlers.RefuseWhenDraining())
		if deps.Limiter != nil {
			authGroup.Use(deps.Limiter.LoginMiddleware())
		}
		authGroup.POST("/login", deps.Handlers.Login)

		projects := apiGroup.Group("/projects")
		projects.Use(deps.Handlers.RefuseWhenDraining())
		projects.Use(deps.Handlers.RequireAuth())
		if deps.Limiter != nil {
			projects.Use(deps.Limiter.APIMiddleware())
		}
		projects.POST("/:id/permissions", deps.Handlers.SetPermission)
		projects.POST("/:id/suggestions/:sid/approve", deps.Handlers.ApproveSuggestion)
	}

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	router.GET("/health/live", deps.Health.Liveness)
	router.GET("/health/ready", deps.Health.Readiness)

	return router
}
