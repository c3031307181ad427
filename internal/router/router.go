package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"notifgate/internal/common"
	"notifgate/internal/config"
	"notifgate/internal/domain/client"
	"notifgate/internal/domain/notification"
	"notifgate/internal/middleware"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the handlers and collaborators the router mounts.
type Deps struct {
	Clients       *client.Handler
	Notifications *notification.Handler
	Store         Pinger
	Metrics       http.Handler
	RateLimiter   *middleware.RateLimiter
	Logger        *slog.Logger
}

// New creates and configures the Gin router with all middleware and routes.
func New(cfg *config.Config, deps Deps) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()

	// Global middleware stack (order matters)
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(common.LoggerOrDiscard(deps.Logger)))
	r.Use(middleware.CORS(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.Middleware())
	}

	r.GET("/health", healthCheck(deps.Store))
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	api := r.Group("/api/v1")
	{
		deps.Clients.RegisterRoutes(api)
		deps.Notifications.RegisterRoutes(api)
	}

	return r
}

// healthCheck handles GET /health
func healthCheck(store Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()

			if err := store.Ping(ctx); err != nil {
				common.Error(c, http.StatusServiceUnavailable, "storage unavailable: "+err.Error())
				return
			}
		}

		common.Success(c, http.StatusOK, gin.H{
			"status":  "ok",
			"service": "notifgate",
		})
	}
}
