package router

import (
	"os"
	"time"

	"echo-civic-assistant/backend/internal/api"
	"echo-civic-assistant/backend/internal/ws"
	"echo-civic-assistant/backend/pkg/di"
	"echo-civic-assistant/backend/pkg/errors"
	"echo-civic-assistant/backend/pkg/jwt"
	"echo-civic-assistant/backend/pkg/logger"
	"echo-civic-assistant/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Track server start time for uptime calculations
var startTime = time.Now()

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	cfg := container.Config

	// Configure Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.Security.TrustedProxies); err != nil {
		container.Logger.Warn("Invalid trusted proxies, trusting none", "error", err.Error())
		_ = engine.SetTrustedProxies(nil)
	}

	// Use the logger middleware first to capture all requests
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))
	engine.Use(container.RateLimiter.Middleware())

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	c := r.Container
	jwtAuth := middleware.JWTAuthMiddleware(c.JWTService, r.Logger)

	r.Engine.GET("/health", c.Checker.Handler())
	r.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Engine.Group("/api/v1")
	v1.Use(jwtAuth)
	{
		assistantController := api.NewAssistantController(c.Sessions, c.Speech, c.Config.Assistant.MaxImageSize, r.Logger)
		assistantController.RegisterRoutes(v1)

		status := &api.Handler{
			Checker:   c.Checker,
			Sessions:  api.CounterFunc(c.Sessions.Count),
			Clients:   api.CounterFunc(c.Hub.ClientCount),
			Version:   os.Getenv("APP_VERSION"),
			StartedAt: startTime,
		}
		status.RegisterStatusRoutes(v1, middleware.RequirePermission(jwt.PermInspectStatus))
	}

	// WebSocket route; browsers pass the token as ?token=
	r.Engine.GET("/ws", jwtAuth, func(ctx *gin.Context) {
		ws.ServeWs(c.Hub, ctx)
	})
}

// corsMiddleware allows the configured origins and the WebSocket upgrade
// headers. A "*" entry allows any origin.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	anyOrigin := false
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			anyOrigin = true
		}
		set[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case origin == "":
		case anyOrigin:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		case set[origin]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		default:
			if c.Request.Method == "OPTIONS" {
				c.AbortWithStatus(403)
				return
			}
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, X-CSRF-Token, Authorization, Origin, Upgrade, Connection, Cache-Control")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
