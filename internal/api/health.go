package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"echo-civic-assistant/backend/pkg/health"
)

// Counter reports a live count, such as sessions or websocket clients
type Counter interface {
	Count() int
}

// CounterFunc adapts a function to Counter
type CounterFunc func() int

// Count implements Counter
func (f CounterFunc) Count() int { return f() }

// Handler serves the operator status endpoint
type Handler struct {
	Checker   *health.Checker
	Sessions  Counter
	Clients   Counter
	Version   string
	StartedAt time.Time
}

// StatusResponse represents the status response structure
type StatusResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	Sessions  int       `json:"sessions"`
	Clients   int       `json:"clients"`
}

// StatusHandler reports health plus live session and connection counts
func (h *Handler) StatusHandler(c *gin.Context) {
	status := "ok"
	if h.Checker != nil && !h.Checker.IsSystemHealthy() {
		status = "degraded"
	}

	response := StatusResponse{
		Status:    status,
		Timestamp: time.Now(),
		Version:   h.Version,
		Uptime:    time.Since(h.StartedAt).Round(time.Second).String(),
	}
	if h.Sessions != nil {
		response.Sessions = h.Sessions.Count()
	}
	if h.Clients != nil {
		response.Clients = h.Clients.Count()
	}
	c.JSON(http.StatusOK, response)
}

// RegisterStatusRoutes registers the status route on an authenticated group
func (h *Handler) RegisterStatusRoutes(router *gin.RouterGroup, guard gin.HandlerFunc) {
	router.GET("/assistant/status", guard, h.StatusHandler)
}
