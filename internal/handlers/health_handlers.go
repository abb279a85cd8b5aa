package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/01moynul/edu-content-api/internal/router"
)

// HealthCheck handles GET /api/health.
// It pings the primary and probes the replica, which also restores replica
// reads if the replica has come back.
func (h *Handlers) HealthCheck(c *gin.Context) {
	ctx := c.Request.Context()

	status := "healthy"
	primary := "connected"

	// 1. --- Primary ---
	err := h.Router.DoPrimary(ctx, func(ctx context.Context, conn router.Conn) error {
		var one int
		return conn.GetContext(ctx, &one, "SELECT 1")
	})
	if err != nil {
		primary = "disconnected: " + err.Error()
		status = "unhealthy"
	}

	// 2. --- Replica ---
	replica := "disconnected"
	if h.Router.ProbeReplicaHealth(ctx) {
		replica = "connected"
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":  status,
		"primary": primary,
		"replica": replica,
	})
}
