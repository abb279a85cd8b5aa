package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"

	"github.com/01moynul/edu-content-api/internal/router"
)

// Handlers struct holds all dependencies for our handlers.
type Handlers struct {
	Router *router.Router // Routes reads to the replica and writes to the primary
	Logger logr.Logger
	Now    func() time.Time
}

// New wires the handlers around a shared router.
func New(r *router.Router, logger logr.Logger) *Handlers {
	return &Handlers{
		Router: r,
		Logger: logger,
		Now:    time.Now,
	}
}

func respondData(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

// respondDBError maps a routed database failure to an HTTP status.
func (h *Handlers) respondDBError(c *gin.Context, action string, err error) {
	status := http.StatusInternalServerError
	var connErr *router.ConnectionError
	switch {
	case errors.As(err, &connErr):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	h.Logger.Error(err, "database request failed", "action", action, "status", status)
	respondError(c, status, action+": "+err.Error())
}
