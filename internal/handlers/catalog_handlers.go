package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/01moynul/edu-content-api/internal/models"
	"github.com/01moynul/edu-content-api/internal/router"
)

const (
	listFacultiesQuery = `SELECT id_facultad, nombre, color_hex FROM facultades ORDER BY nombre`
	listTopicsQuery    = `SELECT id_tema, nombre, descripcion FROM temas ORDER BY nombre`
)

// GetFaculties handles GET /api/facultades (replica).
func (h *Handlers) GetFaculties(c *gin.Context) {
	// 1. --- Query (replica, falls back to primary) ---
	// Start from an empty slice so an empty table encodes as [] not null
	faculties := []models.Faculty{}
	err := h.Router.Do(c.Request.Context(), listFacultiesQuery, func(ctx context.Context, conn router.Conn) error {
		faculties = faculties[:0] // The scope may run twice
		return conn.SelectContext(ctx, &faculties, listFacultiesQuery)
	})
	if err != nil {
		h.respondDBError(c, "Failed to list faculties", err)
		return
	}

	// 2. --- Send Response ---
	respondData(c, faculties)
}

// GetTopics handles GET /api/temas (replica).
func (h *Handlers) GetTopics(c *gin.Context) {
	// 1. --- Query (replica, falls back to primary) ---
	topics := []models.Topic{}
	err := h.Router.Do(c.Request.Context(), listTopicsQuery, func(ctx context.Context, conn router.Conn) error {
		topics = topics[:0]
		return conn.SelectContext(ctx, &topics, listTopicsQuery)
	})
	if err != nil {
		h.respondDBError(c, "Failed to list topics", err)
		return
	}

	// 2. --- Send Response ---
	respondData(c, topics)
}
