package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/01moynul/edu-content-api/internal/handlers"
	"github.com/01moynul/edu-content-api/internal/middleware"
)

type Options struct {
	AllowedOrigin string
	JWTSecret     []byte // empty leaves write routes open
}

func SetupRouter(h *handlers.Handlers, opts Options) *gin.Engine {
	router := gin.Default()

	// --- APPLY THE CORS GUARD ---
	// This must be the very first thing the router uses
	router.Use(middleware.CORSMiddleware(opts.AllowedOrigin))

	api := router.Group("/api")
	{
		api.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "pong!"})
		})
		api.GET("/health", h.HealthCheck)

		// --- Read Routes (replica) ---
		api.GET("/facultades", h.GetFaculties)
		api.GET("/temas", h.GetTopics)
		api.GET("/contenidos", h.GetContents)
		api.GET("/contenidos/:id", h.GetContentDetail)
		api.GET("/search", h.SearchContents)

		// --- Write Routes (primary) ---
		write := api.Group("/")
		if len(opts.JWTSecret) > 0 {
			write.Use(middleware.AuthMiddleware(opts.JWTSecret))
		}
		{
			write.POST("/contenidos", h.CreateContent)
			write.DELETE("/contenidos/:id", h.DeleteContent)
		}
	}

	return router
}
