package server

import (
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/kestrelworks/infograph-backend/internal/handlers"
)

type RouterConfig struct {
	ServiceName     string
	MediaDir        string
	SessionHandler  *handlers.SessionHandler
	LibraryHandler  *handlers.LibraryHandler
	RealtimeHandler *handlers.RealtimeHandler
	LiveHandler     *handlers.LiveHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := []string{"http://localhost:3000", "http://localhost:5173"}
	if raw := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); raw != "" {
		origins = strings.Split(raw, ",")
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))
	router.Use(otelgin.Middleware(cfg.ServiceName))

	router.GET("/healthcheck", handlers.HealthCheck)

	// Mirrored media when running without a GCS bucket.
	if cfg.MediaDir != "" {
		router.Static("/media", cfg.MediaDir)
	}

	// SSE
	router.GET("/sse/stream", cfg.RealtimeHandler.SSEStream)
	router.POST("/sse/subscribe", cfg.RealtimeHandler.SSESubscribe)
	router.POST("/sse/unsubscribe", cfg.RealtimeHandler.SSEUnsubscribe)

	api := router.Group("/api")
	{
		// Session
		api.GET("/session", cfg.SessionHandler.GetSnapshot)
		api.POST("/session/generate", cfg.SessionHandler.Generate)
		api.POST("/session/edit", cfg.SessionHandler.Edit)
		api.POST("/session/verify", cfg.SessionHandler.Verify)
		api.POST("/session/animate", cfg.SessionHandler.Animate)
		api.POST("/session/narrate", cfg.SessionHandler.Narrate)
		api.POST("/session/refresh-context", cfg.SessionHandler.RefreshContext)
		api.POST("/session/select", cfg.SessionHandler.Select)
		api.POST("/session/reset", cfg.SessionHandler.Reset)
		api.POST("/session/topic-audio", cfg.SessionHandler.TopicAudio)

		// Library
		api.GET("/library", cfg.LibraryHandler.GetAll)
		api.POST("/library", cfg.LibraryHandler.Save)
		api.DELETE("/library/:id", cfg.LibraryHandler.Delete)

		// Live discussion
		api.GET("/live", cfg.LiveHandler.Live)
	}

	return router
}
