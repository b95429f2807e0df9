package routes

import (
	"github.com/gin-gonic/gin"

	"phantomrecorder/backend/internal/api/handlers"
	"phantomrecorder/backend/internal/api/middleware"
)

func SetupRoutes(h *handlers.Handlers) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(middleware.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())

	v1 := router.Group("/api/v1")
	{
		// Public routes (no auth required)
		v1.POST("/auth/token", h.IssueToken)
		v1.GET("/health", handlers.HealthCheck)

		// Browsers cannot set headers on WebSocket upgrades, so only this
		// route takes the token from the query string.
		v1.GET("/ws/events", middleware.StreamAuthMiddleware(h.Issuer), h.EventStream)

		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware(h.Issuer))
		{
			recording := protected.Group("/recording")
			{
				recording.GET("", h.ListRecordings)
				recording.POST("/start", h.StartRecording)
				recording.POST("/stop", h.StopRecording)
				recording.GET("/status", h.GetRecordingStatus)
				recording.POST("/event", h.RecordEvent)
				recording.DELETE("/:session_id", h.DeleteRecording)
			}
		}
	}

	return router
}
