package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/leyline/core/internal/api/handlers"
	"github.com/leyline/core/internal/api/middleware"
	"github.com/leyline/core/internal/config"
	"github.com/leyline/core/internal/services"
)

// Dependencies are the services the HTTP layer is built on
type Dependencies struct {
	Pipeline   *services.Pipeline
	Store      *services.EmailStore
	Profiles   *services.ProfileService
	Hub        *services.EventHub
	LogService *services.LogService
	APIKeys    *middleware.APIKeyManager
}

// SetupRouter initializes and returns the Gin router with all routes configured
func SetupRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	router := gin.Default()

	origins := cfg.GetCORSOrigins()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", middleware.APIKeyHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: len(origins) != 1 || origins[0] != "*",
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middleware.RequestAudit(deps.LogService))

	webhookHandler := handlers.NewWebhookHandler(deps.Pipeline)
	emailHandler := handlers.NewEmailHandler(deps.Store, deps.Pipeline, deps.Hub, deps.LogService)
	profileHandler := handlers.NewProfileHandler(deps.Profiles)

	// Health check and push endpoint (no API key)
	router.GET("/health", handlers.HealthCheck)
	router.POST("/webhooks/gmail", webhookHandler.Receive)

	api := router.Group("/api")
	api.Use(middleware.APIKeyMiddleware(deps.APIKeys, deps.LogService))
	{
		emails := api.Group("/emails")
		{
			emails.GET("", emailHandler.ListEmails)
			emails.GET("/events", emailHandler.Events) // must be before /:id
			emails.GET("/:id", emailHandler.GetEmail)
			emails.GET("/:id/logs", emailHandler.GetEmailLogs)
			emails.POST("/:id/reprocess", emailHandler.Reprocess)
		}

		profiles := api.Group("/profiles")
		{
			profiles.GET("/:email", profileHandler.GetProfile)
			profiles.PUT("/:email", profileHandler.UpdateProfile)
			profiles.POST("/:email/context", profileHandler.AddContext)
		}
	}

	return router
}
