package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/havenhub/haven-backend-go/internal/api/handlers"
	"github.com/havenhub/haven-backend-go/internal/api/middleware"
	"github.com/havenhub/haven-backend-go/internal/config"
	"github.com/havenhub/haven-backend-go/internal/core/automation"
	"github.com/havenhub/haven-backend-go/internal/core/registry"
	"github.com/havenhub/haven-backend-go/internal/websocket"
)

// NewRouter creates and configures the main HTTP router
func NewRouter(cfg *config.Config, devices *registry.Service, engine *automation.Engine, wsHub *websocket.Hub, logger *logrus.Logger) *gin.Engine {
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	router.Use(middleware.ErrorHandlingMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.MetricsMiddleware())

	h := handlers.NewHandlers(cfg, devices, engine, wsHub, logger)

	// Public routes
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", h.WebSocketHandler(wsHub))

	api := router.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", h.Login)
			auth.POST("/validate", h.ValidateToken)
		}

		protected := api.Group("/")
		if cfg.Auth.Enabled {
			protected.Use(middleware.AuthMiddleware(cfg.Auth.JWTSecret))
		}
		{
			devices := protected.Group("/devices")
			{
				devices.GET("", h.GetDevices)
				devices.GET("/stats", h.GetDeviceStats)
				devices.POST("", h.RegisterDevice)
				devices.GET("/:id", h.GetDevice)
				devices.PUT("/:id", h.UpdateDeviceInfo)
				devices.DELETE("/:id", h.DeleteDevice)
				devices.PUT("/:id/state", h.UpdateDeviceState)
				devices.POST("/:id/control", h.ControlDevice)
				devices.GET("/:id/history", h.GetDeviceHistory)
				devices.POST("/:id/online", h.MarkDeviceOnline)
				devices.POST("/:id/offline", h.MarkDeviceOffline)
			}

			automations := protected.Group("/automations")
			{
				automations.GET("", h.GetAutomations)
				automations.GET("/stats", h.GetAutomationStats)
				automations.GET("/export", h.ExportAutomations)
				automations.POST("/import", h.ImportAutomations)
				automations.POST("", h.CreateAutomation)
				automations.POST("/generate", h.GenerateAutomation)
				automations.GET("/:id", h.GetAutomation)
				automations.PUT("/:id", h.UpdateAutomation)
				automations.DELETE("/:id", h.DeleteAutomation)
				automations.POST("/:id/enable", h.EnableAutomation)
				automations.POST("/:id/disable", h.DisableAutomation)
				automations.POST("/:id/trigger", h.TriggerAutomation)
				automations.GET("/:id/logs", h.GetAutomationLogs)
			}

			ws := protected.Group("/websocket")
			{
				ws.GET("/stats", h.GetWebSocketStats)
			}
		}
	}

	return router
}
