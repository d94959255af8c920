package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/havenhub/haven-backend-go/internal/config"
	"github.com/havenhub/haven-backend-go/internal/core/automation"
	"github.com/havenhub/haven-backend-go/internal/core/registry"
	"github.com/havenhub/haven-backend-go/internal/websocket"
	"github.com/havenhub/haven-backend-go/pkg/errors"
	"github.com/havenhub/haven-backend-go/pkg/utils"
)

// Handlers holds all HTTP handlers and their dependencies
type Handlers struct {
	cfg     *config.Config
	log     *logrus.Logger
	devices *registry.Service
	engine  *automation.Engine
	wsHub   *websocket.Hub
}

// NewHandlers creates a new handlers instance
func NewHandlers(cfg *config.Config, devices *registry.Service, engine *automation.Engine, wsHub *websocket.Hub, logger *logrus.Logger) *Handlers {
	return &Handlers{
		cfg:     cfg,
		log:     logger,
		devices: devices,
		engine:  engine,
		wsHub:   wsHub,
	}
}

// sendServiceError maps service errors onto HTTP status codes
func (h *Handlers) sendServiceError(c *gin.Context, err error) {
	utils.SendError(c, errors.GetStatusCode(err), err.Error())
}

// actor identifies who performed a request, for history attribution
func actor(c *gin.Context) string {
	if username, exists := c.Get("username"); exists {
		if name, ok := username.(string); ok && name != "" {
			return "user:" + name
		}
	}
	return "api"
}
