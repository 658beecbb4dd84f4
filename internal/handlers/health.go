package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	pipeline Pipeline
	logger   *slog.Logger
}

func NewHealthHandler(pipeline Pipeline, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		pipeline: pipeline,
		logger:   logger,
	}
}

// Get reports healthy while the controller loop is still answering.
func (h *HealthHandler) Get(c *gin.Context) {
	if !h.pipeline.Call(func() {}) {
		h.logger.Warn("health check failed: pipeline stopped", "remote_addr", c.ClientIP())
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
