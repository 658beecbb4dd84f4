package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminHandler exposes the lifecycle hooks a host would otherwise drive from
// pause and teardown events.
type AdminHandler struct {
	pipeline Pipeline
	logger   *slog.Logger
}

func NewAdminHandler(pipeline Pipeline, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		pipeline: pipeline,
		logger:   logger,
	}
}

func (h *AdminHandler) Flush(c *gin.Context) {
	h.pipeline.Flush()
	h.logger.Info("disk cache flush requested", "remote_addr", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"status": "flushed"})
}

func (h *AdminHandler) Cancel(c *gin.Context) {
	var cancelled int
	if !h.pipeline.Call(func() { cancelled = h.pipeline.CancelAllTasks() }) {
		handleError(c, h.logger, ErrUnavailable)
		return
	}
	h.logger.Info("task cancellation requested", "cancelled", cancelled, "remote_addr", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}
