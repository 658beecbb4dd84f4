package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

type StatsHandler struct {
	pipeline Pipeline
	logger   *slog.Logger
}

func NewStatsHandler(pipeline Pipeline, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		pipeline: pipeline,
		logger:   logger,
	}
}

func (h *StatsHandler) Get(c *gin.Context) {
	stats, ok := h.pipeline.Stats()
	if !ok {
		handleError(c, h.logger, ErrUnavailable)
		return
	}
	c.JSON(http.StatusOK, stats)
}
