package handlers

import (
	"bytes"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/muandane/special-stack/thumbwall/internal/photowall"
)

// DefaultWait bounds how long a request waits for its thumbnail.
const DefaultWait = 30 * time.Second

type ThumbnailHandler struct {
	pipeline Pipeline
	logger   *slog.Logger
	wait     time.Duration
}

func NewThumbnailHandler(pipeline Pipeline, logger *slog.Logger, wait time.Duration) *ThumbnailHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if wait <= 0 {
		wait = DefaultWait
	}
	return &ThumbnailHandler{
		pipeline: pipeline,
		logger:   logger,
		wait:     wait,
	}
}

// Get serves GET /thumbnails?url=. Each HTTP request is one slot; the slot is
// released when the handler returns so late results are dropped.
func (h *ThumbnailHandler) Get(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		handleError(c, h.logger, &ValidationError{Field: "url", Message: "required"})
		return
	}

	key := h.pipeline.Key(url)
	etag := `"` + key + `"`
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}

	slot := uuid.NewString()
	logger := h.logger.With("slot", slot, "url", url, "key", key)
	results := make(chan image.Image, 1)
	tasks := make(chan *photowall.Task, 1)

	if !h.pipeline.Post(func() {
		tasks <- h.pipeline.RequestImageFor(slot, url, func(img image.Image) { results <- img })
	}) {
		handleError(c, logger, ErrUnavailable)
		return
	}
	defer h.pipeline.Post(func() { h.pipeline.Release(slot) })

	timer := time.NewTimer(h.wait)
	defer timer.Stop()

	// abandoned stays nil for memory hits, which never start a task
	var (
		img       image.Image
		abandoned <-chan struct{}
	)
	for done := false; !done; {
		select {
		case task := <-tasks:
			if task != nil {
				abandoned = task.Abandoned()
			}
		case img = <-results:
			done = true
		case <-abandoned:
			handleError(c, logger, ErrCancelled)
			return
		case <-timer.C:
			handleError(c, logger, ErrTimeout)
			return
		case <-c.Request.Context().Done():
			logger.Debug("client went away before thumbnail arrived")
			c.Abort()
			return
		}
	}

	if img == nil {
		handleError(c, logger, &NotFoundError{Resource: "thumbnail", ID: url})
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		handleError(c, logger, err)
		return
	}

	c.Header("ETag", etag)
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/png", buf.Bytes())
	logger.Debug("thumbnail served", "size", buf.Len(), "bounds", img.Bounds().String())
}
