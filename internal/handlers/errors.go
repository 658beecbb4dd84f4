package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

var (
	// ErrTimeout is returned when a result did not arrive in time.
	ErrTimeout = errors.New("timed out waiting for thumbnail")
	// ErrUnavailable is returned once the pipeline has shut down.
	ErrUnavailable = errors.New("thumbnail pipeline is shut down")
	// ErrCancelled is returned when the task serving a request was cancelled.
	ErrCancelled = errors.New("thumbnail request cancelled")
)

func handleError(c *gin.Context, logger *slog.Logger, err error) {
	var (
		code       int
		message    string
		notFound   *NotFoundError
		validation *ValidationError
	)
	switch {
	case errors.As(err, &notFound):
		code, message = http.StatusNotFound, "resource not found"
	case errors.As(err, &validation):
		code, message = http.StatusBadRequest, "validation error"
	case errors.Is(err, ErrTimeout):
		code, message = http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrCancelled):
		code, message = http.StatusServiceUnavailable, "unavailable"
	default:
		code, message = http.StatusInternalServerError, "internal server error"
	}

	level := slog.LevelWarn
	if code >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logger.Log(c.Request.Context(), level, message,
		"error", err,
		"code", code,
		"path", c.Request.URL.Path,
	)

	c.AbortWithStatusJSON(code, ErrorResponse{
		Error:   err.Error(),
		Code:    code,
		Message: message,
	})
}
