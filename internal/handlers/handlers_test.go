package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muandane/special-stack/thumbwall/internal/photowall"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func init() {
	gin.SetMode(gin.TestMode)
}

// stubPipeline runs everything inline and answers every request with result.
type stubPipeline struct {
	closed    bool
	result    image.Image
	deliver   bool
	released  []string
	cancelled int
	flushed   int
}

func (s *stubPipeline) Post(fn func()) bool {
	if s.closed {
		return false
	}
	fn()
	return true
}

func (s *stubPipeline) Call(fn func()) bool { return s.Post(fn) }

func (s *stubPipeline) Key(url string) string { return "k" + fmt.Sprint(len(url)) }

func (s *stubPipeline) RequestImageFor(slot, url string, onResult func(image.Image)) *photowall.Task {
	if s.deliver {
		onResult(s.result)
	}
	return nil
}

func (s *stubPipeline) Release(slot string) { s.released = append(s.released, slot) }

func (s *stubPipeline) CancelAllTasks() int { return s.cancelled }

func (s *stubPipeline) Flush() { s.flushed++ }

func (s *stubPipeline) Stats() (photowall.Stats, bool) {
	return photowall.Stats{PendingTasks: 2}, !s.closed
}

func serve(h gin.HandlerFunc, method, target string) *httptest.ResponseRecorder {
	engine := gin.New()
	engine.Handle(method, "/x", h)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestThumbnailRequiresURL(t *testing.T) {
	h := NewThumbnailHandler(&stubPipeline{}, discard, time.Second)
	rec := serve(h.Get, http.MethodGet, "/x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation error", body.Message)
}

func TestThumbnailReleasesSlot(t *testing.T) {
	p := &stubPipeline{deliver: true, result: image.NewRGBA(image.Rect(0, 0, 2, 2))}
	h := NewThumbnailHandler(p, discard, time.Second)

	rec := serve(h.Get, http.MethodGet, "/x?url=http://h/a.png")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, p.released, 1)
	assert.Equal(t, `"k14"`, rec.Header().Get("ETag"))
}

func TestThumbnailTimeoutReleasesSlot(t *testing.T) {
	p := &stubPipeline{}
	h := NewThumbnailHandler(p, discard, 10*time.Millisecond)

	rec := serve(h.Get, http.MethodGet, "/x?url=http://h/a.png")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Len(t, p.released, 1)
}

func TestThumbnailNilResultIsNotFound(t *testing.T) {
	h := NewThumbnailHandler(&stubPipeline{deliver: true}, discard, time.Second)
	rec := serve(h.Get, http.MethodGet, "/x?url=http://h/a.png")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminHandlers(t *testing.T) {
	p := &stubPipeline{cancelled: 3}
	h := NewAdminHandler(p, discard)

	rec := serve(h.Cancel, http.MethodPost, "/x")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cancelled":3}`, rec.Body.String())

	rec = serve(h.Flush, http.MethodPost, "/x")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, p.flushed)
}

func TestStatsUnavailable(t *testing.T) {
	h := NewStatsHandler(&stubPipeline{closed: true}, discard)
	rec := serve(h.Get, http.MethodGet, "/x")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&NotFoundError{Resource: "thumbnail", ID: "x"}, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", &ValidationError{Field: "url"}), http.StatusBadRequest},
		{ErrTimeout, http.StatusGatewayTimeout},
		{ErrUnavailable, http.StatusServiceUnavailable},
		{ErrCancelled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := serve(func(c *gin.Context) { handleError(c, discard, tt.err) }, http.MethodGet, "/x")
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}
