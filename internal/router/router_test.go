package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muandane/special-stack/thumbwall/internal/cache"
	"github.com/muandane/special-stack/thumbwall/internal/decode"
	"github.com/muandane/special-stack/thumbwall/internal/download"
	"github.com/muandane/special-stack/thumbwall/internal/photowall"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func init() {
	gin.SetMode(gin.TestMode)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

type server struct {
	handler http.Handler
	ctrl    *photowall.Controller
}

func newServer(t *testing.T, d download.Downloader, wait time.Duration) *server {
	t.Helper()
	set := metrics.NewSet()
	ctrl, err := photowall.New(photowall.Options{
		Memory:     cache.NewMemory[image.Image](1<<20, decode.PixelBytes),
		Downloader: d,
		Workers:    2,
		Logger:     discard,
		Metrics:    set,
	})
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)

	h := NewRouter(discard).Setup(ctrl, Options{
		Schemes:         []string{"http", "https"},
		AdminIPPrefixes: []string{"127.0.0.1"},
		Metrics:         set,
		Wait:            wait,
	})
	return &server{handler: h, ctrl: ctrl}
}

func (s *server) do(method, target, remote string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if remote != "" {
		req.RemoteAddr = remote
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func thumbnailPath(u string) string {
	return "/thumbnails?url=" + url.QueryEscape(u)
}

func serving(body []byte) download.Func {
	return func(ctx context.Context, _ string, sink io.WriteCloser) error {
		return download.Copy(ctx, sink, bytes.NewReader(body))
	}
}

func TestThumbnailServedAndRevalidated(t *testing.T) {
	s := newServer(t, serving(pngBytes(t)), time.Second)

	rec := s.do(http.MethodGet, thumbnailPath("https://img.example.com/a.png"), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 4), img.Bounds())

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	rec = s.do(http.MethodGet, thumbnailPath("https://img.example.com/a.png"), "", http.Header{"If-None-Match": {etag}})
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestThumbnailNotFoundOnFailure(t *testing.T) {
	failing := download.Func(func(_ context.Context, _ string, sink io.WriteCloser) error {
		_ = sink.Close()
		return &download.StatusError{URL: "https://img.example.com/missing.png", StatusCode: http.StatusNotFound}
	})
	s := newServer(t, failing, time.Second)

	rec := s.do(http.MethodGet, thumbnailPath("https://img.example.com/missing.png"), "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(http.StatusNotFound), body["code"])
}

func TestThumbnailRejectsBadScheme(t *testing.T) {
	s := newServer(t, serving(nil), time.Second)
	rec := s.do(http.MethodGet, thumbnailPath("ftp://img.example.com/a.png"), "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestThumbnailTimesOut(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	slow := download.Func(func(ctx context.Context, _ string, sink io.WriteCloser) error {
		defer sink.Close()
		select {
		case <-gate:
			return errors.New("released")
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	s := newServer(t, slow, 20*time.Millisecond)

	rec := s.do(http.MethodGet, thumbnailPath("https://img.example.com/slow.png"), "", nil)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	// the abandoned task is still tracked until cancelled
	rec = s.do(http.MethodPost, "/admin/cancel", "127.0.0.1:5000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cancelled":1}`, rec.Body.String())
}

func TestHealthStatsAndMetrics(t *testing.T) {
	s := newServer(t, serving(pngBytes(t)), time.Second)
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, thumbnailPath("https://img.example.com/a.png"), "", nil).Code)

	rec := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats photowall.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Memory.EntryCount)
	assert.Equal(t, 0, stats.PendingTasks)
	assert.False(t, stats.DiskEnabled)

	rec = s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "thumbwall_memory_misses_total 1")
	assert.Contains(t, rec.Body.String(), "thumbnail_requests_total 1")
}

func TestAdminRoutesRestricted(t *testing.T) {
	s := newServer(t, serving(nil), time.Second)

	rec := s.do(http.MethodPost, "/admin/flush", "203.0.113.7:5000", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/admin/flush", "127.0.0.1:5000", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAfterShutdown(t *testing.T) {
	s := newServer(t, serving(nil), time.Second)
	s.ctrl.Close()

	assert.Equal(t, http.StatusServiceUnavailable, s.do(http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, s.do(http.MethodGet, "/stats", "", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable,
		s.do(http.MethodGet, thumbnailPath("https://img.example.com/a.png"), "", nil).Code)
}

func TestCancelAnswersWaitingRequest(t *testing.T) {
	started := make(chan struct{}, 1)
	gate := make(chan struct{})
	defer close(gate)
	slow := download.Func(func(ctx context.Context, _ string, sink io.WriteCloser) error {
		defer sink.Close()
		started <- struct{}{}
		select {
		case <-gate:
			return errors.New("released")
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	s := newServer(t, slow, 10*time.Second)

	codes := make(chan int, 1)
	go func() {
		codes <- s.do(http.MethodGet, thumbnailPath("https://img.example.com/slow.png"), "", nil).Code
	}()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("download never started")
	}

	rec := s.do(http.MethodPost, "/admin/cancel", "127.0.0.1:5000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cancelled":1}`, rec.Body.String())

	select {
	case code := <-codes:
		assert.Equal(t, http.StatusServiceUnavailable, code)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting request not answered after cancel")
	}
}
