package download

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink is a bytes.Buffer that remembers whether it was closed.
type recordingSink struct {
	bytes.Buffer
	closed int
}

func (s *recordingSink) Close() error {
	s.closed++
	return nil
}

func TestHTTPFetchStreamsBody(t *testing.T) {
	body := strings.Repeat("thumbnail-bytes-", 2000) // larger than one chunk
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "thumbwall-test", r.UserAgent())
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	h := NewHTTP(HTTPOptions{UserAgent: "thumbwall-test"})
	sink := &recordingSink{}
	require.NoError(t, h.Fetch(context.Background(), srv.URL+"/a.jpg", sink))
	assert.Equal(t, body, sink.String())
	assert.Equal(t, 1, sink.closed)
}

func TestHTTPFetchFailsOnStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	sink := &recordingSink{}
	err := NewHTTP(HTTPOptions{}).Fetch(context.Background(), srv.URL, sink)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, 1, sink.closed)
	assert.Zero(t, sink.Len())
}

func TestHTTPFetchFailsOnConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	sink := &recordingSink{}
	assert.Error(t, NewHTTP(HTTPOptions{}).Fetch(context.Background(), url, sink))
	assert.Equal(t, 1, sink.closed)
}

func TestHTTPFetchHonoursCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "late")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &recordingSink{}
	assert.Error(t, NewHTTP(HTTPOptions{}).Fetch(ctx, srv.URL, sink))
	assert.Equal(t, 1, sink.closed)
}

func TestRateLimiterBacksOffOn429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	h := NewHTTP(HTTPOptions{RPS: 100, Burst: 10})
	err := h.Fetch(context.Background(), srv.URL, &recordingSink{})
	require.Error(t, err)

	host := strings.TrimPrefix(srv.URL, "http://")
	assert.InDelta(t, 50.0, h.limiters.Limit(host), 0.001)

	h.limiters.Recover(host)
	assert.InDelta(t, 75.0, h.limiters.Limit(host), 0.001)
}

func TestMuxDispatchesByScheme(t *testing.T) {
	var got string
	m := NewMux()
	m.Handle("S3", Func(func(ctx context.Context, url string, sink io.WriteCloser) error {
		got = url
		return sink.Close()
	}))

	require.NoError(t, m.Fetch(context.Background(), "s3://bucket/key.jpg", &recordingSink{}))
	assert.Equal(t, "s3://bucket/key.jpg", got)

	sink := &recordingSink{}
	err := m.Fetch(context.Background(), "ftp://host/file", sink)
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
	assert.Equal(t, 1, sink.closed)
}

func TestCopyStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &recordingSink{}
	err := Copy(ctx, sink, strings.NewReader("data"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sink.closed)
}
