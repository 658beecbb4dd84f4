package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// HTTP fetches http and https URLs.
type HTTP struct {
	client    *http.Client
	limiters  *RateLimiters
	userAgent string
	logger    *slog.Logger
}

// HTTPOptions configures an HTTP downloader.
type HTTPOptions struct {
	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper
	// RPS and Burst bound requests per host; RPS <= 0 disables limiting.
	RPS       float64
	Burst     int
	UserAgent string
	Logger    *slog.Logger
}

// NewHTTP returns an HTTP downloader. The client has no timeout; a hung
// fetch occupies only its own worker.
func NewHTTP(opts HTTPOptions) *HTTP {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	h := &HTTP{userAgent: opts.UserAgent, logger: logger}
	if opts.RPS > 0 {
		h.limiters = &RateLimiters{RPS: opts.RPS, Burst: opts.Burst, Logger: logger}
		transport = &limitedTransport{limiters: h.limiters, next: transport}
	}
	h.client = &http.Client{Transport: transport}
	return h
}

// Fetch streams the response body for url into sink.
func (h *HTTP) Fetch(ctx context.Context, url string, sink io.WriteCloser) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		sink.Close()
		return fmt.Errorf("build request: %w", err)
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		sink.Close()
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		sink.Close()
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	if err := Copy(ctx, sink, resp.Body); err != nil {
		return fmt.Errorf("read body of %s: %w", url, err)
	}
	if h.limiters != nil {
		h.limiters.Recover(req.URL.Host)
	}
	return nil
}

type limitedTransport struct {
	limiters *RateLimiters
	next     http.RoundTripper
}

func (t *limitedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	return t.limiters.RoundTripper(t.next, r.URL.Host).RoundTrip(r)
}
