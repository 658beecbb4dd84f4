// Package download fetches remote image bytes into a sink.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// ChunkSize is the fixed buffer size used when streaming a body into a sink.
const ChunkSize = 8 * 1024

// ErrUnsupportedScheme is returned by Mux for URLs without a registered downloader.
var ErrUnsupportedScheme = errors.New("download: unsupported url scheme")

// Downloader performs a blocking fetch of url into sink. Implementations
// close sink on every path and never retry; a nil error means the full body
// was written.
type Downloader interface {
	Fetch(ctx context.Context, url string, sink io.WriteCloser) error
}

// Func adapts a function to Downloader.
type Func func(ctx context.Context, url string, sink io.WriteCloser) error

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, url string, sink io.WriteCloser) error {
	return f(ctx, url, sink)
}

// Mux routes fetches by URL scheme.
type Mux struct {
	schemes map[string]Downloader
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{schemes: make(map[string]Downloader)}
}

// Handle registers d for scheme.
func (m *Mux) Handle(scheme string, d Downloader) {
	m.schemes[strings.ToLower(scheme)] = d
}

// Schemes returns the registered schemes.
func (m *Mux) Schemes() []string {
	out := make([]string, 0, len(m.schemes))
	for s := range m.schemes {
		out = append(out, s)
	}
	return out
}

// Fetch dispatches to the downloader registered for the scheme of rawURL.
func (m *Mux) Fetch(ctx context.Context, rawURL string, sink io.WriteCloser) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		sink.Close()
		return fmt.Errorf("parse url: %w", err)
	}
	d, ok := m.schemes[strings.ToLower(u.Scheme)]
	if !ok {
		sink.Close()
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return d.Fetch(ctx, rawURL, sink)
}

// Copy streams src into sink in ChunkSize pieces and closes sink. The first
// error wins.
func Copy(ctx context.Context, sink io.WriteCloser, src io.Reader) error {
	buf := make([]byte, ChunkSize)
	_, err := io.CopyBuffer(sink, &ctxReader{ctx: ctx, r: src}, buf)
	if cerr := sink.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close sink: %w", cerr)
	}
	return err
}

// ctxReader stops a copy between chunks once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
