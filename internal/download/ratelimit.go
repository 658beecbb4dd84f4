package download

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"
)

const (
	minLimit  = 0.1
	backOffBy = 2.0
	recoverBy = 1.5
)

// RateLimiters keeps one token bucket per host. A 429 response halves the
// host's rate once per round trip; Recover raises it back towards RPS.
type RateLimiters struct {
	RPS     float64
	Burst   int
	Logger  *slog.Logger
	perHost map[string]*rate.Limiter
	mu      sync.Mutex
}

func (l *RateLimiters) clip(limit float64) float64 {
	if limit < minLimit {
		return minLimit
	}
	if limit > l.RPS {
		return l.RPS
	}
	return limit
}

func (l *RateLimiters) limiter(host string) *rate.Limiter {
	if l.perHost == nil {
		l.perHost = map[string]*rate.Limiter{}
	}
	rl, ok := l.perHost[host]
	if !ok {
		burst := l.Burst
		if burst <= 0 {
			burst = 1
		}
		rl = rate.NewLimiter(rate.Limit(l.RPS), burst)
		l.perHost[host] = rl
	}
	return rl
}

// Limit returns the current limit for host, or RPS for unseen hosts.
func (l *RateLimiters) Limit(host string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rl, ok := l.perHost[host]; ok {
		return float64(rl.Limit())
	}
	return l.RPS
}

func (l *RateLimiters) backOff(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rl := l.limiter(host)
	oldLimit := float64(rl.Limit())
	newLimit := l.clip(oldLimit / backOffBy)
	if oldLimit != newLimit && l.Logger != nil {
		l.Logger.Info("reducing rate limit", "host", host, "limit", strconv.FormatFloat(newLimit, 'f', 2, 64))
	}
	rl.SetLimit(rate.Limit(newLimit))
}

// Recover bumps the limit for host after a successful fetch.
func (l *RateLimiters) Recover(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rl, ok := l.perHost[host]
	if !ok {
		return
	}
	oldLimit := float64(rl.Limit())
	newLimit := l.clip(oldLimit * recoverBy)
	if newLimit != oldLimit && l.Logger != nil {
		l.Logger.Info("increasing rate limit", "host", host, "limit", strconv.FormatFloat(newLimit, 'f', 2, 64))
	}
	rl.SetLimit(rate.Limit(newLimit))
}

// RoundTripper wraps rt with the limiter for host.
func (l *RateLimiters) RoundTripper(rt http.RoundTripper, host string) http.RoundTripper {
	l.mu.Lock()
	rl := l.limiter(host)
	l.mu.Unlock()

	var reduceOnce sync.Once
	return &roundTripRateLimiter{
		rl: rl,
		tx: rt,
		slowDown: func() {
			reduceOnce.Do(func() { l.backOff(host) })
		},
	}
}

type roundTripRateLimiter struct {
	rl       *rate.Limiter
	tx       http.RoundTripper
	slowDown func()
}

func (t *roundTripRateLimiter) RoundTrip(r *http.Request) (*http.Response, error) {
	// Wait fails early when the context deadline cannot be met.
	if err := t.rl.Wait(r.Context()); err != nil {
		return nil, fmt.Errorf("rate limited: %w", err)
	}
	resp, err := t.tx.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		t.slowDown()
	}
	return resp, nil
}
