package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

type MetricsMiddleware struct {
	set              *metrics.Set
	requestCounter   *metrics.Counter
	responseTimeHist *metrics.Histogram
	responseSizeHist *metrics.Histogram
	thumbnailCounter *metrics.Counter
}

// NewMetricsMiddleware registers the HTTP metrics in set, which is also what
// ServeHTTP exposes.
func NewMetricsMiddleware(set *metrics.Set) *MetricsMiddleware {
	return &MetricsMiddleware{
		set:              set,
		requestCounter:   set.NewCounter("http_requests_total"),
		responseTimeHist: set.NewHistogram("http_response_time_seconds"),
		responseSizeHist: set.NewHistogram("http_response_size_bytes"),
		thumbnailCounter: set.NewCounter("thumbnail_requests_total"),
	}
}

func (m *MetricsMiddleware) WithMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := newLoggingResponseWriter(w)

		m.requestCounter.Inc()
		next.ServeHTTP(lrw, r)

		m.responseTimeHist.UpdateDuration(start)
		m.responseSizeHist.Update(float64(lrw.length))
		m.set.GetOrCreateCounter(fmt.Sprintf(`http_response_status_total{code="%d"}`, lrw.statusCode)).Inc()

		if strings.HasPrefix(r.URL.Path, "/thumbnails") {
			m.thumbnailCounter.Inc()
		}
	})
}

func (m *MetricsMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.set.WritePrometheus(w)
	metrics.WriteProcessMetrics(w)
}
