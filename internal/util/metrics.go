package util

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photoyarn_http_requests_total",
			Help: "HTTP requests handled, by route and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photoyarn_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "route"},
	)
)

// WithMetrics records request count and latency per normalized route.
func WithMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newStatusRecorder(w)
		next.ServeHTTP(rec, r)
		route := NormalizeRoute(r.URL.Path)
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.Status())).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// NormalizeRoute collapses story ids and image names so label cardinality
// stays bounded.
func NormalizeRoute(path string) string {
	switch path {
	case "/upload", "/healthz", "/metrics":
		return path
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "stories" {
		switch {
		case len(parts) == 2:
			return "/stories/{id}"
		case len(parts) == 4 && parts[2] == "images":
			return "/stories/{id}/images/{name}"
		}
	}
	return "other"
}
