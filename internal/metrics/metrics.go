// Package metrics exposes Prometheus metrics for the trust boundary and
// HTTP layer via the /metrics endpoint.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "komikvault",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "komikvault",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)

var (
	// LoginAttemptsTotal counts login attempts by outcome
	// (success, invalid_credentials, throttled, error)
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "komikvault",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Total login attempts by outcome",
		},
		[]string{"outcome"},
	)

	// GuardDenialsTotal counts guard denials by reason
	// (unauthenticated, forbidden, dependency_error)
	GuardDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "komikvault",
			Subsystem: "auth",
			Name:      "guard_denials_total",
			Help:      "Total guard denials by reason",
		},
		[]string{"reason"},
	)

	// CSRFRejectionsTotal counts requests rejected by origin validation
	CSRFRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "komikvault",
			Subsystem: "auth",
			Name:      "csrf_rejections_total",
			Help:      "Total requests rejected by CSRF origin validation",
		},
	)

	// ThrottleHitsTotal counts rate-limited requests by limiter name
	ThrottleHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "komikvault",
			Subsystem: "auth",
			Name:      "throttle_hits_total",
			Help:      "Total requests rejected by a throttle",
		},
		[]string{"limiter"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RegisterRoutes mounts the /metrics endpoint on the router
func RegisterRoutes(r chi.Router) {
	r.Handle("/metrics", Handler())
}

// HTTPMiddleware records request counts and durations per route pattern
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = "unmatched"
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
