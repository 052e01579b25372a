package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by every route.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Verification pipeline metrics.
var (
	verificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verigate_verifications_total",
			Help: "Verification requests by provider and terminal status.",
		},
		[]string{"provider", "status"},
	)

	sessionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "verigate_sessions_in_flight",
		Help: "Provider sessions currently pending or in progress.",
	})

	rateLimitDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verigate_rate_limit_denied_total",
			Help: "Requests denied by the per-principal rate limiter.",
		},
		[]string{"window"},
	)

	authFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verigate_auth_failures_total",
			Help: "Failed authentication attempts by credential kind.",
		},
		[]string{"credential"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		verificationsTotal, sessionsInFlight, rateLimitDenied, authFailures,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveVerification records a verification reaching a terminal status.
func ObserveVerification(provider, status string) {
	verificationsTotal.WithLabelValues(provider, status).Inc()
}

// SessionStarted/SessionEnded track the in-flight session gauge.
func SessionStarted() { sessionsInFlight.Inc() }
func SessionEnded()   { sessionsInFlight.Dec() }

// ObserveRateLimitDenied records a denial for the given window type.
func ObserveRateLimitDenied(window string) {
	rateLimitDenied.WithLabelValues(window).Inc()
}

// ObserveAuthFailure records a failed credential resolution.
func ObserveAuthFailure(credential string) {
	authFailures.WithLabelValues(credential).Inc()
}

// CanonicalPath collapses resource identifiers so metric label cardinality
// stays bounded: /v1/verifications/vr_01ABC -> /v1/verifications/:id.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) >= 4 && parts[1] == "v1" && parts[2] == "webhooks":
		parts[3] = ":provider"
		return strings.Join(parts[:4], "/")
	case len(parts) >= 4 && parts[1] == "v1" &&
		(parts[2] == "verifications" || parts[2] == "sessions" || parts[2] == "keys"):
		parts[3] = ":id"
		if len(parts) == 5 {
			return strings.Join(parts[:5], "/")
		}
		return strings.Join(parts[:4], "/")
	case len(parts) >= 5 && parts[1] == "v1" && parts[2] == "admin":
		parts[4] = ":id"
		return strings.Join(parts, "/")
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight accounting.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter keeps the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
