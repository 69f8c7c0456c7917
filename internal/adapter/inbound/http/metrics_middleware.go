package http

import (
	"net/http"
	"time"
)

// MetricsMiddleware wraps an HTTP handler to record request metrics.
// Scrapes of /metrics are not recorded.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			path := routeLabel(r.URL.Path)
			metrics.RequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(path, statusToLabel(wrapped.status)).Inc()
		})
	}
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// routeLabel keeps label cardinality bounded: unknown paths share one label.
func routeLabel(path string) string {
	switch path {
	case "/healthz", "/metrics":
		return path
	default:
		return "other"
	}
}

// statusToLabel converts HTTP status code to label value
func statusToLabel(code int) string {
	if code >= 200 && code < 400 {
		return "ok"
	}
	return "error"
}
