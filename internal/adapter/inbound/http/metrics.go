package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the operational listener itself.
// The reconciliation metrics live in service.Metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	HealthStatus    prometheus.Gauge
}

// NewMetrics creates and registers the listener metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seatswap",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Requests served by the operational listener",
			},
			[]string{"path", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "seatswap",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		HealthStatus: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "seatswap",
				Name:      "healthy",
				Help:      "1 when the last health check passed, 0 otherwise",
			},
		),
	}
}
