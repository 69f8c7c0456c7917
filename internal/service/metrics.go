package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for seatswap.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	PageFetches      *prometheus.CounterVec
	Logins           *prometheus.CounterVec
	SessionState     *prometheus.GaugeVec
	Swaps            *prometheus.CounterVec
	Registrations    *prometheus.CounterVec
	Cycles           *prometheus.CounterVec
	CycleDuration    prometheus.Histogram
	MemoLookups      *prometheus.CounterVec
	NotifyDropsTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		PageFetches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seatswap",
				Name:      "page_fetches_total",
				Help:      "Portal page fetches by page and classification",
			},
			[]string{"page", "class"},
		),
		Logins: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seatswap",
				Name:      "logins_total",
				Help:      "Single-sign-on login attempts",
			},
			[]string{"result"}, // result=ok/error
		),
		SessionState: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "seatswap",
				Name:      "session_state",
				Help:      "1 for the current session state, 0 otherwise",
			},
			[]string{"state"},
		),
		Swaps: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seatswap",
				Name:      "swaps_total",
				Help:      "Swap transactions by outcome",
			},
			[]string{"outcome"},
		),
		Registrations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seatswap",
				Name:      "registrations_total",
				Help:      "Plain registration attempts by result",
			},
			[]string{"result"},
		),
		Cycles: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seatswap",
				Name:      "reconcile_cycles_total",
				Help:      "Reconciliation cycles by result",
			},
			[]string{"result"},
		),
		CycleDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "seatswap",
				Name:      "reconcile_cycle_duration_seconds",
				Help:      "Duration of reconciliation cycles",
				Buckets:   prometheus.DefBuckets,
			},
		),
		MemoLookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seatswap",
				Name:      "memo_lookups_total",
				Help:      "Memoized lookups by cache and hit/miss",
			},
			[]string{"cache", "result"},
		),
		NotifyDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "seatswap",
				Name:      "notify_drops_total",
				Help:      "Notifications dropped due to backpressure",
			},
		),
	}
}

func (m *Metrics) pageFetched(page, class string) {
	if m == nil {
		return
	}
	m.PageFetches.WithLabelValues(page, class).Inc()
}

func (m *Metrics) login(ok bool) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(resultLabel(ok)).Inc()
}

func (m *Metrics) sessionState(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.SessionState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) swap(outcome string) {
	if m == nil {
		return
	}
	m.Swaps.WithLabelValues(outcome).Inc()
}

func (m *Metrics) registration(result string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(result).Inc()
}

func (m *Metrics) cycle(result string, seconds float64) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(seconds)
}

func (m *Metrics) memoObserver(cache string) func(hit bool) {
	if m == nil {
		return nil
	}
	return func(hit bool) {
		label := "miss"
		if hit {
			label = "hit"
		}
		m.MemoLookups.WithLabelValues(cache, label).Inc()
	}
}

func (m *Metrics) notifyDropped() {
	if m == nil {
		return
	}
	m.NotifyDropsTotal.Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
