package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/Sentinel-Gate/seatswap/internal/domain/session"
	"github.com/Sentinel-Gate/seatswap/internal/service"
)

// Thresholds past which the process reports unhealthy.
const (
	maxOutageCycles  = 3
	maxQueuePercent  = 90
	staleCycleFactor = 10
)

// HealthResponse is the JSON response from the /healthz endpoint.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// SessionReporter reports the portal session state.
type SessionReporter interface {
	State() session.State
}

// ReconcilerReporter reports the reconciliation loop's progress.
type ReconcilerReporter interface {
	Status() service.ReconcilerStatus
}

// QueueReporter reports the notification queue.
type QueueReporter interface {
	ChannelDepth() int
	ChannelCapacity() int
	DroppedMessages() int64
}

// HealthChecker verifies component health.
type HealthChecker struct {
	session    SessionReporter
	reconciler ReconcilerReporter
	queue      QueueReporter
	interval   time.Duration
	version    string
	now        func() time.Time
	metrics    *Metrics
}

// HealthOption configures a HealthChecker.
type HealthOption func(*HealthChecker)

// WithSession adds the session state check.
func WithSession(s SessionReporter) HealthOption {
	return func(h *HealthChecker) { h.session = s }
}

// WithReconciler adds the loop progress check. interval is the loop's
// polling interval; a loop silent for much longer is reported stale.
func WithReconciler(r ReconcilerReporter, interval time.Duration) HealthOption {
	return func(h *HealthChecker) {
		h.reconciler = r
		h.interval = interval
	}
}

// WithQueue adds the notification backlog check.
func WithQueue(q QueueReporter) HealthOption {
	return func(h *HealthChecker) { h.queue = q }
}

// WithVersion sets the version reported in every response.
func WithVersion(v string) HealthOption {
	return func(h *HealthChecker) { h.version = v }
}

// NewHealthChecker creates a HealthChecker. Components that are not
// configured are reported as such and do not affect the status.
func NewHealthChecker(opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Check performs health checks on all components.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.session != nil {
		checks["session"] = h.session.State().String()
	} else {
		checks["session"] = "not configured"
	}

	if h.reconciler != nil {
		st := h.reconciler.Status()
		checks["cycles"] = fmt.Sprintf("%d", st.Cycles)
		checks["spec_entries"] = fmt.Sprintf("%d", st.SpecEntries)
		if st.LastCycleID != "" {
			checks["last_cycle"] = fmt.Sprintf("%s at %s", st.LastCycleID, st.LastCycleAt.UTC().Format(time.RFC3339))
		}
		if st.LastError != "" {
			checks["last_error"] = st.LastError
		}
		if len(st.Quarantined) > 0 {
			checks["quarantined"] = fmt.Sprintf("%d: %v", len(st.Quarantined), st.Quarantined)
		}
		if st.SpecRejected {
			checks["spec"] = "rejected, running last accepted spec"
		}

		if st.ConsecOutages >= maxOutageCycles {
			checks["portal"] = fmt.Sprintf("degraded: %d consecutive outage cycles", st.ConsecOutages)
			healthy = false
		} else {
			checks["portal"] = "ok"
		}

		if h.interval > 0 && !st.LastCycleAt.IsZero() {
			if age := h.now().Sub(st.LastCycleAt); age > staleCycleFactor*h.interval && st.ConsecOutages == 0 {
				checks["loop"] = fmt.Sprintf("stale: last cycle %s ago", age.Round(time.Second))
				healthy = false
			}
		}
	} else {
		checks["reconciler"] = "not configured"
	}

	if h.queue != nil {
		depth := h.queue.ChannelDepth()
		capacity := h.queue.ChannelCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}
		if percentFull > maxQueuePercent {
			// The sink cannot keep up; notifications are about to be dropped.
			checks["notify"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["notify"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}
		if drops := h.queue.DroppedMessages(); drops > 0 {
			checks["notify_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["notify"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	if h.metrics != nil {
		v := 0.0
		if healthy {
			v = 1
		}
		h.metrics.HealthStatus.Set(v)
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		health := h.Check()

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
