package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Sentinel-Gate/seatswap/internal/domain/course"
	"github.com/Sentinel-Gate/seatswap/internal/domain/desired"
	"github.com/Sentinel-Gate/seatswap/internal/domain/notify"
	"github.com/Sentinel-Gate/seatswap/internal/domain/portal"
	"github.com/Sentinel-Gate/seatswap/internal/port/outbound"
)

// Defaults for the reconciliation loop.
const (
	DefaultInterval   = 5 * time.Second
	DefaultBackoffCap = 5 * time.Minute
)

// Attempt outcomes recorded in the journal.
const (
	OutcomeRegistered     = "registered"
	OutcomeUnavailable    = "unavailable"
	OutcomeCannotReplace  = "cannot_replace"
	OutcomeRegisterFailed = "register_failed"
	OutcomeCritical       = "critical"
	OutcomeError          = "error"
)

// ErrSpecRejected marks a desired state that failed validation against the
// portal. It is kept out of use until it changes.
var ErrSpecRejected = errors.New("desired state rejected")

// TaskResult is the outcome of one dispatched entry.
type TaskResult struct {
	Entry   desired.Entry
	Outcome string
	Err     error
	// Digest holds the task's log lines when it changed enrollment.
	Digest string
}

// CycleReport summarizes one reconciliation cycle.
type CycleReport struct {
	ID         string
	Spec       desired.Spec
	Enrolled   []course.Section
	Satisfied  []desired.Entry
	Skipped    []desired.Entry
	Results    []TaskResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// ReconcilerStatus is a point-in-time view of the loop for health reporting.
type ReconcilerStatus struct {
	Cycles        int
	LastCycleID   string
	LastCycleAt   time.Time
	LastError     string
	SpecEntries   int
	Quarantined   []string
	ConsecOutages int
	SpecRejected  bool
}

// Reconciler drives the enrollment toward the desired state: every interval
// it reloads the desired state, reads the current enrollment and dispatches
// one registration or swap per unsatisfied entry.
type Reconciler struct {
	term     course.Term
	specs    desired.Store
	portal   Portal
	engine   *SwapEngine
	notifier Notifier
	logger   *slog.Logger

	checkpoint     desired.Checkpoint
	journal        outbound.AttemptJournal
	metrics        *Metrics
	interval       time.Duration
	backoffCap     time.Duration
	stopOnCritical bool
	now            func() time.Time

	mu          sync.Mutex
	lastGood    desired.Spec
	hasGood     bool
	rejected    *desired.Spec
	loadErr     string
	quarantined map[string]struct{}
	outages     int
	cycles      int
	lastCycleID string
	lastCycleAt time.Time
	lastErr     string
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBackoffCap bounds the delay after consecutive outage cycles.
func WithBackoffCap(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.backoffCap = d
		}
	}
}

// WithStopOnCritical makes the loop terminate after a critical swap failure
// instead of quarantining the entry and continuing.
func WithStopOnCritical(stop bool) ReconcilerOption {
	return func(r *Reconciler) { r.stopOnCritical = stop }
}

// WithCheckpoint persists the last accepted desired state.
func WithCheckpoint(c desired.Checkpoint) ReconcilerOption {
	return func(r *Reconciler) { r.checkpoint = c }
}

// WithJournal records every attempt.
func WithJournal(j outbound.AttemptJournal) ReconcilerOption {
	return func(r *Reconciler) { r.journal = j }
}

// WithReconcilerMetrics records cycle counts and durations.
func WithReconcilerMetrics(m *Metrics) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

// NewReconciler creates a Reconciler for one term.
func NewReconciler(term course.Term, specs desired.Store, p Portal, engine *SwapEngine, notifier Notifier, logger *slog.Logger, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		term:        term,
		specs:       specs,
		portal:      p,
		engine:      engine,
		notifier:    notifier,
		logger:      logger,
		interval:    DefaultInterval,
		backoffCap:  DefaultBackoffCap,
		now:         time.Now,
		quarantined: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadCheckpoint adopts the persisted last-good desired state, if any.
func (r *Reconciler) LoadCheckpoint(ctx context.Context) error {
	if r.checkpoint == nil {
		return nil
	}
	spec, ok, err := r.checkpoint.LoadLastGood(ctx)
	if err != nil {
		return fmt.Errorf("load last good desired state: %w", err)
	}
	if !ok {
		return nil
	}
	r.mu.Lock()
	r.lastGood, r.hasGood = spec, true
	r.mu.Unlock()
	r.logger.Info("resumed desired state", "entries", len(spec.Entries))
	return nil
}

// Run loops until ctx is cancelled or the session cannot log in. A nil
// error means the loop was cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.LoadCheckpoint(ctx); err != nil {
		r.logger.Warn("ignoring checkpoint", "error", err)
	}
	r.logger.Info("reconciler started", "term", r.term, "interval", r.interval)

	for {
		_, err := r.RunCycle(ctx)
		delay := r.interval

		switch {
		case ctx.Err() != nil:
			r.stopped("cancelled")
			return nil
		case errors.Is(err, portal.ErrLogin):
			r.Abort(err)
			return err
		case errors.Is(err, portal.ErrCritical) && r.stopOnCritical:
			r.stopped("critical error")
			return err
		case isOutage(err):
			r.mu.Lock()
			r.outages++
			delay = r.calcBackoffDelay(r.outages)
			r.mu.Unlock()
			r.logger.Warn("portal unavailable, backing off", "delay", delay, "error", err)
		default:
			r.mu.Lock()
			r.outages = 0
			r.mu.Unlock()
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			r.stopped("cancelled")
			return nil
		case <-t.C:
		}
	}
}

// Abort reports that the loop stops, or never starts, because of err. A
// LoginError is announced on its own channel before the stop.
func (r *Reconciler) Abort(err error) {
	if errors.Is(err, portal.ErrLogin) {
		r.logger.Error("login retries exhausted", "error", err)
		r.notifier.Notify(notify.ChannelLoginError, err.Error())
		r.stopped("login failed")
		return
	}
	r.stopped(err.Error())
}

func (r *Reconciler) stopped(reason string) {
	r.logger.Info("reconciler stopped", "reason", reason)
	r.notifier.Notify(notify.ChannelStopped, "seatswap stopped: "+reason)
}

// calcBackoffDelay returns min(interval * 2^n, cap).
func (r *Reconciler) calcBackoffDelay(n int) time.Duration {
	delay := r.interval
	for i := 0; i < n; i++ {
		delay *= 2
		if delay > r.backoffCap {
			return r.backoffCap
		}
	}
	if delay > r.backoffCap {
		return r.backoffCap
	}
	return delay
}

func isOutage(err error) bool {
	k := portal.KindOf(err)
	return k == portal.KindConnectivity || k == portal.KindInternal
}

// RunCycle runs one reconciliation cycle. Per-entry failures are handled
// and notified here; the returned error is the most severe one for the
// caller's control flow: a login failure, then a critical swap failure,
// then a portal outage, then anything else at cycle level.
func (r *Reconciler) RunCycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{ID: uuid.NewString(), StartedAt: r.now()}
	logger := r.logger.With("cycle", report.ID)

	err := r.cycle(ctx, logger, report)

	report.FinishedAt = r.now()
	result := "ok"
	if err != nil {
		result = portal.KindOf(err).String()
	}
	r.metrics.cycle(result, report.FinishedAt.Sub(report.StartedAt).Seconds())

	r.mu.Lock()
	r.cycles++
	r.lastCycleID = report.ID
	r.lastCycleAt = report.FinishedAt
	r.lastErr = ""
	if err != nil {
		r.lastErr = err.Error()
	}
	r.mu.Unlock()
	return report, err
}

func (r *Reconciler) cycle(ctx context.Context, logger *slog.Logger, report *CycleReport) error {
	enrolled, err := r.portal.Enrolled(ctx, r.term)
	if err != nil {
		r.escalate(err, "")
		return err
	}
	report.Enrolled = enrolled

	spec, err := r.resolveSpec(ctx, logger, enrolled)
	if err != nil {
		r.escalate(err, "")
		return err
	}
	report.Spec = spec

	var tasks []desired.Entry
	for _, e := range spec.Entries {
		if _, ok := course.Find(enrolled, e.Add); ok {
			report.Satisfied = append(report.Satisfied, e)
			continue
		}
		if r.isQuarantined(e) {
			report.Skipped = append(report.Skipped, e)
			continue
		}
		tasks = append(tasks, e)
	}
	if len(tasks) == 0 {
		logger.Debug("nothing to do", "satisfied", len(report.Satisfied), "skipped", len(report.Skipped))
		return nil
	}

	// Tasks never fail the group; each result is handled on its own.
	results := make([]TaskResult, len(tasks))
	var g errgroup.Group
	for i, e := range tasks {
		g.Go(func() error {
			results[i] = r.runTask(ctx, logger, report.ID, e)
			return nil
		})
	}
	_ = g.Wait()
	report.Results = results

	var loginErr, criticalErr, outageErr error
	for _, res := range results {
		r.handleResult(logger, res)
		switch {
		case res.Err == nil:
		case errors.Is(res.Err, portal.ErrCritical):
			criticalErr = firstErr(criticalErr, res.Err)
		case errors.Is(res.Err, portal.ErrLogin):
			loginErr = firstErr(loginErr, res.Err)
		case isOutage(res.Err):
			outageErr = firstErr(outageErr, res.Err)
		}
	}
	return firstErr(loginErr, firstErr(criticalErr, outageErr))
}

func firstErr(a, b error) error {
	if a != nil {
		return a
	}
	return b
}

// resolveSpec returns the desired state to act on this cycle.
func (r *Reconciler) resolveSpec(ctx context.Context, logger *slog.Logger, enrolled []course.Section) (desired.Spec, error) {
	raw, err := r.specs.Load(ctx)

	r.mu.Lock()
	lastGood, hasGood := r.lastGood, r.hasGood
	rejected := r.rejected
	prevLoadErr := r.loadErr
	r.mu.Unlock()

	if err != nil {
		// An unreadable file is a rejected revision identified by its error.
		if err.Error() != prevLoadErr {
			logger.Warn("cannot load desired state, keeping previous", "error", err)
			r.notifier.Notify(notify.ChannelSpecRejected, err.Error())
			r.mu.Lock()
			r.loadErr = err.Error()
			r.mu.Unlock()
		}
		return lastGood, nil
	}
	r.mu.Lock()
	r.loadErr = ""
	r.mu.Unlock()

	if hasGood && raw.Equal(lastGood) {
		return lastGood, nil
	}
	if rejected != nil && raw.Equal(*rejected) {
		return lastGood, nil
	}

	if err := r.validate(ctx, raw, enrolled); err != nil {
		if !errors.Is(err, ErrSpecRejected) {
			return lastGood, err
		}
		logger.Warn("desired state rejected, keeping previous", "error", err, "previous_entries", len(lastGood.Entries))
		r.notifier.Notify(notify.ChannelSpecRejected, err.Error())
		r.mu.Lock()
		r.rejected = &raw
		r.mu.Unlock()
		return lastGood, nil
	}

	logger.Info("desired state accepted", "entries", len(raw.Entries))
	r.mu.Lock()
	r.lastGood, r.hasGood = raw, true
	r.rejected = nil
	r.quarantined = make(map[string]struct{})
	r.mu.Unlock()

	if r.checkpoint != nil {
		if err := r.checkpoint.SaveLastGood(ctx, raw); err != nil {
			logger.Warn("failed to persist desired state", "error", err)
		}
	}
	return raw, nil
}

// validate checks every unsatisfied entry against the portal: its add target
// must be in the catalog and its replace target must be droppable. Entries
// whose add target is already enrolled are not checked.
func (r *Reconciler) validate(ctx context.Context, spec desired.Spec, enrolled []course.Section) error {
	var (
		mu       sync.Mutex
		problems []string
	)
	reject := func(format string, args ...any) {
		mu.Lock()
		problems = append(problems, fmt.Sprintf(format, args...))
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range spec.Entries {
		if _, ok := course.Find(enrolled, e.Add); ok {
			continue
		}
		if e.IsSwap() {
			if sec, ok := course.Find(enrolled, *e.Replace); !ok || !sec.CanDrop() {
				reject("%s is not droppable", e.Replace)
			}
		}
		g.Go(func() error {
			_, found, err := r.portal.FindSection(gctx, r.term, e.Add)
			if err != nil {
				return err
			}
			if !found {
				reject("%s is not in the %s catalog", e.Add, r.term)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%w: %s", ErrSpecRejected, strings.Join(problems, "; "))
	}
	return nil
}

func (r *Reconciler) runTask(ctx context.Context, logger *slog.Logger, cycleID string, e desired.Entry) TaskResult {
	attempt := outbound.Attempt{
		ID:        uuid.NewString(),
		CycleID:   cycleID,
		Term:      r.term.Key(),
		Add:       e.Add.String(),
		StartedAt: r.now(),
	}
	d := newDigest(logger.With("attempt", attempt.ID))
	engine := r.engine.WithLogger(d.logger)
	res := TaskResult{Entry: e}

	var mutated bool
	if e.IsSwap() {
		attempt.Kind = "swap"
		attempt.Replace = e.Replace.String()
		swap, err := engine.Swap(ctx, r.term, e.Add, *e.Replace)
		res.Err = err
		mutated = swap != nil
		if swap != nil && err == nil {
			res.Outcome = swap.Outcome.String()
		}
	} else {
		attempt.Kind = "register"
		ok, err := engine.Register(ctx, r.term, e.Add)
		res.Err = err
		mutated = ok || errors.Is(err, portal.ErrRegisterFailed)
		if err == nil {
			res.Outcome = OutcomeUnavailable
			if ok {
				res.Outcome = OutcomeRegistered
			}
		}
	}
	if res.Err != nil {
		res.Outcome = outcomeOf(res.Err)
		attempt.Error = res.Err.Error()
	}
	if mutated {
		res.Digest = d.Text()
	}

	attempt.Outcome = res.Outcome
	attempt.FinishedAt = r.now()
	if r.journal != nil {
		if err := r.journal.Record(context.WithoutCancel(ctx), attempt); err != nil {
			logger.Warn("failed to journal attempt", "attempt", attempt.ID, "error", err)
		}
	}
	return res
}

func outcomeOf(err error) string {
	switch portal.KindOf(err) {
	case portal.KindCritical:
		return OutcomeCritical
	case portal.KindRegisterFailed:
		return OutcomeRegisterFailed
	case portal.KindCannotReplace:
		return OutcomeCannotReplace
	default:
		return OutcomeError
	}
}

// handleResult logs, notifies and quarantines according to a task's outcome.
func (r *Reconciler) handleResult(logger *slog.Logger, res TaskResult) {
	if res.Digest != "" {
		r.notifier.Notify(res.Entry.Add.String(), res.Digest)
	}
	if res.Err == nil {
		logger.Info("attempt finished", "entry", res.Entry, "outcome", res.Outcome)
		return
	}
	if portal.KindOf(res.Err) == portal.KindCritical {
		r.mu.Lock()
		r.quarantined[res.Entry.Key()] = struct{}{}
		r.mu.Unlock()
		logger.Error("entry quarantined until the desired state changes", "entry", res.Entry, "error", res.Err)
	}
	r.escalate(res.Err, res.Entry.String())
}

// escalate notifies the operator about err according to its kind.
func (r *Reconciler) escalate(err error, subject string) {
	msg := err.Error()
	if subject != "" {
		msg = subject + ": " + msg
	}
	switch portal.KindOf(err) {
	case portal.KindCritical:
		r.notifier.Notify(notify.ChannelCriticalError, msg)
	case portal.KindRegisterFailed:
		r.notifier.Notify(notify.ChannelRegisterFail, msg)
	case portal.KindParse:
		r.logger.Error("page parse failed", "error", err)
		r.notifier.Notify(notify.ChannelParseError, msg)
	case portal.KindCannotReplace:
		r.logger.Info("cannot replace", "subject", subject, "reason", err)
	case portal.KindLogin:
		// Run reports it once the loop stops.
	default:
		r.logger.Warn("attempt failed", "subject", subject, "error", err)
	}
}

func (r *Reconciler) isQuarantined(e desired.Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.quarantined[e.Key()]
	return ok
}

// Status returns a snapshot for health reporting.
func (r *Reconciler) Status() ReconcilerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := make([]string, 0, len(r.quarantined))
	for k := range r.quarantined {
		q = append(q, k)
	}
	sort.Strings(q)
	return ReconcilerStatus{
		Cycles:        r.cycles,
		LastCycleID:   r.lastCycleID,
		LastCycleAt:   r.lastCycleAt,
		LastError:     r.lastErr,
		SpecEntries:   len(r.lastGood.Entries),
		Quarantined:   q,
		ConsecOutages: r.outages,
		SpecRejected:  r.rejected != nil,
	}
}

// Plan is what the next cycle would do with the desired state on disk.
type Plan struct {
	Spec      desired.Spec
	Enrolled  []course.Section
	Satisfied []desired.Entry
	Pending   []desired.Entry
	// Rejection is set when the desired state would be rejected.
	Rejection error
}

// Plan loads and validates the desired state against the portal without
// acting on it or touching the loop's state.
func (r *Reconciler) Plan(ctx context.Context) (*Plan, error) {
	enrolled, err := r.portal.Enrolled(ctx, r.term)
	if err != nil {
		return nil, err
	}
	spec, err := r.specs.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load desired state: %w", err)
	}

	p := &Plan{Spec: spec, Enrolled: enrolled}
	if err := r.validate(ctx, spec, enrolled); err != nil {
		if !errors.Is(err, ErrSpecRejected) {
			return nil, err
		}
		p.Rejection = err
	}
	for _, e := range spec.Entries {
		if _, ok := course.Find(enrolled, e.Add); ok {
			p.Satisfied = append(p.Satisfied, e)
		} else {
			p.Pending = append(p.Pending, e)
		}
	}
	return p, nil
}
