package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Sentinel-Gate/seatswap/internal/domain/course"
	"github.com/Sentinel-Gate/seatswap/internal/domain/portal"
)

// SwapOutcome is how a swap transaction ended once it got past its drop.
type SwapOutcome int

const (
	// SwapSwapped: the add target is registered.
	SwapSwapped SwapOutcome = iota + 1
	// SwapRolledBack: the add was rejected, or the drop failed, and the
	// replace target is still held.
	SwapRolledBack
	// SwapStranded: the replace target was dropped and could not be restored.
	SwapStranded
)

func (o SwapOutcome) String() string {
	switch o {
	case SwapSwapped:
		return "swapped"
	case SwapRolledBack:
		return "rolled_back"
	case SwapStranded:
		return "stranded"
	default:
		return "unknown"
	}
}

// SwapResult records every step of a swap transaction.
type SwapResult struct {
	Outcome SwapOutcome
	// Add and Replace are the snapshots the tokens were taken from.
	Add     course.Section
	Replace course.Section

	DropResult    portal.ActionResult
	DropErr       error
	AddResult     portal.ActionResult
	AddErr        error
	RestoreResult portal.ActionResult
	RestoreErr    error
}

// Added reports whether the add target was registered.
func (r *SwapResult) Added() bool { return r.AddErr == nil && r.AddResult.OK }

// Restored reports whether the replace target was registered again.
func (r *SwapResult) Restored() bool { return r.RestoreErr == nil && r.RestoreResult.OK }

// SwapEngine exchanges an enrolled section for another one with a
// compensating re-registration, so that a failed add leaves the student
// where they started.
type SwapEngine struct {
	portal  Portal
	logger  *slog.Logger
	metrics *Metrics
	strict  bool
}

// SwapEngineOption configures a SwapEngine.
type SwapEngineOption func(*SwapEngine)

// WithStrictCompensation treats a rejected re-registration as critical even
// when the add succeeded.
func WithStrictCompensation(strict bool) SwapEngineOption {
	return func(e *SwapEngine) { e.strict = strict }
}

// WithSwapMetrics records swap and registration outcomes.
func WithSwapMetrics(m *Metrics) SwapEngineOption {
	return func(e *SwapEngine) { e.metrics = m }
}

// NewSwapEngine creates a SwapEngine.
func NewSwapEngine(p Portal, logger *slog.Logger, opts ...SwapEngineOption) *SwapEngine {
	e := &SwapEngine{portal: p, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithLogger returns a copy of the engine that logs to l.
func (e *SwapEngine) WithLogger(l *slog.Logger) *SwapEngine {
	c := *e
	c.logger = l
	return &c
}

// Register registers add if the catalog currently offers it. It returns
// false with a nil error when the section cannot be added right now, and a
// KindRegisterFailed error when the portal rejected the registration.
func (e *SwapEngine) Register(ctx context.Context, term course.Term, add course.Abbr) (bool, error) {
	sec, found, err := e.portal.FindSection(ctx, term, add)
	if err != nil {
		e.metrics.registration("error")
		return false, err
	}
	if !found || !sec.CanRegister() {
		e.logger.Info("cannot register", "section", add)
		e.metrics.registration("unavailable")
		return false, nil
	}

	e.logger.Info("can register", "section", add)
	res, err := e.portal.Register(ctx, term, sec)
	if err != nil {
		e.metrics.registration("error")
		return false, err
	}
	if !res.OK {
		e.metrics.registration("rejected")
		return false, &portal.Error{
			Kind: portal.KindRegisterFailed,
			Op:   "register",
			Msg:  fmt.Sprintf("%s: %s", add, res.Message),
		}
	}
	e.logger.Info("registered", "section", add)
	e.metrics.registration("ok")
	return true, nil
}

// Swap drops replace, registers add and then re-registers replace.
//
// Preconditions are checked before anything changes: add must be
// registrable, replace must be droppable and the catalog must offer a
// registration token for replace. A failed precondition or a rejected drop is
// a KindCannotReplace error with nothing mutated. A drop that errors instead
// of answering is compensated like a failed add: the drop error is returned
// once replace is known to be held, KindCritical otherwise.
//
// Once the drop has been submitted the transaction runs to completion even if
// ctx is cancelled. The re-registration always runs; when add overlaps
// replace the portal rejects it after a successful add, which is expected.
//
// Outcomes:
//   - add ok: SwapSwapped, nil error (KindCritical with strict compensation
//     and a rejected re-registration).
//   - add failed, restore ok: SwapRolledBack and a KindRegisterFailed error.
//   - add failed, restore failed: SwapStranded and a KindCritical error.
func (e *SwapEngine) Swap(ctx context.Context, term course.Term, add, replace course.Abbr) (*SwapResult, error) {
	var (
		addSec, dropSec, restoreSec course.Section
		addOK, dropOK, restoreOK    bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, found, err := e.portal.FindSection(gctx, term, add)
		addSec, addOK = s, found && s.CanRegister()
		return err
	})
	g.Go(func() error {
		s, found, err := e.portal.FindEnrolled(gctx, term, replace)
		dropSec, dropOK = s, found && s.CanDrop()
		return err
	})
	g.Go(func() error {
		s, found, err := e.portal.FindSection(gctx, term, replace)
		restoreSec, restoreOK = s, found && s.CanRegister()
		return err
	})
	if err := g.Wait(); err != nil {
		e.metrics.swap("error")
		return nil, err
	}

	switch {
	case !addOK:
		e.metrics.swap("cannot_replace")
		return nil, portal.CannotReplace("cannot register for %s", add)
	case !dropOK:
		e.metrics.swap("cannot_replace")
		return nil, portal.CannotReplace("cannot drop %s", replace)
	case !restoreOK:
		e.metrics.swap("cannot_replace")
		return nil, portal.CannotReplace("cannot re-register for %s", replace)
	}

	e.logger.Info("replacing", "replace", replace, "add", add)
	tx := context.WithoutCancel(ctx)
	res := &SwapResult{Add: addSec, Replace: dropSec}

	dropRes, err := e.portal.Drop(tx, term, dropSec)
	if err != nil {
		res.DropErr = err
		return e.recoverDrop(tx, term, res, restoreSec, add, replace)
	}
	res.DropResult = dropRes
	if !dropRes.OK {
		e.metrics.swap("cannot_replace")
		return nil, portal.CannotReplace("failed to drop %s: %s", replace, dropRes.Message)
	}
	e.logger.Info("dropped", "section", replace)

	res.AddResult, res.AddErr = e.portal.Register(tx, term, addSec)
	if res.Added() {
		e.logger.Info("registered", "section", add)
	} else {
		e.logger.Warn("failed to register", "section", add, "message", res.AddResult.Message, "error", res.AddErr)
	}

	res.RestoreResult, res.RestoreErr = e.portal.Register(tx, term, restoreSec)
	if res.Restored() {
		e.logger.Info("re-registered", "section", replace)
	} else {
		e.logger.Info("failed to re-register", "section", replace,
			"message", res.RestoreResult.Message, "error", res.RestoreErr)
	}

	switch {
	case !res.Added() && !res.Restored():
		res.Outcome = SwapStranded
		e.metrics.swap(res.Outcome.String())
		e.logger.Error("swap left neither section registered", "add", add, "replace", replace)
		return res, e.critical(res, add, replace)
	case !res.Added():
		res.Outcome = SwapRolledBack
		e.metrics.swap(res.Outcome.String())
		return res, &portal.Error{
			Kind: portal.KindRegisterFailed,
			Op:   "swap",
			Msg:  fmt.Sprintf("%s: %s; %s restored", add, stepMessage(res.AddResult, res.AddErr), replace),
			Err:  res.AddErr,
		}
	}

	res.Outcome = SwapSwapped
	e.metrics.swap(res.Outcome.String())
	if !res.Restored() && e.strict {
		return res, e.critical(res, add, replace)
	}
	return res, nil
}

// recoverDrop handles a drop that failed without a portal verdict. The drop
// may have been applied before the error, so replace is registered again.
// A rejected re-registration is checked against the drop list: replace still
// enrolled means the drop never happened and the drop error is returned as
// is. Otherwise the student holds neither section and the error is critical.
func (e *SwapEngine) recoverDrop(tx context.Context, term course.Term, res *SwapResult, restoreSec course.Section, add, replace course.Abbr) (*SwapResult, error) {
	e.logger.Warn("drop failed, re-registering", "section", replace, "error", res.DropErr)

	res.RestoreResult, res.RestoreErr = e.portal.Register(tx, term, restoreSec)
	held := res.Restored()
	if held {
		e.logger.Info("re-registered", "section", replace)
	} else {
		_, found, err := e.portal.FindEnrolled(tx, term, replace)
		switch {
		case err != nil:
			e.logger.Error("cannot confirm enrollment after failed drop", "section", replace, "error", err)
		case found:
			held = true
			e.logger.Info("still enrolled after failed drop", "section", replace)
		}
	}

	if !held {
		res.Outcome = SwapStranded
		e.metrics.swap(res.Outcome.String())
		e.logger.Error("swap left neither section registered", "add", add, "replace", replace)
		return res, e.critical(res, add, replace)
	}
	res.Outcome = SwapRolledBack
	e.metrics.swap(res.Outcome.String())
	return res, res.DropErr
}

func (e *SwapEngine) critical(res *SwapResult, add, replace course.Abbr) error {
	type step struct {
		r   portal.ActionResult
		err error
	}
	steps := []step{{res.AddResult, res.AddErr}, {res.RestoreResult, res.RestoreErr}}
	msg := fmt.Sprintf("dropped %s; register %s: %s; re-register %s: %s", replace,
		add, stepMessage(res.AddResult, res.AddErr),
		replace, stepMessage(res.RestoreResult, res.RestoreErr))
	if res.DropErr != nil {
		steps = []step{{err: res.DropErr}, {res.RestoreResult, res.RestoreErr}}
		msg = fmt.Sprintf("drop %s: %v; re-register %s: %s; %s is not enrolled",
			replace, res.DropErr, replace, stepMessage(res.RestoreResult, res.RestoreErr), replace)
	}

	var attempts []error
	for _, st := range steps {
		switch {
		case st.err != nil:
			attempts = append(attempts, st.err)
		case !st.r.OK:
			attempts = append(attempts, errors.New(stepMessage(st.r, nil)))
		}
	}
	return &portal.Error{
		Kind:     portal.KindCritical,
		Op:       "swap",
		Msg:      msg,
		Attempts: attempts,
	}
}

func stepMessage(r portal.ActionResult, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case r.OK:
		return "ok"
	case r.Message != "":
		return r.Message
	default:
		return "rejected"
	}
}
