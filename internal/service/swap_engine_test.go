package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/Sentinel-Gate/seatswap/internal/domain/course"
	"github.com/Sentinel-Gate/seatswap/internal/domain/portal"
)

// fakePortal is an in-memory registration portal. Every section in catalog
// can be registered; every section in enrolled can be dropped.
type fakePortal struct {
	mu       sync.Mutex
	catalog  map[course.Abbr]course.Section
	enrolled map[course.Abbr]course.Section

	// Rejections and errors keyed by section.
	rejectRegister map[course.Abbr]string
	rejectDrop     map[course.Abbr]string
	registerErr    map[course.Abbr]error
	lookupErr      error
	// dropErr fails the drop. With dropApplied the section is removed
	// first, as when the portal commits and the answer is lost.
	dropErr     error
	dropApplied bool
	// conflicts[x] = y: x cannot be registered while y is enrolled.
	conflicts map[course.Abbr]course.Abbr

	calls []string
	// onDrop runs after a drop is applied.
	onDrop func()
	// onRegister runs under the lock after every registration attempt.
	onRegister func()
}

func newFakePortal() *fakePortal {
	return &fakePortal{
		catalog:        make(map[course.Abbr]course.Section),
		enrolled:       make(map[course.Abbr]course.Section),
		rejectRegister: make(map[course.Abbr]string),
		rejectDrop:     make(map[course.Abbr]string),
		registerErr:    make(map[course.Abbr]error),
		conflicts:      make(map[course.Abbr]course.Abbr),
	}
}

func (p *fakePortal) offer(abbr course.Abbr) *fakePortal {
	p.catalog[abbr] = course.Section{Abbr: abbr, RegID: "reg-" + abbr.String(), OpenSeats: 1}
	return p
}

func (p *fakePortal) enroll(abbr course.Abbr) *fakePortal {
	p.enrolled[abbr] = course.Section{Abbr: abbr, DropID: "drop-" + abbr.String(), Status: "ENRL"}
	return p
}

func (p *fakePortal) record(call string) {
	p.calls = append(p.calls, call)
}

func (p *fakePortal) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.calls {
		if len(c) > 4 && c[:4] == "find" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (p *fakePortal) FindSection(ctx context.Context, term course.Term, abbr course.Abbr) (course.Section, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("find " + abbr.String())
	if p.lookupErr != nil {
		return course.Section{}, false, p.lookupErr
	}
	s, ok := p.catalog[abbr]
	return s, ok, nil
}

func (p *fakePortal) FindEnrolled(ctx context.Context, term course.Term, abbr course.Abbr) (course.Section, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("find enrolled " + abbr.String())
	if p.lookupErr != nil {
		return course.Section{}, false, p.lookupErr
	}
	s, ok := p.enrolled[abbr]
	return s, ok, nil
}

func (p *fakePortal) Enrolled(ctx context.Context, term course.Term) ([]course.Section, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lookupErr != nil {
		return nil, p.lookupErr
	}
	var out []course.Section
	for _, s := range p.enrolled {
		out = append(out, s)
	}
	return out, nil
}

func (p *fakePortal) Register(ctx context.Context, term course.Term, sec course.Section) (portal.ActionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("register " + sec.Abbr.String())
	if p.onRegister != nil {
		defer p.onRegister()
	}
	if err := ctx.Err(); err != nil {
		return portal.ActionResult{}, err
	}
	if err := p.registerErr[sec.Abbr]; err != nil {
		return portal.ActionResult{}, err
	}
	if msg, ok := p.rejectRegister[sec.Abbr]; ok {
		return portal.ActionResult{Message: msg}, nil
	}
	if _, ok := p.enrolled[sec.Abbr]; ok {
		return portal.ActionResult{Message: "Already registered"}, nil
	}
	if c, ok := p.conflicts[sec.Abbr]; ok {
		if _, enrolled := p.enrolled[c]; enrolled {
			return portal.ActionResult{Message: "Time conflict with " + c.String()}, nil
		}
	}
	p.enrolled[sec.Abbr] = course.Section{Abbr: sec.Abbr, DropID: "drop-" + sec.Abbr.String()}
	return portal.ActionResult{OK: true, Message: "Class Added"}, nil
}

func (p *fakePortal) Drop(ctx context.Context, term course.Term, sec course.Section) (portal.ActionResult, error) {
	p.mu.Lock()
	p.record("drop " + sec.Abbr.String())
	if err := ctx.Err(); err != nil {
		p.mu.Unlock()
		return portal.ActionResult{}, err
	}
	if msg, ok := p.rejectDrop[sec.Abbr]; ok {
		p.mu.Unlock()
		return portal.ActionResult{Message: msg}, nil
	}
	if p.dropErr != nil {
		if p.dropApplied {
			delete(p.enrolled, sec.Abbr)
		}
		p.mu.Unlock()
		return portal.ActionResult{}, p.dropErr
	}
	delete(p.enrolled, sec.Abbr)
	onDrop := p.onDrop
	p.mu.Unlock()
	if onDrop != nil {
		onDrop()
	}
	return portal.ActionResult{OK: true, Message: "DRP-ST"}, nil
}

func (p *fakePortal) isEnrolled(abbr course.Abbr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.enrolled[abbr]
	return ok
}

var (
	ps261a1 = course.MustParseAbbr("CAS PS 261 A1")
	ps261a5 = course.MustParseAbbr("CAS PS 261 A5")
)

func TestSwapEngine_Grid(t *testing.T) {
	defer goleak.VerifyNone(t)

	add, replace := ps261a5, ps261a1

	tests := []struct {
		name                     string
		dropOK, addOK, restoreOK bool
		strict                   bool

		wantOutcome SwapOutcome
		wantKind    portal.Kind
		wantCalls   []string
		wantAdd     bool
		wantReplace bool
	}{
		{
			name: "drop rejected", dropOK: false, addOK: true, restoreOK: true,
			wantKind:    portal.KindCannotReplace,
			wantCalls:   []string{"drop CAS PS261 A1"},
			wantReplace: true,
		},
		{
			name: "drop rejected add would fail", dropOK: false, addOK: false, restoreOK: false,
			wantKind:    portal.KindCannotReplace,
			wantCalls:   []string{"drop CAS PS261 A1"},
			wantReplace: true,
		},
		{
			name: "swapped", dropOK: true, addOK: true, restoreOK: false,
			wantOutcome: SwapSwapped,
			wantCalls:   []string{"drop CAS PS261 A1", "register CAS PS261 A5", "register CAS PS261 A1"},
			wantAdd:     true,
		},
		{
			name: "swapped strict", dropOK: true, addOK: true, restoreOK: false, strict: true,
			wantOutcome: SwapSwapped,
			wantKind:    portal.KindCritical,
			wantCalls:   []string{"drop CAS PS261 A1", "register CAS PS261 A5", "register CAS PS261 A1"},
			wantAdd:     true,
		},
		{
			name: "swapped and restored", dropOK: true, addOK: true, restoreOK: true,
			wantOutcome: SwapSwapped,
			wantCalls:   []string{"drop CAS PS261 A1", "register CAS PS261 A5", "register CAS PS261 A1"},
			wantAdd:     true,
			wantReplace: true,
		},
		{
			name: "rolled back", dropOK: true, addOK: false, restoreOK: true,
			wantOutcome: SwapRolledBack,
			wantKind:    portal.KindRegisterFailed,
			wantCalls:   []string{"drop CAS PS261 A1", "register CAS PS261 A5", "register CAS PS261 A1"},
			wantReplace: true,
		},
		{
			name: "stranded", dropOK: true, addOK: false, restoreOK: false,
			wantOutcome: SwapStranded,
			wantKind:    portal.KindCritical,
			wantCalls:   []string{"drop CAS PS261 A1", "register CAS PS261 A5", "register CAS PS261 A1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakePortal().offer(add).offer(replace).enroll(replace)
			if !tt.dropOK {
				p.rejectDrop[replace] = "Drop not permitted"
			}
			if !tt.addOK {
				p.rejectRegister[add] = "Class Full"
			}
			if !tt.restoreOK {
				p.rejectRegister[replace] = "Time conflict"
			}
			e := NewSwapEngine(p, testServiceLogger(), WithStrictCompensation(tt.strict))

			res, err := e.Swap(context.Background(), testTerm, add, replace)

			if got := portal.KindOf(err); got != tt.wantKind {
				t.Errorf("error kind = %v, want %v (err: %v)", got, tt.wantKind, err)
			}
			if tt.wantOutcome == 0 {
				if res != nil {
					t.Errorf("result = %+v, want nil", res)
				}
			} else if res == nil || res.Outcome != tt.wantOutcome {
				t.Errorf("result = %+v, want outcome %v", res, tt.wantOutcome)
			}
			if diff := cmp.Diff(tt.wantCalls, p.Calls()); diff != "" {
				t.Errorf("portal calls mismatch (-want +got):\n%s", diff)
			}
			if p.isEnrolled(add) != tt.wantAdd {
				t.Errorf("enrolled in add = %v, want %v", p.isEnrolled(add), tt.wantAdd)
			}
			if p.isEnrolled(replace) != tt.wantReplace {
				t.Errorf("enrolled in replace = %v, want %v", p.isEnrolled(replace), tt.wantReplace)
			}
		})
	}
}

func TestSwapEngine_Preconditions(t *testing.T) {
	add, replace := ps261a5, ps261a1

	tests := []struct {
		name    string
		portal  *fakePortal
		wantMsg string
	}{
		{
			name:    "add not offered",
			portal:  newFakePortal().offer(replace).enroll(replace),
			wantMsg: "cannot register for CAS PS261 A5",
		},
		{
			name:    "replace not enrolled",
			portal:  newFakePortal().offer(add).offer(replace),
			wantMsg: "cannot drop CAS PS261 A1",
		},
		{
			name:    "replace not restorable",
			portal:  newFakePortal().offer(add).enroll(replace),
			wantMsg: "cannot re-register for CAS PS261 A1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			metrics := NewMetrics(reg)
			e := NewSwapEngine(tt.portal, testServiceLogger(), WithSwapMetrics(metrics))

			res, err := e.Swap(context.Background(), testTerm, add, replace)
			if res != nil {
				t.Errorf("result = %+v, want nil", res)
			}
			var pe *portal.Error
			if !errors.As(err, &pe) || pe.Kind != portal.KindCannotReplace {
				t.Fatalf("error = %v, want CannotReplace", err)
			}
			if pe.Msg != tt.wantMsg {
				t.Errorf("message = %q, want %q", pe.Msg, tt.wantMsg)
			}
			if calls := tt.portal.Calls(); len(calls) != 0 {
				t.Errorf("mutations performed: %v", calls)
			}
			if got := testutil.ToFloat64(metrics.Swaps.WithLabelValues("cannot_replace")); got != 1 {
				t.Errorf("swaps_total{cannot_replace} = %v, want 1", got)
			}
		})
	}
}

func TestSwapEngine_LookupErrorPropagates(t *testing.T) {
	p := newFakePortal().offer(ps261a5).offer(ps261a1).enroll(ps261a1)
	p.lookupErr = portal.Errorf(portal.KindParse, "parse", "table missing")
	e := NewSwapEngine(p, testServiceLogger())

	_, err := e.Swap(context.Background(), testTerm, ps261a5, ps261a1)
	if !errors.Is(err, portal.ErrParse) {
		t.Fatalf("error = %v, want PageParseError", err)
	}
	if calls := p.Calls(); len(calls) != 0 {
		t.Errorf("mutations performed: %v", calls)
	}
}

func TestSwapEngine_CancellationDoesNotAbortCompensation(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newFakePortal().offer(ps261a5).offer(ps261a1).enroll(ps261a1)
	p.rejectRegister[ps261a5] = "Class Full"
	ctx, cancel := context.WithCancel(context.Background())
	p.onDrop = cancel
	e := NewSwapEngine(p, testServiceLogger())

	res, err := e.Swap(ctx, testTerm, ps261a5, ps261a1)
	if !errors.Is(err, portal.ErrRegisterFailed) {
		t.Fatalf("error = %v, want RegisterFailed", err)
	}
	if res.Outcome != SwapRolledBack {
		t.Errorf("outcome = %v, want rolled_back", res.Outcome)
	}
	if !p.isEnrolled(ps261a1) {
		t.Error("replace target was not restored after cancellation")
	}
}

func TestSwapEngine_TokensAreCapturedBeforeTransaction(t *testing.T) {
	p := newFakePortal().offer(ps261a5).offer(ps261a1).enroll(ps261a1)
	e := NewSwapEngine(p, testServiceLogger())

	// The catalog changes after the drop. The engine must keep using the
	// token it looked up beforehand and must not search again.
	p.onDrop = func() {
		p.mu.Lock()
		delete(p.catalog, ps261a1)
		p.mu.Unlock()
	}

	res, err := e.Swap(context.Background(), testTerm, ps261a5, ps261a1)
	if err != nil {
		t.Fatalf("Swap() error: %v", err)
	}
	if res.Outcome != SwapSwapped {
		t.Errorf("outcome = %v", res.Outcome)
	}

	p.mu.Lock()
	finds := 0
	for _, c := range p.calls {
		if len(c) > 4 && c[:4] == "find" {
			finds++
		}
	}
	p.mu.Unlock()
	if finds != 3 {
		t.Errorf("lookups = %d, want 3", finds)
	}
}

func TestSwapEngine_RestoreErrorIsCritical(t *testing.T) {
	p := newFakePortal().offer(ps261a5).offer(ps261a1).enroll(ps261a1)
	p.rejectRegister[ps261a5] = "Class Full"
	p.registerErr[ps261a1] = portal.Errorf(portal.KindConnectivity, "fetch", "connection refused")
	e := NewSwapEngine(p, testServiceLogger())

	res, err := e.Swap(context.Background(), testTerm, ps261a5, ps261a1)
	if !errors.Is(err, portal.ErrCritical) {
		t.Fatalf("error = %v, want CriticalError", err)
	}
	if res.Outcome != SwapStranded {
		t.Errorf("outcome = %v", res.Outcome)
	}
	if !errors.Is(err, portal.ErrConnectivity) {
		t.Error("critical error should carry the restore failure")
	}
}

func TestSwapEngine_DropErrorIsCompensated(t *testing.T) {
	defer goleak.VerifyNone(t)

	add, replace := ps261a5, ps261a1
	parseErr := portal.Errorf(portal.KindParse, "parse drop confirmation", "result table not found")

	tests := []struct {
		name        string
		applied     bool
		restoreErr  error
		lookupAfter error

		wantOutcome SwapOutcome
		wantKind    portal.Kind
		wantCalls   []string
		wantReplace bool
	}{
		{
			name: "drop applied then errors", applied: true,
			wantOutcome: SwapRolledBack,
			wantKind:    portal.KindParse,
			wantCalls:   []string{"drop CAS PS261 A1", "register CAS PS261 A1"},
			wantReplace: true,
		},
		{
			name: "drop never applied", applied: false,
			wantOutcome: SwapRolledBack,
			wantKind:    portal.KindParse,
			wantCalls:   []string{"drop CAS PS261 A1", "register CAS PS261 A1"},
			wantReplace: true,
		},
		{
			name: "drop applied and restore fails", applied: true,
			restoreErr:  portal.Errorf(portal.KindConnectivity, "fetch", "connection refused"),
			wantOutcome: SwapStranded,
			wantKind:    portal.KindCritical,
			wantCalls:   []string{"drop CAS PS261 A1", "register CAS PS261 A1"},
		},
		{
			name: "enrollment unknown after failed restore", applied: false,
			restoreErr:  portal.Errorf(portal.KindConnectivity, "fetch", "connection refused"),
			lookupAfter: portal.Errorf(portal.KindConnectivity, "fetch", "connection refused"),
			wantOutcome: SwapStranded,
			wantKind:    portal.KindCritical,
			wantCalls:   []string{"drop CAS PS261 A1", "register CAS PS261 A1"},
			wantReplace: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakePortal().offer(add).offer(replace).enroll(replace)
			p.dropErr, p.dropApplied = parseErr, tt.applied
			if tt.restoreErr != nil {
				p.registerErr[replace] = tt.restoreErr
			}
			if tt.lookupAfter != nil {
				p.onRegister = func() { p.lookupErr = tt.lookupAfter }
			}
			e := NewSwapEngine(p, testServiceLogger())

			res, err := e.Swap(context.Background(), testTerm, add, replace)

			if got := portal.KindOf(err); got != tt.wantKind {
				t.Errorf("error kind = %v, want %v (err: %v)", got, tt.wantKind, err)
			}
			if !errors.Is(err, portal.ErrParse) {
				t.Errorf("error %v should carry the drop failure", err)
			}
			if res == nil || res.Outcome != tt.wantOutcome {
				t.Fatalf("result = %+v, want outcome %v", res, tt.wantOutcome)
			}
			if res.DropErr != parseErr {
				t.Errorf("DropErr = %v", res.DropErr)
			}
			if diff := cmp.Diff(tt.wantCalls, p.Calls()); diff != "" {
				t.Errorf("portal calls mismatch (-want +got):\n%s", diff)
			}
			if p.isEnrolled(add) {
				t.Error("add target must not be registered after a failed drop")
			}
			if p.isEnrolled(replace) != tt.wantReplace {
				t.Errorf("enrolled in replace = %v, want %v", p.isEnrolled(replace), tt.wantReplace)
			}
		})
	}
}

func TestSwapEngine_Register(t *testing.T) {
	tests := []struct {
		name     string
		portal   *fakePortal
		want     bool
		wantKind portal.Kind
		result   string
	}{
		{
			name:   "registered",
			portal: newFakePortal().offer(cs111),
			want:   true,
			result: "ok",
		},
		{
			name:   "not offered",
			portal: newFakePortal(),
			result: "unavailable",
		},
		{
			name: "rejected",
			portal: func() *fakePortal {
				p := newFakePortal().offer(cs111)
				p.rejectRegister[cs111] = "Class Full"
				return p
			}(),
			wantKind: portal.KindRegisterFailed,
			result:   "rejected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			metrics := NewMetrics(reg)
			e := NewSwapEngine(tt.portal, testServiceLogger(), WithSwapMetrics(metrics))

			got, err := e.Register(context.Background(), testTerm, cs111)
			if got != tt.want {
				t.Errorf("Register() = %v, want %v", got, tt.want)
			}
			if portal.KindOf(err) != tt.wantKind {
				t.Errorf("error = %v, want kind %v", err, tt.wantKind)
			}
			if v := testutil.ToFloat64(metrics.Registrations.WithLabelValues(tt.result)); v != 1 {
				t.Errorf("registrations_total{%s} = %v, want 1", tt.result, v)
			}
		})
	}
}
