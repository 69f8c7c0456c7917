package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/Sentinel-Gate/seatswap/internal/domain/course"
	"github.com/Sentinel-Gate/seatswap/internal/domain/portal"
	"github.com/Sentinel-Gate/seatswap/internal/port/outbound"
)

// PageGetter returns authenticated portal pages. *AuthSession implements it.
type PageGetter interface {
	GetPage(ctx context.Context, page portal.PageName, params url.Values) (string, error)
}

// Portal is the set of registration operations the swap engine and the
// reconciliation loop need. *Registrar implements it.
type Portal interface {
	// FindSection looks abbr up in the catalog. found is false when the
	// search returned no row for exactly that section.
	FindSection(ctx context.Context, term course.Term, abbr course.Abbr) (sec course.Section, found bool, err error)
	// FindEnrolled looks abbr up in the drop list.
	FindEnrolled(ctx context.Context, term course.Term, abbr course.Abbr) (sec course.Section, found bool, err error)
	// Enrolled returns every enrolled section.
	Enrolled(ctx context.Context, term course.Term) ([]course.Section, error)
	// Register submits sec's registration token.
	Register(ctx context.Context, term course.Term, sec course.Section) (portal.ActionResult, error)
	// Drop submits sec's drop token.
	Drop(ctx context.Context, term course.Term, sec course.Section) (portal.ActionResult, error)
}

// Registrar performs portal operations on top of an authenticated session.
type Registrar struct {
	pages  PageGetter
	parser outbound.ScheduleParser
	logger *slog.Logger

	termOptions *Memo[course.Term, struct{}]
	buildings   *Memo[string, course.Building]
	colleges    *Memo[course.Term, []string]
}

// RegistrarOption configures a Registrar.
type RegistrarOption func(*registrarConfig)

type registrarConfig struct {
	termOptionsTTL time.Duration
	buildingTTL    time.Duration
	collegesTTL    time.Duration
	metrics        *Metrics
	memoOpts       []MemoOption
}

// WithCacheTTLs sets the TTLs of the memoized lookups.
func WithCacheTTLs(termOptions, building, colleges time.Duration) RegistrarOption {
	return func(c *registrarConfig) {
		c.termOptionsTTL = termOptions
		c.buildingTTL = building
		c.collegesTTL = colleges
	}
}

// WithRegistrarMetrics records memo hits and misses.
func WithRegistrarMetrics(m *Metrics) RegistrarOption {
	return func(c *registrarConfig) { c.metrics = m }
}

// WithRegistrarMemoOptions passes options to every memo, e.g. a test clock.
func WithRegistrarMemoOptions(opts ...MemoOption) RegistrarOption {
	return func(c *registrarConfig) { c.memoOpts = append(c.memoOpts, opts...) }
}

// NewRegistrar creates a Registrar.
func NewRegistrar(pages PageGetter, parser outbound.ScheduleParser, logger *slog.Logger, opts ...RegistrarOption) *Registrar {
	cfg := registrarConfig{
		termOptionsTTL: 15 * time.Minute,
		buildingTTL:    time.Hour,
		collegesTTL:    time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Registrar{pages: pages, parser: parser, logger: logger}
	termKey := func(t course.Term) []string { return []string{t.Key()} }

	r.termOptions = NewMemo(r.loadTermOptions, termKey, cfg.termOptionsTTL,
		append(cfg.memoOpts, WithMemoObserver(cfg.metrics.memoObserver("term_options")))...)
	r.buildings = NewMemo(r.fetchBuilding, func(code string) []string { return []string{code} }, cfg.buildingTTL,
		append(cfg.memoOpts, WithMemoObserver(cfg.metrics.memoObserver("building")))...)
	r.colleges = NewMemo(r.fetchColleges, termKey, cfg.collegesTTL,
		append(cfg.memoOpts, WithMemoObserver(cfg.metrics.memoObserver("colleges")))...)
	return r
}

// LoadTerm opens the term's registration options. The portal requires this
// before any registration page of the term; it is done once per TTL.
func (r *Registrar) LoadTerm(ctx context.Context, term course.Term) error {
	_, err := r.termOptions.Do(ctx, term)
	return err
}

func (r *Registrar) loadTermOptions(ctx context.Context, term course.Term) (struct{}, error) {
	r.logger.Debug("loading registration options", "term", term)
	_, err := r.pages.GetPage(ctx, portal.PageRegOptions, url.Values{"KeySem": {term.Key()}})
	return struct{}{}, err
}

// regPage fetches a registration page after making sure the term is loaded.
func (r *Registrar) regPage(ctx context.Context, term course.Term, page portal.PageName, params url.Values) (string, error) {
	if err := r.LoadTerm(ctx, term); err != nil {
		return "", err
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("KeySem", term.Key())
	return r.pages.GetPage(ctx, page, params)
}

// Search runs a catalog search for abbr's college, department, number and section.
func (r *Registrar) Search(ctx context.Context, term course.Term, abbr course.Abbr) ([]course.Section, error) {
	params := url.Values{
		"SearchOptionCd": {"S"},
		"KeySem":         {term.Key()},
		"College":        {abbr.College()},
		"Dept":           {abbr.Dept()},
		"Course":         {abbr.Number()},
		"Section":        {abbr.Section()},
	}
	body, err := r.pages.GetPage(ctx, portal.PageBrowse, params)
	if err != nil {
		return nil, err
	}
	return r.parser.ParseSearch(body)
}

// FindSection implements Portal.
func (r *Registrar) FindSection(ctx context.Context, term course.Term, abbr course.Abbr) (course.Section, bool, error) {
	sections, err := r.Search(ctx, term, abbr)
	if err != nil {
		return course.Section{}, false, err
	}
	sec, found := course.Find(sections, abbr)
	return sec, found, nil
}

// Enrolled implements Portal. It reads the drop list, which lists every
// enrolled section whether or not it can currently be dropped.
func (r *Registrar) Enrolled(ctx context.Context, term course.Term) ([]course.Section, error) {
	body, err := r.regPage(ctx, term, portal.PageDrop, nil)
	if err != nil {
		return nil, err
	}
	return r.parser.ParseDropList(body)
}

// FindEnrolled implements Portal.
func (r *Registrar) FindEnrolled(ctx context.Context, term course.Term, abbr course.Abbr) (course.Section, bool, error) {
	sections, err := r.Enrolled(ctx, term)
	if err != nil {
		return course.Section{}, false, err
	}
	sec, found := course.Find(sections, abbr)
	return sec, found, nil
}

// Register implements Portal.
func (r *Registrar) Register(ctx context.Context, term course.Term, sec course.Section) (portal.ActionResult, error) {
	if !sec.CanRegister() {
		return portal.ActionResult{}, portal.Errorf(portal.KindRegisterFailed, "register", "%s has no registration token", sec.Abbr)
	}
	body, err := r.regPage(ctx, term, portal.PageConfirmClasses, url.Values{"SelectIt": {sec.RegID}})
	if err != nil {
		return portal.ActionResult{}, err
	}
	if r.parser.UnavailableOption(body) {
		return portal.ActionResult{}, portal.Errorf(portal.KindRegisterFailed, "register",
			"registration is not available for %s", term)
	}
	conf, err := r.parser.ParseRegisterConfirmation(body)
	if err != nil {
		return portal.ActionResult{}, err
	}
	return conf.Result(sec.Abbr), nil
}

// Drop implements Portal.
func (r *Registrar) Drop(ctx context.Context, term course.Term, sec course.Section) (portal.ActionResult, error) {
	if !sec.CanDrop() {
		return portal.ActionResult{}, portal.Errorf(portal.KindRegisterFailed, "drop", "%s has no drop token", sec.Abbr)
	}
	body, err := r.regPage(ctx, term, portal.PageConfirmDrop, url.Values{"DropIt": {sec.DropID}})
	if err != nil {
		return portal.ActionResult{}, err
	}
	if r.parser.UnavailableOption(body) {
		return portal.ActionResult{}, portal.Errorf(portal.KindRegisterFailed, "drop",
			"dropping is not available for %s", term)
	}
	conf, err := r.parser.ParseDropConfirmation(body)
	if err != nil {
		return portal.ActionResult{}, err
	}
	return conf.Result(sec.Abbr), nil
}

// Schedule returns the registered-classes schedule of every semester. It is
// not a registration page, so no term options are loaded.
func (r *Registrar) Schedule(ctx context.Context) ([]course.TermSchedule, error) {
	body, err := r.pages.GetPage(ctx, portal.PageRegSched, nil)
	if err != nil {
		return nil, err
	}
	return r.parser.ParseSchedule(body)
}

// Building returns the description of a building code, cached for the building TTL.
func (r *Registrar) Building(ctx context.Context, code string) (course.Building, error) {
	return r.buildings.Do(ctx, code)
}

func (r *Registrar) fetchBuilding(ctx context.Context, code string) (course.Building, error) {
	body, err := r.pages.GetPage(ctx, portal.PageBuilding, url.Values{"BldgCd": {code}})
	if err != nil {
		return course.Building{}, err
	}
	b, err := r.parser.ParseBuilding(body)
	if err != nil {
		return course.Building{}, fmt.Errorf("building %s: %w", code, err)
	}
	return b, nil
}

// Colleges returns the college codes offering classes in term.
func (r *Registrar) Colleges(ctx context.Context, term course.Term) ([]string, error) {
	return r.colleges.Do(ctx, term)
}

func (r *Registrar) fetchColleges(ctx context.Context, term course.Term) ([]string, error) {
	body, err := r.regPage(ctx, term, portal.PageAddStart, nil)
	if err != nil {
		return nil, err
	}
	return r.parser.ParseColleges(body)
}

var _ Portal = (*Registrar)(nil)
