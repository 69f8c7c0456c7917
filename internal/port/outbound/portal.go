// Package outbound defines the outbound port interfaces the services use to
// reach the registration portal and its persistence.
package outbound

import (
	"context"
	"net/url"

	"github.com/Sentinel-Gate/seatswap/internal/domain/course"
	"github.com/Sentinel-Gate/seatswap/internal/domain/portal"
)

// PageFetcher fetches one portal page and classifies it. It never retries
// and never logs in. Transport failures are returned as
// *portal.Error{Kind: KindConnectivity}.
type PageFetcher interface {
	Fetch(ctx context.Context, page portal.PageName, params url.Values) (*portal.Page, error)
}

// Authenticator runs one pass of the single-sign-on protocol starting from
// a page that was classified as needing login. Protocol failures are
// *portal.Error{Kind: KindLogin} carrying the offending URL and body;
// transport failures are KindConnectivity.
type Authenticator interface {
	Authenticate(ctx context.Context, entry *portal.Page) error
}

// ScheduleParser extracts structured data from portal pages. Structural
// mismatches are *portal.Error{Kind: KindParse}; a search that found
// nothing is an empty slice.
type ScheduleParser interface {
	// ParseSearch reads a browse_schedule result page. Sections carry RegID when addable.
	ParseSearch(body string) ([]course.Section, error)
	// ParseDropList reads the drop page. Every enrolled section is returned;
	// DropID is set on the droppable ones.
	ParseDropList(body string) ([]course.Section, error)
	// ParseRegisterConfirmation reads confirm_classes output.
	ParseRegisterConfirmation(body string) (portal.Confirmation, error)
	// ParseDropConfirmation reads confirm_drop output.
	ParseDropConfirmation(body string) (portal.Confirmation, error)
	// ParseBuilding reads a building description page.
	ParseBuilding(body string) (course.Building, error)
	// ParseSchedule reads the registered-classes schedule, one entry per
	// semester in page order.
	ParseSchedule(body string) ([]course.TermSchedule, error)
	// ParseColleges returns the college codes offered on the add start page.
	ParseColleges(body string) ([]string, error)
	// UnavailableOption reports the "option not available for the semester" page.
	UnavailableOption(body string) bool
}
