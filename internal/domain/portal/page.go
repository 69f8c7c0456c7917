// Package portal describes the registration portal: its pages, how a fetched
// page is classified, and the errors portal operations produce.
package portal

import (
	"net/url"
	"strings"

	"github.com/Sentinel-Gate/seatswap/internal/domain/course"
)

// PageName is the ModuleName of a portal page.
type PageName string

const (
	// PageAllSched is the full schedule page. AuthSession fetches it to
	// check the session and to start a login.
	PageAllSched PageName = "allsched.pl"
	// PageRegSched is the registered-classes schedule of every semester.
	// check prints it next to the desired state.
	PageRegSched PageName = "regsched.pl"
	// PageRegOptions must be loaded once per term before any registration page.
	PageRegOptions PageName = "reg/option/_start.pl"
	// PageAddStart lists the colleges offering classes.
	PageAddStart PageName = "reg/add/_start.pl"
	// PageBrowse searches the class catalog.
	PageBrowse PageName = "reg/add/browse_schedule.pl"
	// PageConfirmClasses submits registrations.
	PageConfirmClasses PageName = "reg/add/confirm_classes.pl"
	// PageDrop lists enrolled classes.
	PageDrop PageName = "reg/drop/_start.pl"
	// PageConfirmDrop submits drops.
	PageConfirmDrop PageName = "reg/drop/confirm_drop.pl"
	// PageBuilding describes a campus building.
	PageBuilding PageName = "bldg.pl"
)

// Class is the classification of a fetched page.
type Class int

const (
	ClassOK Class = iota
	ClassNeedsLogin
	ClassStaleRequest
	ClassConnectionRefused
	ClassInternalError
)

func (c Class) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassNeedsLogin:
		return "needs_login"
	case ClassStaleRequest:
		return "stale_request"
	case ClassConnectionRefused:
		return "connection_refused"
	case ClassInternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// NeedsAuth reports whether the session must log in before the page can be read.
func (c Class) NeedsAuth() bool {
	return c == ClassNeedsLogin || c == ClassStaleRequest
}

// Page markers. They are literal substrings of the portal's HTML.
const (
	markerConnectionRefused = "not available: Connection refused"
	markerInternalError     = "<title>Error &middot; Boston University</title>"
	markerNeedsLogin        = "<title>Boston University | Login</title>"
	markerStaleRequest      = "Web Login Service - Stale Request"
)

// Classify returns the class of a page body. Outage markers take precedence
// over login markers.
func Classify(body string) Class {
	switch {
	case strings.Contains(body, markerConnectionRefused):
		return ClassConnectionRefused
	case strings.Contains(body, markerInternalError):
		return ClassInternalError
	case strings.Contains(body, markerNeedsLogin):
		return ClassNeedsLogin
	case strings.Contains(body, markerStaleRequest):
		return ClassStaleRequest
	default:
		return ClassOK
	}
}

// Page is one fetched portal page.
type Page struct {
	// URL is the final URL after redirects.
	URL   *url.URL
	Body  string
	Class Class
}

// ActionResult is the portal's verdict on one registration or drop.
type ActionResult struct {
	OK      bool
	Message string
}

// Confirmation maps each submitted section to the portal's verdict.
type Confirmation map[course.Abbr]ActionResult

// Result returns the verdict for abbr. A section missing from the page counts
// as a failure.
func (c Confirmation) Result(abbr course.Abbr) ActionResult {
	if r, ok := c[abbr]; ok {
		return r
	}
	return ActionResult{OK: false, Message: "not listed on confirmation page"}
}
