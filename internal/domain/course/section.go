package course

import (
	"fmt"
	"time"
)

// Meeting is one weekly class meeting.
type Meeting struct {
	Building string
	Room     string
	Day      time.Weekday
	// Start and Stop are minutes after midnight.
	Start int
	Stop  int
}

// String formats the meeting as "Mon 09:30-10:45 CAS 211".
func (m Meeting) String() string {
	return fmt.Sprintf("%s %02d:%02d-%02d:%02d %s %s",
		m.Day.String()[:3], m.Start/60, m.Start%60, m.Stop/60, m.Stop%60, m.Building, m.Room)
}

// Section is a snapshot of one section as the portal showed it at fetch time.
//
// RegID and DropID are capability tokens: RegID is set only when the section
// could be added from the page it was read from, DropID only when it is
// enrolled and droppable. A Section read from a catalog search never has a
// DropID and vice versa.
type Section struct {
	Abbr        Abbr
	Title       string
	Instructor  string
	Topic       string
	Type        string
	Status      string
	CreditHours string
	// OpenSeats is -1 when the page does not show it.
	OpenSeats int
	Notes     string
	Meetings  []Meeting

	RegID  string
	DropID string
}

// CanRegister reports whether the section carries a registration token.
func (s Section) CanRegister() bool { return s.RegID != "" }

// CanDrop reports whether the section carries a drop token.
func (s Section) CanDrop() bool { return s.DropID != "" }

// Find returns the section whose abbreviation equals abbr.
func Find(sections []Section, abbr Abbr) (Section, bool) {
	for _, s := range sections {
		if s.Abbr == abbr {
			return s, true
		}
	}
	return Section{}, false
}

// TermSchedule is one semester of the registered-classes schedule.
type TermSchedule struct {
	Term     Term
	Sections []Section
}

// Building is a campus building as described by the portal.
type Building struct {
	Code        string
	Description string
	Address     string
}
