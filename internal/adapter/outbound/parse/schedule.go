// Package parse reads the StudentLink registration pages into course values.
package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/Sentinel-Gate/seatswap/internal/domain/course"
	"github.com/Sentinel-Gate/seatswap/internal/domain/portal"
	"github.com/Sentinel-Gate/seatswap/internal/port/outbound"
)

// Page markers.
const (
	markerNoClasses      = "No classes found for specified search criteria"
	markerBadSemester    = "Semester must be in format YYYYS"
	markerUnavailableOpt = "You requested a registration option not available for the semester."
	markerTotalCredits   = "Total Credits"
	markerNoActivity     = "no reg activity"
)

const (
	selectFormName      = "SelectForm"
	confirmHeadingLabel = "Semester:"
	dropConfirmedStatus = "DRP-ST"

	searchColumns     = 14
	dropColumns       = 11
	scheduleColumns   = 12
	confirmMinColumns = 3

	checkmarkImageSuffix = "checkmark.gif"
	xmarkImageSuffix     = "xmark.gif"

	meetingTimeLayout = "3:04PM"
	noBuilding        = "NO"
	noRoom            = "ROOM"

	buildingFieldsPerPage = 3
)

var (
	semesterText  = regexp.MustCompile(`Spring|Summer|Fall|Winter`)
	buildingField = regexp.MustCompile(`(?:Abbreviation|Description|Address):\n.+<TD ALIGN=left>(.+)\n`)
	collegeSelect = regexp.MustCompile(`<SELECT NAME=College onChange="ClearCollege\(\);">[\S\s]*?</SELECT>`)
	collegeOption = regexp.MustCompile(`<OPTION>([A-Z]{3})`)
)

var weekdays = map[string]time.Weekday{
	"Su": time.Sunday,
	"M":  time.Monday,
	"Tu": time.Tuesday,
	"W":  time.Wednesday,
	"Th": time.Thursday,
	"F":  time.Friday,
	"Sa": time.Saturday,
}

// ScheduleParser implements outbound.ScheduleParser over the portal's HTML.
// It holds no state.
type ScheduleParser struct{}

var _ outbound.ScheduleParser = (*ScheduleParser)(nil)

// NewScheduleParser returns a ScheduleParser.
func NewScheduleParser() *ScheduleParser {
	return &ScheduleParser{}
}

func parseError(what, body, format string, args ...any) error {
	return &portal.Error{
		Kind: portal.KindParse,
		Op:   "parse " + what,
		Body: body,
		Msg:  fmt.Sprintf(format, args...),
	}
}

func document(what, body string) (*html.Node, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, &portal.Error{Kind: portal.KindParse, Op: "parse " + what, Body: body, Err: err}
	}
	return doc, nil
}

func selectForm(doc *html.Node) *html.Node {
	return find(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Form && attr(n, "name") == selectFormName
	})
}

// ParseSearch implements outbound.ScheduleParser.
func (p *ScheduleParser) ParseSearch(body string) ([]course.Section, error) {
	const what = "search"
	if strings.Contains(body, markerNoClasses) {
		return []course.Section{}, nil
	}
	if strings.Contains(body, markerBadSemester) {
		return nil, parseError(what, body, "portal rejected the semester key")
	}
	doc, err := document(what, body)
	if err != nil {
		return nil, err
	}
	form := selectForm(doc)
	if form == nil {
		return nil, parseError(what, body, "%s not found", selectFormName)
	}
	rows, ok := tableRows(form)
	if !ok {
		return nil, parseError(what, body, "result table not found")
	}

	result := []course.Section{}
	for i, tr := range rows {
		tds := children(tr, atom.Td)
		if len(tds) == 0 || tds[0].FirstChild == nil {
			continue
		}
		if len(tds) != searchColumns {
			return nil, parseError(what, body, "row %d: %d columns, want %d", i+1, len(tds), searchColumns)
		}
		s, err := searchRow(tds)
		if err != nil {
			return nil, parseError(what, body, "row %d: %v", i+1, err)
		}
		result = append(result, s)
	}
	return result, nil
}

func searchRow(tds []*html.Node) (course.Section, error) {
	abbr, err := course.ParseAbbr(text(tds[2]))
	if err != nil {
		return course.Section{}, err
	}
	s := course.Section{Abbr: abbr, OpenSeats: -1}

	// An addable section has a checkbox; a full one links to the waitlist.
	if in := find(tds[0], isAtom(atom.Input)); in != nil {
		s.RegID = attr(in, "value")
	}
	s.Title, s.Instructor = titleAndInstructor(tds[3])
	s.Topic = text(tds[4])
	if seats := text(tds[5]); seats != "" {
		n, err := strconv.Atoi(seats)
		if err != nil {
			return course.Section{}, fmt.Errorf("open seats %q: %w", seats, err)
		}
		s.OpenSeats = n
	}
	s.CreditHours = text(tds[6])
	s.Type = text(tds[7])
	s.Meetings, err = meetings(tds[8], tds[9], tds[10], tds[11], tds[12])
	if err != nil {
		return course.Section{}, err
	}
	s.Notes = text(tds[13])
	return s, nil
}

// ParseDropList implements outbound.ScheduleParser.
func (p *ScheduleParser) ParseDropList(body string) ([]course.Section, error) {
	const what = "drop list"
	doc, err := document(what, body)
	if err != nil {
		return nil, err
	}
	form := selectForm(doc)
	if form == nil {
		return nil, parseError(what, body, "%s not found", selectFormName)
	}
	tbody := findAfter(doc, form, isAtom(atom.Tbody))
	if tbody == nil {
		return nil, parseError(what, body, "class table not found")
	}
	rows, ok := tableRows(tbody)
	if !ok {
		return nil, parseError(what, body, "class table is empty")
	}

	result := []course.Section{}
	for i, tr := range rows {
		tds := children(tr, atom.Td)
		// Header rows have no data cells; notes and totals span the table.
		if len(tds) <= 1 || isSummaryRow(tr) {
			continue
		}
		if len(tds) != dropColumns {
			return nil, parseError(what, body, "row %d: %d cells, want %d", i+1, len(tds), dropColumns)
		}
		abbr, err := course.ParseAbbr(text(tds[1]))
		if err != nil {
			return nil, parseError(what, body, "row %d: %v", i+1, err)
		}
		s := course.Section{
			Abbr:        abbr,
			Status:      text(tds[2]),
			CreditHours: text(tds[3]),
			Type:        text(tds[5]),
			OpenSeats:   -1,
		}
		if in := find(tds[0], isAtom(atom.Input)); in != nil && attr(in, "name") == "DropIt" {
			s.DropID = attr(in, "value")
		}
		s.Title, s.Instructor = titleAndInstructor(tds[4])
		s.Meetings, err = meetings(tds[6], tds[7], tds[8], tds[9], tds[10])
		if err != nil {
			return nil, parseError(what, body, "row %d: %v", i+1, err)
		}
		result = append(result, s)
	}
	return result, nil
}

// ParseSchedule implements outbound.ScheduleParser.
//
// The schedule is one table. The first row of every semester opens with a
// cell spanning the semester's rows; the remaining cells, and every other
// row, hold one class. Divider, credit total and "no reg activity" rows are
// skipped. Semesters outside the portal's registration terms (Winter) are
// skipped with their rows.
func (p *ScheduleParser) ParseSchedule(body string) ([]course.TermSchedule, error) {
	const what = "schedule"
	doc, err := document(what, body)
	if err != nil {
		return nil, err
	}
	var table *html.Node
	for _, n := range preorder(doc) {
		if n.Type == html.TextNode && semesterText.MatchString(n.Data) {
			if table = ancestor(n, atom.Table); table != nil {
				break
			}
		}
	}
	if table == nil {
		return nil, parseError(what, body, "schedule table not found")
	}
	rows, ok := tableRows(table)
	if !ok {
		return nil, parseError(what, body, "schedule table is empty")
	}

	result := []course.TermSchedule{}
	var current *course.TermSchedule
	skipping := false
	for i, tr := range rows {
		tds := children(tr, atom.Td)
		if len(tds) > 0 && attr(tds[0], "rowspan") != "" {
			first := tds[0].FirstChild
			if first == nil || first.Type != html.TextNode {
				continue
			}
			l := lines(tds[0])
			if len(l) == 0 {
				continue
			}
			term, err := course.ParseTerm(l[0])
			if err != nil {
				current, skipping = nil, true
				continue
			}
			result = append(result, course.TermSchedule{Term: term, Sections: []course.Section{}})
			current, skipping = &result[len(result)-1], false
			tds = tds[1:]
		}
		if skipping {
			continue
		}
		if current == nil {
			return nil, parseError(what, body, "row %d precedes any semester", i+1)
		}
		if len(tds) == scheduleColumns {
			s, err := scheduleRow(tds)
			if err != nil {
				return nil, parseError(what, body, "row %d: %v", i+1, err)
			}
			current.Sections = append(current.Sections, s)
			continue
		}
		if len(tds) == 0 || isSummaryRow(tr) {
			continue
		}
		return nil, parseError(what, body, "row %d: %d columns, want %d", i+1, len(tds), scheduleColumns)
	}
	return result, nil
}

func scheduleRow(tds []*html.Node) (course.Section, error) {
	abbr, err := course.ParseAbbr(text(tds[0]))
	if err != nil {
		return course.Section{}, err
	}
	s := course.Section{
		Abbr:        abbr,
		Status:      text(tds[1]),
		CreditHours: text(tds[2]),
		Topic:       text(tds[4]),
		Type:        text(tds[5]),
		Notes:       text(tds[11]),
		OpenSeats:   -1,
	}
	s.Title, s.Instructor = titleAndInstructor(tds[3])
	s.Meetings, err = meetings(tds[6], tds[7], tds[8], tds[9], tds[10])
	if err != nil {
		return course.Section{}, err
	}
	return s, nil
}

// isSummaryRow reports divider, credit total and empty-semester rows.
func isSummaryRow(tr *html.Node) bool {
	if find(tr, isAtom(atom.Hr)) != nil {
		return true
	}
	t := text(tr)
	return t == "" || strings.Contains(t, markerTotalCredits) || strings.Contains(t, markerNoActivity)
}

// confirmRows returns the rows of the result table under the "Semester:" heading.
func confirmRows(what, body string) ([]*html.Node, error) {
	doc, err := document(what, body)
	if err != nil {
		return nil, err
	}
	heading := find(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.B && text(n) == confirmHeadingLabel
	})
	if heading == nil {
		return nil, parseError(what, body, "%q heading not found", confirmHeadingLabel)
	}
	table := findAfter(doc, heading, isAtom(atom.Table))
	if table == nil {
		return nil, parseError(what, body, "result table not found")
	}
	rows, ok := tableRows(table)
	if !ok {
		return nil, parseError(what, body, "result table is empty")
	}
	return rows, nil
}

// ParseRegisterConfirmation implements outbound.ScheduleParser.
func (p *ScheduleParser) ParseRegisterConfirmation(body string) (portal.Confirmation, error) {
	rows, err := confirmRows("register confirmation", body)
	if err != nil {
		return nil, err
	}
	result := portal.Confirmation{}
	for _, tr := range rows {
		tds := children(tr, atom.Td)
		if len(tds) < confirmMinColumns {
			continue
		}
		img := find(tds[0], isAtom(atom.Img))
		if img == nil {
			continue
		}
		src := attr(img, "src")
		if !strings.HasSuffix(src, checkmarkImageSuffix) && !strings.HasSuffix(src, xmarkImageSuffix) {
			continue
		}
		abbr, err := course.ParseAbbr(text(tds[1]))
		if err != nil {
			continue
		}
		result[abbr] = portal.ActionResult{
			OK:      strings.HasSuffix(src, checkmarkImageSuffix),
			Message: text(tds[len(tds)-1]),
		}
	}
	return result, nil
}

// ParseDropConfirmation implements outbound.ScheduleParser.
func (p *ScheduleParser) ParseDropConfirmation(body string) (portal.Confirmation, error) {
	rows, err := confirmRows("drop confirmation", body)
	if err != nil {
		return nil, err
	}
	result := portal.Confirmation{}
	for _, tr := range rows {
		tds := children(tr, atom.Td)
		if len(tds) < confirmMinColumns {
			continue
		}
		abbr, err := course.ParseAbbr(text(tds[0]))
		if err != nil {
			continue
		}
		result[abbr] = portal.ActionResult{
			OK:      text(tds[1]) == dropConfirmedStatus,
			Message: text(tds[len(tds)-1]),
		}
	}
	return result, nil
}

// ParseBuilding implements outbound.ScheduleParser.
func (p *ScheduleParser) ParseBuilding(body string) (course.Building, error) {
	m := buildingField.FindAllStringSubmatch(body, -1)
	if len(m) != buildingFieldsPerPage {
		return course.Building{}, parseError("building", body, "found %d of %d fields", len(m), buildingFieldsPerPage)
	}
	return course.Building{
		Code:        normalize(html.UnescapeString(m[0][1])),
		Description: normalize(html.UnescapeString(m[1][1])),
		Address:     normalize(html.UnescapeString(m[2][1])),
	}, nil
}

// ParseColleges implements outbound.ScheduleParser.
func (p *ScheduleParser) ParseColleges(body string) ([]string, error) {
	selects := collegeSelect.FindAllString(body, -1)
	if len(selects) != 1 {
		return nil, parseError("colleges", body, "found %d college selectors, want 1", len(selects))
	}
	var codes []string
	for _, m := range collegeOption.FindAllStringSubmatch(selects[0], -1) {
		codes = append(codes, m[1])
	}
	return codes, nil
}

// UnavailableOption implements outbound.ScheduleParser.
func (p *ScheduleParser) UnavailableOption(body string) bool {
	return strings.Contains(body, markerUnavailableOpt)
}

func titleAndInstructor(td *html.Node) (title, instructor string) {
	l := lines(td)
	if len(l) > 0 {
		title = l[0]
	}
	if len(l) > 1 {
		instructor = l[1]
	}
	return title, instructor
}

// meetings zips the per-line meeting columns. One line lists every day the
// meeting repeats on, so it yields one Meeting per day.
func meetings(buildings, rooms, days, starts, stops *html.Node) ([]course.Meeting, error) {
	b, r, d, st, sp := lines(buildings), lines(rooms), lines(days), lines(starts), lines(stops)
	n := min(len(b), len(r), len(d), len(st), len(sp))

	var out []course.Meeting
	for i := 0; i < n; i++ {
		building, room := b[i], r[i]
		if building == noBuilding && room == noRoom {
			building, room = "", ""
		}
		start, err := minutes(st[i])
		if err != nil {
			return nil, err
		}
		stop, err := minutes(sp[i])
		if err != nil {
			return nil, err
		}
		for _, code := range strings.Split(d[i], ",") {
			day, ok := weekdays[strings.TrimSpace(code)]
			if !ok {
				return nil, fmt.Errorf("unknown day %q", code)
			}
			out = append(out, course.Meeting{
				Building: building,
				Room:     room,
				Day:      day,
				Start:    start,
				Stop:     stop,
			})
		}
	}
	return out, nil
}

// minutes parses "10:10am" into minutes after midnight.
func minutes(s string) (int, error) {
	t, err := time.Parse(meetingTimeLayout, strings.ToUpper(strings.ReplaceAll(s, " ", "")))
	if err != nil {
		return 0, fmt.Errorf("meeting time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
