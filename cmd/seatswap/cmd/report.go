package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Sentinel-Gate/seatswap/internal/domain/course"
	"github.com/Sentinel-Gate/seatswap/internal/domain/desired"
	"github.com/Sentinel-Gate/seatswap/internal/port/outbound"
	"github.com/Sentinel-Gate/seatswap/internal/service"
)

// printReport summarizes one cycle.
func printReport(out io.Writer, r *service.CycleReport) {
	fmt.Fprintf(out, "Cycle %s (%s)\n", r.ID, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(out, "  satisfied: %d  skipped: %d  attempted: %d\n", len(r.Satisfied), len(r.Skipped), len(r.Results))
	for _, res := range r.Results {
		line := fmt.Sprintf("  %-40s %s", res.Entry, res.Outcome)
		if res.Err != nil {
			line += ": " + res.Err.Error()
		}
		fmt.Fprintln(out, line)
	}
}

// printSections lists sections with their meeting places. buildings maps a
// building code to its description; missing codes are shown bare.
func printSections(out io.Writer, sections []course.Section, buildings map[string]course.Building) {
	sorted := make([]course.Section, len(sections))
	copy(sorted, sections)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Abbr.String() < sorted[j].Abbr.String() })

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SECTION\tTITLE\tTYPE\tDROPPABLE\tMEETS")
	for _, s := range sorted {
		droppable := "no"
		if s.CanDrop() {
			droppable = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Abbr, s.Title, s.Type, droppable, meetingSummary(s.Meetings, buildings))
	}
	_ = w.Flush()
}

// printSchedule lists the semesters other than current from the
// registered-classes schedule.
func printSchedule(out io.Writer, schedules []course.TermSchedule, current course.Term, buildings map[string]course.Building) {
	for _, ts := range schedules {
		if ts.Term == current {
			continue
		}
		fmt.Fprintf(out, "\n%s: %d sections\n", ts.Term, len(ts.Sections))
		if len(ts.Sections) == 0 {
			continue
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SECTION\tTITLE\tSTATUS\tCREDITS\tMEETS")
		for _, s := range ts.Sections {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Abbr, s.Title, s.Status, s.CreditHours, meetingSummary(s.Meetings, buildings))
		}
		_ = w.Flush()
	}
}

func meetingSummary(meetings []course.Meeting, buildings map[string]course.Building) string {
	if len(meetings) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(meetings))
	for _, m := range meetings {
		place := "no room"
		if m.Building != "" {
			place = m.Building + " " + m.Room
			if b, ok := buildings[m.Building]; ok && b.Description != "" {
				place += " (" + b.Description + ")"
			}
		}
		parts = append(parts, fmt.Sprintf("%s %s-%s %s", m.Day.String()[:3], clock(m.Start), clock(m.Stop), place))
	}
	return strings.Join(parts, ", ")
}

// clock formats minutes after midnight as 15:04.
func clock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// printPlan shows what the next cycle would do.
func printPlan(out io.Writer, plan *service.Plan) {
	fmt.Fprintf(out, "\nDesired state: %d entries\n", len(plan.Spec.Entries))
	if plan.Rejection != nil {
		fmt.Fprintf(out, "  REJECTED: %v\n", plan.Rejection)
		fmt.Fprintln(out, "  The loop would keep the last accepted desired state.")
	}
	for _, e := range plan.Satisfied {
		fmt.Fprintf(out, "  [done]    %s\n", e)
	}
	for _, e := range plan.Pending {
		fmt.Fprintf(out, "  [pending] %s\n", describeTask(e))
	}
}

func describeTask(e desired.Entry) string {
	if e.IsSwap() {
		return fmt.Sprintf("swap %s in for %s", e.Add, e.Replace)
	}
	return fmt.Sprintf("register %s", e.Add)
}

// printHistory lists journal attempts, newest first.
func printHistory(out io.Writer, attempts []outbound.Attempt) {
	if len(attempts) == 0 {
		fmt.Fprintln(out, "No attempts recorded.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tTERM\tKIND\tADD\tREPLACE\tOUTCOME\tDURATION")
	for _, a := range attempts {
		replace := a.Replace
		if replace == "" {
			replace = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.StartedAt.Local().Format("2006-01-02 15:04:05"),
			a.Term, a.Kind, a.Add, replace, a.Outcome,
			a.FinishedAt.Sub(a.StartedAt).Round(time.Millisecond))
		if a.Error != "" {
			fmt.Fprintf(w, "\t\t\t\t\terror: %s\t\n", a.Error)
		}
	}
	_ = w.Flush()
}
