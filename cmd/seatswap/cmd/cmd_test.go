package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sentinel-Gate/seatswap/internal/adapter/outbound/notify"
	"github.com/Sentinel-Gate/seatswap/internal/config"
	"github.com/Sentinel-Gate/seatswap/internal/domain/course"
	"github.com/Sentinel-Gate/seatswap/internal/domain/desired"
	"github.com/Sentinel-Gate/seatswap/internal/domain/session"
	"github.com/Sentinel-Gate/seatswap/internal/port/outbound"
	"github.com/Sentinel-Gate/seatswap/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Term:        "Spring 2023",
		Credentials: config.CredentialsConfig{Username: "terrier", Password: "hunter2"},
		Session:     config.SessionConfig{StatePath: filepath.Join(dir, "state.json")},
		Reconcile:   config.ReconcileConfig{SpecPath: filepath.Join(dir, "spec.yaml")},
		Journal:     config.JournalConfig{Path: filepath.Join(dir, "journal.db")},
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	return cfg
}

func TestCommands_Registered(t *testing.T) {
	want := []string{"start", "stop", "check", "history", "reset", "version"}
	have := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("%s command not registered with rootCmd", name)
		}
	}
}

func TestStartCmd_FlagDefaults(t *testing.T) {
	once, err := startCmd.Flags().GetBool("once")
	if err != nil {
		t.Fatalf("failed to get once flag: %v", err)
	}
	if once {
		t.Error("--once should default to false")
	}
	limit, err := historyCmd.Flags().GetInt("limit")
	if err != nil {
		t.Fatalf("failed to get limit flag: %v", err)
	}
	if limit != 20 {
		t.Errorf("--limit default = %d, want 20", limit)
	}
}

func TestVersionCmd(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	defer versionCmd.SetOut(nil)

	versionCmd.Run(versionCmd, nil)
	if !strings.HasPrefix(buf.String(), "seatswap "+Version) {
		t.Errorf("output = %q", buf.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPIDFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "seatswap.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile() error: %v", err)
	}
	if got := readPIDFile(path); got != os.Getpid() {
		t.Errorf("readPIDFile() = %d, want %d", got, os.Getpid())
	}

	if got := readPIDFile(filepath.Join(t.TempDir(), "missing.pid")); got != 0 {
		t.Errorf("readPIDFile(missing) = %d, want 0", got)
	}
	bad := filepath.Join(t.TempDir(), "bad.pid")
	_ = os.WriteFile(bad, []byte("not a pid"), 0600)
	if got := readPIDFile(bad); got != 0 {
		t.Errorf("readPIDFile(garbage) = %d, want 0", got)
	}
}

func TestNewApp_Wires(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(context.Background(), cfg, discardLogger(), true)
	if err != nil {
		t.Fatalf("newApp() error: %v", err)
	}
	defer a.Close()

	if a.term != course.MustParseTerm("Spring 2023") {
		t.Errorf("term = %v", a.term)
	}
	if a.journal == nil {
		t.Error("journal not opened")
	}
	if a.session.State() != session.Unauthenticated {
		t.Errorf("session state = %v", a.session.State())
	}
	if a.specs.Path() != cfg.Reconcile.SpecPath {
		t.Errorf("spec path = %q", a.specs.Path())
	}
	if st := a.reconciler.Status(); st.Cycles != 0 {
		t.Errorf("Status() = %+v", st)
	}
}

func TestNewApp_JournalOff(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Path = "off"

	a, err := newApp(context.Background(), cfg, discardLogger(), true)
	if err != nil {
		t.Fatalf("newApp() error: %v", err)
	}
	defer a.Close()
	if a.journal != nil {
		t.Error("journal opened although disabled")
	}
}

func TestNewApp_RestoresSavedSession(t *testing.T) {
	cfg := testConfig(t)
	first, err := newApp(context.Background(), cfg, discardLogger(), false)
	if err != nil {
		t.Fatalf("newApp() error: %v", err)
	}
	cookie := session.Cookie{
		URL:     cfg.Portal.BaseURL,
		Name:    "JSESSIONID",
		Value:   "abc",
		Expires: time.Now().Add(time.Hour),
		Secure:  true,
	}
	if err := first.state.SaveCookies(context.Background(), []session.Cookie{cookie}); err != nil {
		t.Fatal(err)
	}
	_ = first.Close()

	second, err := newApp(context.Background(), cfg, discardLogger(), false)
	if err != nil {
		t.Fatalf("newApp() error: %v", err)
	}
	defer second.Close()
	found := false
	for _, c := range second.client.Cookies() {
		if c.Name == "JSESSIONID" && c.Value == "abc" {
			found = true
		}
	}
	if !found {
		t.Errorf("saved cookie not restored: %+v", second.client.Cookies())
	}
}

func TestNewSink(t *testing.T) {
	cfg := testConfig(t)
	sink, err := newSink(cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := sink.(*notify.LogSink); !ok {
		t.Errorf("sink = %T, want *notify.LogSink without a webhook", sink)
	}

	cfg.Notify.WebhookURL = "https://hooks.example.com/abc"
	sink, err = newSink(cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := sink.(*notify.WebhookSink); !ok {
		t.Errorf("sink = %T, want *notify.WebhookSink", sink)
	}
}

func TestPrintSections(t *testing.T) {
	sections := []course.Section{
		{
			Abbr:   course.MustParseAbbr("CAS WR120 B3"),
			Title:  "Writing Seminar",
			Type:   "Discussion",
			DropID: "D1",
		},
		{
			Abbr:  course.MustParseAbbr("CAS CS111 A1"),
			Title: "Intro to CS 1",
			Type:  "Lecture",
			Meetings: []course.Meeting{
				{Building: "CAS", Room: "B12", Day: time.Tuesday, Start: 14 * 60, Stop: 15*60 + 15},
			},
		},
	}
	buildings := map[string]course.Building{"CAS": {Code: "CAS", Description: "College of Arts & Sciences"}}

	var buf bytes.Buffer
	printSections(&buf, sections, buildings)
	out := buf.String()

	if strings.Index(out, "CAS CS111 A1") > strings.Index(out, "CAS WR120 B3") {
		t.Error("sections not sorted")
	}
	if !strings.Contains(out, "Tue 14:00-15:15 CAS B12 (College of Arts & Sciences)") {
		t.Errorf("meeting summary missing:\n%s", out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.Contains(lines[2], "yes") {
		t.Errorf("output:\n%s", out)
	}
}

func TestPrintSchedule(t *testing.T) {
	spring := course.MustParseTerm("Spring 2023")
	fall := course.MustParseTerm("Fall 2023")
	schedules := []course.TermSchedule{
		{Term: spring, Sections: []course.Section{{Abbr: course.MustParseAbbr("CAS CS111 A1"), Title: "Intro to CS 1"}}},
		{Term: fall, Sections: []course.Section{{
			Abbr:        course.MustParseAbbr("CAS CS112 A1"),
			Title:       "Intro to CS 2",
			Status:      "REG",
			CreditHours: "4.0",
			Meetings:    []course.Meeting{{Day: time.Monday, Start: 9 * 60, Stop: 10 * 60}},
		}}},
	}

	var buf bytes.Buffer
	printSchedule(&buf, schedules, spring, nil)
	out := buf.String()

	if strings.Contains(out, "CS111") {
		t.Errorf("current term should be left to the enrolled list:\n%s", out)
	}
	if !strings.Contains(out, "Fall 2023: 1 sections") || !strings.Contains(out, "Mon 09:00-10:00 no room") {
		t.Errorf("output:\n%s", out)
	}
}

func TestPrintPlan(t *testing.T) {
	plan := &service.Plan{
		Spec: desired.Spec{Entries: []desired.Entry{
			desired.MustEntry("CAS CS111 A1", "CAS CS111 A2"),
			desired.MustEntry("CAS WR120 B3", ""),
		}},
		Satisfied: []desired.Entry{desired.MustEntry("CAS WR120 B3", "")},
		Pending:   []desired.Entry{desired.MustEntry("CAS CS111 A1", "CAS CS111 A2")},
		Rejection: errors.New("desired state rejected: CAS CS111 A2 is not droppable"),
	}

	var buf bytes.Buffer
	printPlan(&buf, plan)
	out := buf.String()
	for _, want := range []string{
		"Desired state: 2 entries",
		"REJECTED: desired state rejected",
		"[done]    ",
		"[pending] swap CAS CS111 A1 in for CAS CS111 A2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	printHistory(&buf, nil)
	if !strings.Contains(buf.String(), "No attempts recorded") {
		t.Errorf("empty output = %q", buf.String())
	}

	start := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	buf.Reset()
	printHistory(&buf, []outbound.Attempt{
		{
			ID: "a1", Term: "20234", Kind: "swap", Add: "CAS CS111 A1", Replace: "CAS CS111 A2",
			Outcome: "critical", Error: "restore failed", StartedAt: start, FinishedAt: start.Add(1500 * time.Millisecond),
		},
		{
			ID: "a0", Term: "20234", Kind: "register", Add: "CAS WR120 B3",
			Outcome: "registered", StartedAt: start, FinishedAt: start.Add(time.Second),
		},
	})
	out := buf.String()
	for _, want := range []string{"OUTCOME", "critical", "error: restore failed", "registered", "1.5s"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestReset_Helpers(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "state.json")
	_ = os.WriteFile(present, []byte("{}"), 0600)

	got := existing([]string{present, filepath.Join(dir, "missing")})
	if len(got) != 1 || got[0] != present {
		t.Errorf("existing() = %v", got)
	}

	var out bytes.Buffer
	if !confirm(strings.NewReader("y\n"), &out) {
		t.Error("confirm(y) = false")
	}
	if confirm(strings.NewReader("\n"), &out) {
		t.Error("confirm(empty) = true")
	}
}
