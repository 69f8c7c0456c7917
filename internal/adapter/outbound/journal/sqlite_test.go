package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Sentinel-Gate/seatswap/internal/port/outbound"
)

func openTest(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func attempt(n int, base time.Time) outbound.Attempt {
	return outbound.Attempt{
		ID:         fmt.Sprintf("attempt-%d", n),
		CycleID:    "cycle-1",
		Term:       "Fall 2023",
		Kind:       "swap",
		Add:        "CAS CS111 A1",
		Replace:    "CAS CS111 A2",
		Outcome:    "rolled_back",
		Error:      "register_failed: Class full",
		StartedAt:  base.Add(time.Duration(n) * time.Second),
		FinishedAt: base.Add(time.Duration(n)*time.Second + 500*time.Millisecond),
	}
}

func TestJournal_RecordAndRecent(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()
	base := time.Date(2023, 8, 1, 9, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		if err := j.Record(ctx, attempt(i, base)); err != nil {
			t.Fatalf("Record() error: %v", err)
		}
	}

	got, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	want := []outbound.Attempt{attempt(3, base), attempt(2, base)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Recent() mismatch (-want +got):\n%s", diff)
	}
}

func TestJournal_RecordReplacesSameID(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()
	base := time.Now().UTC()

	a := attempt(1, base)
	if err := j.Record(ctx, a); err != nil {
		t.Fatal(err)
	}
	a.Outcome = "swapped"
	a.Error = ""
	if err := j.Record(ctx, a); err != nil {
		t.Fatal(err)
	}

	got, err := j.Recent(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Outcome != "swapped" {
		t.Errorf("Recent() = %+v, want one swapped attempt", got)
	}
}

func TestJournal_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Record(ctx, attempt(1, time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j2, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = j2.Close() }()
	got, err := j2.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("got %d attempts after reopen, want 1", len(got))
	}
}

func TestJournal_EmptyRecent(t *testing.T) {
	j := openTest(t)

	got, err := j.Recent(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("Recent() = %v, want none", got)
	}
}

func TestJournal_OpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "journal.db")
	j, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer j.Close()

	got, err := j.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Recent() = %d attempts on a new journal", len(got))
	}
}
