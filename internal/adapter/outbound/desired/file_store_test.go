package desired

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sentinel-Gate/seatswap/internal/domain/desired"
)

func writeSpec(t *testing.T, content string) *FileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "desired.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	return s
}

func TestFileStore_Load(t *testing.T) {
	s := writeSpec(t, `
entries:
  - add: cas cs 111 a1
    replace: CAS CS111 A2
  - add: CAS WR120 B3
`)

	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := desired.Spec{Entries: []desired.Entry{
		desired.MustEntry("CAS CS111 A1", "CAS CS111 A2"),
		desired.MustEntry("CAS WR120 B3", ""),
	}}
	if !got.Equal(want) {
		t.Errorf("Load() = %v, want %v", got, want)
	}
	if !got.Entries[0].IsSwap() || got.Entries[1].IsSwap() {
		t.Error("IsSwap() mismatch")
	}
}

func TestFileStore_EmptyFile(t *testing.T) {
	s := writeSpec(t, "")

	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !got.IsEmpty() {
		t.Errorf("Load() = %v, want empty spec", got)
	}
}

func TestFileStore_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "entries: [", "parse desired state"},
		{"unknown key", "entries:\n  - add: CAS CS111 A1\n    replcae: CAS CS111 A2\n", "replcae"},
		{"missing add", "entries:\n  - replace: CAS CS111 A2\n", "is required"},
		{"bad abbreviation", "entries:\n  - add: CS111\n", "course abbreviation"},
		{"bad replace", "entries:\n  - add: CAS CS111 A1\n    replace: nope\n", "course abbreviation"},
		{"duplicate add", "entries:\n  - add: CAS CS111 A1\n  - add: cas cs111 a1\n    replace: CAS CS111 A2\n", "already the target"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := writeSpec(t, tt.content)
			_, err := s.Load(context.Background())
			if err == nil {
				t.Fatal("Load() error = nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %q, want to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestFileStore_MissingFile(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() error = %v, want not-exist", err)
	}
}

func TestFileStore_ReReadsOnEveryLoad(t *testing.T) {
	s := writeSpec(t, "entries:\n  - add: CAS CS111 A1\n")
	ctx := context.Background()

	first, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path(), []byte("entries:\n  - add: CAS CS112 A1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	second, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first.Equal(second) {
		t.Error("Load() should pick up edits to the file")
	}
}
