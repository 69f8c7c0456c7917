package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/Sentinel-Gate/seatswap/internal/domain/desired"
	"github.com/Sentinel-Gate/seatswap/internal/domain/session"
)

// FileStateStore manages reading and writing the state.json file.
// It provides atomic writes (write-tmp-then-rename), automatic backups,
// and file locking (flock for cross-process, mutex for in-process).
//
// It implements session.Store and desired.Checkpoint.
type FileStateStore struct {
	path        string
	mu          sync.Mutex
	logger      *slog.Logger
	lockTimeout time.Duration

	// rmw serializes read-modify-write updates. Save takes mu on its own.
	rmw sync.Mutex
}

var (
	_ session.Store      = (*FileStateStore)(nil)
	_ desired.Checkpoint = (*FileStateStore)(nil)
)

// NewFileStateStore creates a new FileStateStore for the given file path.
func NewFileStateStore(path string, logger *slog.Logger) *FileStateStore {
	return &FileStateStore{
		path:        path,
		logger:      logger,
		lockTimeout: defaultLockTimeout,
	}
}

// Load reads and parses the state.json file.
// If the file does not exist, it returns DefaultState().
// If the file contains invalid JSON, it returns an error.
// Warns if the existing file has permissions more open than 0600: it holds
// live session cookies.
func (s *FileStateStore) Load() (*AppState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug("state file not found, using default state", "path", s.path)
			return s.DefaultState(), nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	// Skip on Windows where Unix file permission bits are not supported.
	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil {
			mode := info.Mode().Perm()
			if mode&0077 != 0 { // group or other has access
				s.logger.Warn("state.json has too-open permissions, should be 0600",
					"path", s.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	var state AppState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if state.Version != "" && state.Version != CurrentVersion {
		return nil, fmt.Errorf("state file version %q not supported", state.Version)
	}

	return &state, nil
}

// Save writes the AppState to disk atomically.
//
// The write sequence is:
//  1. Acquire in-process mutex
//  2. Acquire the cross-process lock on path+".lock" (ErrLocked after the timeout)
//  3. Copy current file to path+".bak" (ignored if no current file)
//  4. Marshal state as indented JSON
//  5. Write to path+".tmp" with 0600 permissions
//  6. Fsync the temp file
//  7. Rename path+".tmp" -> path
//  8. Release the lock
//  9. Release mutex
func (s *FileStateStore) Save(state *AppState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.UpdatedAt = time.Now().UTC()
	if state.Version == "" {
		state.Version = CurrentVersion
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	release, err := acquireLock(s.path, s.lockTimeout)
	if err != nil {
		return err
	}
	defer release()

	// Create backup of current file (ignore error if file doesn't exist).
	if currentData, readErr := os.ReadFile(s.path); readErr == nil {
		bakPath := s.path + ".bak"
		if writeErr := os.WriteFile(bakPath, currentData, 0600); writeErr != nil {
			s.logger.Warn("failed to create backup", "error", writeErr)
		}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	if err := s.writeAtomic(data); err != nil {
		return err
	}

	// The temp file is created 0600, but an existing umask or a replaced
	// file may differ.
	if err := os.Chmod(s.path, 0600); err != nil {
		s.logger.Warn("failed to set permissions on state file", "error", err)
	}

	s.logger.Debug("state saved", "path", s.path)
	return nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it
// over the target path. On any error the temp file is cleaned up.
func (s *FileStateStore) writeAtomic(data []byte) error {
	tmpPath := s.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to state: %w", err)
	}
	return nil
}

// update loads the state, applies fn and saves the result.
func (s *FileStateStore) update(fn func(*AppState)) error {
	s.rmw.Lock()
	defer s.rmw.Unlock()

	st, err := s.Load()
	if err != nil {
		return err
	}
	fn(st)
	return s.Save(st)
}

// DefaultState returns an empty AppState: no session, no last-good spec.
func (s *FileStateStore) DefaultState() *AppState {
	now := time.Now().UTC()
	return &AppState{
		Version:   CurrentVersion,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Exists returns true if the state file exists on disk.
func (s *FileStateStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Path returns the configured file path.
func (s *FileStateStore) Path() string {
	return s.path
}

// LoadCookies implements session.Store. A missing file is a cold start.
func (s *FileStateStore) LoadCookies(ctx context.Context) ([]session.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := s.Load()
	if err != nil {
		return nil, err
	}
	return st.Cookies, nil
}

// SaveCookies implements session.Store.
func (s *FileStateStore) SaveCookies(ctx context.Context, cookies []session.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update(func(st *AppState) {
		now := time.Now().UTC()
		st.Cookies = cookies
		st.CookiesSavedAt = &now
	})
}

// ClearCookies implements session.Store. It does not create the file.
func (s *FileStateStore) ClearCookies(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.Exists() {
		return nil
	}
	return s.update(func(st *AppState) {
		st.Cookies = nil
		st.CookiesSavedAt = nil
	})
}

// LoadLastGood implements desired.Checkpoint. Entries that no longer parse
// make the checkpoint unusable rather than partially applied.
func (s *FileStateStore) LoadLastGood(ctx context.Context) (desired.Spec, bool, error) {
	if err := ctx.Err(); err != nil {
		return desired.Spec{}, false, err
	}
	st, err := s.Load()
	if err != nil {
		return desired.Spec{}, false, err
	}
	if st.LastGoodSpec == nil {
		return desired.Spec{}, false, nil
	}
	spec := desired.Spec{Entries: make([]desired.Entry, 0, len(st.LastGoodSpec.Entries))}
	for i, e := range st.LastGoodSpec.Entries {
		entry, err := desired.NewEntry(e.Add, e.Replace)
		if err != nil {
			return desired.Spec{}, false, fmt.Errorf("last good spec entry %d: %w", i, err)
		}
		spec.Entries = append(spec.Entries, entry)
	}
	return spec, true, nil
}

// SaveLastGood implements desired.Checkpoint.
func (s *FileStateStore) SaveLastGood(ctx context.Context, spec desired.Spec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	saved := &SpecState{Entries: make([]EntryState, 0, len(spec.Entries)), SavedAt: time.Now().UTC()}
	for _, e := range spec.Entries {
		es := EntryState{Add: e.Add.String()}
		if e.Replace != nil {
			es.Replace = e.Replace.String()
		}
		saved.Entries = append(saved.Entries, es)
	}
	return s.update(func(st *AppState) {
		st.LastGoodSpec = saved
	})
}

// ClearLastGood forgets the checkpointed spec.
func (s *FileStateStore) ClearLastGood(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.Exists() {
		return nil
	}
	return s.update(func(st *AppState) {
		st.LastGoodSpec = nil
	})
}
