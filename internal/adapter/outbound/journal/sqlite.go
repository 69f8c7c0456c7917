// Package journal records registration attempts in SQLite.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Sentinel-Gate/seatswap/internal/port/outbound"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - attempts table
const currentSchemaVersion = 1

// DefaultRecentLimit is used when Recent is called with a non-positive limit.
const DefaultRecentLimit = 50

// SQLiteJournal implements outbound.AttemptJournal.
// Uses SQLite with WAL mode so `seatswap history` can read while the loop writes.
type SQLiteJournal struct {
	db *sql.DB
}

var _ outbound.AttemptJournal = (*SQLiteJournal)(nil)

// Open creates or opens the journal database at path and applies the schema.
// ":memory:" gives a private in-memory journal.
func Open(ctx context.Context, path string) (*SQLiteJournal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// SQLite has one writer; a single connection also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect journal: %w", err)
	}
	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteJournal{db: db}, nil
}

// Close closes the database.
func (j *SQLiteJournal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("journal schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Record implements outbound.AttemptJournal. Recording an ID twice replaces
// the earlier row.
func (j *SQLiteJournal) Record(ctx context.Context, a outbound.Attempt) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO attempts
			(id, cycle_id, term, kind, add_abbr, replace_abbr, outcome, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CycleID, a.Term, a.Kind, a.Add, a.Replace, a.Outcome, a.Error,
		a.StartedAt.UnixNano(), a.FinishedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record attempt %s: %w", a.ID, err)
	}
	return nil
}

// Recent implements outbound.AttemptJournal. Attempts are returned newest first.
func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]outbound.Attempt, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, cycle_id, term, kind, add_abbr, replace_abbr, outcome, error, started_at, finished_at
		FROM attempts
		ORDER BY started_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []outbound.Attempt
	for rows.Next() {
		var (
			a                 outbound.Attempt
			started, finished int64
		)
		if err := rows.Scan(&a.ID, &a.CycleID, &a.Term, &a.Kind, &a.Add, &a.Replace,
			&a.Outcome, &a.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.StartedAt = time.Unix(0, started).UTC()
		a.FinishedAt = time.Unix(0, finished).UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}
