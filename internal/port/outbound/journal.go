package outbound

import (
	"context"
	"time"
)

// Attempt is one registration or swap attempt as recorded in the journal.
type Attempt struct {
	ID      string
	CycleID string
	Term    string
	Kind    string // "register" or "swap"
	Add     string
	Replace string
	// Outcome is "registered", "swapped", "rolled_back", "cannot_replace",
	// "register_failed", "critical" or "error".
	Outcome    string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// AttemptJournal records attempts for later inspection.
type AttemptJournal interface {
	Record(ctx context.Context, a Attempt) error
	Recent(ctx context.Context, limit int) ([]Attempt, error)
}
