// Package state provides file-based persistence for seatswap runtime state.
//
// The state.json file stores what a restart needs to resume: the portal
// session cookies and the last desired-state spec that passed validation.
// This package provides atomic writes, file locking, and backup functionality.
package state

import (
	"time"

	"github.com/Sentinel-Gate/seatswap/internal/domain/session"
)

// CurrentVersion is the schema version written by this build.
const CurrentVersion = "1"

// AppState is the top-level structure persisted in state.json.
type AppState struct {
	// Version is the schema version for forward compatibility. Currently "1".
	Version string `json:"version"`

	// Cookies are the portal, IdP and Duo cookies of the last session.
	Cookies []session.Cookie `json:"cookies,omitempty"`

	// CookiesSavedAt is when Cookies were last written.
	CookiesSavedAt *time.Time `json:"cookies_saved_at,omitempty"`

	// LastGoodSpec is the last desired-state spec that passed validation.
	LastGoodSpec *SpecState `json:"last_good_spec,omitempty"`

	// CreatedAt is when this state file was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when this state file was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// SpecState is the persisted form of a desired.Spec.
type SpecState struct {
	Entries []EntryState `json:"entries"`
	SavedAt time.Time    `json:"saved_at"`
}

// EntryState is one persisted desired entry. Replace is empty for plain
// registrations.
type EntryState struct {
	Add     string `json:"add"`
	Replace string `json:"replace,omitempty"`
}
