package session

import (
	"context"
	"errors"
)

// Store persists the session's cookies between runs.
// A missing store is a cold start, not an error: LoadCookies returns nil, nil.
type Store interface {
	LoadCookies(ctx context.Context) ([]Cookie, error)
	SaveCookies(ctx context.Context, cookies []Cookie) error
	// ClearCookies forgets the persisted session.
	ClearCookies(ctx context.Context) error
}

// ErrNoState is returned by stores that cannot locate their backing file
// when the caller asked for it explicitly.
var ErrNoState = errors.New("no persisted state")
