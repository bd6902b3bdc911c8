package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Get when no session exists for an identity.
var ErrNotFound = errors.New("session not found")

// Store persists sessions. Implementations must be durable across process
// restarts; callers serialize access per identity.
type Store interface {
	// Get returns the session for identity or ErrNotFound.
	Get(ctx context.Context, identity string) (Session, error)

	// Create inserts a new session. Creating an existing identity is an error.
	Create(ctx context.Context, s Session) error

	// Update replaces the stored session for s.Identity.
	Update(ctx context.Context, s Session) error

	// Clear removes the session for identity. Clearing a missing session is
	// not an error.
	Clear(ctx context.Context, identity string) error

	// ListIdle returns identities whose sessions were last updated before
	// the cutoff, oldest first, at most limit of them.
	ListIdle(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// Load returns the session for identity, creating an idle one when none
// exists. created reports whether a new session was stored.
func Load(ctx context.Context, st Store, identity string, now time.Time) (s Session, created bool, err error) {
	s, err = st.Get(ctx, identity)
	if err == nil {
		return s, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Session{}, false, err
	}
	s = New(identity, now)
	if err := st.Create(ctx, s); err != nil {
		return Session{}, false, err
	}
	return s, true, nil
}
