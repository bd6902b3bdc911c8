package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/stockline/internal/session"
)

var _ session.Store = (*Store)(nil)

// Get returns the session for identity, or session.ErrNotFound.
func (s *Store) Get(ctx context.Context, identity string) (session.Session, error) {
	var flow, state string
	err := s.db.QueryRowContext(ctx, `
		SELECT flow, state FROM sessions WHERE identity = ?
	`, identity).Scan(&flow, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, session.ErrNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("get session %s: %w", identity, err)
	}
	return unmarshalSession(identity, flow, state)
}

// Create inserts a new session. Creating an identity that already has a
// session fails.
func (s *Store) Create(ctx context.Context, sess session.Session) error {
	state, err := marshalSession(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (identity, flow, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		sess.Identity,
		string(sess.Flow),
		state,
		formatTime(sess.CreatedAt),
		formatTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", sess.Identity, err)
	}
	return nil
}

// Update replaces the stored session for sess.Identity, inserting it when
// it was cleared in the meantime (for example by a sweep).
func (s *Store) Update(ctx context.Context, sess session.Session) error {
	state, err := marshalSession(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (identity, flow, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			flow = excluded.flow,
			state = excluded.state,
			updated_at = excluded.updated_at
	`,
		sess.Identity,
		string(sess.Flow),
		state,
		formatTime(sess.CreatedAt),
		formatTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("update session %s: %w", sess.Identity, err)
	}
	return nil
}

// Clear removes the session for identity. Missing sessions are not an error.
func (s *Store) Clear(ctx context.Context, identity string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE identity = ?`, identity); err != nil {
		return fmt.Errorf("clear session %s: %w", identity, err)
	}
	return nil
}

// ListIdle returns identities not updated since cutoff, oldest first.
// Uses idx_sessions_updated_at.
func (s *Store) ListIdle(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity FROM sessions
		WHERE updated_at < ?
		ORDER BY updated_at ASC, identity ASC
		LIMIT ?
	`, formatTime(cutoff), limit)
	if err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, fmt.Errorf("scan idle session: %w", err)
		}
		out = append(out, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", err)
	}
	return out, nil
}
