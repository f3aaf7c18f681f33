package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Set stores or replaces the expiry for token.
func (s *Store) Set(ctx context.Context, token string, expiresAt time.Time) error {
	_, err := s.setStmt.ExecContext(ctx, token, expiresAt.UTC().UnixNano())
	return err
}

// Get returns the stored expiry for token. Expired rows are returned as is.
func (s *Store) Get(ctx context.Context, token string) (time.Time, bool, error) {
	var nanos int64
	if err := s.getStmt.QueryRowContext(ctx, token).Scan(&nanos); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

// Contains reports whether a row exists for token.
func (s *Store) Contains(ctx context.Context, token string) (bool, error) {
	_, ok, err := s.Get(ctx, token)
	return ok, err
}

// Delete removes token. Deleting an unknown token is not an error.
func (s *Store) Delete(ctx context.Context, token string) error {
	_, err := s.deleteStmt.ExecContext(ctx, token)
	return err
}

// Count returns the number of stored sessions, expired or not.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sessions`).Scan(&n)
	return n, err
}
