// Package sqlite implements a persistent session token store backed by a
// SQLite database. It satisfies the same contract as the in-memory store:
// expired rows are kept until the proxy deletes them on lookup.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	_ "modernc.org/sqlite"
)

// Store keeps session tokens in a single sessions table.
type Store struct {
	db *sql.DB

	setStmt    *sql.Stmt
	getStmt    *sql.Stmt
	deleteStmt *sql.Stmt
}

// maxConns bounds the pool. WAL lets readers proceed while one
// connection writes; busy_timeout queues the other writers.
const maxConns = 8

// connPragmas run on every new pool connection.
var connPragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	token TEXT PRIMARY KEY,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
`

const (
	setSessionQuery = `
INSERT INTO sessions(token, expires_at) VALUES(?, ?)
ON CONFLICT(token) DO UPDATE SET expires_at = excluded.expires_at`
	getSessionQuery    = `SELECT expires_at FROM sessions WHERE token = ?`
	deleteSessionQuery = `DELETE FROM sessions WHERE token = ?`
)

// Open creates or opens the session database at path and prepares the
// session statements. Parent directories are created as needed.
func Open(path string) (*Store, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, fmt.Errorf("session db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session db schema: %w", err)
	}
	s := &Store{db: db}
	if err := s.prepare(ctx); err != nil {
		return nil, errors.Join(err, s.Close())
	}
	return s, nil
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}

func (s *Store) prepare(ctx context.Context) error {
	for _, p := range []struct {
		dst   **sql.Stmt
		query string
		name  string
	}{
		{&s.setStmt, setSessionQuery, "set"},
		{&s.getStmt, getSessionQuery, "get"},
		{&s.deleteStmt, deleteSessionQuery, "delete"},
	} {
		stmt, err := s.db.PrepareContext(ctx, p.query)
		if err != nil {
			return fmt.Errorf("prepare %s session query: %w", p.name, err)
		}
		*p.dst = stmt
	}
	return nil
}

// Close closes the prepared statements and the database.
func (s *Store) Close() error {
	return errors.Join(
		closeStmt(&s.setStmt),
		closeStmt(&s.getStmt),
		closeStmt(&s.deleteStmt),
		s.db.Close(),
	)
}

func closeStmt(stmt **sql.Stmt) error {
	if *stmt == nil {
		return nil
	}
	err := (*stmt).Close()
	*stmt = nil
	return err
}
