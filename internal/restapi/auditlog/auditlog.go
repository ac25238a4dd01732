// Package auditlog provides an optional SQLite-backed sink for structured
// per-request records, alongside the mandatory flat logs/logs and
// logs/errors files. It exists purely for operator queryability; its
// failures never affect request handling. It keeps a single shared
// connection in WAL journal mode, with busy_timeout tuned for a
// single-writer workload.
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bdobrica/restapi/common/retry"
)

// Record is one completed request, persisted best-effort.
type Record struct {
	ConnectionID string
	PeerIP       string
	PeerPort     uint16
	Method       string
	Path         string
	Status       int
	DurationMS   int64
	BytesIn      int
	BytesOut     int
	Timestamp    time.Time
	Error        string // empty when the request succeeded
}

// Sink writes Records to a SQLite database.
type Sink struct {
	db *sql.DB
}

// Open opens (creating if absent) the audit database at path and ensures
// its schema exists.
func Open(path string) (*Sink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("auditlog: pragma: %w", err)
		}
	}

	const schema = `
CREATE TABLE IF NOT EXISTS access_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	connection_id TEXT NOT NULL,
	peer_ip       TEXT NOT NULL,
	peer_port     INTEGER NOT NULL,
	method        TEXT NOT NULL,
	path          TEXT NOT NULL,
	status        INTEGER NOT NULL,
	duration_ms   INTEGER NOT NULL,
	bytes_in      INTEGER NOT NULL,
	bytes_out     INTEGER NOT NULL,
	occurred_at   TEXT NOT NULL,
	error         TEXT
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("auditlog: create schema: %w", err)
	}

	return &Sink{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Sink) Close() error {
	return s.db.Close()
}

// Insert persists rec. Callers should log (not fail the request) on error.
// A write that loses a brief lock race against the pragma-tuned single
// connection (SQLITE_BUSY) is retried a couple of times before giving up,
// since busy_timeout alone doesn't cover every case the pure-Go sqlite
// driver surfaces as an immediate error.
func (s *Sink) Insert(ctx context.Context, rec Record) error {
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  3,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     200 * time.Millisecond,
		ShouldRetry:  isBusyErr,
	}, func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO access_log (connection_id, peer_ip, peer_port, method, path, status, duration_ms, bytes_in, bytes_out, occurred_at, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ConnectionID, rec.PeerIP, rec.PeerPort, rec.Method, rec.Path,
			rec.Status, rec.DurationMS, rec.BytesIn, rec.BytesOut,
			rec.Timestamp.UTC().Format(time.RFC3339Nano), nullableString(rec.Error),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("auditlog: insert: %w", err)
	}
	return nil
}

func isBusyErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "busy")
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
