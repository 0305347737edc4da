// Package ledger records sent reminders and reported progress in SQLite so
// daily caps and intervals survive restarts.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS nudges (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	kind    TEXT    NOT NULL,
	sent_at INTEGER NOT NULL,
	message TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_nudges_sent_at ON nudges(sent_at);
CREATE INDEX IF NOT EXISTS idx_nudges_kind ON nudges(kind, sent_at);

CREATE TABLE IF NOT EXISTS progress (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id      INTEGER NOT NULL,
	kind         TEXT    NOT NULL,
	name         TEXT    NOT NULL,
	progress     INTEGER NOT NULL,
	reported_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_progress_name ON progress(kind, name, reported_at);
`

// Nudge is one delivered reminder.
type Nudge struct {
	Kind    string
	SentAt  time.Time
	Message string
}

// Progress is one progress report for a project or goal.
type Progress struct {
	UserID     int64
	Kind       string
	Name       string
	Progress   int
	ReportedAt time.Time
}

// DB wraps a sql.DB with ledger operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// RecordNudge stores a delivered reminder.
func (db *DB) RecordNudge(ctx context.Context, n Nudge) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO nudges(kind, sent_at, message) VALUES (?, ?, ?)`,
		n.Kind, n.SentAt.UnixMilli(), n.Message)
	if err != nil {
		return fmt.Errorf("ledger: record nudge: %w", err)
	}
	return nil
}

// CountSince returns how many reminders were sent at or after since.
func (db *DB) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nudges WHERE sent_at >= ?`, since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ledger: count nudges: %w", err)
	}
	return n, nil
}

// LastSent returns when a reminder of kind was last delivered. ok is false if
// it never was.
func (db *DB) LastSent(ctx context.Context, kind string) (at time.Time, ok bool, err error) {
	var ms sql.NullInt64
	err = db.conn.QueryRowContext(ctx,
		`SELECT MAX(sent_at) FROM nudges WHERE kind = ?`, kind).Scan(&ms)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("ledger: last nudge: %w", err)
	}
	if !ms.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms.Int64), true, nil
}

// Nudges returns reminders sent at or after since, oldest first.
func (db *DB) Nudges(ctx context.Context, since time.Time) ([]Nudge, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT kind, sent_at, message FROM nudges WHERE sent_at >= ? ORDER BY sent_at, id`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("ledger: list nudges: %w", err)
	}
	defer rows.Close()

	var out []Nudge
	for rows.Next() {
		var n Nudge
		var ms int64
		if err := rows.Scan(&n.Kind, &ms, &n.Message); err != nil {
			return nil, fmt.Errorf("ledger: scan nudge: %w", err)
		}
		n.SentAt = time.UnixMilli(ms)
		out = append(out, n)
	}
	return out, rows.Err()
}

// RecordProgress stores a progress report.
func (db *DB) RecordProgress(ctx context.Context, p Progress) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO progress(user_id, kind, name, progress, reported_at) VALUES (?, ?, ?, ?, ?)`,
		p.UserID, p.Kind, p.Name, p.Progress, p.ReportedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("ledger: record progress: %w", err)
	}
	return nil
}

// LatestProgress returns the most recent report for the named item.
// Names compare case-insensitively.
func (db *DB) LatestProgress(ctx context.Context, kind, name string) (Progress, bool, error) {
	p := Progress{Kind: kind}
	var ms int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id, name, progress, reported_at FROM progress
		 WHERE kind = ? AND name = ? COLLATE NOCASE
		 ORDER BY reported_at DESC, id DESC LIMIT 1`, kind, name).
		Scan(&p.UserID, &p.Name, &p.Progress, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return Progress{}, false, nil
	}
	if err != nil {
		return Progress{}, false, fmt.Errorf("ledger: latest progress: %w", err)
	}
	p.ReportedAt = time.UnixMilli(ms)
	return p, true, nil
}
