// Package journal records apply invocations and their per-chunk outcomes in
// a local SQLite database. The history surface and post-failure review read
// from here; the engine itself never depends on the journal.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS applies (
	id          TEXT PRIMARY KEY,
	manifest    TEXT NOT NULL,
	status      TEXT NOT NULL,
	chunks      INTEGER NOT NULL DEFAULT 0,
	symbols     INTEGER NOT NULL DEFAULT 0,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	apply_id    TEXT NOT NULL REFERENCES applies(id) ON DELETE CASCADE,
	idx         INTEGER NOT NULL,
	external_op TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	UNIQUE(apply_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_applies_started ON applies(started_at);
`

// DB wraps a sql.DB with journal operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the journal database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// ApplyRow is one recorded apply invocation.
type ApplyRow struct {
	ID           string
	ManifestPath string
	Status       string
	Chunks       int
	Symbols      int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// ChunkRow is the recorded outcome of one chunk.
type ChunkRow struct {
	Index      int
	ExternalOp string
	Status     string
	Error      string
}

// RecordApply inserts an apply and its chunk rows within one transaction.
func (db *DB) RecordApply(a ApplyRow, chunks []ChunkRow) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("journal: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO applies (id, manifest, status, chunks, symbols, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.ManifestPath, a.Status, a.Chunks, a.Symbols, a.StartedAt, a.FinishedAt)
	if err != nil {
		return fmt.Errorf("journal: insert apply: %w", err)
	}

	if len(chunks) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO chunks (apply_id, idx, external_op, status, error) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("journal: prepare chunk insert: %w", err)
		}
		defer stmt.Close()
		for _, c := range chunks {
			if _, err := stmt.Exec(a.ID, c.Index, c.ExternalOp, c.Status, c.Error); err != nil {
				return fmt.Errorf("journal: insert chunk: %w", err)
			}
		}
	}

	return tx.Commit()
}

// RecentApplies returns the most recent applies, newest first.
func (db *DB) RecentApplies(limit int) ([]ApplyRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT id, manifest, status, chunks, symbols, started_at, finished_at
		FROM applies ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: recent applies: %w", err)
	}
	defer rows.Close()

	var out []ApplyRow
	for rows.Next() {
		var a ApplyRow
		if err := rows.Scan(&a.ID, &a.ManifestPath, &a.Status, &a.Chunks, &a.Symbols, &a.StartedAt, &a.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Chunks returns the chunk rows for one apply, in chunk order.
func (db *DB) Chunks(applyID string) ([]ChunkRow, error) {
	rows, err := db.conn.Query(`
		SELECT idx, external_op, status, error
		FROM chunks WHERE apply_id = ? ORDER BY idx
	`, applyID)
	if err != nil {
		return nil, fmt.Errorf("journal: chunks: %w", err)
	}
	defer rows.Close()

	var out []ChunkRow
	for rows.Next() {
		var c ChunkRow
		if err := rows.Scan(&c.Index, &c.ExternalOp, &c.Status, &c.Error); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
