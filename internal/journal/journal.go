// Package journal provides a SQLite-backed audit trail of ingestion
// operations. Every ingest and delete is recorded with its outcome so
// operators can trace how the knowledge base reached its current state.
// The journal is advisory: the vector store remains the authoritative
// record, and a journal failure never fails the operation it describes.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Op identifies the kind of operation recorded in an entry.
type Op string

const (
	// OpIngest records a document ingestion.
	OpIngest Op = "ingest"
	// OpDelete records a document deletion.
	OpDelete Op = "delete"
)

// Entry is a single journal record.
type Entry struct {
	// Op is the operation kind.
	Op Op
	// DocumentID is the affected document's identity.
	DocumentID string
	// Filename is the document's original filename.
	Filename string
	// FileSize is the upload size in bytes (0 for deletes).
	FileSize int64
	// ChunkCount is the number of chunks written or removed.
	ChunkCount int
	// Duration is how long the operation took.
	Duration time.Duration
	// Outcome is "ok" or a short failure kind.
	Outcome string
	// CreatedAt is when the entry was persisted.
	CreatedAt time.Time
}

// Journal persists ingestion records in a local SQLite database.
// It is safe for concurrent use.
type Journal struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// Open opens (or creates) a Journal at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests. The parent
// directory is created if needed.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("journal: could not create %s: %w", dir, err)
			}
		}
	}

	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// migrate creates the schema if it does not already exist.
func (j *Journal) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS ingest_log (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    op           TEXT    NOT NULL CHECK(op IN ('ingest','delete')),
    document_id  TEXT    NOT NULL,
    filename     TEXT    NOT NULL,
    file_size    INTEGER NOT NULL,
    chunk_count  INTEGER NOT NULL,
    duration_ms  INTEGER NOT NULL,
    outcome      TEXT    NOT NULL,
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_ingest_log_document_created
    ON ingest_log (document_id, created_at);
`
	if _, err := j.db.Exec(ddl); err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}

// Record persists a single entry.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	const q = `INSERT INTO ingest_log (op, document_id, filename, file_size, chunk_count, duration_ms, outcome, created_at)
           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := j.db.ExecContext(ctx, q,
		string(e.Op), e.DocumentID, e.Filename, e.FileSize, e.ChunkCount,
		e.Duration.Milliseconds(), e.Outcome, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("journal: record: %w", err)
	}
	return nil
}

// Recent returns the most recent n entries, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	const q = `SELECT op, document_id, filename, file_size, chunk_count, duration_ms, outcome, created_at
           FROM ingest_log ORDER BY id DESC LIMIT ?`
	rows, err := j.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var op string
		var durationMS, createdAt int64
		if err := rows.Scan(&op, &e.DocumentID, &e.Filename, &e.FileSize, &e.ChunkCount, &durationMS, &e.Outcome, &createdAt); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Op = Op(op)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: rows: %w", err)
	}
	return entries, nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}
