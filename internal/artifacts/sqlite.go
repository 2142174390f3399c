package artifacts

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
    fingerprint TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    final_rating INTEGER NOT NULL CHECK(final_rating >= 0 AND final_rating <= 10),
    spec_summary TEXT NOT NULL DEFAULT '',
    stored_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_artifacts_stored_at ON artifacts(stored_at);
`

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) an artifact database at path.
// The special path ":memory:" creates an in-memory store, useful for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// WAL mode for concurrent writers from parallel validation requests
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Put upserts with quality-max-wins: an existing row only changes when the
// incoming rating is at least as high. The single UPSERT statement keeps the
// compare-and-swap atomic per key.
func (s *SQLiteStore) Put(ctx context.Context, artifact *Artifact) error {
	if artifact == nil || artifact.Fingerprint == "" {
		return fmt.Errorf("artifact with fingerprint is required")
	}
	if artifact.FinalRating < 0 || artifact.FinalRating > 10 {
		return fmt.Errorf("final rating must be between 0 and 10 (got %d)", artifact.FinalRating)
	}

	storedAt := artifact.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (fingerprint, source, final_rating, spec_summary, stored_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			source = excluded.source,
			final_rating = excluded.final_rating,
			spec_summary = excluded.spec_summary,
			stored_at = excluded.stored_at
		WHERE excluded.final_rating >= artifacts.final_rating`,
		artifact.Fingerprint, artifact.Source, artifact.FinalRating, artifact.SpecSummary, storedAt)
	if err != nil {
		return fmt.Errorf("failed to store artifact: %w", err)
	}
	return nil
}

// Get returns the artifact for a fingerprint, or nil when absent
func (s *SQLiteStore) Get(ctx context.Context, fingerprint string) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, source, final_rating, spec_summary, stored_at
		FROM artifacts WHERE fingerprint = ?`, fingerprint)

	var a Artifact
	err := row.Scan(&a.Fingerprint, &a.Source, &a.FinalRating, &a.SpecSummary, &a.StoredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact: %w", err)
	}
	return &a, nil
}

// List returns all artifacts, most recently stored first
func (s *SQLiteStore) List(ctx context.Context) ([]*Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, source, final_rating, spec_summary, stored_at
		FROM artifacts ORDER BY stored_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var out []*Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.Fingerprint, &a.Source, &a.FinalRating, &a.SpecSummary, &a.StoredAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
