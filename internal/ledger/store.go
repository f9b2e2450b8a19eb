// Package ledger persists which notes have been published, with what
// content fingerprint and when, and classifies the live note set
// against those records.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Record is one publication entry.
type Record struct {
	Path        string
	Fingerprint string
	PublishedAt time.Time
}

// Store persists publication records in a sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed initializes) the ledger database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS publications (
    path TEXT PRIMARY KEY,
    fingerprint TEXT NOT NULL,
    published_at INTEGER NOT NULL
)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the record for path, or nil when the path has never been
// published.
func (s *Store) Get(path string) (*Record, error) {
	row := s.db.QueryRow(
		`SELECT fingerprint, published_at FROM publications WHERE path = ?`, path)

	var fingerprint string
	var publishedAt int64
	if err := row.Scan(&fingerprint, &publishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read ledger entry %s: %w", path, err)
	}

	return &Record{
		Path:        path,
		Fingerprint: fingerprint,
		PublishedAt: time.UnixMilli(publishedAt),
	}, nil
}

// Put creates or updates the record for path.
func (s *Store) Put(path, fingerprint string, publishedAt time.Time) error {
	_, err := s.db.Exec(`
INSERT INTO publications (path, fingerprint, published_at) VALUES (?, ?, ?)
ON CONFLICT(path) DO UPDATE SET fingerprint = excluded.fingerprint, published_at = excluded.published_at`,
		path, fingerprint, publishedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write ledger entry %s: %w", path, err)
	}
	return nil
}

// Delete removes the record for path. Deleting an absent path is a
// no-op.
func (s *Store) Delete(path string) error {
	if _, err := s.db.Exec(`DELETE FROM publications WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to delete ledger entry %s: %w", path, err)
	}
	return nil
}

// All returns every record, ordered by path.
func (s *Store) All() ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT path, fingerprint, published_at FROM publications ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []Record
	for rows.Next() {
		var rec Record
		var publishedAt int64
		if err := rows.Scan(&rec.Path, &rec.Fingerprint, &publishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		rec.PublishedAt = time.UnixMilli(publishedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return records, nil
}
