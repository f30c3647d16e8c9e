package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the SQLite backing for the repository.
type Store struct {
	DB *sql.DB
}

// Record is one stored definition row. Body is the definition as YAML.
type Record struct {
	ID        string
	Body      string
	Snapshot  string
	Confirmed string // bounds notation, empty when never confirmed
	Uses      int
	CreatedAt int64
	UpdatedAt int64
}

// Open opens (or creates) the store at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	// sqlite has a single writer.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Save inserts or replaces a definition. Uses and CreatedAt of an existing
// row are preserved.
func (s *Store) Save(ctx context.Context, r *Record) error {
	now := time.Now().UnixMilli()
	if r.CreatedAt == 0 {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO definitions (id, body, snapshot, confirmed, uses, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			snapshot = excluded.snapshot,
			confirmed = excluded.confirmed,
			updated_at = excluded.updated_at`,
		r.ID, r.Body, r.Snapshot, r.Confirmed, r.Uses, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

// Get returns the record for id, or nil when there is none.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	r := &Record{}
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, body, snapshot, confirmed, uses, created_at, updated_at
		FROM definitions WHERE id = ?`, id).Scan(
		&r.ID, &r.Body, &r.Snapshot, &r.Confirmed, &r.Uses, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// List returns every record ordered by id.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, body, snapshot, confirmed, uses, created_at, updated_at
		FROM definitions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r := &Record{}
		if err := rows.Scan(&r.ID, &r.Body, &r.Snapshot, &r.Confirmed, &r.Uses, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes id. Deleting a missing id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM definitions WHERE id = ?`, id)
	return err
}

// SetConfirmed records the confirmed rectangle for id and counts one use.
func (s *Store) SetConfirmed(ctx context.Context, id, bounds string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE definitions SET confirmed = ?, uses = uses + 1, updated_at = ?
		WHERE id = ?`, bounds, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("definition %q not stored", id)
	}
	return nil
}
