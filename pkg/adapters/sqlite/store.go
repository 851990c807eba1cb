// Package sqlite provides a SQLite-backed FormStore.
// Uses ncruces/go-sqlite3/driver which provides a database/sql interface.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/migrate"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// schema keeps the whole aggregate as one JSON document per form.
// name and slug are copied out for listing and lookups.
const schema = `
CREATE TABLE IF NOT EXISTS forms (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    slug TEXT NOT NULL,
    document TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_forms_slug ON forms(slug);
`

// Store implements ports.FormStore on SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates an in-memory store.
func New() (*Store, error) {
	return NewWithDSN(":memory:")
}

// NewWithDSN creates a store with a specific data source name.
// Use ":memory:" for in-memory or a file path for persistent storage.
func NewWithDSN(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dsn == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the form document.
func (s *Store) Save(ctx context.Context, state *domain.FormState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal form: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO forms (id, name, slug, document, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			slug = excluded.slug,
			document = excluded.document,
			updated_at = excluded.updated_at
	`, state.ID, state.Name, state.Slug, string(data), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save form %s: %w", state.ID, err)
	}
	return nil
}

// Load reads a form document. Legacy documents are migrated on the way in.
func (s *Store) Load(ctx context.Context, formID string) (*domain.FormState, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM forms WHERE id = ?`, formID).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrFormNotFound
		}
		return nil, fmt.Errorf("failed to load form %s: %w", formID, err)
	}

	state, _, err := migrate.FromJSON([]byte(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to decode form %s: %w", formID, err)
	}
	return state, nil
}

// FindBySlug returns the id of the form with the given slug.
func (s *Store) FindBySlug(ctx context.Context, slug string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM forms WHERE slug = ? ORDER BY updated_at DESC LIMIT 1`, slug).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrFormNotFound
	}
	return id, err
}

// Delete removes the form row.
func (s *Store) Delete(ctx context.Context, formID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM forms WHERE id = ?`, formID); err != nil {
		return fmt.Errorf("failed to delete form %s: %w", formID, err)
	}
	return nil
}

// List returns all form ids ordered by id.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM forms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list forms: %w", err)
	}
	defer rows.Close()

	forms := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		forms = append(forms, id)
	}
	return forms, rows.Err()
}
