// Package store provides SQLite persistence for saveit sources.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robertmeta/saveit/model"
	_ "modernc.org/sqlite"
)

// Store manages the SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path.
// Use ":memory:" for an in-memory database (useful for testing).
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, NewError("open", model.NewID, KindConnection, fmt.Errorf("failed to open database: %w", err))
	}

	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s, err := NewFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewFromDB wraps an open handle and makes sure the schema exists.
func NewFromDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.createSchema(context.Background()); err != nil {
		return nil, NewError("open", model.NewID, KindConnection, fmt.Errorf("failed to create schema: %w", err))
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// createSchema creates the database tables and indexes.
func (s *Store) createSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL CHECK (length(url) > 0),
		author TEXT NOT NULL DEFAULT '',
		published_date TEXT NOT NULL,
		published_date_unknown INTEGER NOT NULL DEFAULT 0,
		viewed_date TEXT NOT NULL,
		comment TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_sources_viewed_date ON sources(viewed_date DESC);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const selectColumns = "SELECT id, title, url, author, published_date, published_date_unknown, viewed_date, comment FROM sources"

// CreateSource inserts src and returns the assigned ID. src.ID is ignored.
func (s *Store) CreateSource(ctx context.Context, src model.Source) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO sources (title, url, author, published_date, published_date_unknown, viewed_date, comment) VALUES (?, ?, ?, ?, ?, ?, ?)",
		src.Title, src.URL, src.Author, model.FormatDate(src.PublishedDate), boolToInt(src.PublishedDateUnknown),
		model.FormatDate(src.ViewedDate), src.Comment,
	)
	if err != nil {
		return model.NewID, NewError("create", model.NewID, "", fmt.Errorf("failed to insert source: %w", err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return model.NewID, NewError("create", model.NewID, KindConnection, fmt.Errorf("failed to get last insert ID: %w", err))
	}
	return id, nil
}

// GetSource retrieves a source by ID.
func (s *Store) GetSource(ctx context.Context, id int64) (model.Source, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Source{}, NewError("get", id, KindNotFound, ErrNotFound)
	}
	if err != nil {
		return model.Source{}, NewError("get", id, "", fmt.Errorf("failed to get source: %w", err))
	}
	return src, nil
}

// GetAllSources retrieves every source ordered by ID.
func (s *Store) GetAllSources(ctx context.Context) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+" ORDER BY id")
	if err != nil {
		return nil, NewError("list", model.NewID, "", fmt.Errorf("failed to query sources: %w", err))
	}
	defer rows.Close()

	sources := []model.Source{}
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, NewError("list", model.NewID, "", fmt.Errorf("failed to scan source: %w", err))
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, NewError("list", model.NewID, "", err)
	}
	return sources, nil
}

// UpdateSource overwrites every field of the source with the given ID.
func (s *Store) UpdateSource(ctx context.Context, id int64, src model.Source) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE sources SET title = ?, url = ?, author = ?, published_date = ?, published_date_unknown = ?, viewed_date = ?, comment = ? WHERE id = ?",
		src.Title, src.URL, src.Author, model.FormatDate(src.PublishedDate), boolToInt(src.PublishedDateUnknown),
		model.FormatDate(src.ViewedDate), src.Comment, id,
	)
	if err != nil {
		return NewError("update", id, "", fmt.Errorf("failed to update source: %w", err))
	}
	return expectOneRow("update", id, result)
}

// DeleteSource deletes a source by ID.
func (s *Store) DeleteSource(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sources WHERE id = ?", id)
	if err != nil {
		return NewError("delete", id, "", fmt.Errorf("failed to delete source: %w", err))
	}
	return expectOneRow("delete", id, result)
}

// Reset removes every source. IDs are not reused afterwards.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sources"); err != nil {
		return NewError("reset", model.NewID, "", fmt.Errorf("failed to reset sources: %w", err))
	}
	return nil
}

func expectOneRow(op string, id int64, result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return NewError(op, id, KindConnection, fmt.Errorf("failed to get affected rows: %w", err))
	}
	if n == 0 {
		return NewError(op, id, KindNotFound, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(row scanner) (model.Source, error) {
	var (
		src                 model.Source
		published, viewed   string
		publishedUnknownInt int
	)
	err := row.Scan(&src.ID, &src.Title, &src.URL, &src.Author, &published, &publishedUnknownInt, &viewed, &src.Comment)
	if err != nil {
		return model.Source{}, err
	}

	if src.PublishedDate, err = parseStoredDate(published); err != nil {
		return model.Source{}, err
	}
	if src.ViewedDate, err = parseStoredDate(viewed); err != nil {
		return model.Source{}, err
	}
	src.PublishedDateUnknown = intToBool(publishedUnknownInt)
	return src, nil
}

// parseStoredDate accepts the YYYY-MM-DD layout and, for rows written by
// other tools, a full RFC 3339 timestamp.
func parseStoredDate(s string) (time.Time, error) {
	if t, err := time.Parse(model.DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored date %q", s)
	}
	return model.TruncateDate(t), nil
}

// Helper functions for boolean<->int conversion (SQLite doesn't have BOOLEAN type)
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}
