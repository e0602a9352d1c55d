// Package sqlite persists flat indexes into a SQLite database using the
// pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"intellichat/internal/vectorindex"
	"intellichat/internal/vectorindex/flat"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS vectors (
    pos INTEGER PRIMARY KEY,
    vec BLOB NOT NULL
)`,
}

// Backend stores one index per database: a meta row for the dimension and
// one row per vector keyed by position.
type Backend struct {
	db *sql.DB
}

// Open opens or creates the database at path. Pass ":memory:" for a
// throwaway database.
func Open(path string) (*Backend, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases alive and serialises writers
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: ensure schema: %w", err)
		}
	}
	return &Backend{db: db}, nil
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return "sqlite" }

// Create returns an empty flat index.
func (b *Backend) Create(_ context.Context, dimension int) (vectorindex.Index, error) {
	return flat.New(dimension)
}

// Persist replaces the stored index with idx in one transaction.
func (b *Backend) Persist(ctx context.Context, idx vectorindex.Index) error {
	x, ok := idx.(*flat.Index)
	if !ok {
		return fmt.Errorf("sqlite backend cannot persist %T", idx)
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES('dimension', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, x.Dimension()); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO vectors(pos, vec) VALUES(?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for pos, v := range x.Vectors() {
		if _, err := stmt.ExecContext(ctx, pos, flat.AppendVector(nil, v)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Load rebuilds the flat index from the stored rows.
func (b *Backend) Load(ctx context.Context) (vectorindex.Index, error) {
	var dim int
	err := b.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'dimension'`).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vectorindex.ErrNotPersisted
	}
	if err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx, `SELECT pos, vec FROM vectors ORDER BY pos`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vecs [][]float32
	for rows.Next() {
		var (
			pos  int
			blob []byte
		)
		if err := rows.Scan(&pos, &blob); err != nil {
			return nil, err
		}
		if pos != len(vecs) {
			return nil, fmt.Errorf("sqlite: gap in stored positions at %d", len(vecs))
		}
		v, err := flat.DecodeVector(blob)
		if err != nil {
			return nil, err
		}
		vecs = append(vecs, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	x, err := flat.New(dim)
	if err != nil {
		return nil, err
	}
	if err := x.Add(ctx, vecs); err != nil {
		return nil, err
	}
	return x, nil
}

// Close closes the database.
func (b *Backend) Close() error { return b.db.Close() }
