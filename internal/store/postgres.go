package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"sitehost/backend/internal/models"
)

// PostgresBackend keeps the registry as one JSONB document guarded by an optimistic version,
// so concurrent server processes cannot both commit a decision made on the same state.
type PostgresBackend struct {
	db *sql.DB
}

var _ Backend = (*PostgresBackend)(nil)

// NewPostgresBackend wraps an open database handle. Migrations must already be applied.
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// Load reads the registry row. A missing row is an empty registry at version 0.
func (b *PostgresBackend) Load(ctx context.Context) (*Registry, error) {
	var (
		version int64
		doc     []byte
	)
	err := b.db.QueryRowContext(ctx, `SELECT version, document FROM registry WHERE id = 1`).Scan(&version, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return NewRegistry(nil, ""), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query registry: %w", err)
	}
	var users []models.User
	if err := json.Unmarshal(doc, &users); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	reg := NewRegistry(users, "")
	reg.Version = version
	return reg, nil
}

// Save writes reg if nobody else saved since it was loaded, otherwise returns ErrConflict.
func (b *PostgresBackend) Save(ctx context.Context, reg *Registry) error {
	doc, err := json.Marshal(reg.Users)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	var res sql.Result
	if reg.Version == 0 {
		res, err = b.db.ExecContext(ctx,
			`INSERT INTO registry (id, version, document, updated_at) VALUES (1, 1, $1, now())
			 ON CONFLICT (id) DO NOTHING`, doc)
	} else {
		res, err = b.db.ExecContext(ctx,
			`UPDATE registry SET document = $1, version = version + 1, updated_at = now()
			 WHERE id = 1 AND version = $2`, doc, reg.Version)
	}
	if err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	reg.Version++
	return nil
}
