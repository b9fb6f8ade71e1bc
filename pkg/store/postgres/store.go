// Package postgres implements the store interfaces on PostgreSQL via pgx,
// with pgvector for embedding columns.
package postgres

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/threadline-ai/mnemos/pkg/models"
	"github.com/threadline-ai/mnemos/pkg/store"
)

// Store is the PostgreSQL implementation of store.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New creates a Store backed by the given connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// mapError converts pgx errors to the store taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", store.ErrAlreadyExists, pgErr.ConstraintName)
		case "23514": // check_violation
			return fmt.Errorf("%w: %s", store.ErrInvalidInput, pgErr.ConstraintName)
		}
	}
	return err
}

func marshalRef(ref *models.ExternalRef) ([]byte, error) {
	if ref == nil {
		return nil, nil
	}
	return json.Marshal(ref)
}

func unmarshalRef(raw []byte) (*models.ExternalRef, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var ref models.ExternalRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, fmt.Errorf("failed to decode external_ref: %w", err)
	}
	return &ref, nil
}
