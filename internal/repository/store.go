package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore provides access to queries and transaction scoping over a pgx pool.
type PgStore struct {
	db      *pgxpool.Pool
	queries *Queries
}

// NewStore creates a store wrapper around a pgx connection pool.
func NewStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{
		db:      db,
		queries: New(db),
	}
}

// Queries returns the non-transactional query set.
func (s *PgStore) Queries() Querier {
	return s.queries
}

// RunInTx executes fn within a database transaction.
func (s *PgStore) RunInTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *PgStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
