package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/emperorhan/rwa-custody/internal/domain"
	"github.com/emperorhan/rwa-custody/internal/domain/model"
	"github.com/emperorhan/rwa-custody/internal/store"
)

// Store runs units of work as PostgreSQL transactions. Execute takes a
// transaction-scoped advisory lock keyed by the asset, so units of work for
// one asset are serialized while different assets proceed in parallel.
type Store struct {
	db      *DB
	timeout time.Duration
}

var _ store.Store = (*Store)(nil)

func NewStore(db *DB) *Store {
	return &Store{db: db, timeout: DefaultQueryTimeout}
}

func (s *Store) Execute(ctx context.Context, asset model.Address, fn store.TxFunc) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if _, err := sqlTx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", asset.String()); err != nil {
		return fmt.Errorf("lock asset %s: %w", asset, err)
	}

	if err := fn(ctx, &tx{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn store.TxFunc) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read-only tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	return fn(ctx, &tx{q: sqlTx, readOnly: true})
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func notFound(what string, key any, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, key, domain.ErrNotFound)
	}
	return fmt.Errorf("get %s %v: %w", what, key, err)
}
