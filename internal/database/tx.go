package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/ilkin0/chunkup/internal/repository/sqlc"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner runs fn inside a transaction; fn's error rolls it back.
type TxRunner = func(ctx context.Context, fn func(q sqlc.Querier) error) error

func NewTxRunner(pool *pgxpool.Pool) TxRunner {
	return func(ctx context.Context, fn func(q sqlc.Querier) error) error {
		return RunWithTx(ctx, pool, fn)
	}
}

// RunWithTx commits when fn succeeds. Errors from fn are returned unwrapped
// so callers can still match sentinel errors.
func RunWithTx(ctx context.Context, pool *pgxpool.Pool, fn func(q sqlc.Querier) error) (err error) {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = fmt.Errorf("rollback error: %v; original: %w", rbErr, err)
		}
	}()

	if err = fn(sqlc.New(tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
