package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type txKey struct{}

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxRunner runs fn inside a single database transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ContextWithTx returns a child context carrying tx. Repositories pick it up
// through TxFromContext so writes issued by fn share the transaction.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction stored in ctx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// PoolTxRunner implements TxRunner on top of a connection pool.
type PoolTxRunner struct {
	db Beginner
}

func NewTxRunner(db Beginner) *PoolTxRunner {
	return &PoolTxRunner{db: db}
}

// RunInTx begins a transaction, runs fn and commits. Any error from fn rolls
// the transaction back. Nested calls reuse the outer transaction.
func (r *PoolTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	if r.db == nil {
		return fmt.Errorf("no database connection configured")
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ContextWithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
