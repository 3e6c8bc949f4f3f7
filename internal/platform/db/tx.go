package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var ErrNoConn = errors.New("no database connection in context")

// snapshotTx makes several reads observe the same committed data.
var snapshotTx = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

// TxFromContext returns the transaction started by WithTx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the tenant connection in ctx and returns a
// context carrying it. Repositories pick the transaction up through
// TxFromContext. The caller commits or rolls back.
func WithTx(ctx context.Context, opts pgx.TxOptions) (context.Context, pgx.Tx, error) {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return ctx, nil, ErrNoConn
	}
	tx, err := conn.BeginTx(ctx, opts)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

// InTx runs fn inside a transaction, committing on success. If ctx already
// carries a transaction fn joins it.
func InTx(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	txCtx, tx, err := WithTx(ctx, opts)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(txCtx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReadSnapshot runs fn in a read-only repeatable-read transaction so a count
// and the page it describes agree. Without a tenant connection fn runs
// directly against whatever the repository falls back to.
func ReadSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	err := InTx(ctx, snapshotTx, fn)
	if errors.Is(err, ErrNoConn) {
		return fn(ctx)
	}
	return err
}
