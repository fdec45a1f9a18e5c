package upsert

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// Executor runs parameterized statements. It is satisfied by *sql.DB and
// *sql.Tx; every call made for one upsert goes through the same Executor so
// lookups observe the upsert's own uncommitted write.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is a transaction handle owned by a single logical operation.
type Tx interface {
	Executor
	Commit() error
	Rollback() error
}

// TxBeginner starts transactions.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

var (
	_ Executor   = (*sql.DB)(nil)
	_ Tx         = (*sql.Tx)(nil)
	_ TxBeginner = (*sql.DB)(nil)
)

// RunInTx begins a transaction at the given isolation level, runs fn and
// commits. Any error or panic from fn rolls the transaction back.
func RunInTx(ctx context.Context, db TxBeginner, isolation sql.IsolationLevel, fn func(tx *sql.Tx) error) error {
	return runInTx(ctx, db, isolation, slog.Default(), fn)
}

func runInTx(ctx context.Context, db TxBeginner, isolation sql.IsolationLevel, logger *slog.Logger, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: isolation})
	if err != nil {
		return &Error{Kind: ErrExecutor, Op: "begin tx", Err: err}
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		rollback(logger, tx)
		if p := recover(); p != nil {
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &Error{Kind: ErrExecutor, Op: "commit tx", Err: fmt.Errorf("commit: %w", err)}
	}
	committed = true
	return nil
}

// rollback aborts tx and logs when the rollback itself fails.
func rollback(logger *slog.Logger, tx Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Error("transaction rollback failed", "error", err)
	}
}
