package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/upb/maturity-gateway/repositories"
	"go.uber.org/zap"
)

type txKey struct{}

// snapshotOptions gives a consistent view of a project and its documents.
var snapshotOptions = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}

// TransactionManager runs repository work on a single *sql.Tx.
type TransactionManager struct {
	db     *DB
	logger *zap.Logger
}

// NewTransactionManager creates a new transaction manager
func NewTransactionManager(db *DB, logger *zap.Logger) repositories.TransactionManager {
	return &TransactionManager{db: db, logger: logger}
}

// Begin starts a read-write transaction.
func (tm *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return tm.begin(ctx, nil)
}

func (tm *TransactionManager) begin(ctx context.Context, opts *sql.TxOptions) (*Transaction, error) {
	sqlTx, err := tm.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	readOnly := opts != nil && opts.ReadOnly
	tm.logger.Debug("transaction started", zap.Bool("read_only", readOnly))
	return &Transaction{tx: sqlTx, ctx: ctx, readOnly: readOnly, logger: tm.logger}, nil
}

// InTransaction commits when fn succeeds and rolls back when it fails.
func (tm *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, err := tm.begin(ctx, nil)
	if err != nil {
		return err
	}
	return tm.run(ctx, tx, fn)
}

// InSnapshot runs fn in a read-only repeatable-read transaction.
func (tm *TransactionManager) InSnapshot(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, err := tm.begin(ctx, snapshotOptions)
	if err != nil {
		return err
	}
	return tm.run(ctx, tx, fn)
}

func (tm *TransactionManager) run(ctx context.Context, tx *Transaction, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	if err := fn(context.WithValue(ctx, txKey{}, tx), tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			tm.logger.Error("failed to rollback transaction",
				zap.Bool("read_only", tx.readOnly),
				zap.Error(rbErr),
				zap.NamedError("original_error", err))
		}
		return err
	}
	return tx.Commit()
}

// Transaction wraps *sql.Tx for the repositories.Transaction port.
type Transaction struct {
	tx       *sql.Tx
	ctx      context.Context
	readOnly bool
	logger   *zap.Logger
}

// Commit commits the transaction
func (t *Transaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	t.logger.Debug("transaction committed")
	return nil
}

// Rollback is a no-op on a transaction that already finished.
func (t *Transaction) Rollback() error {
	err := t.tx.Rollback()
	switch {
	case err == nil:
		t.logger.Debug("transaction rolled back")
		return nil
	case errors.Is(err, sql.ErrTxDone):
		return nil
	default:
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
}

// Context returns the context the transaction was started with.
func (t *Transaction) Context() context.Context {
	return t.ctx
}

// Executor is satisfied by both *sql.DB and *sql.Tx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// getExecutor picks, in order: the transaction bound to the repository, a
// transaction carried by ctx, or the pool.
func getExecutor(ctx context.Context, db *DB, bound repositories.Transaction) Executor {
	if pgTx, ok := bound.(*Transaction); ok && pgTx != nil {
		return pgTx.tx
	}
	if tx, ok := ctx.Value(txKey{}).(*Transaction); ok {
		return tx.tx
	}
	return db.DB
}
