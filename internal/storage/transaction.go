package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

var (
	ErrTransactionClosed = errors.New("transaction is already closed")
)

// Tx is a database transaction. It exposes the same statements as Store.
type Tx struct {
	queries
	tx     *sqlx.Tx
	closed bool
}

// BeginTx starts a new database transaction. On sqlite the DSN makes it an
// immediate (write-locked) transaction.
func (s *Store) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{queries: queries{ext: tx, timeout: s.timeout}, tx: tx}, nil
}

// Commit commits the transaction
func (t *Tx) Commit() error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.closed = true
	return t.tx.Commit()
}

// Rollback rolls back the transaction
func (t *Tx) Rollback() error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.closed = true
	return t.tx.Rollback()
}

// lockUser serialises transactions touching the same user. Postgres uses a
// transaction-scoped advisory lock; sqlite transactions already hold the
// database write lock.
func (t *Tx) lockUser(ctx context.Context, userID int64) error {
	if t.tx.DriverName() != DriverPostgres {
		return nil
	}
	if _, err := t.exec(ctx, `SELECT pg_advisory_xact_lock(?)`, userID); err != nil {
		return fmt.Errorf("failed to lock user %d: %w", userID, err)
	}
	return nil
}

// WithUserTx runs fn in a transaction that holds the per-user lock. The
// transaction commits when fn returns nil and rolls back otherwise.
func (s *Store) WithUserTx(ctx context.Context, userID int64, fn func(tx *Tx) error) (err error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, ErrTransactionClosed) {
				s.logger.Warn("transaction_rollback_failed", zap.Int64("user_id", userID), zap.Error(rbErr))
			}
		}
	}()

	if err = tx.lockUser(ctx, userID); err != nil {
		return err
	}
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
