package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// queries holds every statement the application issues. Store runs them on
// the pool, Tx runs them inside a transaction.
type queries struct {
	ext     queryer
	timeout time.Duration
}

func (q queries) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	if q.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, q.timeout)
}

func (q queries) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	ctx, cancel := q.ctx(ctx)
	defer cancel()
	return q.ext.GetContext(ctx, dest, q.ext.Rebind(query), args...)
}

func (q queries) selectAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	ctx, cancel := q.ctx(ctx)
	defer cancel()
	return q.ext.SelectContext(ctx, dest, q.ext.Rebind(query), args...)
}

func (q queries) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, cancel := q.ctx(ctx)
	defer cancel()
	return q.ext.ExecContext(ctx, q.ext.Rebind(query), args...)
}

// Store handles all database operations on the shared connection pool.
type Store struct {
	queries
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore wraps an open database. Open is the usual entry point; NewStore is
// useful when the caller owns the connection, e.g. in tests.
func NewStore(db *sqlx.DB, queryTimeout time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		queries: queries{ext: db, timeout: queryTimeout},
		db:      db,
		logger:  logger,
	}
}

// DB exposes the underlying pool.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Driver returns the database driver name.
func (s *Store) Driver() string {
	return s.db.DriverName()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// notFound maps sql.ErrNoRows to ErrNotFound and wraps everything else.
func notFound(err error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	return fmt.Errorf("failed to get %s: %w", msg, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func checkAffected(result sql.Result, what string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return nil
}
