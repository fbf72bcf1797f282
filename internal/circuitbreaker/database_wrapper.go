package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DatabaseWrapper guards database calls with a circuit breaker. The store
// issues single-statement reads and writes only, so no transaction wrapper
// is carried.
type DatabaseWrapper struct {
	db     *sqlx.DB
	cb     *Breaker
	logger *zap.Logger
}

// NewDatabaseWrapper creates a wrapper around an open connection pool.
func NewDatabaseWrapper(db *sqlx.DB, logger *zap.Logger) *DatabaseWrapper {
	cb := New("postgres", DatabaseSettings().ToConfig(), logger)
	DefaultCollector.Register("store", cb)

	return &DatabaseWrapper{
		db:     db,
		cb:     cb,
		logger: logger,
	}
}

func (dw *DatabaseWrapper) record(success bool) {
	DefaultCollector.RecordRequest("postgres", dw.cb.State(), success)
}

// PingContext wraps Ping.
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	var pingErr error
	cbErr := dw.cb.Execute(ctx, func() error {
		pingErr = dw.db.PingContext(ctx)
		return pingErr
	})
	dw.record(cbErr == nil && pingErr == nil)
	if cbErr != nil {
		return cbErr
	}
	return pingErr
}

// ExecContext wraps Exec.
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	var execErr error
	cbErr := dw.cb.Execute(ctx, func() error {
		result, execErr = dw.db.ExecContext(ctx, query, args...)
		return execErr
	})
	dw.record(cbErr == nil && execErr == nil)
	if cbErr != nil {
		return nil, cbErr
	}
	return result, execErr
}

// GetContext wraps a single-row struct scan. A missing row is not a
// database failure, so it never counts against the breaker.
func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	var getErr error
	cbErr := dw.cb.Execute(ctx, func() error {
		getErr = dw.db.GetContext(ctx, dest, query, args...)
		if errors.Is(getErr, sql.ErrNoRows) {
			return nil
		}
		return getErr
	})
	dw.record(cbErr == nil && (getErr == nil || errors.Is(getErr, sql.ErrNoRows)))
	if cbErr != nil {
		return cbErr
	}
	return getErr
}

// SelectContext wraps a multi-row struct scan.
func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	var selErr error
	cbErr := dw.cb.Execute(ctx, func() error {
		selErr = dw.db.SelectContext(ctx, dest, query, args...)
		return selErr
	})
	dw.record(cbErr == nil && selErr == nil)
	if cbErr != nil {
		return cbErr
	}
	return selErr
}

// QueryContext wraps Query.
func (dw *DatabaseWrapper) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	var queryErr error
	cbErr := dw.cb.Execute(ctx, func() error {
		rows, queryErr = dw.db.QueryContext(ctx, query, args...)
		return queryErr
	})
	dw.record(cbErr == nil && queryErr == nil)
	if cbErr != nil {
		return nil, cbErr
	}
	return rows, queryErr
}

// QueryRowContext wraps QueryRow. Row errors surface on Scan, so only the
// breaker gate itself can fail here.
func (dw *DatabaseWrapper) QueryRowContext(ctx context.Context, query string, args ...interface{}) (*sql.Row, error) {
	var row *sql.Row
	cbErr := dw.cb.Execute(ctx, func() error {
		row = dw.db.QueryRowContext(ctx, query, args...)
		return nil
	})
	dw.record(cbErr == nil)
	if cbErr != nil {
		return nil, cbErr
	}
	return row, nil
}

// Stats returns pool statistics.
func (dw *DatabaseWrapper) Stats() sql.DBStats {
	return dw.db.Stats()
}

// Close closes the pool.
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}

// SetMaxOpenConns configures the pool.
func (dw *DatabaseWrapper) SetMaxOpenConns(n int) {
	dw.db.SetMaxOpenConns(n)
}

// SetMaxIdleConns configures the pool.
func (dw *DatabaseWrapper) SetMaxIdleConns(n int) {
	dw.db.SetMaxIdleConns(n)
}

// SetConnMaxLifetime configures the pool.
func (dw *DatabaseWrapper) SetConnMaxLifetime(d time.Duration) {
	dw.db.SetConnMaxLifetime(d)
}

// DB exposes the raw pool for operations the wrapper doesn't cover.
func (dw *DatabaseWrapper) DB() *sqlx.DB {
	return dw.db
}

// Open reports whether the breaker is currently open.
func (dw *DatabaseWrapper) Open() bool {
	return dw.cb.State() == StateOpen
}
