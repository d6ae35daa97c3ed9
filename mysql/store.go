/*
Package mysql implements the crawler's shared persistence layer: the
discovery queue every agent leases work from, and the domain graph the
collected data lands in. All cross-agent coordination happens through this
package; agents share no other state.
*/
package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	crawler "github.com/Rabenherz112/map-the-net-crawler"
)

// Store is the MySQL-backed implementation of crawler.QueueStore and
// crawler.DomainStore. Each worker owns its own Store (and thus its own
// connection pool), so a poisoned connection never stalls its siblings.
//
// NewStore should be used to create one.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger

	retries int
	backoff time.Duration
}

// NewStore connects to the database configured in crawler.Config and pings
// it once so a bad address fails at startup instead of mid-crawl.
func NewStore(logger *zap.Logger) (*Store, error) {
	db, err := Open()
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql at %v: %w", crawler.Config.Database.Host, err)
	}
	return NewStoreWithDB(db, logger), nil
}

// NewStoreWithDB wraps an existing handle. Tests hand in sqlmock connections
// here.
func NewStoreWithDB(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:      db,
		logger:  logger,
		retries: crawler.Config.Database.QueryRetries,
		backoff: 100 * time.Millisecond,
	}
}

// Open builds a sqlx handle from the configured DSN without pinging it.
func Open() (*sqlx.DB, error) {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%v:%v", crawler.Config.Database.Host, crawler.Config.Database.Port)
	cfg.User = crawler.Config.Database.User
	cfg.Passwd = crawler.Config.Database.Password
	cfg.DBName = crawler.Config.Database.Name
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sqlx.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}
	db.SetMaxOpenConns(crawler.Config.Database.MaxOpenConns)
	db.SetMaxIdleConns(crawler.Config.Database.MaxIdleConns)
	db.SetConnMaxLifetime(crawler.Duration(crawler.Config.Database.ConnMaxLifetime, 30*time.Minute))
	return db, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for the console's read-only queries.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// CreateSchema applies the CREATE TABLE statements. Safe to call on every
// startup; the statements are IF NOT EXISTS.
func (s *Store) CreateSchema(ctx context.Context) error {
	for _, stmt := range SchemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Wipe truncates all five tables and resets their auto-increment counters.
// Foreign key checks are suspended so truncation order does not matter.
func (s *Store) Wipe(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
		return fmt.Errorf("failed to disable foreign key checks: %w", err)
	}
	var wipeErr error
	for _, table := range tableNames {
		if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE "+table); err != nil {
			wipeErr = fmt.Errorf("failed to truncate %v: %w", table, err)
			break
		}
		if _, err := s.db.ExecContext(ctx, "ALTER TABLE "+table+" AUTO_INCREMENT = 1"); err != nil {
			wipeErr = fmt.Errorf("failed to reset auto_increment on %v: %w", table, err)
			break
		}
	}
	if _, err := s.db.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 1"); err != nil && wipeErr == nil {
		wipeErr = fmt.Errorf("failed to re-enable foreign key checks: %w", err)
	}
	return wipeErr
}

// MySQL server error numbers the retry loop treats as transient.
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// isTransient reports whether an error is worth retrying: deadlocks, lock
// wait timeouts, and connections the driver has given up on. Constraint
// violations and everything else surface immediately.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == errDeadlock || myErr.Number == errLockWaitTimeout
	}
	return false
}

// withRetry runs fn up to the configured attempt count, backing off
// 100ms × attempt between tries. Only transient errors are retried; the
// context aborts the backoff sleep.
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.retries; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
		s.logger.Warn("transient database error, retrying",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		if attempt == s.retries {
			break
		}
		select {
		case <-time.After(s.backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%v failed after %v attempts: %w", op, s.retries, err)
}

// inTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic. The rollback is unconditional on the failure path so no
// transaction is ever left open for the next statement to trip over.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
