// Package sqlstore implements the Timeline Store on SQLite (modernc.org/sqlite)
// or PostgreSQL (lib/pq) through sqlx.
//
// Every WithResourceLock transaction starts by bumping resources.lock_version
// for the target resource. On PostgreSQL that row lock serialises writers per
// resource and is bounded by lock_timeout; on SQLite the first write takes the
// database write lock and busy_timeout bounds the wait. Either way the
// conflict check and the write it guards happen under the same lock.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/example/resource-reservations/internal/persistence"
	"github.com/example/resource-reservations/internal/persistence/sqlstore/migration"
)

//go:embed migrations
var migrationFiles embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// DefaultLockTimeout bounds the wait for a busy resource.
	DefaultLockTimeout = 3 * time.Second
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Config describes how to reach the database.
type Config struct {
	Driver       string
	DSN          string
	LockTimeout  time.Duration
	MaxOpenConns int
}

// Store is a persistence.Store backed by a SQL database.
type Store struct {
	db          *sqlx.DB
	driver      string
	lockTimeout time.Duration
	logger      *slog.Logger
}

var _ persistence.Store = (*Store)(nil)

// Open connects to the database described by cfg and verifies the connection.
// It does not run migrations.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	dsn := cfg.DSN
	switch driver {
	case DriverSQLite, "sqlite3":
		driver = DriverSQLite
		dsn = sqliteDSN(dsn, cfg.LockTimeout)
	case DriverPostgres, "postgresql", "pgx":
		driver = DriverPostgres
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", cfg.Driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", driver, err)
	}

	logger.InfoContext(ctx, "database connected",
		slog.String("driver", driver),
		slog.Duration("lock_timeout", cfg.LockTimeout),
	)

	return &Store{db: db, driver: driver, lockTimeout: cfg.LockTimeout, logger: logger}, nil
}

// sqliteDSN adds the pragmas the store relies on unless the caller set them.
func sqliteDSN(dsn string, lockTimeout time.Duration) string {
	if dsn == "" {
		dsn = "file:reservations.db"
	}
	pragmas := []string{}
	if !strings.Contains(dsn, "busy_timeout") {
		pragmas = append(pragmas, fmt.Sprintf("_pragma=busy_timeout(%d)", lockTimeout.Milliseconds()))
	}
	if !strings.Contains(dsn, "foreign_keys") {
		pragmas = append(pragmas, "_pragma=foreign_keys(1)")
	}
	if !strings.Contains(dsn, "journal_mode") && !strings.Contains(dsn, ":memory:") {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	if len(pragmas) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(pragmas, "&")
}

// Migrate applies the embedded schema migrations for the store's driver.
func (s *Store) Migrate(ctx context.Context) error {
	manager := migration.NewManager(
		migration.NewFSScanner(migrationFiles, "migrations/"+s.driver),
		migration.NewSQLExecutor(s.db),
		s.logger,
	)
	if err := manager.RunMigrations(ctx); err != nil {
		return fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return nil
}

// Driver reports the normalised driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithResourceLock implements persistence.Store.
func (s *Store) WithResourceLock(ctx context.Context, resourceID string, fn persistence.TxFunc) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", mapError(err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "rollback failed",
					slog.String("resource_id", resourceID),
					slog.Any("error", rbErr),
				)
			}
		}
	}()

	if s.driver == DriverPostgres {
		// SET does not accept bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: set lock timeout: %w", mapError(err))
		}
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE resources SET lock_version = lock_version + 1 WHERE id = ?`), resourceID)
	if err != nil {
		return fmt.Errorf("sqlstore: lock resource %s: %w", resourceID, mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: lock resource %s: %w", resourceID, err)
	}
	if n == 0 {
		return persistence.ErrNotFound
	}

	if err = fn(ctx, &storeTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", mapError(err))
	}
	return nil
}
