// Package database wires a GORM session to either SQLite or Postgres
// based on a connection URL, and provides the Database wrapper and the
// slog-backed GORM logger used with it.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ErrUnsupportedDriver is returned when a database URL names a driver
// this package doesn't support.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Database wraps a single GORM handle for either SQLite or Postgres.
type Database struct {
	db *gorm.DB
}

// NewDatabase opens a database connection for the given URL using default
// GORM logging.
func NewDatabase(ctx context.Context, url string) (Database, error) {
	return NewDatabaseWithConfig(ctx, url, &gorm.Config{
		Logger: slogGormLogger{},
	})
}

// NewDatabaseWithConfig opens a database connection for the given URL with
// caller-supplied GORM configuration.
func NewDatabaseWithConfig(ctx context.Context, url string, config *gorm.Config) (Database, error) {
	dialector, err := parseDialector(url)
	if err != nil {
		return Database{}, fmt.Errorf("parse database url: %w", err)
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return Database{}, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return Database{}, fmt.Errorf("get underlying sql.DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return Database{}, fmt.Errorf("ping database: %w", err)
	}

	return Database{db: db}, nil
}

// parseDialector selects a GORM dialector from a connection URL.
//
// Supported schemes:
//   - sqlite:///path/to/file.db
//   - postgres://... and postgresql://...
func parseDialector(url string) (gorm.Dialector, error) {
	switch {
	case strings.HasPrefix(url, "sqlite:///"):
		path := strings.TrimPrefix(url, "sqlite:///")
		return sqlite.Open(path), nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return postgres.Open(url), nil
	default:
		return nil, ErrUnsupportedDriver
	}
}

// Session returns a GORM session bound to ctx for executing queries.
func (d Database) Session(ctx context.Context) *gorm.DB {
	return d.db.WithContext(ctx)
}

// Close releases the underlying connection pool.
func (d Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// ConfigurePool sets the connection pool limits. SQLite callers should
// leave maxOpen/maxIdle modest (one writer, a handful of WAL readers);
// Postgres callers size this to their server's connection budget.
func (d Database) ConfigurePool(maxOpen, maxIdle int, maxLifetime time.Duration) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(maxLifetime)
	return nil
}

// IsPostgres reports whether the database was opened against Postgres.
func (d Database) IsPostgres() bool {
	return d.db.Name() == "postgres"
}

// IsSQLite reports whether the database was opened against SQLite.
func (d Database) IsSQLite() bool {
	return d.db.Name() == "sqlite"
}
