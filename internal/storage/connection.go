package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Database drivers register themselves with database/sql; the dialect
	// parsed from DATABASE_URL picks which one the pool opens.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
)

// ErrNoDatabaseConnection is returned when an operation is attempted
// without an established database connection.
var ErrNoDatabaseConnection = errors.New("no database connection")

// Connection wraps the process-wide *sql.DB pool together with the dialect
// it speaks. One Connection is opened at startup and shared by every
// worker; database/sql serializes access internally.
type Connection struct {
	db      *sql.DB
	dialect Dialect
}

// Open opens a database handle for the configured URL without sizing the
// pool or probing connectivity. NewConnection does both; the migration
// runner calls Open directly because golang-migrate takes ownership of
// the handle it is given and must not receive the shared pool.
func (c *Config) Open() (*sql.DB, Dialect, error) {
	if err := c.Validate(); err != nil {
		return nil, 0, err
	}

	dialect, err := c.Dialect()
	if err != nil {
		return nil, 0, err
	}

	dsn, err := driverDSN(dialect, c.databaseURL)
	if err != nil {
		return nil, 0, err
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s connection: %w", dialect, err)
	}

	return db, dialect, nil
}

// NewConnection opens the connection pool described by the configuration
// and verifies connectivity within the configured acquisition timeout.
//
// Pool sizing is dialect-aware: server databases use the configured
// MaxOpenConns/MaxIdleConns, while embedded SQLite is pinned to a single
// connection so concurrent workers serialize on the one writer the file
// supports.
func NewConnection(cfg *Config) (*Connection, error) {
	db, dialect, err := cfg.Open()
	if err != nil {
		return nil, err
	}

	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.AcquireTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping %s database: %w", dialect, err)
	}

	return &Connection{db: db, dialect: dialect}, nil
}

// DB exposes the underlying pool for callers that need it directly.
func (c *Connection) DB() *sql.DB {
	return c.db
}

// Dialect returns the SQL dialect the pool speaks.
func (c *Connection) Dialect() Dialect {
	return c.dialect
}

// Close closes the connection pool.
func (c *Connection) Close() error {
	if c.db == nil {
		return nil
	}

	return c.db.Close()
}

// HealthCheck verifies the database is reachable.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c.db == nil {
		return ErrNoDatabaseConnection
	}

	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

// ExecContext executes a statement through the pool.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if c.db == nil {
		return nil, ErrNoDatabaseConnection
	}

	return c.db.ExecContext(ctx, query, args...)
}

// QueryContext runs a query through the pool.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if c.db == nil {
		return nil, ErrNoDatabaseConnection
	}

	return c.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query through the pool.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction with the given options.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if c.db == nil {
		return nil, ErrNoDatabaseConnection
	}

	return c.db.BeginTx(ctx, opts)
}
