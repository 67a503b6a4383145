package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/database/sqlserver"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/fileloader-io/fileloader/internal/config"
	"github.com/fileloader-io/fileloader/internal/storage"
)

// defaultMigrationTable is where golang-migrate tracks the applied version.
const defaultMigrationTable = "schema_migrations"

type (
	// MigrationRunner is the subset of runner behavior the startup path
	// depends on.
	MigrationRunner interface {
		// Up applies all pending migrations
		Up() error

		// Down rolls back the last migration
		Down() error

		// Version reports the current schema version and dirty state
		Version() (uint, bool, error)

		// Close releases the connections the runner opened
		Close() error
	}

	// Runner implements MigrationRunner using golang-migrate over the
	// embedded per-dialect migration files. It opens its own database
	// handle because golang-migrate takes ownership of the handle it is
	// given; the loader's shared pool is never passed in.
	Runner struct {
		migrate  *migrate.Migrate
		db       *sql.DB
		dialect  storage.Dialect
		embedded *EmbeddedMigration
		logger   *slog.Logger
	}

	// migrateLogger adapts the component logger to the migrate.Logger
	// interface.
	migrateLogger struct {
		logger *slog.Logger
	}
)

// Ensure we implement the interfaces at compile time.
var (
	_ MigrationRunner = (*Runner)(nil)
	_ migrate.Logger  = (*migrateLogger)(nil)
	_ io.Writer       = (*migrateLogger)(nil)
)

// Apply brings the schema fully up to date and releases every connection
// it opened. This is the startup entry point; the Runner type exists for
// callers that also need rollback or version inspection.
func Apply(cfg *storage.Config) error {
	runner, err := NewRunner(cfg)
	if err != nil {
		return err
	}

	defer func() {
		_ = runner.Close()
	}()

	return runner.Up()
}

// NewRunner validates the embedded migration set for the configured
// dialect, opens a dedicated database handle, and wires both into a
// migrate instance.
func NewRunner(cfg *storage.Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	})).With(slog.String("component", "migrations"))

	dialect, err := cfg.Dialect()
	if err != nil {
		return nil, err
	}

	embedded, err := NewEmbeddedMigration(nil, dialect)
	if err != nil {
		return nil, err
	}

	if err := embedded.Validate(); err != nil {
		return nil, fmt.Errorf("embedded migration validation failed: %w", err)
	}

	db, _, err := cfg.Open()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.AcquireTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping %s database: %w", dialect, err)
	}

	driver, err := databaseDriver(db, dialect, config.GetEnvStr("MIGRATION_TABLE", defaultMigrationTable))
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create %s migration driver: %w", dialect, err)
	}

	sourceDriver, err := iofs.New(embedded.FS(), ".")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, dialect.String(), driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{logger: logger}

	return &Runner{
		migrate:  m,
		db:       db,
		dialect:  dialect,
		embedded: embedded,
		logger:   logger,
	}, nil
}

// databaseDriver builds the golang-migrate driver for the dialect. Every
// driver wraps the already-open handle rather than opening its own.
func databaseDriver(db *sql.DB, dialect storage.Dialect, table string) (database.Driver, error) {
	switch dialect {
	case storage.DialectPostgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
	case storage.DialectMySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
	case storage.DialectSQLServer:
		return sqlserver.WithInstance(db, &sqlserver.Config{MigrationsTable: table})
	case storage.DialectSQLite:
		return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: table})
	default:
		return nil, fmt.Errorf("%w: %v", storage.ErrUnknownDialect, dialect)
	}
}

// Up applies all pending migrations.
func (r *Runner) Up() error {
	if err := r.embedded.Validate(); err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	err := r.migrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("Schema is up to date",
			slog.String("dialect", r.dialect.String()),
			slog.Int("schema_version", r.embedded.MaxSequence()))
	} else {
		r.logger.Info("Applied schema migrations",
			slog.String("dialect", r.dialect.String()),
			slog.Int("schema_version", r.embedded.MaxSequence()))
	}

	return nil
}

// Down rolls back the last applied migration.
func (r *Runner) Down() error {
	if err := r.embedded.Validate(); err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	err := r.migrate.Steps(-1)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("No migrations to roll back")
	} else {
		r.logger.Info("Rolled back last migration")
	}

	return nil
}

// Version reports the current schema version and whether the last
// migration left the schema dirty. A database with no applied migrations
// reports version zero.
func (r *Runner) Version() (uint, bool, error) {
	version, dirty, err := r.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}

		return 0, false, fmt.Errorf("failed to read migration version: %w", err)
	}

	return version, dirty, nil
}

// Close releases the migrate instance and the runner's database handle.
func (r *Runner) Close() error {
	var errs []error

	if r.migrate != nil {
		sourceErr, dbErr := r.migrate.Close()
		if sourceErr != nil {
			errs = append(errs, fmt.Errorf("source close error: %w", sourceErr))
		}

		if dbErr != nil {
			errs = append(errs, fmt.Errorf("database close error: %w", dbErr))
		}
	}

	if r.db != nil {
		// The sqlite migrate driver closes the handle it wraps, the
		// server drivers do not; closing twice is safe either way.
		if err := r.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database connection close error: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Info("migrate: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *migrateLogger) Verbose() bool {
	return true
}

func (l *migrateLogger) Write(p []byte) (int, error) {
	l.logger.Info("migrate: " + strings.TrimSpace(string(p)))

	return len(p), nil
}
