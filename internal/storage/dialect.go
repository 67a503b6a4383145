// Package storage owns every database concern of the loader: the shared
// connection pool, dialect-specific SQL rendering, target and stage table
// DDL, stage and dead-letter inserts, audits, the stage-to-target merge,
// and the file_load_log run log.
package storage

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/fileloader-io/fileloader/internal/source"
)

// Dialect identifies the SQL flavor behind the connection pool. All
// dialect-dependent SQL is rendered through methods on this type so the
// stores themselves stay branch-free.
type Dialect int

const (
	// DialectPostgres covers PostgreSQL via lib/pq.
	DialectPostgres Dialect = iota + 1
	// DialectMySQL covers the MySQL family via go-sql-driver.
	DialectMySQL
	// DialectSQLServer covers the SQL Server family via go-mssqldb.
	DialectSQLServer
	// DialectSQLite covers embedded SQLite via mattn/go-sqlite3.
	DialectSQLite
)

// ErrUnknownDialect is returned when the DATABASE_URL scheme does not map
// to a supported database.
var ErrUnknownDialect = errors.New("unknown database dialect")

// ParseDialect derives the dialect from the DATABASE_URL scheme.
func ParseDialect(databaseURL string) (Dialect, error) {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		if strings.HasPrefix(databaseURL, "file:") {
			return DialectSQLite, nil
		}

		return 0, fmt.Errorf("%w: no scheme in database URL", ErrUnknownDialect)
	}

	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	case "sqlserver", "mssql":
		return DialectSQLServer, nil
	case "sqlite", "sqlite3", "file":
		return DialectSQLite, nil
	default:
		return 0, fmt.Errorf("%w: scheme %q", ErrUnknownDialect, scheme)
	}
}

// String returns the conventional name of the dialect.
func (d Dialect) String() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectMySQL:
		return "mysql"
	case DialectSQLServer:
		return "sqlserver"
	case DialectSQLite:
		return "sqlite"
	default:
		return fmt.Sprintf("Dialect(%d)", int(d))
	}
}

// DriverName returns the database/sql driver name registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectMySQL:
		return "mysql"
	case DialectSQLServer:
		return "sqlserver"
	case DialectSQLite:
		return "sqlite3"
	default:
		return ""
	}
}

// Placeholder returns the 1-based bind-parameter marker for the dialect.
func (d Dialect) Placeholder(n int) string {
	switch d {
	case DialectPostgres:
		return fmt.Sprintf("$%d", n)
	case DialectSQLServer:
		return fmt.Sprintf("@p%d", n)
	default:
		return "?"
	}
}

// placeholderList renders "p1, p2, ..., pN" starting at the given 1-based
// parameter offset.
func (d Dialect) placeholderList(start, count int) string {
	parts := make([]string, count)
	for i := range count {
		parts[i] = d.Placeholder(start + i)
	}

	return strings.Join(parts, ", ")
}

// driverDSN converts the configured DATABASE_URL into the string the
// dialect's driver expects. lib/pq and go-mssqldb accept URLs directly;
// go-sql-driver/mysql needs its own DSN grammar and mattn/go-sqlite3 wants
// a bare path or file: URI.
func driverDSN(d Dialect, databaseURL string) (string, error) {
	switch d {
	case DialectPostgres:
		return databaseURL, nil

	case DialectMySQL:
		return mysqlDSN(databaseURL)

	case DialectSQLServer:
		if rest, ok := strings.CutPrefix(databaseURL, "mssql://"); ok {
			return "sqlserver://" + rest, nil
		}

		return databaseURL, nil

	case DialectSQLite:
		return sqliteDSN(databaseURL)

	default:
		return "", fmt.Errorf("%w: %v", ErrUnknownDialect, d)
	}
}

// mysqlDSN rewrites a mysql:// URL into go-sql-driver DSN form. ParseTime
// is always enabled so DATETIME columns scan back into time.Time.
func mysqlDSN(databaseURL string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid mysql database URL: %w", err)
	}

	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true

	if u.User != nil {
		cfg.User = u.User.Username()
		if password, ok := u.User.Password(); ok {
			cfg.Passwd = password
		}
	}

	query := u.Query()
	for key := range query {
		if cfg.Params == nil {
			cfg.Params = make(map[string]string)
		}

		cfg.Params[key] = query.Get(key)
	}

	return cfg.FormatDSN(), nil
}

// sqliteDSN strips the sqlite:// scheme down to the path form mattn's
// driver accepts, preserving any query options as a file: URI.
func sqliteDSN(databaseURL string) (string, error) {
	if strings.HasPrefix(databaseURL, "file:") {
		return databaseURL, nil
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid sqlite database URL: %w", err)
	}

	path := u.Host + u.Path
	if u.Opaque != "" {
		path = u.Opaque
	}

	if path == "" {
		return "", fmt.Errorf("%w: sqlite URL names no file", ErrUnknownDialect)
	}

	if u.RawQuery != "" {
		return "file:" + path + "?" + u.RawQuery, nil
	}

	return path, nil
}

// columnType maps a semantic field type onto the dialect's column type.
func (d Dialect) columnType(t source.Type, maxLength int) string {
	switch t {
	case source.TypeString:
		return d.stringType(maxLength)
	case source.TypeInt:
		if d == DialectSQLite {
			return "INTEGER"
		}

		return "BIGINT"
	case source.TypeDecimal:
		if d == DialectSQLite {
			return "NUMERIC"
		}

		return "DECIMAL(38,9)"
	case source.TypeFloat:
		switch d {
		case DialectPostgres:
			return "DOUBLE PRECISION"
		case DialectMySQL:
			return "DOUBLE"
		case DialectSQLServer:
			return "FLOAT"
		default:
			return "REAL"
		}
	case source.TypeBool:
		if d == DialectSQLServer {
			return "BIT"
		}

		return "BOOLEAN"
	case source.TypeDate:
		return "DATE"
	case source.TypeDateTime:
		return d.datetimeType()
	default:
		return "TEXT"
	}
}

// stringType picks a text column wide enough for the declared bound.
// MySQL and SQL Server cannot key unbounded text, so unbounded strings
// get a conventional 255 there.
func (d Dialect) stringType(maxLength int) string {
	switch d {
	case DialectMySQL:
		if maxLength > 0 {
			return fmt.Sprintf("VARCHAR(%d)", maxLength)
		}

		return "VARCHAR(255)"
	case DialectSQLServer:
		if maxLength > 0 {
			return fmt.Sprintf("NVARCHAR(%d)", maxLength)
		}

		return "NVARCHAR(255)"
	default:
		if maxLength > 0 {
			return fmt.Sprintf("VARCHAR(%d)", maxLength)
		}

		return "TEXT"
	}
}

// datetimeType returns the dialect's timestamp column type.
func (d Dialect) datetimeType() string {
	switch d {
	case DialectPostgres:
		return "TIMESTAMP"
	case DialectMySQL, DialectSQLite:
		return "DATETIME"
	case DialectSQLServer:
		return "DATETIME2"
	default:
		return "TIMESTAMP"
	}
}

// hashType returns the column type of etl_row_hash, a 4-byte digest.
func (d Dialect) hashType() string {
	switch d {
	case DialectPostgres:
		return "BYTEA"
	case DialectSQLite:
		return "BLOB"
	default:
		return "BINARY(4)"
	}
}

// filenameType returns the column type of source_filename. The column is
// indexed, which rules out unbounded text on MySQL and SQL Server.
func (d Dialect) filenameType() string {
	switch d {
	case DialectMySQL:
		return "VARCHAR(512)"
	case DialectSQLServer:
		return "NVARCHAR(450)"
	default:
		return "TEXT"
	}
}

// bigintType returns the column type of run_log_id.
func (d Dialect) bigintType() string {
	if d == DialectSQLite {
		return "INTEGER"
	}

	return "BIGINT"
}

// limitClause renders a bounded-row clause for sample queries.
func (d Dialect) limitClause(n int) string {
	if d == DialectSQLServer {
		return ""
	}

	return fmt.Sprintf(" LIMIT %d", n)
}

// topClause renders the SQL Server prefix form of a bounded-row clause.
func (d Dialect) topClause(n int) string {
	if d == DialectSQLServer {
		return fmt.Sprintf("TOP %d ", n)
	}

	return ""
}
