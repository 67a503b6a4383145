package storage

import (
	"errors"
	"log/slog"
	"os"

	"github.com/fileloader-io/fileloader/internal/config"
)

// Sentinel errors for loader storage operations.
var (
	// ErrGrainValidation is returned when a stage table holds duplicate
	// grain tuples.
	ErrGrainValidation = errors.New("grain validation failed")

	// ErrAuditFailed is returned when one or more declarative audit checks
	// evaluate to 0.
	ErrAuditFailed = errors.New("audit failed")

	// ErrMergeFailed is returned when the stage-to-target merge cannot be
	// completed.
	ErrMergeFailed = errors.New("merge failed")

	// ErrStageLoadFailed is returned when a stage or dead-letter batch
	// insert fails.
	ErrStageLoadFailed = errors.New("stage load failed")

	// ErrRunLogFailed is returned when the file_load_log row cannot be
	// written.
	ErrRunLogFailed = errors.New("run log write failed")
)

// Store executes every SQL operation of the load pipeline against the
// shared connection. It is safe for concurrent use by multiple workers:
// all state lives in the database, keyed by per-file stage table names.
type Store struct {
	conn   *Connection
	logger *slog.Logger
}

// NewStore creates a Store bound to an established connection.
func NewStore(conn *Connection) (*Store, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	})).With(slog.String("component", "storage"))

	return &Store{conn: conn, logger: logger}, nil
}

// Dialect returns the SQL dialect of the underlying connection.
func (s *Store) Dialect() Dialect {
	return s.conn.Dialect()
}
