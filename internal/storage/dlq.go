package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

const (
	// dlqDeleteBatchSize bounds each cleanup DELETE to avoid long-running
	// locks on the dead-letter table.
	dlqDeleteBatchSize = 10000

	// dlqDeletePacing spaces cleanup batches so other statements can
	// interleave.
	dlqDeletePacing = 100 * time.Millisecond
)

// HasPriorDeadLetters reports whether the dead-letter queue still holds
// rows for the file from runs before the current one.
func (s *Store) HasPriorDeadLetters(ctx context.Context, filename string, currentLogID int64) (bool, error) {
	d := s.Dialect()

	query := fmt.Sprintf(
		"SELECT CASE WHEN EXISTS(SELECT 1 FROM file_load_dlq WHERE source_filename = %s AND file_load_log_id < %s) THEN 1 ELSE 0 END",
		d.Placeholder(1), d.Placeholder(2))

	var found int
	if err := s.conn.QueryRowContext(ctx, query, filename, currentLogID).Scan(&found); err != nil {
		return false, fmt.Errorf("dead letter existence check for %s: %w", filename, err)
	}

	return found == 1, nil
}

// DeletePriorDeadLetters removes the file's dead-letter rows from runs
// before the current one, in bounded batches, so the queue reflects only
// the latest attempt. Rows written by the current run are preserved.
func (s *Store) DeletePriorDeadLetters(ctx context.Context, filename string, currentLogID int64) (int64, error) {
	query := dlqDeleteSQL(s.Dialect())
	limiter := rate.NewLimiter(rate.Every(dlqDeletePacing), 1)

	var totalDeleted int64

	for {
		if err := limiter.Wait(ctx); err != nil {
			return totalDeleted, fmt.Errorf("dead letter cleanup for %s interrupted: %w", filename, err)
		}

		result, err := s.conn.ExecContext(ctx, query, filename, currentLogID, dlqDeleteBatchSize)
		if err != nil {
			return totalDeleted, fmt.Errorf("dead letter cleanup for %s: %w", filename, err)
		}

		deleted, err := result.RowsAffected()
		if err != nil {
			return totalDeleted, fmt.Errorf("dead letter cleanup for %s: %w", filename, err)
		}

		totalDeleted += deleted

		if deleted < dlqDeleteBatchSize {
			break
		}
	}

	if totalDeleted > 0 {
		s.logger.Info("Removed dead letter rows from prior runs",
			slog.String("source_filename", filename),
			slog.Int64("log_id", currentLogID),
			slog.Int64("rows_deleted", totalDeleted),
		)
	}

	return totalDeleted, nil
}

// dlqDeleteSQL renders the bounded delete. SQL Server deletes through
// TOP, MySQL supports LIMIT on DELETE directly, and PostgreSQL/SQLite
// need the id subquery form. Parameters are always
// (source_filename, current log id, batch limit).
func dlqDeleteSQL(d Dialect) string {
	switch d {
	case DialectSQLServer:
		return "DELETE TOP (@p3) FROM file_load_dlq WHERE source_filename = @p1 AND file_load_log_id < @p2"
	case DialectMySQL:
		return "DELETE FROM file_load_dlq WHERE source_filename = ? AND file_load_log_id < ? LIMIT ?"
	default:
		return fmt.Sprintf(
			"DELETE FROM file_load_dlq WHERE id IN ("+
				"SELECT id FROM file_load_dlq WHERE source_filename = %s AND file_load_log_id < %s LIMIT %s)",
			d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))
	}
}
