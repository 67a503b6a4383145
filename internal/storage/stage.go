package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fileloader-io/fileloader/internal/source"
	"github.com/fileloader-io/fileloader/internal/validate"
)

const (
	// mssqlMaxInsertValues is the SQL Server hard cap on values per INSERT.
	mssqlMaxInsertValues = 1000
	// sqliteMaxBindVars is the default SQLITE_MAX_VARIABLE_NUMBER.
	sqliteMaxBindVars = 32766
	// postgresMaxBindVars is the wire-protocol limit on bind parameters.
	postgresMaxBindVars = 65535

	// dlqColumnCount is the number of columns written per dead-letter row.
	dlqColumnCount = 7

	// mssqlTextCap is the NVARCHAR(4000) ceiling for DLQ JSON payloads on
	// the SQL Server family.
	mssqlTextCap = 4000
)

// BatchCap bounds a multi-row insert so it stays under the dialect's bind
// parameter limit: floor(limit/columns) - 1, never below one row, never
// above the configured batch size.
func (d Dialect) BatchCap(columns, configured int) int {
	limit := postgresMaxBindVars

	switch d {
	case DialectSQLServer:
		limit = mssqlMaxInsertValues
	case DialectSQLite:
		limit = sqliteMaxBindVars
	}

	bound := limit/columns - 1
	if bound < 1 {
		bound = 1
	}

	if configured < bound {
		return configured
	}

	return bound
}

// StageBatchCap returns the flush threshold for valid-row batches.
func (s *Store) StageBatchCap(spec *source.Spec, configured int) int {
	return s.Dialect().BatchCap(len(stageColumns(spec)), configured)
}

// DLQBatchCap returns the flush threshold for dead-letter batches.
func (s *Store) DLQBatchCap(configured int) int {
	return s.Dialect().BatchCap(dlqColumnCount, configured)
}

// InsertValidRows appends one batch of coerced rows to the stage table
// with a single parameterized multi-row INSERT.
func (s *Store) InsertValidRows(ctx context.Context, stageName string, spec *source.Spec, rows []*validate.ValidRow) error {
	if len(rows) == 0 {
		return nil
	}

	d := s.Dialect()
	cols := stageColumns(spec)
	fieldNames := spec.ColumnNames()

	var values strings.Builder

	args := make([]any, 0, len(rows)*len(cols))

	for i, row := range rows {
		if i > 0 {
			values.WriteString(",\n\t")
		}

		values.WriteString("(" + d.placeholderList(i*len(cols)+1, len(cols)) + ")")

		for _, name := range fieldNames {
			args = append(args, row.Values[name])
		}

		args = append(args, row.Hash, row.Filename, row.RunLogID)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES\n\t%s",
		stageName, strings.Join(cols, ", "), values.String())

	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %s batch of %d rows: %w", ErrStageLoadFailed, stageName, len(rows), err)
	}

	return nil
}

// InsertFailedRows appends one batch of validation failures to the
// dead-letter queue. Row payloads and error descriptors are stored as
// JSON; on the SQL Server family the column is plain text capped at 4000
// characters, so oversized payloads are truncated.
func (s *Store) InsertFailedRows(ctx context.Context, spec *source.Spec, filename string, logID int64, failedAt time.Time, rows []*validate.FailedRow) error {
	if len(rows) == 0 {
		return nil
	}

	d := s.Dialect()

	var values strings.Builder

	args := make([]any, 0, len(rows)*dlqColumnCount)

	for i, row := range rows {
		record, err := s.dlqJSON(row.Record)
		if err != nil {
			return fmt.Errorf("%w: row %d payload: %w", ErrStageLoadFailed, row.RowNumber, err)
		}

		descriptors, err := s.dlqJSON(row.Errors)
		if err != nil {
			return fmt.Errorf("%w: row %d errors: %w", ErrStageLoadFailed, row.RowNumber, err)
		}

		if i > 0 {
			values.WriteString(",\n\t")
		}

		values.WriteString("(" + d.placeholderList(i*dlqColumnCount+1, dlqColumnCount) + ")")
		args = append(args, filename, row.RowNumber, record, descriptors, logID, spec.TargetTable, failedAt)
	}

	query := "INSERT INTO file_load_dlq " +
		"(source_filename, file_row_number, file_record_data, validation_errors, file_load_log_id, target_table_name, failed_at) VALUES\n\t" +
		values.String()

	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: dead letter batch of %d rows: %w", ErrStageLoadFailed, len(rows), err)
	}

	return nil
}

// dlqJSON serializes a DLQ payload, applying the SQL Server text cap.
func (s *Store) dlqJSON(v any) (string, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	text := string(encoded)
	if s.Dialect() == DialectSQLServer {
		text = truncateText(text, mssqlTextCap)
	}

	return text, nil
}

// truncateText bounds a string at limit characters, marking the cut with
// a trailing ellipsis.
func truncateText(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	return string(runes[:limit-3]) + "..."
}
