package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fileloader-io/fileloader/internal/source"
)

// HasFileLoaded reports whether any target row was already loaded from
// the named file. Used as the duplicate-file gate before archiving.
func (s *Store) HasFileLoaded(ctx context.Context, spec *source.Spec, filename string) (bool, error) {
	d := s.Dialect()

	query := fmt.Sprintf(
		"SELECT CASE WHEN EXISTS(SELECT 1 FROM %s WHERE source_filename = %s) THEN 1 ELSE 0 END",
		spec.TargetTable, d.Placeholder(1))

	var loaded int
	if err := s.conn.QueryRowContext(ctx, query, filename).Scan(&loaded); err != nil {
		return false, fmt.Errorf("duplicate check against %s: %w", spec.TargetTable, err)
	}

	return loaded == 1, nil
}

// MergeResult carries the outcome counters of one stage-to-target merge.
type MergeResult struct {
	// Inserts is the number of stage rows with no grain match in the target.
	Inserts int64
	// Updates is the number of grain matches whose content hash changed.
	Updates int64
}

// Merge upserts the stage table into the target inside one transaction.
//
// The insert and update counters are computed against the target before
// the upsert runs: inserts are the staged rows without a grain match,
// updates the matches whose etl_row_hash differs. Matched rows with an
// unchanged hash are left untouched, including their etl_updated_at.
func (s *Store) Merge(ctx context.Context, spec *source.Spec, stageName string, stagedCount int64, logID int64) (MergeResult, error) {
	var result MergeResult

	d := s.Dialect()
	join := joinCondition(spec)
	now := time.Now().UTC()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("%w: begin: %w", ErrMergeFailed, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	// Counting EXISTS matches is cheaper than NOT EXISTS on every dialect,
	// so inserts are derived from the staged total instead.
	matchedSQL := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s AS stage WHERE EXISTS (SELECT 1 FROM %s AS target WHERE %s)",
		stageName, spec.TargetTable, join)

	var matched int64
	if err := tx.QueryRowContext(ctx, matchedSQL).Scan(&matched); err != nil {
		return result, fmt.Errorf("%w: counting matched rows: %w", ErrMergeFailed, err)
	}

	changedSQL := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s AS stage WHERE EXISTS (SELECT 1 FROM %s AS target WHERE %s AND stage.etl_row_hash != target.etl_row_hash)",
		stageName, spec.TargetTable, join)

	var changed int64
	if err := tx.QueryRowContext(ctx, changedSQL).Scan(&changed); err != nil {
		return result, fmt.Errorf("%w: counting changed rows: %w", ErrMergeFailed, err)
	}

	result.Inserts = stagedCount - matched
	result.Updates = changed

	query := mergeSQL(d, spec, stageName)
	if _, err := tx.ExecContext(ctx, query, now, now); err != nil {
		return result, fmt.Errorf("%w: %s into %s: %w", ErrMergeFailed, stageName, spec.TargetTable, err)
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("%w: commit: %w", ErrMergeFailed, err)
	}

	s.logger.Info("Merged stage into target",
		slog.Int64("log_id", logID),
		slog.String("stage_table", stageName),
		slog.String("target_table", spec.TargetTable),
		slog.Int64("target_inserts", result.Inserts),
		slog.Int64("target_updates", result.Updates),
	)

	return result, nil
}

// joinCondition renders the grain equality predicate between the target
// and stage aliases.
func joinCondition(spec *source.Spec) string {
	parts := make([]string, len(spec.Grain))
	for i, g := range spec.Grain {
		parts[i] = fmt.Sprintf("target.%s = stage.%s", g, g)
	}

	return strings.Join(parts, " AND ")
}

// mergeSQL renders the dialect's upsert. Each form takes exactly two
// parameters, both the merge timestamp: the first lands in
// etl_updated_at for changed matches, the second in etl_created_at for
// fresh inserts (parameter order differs per form).
func mergeSQL(d Dialect, spec *source.Spec, stageName string) string {
	cols := stageColumns(spec)
	grain := spec.GrainSet()

	insertColumns := strings.Join(cols, ", ") + ", etl_created_at"

	var updateColumns []string

	for _, col := range cols {
		if !grain[col] {
			updateColumns = append(updateColumns, col)
		}
	}

	switch d {
	case DialectMySQL:
		return mysqlMergeSQL(spec, stageName, insertColumns, updateColumns)
	case DialectSQLite:
		return sqliteMergeSQL(spec, stageName, insertColumns, updateColumns)
	default:
		return ansiMergeSQL(d, spec, stageName, insertColumns, updateColumns)
	}
}

// ansiMergeSQL renders the MERGE INTO form used by PostgreSQL and the SQL
// Server family. The trailing semicolon is required by SQL Server and
// harmless elsewhere.
func ansiMergeSQL(d Dialect, spec *source.Spec, stageName, insertColumns string, updateColumns []string) string {
	sets := make([]string, 0, len(updateColumns)+1)
	for _, col := range updateColumns {
		sets = append(sets, fmt.Sprintf("%s = stage.%s", col, col))
	}

	sets = append(sets, "etl_updated_at = "+d.Placeholder(1))

	values := make([]string, 0, len(stageColumns(spec))+1)
	for _, col := range stageColumns(spec) {
		values = append(values, "stage."+col)
	}

	values = append(values, d.Placeholder(2))

	return fmt.Sprintf(`MERGE INTO %s AS target
USING %s AS stage
ON %s
WHEN MATCHED AND stage.etl_row_hash != target.etl_row_hash THEN
	UPDATE SET %s
WHEN NOT MATCHED THEN
	INSERT (%s)
	VALUES (%s);`,
		spec.TargetTable, stageName, joinCondition(spec),
		strings.Join(sets, ", "),
		insertColumns, strings.Join(values, ", "))
}

// mysqlMergeSQL renders INSERT ... ON DUPLICATE KEY UPDATE. The target
// table cannot be aliased here, so the hash comparison names it in full.
func mysqlMergeSQL(spec *source.Spec, stageName, insertColumns string, updateColumns []string) string {
	selects := make([]string, 0, len(stageColumns(spec))+1)
	for _, col := range stageColumns(spec) {
		selects = append(selects, "stage."+col)
	}

	selects = append(selects, "?")

	sets := make([]string, 0, len(updateColumns)+1)
	for _, col := range updateColumns {
		sets = append(sets, fmt.Sprintf("%s = stage.%s", col, col))
	}

	sets = append(sets, fmt.Sprintf(
		"etl_updated_at = IF(stage.etl_row_hash != %s.etl_row_hash, ?, %s.etl_updated_at)",
		spec.TargetTable, spec.TargetTable))

	return fmt.Sprintf(`INSERT INTO %s (%s)
SELECT %s
FROM %s AS stage
ON DUPLICATE KEY UPDATE
	%s`,
		spec.TargetTable, insertColumns,
		strings.Join(selects, ", "),
		stageName,
		strings.Join(sets, ",\n\t"))
}

// sqliteMergeSQL renders INSERT ... ON CONFLICT DO UPDATE. The WHERE 1=1
// resolves the parser ambiguity between the SELECT and ON CONFLICT.
// Unqualified columns in the DO UPDATE SET refer to the existing row.
func sqliteMergeSQL(spec *source.Spec, stageName, insertColumns string, updateColumns []string) string {
	selects := make([]string, 0, len(stageColumns(spec))+1)
	for _, col := range stageColumns(spec) {
		selects = append(selects, "stage."+col)
	}

	selects = append(selects, "?")

	sets := make([]string, 0, len(updateColumns)+1)
	for _, col := range updateColumns {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
	}

	sets = append(sets,
		"etl_updated_at = CASE WHEN excluded.etl_row_hash != etl_row_hash THEN ? ELSE etl_updated_at END")

	return fmt.Sprintf(`INSERT INTO %s (%s)
SELECT %s
FROM %s AS stage
WHERE 1=1
ON CONFLICT(%s)
DO UPDATE SET
	%s`,
		spec.TargetTable, insertColumns,
		strings.Join(selects, ", "),
		stageName,
		strings.Join(spec.Grain, ", "),
		strings.Join(sets, ",\n\t"))
}
