package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fileloader-io/fileloader/internal/source"
)

const (
	// maxGrainColumns is the advisory primary key width; wider grains are
	// accepted but logged.
	maxGrainColumns = 3

	// stageTablePrefix marks the transient per-file landing tables.
	stageTablePrefix = "stage_"
)

var invalidIdentChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// SanitizeTableName reduces a filename to a safe table identifier: the
// extension is dropped, every character outside [A-Za-z0-9_] becomes an
// underscore, and a t_ prefix is added when the result does not start
// with a letter.
func SanitizeTableName(filename string) string {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	name := invalidIdentChars.ReplaceAllString(stem, "_")

	if name == "" || !isASCIILetter(name[0]) {
		name = "t_" + name
	}

	return name
}

// StageTableName returns the stage table identifier for a source filename.
func StageTableName(filename string) string {
	return stageTablePrefix + SanitizeTableName(filename)
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// EnsureTargetTables creates the target table and its source_filename
// index for every spec, if absent. Existing tables are left untouched;
// schema evolution is out of scope for the loader.
func (s *Store) EnsureTargetTables(ctx context.Context, specs []*source.Spec) error {
	for _, spec := range specs {
		if len(spec.Grain) > maxGrainColumns {
			s.logger.Warn("Source has a wide grain; primary key will be inefficient",
				slog.String("target_table", spec.TargetTable),
				slog.Int("grain_columns", len(spec.Grain)),
			)
		}

		for _, stmt := range targetTableDDL(s.Dialect(), spec) {
			if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create target table %s: %w", spec.TargetTable, err)
			}
		}
	}

	return nil
}

// CreateStageTable drops and recreates the per-file stage table and
// returns its name. The stage mirrors the target shape minus the
// etl_created_at/etl_updated_at columns, with no keys or indexes.
func (s *Store) CreateStageTable(ctx context.Context, spec *source.Spec, sourceFilename string, logID int64) (string, error) {
	stageName := StageTableName(sourceFilename)

	for _, stmt := range stageTableDDL(s.Dialect(), spec, stageName) {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return "", fmt.Errorf("failed to create stage table %s: %w", stageName, err)
		}
	}

	s.logger.Info("Created stage table",
		slog.Int64("log_id", logID),
		slog.String("stage_table", stageName),
	)

	return stageName, nil
}

// DropStageTable removes a stage table if it still exists.
func (s *Store) DropStageTable(ctx context.Context, stageName string) error {
	if _, err := s.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+stageName); err != nil {
		return fmt.Errorf("failed to drop stage table %s: %w", stageName, err)
	}

	return nil
}

// stageColumns returns the column names shared by the stage table and the
// merge: the declared fields plus the ETL bookkeeping columns written at
// stage time.
func stageColumns(spec *source.Spec) []string {
	cols := spec.ColumnNames()

	return append(cols, "etl_row_hash", "source_filename", "run_log_id")
}

// fieldDDL renders the column definitions of the declared fields.
func fieldDDL(d Dialect, spec *source.Spec) []string {
	grain := spec.GrainSet()
	lines := make([]string, 0, len(spec.Fields))

	for _, f := range spec.Fields {
		null := " NOT NULL"
		if f.Nullable && !grain[f.Name] {
			null = " NULL"
		}

		lines = append(lines, fmt.Sprintf("%s %s%s", f.Name, d.columnType(f.Type, f.MaxLength), null))
	}

	return lines
}

// etlStageDDL renders the bookkeeping columns present on both stage and
// target tables.
func etlStageDDL(d Dialect) []string {
	return []string{
		"etl_row_hash " + d.hashType() + " NOT NULL",
		"source_filename " + d.filenameType() + " NOT NULL",
		"run_log_id " + d.bigintType() + " NOT NULL",
	}
}

// targetTableDDL renders the idempotent creation statements for one
// target table. MySQL carries the source_filename index inline because it
// has no CREATE INDEX IF NOT EXISTS; SQL Server wraps table and index in
// one guarded batch because it has no CREATE TABLE IF NOT EXISTS.
func targetTableDDL(d Dialect, spec *source.Spec) []string {
	lines := fieldDDL(d, spec)
	lines = append(lines, etlStageDDL(d)...)
	lines = append(lines,
		"etl_created_at "+d.datetimeType()+" NOT NULL",
		"etl_updated_at "+d.datetimeType()+" NULL",
		"PRIMARY KEY ("+strings.Join(spec.Grain, ", ")+")",
	)

	indexName := "idx_" + spec.TargetTable + "_source_filename"

	switch d {
	case DialectMySQL:
		lines = append(lines, "INDEX "+indexName+" (source_filename)")

		return []string{renderCreateTable("CREATE TABLE IF NOT EXISTS", spec.TargetTable, lines)}

	case DialectSQLServer:
		create := renderCreateTable("CREATE TABLE", spec.TargetTable, lines)
		index := fmt.Sprintf("CREATE INDEX %s ON %s (source_filename)", indexName, spec.TargetTable)

		return []string{fmt.Sprintf(
			"IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n%s;\n%s;\nEND",
			spec.TargetTable, create, index,
		)}

	default:
		return []string{
			renderCreateTable("CREATE TABLE IF NOT EXISTS", spec.TargetTable, lines),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (source_filename)", indexName, spec.TargetTable),
		}
	}
}

// stageTableDDL renders the drop-and-create statements for a stage table.
func stageTableDDL(d Dialect, spec *source.Spec, stageName string) []string {
	lines := fieldDDL(d, spec)
	lines = append(lines, etlStageDDL(d)...)

	return []string{
		"DROP TABLE IF EXISTS " + stageName,
		renderCreateTable("CREATE TABLE", stageName, lines),
	}
}

func renderCreateTable(verb, table string, lines []string) string {
	return fmt.Sprintf("%s %s (\n\t%s\n)", verb, table, strings.Join(lines, ",\n\t"))
}
