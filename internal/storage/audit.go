package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/fileloader-io/fileloader/internal/source"
)

// duplicateSampleLimit bounds how many duplicate grain tuples a
// GrainValidation error reports.
const duplicateSampleLimit = 5

// Audit runs both stage checks: grain uniqueness first, then the spec's
// declarative audit SQL when one is configured. A failed check returns
// ErrGrainValidation or ErrAuditFailed; those are facts about the file,
// not transient conditions, and must not be retried.
func (s *Store) Audit(ctx context.Context, spec *source.Spec, stageName, filename string) error {
	if err := s.validateGrain(ctx, spec, stageName, filename); err != nil {
		return err
	}

	if strings.TrimSpace(spec.AuditSQL) == "" {
		return nil
	}

	return s.runDeclaredAudit(ctx, spec, stageName, filename)
}

// validateGrain verifies that the grain columns uniquely identify every
// stage row. On failure it samples the worst offenders so the file owner
// sees concrete duplicate tuples, rendered with file column names.
func (s *Store) validateGrain(ctx context.Context, spec *source.Spec, stageName, filename string) error {
	var unique int

	if err := s.conn.QueryRowContext(ctx, grainUniqueSQL(spec, stageName)).Scan(&unique); err != nil {
		return fmt.Errorf("grain uniqueness check on %s: %w", stageName, err)
	}

	if unique == 1 {
		return nil
	}

	samples, err := s.duplicateGrainSamples(ctx, spec, stageName)
	if err != nil {
		return fmt.Errorf("duplicate grain sampling on %s: %w", stageName, err)
	}

	aliases := make([]string, len(spec.Grain))
	for i, g := range spec.Grain {
		aliases[i] = spec.AliasFor(g)
	}

	var msg strings.Builder

	msg.WriteString("Grain values are not unique for file: " + filename + "\n")
	msg.WriteString("Table: " + stageName + "\n")
	msg.WriteString("Grain columns (file column names): " + strings.Join(aliases, ", ") + "\n")
	msg.WriteString("Example duplicate grain violations:")

	for _, sample := range samples {
		msg.WriteString("\n  - " + sample)
	}

	return fmt.Errorf("%w: %s", ErrGrainValidation, msg.String())
}

// grainUniqueSQL renders the uniqueness probe. The single-column form
// compares distinct against total directly; multi-column grains count
// offending groups instead, since multi-column COUNT(DISTINCT ...) is not
// portable.
func grainUniqueSQL(spec *source.Spec, stageName string) string {
	if len(spec.Grain) == 1 {
		return fmt.Sprintf(
			"SELECT CASE WHEN COUNT(DISTINCT %s) = COUNT(*) THEN 1 ELSE 0 END AS grain_unique FROM %s",
			spec.Grain[0], stageName)
	}

	grainList := strings.Join(spec.Grain, ", ")

	return fmt.Sprintf(
		"SELECT CASE WHEN COUNT(*) = 0 THEN 1 ELSE 0 END AS grain_unique FROM ("+
			"SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1) AS dupes",
		grainList, stageName, grainList)
}

// duplicateGrainSQL renders the bounded sample of duplicated grain tuples
// with their occurrence counts, worst first.
func duplicateGrainSQL(d Dialect, spec *source.Spec, stageName string) string {
	grainList := strings.Join(spec.Grain, ", ")

	return fmt.Sprintf(
		"SELECT %s%s, COUNT(*) AS duplicate_count FROM %s GROUP BY %s HAVING COUNT(*) > 1 ORDER BY duplicate_count DESC%s",
		d.topClause(duplicateSampleLimit), grainList, stageName, grainList, d.limitClause(duplicateSampleLimit))
}

// duplicateGrainSamples renders each duplicated tuple as
// "alias: value, ..., duplicate_count: N".
func (s *Store) duplicateGrainSamples(ctx context.Context, spec *source.Spec, stageName string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, duplicateGrainSQL(s.Dialect(), spec, stageName))
	if err != nil {
		return nil, err
	}

	defer func() { _ = rows.Close() }()

	var samples []string

	for rows.Next() {
		scanned := make([]any, len(spec.Grain)+1)
		targets := make([]any, len(scanned))

		for i := range scanned {
			targets[i] = &scanned[i]
		}

		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}

		parts := make([]string, 0, len(scanned))
		for i, g := range spec.Grain {
			parts = append(parts, fmt.Sprintf("%s: %v", spec.AliasFor(g), normalizeScanned(scanned[i])))
		}

		parts = append(parts, fmt.Sprintf("duplicate_count: %v", normalizeScanned(scanned[len(spec.Grain)])))
		samples = append(samples, strings.Join(parts, ", "))
	}

	return samples, rows.Err()
}

// runDeclaredAudit substitutes the stage table into the spec's audit SQL
// and evaluates the single result row: every column must be 1.
func (s *Store) runDeclaredAudit(ctx context.Context, spec *source.Spec, stageName, filename string) error {
	query := strings.TrimSpace(strings.ReplaceAll(spec.AuditSQL, "{table}", stageName))

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("audit query on %s: %w", stageName, err)
	}

	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("audit query on %s: %w", stageName, err)
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("audit query on %s: %w", stageName, err)
		}

		return fmt.Errorf("%w: audit query on %s returned no rows", ErrAuditFailed, stageName)
	}

	scanned := make([]any, len(columns))
	targets := make([]any, len(columns))

	for i := range scanned {
		targets[i] = &scanned[i]
	}

	if err := rows.Scan(targets...); err != nil {
		return fmt.Errorf("audit query on %s: %w", stageName, err)
	}

	var failed []string

	for i, name := range columns {
		if !auditCheckPassed(scanned[i]) {
			failed = append(failed, name)
		}
	}

	if len(failed) == 0 {
		return nil
	}

	msg := fmt.Sprintf("Audit checks failed for file: %s\nTable: %s\nFailed audits: %s",
		filename, stageName, strings.Join(failed, ", "))

	return fmt.Errorf("%w: %s", ErrAuditFailed, msg)
}

// auditCheckPassed interprets one audit column as its 0/1 verdict,
// tolerating the scan types the four drivers produce.
func auditCheckPassed(v any) bool {
	switch value := v.(type) {
	case int64:
		return value != 0
	case bool:
		return value
	case float64:
		return value != 0
	case []byte:
		return strings.TrimSpace(string(value)) != "0"
	case string:
		return strings.TrimSpace(value) != "0"
	default:
		return v != nil
	}
}

// normalizeScanned converts driver byte slices into printable strings.
func normalizeScanned(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}

	return v
}
