// Package reader produces lazy streams of raw records from intake files.
//
// A reader is selected by file extension, with stacked compressed suffixes
// (".csv.gz", ".json.gz") recognized ahead of the bare ".gz". Opening a
// reader validates the header row: an absent or all-blank header fails with
// ErrMissingHeader, and a header that does not cover every declared field
// alias fails with ErrMissingColumns. Record keys are the file's header
// tokens, lowercased.
package reader

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fileloader-io/fileloader/internal/source"
)

var (
	// ErrMissingHeader indicates the file has no usable header row.
	ErrMissingHeader = errors.New("missing header")

	// ErrMissingColumns indicates the header does not cover every declared alias.
	ErrMissingColumns = errors.New("missing columns")

	// ErrUnsupportedExtension indicates the file suffix maps to no known reader.
	ErrUnsupportedExtension = errors.New("unsupported file extension")

	// ErrFormatMismatch indicates the file suffix disagrees with the source format.
	ErrFormatMismatch = errors.New("file extension does not match source format")

	// ErrUnsupportedEncoding indicates an unknown text encoding was configured.
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
)

// RawRecord maps lowercased file header tokens to cell values. Values are
// strings for delimited and spreadsheet sources (except spreadsheet serial
// dates, which arrive as time.Time) and native JSON scalars for documents.
type RawRecord map[string]any

// RecordReader yields the records of one file in file order, exactly once.
// Read returns io.EOF after the last record. The sequence is not restartable.
type RecordReader interface {
	Read() (RawRecord, error)
	Close() error
}

var extensionFormats = map[string]source.Format{
	".csv":     source.FormatDelimited,
	".csv.gz":  source.FormatDelimited,
	".xlsx":    source.FormatSpreadsheet,
	".xls":     source.FormatSpreadsheet,
	".json":    source.FormatDocument,
	".json.gz": source.FormatDocument,
}

// Extension returns the recognized suffix of name, preferring a stacked
// compressed suffix such as ".csv.gz" over the bare ".gz". The result is
// lowercased; an unrecognized stacked suffix falls back to the last suffix.
func Extension(name string) string {
	lowered := strings.ToLower(filepath.Base(name))

	ext := filepath.Ext(lowered)
	if ext == "" {
		return ""
	}

	stem := strings.TrimSuffix(lowered, ext)
	if inner := filepath.Ext(stem); inner != "" {
		if _, ok := extensionFormats[inner+ext]; ok {
			return inner + ext
		}
	}

	return ext
}

// IsSupported reports whether name carries a suffix a reader exists for.
func IsSupported(name string) bool {
	_, ok := extensionFormats[Extension(name)]
	return ok
}

// SupportedExtensions lists every recognized suffix in sorted order.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extensionFormats))
	for ext := range extensionFormats {
		exts = append(exts, ext)
	}

	sort.Strings(exts)

	return exts
}

// Open selects a reader for path by extension and validates its header
// against spec. The returned reader must be closed by the caller.
func Open(path string, spec *source.Spec) (RecordReader, error) {
	name := filepath.Base(path)

	ext := Extension(name)

	format, ok := extensionFormats[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %s)",
			ErrUnsupportedExtension, ext, strings.Join(SupportedExtensions(), ", "))
	}

	if format != spec.Format {
		return nil, fmt.Errorf("%w: source %q expects %s input, got %s file %q",
			ErrFormatMismatch, spec.TargetTable, spec.Format, ext, name)
	}

	switch format {
	case source.FormatDelimited:
		return openDelimited(path, ext, spec)
	case source.FormatSpreadsheet:
		return openSpreadsheet(path, ext, spec)
	default:
		return openDocument(path, ext, spec)
	}
}

// requiredAliases returns the declared header aliases in sorted display form.
func requiredAliases(spec *source.Spec) []string {
	aliases := make([]string, 0, len(spec.Fields))
	for _, field := range spec.Fields {
		aliases = append(aliases, field.HeaderAlias())
	}

	sort.Strings(aliases)

	return aliases
}

func missingHeaderError(name, detail string, spec *source.Spec) error {
	return fmt.Errorf("%w: %s in file %q (required fields: %s)",
		ErrMissingHeader, detail, name, strings.Join(requiredAliases(spec), ", "))
}

// checkHeaderCoverage compares observed header tokens against the declared
// aliases, both lowercased. Any absent alias fails the open.
func checkHeaderCoverage(name, ext string, spec *source.Spec, observed []string) error {
	seen := make(map[string]bool, len(observed))
	for _, token := range observed {
		seen[strings.ToLower(token)] = true
	}

	var missing []string

	for _, field := range spec.Fields {
		alias := field.HeaderAlias()
		if !seen[strings.ToLower(alias)] {
			missing = append(missing, alias)
		}
	}

	if len(missing) == 0 {
		return nil
	}

	sort.Strings(missing)

	return fmt.Errorf("%w: %s file %q: required fields: %s; missing fields: %s",
		ErrMissingColumns, strings.ToUpper(ext), name,
		strings.Join(requiredAliases(spec), ", "), strings.Join(missing, ", "))
}

func allBlank(cells []string) bool {
	for _, cell := range cells {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}

	return true
}
