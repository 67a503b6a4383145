// Package source declares the file sources the loader knows how to ingest.
//
// A Spec binds a filename pattern to a target table: the declared field
// model, the grain that uniquely identifies a record, optional audit SQL,
// and the format-specific reader options. Specs are immutable values built
// at program start, either from the built-in catalog or from a YAML
// catalog file.
package source

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Format identifies the family of reader a spec needs.
type Format int

const (
	// FormatDelimited covers .csv and .csv.gz files.
	FormatDelimited Format = iota + 1
	// FormatSpreadsheet covers .xlsx and .xls files.
	FormatSpreadsheet
	// FormatDocument covers .json and .json.gz files.
	FormatDocument
)

// String returns the catalog name of the format.
func (f Format) String() string {
	switch f {
	case FormatDelimited:
		return "delimited"
	case FormatSpreadsheet:
		return "spreadsheet"
	case FormatDocument:
		return "document"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Type is the semantic type a field coerces to.
type Type int

const (
	TypeString Type = iota + 1
	TypeInt
	TypeDecimal
	TypeFloat
	TypeBool
	TypeDate
	TypeDateTime
)

// String returns the catalog name of the type.
func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeDecimal:
		return "decimal"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeDate:
		return "date"
	case TypeDateTime:
		return "datetime"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// IsTemporal reports whether the type carries a calendar value.
func (t Type) IsTemporal() bool {
	return t == TypeDate || t == TypeDateTime
}

// Coercion is a declarative value transform applied before type coercion.
type Coercion int

const (
	// CoerceTrim strips leading and trailing whitespace.
	CoerceTrim Coercion = iota + 1
	// CoerceLower lowercases the value.
	CoerceLower
	// CoerceStripNonDigits removes every rune except digits and '+',
	// used for phone-like fields.
	CoerceStripNonDigits
)

// String returns the catalog name of the coercion.
func (c Coercion) String() string {
	switch c {
	case CoerceTrim:
		return "trim"
	case CoerceLower:
		return "lower"
	case CoerceStripNonDigits:
		return "strip_non_digits"
	default:
		return fmt.Sprintf("Coercion(%d)", int(c))
	}
}

// FieldSpec declares one target column and how file values reach it.
type FieldSpec struct {
	// Name is the target column identifier.
	Name string
	// Alias is the file header or document key; empty means Name.
	Alias string
	// Type is the semantic type the raw value is coerced to.
	Type Type
	// Nullable permits empty/missing input, stored as NULL.
	Nullable bool
	// MaxLength bounds string values; 0 means unbounded.
	MaxLength int
	// Coercions run in order on the raw string before type coercion.
	Coercions []Coercion
}

// HeaderAlias returns the header token this field is read from.
func (f FieldSpec) HeaderAlias() string {
	if f.Alias != "" {
		return f.Alias
	}

	return f.Name
}

// Spec declares one ingestable source.
type Spec struct {
	// FilePattern is a glob matched case-insensitively against the bare filename.
	FilePattern string
	// Format selects the reader family.
	Format Format
	// Fields is the ordered declared model.
	Fields []FieldSpec
	// TargetTable is the destination table identifier.
	TargetTable string
	// Grain is the ordered list of field names that uniquely identify a record.
	Grain []string
	// AuditSQL optionally declares a single-row 0/1 check query; the
	// literal {table} placeholder is substituted with the stage table name.
	AuditSQL string
	// ValidationErrorThreshold is the tolerated fraction of failed rows in [0,1].
	ValidationErrorThreshold float64
	// NotificationRecipients are the file-owner addresses for failure mail.
	NotificationRecipients []string

	// Delimited options.
	Delimiter string
	Encoding  string
	// SkipRows data rows are dropped after the header (all formats).
	SkipRows int

	// Spreadsheet options.
	SheetName string

	// Document options.
	ArrayPath string
}

var (
	// ErrInvalidSpec is returned when a Spec fails structural validation.
	ErrInvalidSpec = errors.New("invalid source spec")
)

// identifierPattern bounds table and column names. Field names and target
// tables are rendered into SQL verbatim, so anything outside this set is
// rejected up front.
var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Validate checks the structural invariants of a Spec.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.FilePattern) == "" {
		return fmt.Errorf("%w: file pattern is empty", ErrInvalidSpec)
	}

	if strings.TrimSpace(s.TargetTable) == "" {
		return fmt.Errorf("%w: target table is empty (pattern %q)", ErrInvalidSpec, s.FilePattern)
	}

	if !identifierPattern.MatchString(s.TargetTable) {
		return fmt.Errorf("%w: target table %q is not a valid identifier", ErrInvalidSpec, s.TargetTable)
	}

	switch s.Format {
	case FormatDelimited, FormatSpreadsheet, FormatDocument:
	default:
		return fmt.Errorf("%w: unknown format for %q", ErrInvalidSpec, s.TargetTable)
	}

	if len(s.Fields) == 0 {
		return fmt.Errorf("%w: %q declares no fields", ErrInvalidSpec, s.TargetTable)
	}

	names := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("%w: %q declares a field with no name", ErrInvalidSpec, s.TargetTable)
		}

		if !identifierPattern.MatchString(f.Name) {
			return fmt.Errorf("%w: field %q of %q is not a valid identifier", ErrInvalidSpec, f.Name, s.TargetTable)
		}

		if names[f.Name] {
			return fmt.Errorf("%w: %q declares field %q twice", ErrInvalidSpec, s.TargetTable, f.Name)
		}
		names[f.Name] = true
	}

	if len(s.Grain) == 0 {
		return fmt.Errorf("%w: %q declares no grain", ErrInvalidSpec, s.TargetTable)
	}

	for _, g := range s.Grain {
		if !names[g] {
			return fmt.Errorf("%w: grain column %q of %q is not a declared field", ErrInvalidSpec, g, s.TargetTable)
		}

		if f, ok := s.Field(g); ok && f.Nullable {
			return fmt.Errorf("%w: grain column %q of %q cannot be nullable", ErrInvalidSpec, g, s.TargetTable)
		}
	}

	if s.ValidationErrorThreshold < 0 || s.ValidationErrorThreshold > 1 {
		return fmt.Errorf("%w: validation error threshold of %q must be within [0,1]", ErrInvalidSpec, s.TargetTable)
	}

	return nil
}

// Field returns the declared field with the given name.
func (s *Spec) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}

	return FieldSpec{}, false
}

// AliasFor returns the file header token for a field name, falling back to
// the name itself when the field is unknown. Used to render errors in the
// vocabulary the file owner sees.
func (s *Spec) AliasFor(name string) string {
	if f, ok := s.Field(name); ok {
		return f.HeaderAlias()
	}

	return name
}

// AliasIndex maps each lowercased header alias to its field spec.
func (s *Spec) AliasIndex() map[string]FieldSpec {
	index := make(map[string]FieldSpec, len(s.Fields))
	for _, f := range s.Fields {
		index[strings.ToLower(f.HeaderAlias())] = f
	}

	return index
}

// GrainSet returns the grain as a membership set.
func (s *Spec) GrainSet() map[string]bool {
	set := make(map[string]bool, len(s.Grain))
	for _, g := range s.Grain {
		set[g] = true
	}

	return set
}

// ColumnNames returns the declared field names in declaration order.
func (s *Spec) ColumnNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}

	return names
}

// ParseType parses a catalog type token, including the optional<T> wrapper.
// The second return reports nullability, the third whether the token was
// recognized.
func ParseType(token string) (Type, bool, bool) {
	token = strings.ToLower(strings.TrimSpace(token))

	nullable := false
	if strings.HasPrefix(token, "optional<") && strings.HasSuffix(token, ">") {
		nullable = true
		token = strings.TrimSuffix(strings.TrimPrefix(token, "optional<"), ">")
	}

	switch token {
	case "string":
		return TypeString, nullable, true
	case "int":
		return TypeInt, nullable, true
	case "decimal":
		return TypeDecimal, nullable, true
	case "float":
		return TypeFloat, nullable, true
	case "bool":
		return TypeBool, nullable, true
	case "date":
		return TypeDate, nullable, true
	case "datetime":
		return TypeDateTime, nullable, true
	default:
		return 0, false, false
	}
}

// ParseCoercion parses a catalog coercion token.
func ParseCoercion(token string) (Coercion, bool) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "trim":
		return CoerceTrim, true
	case "lower":
		return CoerceLower, true
	case "strip_non_digits":
		return CoerceStripNonDigits, true
	default:
		return 0, false
	}
}

// ParseFormat parses a catalog format token.
func ParseFormat(token string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "delimited", "csv":
		return FormatDelimited, true
	case "spreadsheet", "excel":
		return FormatSpreadsheet, true
	case "document", "json":
		return FormatDocument, true
	default:
		return 0, false
	}
}
