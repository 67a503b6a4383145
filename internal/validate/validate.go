// Package validate coerces raw file records into typed rows ready for
// staging. Each record is projected onto the declared fields, coerced to
// its semantic type, and either emitted as a ValidRow carrying the content
// hash or diverted into a FailedRow with structured error descriptors.
package validate

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/fileloader-io/fileloader/internal/source"
)

// ValidRow is a coerced record plus the ETL columns attached on success.
type ValidRow struct {
	Values   map[string]any
	Hash     []byte
	Filename string
	RunLogID int64
}

// FailedRow captures one rejected record: its 1-based position in the
// file, the original values of the failing and grain fields, and one
// descriptor per failed column.
type FailedRow struct {
	RowNumber int
	Record    map[string]any
	Errors    []ErrorDescriptor
}

// ErrorDescriptor names a failing column in file terms (header alias) so
// data owners can locate the cell without knowing target column names.
type ErrorDescriptor struct {
	ColumnName   string `json:"column_name"`
	ColumnValue  any    `json:"column_value"`
	ErrorKind    string `json:"error_kind"`
	ErrorMessage string `json:"error_message"`
}

const (
	kindMissing         = "missing"
	kindIntParsing      = "int_parsing"
	kindDecimalParsing  = "decimal_parsing"
	kindFloatParsing    = "float_parsing"
	kindBoolParsing     = "bool_parsing"
	kindDateParsing     = "date_parsing"
	kindDateTimeParsing = "datetime_parsing"
	kindStringTooLong   = "string_too_long"
)

// Validator coerces records for one file. It is pure and streaming: each
// Validate call inspects a single record and buffers nothing.
type Validator struct {
	spec     *source.Spec
	filename string
	runLogID int64
}

func New(spec *source.Spec, filename string, runLogID int64) *Validator {
	return &Validator{spec: spec, filename: filename, runLogID: runLogID}
}

// Validate coerces one record. Exactly one return value is non-nil.
func (v *Validator) Validate(rowNumber int, record map[string]any) (*ValidRow, *FailedRow) {
	values := make(map[string]any, len(v.spec.Fields))

	var (
		failures    []ErrorDescriptor
		failedNames map[string]bool
	)

	for _, field := range v.spec.Fields {
		raw := record[strings.ToLower(field.HeaderAlias())]

		value, desc := coerceField(field, raw)
		if desc != nil {
			failures = append(failures, *desc)

			if failedNames == nil {
				failedNames = make(map[string]bool)
			}

			failedNames[field.Name] = true

			continue
		}

		values[field.Name] = value
	}

	if len(failures) > 0 {
		return nil, &FailedRow{
			RowNumber: rowNumber,
			Record:    v.failureContext(record, failedNames),
			Errors:    failures,
		}
	}

	return &ValidRow{
		Values:   values,
		Hash:     RowHash(values),
		Filename: v.filename,
		RunLogID: v.runLogID,
	}, nil
}

// failureContext restricts the original record to the failing fields plus
// the grain fields, keyed as they appeared in the file.
func (v *Validator) failureContext(record map[string]any, failedNames map[string]bool) map[string]any {
	include := make(map[string]bool, len(failedNames)+len(v.spec.Grain))

	for name := range failedNames {
		include[name] = true
	}

	for _, name := range v.spec.Grain {
		include[name] = true
	}

	subset := make(map[string]any, len(include))

	for _, field := range v.spec.Fields {
		if !include[field.Name] {
			continue
		}

		alias := strings.ToLower(field.HeaderAlias())
		if value, ok := record[alias]; ok {
			subset[alias] = value
		}
	}

	return subset
}

// coerceField applies the declared string coercions and type conversion to
// one value. A nil value, or a value that is blank after coercion, becomes
// NULL for nullable fields and a "missing" failure otherwise; string fields
// keep empty strings as values.
func coerceField(field source.FieldSpec, raw any) (any, *ErrorDescriptor) {
	value := raw

	if s, ok := value.(string); ok {
		value = applyCoercions(s, field.Coercions)
	}

	if value == nil || (field.Type != source.TypeString && isBlank(value)) {
		if field.Nullable {
			return nil, nil
		}

		return nil, fail(field, raw, kindMissing, "field is required")
	}

	switch field.Type {
	case source.TypeString:
		s := stringify(value)
		if field.MaxLength > 0 && utf8.RuneCountInString(s) > field.MaxLength {
			return nil, fail(field, raw, kindStringTooLong,
				fmt.Sprintf("value exceeds %d characters", field.MaxLength))
		}

		return s, nil

	case source.TypeInt:
		n, ok := coerceInt(value)
		if !ok {
			return nil, fail(field, raw, kindIntParsing, "value is not a valid integer")
		}

		return n, nil

	case source.TypeDecimal:
		d, ok := coerceDecimal(value)
		if !ok {
			return nil, fail(field, raw, kindDecimalParsing, "value is not a valid decimal")
		}

		return d, nil

	case source.TypeFloat:
		f, ok := coerceFloat(value)
		if !ok {
			return nil, fail(field, raw, kindFloatParsing, "value is not a valid number")
		}

		return f, nil

	case source.TypeBool:
		b, ok := coerceBool(value)
		if !ok {
			return nil, fail(field, raw, kindBoolParsing, "value is not a valid boolean")
		}

		return b, nil

	case source.TypeDate:
		ts, ok := coerceTime(value)
		if !ok {
			return nil, fail(field, raw, kindDateParsing, "value is not a valid date")
		}

		year, month, day := ts.Date()

		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), nil

	default: // source.TypeDateTime
		ts, ok := coerceTime(value)
		if !ok {
			return nil, fail(field, raw, kindDateTimeParsing, "value is not a valid datetime")
		}

		return ts, nil
	}
}

func fail(field source.FieldSpec, raw any, kind, message string) *ErrorDescriptor {
	return &ErrorDescriptor{
		ColumnName:   field.HeaderAlias(),
		ColumnValue:  raw,
		ErrorKind:    kind,
		ErrorMessage: message,
	}
}

func applyCoercions(s string, coercions []source.Coercion) string {
	for _, c := range coercions {
		switch c {
		case source.CoerceTrim:
			s = strings.TrimSpace(s)
		case source.CoerceLower:
			s = strings.ToLower(s)
		case source.CoerceStripNonDigits:
			s = stripNonDigits(s)
		}
	}

	return s
}

// stripNonDigits drops every rune except decimal digits and '+', keeping
// international phone prefixes intact.
func stripNonDigits(s string) string {
	var b strings.Builder

	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}

	return b.String()
}

func isBlank(value any) bool {
	s, ok := value.(string)
	return ok && strings.TrimSpace(s) == ""
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return v.Format(time.DateTime)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func coerceInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if math.IsInf(v, 0) || math.IsNaN(v) || v != math.Trunc(v) {
			return 0, false
		}

		return int64(v), true
	case string:
		trimmed := strings.TrimSpace(v)

		if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return n, true
		}

		// Tolerate integral float renderings such as "3.0".
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}

		return 0, false
	default:
		return 0, false
	}
}

func coerceDecimal(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(v), true
	case int64:
		return decimal.NewFromInt(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	default:
		return decimal.Decimal{}, false
	}
}

func coerceFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func coerceBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case int64:
		return boolFromNumber(float64(v))
	case float64:
		return boolFromNumber(v)
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "t", "yes", "y", "on", "1":
			return true, true
		case "false", "f", "no", "n", "off", "0":
			return false, true
		default:
			return false, false
		}
	default:
		return false, false
	}
}

func boolFromNumber(v float64) (bool, bool) {
	switch v {
	case 0:
		return false, true
	case 1:
		return true, true
	default:
		return false, false
	}
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.DateTime,
	time.DateOnly,
}

func coerceTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		trimmed := strings.TrimSpace(v)

		for _, layout := range timeLayouts {
			if ts, err := time.ParseInLocation(layout, trimmed, time.UTC); err == nil {
				return ts.UTC(), true
			}
		}

		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}
