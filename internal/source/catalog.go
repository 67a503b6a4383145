package source

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidCatalog is returned when a YAML catalog file cannot be used.
var ErrInvalidCatalog = errors.New("invalid source catalog")

//nolint:tagliatelle // snake_case is intentional for YAML config files
type catalogFile struct {
	Sources []catalogSpec `yaml:"sources"`
}

//nolint:tagliatelle // snake_case is intentional for YAML config files
type catalogSpec struct {
	FilePattern              string         `yaml:"file_pattern"`
	Format                   string         `yaml:"format"`
	TargetTable              string         `yaml:"target_table"`
	Grain                    []string       `yaml:"grain"`
	AuditSQL                 string         `yaml:"audit_sql"`
	ValidationErrorThreshold float64        `yaml:"validation_error_threshold"`
	NotificationRecipients   []string       `yaml:"notification_recipients"`
	Delimiter                string         `yaml:"delimiter"`
	Encoding                 string         `yaml:"encoding"`
	SkipRows                 int            `yaml:"skip_rows"`
	SheetName                string         `yaml:"sheet_name"`
	ArrayPath                string         `yaml:"array_path"`
	Fields                   []catalogField `yaml:"fields"`
}

//nolint:tagliatelle // snake_case is intentional for YAML config files
type catalogField struct {
	Name      string   `yaml:"name"`
	Alias     string   `yaml:"alias"`
	Type      string   `yaml:"type"`
	Nullable  bool     `yaml:"nullable"`
	MaxLength int      `yaml:"max_length"`
	Coercions []string `yaml:"coercions"`
}

// LoadCatalog reads extra source specs from a YAML catalog file. Unlike
// optional feature config, a catalog path is explicit operator intent, so
// a missing or malformed file is an error.
func LoadCatalog(path string) ([]*Spec, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrInvalidCatalog, path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrInvalidCatalog, path, err)
	}

	specs := make([]*Spec, 0, len(file.Sources))

	for _, raw := range file.Sources {
		spec, err := raw.toSpec()
		if err != nil {
			return nil, err
		}

		specs = append(specs, spec)
	}

	return specs, nil
}

func (c catalogSpec) toSpec() (*Spec, error) {
	format, ok := ParseFormat(c.Format)
	if !ok {
		return nil, fmt.Errorf("%w: %q declares unknown format %q", ErrInvalidCatalog, c.TargetTable, c.Format)
	}

	fields := make([]FieldSpec, 0, len(c.Fields))

	for _, raw := range c.Fields {
		typ, nullable, ok := ParseType(raw.Type)
		if !ok {
			return nil, fmt.Errorf("%w: field %q of %q declares unknown type %q",
				ErrInvalidCatalog, raw.Name, c.TargetTable, raw.Type)
		}

		coercions := make([]Coercion, 0, len(raw.Coercions))
		for _, token := range raw.Coercions {
			coercion, ok := ParseCoercion(token)
			if !ok {
				return nil, fmt.Errorf("%w: field %q of %q declares unknown coercion %q",
					ErrInvalidCatalog, raw.Name, c.TargetTable, token)
			}

			coercions = append(coercions, coercion)
		}

		fields = append(fields, FieldSpec{
			Name:      raw.Name,
			Alias:     raw.Alias,
			Type:      typ,
			Nullable:  nullable || raw.Nullable,
			MaxLength: raw.MaxLength,
			Coercions: coercions,
		})
	}

	spec := &Spec{
		FilePattern:              c.FilePattern,
		Format:                   format,
		Fields:                   fields,
		TargetTable:              c.TargetTable,
		Grain:                    c.Grain,
		AuditSQL:                 c.AuditSQL,
		ValidationErrorThreshold: c.ValidationErrorThreshold,
		NotificationRecipients:   c.NotificationRecipients,
		Delimiter:                c.Delimiter,
		Encoding:                 c.Encoding,
		SkipRows:                 c.SkipRows,
		SheetName:                c.SheetName,
		ArrayPath:                c.ArrayPath,
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}

	return spec, nil
}
