package source

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	// ErrNoMatch is returned when no declared source matches a filename.
	// Callers skip the file with a warning; this is not a failure.
	ErrNoMatch = errors.New("no source matches file")

	// ErrAmbiguousMatch is returned when more than one source matches a
	// filename. This is a configuration error and fails the file.
	ErrAmbiguousMatch = errors.New("multiple sources match file")

	// ErrDuplicateTarget is returned when two specs declare the same target table.
	ErrDuplicateTarget = errors.New("duplicate target table")
)

// Registry holds every declared Spec and resolves filenames to exactly one.
type Registry struct {
	specs []*Spec
}

// NewRegistry validates the given specs and builds a Registry over them.
func NewRegistry(specs ...*Spec) (*Registry, error) {
	targets := make(map[string]string, len(specs))

	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}

		if prev, ok := targets[spec.TargetTable]; ok {
			return nil, fmt.Errorf("%w: %q declared by both %q and %q",
				ErrDuplicateTarget, spec.TargetTable, prev, spec.FilePattern)
		}
		targets[spec.TargetTable] = spec.FilePattern
	}

	return &Registry{specs: specs}, nil
}

// Match resolves a path to the single Spec whose pattern matches its bare
// filename, case-insensitively. More than one match returns
// ErrAmbiguousMatch naming every matching target table; zero matches
// returns ErrNoMatch.
func (r *Registry) Match(path string) (*Spec, error) {
	name := strings.ToLower(filepath.Base(path))

	var matches []*Spec

	for _, spec := range r.specs {
		ok, err := doublestar.Match(strings.ToLower(spec.FilePattern), name)
		if err != nil {
			return nil, fmt.Errorf("%w: bad pattern %q: %w", ErrInvalidSpec, spec.FilePattern, err)
		}

		if ok {
			matches = append(matches, spec)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNoMatch, filepath.Base(path))
	case 1:
		return matches[0], nil
	default:
		tables := make([]string, len(matches))
		for i, m := range matches {
			tables[i] = m.TargetTable
		}

		return nil, fmt.Errorf("%w: %s matches %s", ErrAmbiguousMatch, filepath.Base(path), strings.Join(tables, ", "))
	}
}

// Specs returns every registered spec in declaration order.
func (r *Registry) Specs() []*Spec {
	return r.specs
}
