package reader

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/fileloader-io/fileloader/internal/source"
)

// documentReader yields flattened objects extracted from a JSON document at
// a configured array path. The document is parsed up front; laziness applies
// to flattening and emission only.
type documentReader struct {
	items []any
	pos   int
	skip  int
}

var _ RecordReader = (*documentReader)(nil)

func openDocument(path, ext string, spec *source.Spec) (RecordReader, error) {
	file, err := os.Open(path) //nolint:gosec // path comes from the scanned intake directory
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	var stream io.Reader = file

	closers := []io.Closer{file}

	if strings.HasSuffix(ext, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			closeAll(closers)
			return nil, fmt.Errorf("open gzip stream %s: %w", path, err)
		}

		closers = append([]io.Closer{gz}, closers...)
		stream = gz
	}

	data, err := io.ReadAll(stream)

	if closeErr := closeAll(closers); err == nil && closeErr != nil {
		err = closeErr
	}

	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	name := filepath.Base(path)

	doc, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s file %q: %w", strings.ToUpper(ext), name, err)
	}

	items, err := elementsAt(doc, spec.ArrayPath)
	if err != nil {
		return nil, fmt.Errorf("file %q: %w", name, err)
	}

	if len(items) == 0 {
		return nil, missingHeaderError(name, "no records found at array path "+strconv.Quote(spec.ArrayPath), spec)
	}

	first, ok := items[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("file %q: array path %q yields %T records, want objects",
			name, spec.ArrayPath, items[0])
	}

	headers := make([]string, 0, len(first))
	for key := range flattenDocument(first) {
		headers = append(headers, key)
	}

	if err := checkHeaderCoverage(name, ext, spec, headers); err != nil {
		return nil, err
	}

	return &documentReader{items: items, skip: spec.SkipRows}, nil
}

func (r *documentReader) Read() (RawRecord, error) {
	for r.pos < len(r.items) {
		item := r.items[r.pos]
		r.pos++

		if r.skip > 0 {
			r.skip--
			continue
		}

		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record %d is %T, want object", r.pos, item)
		}

		return flattenDocument(obj), nil
	}

	return nil, io.EOF
}

func (r *documentReader) Close() error {
	return nil
}

// elementsAt extracts the record array addressed by arrayPath. A path
// beginning with "$" is treated as a full JSONPath expression; otherwise
// dotted segments descend into objects and the segment "item" selects the
// elements of the array at that position ("entries.item" yields the
// elements of the array under the "entries" key, bare "item" the elements
// of a top-level array).
func elementsAt(doc any, arrayPath string) ([]any, error) {
	expr, err := jp.ParseString(translateArrayPath(arrayPath))
	if err != nil {
		return nil, fmt.Errorf("invalid array path %q: %w", arrayPath, err)
	}

	matches := expr.Get(doc)

	// One level of list nesting is tolerated so a path addressing an
	// array-of-arrays still yields leaf records.
	items := make([]any, 0, len(matches))

	for _, match := range matches {
		if list, ok := match.([]any); ok {
			items = append(items, list...)
			continue
		}

		items = append(items, match)
	}

	return items, nil
}

func translateArrayPath(arrayPath string) string {
	trimmed := strings.TrimSpace(arrayPath)
	if strings.HasPrefix(trimmed, "$") {
		return trimmed
	}

	var b strings.Builder

	b.WriteString("$")

	if trimmed == "" {
		b.WriteString("[*]")
		return b.String()
	}

	for _, segment := range strings.Split(trimmed, ".") {
		if segment == "item" {
			b.WriteString("[*]")
			continue
		}

		b.WriteString(".")
		b.WriteString(segment)
	}

	return b.String()
}

// flattenDocument flattens nested objects into a single-level record with
// "_"-separated, lowercased keys. Arrays of objects flatten with positional
// indices; arrays of scalars collapse to one underscore-joined string.
func flattenDocument(obj map[string]any) RawRecord {
	out := make(RawRecord, len(obj))
	flattenInto(out, "", obj)

	return out
}

func flattenInto(out RawRecord, prefix string, obj map[string]any) {
	for k, v := range obj {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "_" + key
		}

		switch val := v.(type) {
		case map[string]any:
			flattenInto(out, key, val)
		case []any:
			flattenList(out, key, val)
		default:
			out[key] = v
		}
	}
}

func flattenList(out RawRecord, key string, list []any) {
	if len(list) == 0 {
		out[key] = ""
		return
	}

	if _, ok := list[0].(map[string]any); ok {
		for i, item := range list {
			indexed := key + "_" + strconv.Itoa(i)

			if obj, ok := item.(map[string]any); ok {
				flattenInto(out, indexed, obj)
			} else {
				out[indexed] = item
			}
		}

		return
	}

	parts := make([]string, len(list))
	for i, item := range list {
		parts[i] = renderScalar(item)
	}

	out[key] = strings.Join(parts, "_")
}

func renderScalar(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
