package reader

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/fileloader-io/fileloader/internal/source"
)

// delimitedReader streams rows from a CSV-style file, optionally through a
// gzip decompressor and a charset decoder.
type delimitedReader struct {
	rows    *csv.Reader
	headers []string
	skip    int
	closers []io.Closer
}

var _ RecordReader = (*delimitedReader)(nil)

func openDelimited(path, ext string, spec *source.Spec) (RecordReader, error) {
	file, err := os.Open(path) //nolint:gosec // path comes from the scanned intake directory
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	closers := []io.Closer{file}

	var stream io.Reader = file

	if strings.HasSuffix(ext, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			closeAll(closers)
			return nil, fmt.Errorf("open gzip stream %s: %w", path, err)
		}

		// Prepend so Close releases the decompressor before the file.
		closers = append([]io.Closer{gz}, closers...)
		stream = gz
	}

	decoded, err := decodeCharset(stream, spec.Encoding)
	if err != nil {
		closeAll(closers)
		return nil, err
	}

	rows := csv.NewReader(decoded)
	rows.FieldsPerRecord = -1
	rows.LazyQuotes = true

	if spec.Delimiter != "" {
		rows.Comma = []rune(spec.Delimiter)[0]
	}

	name := filepath.Base(path)

	header, err := rows.Read()
	if err == io.EOF {
		closeAll(closers)
		return nil, missingHeaderError(name, "no header row found", spec)
	}

	if err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}

	if allBlank(header) {
		closeAll(closers)
		return nil, missingHeaderError(name, "header row is blank", spec)
	}

	if err := checkHeaderCoverage(name, ext, spec, header); err != nil {
		closeAll(closers)
		return nil, err
	}

	headers := make([]string, len(header))
	for i, token := range header {
		headers[i] = strings.ToLower(token)
	}

	return &delimitedReader{
		rows:    rows,
		headers: headers,
		skip:    spec.SkipRows,
		closers: closers,
	}, nil
}

func (r *delimitedReader) Read() (RawRecord, error) {
	for {
		row, err := r.rows.Read()
		if err != nil {
			return nil, err
		}

		if r.skip > 0 {
			r.skip--
			continue
		}

		record := make(RawRecord, len(r.headers))

		for i, header := range r.headers {
			if strings.TrimSpace(header) == "" {
				continue
			}

			if i < len(row) {
				record[header] = row[i]
			} else {
				record[header] = nil
			}
		}

		return record, nil
	}
}

func (r *delimitedReader) Close() error {
	return closeAll(r.closers)
}

// decodeCharset wraps r with a decoder for the configured text encoding.
// UTF-8 input passes through untouched.
func decodeCharset(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf-8", "utf8":
		return r, nil
	case "latin-1", "latin1", "iso-8859-1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder()), nil
	case "windows-1252", "cp1252":
		return transform.NewReader(r, charmap.Windows1252.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, encoding)
	}
}

func closeAll(closers []io.Closer) error {
	var first error

	for _, c := range closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}

	return first
}
