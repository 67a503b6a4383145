package reader

import (
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/fileloader-io/fileloader/internal/source"
)

// Serial date cells count days from this epoch; day 60 is the phantom
// 1900-02-29 of the original Lotus bug, which the -2 day offset absorbs.
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

const secondsPerDay = 86400

// spreadsheetReader adapts a workbook row iterator to the RecordReader
// contract. XLSX workbooks stream row by row; legacy XLS workbooks are
// materialized by the parser and iterated in place.
type spreadsheetReader struct {
	headers  []string
	temporal map[int]bool
	next     func() ([]string, bool, error)
	closer   func() error
	skip     int
}

var _ RecordReader = (*spreadsheetReader)(nil)

func openSpreadsheet(path, ext string, spec *source.Spec) (RecordReader, error) {
	if ext == ".xls" {
		return openXLS(path, ext, spec)
	}

	return openXLSX(path, ext, spec)
}

func openXLSX(path, ext string, spec *source.Spec) (RecordReader, error) {
	book, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}

	name := filepath.Base(path)

	sheet, err := resolveSheet(book, spec.SheetName)
	if err != nil {
		_ = book.Close()
		return nil, fmt.Errorf("workbook %s: %w", name, err)
	}

	rows, err := book.Rows(sheet)
	if err != nil {
		_ = book.Close()
		return nil, fmt.Errorf("iterate sheet %q of %s: %w", sheet, path, err)
	}

	// Raw values keep serial date cells numeric instead of locale-formatted.
	opts := excelize.Options{RawCellValue: true}

	closer := func() error {
		_ = rows.Close()
		return book.Close()
	}

	if !rows.Next() {
		_ = closer()
		return nil, missingHeaderError(name, "sheet has no rows", spec)
	}

	header, err := rows.Columns(opts)
	if err != nil {
		_ = closer()
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}

	reader, err := newSpreadsheetReader(name, ext, spec, header, func() ([]string, bool, error) {
		if !rows.Next() {
			return nil, false, rows.Error()
		}

		cells, err := rows.Columns(opts)
		if err != nil {
			return nil, false, err
		}

		return cells, true, nil
	}, closer)
	if err != nil {
		_ = closer()
		return nil, err
	}

	return reader, nil
}

func openXLS(path, ext string, spec *source.Spec) (RecordReader, error) {
	book, bookCloser, err := xls.OpenWithCloser(path, "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}

	name := filepath.Base(path)

	sheet, err := resolveXLSSheet(book, spec.SheetName)
	if err != nil {
		_ = bookCloser.Close()
		return nil, fmt.Errorf("workbook %s: %w", name, err)
	}

	headerRow := sheet.Row(0)
	if headerRow == nil {
		_ = bookCloser.Close()
		return nil, missingHeaderError(name, "sheet has no rows", spec)
	}

	header := xlsRowCells(headerRow)

	cursor := 1
	next := func() ([]string, bool, error) {
		for cursor <= int(sheet.MaxRow) {
			row := sheet.Row(cursor)
			cursor++

			if row == nil {
				continue
			}

			return xlsRowCells(row), true, nil
		}

		return nil, false, nil
	}

	reader, err := newSpreadsheetReader(name, ext, spec, header, next, bookCloser.Close)
	if err != nil {
		_ = bookCloser.Close()
		return nil, err
	}

	return reader, nil
}

// newSpreadsheetReader validates the header row and indexes which columns
// hold date/datetime fields so serial cells can be converted on read.
func newSpreadsheetReader(
	name, ext string,
	spec *source.Spec,
	header []string,
	next func() ([]string, bool, error),
	closer func() error,
) (*spreadsheetReader, error) {
	if headerUnusable(header) {
		return nil, missingHeaderError(name, "header row is blank or placeholder", spec)
	}

	if err := checkHeaderCoverage(name, ext, spec, header); err != nil {
		return nil, err
	}

	headers := make([]string, len(header))
	temporal := make(map[int]bool)

	index := spec.AliasIndex()

	for i, token := range header {
		headers[i] = strings.ToLower(token)

		if field, ok := index[headers[i]]; ok && field.Type.IsTemporal() {
			temporal[i] = true
		}
	}

	return &spreadsheetReader{
		headers:  headers,
		temporal: temporal,
		next:     next,
		closer:   closer,
		skip:     spec.SkipRows,
	}, nil
}

func (r *spreadsheetReader) Read() (RawRecord, error) {
	for {
		cells, ok, err := r.next()
		if err != nil {
			return nil, err
		}

		if !ok {
			return nil, io.EOF
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

			if i >= len(cells) {
				record[header] = nil
				continue
			}

			var value any = cells[i]

			if r.temporal[i] {
				if serial, err := strconv.ParseFloat(strings.TrimSpace(cells[i]), 64); err == nil {
					value = serialToTime(serial)
				}
			}

			record[header] = value
		}

		return record, nil
	}
}

func (r *spreadsheetReader) Close() error {
	return r.closer()
}

// serialToTime converts a spreadsheet serial number to UTC time: integer
// part counts days from the 1899-12-30 epoch, fractional part is the
// fraction of a day in seconds.
func serialToTime(serial float64) time.Time {
	days := math.Floor(serial)
	seconds := math.Round((serial - days) * secondsPerDay)

	return serialEpoch.AddDate(0, 0, int(days)).Add(time.Duration(seconds) * time.Second)
}

// headerUnusable reports whether every header cell is blank or a default
// placeholder name such as "-1" or "-2" produced for missing headers.
func headerUnusable(cells []string) bool {
	if len(cells) == 0 {
		return true
	}

	for _, cell := range cells {
		trimmed := strings.TrimSpace(cell)
		if trimmed == "" {
			continue
		}

		if digitsOnly(strings.TrimPrefix(trimmed, "-")) {
			continue
		}

		return false
	}

	return true
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

func resolveSheet(book *excelize.File, want string) (string, error) {
	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return "", fmt.Errorf("workbook has no sheets")
	}

	if want == "" {
		return sheets[0], nil
	}

	for _, sheet := range sheets {
		if sheet == want {
			return sheet, nil
		}
	}

	return "", fmt.Errorf("sheet %q not found (have: %s)", want, strings.Join(sheets, ", "))
}

func resolveXLSSheet(book *xls.WorkBook, want string) (*xls.WorkSheet, error) {
	if book.NumSheets() == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	if want == "" {
		sheet := book.GetSheet(0)
		if sheet == nil {
			return nil, fmt.Errorf("workbook has no sheets")
		}

		return sheet, nil
	}

	for i := 0; i < book.NumSheets(); i++ {
		if sheet := book.GetSheet(i); sheet != nil && sheet.Name == want {
			return sheet, nil
		}
	}

	return nil, fmt.Errorf("sheet %q not found", want)
}

func xlsRowCells(row *xls.Row) []string {
	cells := make([]string, 0, row.LastCol())
	for i := 0; i < row.LastCol(); i++ {
		cells = append(cells, row.Col(i))
	}

	return cells
}
