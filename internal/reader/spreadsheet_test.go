package reader

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/fileloader-io/fileloader/internal/source"
)

func xlsxSpec() *source.Spec {
	return &source.Spec{
		FilePattern: "inventory_*.xlsx",
		Format:      source.FormatSpreadsheet,
		TargetTable: "products",
		Grain:       []string{"sku"},
		Fields: []source.FieldSpec{
			{Name: "sku", Alias: "SKU", Type: source.TypeString},
			{Name: "price", Alias: "Price", Type: source.TypeDecimal},
			{Name: "last_updated", Alias: "Last Updated", Type: source.TypeDateTime},
		},
	}
}

func writeWorkbook(t *testing.T, name string, rows ...[]any) string {
	t.Helper()

	book := excelize.NewFile()

	defer book.Close()

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, book.SetSheetRow("Sheet1", cell, &row))
	}

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, book.SaveAs(path))

	return path
}

func TestSpreadsheet_HappyPath(t *testing.T) {
	path := writeWorkbook(t, "inventory_2024.xlsx",
		[]any{"SKU", "Price", "Last Updated"},
		[]any{"ABC-1", 9.99, "2024-01-15 12:00:00"},
		[]any{"ABC-2", 5.25, "2024-01-16 08:30:00"},
	)

	r, err := Open(path, xlsxSpec())
	require.NoError(t, err)

	defer r.Close()

	records := readAll(t, r)

	require.Len(t, records, 2)
	assert.Equal(t, "ABC-1", records[0]["sku"])
	assert.Equal(t, "9.99", records[0]["price"])
	// Non-numeric values in temporal columns pass through untouched.
	assert.Equal(t, "2024-01-15 12:00:00", records[0]["last updated"])
}

func TestSpreadsheet_SerialDatesConverted(t *testing.T) {
	path := writeWorkbook(t, "inventory_2024.xlsx",
		[]any{"SKU", "Price", "Last Updated"},
		[]any{"ABC-1", 9.99, 45306.5},
	)

	r, err := Open(path, xlsxSpec())
	require.NoError(t, err)

	defer r.Close()

	records := readAll(t, r)

	require.Len(t, records, 1)
	assert.Equal(t,
		time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC),
		records[0]["last updated"])
	// Numeric cells in non-temporal columns stay raw strings.
	assert.Equal(t, "9.99", records[0]["price"])
}

func TestSpreadsheet_SkipRows(t *testing.T) {
	spec := xlsxSpec()
	spec.SkipRows = 1

	path := writeWorkbook(t, "inventory_2024.xlsx",
		[]any{"SKU", "Price", "Last Updated"},
		[]any{"SKIP", 0.0, ""},
		[]any{"ABC-2", 5.25, ""},
	)

	r, err := Open(path, spec)
	require.NoError(t, err)

	defer r.Close()

	records := readAll(t, r)

	require.Len(t, records, 1)
	assert.Equal(t, "ABC-2", records[0]["sku"])
}

func TestSpreadsheet_EmptySheet(t *testing.T) {
	path := writeWorkbook(t, "inventory_2024.xlsx")

	_, err := Open(path, xlsxSpec())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingHeader)
}

func TestSpreadsheet_PlaceholderHeader(t *testing.T) {
	path := writeWorkbook(t, "inventory_2024.xlsx",
		[]any{"-1", "-2", ""},
		[]any{"ABC-1", 9.99, ""},
	)

	_, err := Open(path, xlsxSpec())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingHeader)
}

func TestSpreadsheet_MissingColumns(t *testing.T) {
	path := writeWorkbook(t, "inventory_2024.xlsx",
		[]any{"SKU", "Price"},
		[]any{"ABC-1", 9.99},
	)

	_, err := Open(path, xlsxSpec())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingColumns)
	assert.Contains(t, err.Error(), "missing fields: Last Updated")
}

func TestSpreadsheet_SheetNotFound(t *testing.T) {
	spec := xlsxSpec()
	spec.SheetName = "Products"

	path := writeWorkbook(t, "inventory_2024.xlsx",
		[]any{"SKU", "Price", "Last Updated"},
	)

	_, err := Open(path, spec)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Products")
}

func TestSpreadsheet_NamedSheet(t *testing.T) {
	book := excelize.NewFile()

	defer book.Close()

	_, err := book.NewSheet("Products")
	require.NoError(t, err)
	require.NoError(t, book.SetSheetRow("Products", "A1", &[]any{"SKU", "Price", "Last Updated"}))
	require.NoError(t, book.SetSheetRow("Products", "A2", &[]any{"ABC-1", 9.99, ""}))

	path := filepath.Join(t.TempDir(), "inventory_2024.xlsx")
	require.NoError(t, book.SaveAs(path))

	spec := xlsxSpec()
	spec.SheetName = "Products"

	r, err := Open(path, spec)
	require.NoError(t, err)

	defer r.Close()

	records := readAll(t, r)

	require.Len(t, records, 1)
	assert.Equal(t, "ABC-1", records[0]["sku"])
}

func TestSerialToTime(t *testing.T) {
	tests := []struct {
		name   string
		serial float64
		want   time.Time
	}{
		{
			name:   "epoch",
			serial: 0,
			want:   time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "phantom leap day lands on feb 28",
			serial: 60,
			want:   time.Date(1900, time.February, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "modern datetime with day fraction",
			serial: 45306.5,
			want:   time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC),
		},
		{
			name:   "quarter day",
			serial: 1.25,
			want:   time.Date(1899, time.December, 31, 6, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := serialToTime(tt.serial)
			if !got.Equal(tt.want) {
				t.Errorf("serialToTime(%v) = %v, want %v", tt.serial, got, tt.want)
			}
		})
	}
}

func TestHeaderUnusable(t *testing.T) {
	tests := []struct {
		name  string
		cells []string
		want  bool
	}{
		{name: "empty row", cells: nil, want: true},
		{name: "all blank", cells: []string{"", "  ", ""}, want: true},
		{name: "all placeholders", cells: []string{"-1", "-2", "-3"}, want: true},
		{name: "blank and placeholder mix", cells: []string{"", "-1", " "}, want: true},
		{name: "plain digits", cells: []string{"1", "2"}, want: true},
		{name: "real headers", cells: []string{"SKU", "Price"}, want: false},
		{name: "one real header among placeholders", cells: []string{"-1", "SKU"}, want: false},
		{name: "negative decimal is not a placeholder", cells: []string{"-1.5"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := headerUnusable(tt.cells); got != tt.want {
				t.Errorf("headerUnusable(%v) = %v, want %v", tt.cells, got, tt.want)
			}
		})
	}
}
