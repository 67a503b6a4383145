package reader

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fileloader-io/fileloader/internal/source"
)

func csvSpec() *source.Spec {
	return &source.Spec{
		FilePattern: "sales_*.csv",
		Format:      source.FormatDelimited,
		TargetTable: "transactions",
		Grain:       []string{"transaction_id"},
		Fields: []source.FieldSpec{
			{Name: "transaction_id", Type: source.TypeString},
			{Name: "quantity", Type: source.TypeInt},
			{Name: "total_amount", Type: source.TypeDecimal},
		},
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func readAll(t *testing.T, r RecordReader) []RawRecord {
	t.Helper()

	var records []RawRecord

	for {
		record, err := r.Read()
		if err == io.EOF {
			return records
		}

		require.NoError(t, err)
		records = append(records, record)
	}
}

func TestDelimited_HappyPath(t *testing.T) {
	path := writeFile(t, "sales_2024.csv",
		"transaction_id,quantity,total_amount\nTXN001,2,19.98\nTXN002,1,5.00\n")

	r, err := Open(path, csvSpec())
	require.NoError(t, err)

	defer r.Close()

	records := readAll(t, r)

	require.Len(t, records, 2)
	assert.Equal(t, RawRecord{
		"transaction_id": "TXN001",
		"quantity":       "2",
		"total_amount":   "19.98",
	}, records[0])
	assert.Equal(t, "TXN002", records[1]["transaction_id"])
}

func TestDelimited_LowercasesHeaderTokens(t *testing.T) {
	path := writeFile(t, "sales_2024.csv",
		"Transaction_ID,Quantity,Total_Amount\nTXN001,2,19.98\n")

	r, err := Open(path, csvSpec())
	require.NoError(t, err)

	defer r.Close()

	records := readAll(t, r)

	require.Len(t, records, 1)
	assert.Equal(t, "TXN001", records[0]["transaction_id"])
	assert.Equal(t, "19.98", records[0]["total_amount"])
}

func TestDelimited_CustomDelimiter(t *testing.T) {
	spec := csvSpec()
	spec.Delimiter = ";"

	path := writeFile(t, "sales_2024.csv",
		"transaction_id;quantity;total_amount\nTXN001;2;19.98\n")

	r, err := Open(path, spec)
	require.NoError(t, err)

	defer r.Close()

	records := readAll(t, r)

	require.Len(t, records, 1)
	assert.Equal(t, "19.98", records[0]["total_amount"])
}

func TestDelimited_SkipRows(t *testing.T) {
	spec := csvSpec()
	spec.SkipRows = 2

	path := writeFile(t, "sales_2024.csv",
		"transaction_id,quantity,total_amount\nskip1,0,0\nskip2,0,0\nTXN003,1,5.00\n")

	r, err := Open(path, spec)
	require.NoError(t, err)

	defer r.Close()

	records := readAll(t, r)

	require.Len(t, records, 1)
	assert.Equal(t, "TXN003", records[0]["transaction_id"])
}

func TestDelimited_Latin1Encoding(t *testing.T) {
	spec := csvSpec()
	spec.Encoding = "latin-1"
	spec.Fields = []source.FieldSpec{
		{Name: "transaction_id", Type: source.TypeString},
		{Name: "customer", Type: source.TypeString},
	}

	// 0xE9 is "é" in ISO-8859-1.
	path := writeFile(t, "sales_2024.csv", "transaction_id,customer\nTXN001,Ren\xe9\n")

	r, err := Open(path, spec)
	require.NoError(t, err)

	defer r.Close()

	records := readAll(t, r)

	require.Len(t, records, 1)
	assert.Equal(t, "René", records[0]["customer"])
}

func TestDelimited_UnsupportedEncoding(t *testing.T) {
	spec := csvSpec()
	spec.Encoding = "ebcdic"

	path := writeFile(t, "sales_2024.csv", "transaction_id,quantity,total_amount\n")

	_, err := Open(path, spec)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)
}

func TestDelimited_Gzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sales_2024.csv.gz")

	f, err := os.Create(path)
	require.NoError(t, err)

	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte("transaction_id,quantity,total_amount\nTXN001,2,19.98\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	r, err := Open(path, csvSpec())
	require.NoError(t, err)

	defer r.Close()

	records := readAll(t, r)

	require.Len(t, records, 1)
	assert.Equal(t, "TXN001", records[0]["transaction_id"])
}

func TestDelimited_EmptyFile(t *testing.T) {
	path := writeFile(t, "sales_2024.csv", "")

	_, err := Open(path, csvSpec())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingHeader)
	// Owners are told which fields the file should have carried.
	assert.Contains(t, err.Error(), "quantity")
	assert.Contains(t, err.Error(), "total_amount")
	assert.Contains(t, err.Error(), "transaction_id")
}

func TestDelimited_BlankHeader(t *testing.T) {
	path := writeFile(t, "sales_2024.csv", "  , ,\nTXN001,2,19.98\n")

	_, err := Open(path, csvSpec())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingHeader)
}

func TestDelimited_MissingColumns(t *testing.T) {
	path := writeFile(t, "sales_2024.csv", "transaction_id,quantity\nTXN001,2\n")

	_, err := Open(path, csvSpec())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingColumns)
	assert.Contains(t, err.Error(), ".CSV")
	assert.Contains(t, err.Error(), "required fields: quantity, total_amount, transaction_id")
	assert.Contains(t, err.Error(), "missing fields: total_amount")
}

func TestDelimited_HeaderCoverageIsCaseInsensitive(t *testing.T) {
	path := writeFile(t, "sales_2024.csv",
		"TRANSACTION_ID,QUANTITY,TOTAL_AMOUNT\nTXN001,2,19.98\n")

	r, err := Open(path, csvSpec())
	require.NoError(t, err)

	defer r.Close()

	records := readAll(t, r)
	require.Len(t, records, 1)
}

func TestDelimited_ShortRowYieldsNil(t *testing.T) {
	path := writeFile(t, "sales_2024.csv",
		"transaction_id,quantity,total_amount\nTXN001,2\n")

	r, err := Open(path, csvSpec())
	require.NoError(t, err)

	defer r.Close()

	records := readAll(t, r)

	require.Len(t, records, 1)
	assert.Equal(t, "2", records[0]["quantity"])
	assert.Nil(t, records[0]["total_amount"])
}

func TestDelimited_ExtraColumnsPreserved(t *testing.T) {
	path := writeFile(t, "sales_2024.csv",
		"transaction_id,quantity,total_amount,comment\nTXN001,2,19.98,fine\n")

	r, err := Open(path, csvSpec())
	require.NoError(t, err)

	defer r.Close()

	records := readAll(t, r)

	require.Len(t, records, 1)
	// Extra headers ride along; the validator drops them during projection.
	assert.Equal(t, "fine", records[0]["comment"])
}

func TestDelimited_AliasHeaders(t *testing.T) {
	spec := &source.Spec{
		FilePattern: "customers-*.csv",
		Format:      source.FormatDelimited,
		TargetTable: "customers",
		Grain:       []string{"customer_id"},
		Fields: []source.FieldSpec{
			{Name: "customer_id", Alias: "Customer Id", Type: source.TypeString},
			{Name: "email", Alias: "Email", Type: source.TypeString},
		},
	}

	path := writeFile(t, "customers-2024.csv",
		"Customer Id,Email\nC001,ann@example.com\n")

	r, err := Open(path, spec)
	require.NoError(t, err)

	defer r.Close()

	records := readAll(t, r)

	require.Len(t, records, 1)
	assert.Equal(t, "C001", records[0]["customer id"])
	assert.Equal(t, "ann@example.com", records[0]["email"])
}
