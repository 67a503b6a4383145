package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fileloader-io/fileloader/internal/source"
)

func TestSanitizeTableName(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{
			name:     "plain csv filename",
			filename: "sales_2024.csv",
			want:     "sales_2024",
		},
		{
			name:     "spaces and dashes become underscores",
			filename: "daily sales-report.xlsx",
			want:     "daily_sales_report",
		},
		{
			name:     "leading digit gets a prefix",
			filename: "2024 sales.csv",
			want:     "t_2024_sales",
		},
		{
			name:     "leading underscore gets a prefix",
			filename: "_private.csv",
			want:     "t__private",
		},
		{
			name:     "only the last extension is stripped",
			filename: "ledger_jan.json.gz",
			want:     "ledger_jan_json",
		},
		{
			name:     "dots inside the stem become underscores",
			filename: "data-v2.1.csv",
			want:     "data_v2_1",
		},
		{
			name:     "non-ASCII runes are flattened",
			filename: "café.csv",
			want:     "caf_",
		},
		{
			name:     "bare extension",
			filename: ".csv",
			want:     "t_",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeTableName(tt.filename))
		})
	}
}

func TestStageTableName(t *testing.T) {
	assert.Equal(t, "stage_sales_2024", StageTableName("sales_2024.csv"))
	assert.Equal(t, "stage_t_2024_totals", StageTableName("2024_totals.xlsx"))
	assert.Equal(t, "stage_orders_json", StageTableName("orders.json.gz"))
}

func ddlSpec() *source.Spec {
	return &source.Spec{
		FilePattern: "orders_*.csv",
		Format:      source.FormatDelimited,
		TargetTable: "orders",
		Grain:       []string{"order_id"},
		Fields: []source.FieldSpec{
			{Name: "order_id", Type: source.TypeInt},
			{Name: "customer", Type: source.TypeString, MaxLength: 128},
			{Name: "note", Type: source.TypeString, Nullable: true},
			{Name: "total", Type: source.TypeDecimal},
		},
	}
}

func TestTargetTableDDL_Postgres(t *testing.T) {
	stmts := targetTableDDL(DialectPostgres, ddlSpec())
	require.Len(t, stmts, 2)

	create := stmts[0]
	assert.True(t, strings.HasPrefix(create, "CREATE TABLE IF NOT EXISTS orders ("))
	assert.Contains(t, create, "order_id BIGINT NOT NULL")
	assert.Contains(t, create, "customer VARCHAR(128) NOT NULL")
	assert.Contains(t, create, "note TEXT NULL")
	assert.Contains(t, create, "total DECIMAL(38,9) NOT NULL")
	assert.Contains(t, create, "etl_row_hash BYTEA NOT NULL")
	assert.Contains(t, create, "source_filename TEXT NOT NULL")
	assert.Contains(t, create, "run_log_id BIGINT NOT NULL")
	assert.Contains(t, create, "etl_created_at TIMESTAMP NOT NULL")
	assert.Contains(t, create, "etl_updated_at TIMESTAMP NULL")
	assert.Contains(t, create, "PRIMARY KEY (order_id)")

	assert.Equal(t,
		"CREATE INDEX IF NOT EXISTS idx_orders_source_filename ON orders (source_filename)",
		stmts[1])
}

func TestTargetTableDDL_MySQL(t *testing.T) {
	stmts := targetTableDDL(DialectMySQL, ddlSpec())
	require.Len(t, stmts, 1)

	create := stmts[0]
	assert.True(t, strings.HasPrefix(create, "CREATE TABLE IF NOT EXISTS orders ("))
	assert.Contains(t, create, "INDEX idx_orders_source_filename (source_filename)")
	assert.Contains(t, create, "etl_created_at DATETIME NOT NULL")
}

func TestTargetTableDDL_SQLServer(t *testing.T) {
	stmts := targetTableDDL(DialectSQLServer, ddlSpec())
	require.Len(t, stmts, 1)

	batch := stmts[0]
	assert.True(t, strings.HasPrefix(batch, "IF OBJECT_ID(N'orders', N'U') IS NULL"))
	assert.Contains(t, batch, "CREATE TABLE orders (")
	assert.Contains(t, batch, "CREATE INDEX idx_orders_source_filename ON orders (source_filename)")
	assert.Contains(t, batch, "customer NVARCHAR(128) NOT NULL")
	assert.Contains(t, batch, "etl_created_at DATETIME2 NOT NULL")
}

func TestTargetTableDDL_MultiColumnGrain(t *testing.T) {
	spec := ddlSpec()
	spec.Grain = []string{"order_id", "customer"}

	stmts := targetTableDDL(DialectPostgres, spec)
	assert.Contains(t, stmts[0], "PRIMARY KEY (order_id, customer)")
}

func TestStageTableDDL(t *testing.T) {
	stmts := stageTableDDL(DialectPostgres, ddlSpec(), "stage_orders_jan")
	require.Len(t, stmts, 2)

	assert.Equal(t, "DROP TABLE IF EXISTS stage_orders_jan", stmts[0])

	create := stmts[1]
	assert.True(t, strings.HasPrefix(create, "CREATE TABLE stage_orders_jan ("))
	assert.Contains(t, create, "etl_row_hash BYTEA NOT NULL")

	// Stage tables carry no keys, indexes, or merge timestamps.
	assert.NotContains(t, create, "PRIMARY KEY")
	assert.NotContains(t, create, "etl_created_at")
	assert.NotContains(t, create, "etl_updated_at")
}

func TestFieldDDL_GrainOverridesNullable(t *testing.T) {
	spec := ddlSpec()
	spec.Fields[0].Nullable = true // order_id stays in the grain

	lines := fieldDDL(DialectPostgres, spec)
	assert.Contains(t, lines, "order_id BIGINT NOT NULL")
	assert.Contains(t, lines, "note TEXT NULL")
}

func TestStageColumns(t *testing.T) {
	cols := stageColumns(ddlSpec())
	assert.Equal(t,
		[]string{"order_id", "customer", "note", "total", "etl_row_hash", "source_filename", "run_log_id"},
		cols)
}
