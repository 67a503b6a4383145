package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGrainUniqueSQL_SingleColumn(t *testing.T) {
	got := grainUniqueSQL(ddlSpec(), "stage_orders_jan")

	assert.Equal(t,
		"SELECT CASE WHEN COUNT(DISTINCT order_id) = COUNT(*) THEN 1 ELSE 0 END AS grain_unique FROM stage_orders_jan",
		got)
}

func TestGrainUniqueSQL_MultiColumn(t *testing.T) {
	spec := ddlSpec()
	spec.Grain = []string{"order_id", "customer"}

	got := grainUniqueSQL(spec, "stage_orders_jan")

	assert.Equal(t,
		"SELECT CASE WHEN COUNT(*) = 0 THEN 1 ELSE 0 END AS grain_unique FROM ("+
			"SELECT order_id, customer FROM stage_orders_jan GROUP BY order_id, customer HAVING COUNT(*) > 1) AS dupes",
		got)
}

func TestDuplicateGrainSQL(t *testing.T) {
	spec := ddlSpec()

	postgres := duplicateGrainSQL(DialectPostgres, spec, "stage_orders_jan")
	assert.Equal(t,
		"SELECT order_id, COUNT(*) AS duplicate_count FROM stage_orders_jan GROUP BY order_id HAVING COUNT(*) > 1 ORDER BY duplicate_count DESC LIMIT 5",
		postgres)

	sqlserver := duplicateGrainSQL(DialectSQLServer, spec, "stage_orders_jan")
	assert.Equal(t,
		"SELECT TOP 5 order_id, COUNT(*) AS duplicate_count FROM stage_orders_jan GROUP BY order_id HAVING COUNT(*) > 1 ORDER BY duplicate_count DESC",
		sqlserver)
}

func TestAuditCheckPassed(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{name: "int64 one", value: int64(1), want: true},
		{name: "int64 zero", value: int64(0), want: false},
		{name: "bool true", value: true, want: true},
		{name: "bool false", value: false, want: false},
		{name: "float64 one", value: float64(1), want: true},
		{name: "float64 zero", value: float64(0), want: false},
		{name: "byte slice one", value: []byte("1"), want: true},
		{name: "byte slice zero", value: []byte("0"), want: false},
		{name: "byte slice padded zero", value: []byte(" 0 "), want: false},
		{name: "string one", value: "1", want: true},
		{name: "string zero", value: "0", want: false},
		{name: "nil scan", value: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auditCheckPassed(tt.value))
		})
	}
}

func TestNormalizeScanned(t *testing.T) {
	assert.Equal(t, "ORD-1", normalizeScanned([]byte("ORD-1")))
	assert.Equal(t, int64(3), normalizeScanned(int64(3)))
	assert.Nil(t, normalizeScanned(nil))
}
