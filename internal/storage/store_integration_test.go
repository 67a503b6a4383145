package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/fileloader-io/fileloader/internal/config"
	"github.com/fileloader-io/fileloader/internal/source"
	"github.com/fileloader-io/fileloader/internal/validate"
)

// TestStoreIntegration exercises the full storage surface against a real
// PostgreSQL instance: run log writes, stage loads, audits, merges, and
// dead-letter bookkeeping.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn, err := NewConnection(NewConfig(testDB.ConnectionString))
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	store, err := NewStore(conn)
	require.NoError(t, err)

	spec := integrationSpec()

	require.NoError(t, store.EnsureTargetTables(ctx, []*source.Spec{spec}))
	// A second call must tolerate the existing table and index.
	require.NoError(t, store.EnsureTargetTables(ctx, []*source.Spec{spec}))

	t.Run("RunLog_StartAndSave", testRunLogStartAndSave(ctx, store))
	t.Run("StageLoadAuditMerge", testStageLoadAuditMerge(ctx, store, spec))
	t.Run("Merge_UpdatesChangedRowsOnly", testMergeUpdatesChangedRowsOnly(ctx, store, spec))
	t.Run("Audit_DuplicateGrain", testAuditDuplicateGrain(ctx, store, spec))
	t.Run("Audit_DeclaredChecks", testAuditDeclaredChecks(ctx, store, spec))
	t.Run("DeadLetters_PriorRunCleanup", testDeadLetterPriorRunCleanup(ctx, store, spec))
	t.Run("HasFileLoaded", testHasFileLoaded(ctx, store, spec))
}

func integrationSpec() *source.Spec {
	return &source.Spec{
		FilePattern: "int_orders_*.csv",
		Format:      source.FormatDelimited,
		TargetTable: "int_orders",
		Grain:       []string{"order_id"},
		Fields: []source.FieldSpec{
			{Name: "order_id", Type: source.TypeInt},
			{Name: "customer", Type: source.TypeString, MaxLength: 64},
			{Name: "total", Type: source.TypeDecimal},
		},
	}
}

// integrationRow builds a coerced row the way the validator would emit it.
func integrationRow(id int64, customer, total, filename string, logID int64) *validate.ValidRow {
	values := map[string]any{
		"order_id": id,
		"customer": customer,
		"total":    decimal.RequireFromString(total),
	}

	return &validate.ValidRow{
		Values:   values,
		Hash:     validate.RowHash(values),
		Filename: filename,
		RunLogID: logID,
	}
}

func testRunLogStartAndSave(ctx context.Context, store *Store) func(*testing.T) {
	return func(t *testing.T) {
		started := time.Now().UTC()

		log, err := store.StartRunLog(ctx, "int_orders_runlog.csv", started)
		require.NoError(t, err)
		assert.Positive(t, log.ID)

		log.BeginPhase(PhaseProcessing)
		log.EndPhase(PhaseProcessing, true)

		processed := int64(10)
		log.RecordsProcessed = &processed
		log.Finish(true, "")

		require.NoError(t, store.SaveRunLog(ctx, log))

		var (
			fileName  string
			success   sql.NullBool
			records   sql.NullInt64
			errorType sql.NullString
		)

		row := store.conn.QueryRowContext(ctx,
			"SELECT file_name, success, records_processed, error_type FROM file_load_log WHERE id = $1", log.ID)
		require.NoError(t, row.Scan(&fileName, &success, &records, &errorType))

		assert.Equal(t, "int_orders_runlog.csv", fileName)
		assert.True(t, success.Valid)
		assert.True(t, success.Bool)
		assert.Equal(t, int64(10), records.Int64)
		assert.False(t, errorType.Valid, "error_type stays NULL on success")
	}
}

func testStageLoadAuditMerge(ctx context.Context, store *Store, spec *source.Spec) func(*testing.T) {
	return func(t *testing.T) {
		const filename = "int_orders_jan.csv"

		log, err := store.StartRunLog(ctx, filename, time.Now().UTC())
		require.NoError(t, err)

		stage, err := store.CreateStageTable(ctx, spec, filename, log.ID)
		require.NoError(t, err)
		assert.Equal(t, "stage_int_orders_jan", stage)

		rows := []*validate.ValidRow{
			integrationRow(1, "ACME", "10.00", filename, log.ID),
			integrationRow(2, "Birch", "20.00", filename, log.ID),
			integrationRow(3, "Cargo", "30.00", filename, log.ID),
		}
		require.NoError(t, store.InsertValidRows(ctx, stage, spec, rows))

		require.NoError(t, store.Audit(ctx, spec, stage, filename))

		result, err := store.Merge(ctx, spec, stage, int64(len(rows)), log.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), result.Inserts)
		assert.Zero(t, result.Updates)

		require.NoError(t, store.DropStageTable(ctx, stage))

		var count int
		row := store.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM int_orders WHERE source_filename = $1", filename)
		require.NoError(t, row.Scan(&count))
		assert.Equal(t, 3, count)
	}
}

func testMergeUpdatesChangedRowsOnly(ctx context.Context, store *Store, spec *source.Spec) func(*testing.T) {
	return func(t *testing.T) {
		const filename = "int_orders_jan.csv"

		log, err := store.StartRunLog(ctx, filename, time.Now().UTC())
		require.NoError(t, err)

		stage, err := store.CreateStageTable(ctx, spec, filename, log.ID)
		require.NoError(t, err)

		// Row 2 changes, row 3 is byte-identical, row 4 is new.
		rows := []*validate.ValidRow{
			integrationRow(2, "Birch", "25.00", filename, log.ID),
			integrationRow(3, "Cargo", "30.00", filename, log.ID),
			integrationRow(4, "Dover", "40.00", filename, log.ID),
		}
		require.NoError(t, store.InsertValidRows(ctx, stage, spec, rows))

		result, err := store.Merge(ctx, spec, stage, int64(len(rows)), log.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.Inserts)
		assert.Equal(t, int64(1), result.Updates)

		require.NoError(t, store.DropStageTable(ctx, stage))

		var (
			total     string
			updatedAt sql.NullTime
		)

		row := store.conn.QueryRowContext(ctx,
			"SELECT total::text, etl_updated_at FROM int_orders WHERE order_id = $1", 2)
		require.NoError(t, row.Scan(&total, &updatedAt))
		assert.True(t, updatedAt.Valid, "changed row gets etl_updated_at")
		assert.Equal(t, "25.000000000", total)

		row = store.conn.QueryRowContext(ctx,
			"SELECT etl_updated_at FROM int_orders WHERE order_id = $1", 3)
		require.NoError(t, row.Scan(&updatedAt))
		assert.False(t, updatedAt.Valid, "unchanged row is left untouched")
	}
}

func testAuditDuplicateGrain(ctx context.Context, store *Store, spec *source.Spec) func(*testing.T) {
	return func(t *testing.T) {
		const filename = "int_orders_dupes.csv"

		log, err := store.StartRunLog(ctx, filename, time.Now().UTC())
		require.NoError(t, err)

		stage, err := store.CreateStageTable(ctx, spec, filename, log.ID)
		require.NoError(t, err)

		t.Cleanup(func() { _ = store.DropStageTable(ctx, stage) })

		rows := []*validate.ValidRow{
			integrationRow(9, "Echo", "1.00", filename, log.ID),
			integrationRow(9, "Echo", "2.00", filename, log.ID),
		}
		require.NoError(t, store.InsertValidRows(ctx, stage, spec, rows))

		err = store.Audit(ctx, spec, stage, filename)
		require.ErrorIs(t, err, ErrGrainValidation)
		assert.ErrorContains(t, err, filename)
		assert.ErrorContains(t, err, "order_id: 9")
		assert.ErrorContains(t, err, "duplicate_count: 2")
	}
}

func testAuditDeclaredChecks(ctx context.Context, store *Store, spec *source.Spec) func(*testing.T) {
	return func(t *testing.T) {
		const filename = "int_orders_audited.csv"

		log, err := store.StartRunLog(ctx, filename, time.Now().UTC())
		require.NoError(t, err)

		stage, err := store.CreateStageTable(ctx, spec, filename, log.ID)
		require.NoError(t, err)

		t.Cleanup(func() { _ = store.DropStageTable(ctx, stage) })

		rows := []*validate.ValidRow{
			integrationRow(20, "Fir", "5.00", filename, log.ID),
		}
		require.NoError(t, store.InsertValidRows(ctx, stage, spec, rows))

		passing := *spec
		passing.AuditSQL = "SELECT CASE WHEN COUNT(*) > 0 THEN 1 ELSE 0 END AS has_rows FROM {table}"
		require.NoError(t, store.Audit(ctx, &passing, stage, filename))

		failing := *spec
		failing.AuditSQL = "SELECT CASE WHEN COUNT(*) > 0 THEN 1 ELSE 0 END AS has_rows, " +
			"CASE WHEN SUM(total) > 1000 THEN 1 ELSE 0 END AS total_over_1000 FROM {table}"

		err = store.Audit(ctx, &failing, stage, filename)
		require.ErrorIs(t, err, ErrAuditFailed)
		assert.ErrorContains(t, err, "total_over_1000")
		assert.NotContains(t, err.Error(), "has_rows")
	}
}

func testDeadLetterPriorRunCleanup(ctx context.Context, store *Store, spec *source.Spec) func(*testing.T) {
	return func(t *testing.T) {
		const filename = "int_orders_feb.csv"

		prior, err := store.StartRunLog(ctx, filename, time.Now().UTC())
		require.NoError(t, err)

		current, err := store.StartRunLog(ctx, filename, time.Now().UTC())
		require.NoError(t, err)

		failedAt := time.Now().UTC()

		priorRows := []*validate.FailedRow{
			{
				RowNumber: 2,
				Record:    map[string]any{"order id": "x", "customer": "Grove"},
				Errors: []validate.ErrorDescriptor{
					{ColumnName: "order id", ColumnValue: "x", ErrorKind: "int_parsing", ErrorMessage: "not an integer"},
				},
			},
			{
				RowNumber: 5,
				Record:    map[string]any{"order id": "", "customer": "Haven"},
				Errors: []validate.ErrorDescriptor{
					{ColumnName: "order id", ColumnValue: "", ErrorKind: "missing", ErrorMessage: "required value is missing"},
				},
			},
		}
		require.NoError(t, store.InsertFailedRows(ctx, spec, filename, prior.ID, failedAt, priorRows))

		currentRows := []*validate.FailedRow{
			{
				RowNumber: 3,
				Record:    map[string]any{"order id": "y", "customer": "Iris"},
				Errors: []validate.ErrorDescriptor{
					{ColumnName: "order id", ColumnValue: "y", ErrorKind: "int_parsing", ErrorMessage: "not an integer"},
				},
			},
		}
		require.NoError(t, store.InsertFailedRows(ctx, spec, filename, current.ID, failedAt, currentRows))

		found, err := store.HasPriorDeadLetters(ctx, filename, current.ID)
		require.NoError(t, err)
		assert.True(t, found)

		deleted, err := store.DeletePriorDeadLetters(ctx, filename, current.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		found, err = store.HasPriorDeadLetters(ctx, filename, current.ID)
		require.NoError(t, err)
		assert.False(t, found)

		var remaining int
		row := store.conn.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM file_load_dlq WHERE source_filename = $1", filename)
		require.NoError(t, row.Scan(&remaining))
		assert.Equal(t, 1, remaining, "current run's rows survive the cleanup")
	}
}

func testHasFileLoaded(ctx context.Context, store *Store, spec *source.Spec) func(*testing.T) {
	return func(t *testing.T) {
		loaded, err := store.HasFileLoaded(ctx, spec, "int_orders_jan.csv")
		require.NoError(t, err)
		assert.True(t, loaded)

		loaded, err = store.HasFileLoaded(ctx, spec, "int_orders_never_seen.csv")
		require.NoError(t, err)
		assert.False(t, loaded)
	}
}
