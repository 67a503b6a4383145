package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanIntake(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{
		"sales_2024.csv",
		"ledger_jan.json.gz",
		"inventory_q1.xlsx",
		".hidden.csv",
		"notes.txt",
		"README",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}

	// Directories are skipped even with a loadable-looking name.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive.csv"), 0o750))

	paths, err := ScanIntake(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "inventory_q1.xlsx"),
		filepath.Join(dir, "ledger_jan.json.gz"),
		filepath.Join(dir, "sales_2024.csv"),
	}, paths)
}

func TestScanIntake_EmptyDirectory(t *testing.T) {
	paths, err := ScanIntake(t.TempDir())

	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestScanIntake_MissingDirectory(t *testing.T) {
	_, err := ScanIntake(filepath.Join(t.TempDir(), "nope"))

	require.Error(t, err)
}
