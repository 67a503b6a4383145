// Package migrations embeds the schema migrations for the loader's two
// bookkeeping tables, file_load_log and file_load_dlq, and applies them
// at startup through golang-migrate.
//
// Each supported database keeps its own migration set under sql/<dialect>
// because the engines disagree on autoincrement columns, JSON column types,
// and index syntax. The four sets share sequence numbers and migration
// names, so a deployment can switch engines without renumbering.
package migrations

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"

	"github.com/fileloader-io/fileloader/internal/storage"
)

//go:embed sql
var embeddedSQL embed.FS

// Migration filenames follow 001_migration_name.up.sql / 001_migration_name.down.sql.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

type (
	// EmbeddedMigration exposes one dialect's migration files with the
	// validation golang-migrate itself does not do: strict filenames,
	// up/down pairing, and a gap-free sequence. Validation runs before
	// any state-changing operation so a broken set fails the whole run
	// instead of stopping halfway through.
	EmbeddedMigration struct {
		fs      fs.FS
		dialect storage.Dialect
	}

	// MigrationInfo holds the parsed components of a migration filename.
	MigrationInfo struct {
		Sequence  int
		Name      string
		Direction string // "up" or "down"
		Filename  string
	}
)

// NewEmbeddedMigration returns the migration set for the given dialect.
// Pass a nil filesystem to use the compiled-in sql/<dialect> files; tests
// inject fstest.MapFS instances to exercise validation failures.
func NewEmbeddedMigration(filesystem fs.FS, dialect storage.Dialect) (*EmbeddedMigration, error) {
	if filesystem == nil {
		sub, err := fs.Sub(embeddedSQL, path.Join("sql", dialect.String()))
		if err != nil {
			return nil, fmt.Errorf("no embedded migrations for dialect %s: %w", dialect, err)
		}

		filesystem = sub
	}

	return &EmbeddedMigration{fs: filesystem, dialect: dialect}, nil
}

// FS returns the file system the migration source driver reads from.
func (e *EmbeddedMigration) FS() fs.FS {
	return e.fs
}

// Files lists the migration files that conform to the naming standard,
// in lexicographic order. Three-digit sequence prefixes make that order
// the application order.
func (e *EmbeddedMigration) Files() ([]string, error) {
	entries, err := fs.ReadDir(e.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if migrationFilenameRegex.MatchString(entry.Name()) {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)

	return files, nil
}

// Content returns the SQL text of a single migration file.
func (e *EmbeddedMigration) Content(filename string) ([]byte, error) {
	return fs.ReadFile(e.fs, filename)
}

// Validate checks the whole migration set: at least one file, every file
// readable and non-empty, every up paired with a down, and no gaps in the
// sequence numbering.
func (e *EmbeddedMigration) Validate() error {
	files, err := e.Files()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no migration files found for dialect %s", e.dialect)
	}

	for _, file := range files {
		content, err := e.Content(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		if len(bytes.TrimSpace(content)) == 0 {
			return fmt.Errorf("migration file %s is empty", file)
		}
	}

	if err := e.validatePairing(files); err != nil {
		return err
	}

	return e.validateSequence(files)
}

// MaxSequence returns the highest sequence number in the set, which is
// the schema version a fully migrated database reports.
func (e *EmbeddedMigration) MaxSequence() int {
	files, err := e.Files()
	if err != nil {
		return 0
	}

	maxSequence := 0

	for _, file := range files {
		info, err := parseMigrationFilename(file)
		if err != nil {
			continue
		}

		if info.Sequence > maxSequence {
			maxSequence = info.Sequence
		}
	}

	return maxSequence
}

// parseMigrationFilename splits a conforming filename into its components.
func parseMigrationFilename(filename string) (*MigrationInfo, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf(
			"invalid migration filename %s (expected 001_name.up.sql or 001_name.down.sql)",
			filename,
		)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return &MigrationInfo{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

// validatePairing ensures every up migration has a down and vice versa.
func (e *EmbeddedMigration) validatePairing(files []string) error {
	directions := make(map[string]map[string]bool)

	for _, file := range files {
		info, err := parseMigrationFilename(file)
		if err != nil {
			return err
		}

		key := fmt.Sprintf("%03d_%s", info.Sequence, info.Name)
		if directions[key] == nil {
			directions[key] = make(map[string]bool)
		}

		directions[key][info.Direction] = true
	}

	for key, seen := range directions {
		if !seen["up"] {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if !seen["down"] {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return nil
}

// validateSequence ensures numbering starts at 001 and has no gaps.
func (e *EmbeddedMigration) validateSequence(files []string) error {
	seen := make(map[int]bool)

	for _, file := range files {
		info, err := parseMigrationFilename(file)
		if err != nil {
			return err
		}

		seen[info.Sequence] = true
	}

	sequences := make([]int, 0, len(seen))
	for sequence := range seen {
		sequences = append(sequences, sequence)
	}

	sort.Ints(sequences)

	if len(sequences) == 0 {
		return nil
	}

	if sequences[0] != 1 {
		return fmt.Errorf("migration sequence should start with 001, but found %03d", sequences[0])
	}

	for i := 1; i < len(sequences); i++ {
		expected := sequences[i-1] + 1
		if sequences[i] != expected {
			return fmt.Errorf("gap in migration sequence: expected %03d, found %03d", expected, sequences[i])
		}
	}

	return nil
}
