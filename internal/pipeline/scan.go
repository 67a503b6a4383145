package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fileloader-io/fileloader/internal/reader"
)

// ScanIntake lists the loadable files in dir, sorted by name. Dotfiles,
// directories, and files with unsupported extensions are skipped so a
// stray .DS_Store or half-written temp file never reaches the pipeline.
func ScanIntake(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan intake directory %s: %w", dir, err)
	}

	var paths []string

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		if !reader.IsSupported(name) {
			continue
		}

		paths = append(paths, filepath.Join(dir, name))
	}

	sort.Strings(paths)

	return paths, nil
}
