package plugin

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Loader discovers plugin manifests on disk. Each immediate subdirectory of
// a search path that contains a plugin.json is a plugin candidate.
type Loader struct {
	paths  []string
	logger *slog.Logger
}

// NewLoader creates a loader over the given search paths.
func NewLoader(paths []string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		paths:  paths,
		logger: logger.With(slog.String("component", "plugin.loader")),
	}
}

// Discover scans the search paths and returns every valid manifest, sorted
// by plugin ID. Invalid manifests are logged and skipped; a missing search
// path is not an error.
func (l *Loader) Discover() []*Manifest {
	seen := make(map[string]*Manifest)

	for _, root := range l.paths {
		entries, err := os.ReadDir(root)
		if err != nil {
			if !os.IsNotExist(err) {
				l.logger.Warn("plugin path unreadable",
					slog.String("path", root),
					slog.Any("error", err))
			}
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			if _, err := os.Stat(filepath.Join(dir, "plugin.json")); err != nil {
				continue
			}

			manifest, err := LoadManifestFromDir(dir)
			if err != nil {
				l.logger.Warn("skipping invalid plugin manifest",
					slog.String("dir", dir),
					slog.Any("error", err))
				continue
			}

			// Earlier search paths win on duplicate IDs.
			if _, dup := seen[manifest.ID]; dup {
				l.logger.Warn("duplicate plugin id, keeping first",
					slog.String("plugin_id", manifest.ID),
					slog.String("dir", dir))
				continue
			}
			seen[manifest.ID] = manifest
		}
	}

	out := make([]*Manifest, 0, len(seen))
	for _, m := range seen {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadOne loads and validates a single plugin directory.
func (l *Loader) LoadOne(dir string) (*Manifest, error) {
	m, err := LoadManifestFromDir(dir)
	if err != nil {
		return nil, fmt.Errorf("load plugin from %s: %w", dir, err)
	}
	return m, nil
}
