package config

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides project root detection.
const HomeEnv = "ERGON_HOME"

// FindProjectRoot returns the directory that holds the configuration.
// Priority order:
//  1. ERGON_HOME environment variable (if set)
//  2. The nearest ancestor of start containing a .ergon directory
//  3. start itself
func FindProjectRoot(start string) string {
	if home := os.Getenv(HomeEnv); home != "" {
		return home
	}

	current, err := filepath.Abs(start)
	if err != nil {
		return start
	}
	for {
		if info, err := os.Stat(filepath.Join(current, ".ergon")); err == nil && info.IsDir() {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return start
		}
		current = parent
	}
}

// ResolvePaths makes the relative file locations in c absolute against root.
func (c *Config) ResolvePaths(root string) {
	for _, p := range []*string{&c.LogDir, &c.AgentsDir, &c.Store.DBPath, &c.Store.ArchiveDir} {
		if *p == "" || *p == ":memory:" || filepath.IsAbs(*p) {
			continue
		}
		*p = filepath.Join(root, *p)
	}
}
