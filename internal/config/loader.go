package config

import (
	"os"
	"path/filepath"
)

// ConfigFileName is the name of the config file.
const ConfigFileName = "listingwh.yaml"

// ConfigFileNameAlt is the alternate name of the config file.
const ConfigFileNameAlt = "listingwh.yml"

// maxUpwardSearchLevels limits how far up the directory tree FindProjectRoot looks.
const maxUpwardSearchLevels = 10

// FindConfigFile returns the config file in dir, preferring listingwh.yaml.
// Returns empty string if not found.
func FindConfigFile(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// FindProjectRoot walks up from startDir to find a directory containing
// listingwh.yaml or listingwh.yml.
// Returns empty string if not found.
func FindProjectRoot(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if FindConfigFile(dir) != "" {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			return ""
		}
		dir = parent
	}
	return ""
}
