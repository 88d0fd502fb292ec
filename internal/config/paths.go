package config

import (
	"os"
	"path/filepath"
)

const (
	// EnvConfigPath is the environment variable for explicit config path
	EnvConfigPath = "REELSYNC_CONFIG"
	// ConfigFileName is the default config file name
	ConfigFileName = "reelsync.yaml"
	// ConfigDirName is the config directory name under XDG
	ConfigDirName = "reelsync"
)

// FindConfigPath searches for config file in priority order:
// 1. $REELSYNC_CONFIG (explicit path)
// 2. ./reelsync.yaml (working directory)
// 3. $XDG_CONFIG_HOME/reelsync/config.yaml
// 4. ~/.config/reelsync/config.yaml
// 5. /etc/reelsync/config.yaml
//
// Returns empty string if no config file found
func FindConfigPath() string {
	if path := os.Getenv(EnvConfigPath); path != "" {
		if fileExists(path) {
			return path
		}
	}

	if fileExists(ConfigFileName) {
		if abs, err := filepath.Abs(ConfigFileName); err == nil {
			return abs
		}
		return ConfigFileName
	}

	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		path := filepath.Join(xdgHome, ConfigDirName, "config.yaml")
		if fileExists(path) {
			return path
		}
	}

	if home := os.Getenv("HOME"); home != "" {
		path := filepath.Join(home, ".config", ConfigDirName, "config.yaml")
		if fileExists(path) {
			return path
		}
	}

	systemPath := filepath.Join("/etc", ConfigDirName, "config.yaml")
	if fileExists(systemPath) {
		return systemPath
	}

	return ""
}

// DefaultCachePath returns where the snapshot cache lives when none is
// configured: under XDG cache home, else the working directory.
func DefaultCachePath() string {
	if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
		return filepath.Join(xdgCache, ConfigDirName, "snapshots.db")
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".cache", ConfigDirName, "snapshots.db")
	}
	return "./reelsync.db"
}

// EnsureDir creates the parent directory of path if it doesn't exist
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0755)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
