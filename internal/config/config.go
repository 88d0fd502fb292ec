// Package config provides configuration management for reelsync.
//
// Settings come from a YAML file, then REELSYNC_* environment variables
// (optionally loaded from a .env file) override individual fields.
//
// Config file locations (priority order):
//  1. $REELSYNC_CONFIG
//  2. ./reelsync.yaml
//  3. ~/.config/reelsync/config.yaml
//  4. /etc/reelsync/config.yaml
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment overrides
const (
	EnvProjectID  = "REELSYNC_PROJECT_ID"
	EnvAPIURL     = "REELSYNC_API_URL"
	EnvWSURL      = "REELSYNC_WS_URL"
	EnvToken      = "REELSYNC_TOKEN"
	EnvListenAddr = "REELSYNC_LISTEN"
	EnvCachePath  = "REELSYNC_CACHE_PATH"
	EnvCollab     = "REELSYNC_COLLAB"
	EnvLogLevel   = "REELSYNC_LOG_LEVEL"
	EnvLogFormat  = "REELSYNC_LOG_FORMAT"
)

// Load reads .env if present, finds and loads the config file (or
// defaults when there is none) and applies environment overrides.
func Load() (*Config, string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("load .env: %w", err)
	}

	path := FindConfigPath()
	if path == "" {
		cfg := DefaultConfig()
		cfg.applyEnv()
		return cfg, "", nil
	}

	cfg, path, err := LoadFromPath(path)
	if err != nil {
		return nil, path, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, path, nil
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// DefaultConfig returns defaults matching the engine's built-in timings
func DefaultConfig() *Config {
	cfg := &Config{
		Collab: CollabConfig{Enabled: true},
		Cache:  CacheConfig{Enabled: true},
		Server: ServerConfig{Enabled: true},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Backend.URL == "" {
		c.Backend.URL = "http://localhost:8000/api"
	}
	c.Backend.URL = strings.TrimRight(c.Backend.URL, "/")
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = Duration(30 * time.Second)
	}

	if c.Collab.URL == "" {
		c.Collab.URL = deriveWSURL(c.Backend.URL)
	}
	setDefault(&c.Collab.PingInterval, 30*time.Second)
	setDefault(&c.Collab.CursorInterval, 50*time.Millisecond)
	setDefault(&c.Collab.ReconnectDelay, 3*time.Second)
	if c.Collab.MaxReconnects == 0 {
		c.Collab.MaxReconnects = 5
	}

	setDefault(&c.Jobs.FirstPoll, 2*time.Second)
	setDefault(&c.Jobs.PollInterval, 3*time.Second)
	setDefault(&c.Jobs.ErrorBackoff, 10*time.Second)
	setDefault(&c.Graph.PositionDebounce, 500*time.Millisecond)

	if c.Cache.Path == "" {
		c.Cache.Path = DefaultCachePath()
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:7420"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stderr"
	}
}

func setDefault(d *Duration, v time.Duration) {
	if *d <= 0 {
		*d = Duration(v)
	}
}

// applyEnv overrides fields from REELSYNC_* variables
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvProjectID); v != "" {
		c.ProjectID = v
	}
	if v := os.Getenv(EnvAPIURL); v != "" {
		derived := c.Collab.URL == deriveWSURL(c.Backend.URL)
		c.Backend.URL = strings.TrimRight(v, "/")
		if derived {
			c.Collab.URL = deriveWSURL(c.Backend.URL)
		}
	}
	if v := os.Getenv(EnvWSURL); v != "" {
		c.Collab.URL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.Backend.Token = v
	}
	if v := os.Getenv(EnvListenAddr); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(EnvCachePath); v != "" {
		c.Cache.Path = v
	}
	if v := os.Getenv(EnvCollab); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Collab.Enabled = enabled
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Logging.Format = v
	}
}

// deriveWSURL maps http(s)://host/api to ws(s)://host/ws
func deriveWSURL(apiURL string) string {
	u := strings.TrimSuffix(apiURL, "/api")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// Validate reports settings the engine cannot start without
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("project_id is required (set it in the config file or %s)", EnvProjectID)
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	if c.Collab.Enabled && c.Collab.URL == "" {
		return fmt.Errorf("collab.url is required when collaboration is enabled")
	}
	return nil
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	summary := fmt.Sprintf("Project: %s, Backend: %s\n", c.ProjectID, c.Backend.URL)
	if c.Collab.Enabled {
		summary += fmt.Sprintf("Collaboration: %s\n", c.Collab.URL)
	} else {
		summary += "Collaboration: disabled\n"
	}
	if c.Cache.Enabled {
		summary += fmt.Sprintf("Cache: %s", c.Cache.Path)
	} else {
		summary += "Cache: disabled"
	}
	return summary
}
