package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version   int           `yaml:"version"`
	ProjectID string        `yaml:"project_id"`
	Backend   BackendConfig `yaml:"backend"`
	Collab    CollabConfig  `yaml:"collab"`
	Jobs      JobsConfig    `yaml:"jobs"`
	Graph     GraphConfig   `yaml:"graph"`
	Cache     CacheConfig   `yaml:"cache"`
	Server    ServerConfig  `yaml:"server"`
	Logging   LoggingConfig `yaml:"logging"`
}

// BackendConfig points at the authoritative REST store
type BackendConfig struct {
	URL     string   `yaml:"url"`
	Token   string   `yaml:"token,omitempty"`
	Timeout Duration `yaml:"timeout"`
}

// CollabConfig controls the real-time collaboration channel
type CollabConfig struct {
	Enabled        bool     `yaml:"enabled"`
	URL            string   `yaml:"url"`
	PingInterval   Duration `yaml:"ping_interval"`
	CursorInterval Duration `yaml:"cursor_interval"`
	ReconnectDelay Duration `yaml:"reconnect_delay"`
	MaxReconnects  uint64   `yaml:"max_reconnects"`
}

// JobsConfig holds generation job polling knobs
type JobsConfig struct {
	FirstPoll    Duration `yaml:"first_poll"`
	PollInterval Duration `yaml:"poll_interval"`
	ErrorBackoff Duration `yaml:"error_backoff"`
}

// GraphConfig holds local edit settings
type GraphConfig struct {
	PositionDebounce Duration `yaml:"position_debounce"`
}

// CacheConfig holds the local snapshot cache settings
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ServerConfig holds the local observer API settings
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig selects level, format and destination
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
	Output string `yaml:"output"` // stdout, stderr or a file path
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
