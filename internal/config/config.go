// Package config loads tasktrack.toml and applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the default configuration file name.
const FileName = "tasktrack.toml"

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config is the top-level configuration structure mapping to tasktrack.toml.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Log      LogConfig      `toml:"log"`
}

// ServerConfig maps to the [server] section.
type ServerConfig struct {
	Addr            string   `toml:"addr"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	StreamInterval  Duration `toml:"stream_interval"`
}

// DatabaseConfig maps to the [database] section.
type DatabaseConfig struct {
	Backend     string   `toml:"backend"` // postgres or memory
	URL         string   `toml:"url"`
	MaxConns    int32    `toml:"max_conns"`
	ConnTimeout Duration `toml:"conn_timeout"`
}

// LogConfig maps to the [log] section.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text, logfmt or json
}

// Duration lets TOML carry durations as strings such as "15s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NewDefaults returns a Config populated with default values.
func NewDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: Duration{10 * time.Second},
			StreamInterval:  Duration{2 * time.Second},
		},
		Database: DatabaseConfig{
			Backend:     BackendPostgres,
			MaxConns:    10,
			ConnTimeout: Duration{5 * time.Second},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the effective configuration: defaults, then the TOML file at
// path (skipped when path is empty and no tasktrack.toml exists in the working
// directory), then environment overrides, then overrides in order. The
// result is validated.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := NewDefaults()

	explicit := path != ""
	if !explicit {
		path = FileName
	}
	if _, err := os.Stat(path); err == nil {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("loading config %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	} else if explicit {
		return nil, fmt.Errorf("loading config %s: %w", filepath.Clean(path), err)
	}

	applyEnv(cfg, os.Getenv)
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := getenv("TASKTRACK_STORE"); v != "" {
		cfg.Database.Backend = v
	}
	if v := getenv("PORT"); v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v := getenv("TASKTRACK_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := getenv("TASKTRACK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("TASKTRACK_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Backend {
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres backend (or set DATABASE_URL)"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("database.backend must be %q or %q, got %q", BackendPostgres, BackendMemory, c.Database.Backend))
	}
	if c.Database.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("database.max_conns must not be negative, got %d", c.Database.MaxConns))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if c.Server.StreamInterval.Duration <= 0 {
		errs = append(errs, errors.New("server.stream_interval must be positive"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "logfmt", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text, logfmt or json, got %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
