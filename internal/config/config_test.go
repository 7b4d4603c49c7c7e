package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DATABASE_URL", "TASKTRACK_STORE", "PORT", "TASKTRACK_ADDR", "TASKTRACK_LOG_LEVEL", "TASKTRACK_LOG_FORMAT"} {
		t.Setenv(k, "")
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[server]
addr = "127.0.0.1:9000"
shutdown_timeout = "3s"

[database]
backend = "postgres"
url = "postgres://localhost/tasks"
max_conns = 4

[log]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout.Duration)
	assert.Equal(t, 2*time.Second, cfg.Server.StreamInterval.Duration, "default kept")
	assert.Equal(t, "postgres://localhost/tasks", cfg.Database.URL)
	assert.Equal(t, int32(4), cfg.Database.MaxConns)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_UnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[database]
backend = "memory"
pool_size = 3
`)
	clearEnv(t)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.pool_size")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[database]
backend = "memory"
`)
	clearEnv(t)
	t.Setenv("PORT", "7070")
	t.Setenv("TASKTRACK_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, BackendMemory, cfg.Database.Backend)
}

func TestLoad_OverridesBeforeValidate(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	// Defaults alone fail: postgres without a URL.
	_, err := Load("")
	require.Error(t, err)

	cfg, err := Load("", func(c *Config) { c.Database.Backend = BackendMemory })
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Database.Backend)
}

func TestApplyEnv(t *testing.T) {
	cfg := NewDefaults()
	env := map[string]string{
		"DATABASE_URL":    "postgres://db/x",
		"TASKTRACK_STORE": "memory",
		"TASKTRACK_ADDR":  "0.0.0.0:1234",
	}
	applyEnv(cfg, func(k string) string { return env[k] })

	assert.Equal(t, "postgres://db/x", cfg.Database.URL)
	assert.Equal(t, BackendMemory, cfg.Database.Backend)
	assert.Equal(t, "0.0.0.0:1234", cfg.Server.Addr)
}

func TestValidate(t *testing.T) {
	cfg := NewDefaults()
	err := cfg.Validate()
	require.Error(t, err, "postgres backend needs a URL")
	assert.Contains(t, err.Error(), "database.url")

	cfg.Database.Backend = "sqlite"
	cfg.Log.Format = "yaml"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.backend")
	assert.Contains(t, err.Error(), "log.format")

	cfg = NewDefaults()
	cfg.Database.Backend = BackendMemory
	assert.NoError(t, cfg.Validate())
}
