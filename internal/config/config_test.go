package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "localhost:50051", cfg.Agent.Address)
	assert.Equal(t, time.Second, cfg.Stream.BackoffInitial)
	assert.Equal(t, time.Second, cfg.Stream.BackoffMax)
	assert.Equal(t, 60*time.Minute, cfg.Sessions.IdleTTL)
	assert.True(t, cfg.IsDevelopment())

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeFile(t, `
port: "9090"
logLevel: debug
agent:
  address: agents.internal:443
  requestTimeout: 10s
stream:
  backoffInitial: 500ms
  backoffMax: 10s
  backoffMultiplier: 2
sessions:
  idleTTL: 15m
`)
	t.Setenv(ConfigFileEnv, path)
	t.Setenv("PORT", "7070")
	t.Setenv("RESPONSE_BURST", "9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Port, "env overrides file")
	assert.Equal(t, "agents.internal:443", cfg.Agent.Address)
	assert.Equal(t, 10*time.Second, cfg.Agent.RequestTimeout)
	assert.Equal(t, 5*time.Second, cfg.Agent.ConnectTimeout, "unset keys keep defaults")
	assert.Equal(t, 500*time.Millisecond, cfg.Stream.BackoffInitial)
	assert.Equal(t, 10*time.Second, cfg.Stream.BackoffMax)
	assert.Equal(t, 2.0, cfg.Stream.BackoffMultiplier)
	assert.Equal(t, 15*time.Minute, cfg.Sessions.IdleTTL)
	assert.Equal(t, 9, cfg.Sessions.ResponseBurst)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := LoadFrom(writeFile(t, "prot: 1\n"))
	require.Error(t, err)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := LoadFrom(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("SESSION_IDLE_TTL", "forever")
	cfg, err := LoadFrom("")
	require.NoError(t, err)
	assert.Equal(t, 60*time.Minute, cfg.Sessions.IdleTTL)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty port":          func(c *Config) { c.Port = "" },
		"empty db path":       func(c *Config) { c.DBPath = "" },
		"empty agent address": func(c *Config) { c.Agent.Address = "" },
		"bad log level":       func(c *Config) { c.LogLevel = "chatty" },
		"zero backoff":        func(c *Config) { c.Stream.BackoffInitial = 0 },
		"max below initial":   func(c *Config) { c.Stream.BackoffMax = time.Millisecond },
		"shrinking backoff":   func(c *Config) { c.Stream.BackoffMultiplier = 0.5 },
		"negative ttl":        func(c *Config) { c.Sessions.IdleTTL = -time.Second },
		"no reaper interval":  func(c *Config) { c.Sessions.ReaperInterval = 0 },
		"negative rate":       func(c *Config) { c.Sessions.ResponseRate = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
