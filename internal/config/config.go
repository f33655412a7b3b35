// Package config provides application configuration.
//
// Values come from built-in defaults, then an optional YAML file, then
// environment variables. Later sources win.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the environment variable holding the YAML file path.
const ConfigFileEnv = "AGENTLINK_CONFIG"

// Config holds all application configuration.
type Config struct {
	Port        string `yaml:"port"`
	FrontendURL string `yaml:"frontendURL"`
	DBPath      string `yaml:"dbPath"`
	LogLevel    string `yaml:"logLevel"`

	Agent    AgentConfig    `yaml:"agent"`
	Stream   StreamConfig   `yaml:"stream"`
	Sessions SessionsConfig `yaml:"sessions"`
}

// AgentConfig controls the connection to the agent service.
type AgentConfig struct {
	Address        string        `yaml:"address"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// StreamConfig controls reconnects of agent streams. Initial equal to Max
// gives a fixed interval.
type StreamConfig struct {
	BackoffInitial    time.Duration `yaml:"backoffInitial"`
	BackoffMax        time.Duration `yaml:"backoffMax"`
	BackoffMultiplier float64       `yaml:"backoffMultiplier"`
}

// SessionsConfig controls attachment lifetime and caller-local data.
type SessionsConfig struct {
	IdleTTL          time.Duration `yaml:"idleTTL"`
	ReaperInterval   time.Duration `yaml:"reaperInterval"`
	HistoryRetention time.Duration `yaml:"historyRetention"`
	// ResponseRate is the sustained number of responses per second per agent.
	ResponseRate  float64 `yaml:"responseRate"`
	ResponseBurst int     `yaml:"responseBurst"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:     "8080",
		DBPath:   "./data/agentlink.db",
		LogLevel: "info",
		Agent: AgentConfig{
			Address:        "localhost:50051",
			ConnectTimeout: 5 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		Stream: StreamConfig{
			BackoffInitial:    time.Second,
			BackoffMax:        time.Second,
			BackoffMultiplier: 1,
		},
		Sessions: SessionsConfig{
			IdleTTL:          60 * time.Minute,
			ReaperInterval:   5 * time.Minute,
			HistoryRetention: 30 * 24 * time.Hour,
			ResponseRate:     5,
			ResponseBurst:    5,
		},
	}
}

// Load reads configuration from the file named by AGENTLINK_CONFIG, if any,
// and from environment variables.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv(ConfigFileEnv))
}

// LoadFrom is Load with an explicit file path. An empty path skips the file.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Agent.Address = getEnv("AGENT_ADDR", c.Agent.Address)
	c.Agent.ConnectTimeout = getEnvDuration("AGENT_CONNECT_TIMEOUT", c.Agent.ConnectTimeout)
	c.Agent.RequestTimeout = getEnvDuration("AGENT_REQUEST_TIMEOUT", c.Agent.RequestTimeout)

	c.Stream.BackoffInitial = getEnvDuration("STREAM_BACKOFF_INITIAL", c.Stream.BackoffInitial)
	c.Stream.BackoffMax = getEnvDuration("STREAM_BACKOFF_MAX", c.Stream.BackoffMax)
	c.Stream.BackoffMultiplier = getEnvFloat("STREAM_BACKOFF_MULTIPLIER", c.Stream.BackoffMultiplier)

	c.Sessions.IdleTTL = getEnvDuration("SESSION_IDLE_TTL", c.Sessions.IdleTTL)
	c.Sessions.ReaperInterval = getEnvDuration("SESSION_REAPER_INTERVAL", c.Sessions.ReaperInterval)
	c.Sessions.HistoryRetention = getEnvDuration("HISTORY_RETENTION", c.Sessions.HistoryRetention)
	c.Sessions.ResponseRate = getEnvFloat("RESPONSE_RATE", c.Sessions.ResponseRate)
	c.Sessions.ResponseBurst = getEnvInt("RESPONSE_BURST", c.Sessions.ResponseBurst)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Agent.Address == "" {
		return fmt.Errorf("AGENT_ADDR cannot be empty")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Stream.BackoffInitial <= 0 {
		return fmt.Errorf("STREAM_BACKOFF_INITIAL must be > 0")
	}
	if c.Stream.BackoffMax < c.Stream.BackoffInitial {
		return fmt.Errorf("STREAM_BACKOFF_MAX must be >= STREAM_BACKOFF_INITIAL")
	}
	if c.Stream.BackoffMultiplier < 1 {
		return fmt.Errorf("STREAM_BACKOFF_MULTIPLIER must be >= 1")
	}
	if c.Sessions.IdleTTL < 0 {
		return fmt.Errorf("SESSION_IDLE_TTL cannot be negative")
	}
	if c.Sessions.IdleTTL > 0 && c.Sessions.ReaperInterval <= 0 {
		return fmt.Errorf("SESSION_REAPER_INTERVAL must be > 0")
	}
	if c.Sessions.ResponseRate < 0 {
		return fmt.Errorf("RESPONSE_RATE cannot be negative")
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL %q is not a valid level", c.LogLevel)
	}
	return level, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
