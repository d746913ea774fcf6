// Package config handles wyrd configuration from YAML files and
// environment variables.
//
// Configuration is organized into logical sections (storage, server,
// engine, logging). Defaults come from DefaultConfig(); LoadFile merges a
// YAML file over them and LoadFromEnv applies WYRD_* environment
// variables on top, so precedence is env > file > defaults.
//
// Example Usage:
//
//	cfg, err := config.LoadFile("wyrd.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	cfg.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//
// Environment Variables:
//   - WYRD_DATA_DIR="./data"
//   - WYRD_IN_MEMORY=true
//   - WYRD_SYNC_WRITES=true
//   - WYRD_SNAPSHOT_EVERY=5m
//   - WYRD_KEEP_SNAPSHOTS=10
//   - WYRD_HTTP_HOST="0.0.0.0"
//   - WYRD_HTTP_PORT=8470
//   - WYRD_HTTP_MODE="release"
//   - WYRD_SOFT_CREATE_BUDGET=1ms
//   - WYRD_MAX_DEPTH=5
//   - WYRD_MAX_CHAINS=100
//   - WYRD_LOG_WARNINGS=true
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all wyrd configuration.
type Config struct {
	// Storage settings for the persistence layer.
	Storage StorageConfig `yaml:"storage"`

	// Server settings for the HTTP API.
	Server ServerConfig `yaml:"server"`

	// Engine settings for the causal graph itself.
	Engine EngineConfig `yaml:"engine"`

	// Logging settings.
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// DataDir is the directory for the snapshot archive and journal.
	DataDir string `yaml:"data_dir"`
	// InMemory runs the archive in memory-only mode (testing).
	InMemory bool `yaml:"in_memory"`
	// SyncWrites forces fsync after each archive write.
	SyncWrites bool `yaml:"sync_writes"`
	// SnapshotEvery is how often the server snapshots the graph to the
	// archive. Zero disables background snapshots.
	SnapshotEvery time.Duration `yaml:"snapshot_every"`
	// KeepSnapshots is how many archived snapshots Prune retains.
	KeepSnapshots int `yaml:"keep_snapshots"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Mode is the gin mode: debug, release or test.
	Mode string `yaml:"mode"`
}

// EngineConfig holds causal-graph settings.
type EngineConfig struct {
	// SoftCreateBudget is the advisory latency budget for link creation.
	// Exceeding it is only ever a warning.
	SoftCreateBudget time.Duration `yaml:"soft_create_budget"`
	// MaxDepth and MaxChains are the traversal bounds applied when a
	// request does not set its own.
	MaxDepth  int `yaml:"max_depth"`
	MaxChains int `yaml:"max_chains"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Warnings forwards engine advisory warnings to the process log.
	Warnings bool `yaml:"warnings"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:       "./data",
			SnapshotEvery: 5 * time.Minute,
			KeepSnapshots: 10,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8470,
			Mode: "release",
		},
		Engine: EngineConfig{
			SoftCreateBudget: time.Millisecond,
			MaxDepth:         5,
			MaxChains:        100,
		},
		Logging: LoggingConfig{
			Warnings: true,
		},
	}
}

// LoadFile reads a YAML config file merged over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv applies WYRD_* environment variables over the current
// values. Unset or unparseable variables leave the value unchanged.
func (c *Config) LoadFromEnv() {
	c.Storage.DataDir = getEnv("WYRD_DATA_DIR", c.Storage.DataDir)
	c.Storage.InMemory = getEnvBool("WYRD_IN_MEMORY", c.Storage.InMemory)
	c.Storage.SyncWrites = getEnvBool("WYRD_SYNC_WRITES", c.Storage.SyncWrites)
	c.Storage.SnapshotEvery = getEnvDuration("WYRD_SNAPSHOT_EVERY", c.Storage.SnapshotEvery)
	c.Storage.KeepSnapshots = getEnvInt("WYRD_KEEP_SNAPSHOTS", c.Storage.KeepSnapshots)

	c.Server.Host = getEnv("WYRD_HTTP_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("WYRD_HTTP_PORT", c.Server.Port)
	c.Server.Mode = getEnv("WYRD_HTTP_MODE", c.Server.Mode)

	c.Engine.SoftCreateBudget = getEnvDuration("WYRD_SOFT_CREATE_BUDGET", c.Engine.SoftCreateBudget)
	c.Engine.MaxDepth = getEnvInt("WYRD_MAX_DEPTH", c.Engine.MaxDepth)
	c.Engine.MaxChains = getEnvInt("WYRD_MAX_CHAINS", c.Engine.MaxChains)

	c.Logging.Warnings = getEnvBool("WYRD_LOG_WARNINGS", c.Logging.Warnings)
}

// Validate checks the configuration for logical errors.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" && !c.Storage.InMemory {
		return fmt.Errorf("config: data_dir is required unless in_memory is set")
	}
	if c.Storage.KeepSnapshots < 0 {
		return fmt.Errorf("config: keep_snapshots must not be negative: %d", c.Storage.KeepSnapshots)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid http port: %d", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: invalid server mode %q", c.Server.Mode)
	}
	if c.Engine.MaxDepth <= 0 {
		return fmt.Errorf("config: max_depth must be positive: %d", c.Engine.MaxDepth)
	}
	if c.Engine.MaxChains <= 0 {
		return fmt.Errorf("config: max_chains must be positive: %d", c.Engine.MaxChains)
	}
	if c.Engine.SoftCreateBudget < 0 {
		return fmt.Errorf("config: soft_create_budget must not be negative: %v", c.Engine.SoftCreateBudget)
	}
	return nil
}

// String returns a representation safe for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{HTTP: %s:%d, DataDir: %s, SnapshotEvery: %v, MaxDepth: %d, MaxChains: %d}",
		c.Server.Host, c.Server.Port,
		c.Storage.DataDir, c.Storage.SnapshotEvery,
		c.Engine.MaxDepth, c.Engine.MaxChains,
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
