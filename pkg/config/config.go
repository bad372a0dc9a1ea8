// Package config loads SKALD configuration from a YAML file and environment
// variables.
//
// Precedence, lowest to highest: built-in defaults, the YAML file (if one is
// given), then SKALD_* environment variables. Environment variables win so a
// deployment can override a checked-in config file without editing it.
//
// Example Usage:
//
//	cfg, err := config.Load("./skald.yaml")
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
//	db, err := skald.Open(skald.Options{
//		Name: cfg.Database.Name,
//		Dir:  cfg.Database.DataDir,
//	})
//
// Environment Variables:
//   - SKALD_DB_NAME="social"
//   - SKALD_DATA_DIR="./data"
//   - SKALD_IN_MEMORY=true
//   - SKALD_SYNC_WRITES=true
//   - SKALD_BLOCK_CAPACITY=16384
//   - SKALD_MAX_NODES=0 (0 = unlimited)
//   - SKALD_MAX_EDGES=0
//   - SKALD_CHECKPOINT_INTERVAL=5m (0 = manual checkpoints only)
//   - SKALD_CHECKPOINT_ON_CLOSE=true
//   - SKALD_LOG_LEVEL="INFO"
//   - SKALD_LOG_FORMAT="json" or "text"
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all SKALD configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Graph      GraphConfig      `yaml:"graph"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DatabaseConfig holds keyspace settings.
type DatabaseConfig struct {
	// Name keys the durable image in the keyspace.
	Name string `yaml:"name"`
	// DataDir is the directory for the keyspace's files.
	DataDir string `yaml:"data_dir"`
	// InMemory keeps the keyspace in RAM; nothing survives a restart.
	InMemory bool `yaml:"in_memory"`
	// SyncWrites forces fsync on every checkpoint save.
	SyncWrites bool `yaml:"sync_writes"`
}

// GraphConfig tunes the in-memory engine.
type GraphConfig struct {
	// BlockCapacity is the slots-per-block of the entity arenas.
	// 0 uses the engine default.
	BlockCapacity uint64 `yaml:"block_capacity"`
	// MaxNodes caps the node arena. 0 means unlimited.
	MaxNodes uint64 `yaml:"max_nodes"`
	// MaxEdges caps the edge arena. 0 means unlimited.
	MaxEdges uint64 `yaml:"max_edges"`
}

// CheckpointConfig controls automatic durability.
type CheckpointConfig struct {
	// Interval between automatic checkpoints. 0 disables them; the
	// application checkpoints explicitly.
	Interval time.Duration `yaml:"interval"`
	// OnClose checkpoints once more during shutdown.
	OnClose bool `yaml:"on_close"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR.
	Level string `yaml:"level"`
	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Name:    "skald",
			DataDir: "./data",
		},
		Checkpoint: CheckpointConfig{
			OnClose: true,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "json",
		},
	}
}

// Load builds the effective configuration: defaults, overlaid by the YAML
// file at path (skipped when path is empty), overlaid by SKALD_* environment
// variables. The result is validated before being returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv builds the configuration from defaults and environment
// variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func (c *Config) applyEnv() {
	c.Database.Name = getEnv("SKALD_DB_NAME", c.Database.Name)
	c.Database.DataDir = getEnv("SKALD_DATA_DIR", c.Database.DataDir)
	c.Database.InMemory = getEnvBool("SKALD_IN_MEMORY", c.Database.InMemory)
	c.Database.SyncWrites = getEnvBool("SKALD_SYNC_WRITES", c.Database.SyncWrites)

	c.Graph.BlockCapacity = getEnvUint("SKALD_BLOCK_CAPACITY", c.Graph.BlockCapacity)
	c.Graph.MaxNodes = getEnvUint("SKALD_MAX_NODES", c.Graph.MaxNodes)
	c.Graph.MaxEdges = getEnvUint("SKALD_MAX_EDGES", c.Graph.MaxEdges)

	c.Checkpoint.Interval = getEnvDuration("SKALD_CHECKPOINT_INTERVAL", c.Checkpoint.Interval)
	c.Checkpoint.OnClose = getEnvBool("SKALD_CHECKPOINT_ON_CLOSE", c.Checkpoint.OnClose)

	c.Logging.Level = getEnv("SKALD_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("SKALD_LOG_FORMAT", c.Logging.Format)
}

// Validate checks the configuration for logical errors.
func (c *Config) Validate() error {
	if c.Database.Name == "" {
		return fmt.Errorf("config: database name must not be empty")
	}
	if !c.Database.InMemory && c.Database.DataDir == "" {
		return fmt.Errorf("config: data_dir required unless in_memory is set")
	}
	if c.Checkpoint.Interval < 0 {
		return fmt.Errorf("config: negative checkpoint interval: %s", c.Checkpoint.Interval)
	}
	switch c.Logging.Level {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Logging.Format)
	}
	return nil
}

// String returns a representation safe for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{DB: %s, DataDir: %s, InMemory: %v, CheckpointInterval: %s}",
		c.Database.Name, c.Database.DataDir, c.Database.InMemory, c.Checkpoint.Interval,
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvUint(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseUint(val, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
