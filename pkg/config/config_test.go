package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults_are_valid", func(t *testing.T) {
		cfg, err := LoadFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "skald", cfg.Database.Name)
		assert.Equal(t, "./data", cfg.Database.DataDir)
		assert.True(t, cfg.Checkpoint.OnClose)
		assert.Equal(t, "INFO", cfg.Logging.Level)
	})

	t.Run("yaml_file_overrides_defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "skald.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
database:
  name: social
  data_dir: /var/lib/skald
checkpoint:
  interval: 5m
logging:
  level: DEBUG
  format: text
`), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "social", cfg.Database.Name)
		assert.Equal(t, "/var/lib/skald", cfg.Database.DataDir)
		assert.Equal(t, 5*time.Minute, cfg.Checkpoint.Interval)
		assert.Equal(t, "DEBUG", cfg.Logging.Level)
		assert.Equal(t, "text", cfg.Logging.Format)
	})

	t.Run("env_overrides_yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "skald.yaml")
		require.NoError(t, os.WriteFile(path, []byte("database:\n  name: from-file\n"), 0o644))
		t.Setenv("SKALD_DB_NAME", "from-env")
		t.Setenv("SKALD_BLOCK_CAPACITY", "4096")
		t.Setenv("SKALD_IN_MEMORY", "true")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.Database.Name)
		assert.Equal(t, uint64(4096), cfg.Graph.BlockCapacity)
		assert.True(t, cfg.Database.InMemory)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed_yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("database: [not a map"), 0o644))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("unparseable_env_values_fall_back", func(t *testing.T) {
		t.Setenv("SKALD_BLOCK_CAPACITY", "lots")
		t.Setenv("SKALD_CHECKPOINT_INTERVAL", "sometimes")

		cfg, err := LoadFromEnv()
		require.NoError(t, err)
		assert.Equal(t, uint64(0), cfg.Graph.BlockCapacity)
		assert.Equal(t, time.Duration(0), cfg.Checkpoint.Interval)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config { return Default() }

	t.Run("empty_database_name", func(t *testing.T) {
		cfg := valid()
		cfg.Database.Name = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing_data_dir_without_in_memory", func(t *testing.T) {
		cfg := valid()
		cfg.Database.DataDir = ""
		assert.Error(t, cfg.Validate())

		cfg.Database.InMemory = true
		assert.NoError(t, cfg.Validate())
	})

	t.Run("negative_checkpoint_interval", func(t *testing.T) {
		cfg := valid()
		cfg.Checkpoint.Interval = -time.Second
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown_log_level", func(t *testing.T) {
		cfg := valid()
		cfg.Logging.Level = "LOUD"
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown_log_format", func(t *testing.T) {
		cfg := valid()
		cfg.Logging.Format = "xml"
		assert.Error(t, cfg.Validate())
	})
}
