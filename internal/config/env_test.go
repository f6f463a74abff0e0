package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvStorageDSN, "postgres://db/txguard")
	t.Setenv(EnvStorageDriver, "postgres")
	t.Setenv(EnvKafkaBrokers, "k1:9092, ,k2:9092")

	cfg := DefaultConfig()
	ApplyEnv(cfg)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Storage.Enabled)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://db/txguard", cfg.Storage.DSN)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Ingest.Kafka.Brokers)
}

func TestManagerAppliesEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	path := writeFile(t, t.TempDir(), "txguard.yaml", "log_level: info\n")
	m, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", m.Get().LogLevel)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TXGUARD_TEST_DOTENV=from-file\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("TXGUARD_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("TXGUARD_TEST_DOTENV"))
	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}
