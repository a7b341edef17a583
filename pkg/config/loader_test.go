package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/config"
)

type workerConfig struct {
	PollInterval time.Duration `env:"TEST_WORKER_POLL" envDefault:"1s"`
	Concurrency  int           `env:"TEST_WORKER_CONCURRENCY" envDefault:"4"`
	Queues       []string      `env:"TEST_WORKER_QUEUES" envSeparator:","`
}

type requiredConfig struct {
	DSN string `env:"TEST_REQUIRED_DSN,required"`
}

type cachedConfig struct {
	Value string `env:"TEST_CACHED_VALUE" envDefault:"first"`
}

type envFileConfig struct {
	Name string `env:"TEST_ENV_FILE_NAME"`
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_WORKER_POLL", "250ms")
	t.Setenv("TEST_WORKER_QUEUES", "email,reports")
	config.ResetCache()

	var cfg workerConfig
	require.NoError(t, config.Load(&cfg))

	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, []string{"email", "reports"}, cfg.Queues)
}

func TestLoad_Errors(t *testing.T) {
	config.ResetCache()

	assert.ErrorIs(t, config.Load[workerConfig](nil), config.ErrNilPointer)

	var cfg requiredConfig
	assert.ErrorIs(t, config.Load(&cfg), config.ErrParsingConfig)
	assert.Panics(t, func() {
		var again requiredConfig
		config.ResetCache()
		config.MustLoad(&again)
	})
}

func TestLoad_Cached(t *testing.T) {
	config.ResetCache()

	var first cachedConfig
	require.NoError(t, config.Load(&first))
	assert.Equal(t, "first", first.Value)

	t.Setenv("TEST_CACHED_VALUE", "second")

	var cached cachedConfig
	require.NoError(t, config.Load(&cached))
	assert.Equal(t, "first", cached.Value, "served from cache")

	config.ResetCache()
	var fresh cachedConfig
	require.NoError(t, config.Load(&fresh))
	assert.Equal(t, "second", fresh.Value)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env.test")
	require.NoError(t, os.WriteFile(path, []byte("TEST_ENV_FILE_NAME=\"from file\"\n"), 0o600))

	// godotenv sets variables directly; register cleanup through t.Setenv
	t.Setenv("TEST_ENV_FILE_NAME", "")
	require.NoError(t, os.Unsetenv("TEST_ENV_FILE_NAME"))
	config.ResetCache()

	require.NoError(t, config.LoadEnv(path))

	var cfg envFileConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "from file", cfg.Name)

	assert.ErrorIs(t, config.LoadEnv(filepath.Join(dir, "missing.env")), config.ErrLoadingEnvFile)
}
