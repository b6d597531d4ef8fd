package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "pretty", cfg.LogFormat)
	assert.Equal(t, "", cfg.DataDir)
	assert.Equal(t, "", cfg.DBURL)
	assert.Equal(t, 10, cfg.SearchLimit)
	assert.Equal(t, 10, cfg.BrokerWorkers)
	assert.Equal(t, 100, cfg.BrokerQueueCap)
}

func TestEnvDefaults_MatchConfigDefaults(t *testing.T) {
	// Go's struct tag defaults must be literals, so this test ensures they
	// stay in sync with the constants in config.go.
	clearEnvVars(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultSearchLimit, cfg.SearchLimit)
	assert.Equal(t, DefaultBrokerWorkers, cfg.BrokerWorkers)
	assert.Equal(t, DefaultBrokerQueueCap, cfg.BrokerQueueCap)

	assert.Equal(t, DefaultEndpointParallelTasks, cfg.EmbeddingEndpoint.NumParallelTasks)
	assert.Equal(t, DefaultEndpointTimeout.Seconds(), cfg.EmbeddingEndpoint.Timeout)
	assert.Equal(t, DefaultEndpointMaxRetries, cfg.EmbeddingEndpoint.MaxRetries)
	assert.Equal(t, DefaultEndpointInitialDelay.Seconds(), cfg.EmbeddingEndpoint.InitialDelay)
	assert.Equal(t, DefaultEndpointBackoffFactor, cfg.EmbeddingEndpoint.BackoffFactor)
	assert.Equal(t, DefaultEndpointMaxBatchChars, cfg.EmbeddingEndpoint.MaxBatchChars)

	assert.Equal(t, DefaultMemoryCacheEntries, cfg.CacheTier.MemoryEntries)
	assert.Equal(t, DefaultDBCacheMaxMB, cfg.CacheTier.DBMaxMB)
	assert.Equal(t, DefaultCachePruneInterval.Seconds(), cfg.CacheTier.PruneIntervalSeconds)
}

func TestLoadFromEnv_OverrideValues(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("DATA_DIR", "/custom/data")
	t.Setenv("DB_URL", "postgres://localhost/strata")
	t.Setenv("SEARCH_LIMIT", "25")
	t.Setenv("BROKER_WORKERS", "4")
	t.Setenv("BROKER_QUEUE_CAP", "50")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "/custom/data", cfg.DataDir)
	assert.Equal(t, "postgres://localhost/strata", cfg.DBURL)
	assert.Equal(t, 25, cfg.SearchLimit)
	assert.Equal(t, 4, cfg.BrokerWorkers)
	assert.Equal(t, 50, cfg.BrokerQueueCap)
}

func TestLoadFromEnv_EmbeddingEndpoint(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("EMBEDDING_ENDPOINT_BASE_URL", "https://api.openai.com/v1")
	t.Setenv("EMBEDDING_ENDPOINT_MODEL", "text-embedding-3-small")
	t.Setenv("EMBEDDING_ENDPOINT_API_KEY", "sk-test-key")
	t.Setenv("EMBEDDING_ENDPOINT_NUM_PARALLEL_TASKS", "5")
	t.Setenv("EMBEDDING_ENDPOINT_TIMEOUT", "120")
	t.Setenv("EMBEDDING_ENDPOINT_MAX_RETRIES", "3")
	t.Setenv("EMBEDDING_ENDPOINT_INITIAL_DELAY", "1.5")
	t.Setenv("EMBEDDING_ENDPOINT_BACKOFF_FACTOR", "1.5")
	t.Setenv("EMBEDDING_ENDPOINT_MAX_BATCH_CHARS", "8000")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.True(t, cfg.EmbeddingEndpoint.IsConfigured())
	assert.Equal(t, "https://api.openai.com/v1", cfg.EmbeddingEndpoint.BaseURL)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingEndpoint.Model)
	assert.Equal(t, "sk-test-key", cfg.EmbeddingEndpoint.APIKey)
	assert.Equal(t, 5, cfg.EmbeddingEndpoint.NumParallelTasks)
	assert.Equal(t, 120.0, cfg.EmbeddingEndpoint.Timeout)
	assert.Equal(t, 3, cfg.EmbeddingEndpoint.MaxRetries)
	assert.Equal(t, 1.5, cfg.EmbeddingEndpoint.InitialDelay)
	assert.Equal(t, 1.5, cfg.EmbeddingEndpoint.BackoffFactor)
	assert.Equal(t, 8000, cfg.EmbeddingEndpoint.MaxBatchChars)
}

func TestLoadFromEnv_CacheTier(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("CACHE_MEMORY_ENTRIES", "500")
	t.Setenv("CACHE_DB_MAX_MB", "64")
	t.Setenv("CACHE_PRUNE_INTERVAL_SECONDS", "60")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.CacheTier.MemoryEntries)
	assert.Equal(t, 64, cfg.CacheTier.DBMaxMB)
	assert.Equal(t, 60.0, cfg.CacheTier.PruneIntervalSeconds)
}

func TestEndpointEnv_ToEndpoint(t *testing.T) {
	env := EndpointEnv{
		BaseURL:          "https://api.example.com",
		Model:            "test-model",
		APIKey:           "test-key",
		NumParallelTasks: 5,
		Timeout:          120,
		MaxRetries:       3,
		InitialDelay:     1.5,
		BackoffFactor:    1.5,
		MaxBatchChars:    8000,
	}

	endpoint := env.ToEndpoint()

	assert.Equal(t, "https://api.example.com", endpoint.BaseURL())
	assert.Equal(t, "test-model", endpoint.Model())
	assert.Equal(t, "test-key", endpoint.APIKey())
	assert.Equal(t, 5, endpoint.NumParallelTasks())
	assert.Equal(t, 120*time.Second, endpoint.Timeout())
	assert.Equal(t, 3, endpoint.MaxRetries())
	assert.Equal(t, time.Duration(1.5*float64(time.Second)), endpoint.InitialDelay())
	assert.Equal(t, 1.5, endpoint.BackoffFactor())
	assert.Equal(t, 8000, endpoint.MaxBatchChars())
}

func TestCacheTierEnv_ToCacheTierConfig(t *testing.T) {
	env := CacheTierEnv{
		MemoryEntries:        500,
		DBMaxMB:              64,
		PruneIntervalSeconds: 120,
	}

	cfg := env.ToCacheTierConfig()

	assert.Equal(t, 500, cfg.MemoryEntries())
	assert.Equal(t, 64, cfg.DBMaxMB())
	assert.Equal(t, 2*time.Minute, cfg.PruneInterval())
}

func TestParseLogFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected LogFormat
	}{
		{"json", LogFormatJSON},
		{"JSON", LogFormatJSON},
		{"pretty", LogFormatPretty},
		{"PRETTY", LogFormatPretty},
		{"", LogFormatPretty},
		{"invalid", LogFormatPretty},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.expected, parseLogFormat(tc.input))
		})
	}
}

// clearEnvVars unsets all config-related environment variables.
func clearEnvVars(t *testing.T) {
	t.Helper()

	vars := []string{
		"LOG_LEVEL",
		"LOG_FORMAT",
		"DATA_DIR",
		"DB_URL",
		"SEARCH_LIMIT",
		"BROKER_WORKERS",
		"BROKER_QUEUE_CAP",
		"EMBEDDING_ENDPOINT_BASE_URL",
		"EMBEDDING_ENDPOINT_MODEL",
		"EMBEDDING_ENDPOINT_API_KEY",
		"EMBEDDING_ENDPOINT_NUM_PARALLEL_TASKS",
		"EMBEDDING_ENDPOINT_TIMEOUT",
		"EMBEDDING_ENDPOINT_MAX_RETRIES",
		"EMBEDDING_ENDPOINT_INITIAL_DELAY",
		"EMBEDDING_ENDPOINT_BACKOFF_FACTOR",
		"EMBEDDING_ENDPOINT_MAX_BATCH_CHARS",
		"CACHE_MEMORY_ENTRIES",
		"CACHE_DB_MAX_MB",
		"CACHE_PRUNE_INTERVAL_SECONDS",
	}

	for _, v := range vars {
		_ = os.Unsetenv(v)
	}
}
