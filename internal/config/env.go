// Package config provides application configuration.
package config

import (
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvConfig holds all environment-based configuration for the ambient
// engine surface: logging, the embedding endpoint, cache tier sizing, and
// broker concurrency. Field names map directly to environment variables,
// with no prefix, mirroring the teacher's pydantic-settings-style layout.
type EnvConfig struct {
	// LogLevel is the log verbosity level.
	// Env: LOG_LEVEL (default: INFO)
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	// LogFormat is the log output format (pretty or json).
	// Env: LOG_FORMAT (default: pretty)
	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// DataDir is the data directory path.
	// Env: DATA_DIR
	// Default: ~/.strata
	DataDir string `envconfig:"DATA_DIR"`

	// DBURL is the database connection URL.
	// Env: DB_URL
	DBURL string `envconfig:"DB_URL"`

	// SearchLimit is the default search result limit.
	// Env: SEARCH_LIMIT (default: 10)
	SearchLimit int `envconfig:"SEARCH_LIMIT" default:"10"`

	// BrokerWorkers is the concurrency cap on the request broker.
	// Env: BROKER_WORKERS (default: 10)
	BrokerWorkers int `envconfig:"BROKER_WORKERS" default:"10"`

	// BrokerQueueCap is the overflow queue depth before requests are
	// rejected as overloaded.
	// Env: BROKER_QUEUE_CAP (default: 100)
	BrokerQueueCap int `envconfig:"BROKER_QUEUE_CAP" default:"100"`

	// EmbeddingEndpoint configures the embedding provider HTTP endpoint.
	EmbeddingEndpoint EndpointEnv `envconfig:"EMBEDDING_ENDPOINT"`

	// CacheTier configures the three-tier embedding cache's size limits.
	CacheTier CacheTierEnv `envconfig:"CACHE"`
}

// EndpointEnv holds environment configuration for the embedding endpoint.
type EndpointEnv struct {
	// BaseURL is the base URL for the endpoint.
	// Env: EMBEDDING_ENDPOINT_BASE_URL
	BaseURL string `envconfig:"BASE_URL"`

	// Model is the model identifier (e.g., openai/text-embedding-3-small).
	// Env: EMBEDDING_ENDPOINT_MODEL
	Model string `envconfig:"MODEL"`

	// APIKey is the API key for authentication.
	// Env: EMBEDDING_ENDPOINT_API_KEY
	APIKey string `envconfig:"API_KEY"`

	// NumParallelTasks is the number of parallel embedding requests.
	// Env: EMBEDDING_ENDPOINT_NUM_PARALLEL_TASKS (default: 4)
	NumParallelTasks int `envconfig:"NUM_PARALLEL_TASKS" default:"4"`

	// Timeout is the request timeout in seconds.
	// Env: EMBEDDING_ENDPOINT_TIMEOUT (default: 60)
	Timeout float64 `envconfig:"TIMEOUT" default:"60"`

	// MaxRetries is the maximum number of retries.
	// Env: EMBEDDING_ENDPOINT_MAX_RETRIES (default: 5)
	MaxRetries int `envconfig:"MAX_RETRIES" default:"5"`

	// InitialDelay is the initial retry delay in seconds.
	// Env: EMBEDDING_ENDPOINT_INITIAL_DELAY (default: 2.0)
	InitialDelay float64 `envconfig:"INITIAL_DELAY" default:"2.0"`

	// BackoffFactor is the retry backoff multiplier.
	// Env: EMBEDDING_ENDPOINT_BACKOFF_FACTOR (default: 2.0)
	BackoffFactor float64 `envconfig:"BACKOFF_FACTOR" default:"2.0"`

	// MaxBatchChars is the maximum total characters per embedding batch.
	// Env: EMBEDDING_ENDPOINT_MAX_BATCH_CHARS (default: 16000)
	MaxBatchChars int `envconfig:"MAX_BATCH_CHARS" default:"16000"`
}

// IsConfigured returns true if the endpoint has a base URL configured.
func (e EndpointEnv) IsConfigured() bool {
	return e.BaseURL != ""
}

// ToEndpoint converts EndpointEnv to Endpoint.
func (e EndpointEnv) ToEndpoint() Endpoint {
	return NewEndpointWithOptions(
		WithBaseURL(e.BaseURL),
		WithModel(e.Model),
		WithAPIKey(e.APIKey),
		WithNumParallelTasks(e.NumParallelTasks),
		WithTimeout(time.Duration(e.Timeout*float64(time.Second))),
		WithMaxRetries(e.MaxRetries),
		WithInitialDelay(time.Duration(e.InitialDelay*float64(time.Second))),
		WithBackoffFactor(e.BackoffFactor),
		WithMaxBatchChars(e.MaxBatchChars),
	)
}

// CacheTierEnv holds environment configuration for the embedding cache tiers.
type CacheTierEnv struct {
	// MemoryEntries is the capacity of the in-memory LRU tier.
	// Env: CACHE_MEMORY_ENTRIES (default: 10000)
	MemoryEntries int `envconfig:"MEMORY_ENTRIES" default:"10000"`

	// DBMaxMB is the size cap in megabytes of the in-database cache tier.
	// Env: CACHE_DB_MAX_MB (default: 256)
	DBMaxMB int `envconfig:"DB_MAX_MB" default:"256"`

	// PruneIntervalSeconds is how often the in-database tier is pruned.
	// Env: CACHE_PRUNE_INTERVAL_SECONDS (default: 600)
	PruneIntervalSeconds float64 `envconfig:"PRUNE_INTERVAL_SECONDS" default:"600"`
}

// ToCacheTierConfig converts CacheTierEnv to CacheTierConfig.
func (c CacheTierEnv) ToCacheTierConfig() CacheTierConfig {
	return NewCacheTierConfig().
		WithMemoryEntries(c.MemoryEntries).
		WithDBMaxMB(c.DBMaxMB).
		WithPruneInterval(time.Duration(c.PruneIntervalSeconds * float64(time.Second)))
}

// LoadFromEnv loads configuration from environment variables.
// It uses no prefix, matching the teacher's pydantic-settings behavior.
func LoadFromEnv() (EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return EnvConfig{}, err
	}
	return cfg, nil
}

// LoadFromEnvWithPrefix loads configuration with a custom prefix.
// For example, prefix "STRATA" would require STRATA_DATA_DIR instead of
// DATA_DIR.
func LoadFromEnvWithPrefix(prefix string) (EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return EnvConfig{}, err
	}
	return cfg, nil
}

// parseLogFormat parses a log format string, defaulting to pretty.
func parseLogFormat(s string) LogFormat {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return LogFormatJSON
	default:
		return LogFormatPretty
	}
}
