// Package config provides ambient configuration shared across the engine:
// logger defaults, data directory preparation, and the functional-option
// value types used by the embedding provider and cache layers.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Default configuration values.
const (
	DefaultLogLevel       = "INFO"
	DefaultBrokerWorkers  = 10
	DefaultBrokerQueueCap = 100
	DefaultRequestTimeout = 30 * time.Second
	DefaultSearchLimit    = 10
	DefaultRRFConstant    = 60.0

	DefaultEndpointParallelTasks = 4
	DefaultEndpointTimeout       = 60 * time.Second
	DefaultEndpointMaxRetries    = 5
	DefaultEndpointInitialDelay = 2 * time.Second
	DefaultEndpointBackoffFactor = 2.0
	DefaultEndpointMaxBatchChars = 16000

	DefaultMemoryCacheEntries = 10000
	DefaultDBCacheMaxMB       = 256
	DefaultCachePruneInterval = 10 * time.Minute

	DefaultQueuePollPeriod = time.Second
)

// LogFormat represents the log output format.
type LogFormat string

// LogFormat values.
const (
	LogFormatPretty LogFormat = "pretty"
	LogFormatJSON   LogFormat = "json"
)

// Endpoint configures an HTTP embedding provider endpoint.
type Endpoint struct {
	baseURL          string
	model            string
	apiKey           string
	numParallelTasks int
	timeout          time.Duration
	maxRetries       int
	initialDelay     time.Duration
	backoffFactor    float64
	maxBatchChars    int
}

// NewEndpoint creates a new Endpoint with defaults.
func NewEndpoint() Endpoint {
	return Endpoint{
		numParallelTasks: DefaultEndpointParallelTasks,
		timeout:          DefaultEndpointTimeout,
		maxRetries:       DefaultEndpointMaxRetries,
		initialDelay:     DefaultEndpointInitialDelay,
		backoffFactor:    DefaultEndpointBackoffFactor,
		maxBatchChars:    DefaultEndpointMaxBatchChars,
	}
}

// BaseURL returns the base URL for the endpoint.
func (e Endpoint) BaseURL() string { return e.baseURL }

// Model returns the model identifier.
func (e Endpoint) Model() string { return e.model }

// APIKey returns the API key.
func (e Endpoint) APIKey() string { return e.apiKey }

// NumParallelTasks returns the number of parallel tasks.
func (e Endpoint) NumParallelTasks() int { return e.numParallelTasks }

// Timeout returns the request timeout.
func (e Endpoint) Timeout() time.Duration { return e.timeout }

// MaxRetries returns the maximum retry count.
func (e Endpoint) MaxRetries() int { return e.maxRetries }

// InitialDelay returns the initial retry delay.
func (e Endpoint) InitialDelay() time.Duration { return e.initialDelay }

// BackoffFactor returns the retry backoff multiplier.
func (e Endpoint) BackoffFactor() float64 { return e.backoffFactor }

// MaxBatchChars returns the maximum total characters per embedding batch.
func (e Endpoint) MaxBatchChars() int { return e.maxBatchChars }

// IsConfigured returns true if the endpoint has required configuration.
func (e Endpoint) IsConfigured() bool {
	return e.baseURL != ""
}

// EndpointOption is a functional option for Endpoint.
type EndpointOption func(*Endpoint)

// WithBaseURL sets the base URL.
func WithBaseURL(url string) EndpointOption {
	return func(e *Endpoint) { e.baseURL = url }
}

// WithModel sets the model.
func WithModel(model string) EndpointOption {
	return func(e *Endpoint) { e.model = model }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) EndpointOption {
	return func(e *Endpoint) { e.apiKey = key }
}

// WithNumParallelTasks sets the parallel task count.
func WithNumParallelTasks(n int) EndpointOption {
	return func(e *Endpoint) { e.numParallelTasks = n }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) EndpointOption {
	return func(e *Endpoint) { e.timeout = d }
}

// WithMaxRetries sets the maximum retry count.
func WithMaxRetries(n int) EndpointOption {
	return func(e *Endpoint) { e.maxRetries = n }
}

// WithInitialDelay sets the initial retry delay.
func WithInitialDelay(d time.Duration) EndpointOption {
	return func(e *Endpoint) { e.initialDelay = d }
}

// WithBackoffFactor sets the retry backoff multiplier.
func WithBackoffFactor(f float64) EndpointOption {
	return func(e *Endpoint) { e.backoffFactor = f }
}

// WithMaxBatchChars sets the maximum total characters per embedding batch.
func WithMaxBatchChars(n int) EndpointOption {
	return func(e *Endpoint) { e.maxBatchChars = n }
}

// NewEndpointWithOptions creates an Endpoint with functional options.
func NewEndpointWithOptions(opts ...EndpointOption) Endpoint {
	e := NewEndpoint()
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// CacheTierConfig configures the size limits of the three embedding cache tiers.
type CacheTierConfig struct {
	memoryEntries int
	dbMaxMB       int
	pruneInterval time.Duration
}

// NewCacheTierConfig creates a CacheTierConfig with defaults.
func NewCacheTierConfig() CacheTierConfig {
	return CacheTierConfig{
		memoryEntries: DefaultMemoryCacheEntries,
		dbMaxMB:       DefaultDBCacheMaxMB,
		pruneInterval: DefaultCachePruneInterval,
	}
}

// MemoryEntries returns the maximum number of entries in the in-memory LRU tier.
func (c CacheTierConfig) MemoryEntries() int { return c.memoryEntries }

// DBMaxMB returns the maximum size in megabytes of the in-database cache tier.
func (c CacheTierConfig) DBMaxMB() int { return c.dbMaxMB }

// PruneInterval returns how often the in-database tier is pruned.
func (c CacheTierConfig) PruneInterval() time.Duration { return c.pruneInterval }

// WithMemoryEntries returns a copy with the memory tier capacity set.
func (c CacheTierConfig) WithMemoryEntries(n int) CacheTierConfig {
	c.memoryEntries = n
	return c
}

// WithDBMaxMB returns a copy with the database tier size limit set.
func (c CacheTierConfig) WithDBMaxMB(n int) CacheTierConfig {
	c.dbMaxMB = n
	return c
}

// WithPruneInterval returns a copy with the prune interval set.
func (c CacheTierConfig) WithPruneInterval(d time.Duration) CacheTierConfig {
	c.pruneInterval = d
	return c
}

// DefaultDataDir returns the default data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".strata"
	}
	return filepath.Join(home, ".strata")
}

// DefaultLogger returns the default slog logger for library consumers.
func DefaultLogger() *slog.Logger {
	return slog.Default()
}

// PrepareDataDir creates the data directory if it does not exist and returns it.
func PrepareDataDir(dataDir string) (string, error) {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return dataDir, nil
}
