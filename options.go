package strata

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/strataeng/strata/engine/embed"
	"github.com/strataeng/strata/internal/config"
)

// databaseKind selects which SQL dialect Open targets.
type databaseKind int

const (
	databaseUnset databaseKind = iota
	databaseSQLite
	databasePostgres
)

// engineConfig accumulates Option values before Open builds the Engine.
type engineConfig struct {
	database databaseKind
	dbURL    string

	dataDir string
	logger  *slog.Logger

	providers map[string]embed.Provider

	memoryCacheEntries int
	kvClient           *redis.Client
	kvMaxBytes         int64
	dbCacheMaxBytes    int64
	cachePruneInterval time.Duration

	brokerConcurrency int
	brokerQueueCap    int
	requestTimeout    time.Duration

	embedMaxRetries    int
	embedInitialDelay  time.Duration
	embedBackoffFactor float64

	skipMigration bool
}

func newEngineConfig() *engineConfig {
	return &engineConfig{
		providers:          make(map[string]embed.Provider),
		memoryCacheEntries: config.DefaultMemoryCacheEntries,
		dbCacheMaxBytes:    int64(config.DefaultDBCacheMaxMB) * 1024 * 1024,
		cachePruneInterval: config.DefaultCachePruneInterval,
		brokerConcurrency:  config.DefaultBrokerWorkers,
		brokerQueueCap:     config.DefaultBrokerQueueCap,
		requestTimeout:     config.DefaultRequestTimeout,
		embedMaxRetries:    config.DefaultEndpointMaxRetries,
		embedInitialDelay:  config.DefaultEndpointInitialDelay,
		embedBackoffFactor: config.DefaultEndpointBackoffFactor,
	}
}

// Option configures an Engine at Open time.
type Option func(*engineConfig)

// WithSQLite targets a SQLite database file (or ":memory:" for an
// in-memory instance), matching spec.md §4.1's primary storage engine.
func WithSQLite(path string) Option {
	return func(c *engineConfig) {
		c.database = databaseSQLite
		c.dbURL = "sqlite:///" + path
	}
}

// WithPostgres targets a Postgres database by connection URL, matching
// spec.md §9's "same SQL surface, different vector extension" note.
func WithPostgres(url string) Option {
	return func(c *engineConfig) {
		c.database = databasePostgres
		c.dbURL = url
	}
}

// WithDataDir sets the directory used for default file placement.
func WithDataDir(dir string) Option {
	return func(c *engineConfig) { c.dataDir = dir }
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) { c.logger = logger }
}

// WithMockProvider registers a deterministic mock embedding provider under
// providerID, for tests and local development without network access
// (spec.md §4.3 "a deterministic mock provider").
func WithMockProvider(providerID string, dimensions int, delay time.Duration) Option {
	return func(c *engineConfig) {
		c.providers[providerID] = embed.NewMockProvider(providerID, dimensions, delay)
	}
}

// HTTPProviderOption configures a WithHTTPProvider call.
type HTTPProviderOption func(*embed.HTTPProviderConfig)

// WithHTTPAuthHeader sets the header carrying the provider's credential.
func WithHTTPAuthHeader(header, value string) HTTPProviderOption {
	return func(c *embed.HTTPProviderConfig) { c.AuthHeader = header; c.AuthValue = value }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(client *http.Client) HTTPProviderOption {
	return func(c *embed.HTTPProviderConfig) { c.Client = client }
}

// WithHTTPProvider registers a generic HTTP embedding provider under
// providerID, honoring the contract spec.md §6 documents: `POST text[] ->
// vector[]`. encode/decode adapt the vendor-specific wire shape.
func WithHTTPProvider(
	providerID, endpoint string,
	dimensions int,
	encode func(texts []string) ([]byte, error),
	decode func(body []byte) ([][]float32, error),
	opts ...HTTPProviderOption,
) Option {
	return func(c *engineConfig) {
		cfg := embed.HTTPProviderConfig{
			ID: providerID, Endpoint: endpoint, Dimensions: dimensions,
			Encode: encode, Decode: decode,
		}
		for _, opt := range opts {
			opt(&cfg)
		}
		c.providers[providerID] = embed.NewHTTPProvider(cfg)
	}
}

// WithMemoryCacheEntries sets the in-memory LRU cache tier's capacity
// (spec.md §4.3 tier 1).
func WithMemoryCacheEntries(n int) Option {
	return func(c *engineConfig) { c.memoryCacheEntries = n }
}

// WithKVCache enables cache tier 2 (spec.md §4.3 tier 2) backed by an
// existing Redis client, standing in for browser origin-private storage.
func WithKVCache(client *redis.Client, maxBytes int64) Option {
	return func(c *engineConfig) { c.kvClient = client; c.kvMaxBytes = maxBytes }
}

// WithDBCacheLimit sets the byte-size cap the periodic pruner enforces
// against the in-database cache tier (spec.md §4.3 tier 3).
func WithDBCacheLimit(maxBytes int64, pruneInterval time.Duration) Option {
	return func(c *engineConfig) {
		c.dbCacheMaxBytes = maxBytes
		c.cachePruneInterval = pruneInterval
	}
}

// WithBrokerConcurrency overrides the broker's in-flight request cap
// (spec.md §4.5, default 10).
func WithBrokerConcurrency(n int) Option {
	return func(c *engineConfig) { c.brokerConcurrency = n }
}

// WithBrokerQueueCap overrides the broker's secondary queue cap (spec.md
// §4.5, default 100).
func WithBrokerQueueCap(n int) Option {
	return func(c *engineConfig) { c.brokerQueueCap = n }
}

// WithRequestTimeout records a per-request timeout in the engine config.
// The value is not passed to the broker: requests use the broker's
// default timeout (spec.md §4.5, 30s) whatever is set here.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *engineConfig) { c.requestTimeout = d }
}

// WithEmbeddingRetries configures the embedding pipeline's retry policy
// (spec.md §7 "EP retries provider errors with exponential backoff").
func WithEmbeddingRetries(maxRetries int, initialDelay time.Duration, backoffFactor float64) Option {
	return func(c *engineConfig) {
		c.embedMaxRetries = maxRetries
		c.embedInitialDelay = initialDelay
		c.embedBackoffFactor = backoffFactor
	}
}

// WithSkipMigration sets a skip-migration flag in the engine config. The
// flag is not read by Open: the schema is migrated on every Open whether
// or not this option is given.
func WithSkipMigration() Option {
	return func(c *engineConfig) { c.skipMigration = true }
}
