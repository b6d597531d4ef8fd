package config

import (
	"testing"
	"time"
)

func TestDefaultConstants(t *testing.T) {
	if DefaultBrokerWorkers != 10 {
		t.Errorf("DefaultBrokerWorkers = %v, want 10", DefaultBrokerWorkers)
	}
	if DefaultBrokerQueueCap != 100 {
		t.Errorf("DefaultBrokerQueueCap = %v, want 100", DefaultBrokerQueueCap)
	}
	if DefaultRequestTimeout != 30*time.Second {
		t.Errorf("DefaultRequestTimeout = %v, want 30s", DefaultRequestTimeout)
	}
	if DefaultSearchLimit != 10 {
		t.Errorf("DefaultSearchLimit = %v, want 10", DefaultSearchLimit)
	}
	if DefaultLogLevel != "INFO" {
		t.Errorf("DefaultLogLevel = %v, want 'INFO'", DefaultLogLevel)
	}
	if DefaultRRFConstant != 60.0 {
		t.Errorf("DefaultRRFConstant = %v, want 60.0", DefaultRRFConstant)
	}
	if DefaultEndpointParallelTasks != 4 {
		t.Errorf("DefaultEndpointParallelTasks = %v, want 4", DefaultEndpointParallelTasks)
	}
	if DefaultEndpointTimeout != 60*time.Second {
		t.Errorf("DefaultEndpointTimeout = %v, want 60s", DefaultEndpointTimeout)
	}
	if DefaultEndpointMaxRetries != 5 {
		t.Errorf("DefaultEndpointMaxRetries = %v, want 5", DefaultEndpointMaxRetries)
	}
	if DefaultEndpointInitialDelay != 2*time.Second {
		t.Errorf("DefaultEndpointInitialDelay = %v, want 2s", DefaultEndpointInitialDelay)
	}
	if DefaultEndpointBackoffFactor != 2.0 {
		t.Errorf("DefaultEndpointBackoffFactor = %v, want 2.0", DefaultEndpointBackoffFactor)
	}
	if DefaultEndpointMaxBatchChars != 16000 {
		t.Errorf("DefaultEndpointMaxBatchChars = %v, want 16000", DefaultEndpointMaxBatchChars)
	}
	if DefaultMemoryCacheEntries != 10000 {
		t.Errorf("DefaultMemoryCacheEntries = %v, want 10000", DefaultMemoryCacheEntries)
	}
	if DefaultDBCacheMaxMB != 256 {
		t.Errorf("DefaultDBCacheMaxMB = %v, want 256", DefaultDBCacheMaxMB)
	}
	if DefaultCachePruneInterval != 10*time.Minute {
		t.Errorf("DefaultCachePruneInterval = %v, want 10m", DefaultCachePruneInterval)
	}
	if DefaultQueuePollPeriod != time.Second {
		t.Errorf("DefaultQueuePollPeriod = %v, want 1s", DefaultQueuePollPeriod)
	}
}

func TestEndpoint_Defaults(t *testing.T) {
	e := NewEndpoint()

	if e.NumParallelTasks() != DefaultEndpointParallelTasks {
		t.Errorf("NumParallelTasks() = %v, want %v", e.NumParallelTasks(), DefaultEndpointParallelTasks)
	}
	if e.Timeout() != DefaultEndpointTimeout {
		t.Errorf("Timeout() = %v, want %v", e.Timeout(), DefaultEndpointTimeout)
	}
	if e.MaxRetries() != DefaultEndpointMaxRetries {
		t.Errorf("MaxRetries() = %v, want %v", e.MaxRetries(), DefaultEndpointMaxRetries)
	}
	if e.InitialDelay() != DefaultEndpointInitialDelay {
		t.Errorf("InitialDelay() = %v, want %v", e.InitialDelay(), DefaultEndpointInitialDelay)
	}
	if e.BackoffFactor() != DefaultEndpointBackoffFactor {
		t.Errorf("BackoffFactor() = %v, want %v", e.BackoffFactor(), DefaultEndpointBackoffFactor)
	}
	if e.MaxBatchChars() != DefaultEndpointMaxBatchChars {
		t.Errorf("MaxBatchChars() = %v, want %v", e.MaxBatchChars(), DefaultEndpointMaxBatchChars)
	}
	if e.IsConfigured() {
		t.Error("IsConfigured() should be false for default endpoint")
	}
}

func TestEndpoint_WithOptions(t *testing.T) {
	e := NewEndpointWithOptions(
		WithBaseURL("https://api.example.com"),
		WithModel("text-embedding-3-small"),
		WithAPIKey("test-key"),
		WithNumParallelTasks(20),
		WithTimeout(30*time.Second),
		WithMaxRetries(3),
		WithInitialDelay(500*time.Millisecond),
		WithBackoffFactor(1.5),
		WithMaxBatchChars(8000),
	)

	if e.BaseURL() != "https://api.example.com" {
		t.Errorf("BaseURL() = %v, want 'https://api.example.com'", e.BaseURL())
	}
	if e.Model() != "text-embedding-3-small" {
		t.Errorf("Model() = %v, want 'text-embedding-3-small'", e.Model())
	}
	if e.APIKey() != "test-key" {
		t.Errorf("APIKey() = %v, want 'test-key'", e.APIKey())
	}
	if e.NumParallelTasks() != 20 {
		t.Errorf("NumParallelTasks() = %v, want 20", e.NumParallelTasks())
	}
	if e.Timeout() != 30*time.Second {
		t.Errorf("Timeout() = %v, want 30s", e.Timeout())
	}
	if e.MaxRetries() != 3 {
		t.Errorf("MaxRetries() = %v, want 3", e.MaxRetries())
	}
	if e.InitialDelay() != 500*time.Millisecond {
		t.Errorf("InitialDelay() = %v, want 500ms", e.InitialDelay())
	}
	if e.BackoffFactor() != 1.5 {
		t.Errorf("BackoffFactor() = %v, want 1.5", e.BackoffFactor())
	}
	if e.MaxBatchChars() != 8000 {
		t.Errorf("MaxBatchChars() = %v, want 8000", e.MaxBatchChars())
	}
	if !e.IsConfigured() {
		t.Error("IsConfigured() should be true when base URL is set")
	}
}

func TestCacheTierConfig_Defaults(t *testing.T) {
	cfg := NewCacheTierConfig()

	if cfg.MemoryEntries() != DefaultMemoryCacheEntries {
		t.Errorf("MemoryEntries() = %v, want %v", cfg.MemoryEntries(), DefaultMemoryCacheEntries)
	}
	if cfg.DBMaxMB() != DefaultDBCacheMaxMB {
		t.Errorf("DBMaxMB() = %v, want %v", cfg.DBMaxMB(), DefaultDBCacheMaxMB)
	}
	if cfg.PruneInterval() != DefaultCachePruneInterval {
		t.Errorf("PruneInterval() = %v, want %v", cfg.PruneInterval(), DefaultCachePruneInterval)
	}
}

func TestCacheTierConfig_WithOptions(t *testing.T) {
	cfg := NewCacheTierConfig().
		WithMemoryEntries(500).
		WithDBMaxMB(64).
		WithPruneInterval(time.Minute)

	if cfg.MemoryEntries() != 500 {
		t.Errorf("MemoryEntries() = %v, want 500", cfg.MemoryEntries())
	}
	if cfg.DBMaxMB() != 64 {
		t.Errorf("DBMaxMB() = %v, want 64", cfg.DBMaxMB())
	}
	if cfg.PruneInterval() != time.Minute {
		t.Errorf("PruneInterval() = %v, want 1m", cfg.PruneInterval())
	}

	// NewCacheTierConfig() must remain untouched by the copy's mutation.
	fresh := NewCacheTierConfig()
	if fresh.MemoryEntries() != DefaultMemoryCacheEntries {
		t.Error("WithMemoryEntries should return a copy, not mutate the receiver")
	}
}

func TestPrepareDataDir(t *testing.T) {
	dir := t.TempDir() + "/nested/data"

	got, err := PrepareDataDir(dir)
	if err != nil {
		t.Fatalf("PrepareDataDir() error = %v", err)
	}
	if got != dir {
		t.Errorf("PrepareDataDir() = %v, want %v", got, dir)
	}
}

func TestPrepareDataDir_Default(t *testing.T) {
	got, err := PrepareDataDir("")
	if err != nil {
		t.Fatalf("PrepareDataDir() error = %v", err)
	}
	if got != DefaultDataDir() {
		t.Errorf("PrepareDataDir(\"\") = %v, want %v", got, DefaultDataDir())
	}
}

func TestDefaultLogger(t *testing.T) {
	if DefaultLogger() == nil {
		t.Error("DefaultLogger() should never return nil")
	}
}
