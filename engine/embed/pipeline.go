package embed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/strataeng/strata/domain/collection"
	"github.com/strataeng/strata/engine/storage"
	"github.com/strataeng/strata/internal/fault"
)

// TokenBudget constrains embedding batches to stay within model token
// limits, identical in shape to domain/search/token_budget.go's
// character-budget truncation/batching, narrowed to the embed package
// since no other component needs it.
type TokenBudget struct {
	maxChars int
}

// NewTokenBudget creates a TokenBudget with the given character limit.
func NewTokenBudget(maxChars int) TokenBudget {
	if maxChars <= 0 {
		maxChars = 16000
	}
	return TokenBudget{maxChars: maxChars}
}

// Truncate caps text to the character limit.
func (b TokenBudget) Truncate(text string) string {
	if len(text) > b.maxChars {
		return text[:b.maxChars]
	}
	return text
}

// Document is one item of a batch_generate call (spec.md §6).
type Document struct {
	ID   string
	Text string
}

// DocumentResult reports one document's batch_generate outcome.
type DocumentResult struct {
	ID      string
	Vector  []float32
	Err     error
	Retried bool
}

// Pipeline is the embedding pipeline (spec.md §4.3): cache tiers checked
// in order, provider dispatch on miss, request coalescing, and retry with
// backoff on provider failure.
type Pipeline struct {
	memory    *MemoryCache
	kv        *KVCache
	db        *DBCache
	providers map[string]Provider
	group     singleflight.Group
	logger    *slog.Logger

	maxRetries    int
	initialDelay  time.Duration
	backoffFactor float64

	mu           sync.Mutex
	pendingCount int
}

// Config configures a Pipeline.
type Config struct {
	Memory        *MemoryCache
	KV            *KVCache // nil disables tier 2
	DB            *DBCache // nil disables tier 3
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
	Logger        *slog.Logger
}

// New creates a Pipeline. providers maps provider_id -> Provider; a
// collection's ProviderID selects which one serves its embeddings.
func New(providers map[string]Provider, cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 200 * time.Millisecond
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 2.0
	}
	return &Pipeline{
		memory:        cfg.Memory,
		kv:            cfg.KV,
		db:            cfg.DB,
		providers:     providers,
		logger:        cfg.Logger,
		maxRetries:    cfg.MaxRetries,
		initialDelay:  cfg.InitialDelay,
		backoffFactor: cfg.BackoffFactor,
	}
}

// QueryResult is the response shape of generate_query_embedding
// (spec.md §6).
type QueryResult struct {
	Vector       []float32
	Dimensions   int
	Source       Source
	ProcessingMS int64
}

// GenerateQueryEmbedding returns a vector for (collection, text),
// reporting which cache tier served it (spec.md §4.3's 200ms p95 budget
// on cache hit is a caller-side SLO this method's coalescing and tiered
// lookups are built to meet, not something enforced internally).
func (p *Pipeline) GenerateQueryEmbedding(ctx context.Context, coll collection.Collection, text string) (QueryResult, error) {
	start := time.Now()
	vec, source, err := p.resolve(ctx, coll, text)
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{
		Vector:       vec,
		Dimensions:   len(vec),
		Source:       source,
		ProcessingMS: time.Since(start).Milliseconds(),
	}, nil
}

// EmbedOne satisfies engine/ingest.Embedder: an embedding call used inside
// the ingest transaction, bounded by ctx. It goes through the cache tiers
// and the provider dispatch, which retries with backoff while ctx allows.
func (p *Pipeline) EmbedOne(ctx context.Context, providerID, modelID string, text string) ([]float32, error) {
	coll := collection.New("", providerID, modelID, 0, false)
	vec, _, err := p.resolve(ctx, coll, text)
	return vec, err
}

// resolve checks all three cache tiers in order (promoting on hit),
// coalesces identical in-flight misses onto one provider call, and
// writes through every tier on success (spec.md §4.3 algorithm).
func (p *Pipeline) resolve(ctx context.Context, coll collection.Collection, text string) ([]float32, Source, error) {
	key := Key(coll.ProviderID(), coll.ModelID(), text)

	if p.memory != nil {
		if vec, ok := p.memory.Get(key); ok {
			return vec, SourceMemory, nil
		}
	}
	if p.kv != nil {
		if vec, ok := p.kv.Get(ctx, key); ok {
			p.promote(key, vec)
			return vec, SourceKV, nil
		}
	}
	if p.db != nil {
		if vec, ok := p.db.Get(ctx, key); ok {
			p.promote(key, vec)
			return vec, SourceDB, nil
		}
	}

	vec, err, _ := p.group.Do(key.String(), func() (any, error) {
		return p.dispatch(ctx, coll, text)
	})
	if err != nil {
		return nil, "", err
	}
	vector := vec.([]float32)
	p.writeThrough(ctx, key, vector)
	return vector, SourceProvider, nil
}

func (p *Pipeline) promote(key CacheKey, vec []float32) {
	if p.memory != nil {
		p.memory.Put(key, vec)
	}
}

func (p *Pipeline) writeThrough(ctx context.Context, key CacheKey, vec []float32) {
	if p.memory != nil {
		p.memory.Put(key, vec)
	}
	if p.kv != nil {
		p.kv.Put(ctx, key, vec)
	}
	if p.db != nil {
		p.db.Put(ctx, key, vec)
	}
}

// dispatch calls the provider with exponential backoff, up to maxRetries
// attempts (spec.md §7 "EP retries provider errors with exponential
// backoff up to a small cap, default 3 attempts").
func (p *Pipeline) dispatch(ctx context.Context, coll collection.Collection, text string) ([]float32, error) {
	provider, ok := p.providers[coll.ProviderID()]
	if !ok {
		return nil, fault.NewError(fault.KindProviderError, "unknown provider: "+coll.ProviderID())
	}

	delay := p.initialDelay
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fault.Wrap(fault.KindProviderTimeout, "embedding cancelled during backoff", ctx.Err())
			}
			delay = time.Duration(float64(delay) * p.backoffFactor)
		}

		vec, err := provider.EmbedOne(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fault.Wrap(fault.KindProviderTimeout, "embedding call timed out", ctx.Err())
		}
	}
	return nil, fault.Wrap(fault.KindProviderError, "embedding provider failed after retries", lastErr)
}

// ProgressFunc reports batch_generate progress (spec.md §4.3).
type ProgressFunc func(completed, total int)

// BatchResult is the return value of BatchGenerate (spec.md §6
// batch_generate response: success_count, failed_count, details).
type BatchResult struct {
	SuccessCount int
	FailedCount  int
	Details      []DocumentResult
}

// BatchGenerate processes documents in chunks sized to batchSize,
// reporting progress and returning per-document success/failure. Partial
// success is valid: failed documents are reported, not aborted on
// (spec.md §4.3).
func (p *Pipeline) BatchGenerate(ctx context.Context, coll collection.Collection, docs []Document, batchSize int, progress ProgressFunc) BatchResult {
	if batchSize <= 0 {
		batchSize = collection.DefaultBatchSize
	}

	budget := NewTokenBudget(16000)
	result := BatchResult{Details: make([]DocumentResult, 0, len(docs))}

	p.mu.Lock()
	p.pendingCount += len(docs)
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.pendingCount -= len(docs)
		p.mu.Unlock()
	}()

	completed := 0
	for start := 0; start < len(docs); start += batchSize {
		end := min(start+batchSize, len(docs))
		chunk := docs[start:end]

		for _, d := range chunk {
			vec, _, err := p.resolve(ctx, coll, budget.Truncate(d.Text))
			dr := DocumentResult{ID: d.ID, Vector: vec, Err: err}
			result.Details = append(result.Details, dr)
			if err != nil {
				result.FailedCount++
			} else {
				result.SuccessCount++
			}
			completed++
			if progress != nil {
				progress(completed, len(docs))
			}
		}
	}
	return result
}

// Preload eagerly initializes in-process provider weights (spec.md §4.3).
// The only concrete providers this module ships — HTTPProvider and
// MockProvider — have nothing to preload; Preload exists so an embedder
// a caller supplies (satisfying a richer interface) can opt in.
type Preloadable interface {
	Preload(ctx context.Context) error
}

// Preload calls Preload on every named provider that implements
// Preloadable.
func (p *Pipeline) Preload(ctx context.Context, providerIDs []string) error {
	for _, id := range providerIDs {
		provider, ok := p.providers[id]
		if !ok {
			continue
		}
		if pl, ok := provider.(Preloadable); ok {
			if err := pl.Preload(ctx); err != nil {
				return fault.Wrap(fault.KindProviderError, "preload provider "+id, err)
			}
		}
	}
	return nil
}

// Status reports active providers, cache hit rates per tier, and pending
// request count (spec.md §4.3).
type Status struct {
	ActiveProviders []string
	MemoryHitRate   float64
	KVHitRate       float64
	DBHitRate       float64
	PendingRequests int
	MemoryEntries   int
}

// Status returns the pipeline's current operational snapshot.
func (p *Pipeline) Status() Status {
	s := Status{ActiveProviders: make([]string, 0, len(p.providers))}
	for id := range p.providers {
		s.ActiveProviders = append(s.ActiveProviders, id)
	}
	if p.memory != nil {
		s.MemoryHitRate = p.memory.HitRate()
		s.MemoryEntries = p.memory.Len()
	}
	if p.kv != nil {
		s.KVHitRate = p.kv.HitRate()
	}
	if p.db != nil {
		s.DBHitRate = p.db.HitRate()
	}
	p.mu.Lock()
	s.PendingRequests = p.pendingCount
	p.mu.Unlock()
	return s
}

// StoreCache wires a Pipeline's tier-3 cache to a storage Store, used by
// engine.Open once the storage engine is available.
func StoreCache(store *storage.Store) *DBCache {
	return NewDBCache(store.Cache())
}
