package embed

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/strataeng/strata/engine/storage"
)

// Source identifies which cache tier (or the provider) served an
// embedding, matching spec.md §6's `generate_embedding` response field
// `source: cache_memory|cache_kv|cache_db|provider`.
type Source string

// Source values.
const (
	SourceMemory   Source = "cache_memory"
	SourceKV       Source = "cache_kv"
	SourceDB       Source = "cache_db"
	SourceProvider Source = "provider"
)

// tierCounters tracks hit/miss counts for one cache tier with plain
// atomics — SPEC_FULL.md's supplemented cache-hit-rate feature notes a
// sharded counter (as the teacher's dgryski/go-rendezvous-adjacent
// dependency chain might suggest) is overkill for three tiers; a single
// atomic.Int64 pair per tier is what is actually built.
type tierCounters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func (c *tierCounters) hitRate() float64 {
	h, m := c.hits.Load(), c.misses.Load()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}

// MemoryCache is cache tier 1: an in-process LRU capped by entry count
// (spec.md §4.3 tier 1).
type MemoryCache struct {
	lru      *lru.Cache[string, []float32]
	counters tierCounters
}

// NewMemoryCache creates a MemoryCache with the given entry capacity.
func NewMemoryCache(capacity int) (*MemoryCache, error) {
	if capacity <= 0 {
		capacity = 1000
	}
	c, err := lru.New[string, []float32](capacity)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{lru: c}, nil
}

// Get looks up key, recording a hit or miss.
func (m *MemoryCache) Get(key CacheKey) ([]float32, bool) {
	v, ok := m.lru.Get(key.String())
	if ok {
		m.counters.hits.Add(1)
	} else {
		m.counters.misses.Add(1)
	}
	return v, ok
}

// Put stores vector under key, evicting the least-recently-used entry if
// the cache is at capacity.
func (m *MemoryCache) Put(key CacheKey, vector []float32) {
	m.lru.Add(key.String(), vector)
}

// HitRate returns the tier's observed hit rate.
func (m *MemoryCache) HitRate() float64 { return m.counters.hitRate() }

// Len returns the number of entries currently cached.
func (m *MemoryCache) Len() int { return m.lru.Len() }

// KVCache is cache tier 2: a persistent key-value store standing in for
// spec.md §4.3's "browser origin-private storage" — this module targets a
// native process, so a Redis-compatible store plays the same role (any
// persistent KV honors the same Get/Set contract, per DESIGN.md).
type KVCache struct {
	client   *redis.Client
	maxBytes int64
	counters tierCounters
}

// NewKVCache wraps an existing redis client. maxBytesHint is advisory
// (Redis enforces its own maxmemory policy); it is stored on the cache but
// neither enforced nor reported by Status.
func NewKVCache(client *redis.Client, maxBytesHint int64) *KVCache {
	if maxBytesHint <= 0 {
		maxBytesHint = 50 * 1024 * 1024
	}
	return &KVCache{client: client, maxBytes: maxBytesHint}
}

// Get looks up key in Redis, decoding the stored vector.
func (k *KVCache) Get(ctx context.Context, key CacheKey) ([]float32, bool) {
	data, err := k.client.Get(ctx, key.String()).Bytes()
	if err != nil {
		k.counters.misses.Add(1)
		return nil, false
	}
	vec := decodeFloat32s(data)
	k.counters.hits.Add(1)
	return vec, true
}

// Put stores vector under key with no expiry; the byte-size cap is
// enforced by Redis's own eviction policy (maxmemory + allkeys-lru),
// configured at the client/server level, not here.
func (k *KVCache) Put(ctx context.Context, key CacheKey, vector []float32) {
	_ = k.client.Set(ctx, key.String(), encodeFloat32s(vector), 0).Err()
}

// HitRate returns the tier's observed hit rate.
func (k *KVCache) HitRate() float64 { return k.counters.hitRate() }

// DBCache is cache tier 3: the unbounded, LRU-pruned in-database cache
// table (spec.md §4.3 tier 3), backed by engine/storage.
type DBCache struct {
	store    *storage.CacheStore
	counters tierCounters
}

// NewDBCache wraps a storage CacheStore.
func NewDBCache(store *storage.CacheStore) *DBCache {
	return &DBCache{store: store}
}

// Get looks up key in the database tier.
func (d *DBCache) Get(ctx context.Context, key CacheKey) ([]float32, bool) {
	vec, ok, err := d.store.Get(ctx, key.ProviderID, key.ModelID, key.TextDigest)
	if err != nil || !ok {
		d.counters.misses.Add(1)
		return nil, false
	}
	d.counters.hits.Add(1)
	return vec, true
}

// Put writes key -> vector into the database tier.
func (d *DBCache) Put(ctx context.Context, key CacheKey, vector []float32) {
	_ = d.store.Put(ctx, key.ProviderID, key.ModelID, key.TextDigest, vector)
}

// HitRate returns the tier's observed hit rate.
func (d *DBCache) HitRate() float64 { return d.counters.hitRate() }

// Prune runs an LRU pass against maxBytes, used by the periodic cache
// pruning goroutine (SPEC_FULL.md supplemented feature 4).
func (d *DBCache) Prune(ctx context.Context, maxBytes int64) (int64, error) {
	return d.store.PruneLRU(ctx, maxBytes)
}

// StartPruner launches a background goroutine that prunes the database
// tier every interval until ctx is cancelled, grounded on
// application/service/periodic_sync.go's ticker-driven loop.
func (d *DBCache) StartPruner(ctx context.Context, interval time.Duration, maxBytes int64) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = d.Prune(ctx, maxBytes)
			}
		}
	}()
}

func encodeFloat32s(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

func decodeFloat32s(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
