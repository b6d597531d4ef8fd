package storage

import (
	"context"
	"time"
)

// CacheEntryRow is one row of the in-database embedding cache tier
// (spec.md §4.3 tier 3): a (provider, model, digest) key and its vector
// plus an access timestamp
// for LRU pruning.
type CacheEntryRow struct {
	ProviderID string
	ModelID    string
	TextDigest string
	Vector     []float32
	AccessedAt time.Time
}

// CacheStore persists the unbounded, periodically-pruned in-database
// embedding cache tier.
type CacheStore struct {
	s *Store
}

// Cache returns the CacheStore view of s.
func (s *Store) Cache() *CacheStore { return &CacheStore{s: s} }

// Get looks up a cached vector by (provider, model, digest), touching its
// accessed_at timestamp on hit so LRU pruning can find it later.
func (cs *CacheStore) Get(ctx context.Context, providerID, modelID, digest string) ([]float32, bool, error) {
	var row cacheRow
	err := cs.s.session(ctx).
		Where("provider_id = ? AND model_id = ? AND text_digest = ?", providerID, modelID, digest).
		First(&row).Error
	if err != nil {
		return nil, false, nil //nolint:nilerr // cache miss is not an error condition
	}
	_ = cs.s.session(ctx).Model(&cacheRow{}).
		Where("provider_id = ? AND model_id = ? AND text_digest = ?", providerID, modelID, digest).
		Update("accessed_at", time.Now().UnixNano()).Error
	return []float32(row.Vector), true, nil
}

// Put writes through a cache entry (provider, model, digest) -> vector.
func (cs *CacheStore) Put(ctx context.Context, providerID, modelID, digest string, vector []float32) error {
	row := cacheRow{
		ProviderID: providerID,
		ModelID:    modelID,
		TextDigest: digest,
		Vector:     Float32Slice(vector),
		AccessedAt: time.Now().UnixNano(),
		SizeBytes:  len(vector) * 4,
	}
	return classifySQLErrorOrNil(cs.s.session(ctx).Save(&row).Error)
}

// PruneLRU deletes the least-recently-accessed rows until the table's
// total size (size_bytes sum) is at or under maxBytes. Run on an
// interval by a background goroutine (SPEC_FULL.md supplemented feature
// 4, grounded on application/service/periodic_sync.go's ticker pattern).
func (cs *CacheStore) PruneLRU(ctx context.Context, maxBytes int64) (int64, error) {
	var total int64
	if err := cs.s.session(ctx).Model(&cacheRow{}).Select("COALESCE(SUM(size_bytes), 0)").Scan(&total).Error; err != nil {
		return 0, classifySQLError(err)
	}
	if total <= maxBytes {
		return 0, nil
	}

	var victims []struct {
		ProviderID string
		ModelID    string
		TextDigest string
		SizeBytes  int
	}
	if err := cs.s.session(ctx).Model(&cacheRow{}).Order("accessed_at ASC").Find(&victims).Error; err != nil {
		return 0, classifySQLError(err)
	}

	var removed int64
	for _, v := range victims {
		if total <= maxBytes {
			break
		}
		err := cs.s.session(ctx).
			Where("provider_id = ? AND model_id = ? AND text_digest = ?", v.ProviderID, v.ModelID, v.TextDigest).
			Delete(&cacheRow{}).Error
		if err != nil {
			return removed, classifySQLError(err)
		}
		total -= int64(v.SizeBytes)
		removed++
	}
	return removed, nil
}
