package collection

import "testing"

func TestCacheKeySharesAcrossCollectionsWithEqualProviderModelDimensions(t *testing.T) {
	a := New("docs-a", "openai", "text-embedding-3", 1536, true)
	b := New("docs-b", "openai", "text-embedding-3", 1536, false).WithDescription("different collection")

	pa, ma, da := a.CacheKey()
	pb, mb, db := b.CacheKey()
	if pa != pb || ma != mb || da != db {
		t.Errorf("expected equal cache keys for collections sharing provider/model/dimensions, got (%s,%s,%d) vs (%s,%s,%d)", pa, ma, da, pb, mb, db)
	}
}

func TestWithBatchSizeAndDescriptionReturnCopies(t *testing.T) {
	base := New("docs", "mock", "v1", 4, true)
	if base.BatchSize() != DefaultBatchSize {
		t.Fatalf("expected default batch size %d, got %d", DefaultBatchSize, base.BatchSize())
	}

	sized := base.WithBatchSize(128)
	if base.BatchSize() != DefaultBatchSize {
		t.Errorf("expected WithBatchSize not to mutate the receiver")
	}
	if sized.BatchSize() != 128 {
		t.Errorf("expected new batch size 128, got %d", sized.BatchSize())
	}

	described := base.WithDescription("docs collection")
	if base.Description() != "" {
		t.Errorf("expected WithDescription not to mutate the receiver")
	}
	if described.Description() != "docs collection" {
		t.Errorf("expected description to be set, got %q", described.Description())
	}
}
