package embed

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// TextDigest computes the blake2b-128 digest spec.md §4.3 names for the
// cache key: (provider_id, model_id, blake2b_128(text)). A text digest
// uniquely identifies the cached text content (invariant 7): identical
// digest under the same (provider, model) always yields the same vector.
func TextDigest(text string) string {
	h, _ := blake2b.New(16, nil) // 16 bytes = 128 bits; blake2b.New only errors on key length
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// CacheKey identifies one cache entry (spec.md §4.3). It is shared by all
// three tiers so a caller can look up the same entry across memory, KV,
// and database layers.
type CacheKey struct {
	ProviderID string
	ModelID    string
	TextDigest string
}

// Key builds a CacheKey for the given provider/model/text.
func Key(providerID, modelID, text string) CacheKey {
	return CacheKey{ProviderID: providerID, ModelID: modelID, TextDigest: TextDigest(text)}
}

// String renders the key as the flat string used by the memory and KV
// tiers (both want one string key; the database tier uses the three
// fields directly as a composite primary key).
func (k CacheKey) String() string {
	return k.ProviderID + "\x1f" + k.ModelID + "\x1f" + k.TextDigest
}
