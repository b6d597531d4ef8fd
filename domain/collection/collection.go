// Package collection provides the collection domain type: a named grouping
// of documents sharing one embedding configuration.
package collection

// Collection is metadata-only: all documents live in shared physical
// tables keyed by the collection's Name. Dimensions is immutable once the
// first vector is stored for the collection (invariant 4).
type Collection struct {
	name         string
	providerID   string
	modelID      string
	dimensions   int
	autoGenerate bool
	batchSize    int
	description  string
}

// DefaultBatchSize is used when a caller does not specify one.
const DefaultBatchSize = 32

// New creates a Collection declaration. Dimensions is fixed at creation and
// must match the provider's declared output size; it may not change once a
// vector has been stored.
func New(name, providerID, modelID string, dimensions int, autoGenerate bool) Collection {
	return Collection{
		name:         name,
		providerID:   providerID,
		modelID:      modelID,
		dimensions:   dimensions,
		autoGenerate: autoGenerate,
		batchSize:    DefaultBatchSize,
	}
}

// Name returns the collection's unique name.
func (c Collection) Name() string { return c.name }

// ProviderID returns the embedding provider identifier.
func (c Collection) ProviderID() string { return c.providerID }

// ModelID returns the embedding model identifier.
func (c Collection) ModelID() string { return c.modelID }

// Dimensions returns the fixed vector width for this collection.
func (c Collection) Dimensions() int { return c.dimensions }

// AutoGenerate reports whether documents inserted without an embedding
// should have one generated automatically.
func (c Collection) AutoGenerate() bool { return c.autoGenerate }

// BatchSize returns the chunk size used by batch_generate.
func (c Collection) BatchSize() int { return c.batchSize }

// Description returns the optional human-readable description.
func (c Collection) Description() string { return c.description }

// WithBatchSize returns a copy with the batch size set.
func (c Collection) WithBatchSize(n int) Collection {
	c.batchSize = n
	return c
}

// WithDescription returns a copy with the description set.
func (c Collection) WithDescription(desc string) Collection {
	c.description = desc
	return c
}

// CacheKey identifies the cache entries a collection's embeddings can
// share: a cache entry is valid for any collection with the same
// (provider, model, dimensions) per spec §4.3.
func (c Collection) CacheKey() (providerID, modelID string, dimensions int) {
	return c.providerID, c.modelID, c.dimensions
}
