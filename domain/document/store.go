package document

import "context"

// RowID is the storage engine's internal integer key for a document row.
// It is the join key shared with the lexical and vector index rows for the
// same document and is assigned once, at first insertion, never reused.
type RowID int64

// Store defines document table persistence. Implementations live in
// engine/storage; the ingest coordinator composes Store.Insert with the
// lexical and vector stores under one transaction.
type Store interface {
	// Insert adds a document and returns its assigned rowid. Insertion of a
	// duplicate id within the same collection must fail with a constraint
	// violation rather than silently overwrite.
	Insert(ctx context.Context, doc Document) (RowID, error)

	// Get retrieves a document by collection-scoped id.
	Get(ctx context.Context, collection, id string) (Document, RowID, error)

	// Find retrieves documents by rowid, in the order requested, for result
	// hydration after fusion has decided the winning set.
	Find(ctx context.Context, collection string, rowIDs []RowID) ([]Document, error)

	// Update rewrites a document's content/metadata in place, preserving its
	// rowid.
	Update(ctx context.Context, doc Document) error

	// Delete removes a document by collection-scoped id; callers are
	// responsible for cascading to the lexical and vector rows in the same
	// transaction.
	Delete(ctx context.Context, collection, id string) error

	// Count returns the total number of documents in a collection.
	Count(ctx context.Context, collection string) (int64, error)

	// CountEmbedded returns the number of documents in a collection that
	// have a corresponding vector row.
	CountEmbedded(ctx context.Context, collection string) (int64, error)
}
