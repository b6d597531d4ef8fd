package strata

import (
	"context"

	"github.com/strataeng/strata/domain/collection"
	"github.com/strataeng/strata/engine/broker"
	"github.com/strataeng/strata/engine/embed"
	"github.com/strataeng/strata/engine/ingest"
	"github.com/strataeng/strata/engine/search"
)

// execParams is the broker params shape for MethodExec.
type execParams struct {
	SQL    string
	Params []any
}

// bulkInsertParams is the broker params shape for MethodBulkInsert.
type bulkInsertParams struct {
	Collection collection.Collection
	Documents  []ingest.DocumentInput
	Options    ingest.Options
}

// generateEmbeddingParams is the broker params shape for MethodGenerateEmbedding.
type generateEmbeddingParams struct {
	Collection collection.Collection
	Text       string
}

// batchGenerateParams is the broker params shape for MethodBatchGenerate.
type batchGenerateParams struct {
	Collection collection.Collection
	Documents  []embed.Document
	BatchSize  int
	Progress   embed.ProgressFunc
}

// CollectionStatus is the response shape of `collection_status` (spec.md §6).
type CollectionStatus struct {
	Name             string
	ProviderID       string
	ModelID          string
	Dimensions       int
	DocumentsTotal   int64
	DocumentsEmbedded int64
	Ready            bool
}

// handlers builds the broker's method-to-handler table. Every handler is a
// thin adapter over the engine's components (storage, ingest, embed,
// search) — the broker itself never touches those components directly, it
// only knows Method -> Handler (spec.md §4.5).
func (e *Engine) handlers() map[broker.Method]broker.Handler {
	return map[broker.Method]broker.Handler{
		broker.MethodExec:               e.handleExec,
		broker.MethodBulkInsert:         e.handleBulkInsert,
		broker.MethodSearch:             e.handleSearch,
		broker.MethodGenerateEmbedding:  e.handleGenerateEmbedding,
		broker.MethodBatchGenerate:      e.handleBatchGenerate,
		broker.MethodCreateCollection:   e.handleCreateCollection,
		broker.MethodCollectionStatus:   e.handleCollectionStatus,
		broker.MethodExport:             e.handleExport,
		broker.MethodImport:             e.handleImport,
		broker.MethodStats:              e.handleStats,
		broker.MethodBegin:              e.handleBegin,
		broker.MethodCommit:             e.handleCommit,
		broker.MethodRollback:           e.handleRollback,
	}
}

func (e *Engine) handleExec(ctx context.Context, params any) (any, error) {
	p, ok := params.(execParams)
	if !ok {
		return nil, NewError(KindInvalidRequest, "exec: malformed params")
	}
	return e.store.Exec(ctx, p.SQL, p.Params...)
}

func (e *Engine) handleBulkInsert(ctx context.Context, params any) (any, error) {
	p, ok := params.(bulkInsertParams)
	if !ok {
		return nil, NewError(KindInvalidRequest, "bulk_insert: malformed params")
	}
	return e.ingest.BatchInsert(ctx, p.Collection, p.Documents, p.Options)
}

func (e *Engine) handleSearch(ctx context.Context, params any) (any, error) {
	q, ok := params.(search.Query)
	if !ok {
		return nil, NewError(KindInvalidRequest, "search: malformed params")
	}
	return e.search.Search(ctx, q)
}

func (e *Engine) handleGenerateEmbedding(ctx context.Context, params any) (any, error) {
	p, ok := params.(generateEmbeddingParams)
	if !ok {
		return nil, NewError(KindInvalidRequest, "generate_embedding: malformed params")
	}
	return e.embed.GenerateQueryEmbedding(ctx, p.Collection, p.Text)
}

func (e *Engine) handleBatchGenerate(ctx context.Context, params any) (any, error) {
	p, ok := params.(batchGenerateParams)
	if !ok {
		return nil, NewError(KindInvalidRequest, "batch_generate: malformed params")
	}
	return e.embed.BatchGenerate(ctx, p.Collection, p.Documents, p.BatchSize, p.Progress), nil
}

func (e *Engine) handleCreateCollection(ctx context.Context, params any) (any, error) {
	c, ok := params.(collection.Collection)
	if !ok {
		return nil, NewError(KindInvalidRequest, "create_collection: malformed params")
	}
	if err := e.store.Collections().Create(ctx, c); err != nil {
		return nil, err
	}
	return nil, nil
}

func (e *Engine) handleCollectionStatus(ctx context.Context, params any) (any, error) {
	name, ok := params.(string)
	if !ok {
		return nil, NewError(KindInvalidRequest, "collection_status: malformed params")
	}
	c, err := e.store.Collections().Get(ctx, name)
	if err != nil {
		return nil, err
	}
	total, err := e.store.Documents().Count(ctx, name)
	if err != nil {
		return nil, err
	}
	embedded, err := e.store.Documents().CountEmbedded(ctx, name)
	if err != nil {
		return nil, err
	}
	return CollectionStatus{
		Name:              c.Name(),
		ProviderID:        c.ProviderID(),
		ModelID:           c.ModelID(),
		Dimensions:        c.Dimensions(),
		DocumentsTotal:    total,
		DocumentsEmbedded: embedded,
		Ready:             total > 0 && total == embedded,
	}, nil
}

func (e *Engine) handleExport(ctx context.Context, params any) (any, error) {
	return e.store.Export()
}

func (e *Engine) handleImport(ctx context.Context, params any) (any, error) {
	data, ok := params.([]byte)
	if !ok {
		return nil, NewError(KindInvalidRequest, "import: malformed params")
	}
	return nil, e.store.Import(ctx, data)
}

func (e *Engine) handleStats(ctx context.Context, params any) (any, error) {
	embedStatus := e.embed.Status()
	e.mu.Lock()
	counts := make(map[string]int64, len(e.opCounts))
	for k, v := range e.opCounts {
		counts[k] = v
	}
	e.mu.Unlock()
	return Stats{
		DBSizeBytes:     e.dbSizeBytes(),
		OperationCounts: counts,
		CacheHitRates: map[string]float64{
			"memory": embedStatus.MemoryHitRate,
			"kv":     embedStatus.KVHitRate,
			"db":     embedStatus.DBHitRate,
		},
	}, nil
}

// handleBegin opens a transaction and returns the context that carries it.
// The broker captures this context and threads it through every request
// in the begin/commit bracket, rather than the Store holding the
// transaction itself (see engine/broker's activeTx handling).
func (e *Engine) handleBegin(ctx context.Context, params any) (any, error) {
	txCtx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return txCtx, nil
}

func (e *Engine) handleCommit(ctx context.Context, params any) (any, error) {
	return nil, e.store.CommitTx(ctx)
}

func (e *Engine) handleRollback(ctx context.Context, params any) (any, error) {
	return nil, e.store.RollbackTx(ctx)
}
