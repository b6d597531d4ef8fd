// Package strata is an embeddable hybrid retrieval engine: lexical full-text
// search and dense-vector similarity fused into one ranked result set behind
// a single Engine handle (spec.md §1-§2). Everything below this package —
// storage, ingest, embedding, search, and the request broker — lives under
// engine/ and is wired together here.
package strata

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/strataeng/strata/domain/collection"
	"github.com/strataeng/strata/engine/broker"
	"github.com/strataeng/strata/engine/embed"
	"github.com/strataeng/strata/engine/ingest"
	"github.com/strataeng/strata/engine/search"
	"github.com/strataeng/strata/engine/storage"
	"github.com/strataeng/strata/internal/config"
)

// EngineVersion is this module's own version string, distinct from the
// underlying storage engine's SchemaVersion (spec.md §6 `version`).
const EngineVersion = "0.1.0"

// Engine is the top-level handle a caller opens once and holds for the
// lifetime of a retrieval session. Operations are dispatched through the
// broker (engine/broker) to the storage engine's single database handle
// (spec.md §5); BulkInsert, Search, GenerateEmbedding and BatchGenerate
// look up their collection on the store directly before submitting, and
// Version does not use the broker at all.
type Engine struct {
	store  *storage.Store
	broker *broker.Broker
	ingest *ingest.Coordinator
	embed  *embed.Pipeline
	search *search.Engine
	logger *slog.Logger

	pruneCancel context.CancelFunc

	mu       sync.Mutex
	opCounts map[string]int64
}

// Open builds every component (storage, ingest, embedding pipeline, hybrid
// search, broker), registers the broker's handler table, and starts the
// worker pool. The returned Engine is ready to accept requests.
//
// Open does no cross-process coordination: several processes opening the
// same database file are not serialized against each other by the engine,
// so callers that need that must serialize externally.
func Open(ctx context.Context, opts ...Option) (*Engine, error) {
	cfg := newEngineConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	logger := cfg.logger
	if logger == nil {
		logger = config.DefaultLogger()
	}

	dbURL, err := resolveDBURL(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, dbURL, storage.DefaultPragmas(), logger)
	if err != nil {
		return nil, err
	}

	memCache, err := embed.NewMemoryCache(cfg.memoryCacheEntries)
	if err != nil {
		_ = store.Close()
		return nil, Wrap(KindSqlError, "create memory cache", err)
	}
	var kvCache *embed.KVCache
	if cfg.kvClient != nil {
		kvCache = embed.NewKVCache(cfg.kvClient, cfg.kvMaxBytes)
	}
	dbCache := embed.StoreCache(store)

	pipeline := embed.New(cfg.providers, embed.Config{
		Memory:        memCache,
		KV:            kvCache,
		DB:            dbCache,
		MaxRetries:    cfg.embedMaxRetries,
		InitialDelay:  cfg.embedInitialDelay,
		BackoffFactor: cfg.embedBackoffFactor,
		Logger:        logger,
	})

	coordinator := ingest.New(store, pipeline, logger)
	searchEngine := search.New(store, pipeline)

	e := &Engine{
		store:    store,
		ingest:   coordinator,
		embed:    pipeline,
		search:   searchEngine,
		logger:   logger,
		opCounts: make(map[string]int64),
	}

	e.broker = broker.New(e.handlers(), broker.Config{
		Concurrency: cfg.brokerConcurrency,
		QueueCap:    cfg.brokerQueueCap,
		Logger:      logger,
	})
	e.broker.Start(ctx)

	pruneCtx, cancel := context.WithCancel(context.Background())
	e.pruneCancel = cancel
	dbCache.StartPruner(pruneCtx, cfg.cachePruneInterval, cfg.dbCacheMaxBytes)

	return e, nil
}

func resolveDBURL(cfg *engineConfig) (string, error) {
	if cfg.dbURL != "" {
		return cfg.dbURL, nil
	}
	dataDir, err := config.PrepareDataDir(cfg.dataDir)
	if err != nil {
		return "", Wrap(KindSqlError, "prepare data directory", err)
	}
	return "sqlite:///" + dataDir + "/strata.db", nil
}

// Close stops the broker's worker pool, the cache pruner, and releases the
// storage engine's handle, in reverse acquisition order (spec.md §5
// "Resource acquisition").
func (e *Engine) Close() error {
	if e.pruneCancel != nil {
		e.pruneCancel()
	}
	e.broker.Stop()
	return e.store.Close()
}

func (e *Engine) submit(ctx context.Context, method broker.Method, params any) broker.Response {
	e.mu.Lock()
	e.opCounts[string(method)]++
	e.mu.Unlock()
	return e.broker.Submit(ctx, broker.Request{Method: method, Params: params})
}

func (e *Engine) submitTx(ctx context.Context, method broker.Method, txToken uint64, params any) broker.Response {
	e.mu.Lock()
	e.opCounts[string(method)]++
	e.mu.Unlock()
	return e.broker.Submit(ctx, broker.Request{Method: method, Params: params, TxToken: txToken})
}

func responseError(r broker.Response) error {
	if r.Ok() {
		return nil
	}
	return responseErrorToError(r.Err)
}

func responseErrorToError(re *broker.ResponseError) error {
	if re == nil {
		return nil
	}
	return NewError(kindFromString(re.Kind), re.Message).WithDetails(re.Details)
}

func kindFromString(s string) Kind {
	switch s {
	case "NotOpen":
		return KindNotOpen
	case "SchemaMismatch":
		return KindSchemaMismatch
	case "ConstraintViolation":
		return KindConstraintViolation
	case "QuotaExceeded":
		return KindQuotaExceeded
	case "VectorMissing":
		return KindVectorMissing
	case "DimensionMismatch":
		return KindDimensionMismatch
	case "ProviderError":
		return KindProviderError
	case "ProviderTimeout":
		return KindProviderTimeout
	case "Overloaded":
		return KindOverloaded
	case "Cancelled":
		return KindCancelled
	case "InvalidRequest":
		return KindInvalidRequest
	case "Timeout":
		return KindTimeout
	default:
		return KindSqlError
	}
}

// Exec submits a single SQL statement through the broker. txToken, if
// non-zero, threads the call into an open Begin/Commit bracket.
func (e *Engine) Exec(ctx context.Context, sql string, txToken uint64, params ...any) (storage.Rows, error) {
	resp := e.submitTx(ctx, broker.MethodExec, txToken, execParams{SQL: sql, Params: params})
	if !resp.Ok() {
		return storage.Rows{}, responseError(resp)
	}
	rows, _ := resp.Result.(storage.Rows)
	return rows, nil
}

// BulkInsert runs the atomic batch-ingest algorithm for a collection
// (spec.md §4.2, §6 `bulk_insert`).
func (e *Engine) BulkInsert(ctx context.Context, collectionName string, docs []ingest.DocumentInput, opts ingest.Options) (ingest.Result, error) {
	coll, err := e.store.Collections().Get(ctx, collectionName)
	if err != nil {
		return ingest.Result{}, err
	}
	resp := e.submit(ctx, broker.MethodBulkInsert, bulkInsertParams{Collection: coll, Documents: docs, Options: opts})
	if !resp.Ok() {
		return ingest.Result{}, responseError(resp)
	}
	result, _ := resp.Result.(ingest.Result)
	return result, nil
}

// Search runs the hybrid search algorithm (spec.md §4.4, §6 `search`).
func (e *Engine) Search(ctx context.Context, collectionName string, q search.Query) (search.Result, error) {
	coll, err := e.store.Collections().Get(ctx, collectionName)
	if err != nil {
		return search.Result{}, err
	}
	q.Collection = coll
	resp := e.submit(ctx, broker.MethodSearch, q)
	if !resp.Ok() {
		return search.Result{}, responseError(resp)
	}
	result, _ := resp.Result.(search.Result)
	return result, nil
}

// GenerateEmbedding produces (or fetches from cache) a single text's
// embedding (spec.md §4.3, §6 `generate_embedding`).
func (e *Engine) GenerateEmbedding(ctx context.Context, collectionName, text string) (embed.QueryResult, error) {
	coll, err := e.store.Collections().Get(ctx, collectionName)
	if err != nil {
		return embed.QueryResult{}, err
	}
	resp := e.submit(ctx, broker.MethodGenerateEmbedding, generateEmbeddingParams{Collection: coll, Text: text})
	if !resp.Ok() {
		return embed.QueryResult{}, responseError(resp)
	}
	result, _ := resp.Result.(embed.QueryResult)
	return result, nil
}

// BatchGenerate embeds a batch of documents, tolerating partial failure
// (spec.md §4.3, §6 `batch_generate`).
func (e *Engine) BatchGenerate(ctx context.Context, collectionName string, docs []embed.Document, batchSize int, progress embed.ProgressFunc) (embed.BatchResult, error) {
	coll, err := e.store.Collections().Get(ctx, collectionName)
	if err != nil {
		return embed.BatchResult{}, err
	}
	resp := e.submit(ctx, broker.MethodBatchGenerate, batchGenerateParams{
		Collection: coll, Documents: docs, BatchSize: batchSize, Progress: progress,
	})
	if !resp.Ok() {
		return embed.BatchResult{}, responseError(resp)
	}
	result, _ := resp.Result.(embed.BatchResult)
	return result, nil
}

// CreateCollection registers a new collection (spec.md §6 `create_collection`).
func (e *Engine) CreateCollection(ctx context.Context, name, providerID, modelID string, dimensions int, autoGenerate bool, description string) error {
	c := collection.New(name, providerID, modelID, dimensions, autoGenerate).WithDescription(description)
	resp := e.submit(ctx, broker.MethodCreateCollection, c)
	return responseError(resp)
}

// CollectionStatus reports a collection's readiness (spec.md §6
// `collection_status`).
func (e *Engine) CollectionStatus(ctx context.Context, name string) (CollectionStatus, error) {
	resp := e.submit(ctx, broker.MethodCollectionStatus, name)
	if !resp.Ok() {
		return CollectionStatus{}, responseError(resp)
	}
	status, _ := resp.Result.(CollectionStatus)
	return status, nil
}

// Export serializes the whole database (spec.md §6 `export`).
func (e *Engine) Export(ctx context.Context) ([]byte, error) {
	resp := e.submit(ctx, broker.MethodExport, nil)
	if !resp.Ok() {
		return nil, responseError(resp)
	}
	data, _ := resp.Result.([]byte)
	return data, nil
}

// Import replaces the database with a previously exported blob (spec.md §6
// `import`). The broker schedules Import like any other request and does
// not hold other requests back while it runs; Import swaps the underlying
// handle, and requests running concurrently with it are not excluded.
func (e *Engine) Import(ctx context.Context, data []byte) error {
	resp := e.submit(ctx, broker.MethodImport, data)
	return responseError(resp)
}

// VersionInfo is the response shape of `version` (spec.md §6).
type VersionInfo struct {
	EngineVersion   string
	VectorExtVersion string
	SchemaVersion   int
}

// Version reports the engine, vector extension, and schema versions
// (spec.md §6 `version`). There is no separate sqlite-vec extension in this
// engine (§9 note: the vector branch is a JSON column plus in-memory
// top-k), so VectorExtVersion names the in-process implementation instead
// of a loadable extension's version string.
func (e *Engine) Version() VersionInfo {
	return VersionInfo{
		EngineVersion:    EngineVersion,
		VectorExtVersion: "in-memory-cosine/1",
		SchemaVersion:    storage.SchemaVersion,
	}
}

// Stats is the response shape of `stats` (spec.md §6).
type Stats struct {
	DBSizeBytes    int64
	OperationCounts map[string]int64
	CacheHitRates  map[string]float64
}

// Stats reports database size, per-method operation counts, and cache tier
// hit rates (spec.md §6 `stats`).
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	resp := e.submit(ctx, broker.MethodStats, nil)
	if !resp.Ok() {
		return Stats{}, responseError(resp)
	}
	stats, _ := resp.Result.(Stats)
	return stats, nil
}

func (e *Engine) dbSizeBytes() int64 {
	path, err := e.store.FilePath()
	if err != nil {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Begin opens a transaction bracket. Subsequent calls to Exec
// presenting the returned token are admitted into this bracket ahead of
// unrelated requests (spec.md §4.5).
func (e *Engine) Begin(ctx context.Context) (uint64, error) {
	resp := e.broker.Submit(ctx, broker.Request{Method: broker.MethodBegin})
	if !resp.Ok() {
		return 0, responseError(resp)
	}
	token, _ := resp.Result.(uint64)
	return token, nil
}

// Commit closes a transaction bracket opened by Begin.
func (e *Engine) Commit(ctx context.Context, token uint64) error {
	resp := e.broker.Submit(ctx, broker.Request{Method: broker.MethodCommit, TxToken: token})
	return responseError(resp)
}

// Rollback aborts a transaction bracket opened by Begin.
func (e *Engine) Rollback(ctx context.Context, token uint64) error {
	resp := e.broker.Submit(ctx, broker.Request{Method: broker.MethodRollback, TxToken: token})
	return responseError(resp)
}

// Cancel cooperatively cancels a pending or in-flight broker request by id
// (spec.md §4.5 "Cancellation"). Request ids are not currently surfaced to
// Engine callers by the convenience methods above, which block until
// completion; Cancel is exposed for callers driving the broker directly.
func (e *Engine) Cancel(id uint64) { e.broker.Cancel(id) }
