package search

import (
	"context"
	"sync"
	"time"

	"github.com/strataeng/strata/domain/collection"
	"github.com/strataeng/strata/domain/document"
	"github.com/strataeng/strata/engine/storage"
	"github.com/strataeng/strata/internal/fault"
)

// Embedder is the subset of the embedding pipeline HSE needs: a query
// embedding generated when the query supplies text but no vector and the
// collection auto-generates (spec.md §4.4 step 1). The embedding is
// computed before either branch starts; it does not run in parallel with
// the lexical branch.
type Embedder interface {
	EmbedOne(ctx context.Context, providerID, modelID, text string) ([]float32, error)
}

// Query is a search request (spec.md §4.4 "Request shape").
type Query struct {
	Text       string
	Vector     []float32
	Collection collection.Collection
	Limit      int
	Mode       Mode
	Weights    Weights
}

// Hit is one hydrated search result (spec.md §4.4 step 8).
type Hit struct {
	Document document.Document
	Score    float64
	FTSRank  int
	VecRank  int
	Sources  []string
}

// Timing reports per-phase latency (spec.md §4.4 step 8 `timing`).
type Timing struct {
	FTSMS       int64
	VecMS       int64
	EmbeddingMS int64
	FusionMS    int64
	TotalMS     int64
}

// Result is the response of a Search call.
type Result struct {
	Hits    []Hit
	Timing  Timing
	Partial bool // true if one branch failed but the other produced results
}

// Engine orchestrates the lexical and vector branches and fuses their
// results (spec.md §4.4). It holds no state of its own beyond the storage
// and embedding dependencies it's given.
type Engine struct {
	store    *storage.Store
	embedder Embedder
}

// New creates a search Engine. embedder may be nil if no collection ever
// auto-generates query embeddings.
func New(store *storage.Store, embedder Embedder) *Engine {
	return &Engine{store: store, embedder: embedder}
}

// Search runs the full hybrid search algorithm: parallel lexical/vector
// branches, fusion, and hydration preserving fused order (spec.md §4.4
// steps 1-8).
func (e *Engine) Search(ctx context.Context, q Query) (Result, error) {
	start := time.Now()

	if q.Text == "" && len(q.Vector) == 0 {
		return Result{}, fault.NewError(fault.KindInvalidRequest, "search requires text or vector")
	}

	limit := q.Limit
	if limit == 0 {
		return Result{Timing: Timing{TotalMS: time.Since(start).Milliseconds()}}, nil
	}
	k := limit * 3
	if k < 30 {
		k = 30
	}

	rowIDs, err := e.store.Documents().RowIDsForCollection(ctx, q.Collection.Name())
	if err != nil {
		return Result{}, err
	}

	vector := q.Vector
	var embeddingMS int64
	if len(vector) == 0 && q.Text != "" && q.Collection.AutoGenerate() && e.embedder != nil {
		embedStart := time.Now()
		vector, err = e.embedder.EmbedOne(ctx, q.Collection.ProviderID(), q.Collection.ModelID(), q.Text)
		embeddingMS = time.Since(embedStart).Milliseconds()
		if err != nil {
			// A failed query embedding degrades to lexical-only rather than
			// failing the whole search (spec.md §4.4 edge case "missing
			// vector -> skip vector").
			vector = nil
		}
	}

	var (
		wg         sync.WaitGroup
		ftsMatches []storage.LexicalMatch
		ftsErr     error
		ftsMS      int64
		vecMatches []storage.VectorRow
		vecErr     error
		vecMS      int64
	)

	if q.Text != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := time.Now()
			ftsMatches, ftsErr = e.store.Lexical().Search(ctx, q.Text, k, rowIDs)
			ftsMS = time.Since(s).Milliseconds()
		}()
	}
	if len(vector) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := time.Now()
			vecMatches, vecErr = e.store.Vectors().LoadAll(ctx, rowIDs)
			vecMS = time.Since(s).Milliseconds()
		}()
	}
	wg.Wait()

	partial := false
	if ftsErr != nil {
		if vecErr != nil || len(vector) == 0 {
			return Result{}, ftsErr
		}
		partial = true
	}
	if vecErr != nil {
		if q.Text == "" {
			return Result{}, vecErr
		}
		partial = true
	}

	var ftsHits, vecHits []RankedHit
	if ftsErr == nil {
		ftsHits = toRankedLexical(ftsMatches)
	}
	if vecErr == nil && len(vector) > 0 {
		vecHits = toRankedVector(storage.TopKByDistance(vector, vecMatches, k))
	}

	fuseStart := time.Now()
	fused := TopK(Fuse(q.Mode, ftsHits, vecHits, q.Weights), limit)
	fusionMS := time.Since(fuseStart).Milliseconds()

	orderedRowIDs := make([]document.RowID, len(fused))
	for i, f := range fused {
		orderedRowIDs[i] = f.RowID
	}
	docsByRowID, err := e.store.Documents().FindByRowID(ctx, q.Collection.Name(), orderedRowIDs)
	if err != nil {
		return Result{}, err
	}

	hits := make([]Hit, 0, len(fused))
	for _, f := range fused {
		doc, ok := docsByRowID[f.RowID]
		if !ok {
			continue
		}
		hits = append(hits, Hit{
			Document: doc,
			Score:    f.Score,
			FTSRank:  f.FTSRank,
			VecRank:  f.VecRank,
			Sources:  f.Sources,
		})
	}

	return Result{
		Hits:    hits,
		Partial: partial,
		Timing: Timing{
			FTSMS:       ftsMS,
			VecMS:       vecMS,
			EmbeddingMS: embeddingMS,
			FusionMS:    fusionMS,
			TotalMS:     time.Since(start).Milliseconds(),
		},
	}, nil
}

func toRankedLexical(matches []storage.LexicalMatch) []RankedHit {
	out := make([]RankedHit, len(matches))
	for i, m := range matches {
		out[i] = RankedHit{RowID: m.RowID, Score: m.Score, Rank: i + 1}
	}
	return out
}

func toRankedVector(matches []storage.VectorMatch) []RankedHit {
	out := make([]RankedHit, len(matches))
	for i, m := range matches {
		out[i] = RankedHit{RowID: m.RowID, Score: m.Distance, Rank: i + 1}
	}
	return out
}
