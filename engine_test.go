package strata_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	strata "github.com/strataeng/strata"
	"github.com/strataeng/strata/engine/embed"
	"github.com/strataeng/strata/engine/ingest"
	"github.com/strataeng/strata/engine/search"
)

func openTestEngine(t *testing.T, dims int, opts ...strata.Option) *strata.Engine {
	t.Helper()
	base := []strata.Option{
		strata.WithSQLite(":memory:"),
		strata.WithMockProvider("mock", dims, 0),
	}
	e, err := strata.Open(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestBulkInsertAndHybridSearchFusesBothBranches(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, 8)

	require.NoError(t, e.CreateCollection(ctx, "docs", "mock", "v1", 8, true, "test collection"))

	docs := []ingest.DocumentInput{
		{ID: "1", Title: "Go concurrency", Content: "goroutines and channels make concurrent Go code simple"},
		{ID: "2", Title: "Bonjour", Content: "café, déjà vu, naïve — français avec diacritiques"},
		{ID: "3", Title: "Unrelated", Content: "a recipe for sourdough bread"},
	}
	result, err := e.BulkInsert(ctx, "docs", docs, ingest.Options{})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 3)
	for _, o := range result.Outcomes {
		assert.True(t, o.EmbeddingGenerated, "document %s should have been embedded", o.ID)
	}

	res, err := e.Search(ctx, "docs", search.Query{
		Text:  "concurrent Go channels",
		Limit: 5,
		Mode:  search.ModeRRF,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)
	assert.Equal(t, "1", res.Hits[0].Document.ID())
	assert.False(t, res.Partial)
}

func TestBulkInsertMultilingualLexicalMatch(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, 4)
	require.NoError(t, e.CreateCollection(ctx, "docs", "mock", "v1", 4, false, ""))

	_, err := e.BulkInsert(ctx, "docs", []ingest.DocumentInput{
		{ID: "fr", Title: "Bonjour", Content: "café, déjà vu, naïve — texte en français"},
	}, ingest.Options{})
	require.NoError(t, err)

	res, err := e.Search(ctx, "docs", search.Query{Text: "français", Limit: 5, Mode: search.ModeRRF})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "fr", res.Hits[0].Document.ID())
}

func TestBulkInsertDuplicateIDRollsBackWholeBatch(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, 4)
	require.NoError(t, e.CreateCollection(ctx, "docs", "mock", "v1", 4, false, ""))

	_, err := e.BulkInsert(ctx, "docs", []ingest.DocumentInput{
		{ID: "dup", Content: "first"},
		{ID: "dup", Content: "second"},
	}, ingest.Options{})
	require.Error(t, err)

	serr, ok := err.(*strata.Error)
	require.True(t, ok)
	assert.Equal(t, strata.KindConstraintViolation, serr.Kind())

	status, err := e.CollectionStatus(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.DocumentsTotal, "the whole batch must roll back, not just the duplicate")
}

func TestGenerateEmbeddingPromotesThroughCacheTiers(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, 4)
	require.NoError(t, e.CreateCollection(ctx, "docs", "mock", "v1", 4, false, ""))

	first, err := e.GenerateEmbedding(ctx, "docs", "a stable piece of text")
	require.NoError(t, err)
	assert.Equal(t, embed.SourceProvider, first.Source)

	second, err := e.GenerateEmbedding(ctx, "docs", "a stable piece of text")
	require.NoError(t, err)
	assert.Equal(t, embed.SourceMemory, second.Source)
	assert.Equal(t, first.Vector, second.Vector)
}

func TestBatchGenerateTimeoutIsPartialFailureNotFatal(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, 4, strata.WithEmbeddingRetries(1, time.Millisecond, 1.0))

	// Replace the default fast mock with one that always exceeds the
	// per-request deadline below, exercising the provider-timeout path.
	slow := strata.Option(func() strata.Option {
		return strata.WithMockProvider("mock", 4, 200*time.Millisecond)
	}())
	e2, err := strata.Open(ctx, strata.WithSQLite(":memory:"), slow, strata.WithEmbeddingRetries(1, time.Millisecond, 1.0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e2.Close() })
	require.NoError(t, e2.CreateCollection(ctx, "docs", "mock", "v1", 4, false, ""))

	timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	result, err := e2.BatchGenerate(timeoutCtx, "docs", []embed.Document{
		{ID: "a", Text: "alpha"},
	}, 1, nil)
	require.NoError(t, err) // BatchGenerate itself never fails; per-document errors are reported
	assert.Equal(t, 1, result.FailedCount)
	require.Len(t, result.Details, 1)
	assert.Error(t, result.Details[0].Err)

	_ = e // keep the outer engine referenced for the first subtest's cleanup ordering
}

func TestSearchDoesNotBlockConcurrentIngest(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, 4, strata.WithBrokerConcurrency(4))
	require.NoError(t, e.CreateCollection(ctx, "docs", "mock", "v1", 4, true, ""))

	_, err := e.BulkInsert(ctx, "docs", []ingest.DocumentInput{
		{ID: "seed", Content: "seed document for concurrent reads"},
	}, ingest.Options{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		docs := make([]ingest.DocumentInput, 0, 20)
		for i := 0; i < 20; i++ {
			docs = append(docs, ingest.DocumentInput{ID: itoa(i), Content: "ingested while searching"})
		}
		_, err := e.BulkInsert(ctx, "docs", docs, ingest.Options{})
		done <- err
	}()

	for i := 0; i < 10; i++ {
		_, err := e.Search(ctx, "docs", search.Query{Text: "seed", Limit: 5, Mode: search.ModeRRF})
		require.NoError(t, err)
	}

	require.NoError(t, <-done)
}

func itoa(i int) string {
	digits := "0123456789"
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = digits[i%10]
		i /= 10
	}
	return string(buf[pos:])
}
