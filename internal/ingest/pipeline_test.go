package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docstored/internal/blob"
	"github.com/fyrsmithlabs/docstored/internal/cascade"
	"github.com/fyrsmithlabs/docstored/internal/catalog"
	"github.com/fyrsmithlabs/docstored/internal/contentaddr"
	"github.com/fyrsmithlabs/docstored/internal/tasks"
)

// testChooser keeps small test payloads inline.
var testChooser = contentaddr.Chooser{SizeThreshold: 1 << 10}

// stubEmbedder returns a fixed-dimension vector per text, or a canned error.
type stubEmbedder struct {
	dim   int
	err   error
	short bool // return one vector too few
	calls int
}

func (e *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	n := len(texts)
	if e.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		vec := make([]float32, e.dim)
		vec[0] = float32(i + 1)
		out[i] = vec
	}
	return out, nil
}

type pipelineEnv struct {
	catalog  *catalog.Catalog
	external *blob.ExternalBackend
	tracker  *tasks.Tracker
	engine   *cascade.Engine
	pipeline *Pipeline
	embedder *stubEmbedder
}

func newPipelineEnv(t *testing.T, opts Options) *pipelineEnv {
	t.Helper()
	cat, err := catalog.Open(catalog.Config{Path: ":memory:", EmbeddingDim: 3}, nil)
	require.NoError(t, err)
	external, err := blob.NewExternalBackend(t.TempDir(), nil)
	require.NoError(t, err)
	backends := map[blob.Kind]blob.Backend{
		blob.KindInline:   blob.NewInlineBackend(),
		blob.KindExternal: external,
	}
	engine, err := cascade.NewEngine(cat, backends, cascade.Options{}, nil)
	require.NoError(t, err)
	tracker, err := tasks.NewTracker(cat.DB(), nil)
	require.NoError(t, err)
	p, err := NewPipeline(cat, backends, testChooser, engine, tracker, opts, nil)
	require.NoError(t, err)
	env := &pipelineEnv{catalog: cat, external: external, tracker: tracker, engine: engine, pipeline: p}
	if e, ok := opts.Embedder.(*stubEmbedder); ok {
		env.embedder = e
	}
	return env
}

func TestStoreFile(t *testing.T) {
	env := newPipelineEnv(t, Options{})
	ctx := context.Background()
	_, err := env.catalog.CreateKnowledgeBase(ctx, "docs", "")
	require.NoError(t, err)

	rec, err := env.pipeline.StoreFile(ctx, Request{
		Collection:  "docs",
		Filename:    "readme.md",
		ContentType: "text/markdown",
		Data:        []byte("# Hello"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, int64(7), rec.Size)
	assert.Len(t, rec.ContentHash, 64)
}

func TestStoreFile_Validation(t *testing.T) {
	env := newPipelineEnv(t, Options{})
	ctx := context.Background()

	_, err := env.pipeline.StoreFile(ctx, Request{Filename: "a", Data: []byte("x")})
	assert.ErrorContains(t, err, "collection is required")

	_, err = env.pipeline.StoreFile(ctx, Request{Collection: "docs", Filename: "a"})
	assert.ErrorContains(t, err, "file data is required")
}

func TestStoreFile_Deduplication(t *testing.T) {
	env := newPipelineEnv(t, Options{})
	ctx := context.Background()
	_, err := env.catalog.CreateKnowledgeBase(ctx, "docs", "")
	require.NoError(t, err)

	req := Request{Collection: "docs", Filename: "a.txt", Data: []byte("same bytes")}
	first, err := env.pipeline.StoreFile(ctx, req)
	require.NoError(t, err)

	// Same content under a different name returns the original record.
	req.Filename = "copy.txt"
	second, err := env.pipeline.StoreFile(ctx, req)
	require.ErrorIs(t, err, catalog.ErrDuplicateContent)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "a.txt", second.Filename)
}

func TestStoreFile_DedupDifferentExtension(t *testing.T) {
	env := newPipelineEnv(t, Options{})
	ctx := context.Background()
	_, err := env.catalog.CreateKnowledgeBase(ctx, "docs", "")
	require.NoError(t, err)

	// Large enough to land in the external bucket.
	data := bytes.Repeat([]byte("identical bytes "), 128)
	first, err := env.pipeline.StoreFile(ctx, Request{
		Collection: "docs", Filename: "a.txt", Data: data,
	})
	require.NoError(t, err)

	// Same bytes under a different extension would map to a different
	// bucket path; the dedup check must fire before anything is written.
	second, err := env.pipeline.StoreFile(ctx, Request{
		Collection: "docs", Filename: "b.pdf", Data: data,
	})
	require.ErrorIs(t, err, catalog.ErrDuplicateContent)
	assert.Equal(t, first.ID, second.ID)

	paths, err := env.external.List(ctx)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.True(t, strings.HasSuffix(paths[0], ".txt"), paths[0])
}

func TestStoreFile_ConcurrentSameContent(t *testing.T) {
	env := newPipelineEnv(t, Options{})
	ctx := context.Background()
	_, err := env.catalog.CreateKnowledgeBase(ctx, "docs", "")
	require.NoError(t, err)

	req := Request{Collection: "docs", Filename: "race.txt", Data: []byte("raced bytes")}
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := env.pipeline.StoreFile(ctx, req)
			errs <- err
		}()
	}
	first, second := <-errs, <-errs

	// Exactly one store wins; the loser sees the dedup error, not a second
	// row.
	winners, losers := 0, 0
	for _, err := range []error{first, second} {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, catalog.ErrDuplicateContent):
			losers++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, losers)

	files, err := env.catalog.AllFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestIngestFile_FullPath(t *testing.T) {
	emb := &stubEmbedder{dim: 3}
	env := newPipelineEnv(t, Options{Embedder: emb, Splitter: NewSplitter(30, 0)})
	ctx := context.Background()

	text := "First paragraph here.\n\nSecond paragraph here.\n\nThird paragraph here."
	res, err := env.pipeline.IngestFile(ctx, Request{
		Collection: "docs",
		Filename:   "notes.txt",
		Data:       []byte(text),
		Metadata:   catalog.Metadata{"author": "avery"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.File)
	assert.Equal(t, 3, res.ChunkCount)
	assert.False(t, res.Deduplicated)
	assert.Equal(t, 1, emb.calls)

	// The task reached its terminal state with a result payload.
	task, err := env.tracker.Get(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusCompleted, task.Status)
	assert.Contains(t, task.Result, fmt.Sprintf("%q", res.File.ID))

	// Chunks carry provenance metadata and the file link.
	chunks, err := env.catalog.ChunksByFile(ctx, res.File.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "notes.txt", chunks[0].Metadata[catalog.MetaSource])
	assert.Equal(t, "avery", chunks[0].Metadata["author"])

	// Collection counters were refreshed from the source tables.
	kb, err := env.catalog.GetKnowledgeBase(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(1), kb.DocumentCount)
	assert.Equal(t, int64(3), kb.ChunkCount)
}

func TestIngestFile_CreatesKnowledgeBase(t *testing.T) {
	env := newPipelineEnv(t, Options{Embedder: &stubEmbedder{dim: 3}})
	ctx := context.Background()

	_, err := env.pipeline.IngestFile(ctx, Request{
		Collection: "fresh",
		Filename:   "a.txt",
		Data:       []byte("tiny"),
	})
	require.NoError(t, err)

	_, err = env.catalog.GetKnowledgeBase(ctx, "fresh")
	require.NoError(t, err)
}

func TestIngestFile_DedupShortCircuit(t *testing.T) {
	emb := &stubEmbedder{dim: 3}
	env := newPipelineEnv(t, Options{Embedder: emb})
	ctx := context.Background()

	req := Request{Collection: "docs", Filename: "a.txt", Data: []byte("identical")}
	first, err := env.pipeline.IngestFile(ctx, req)
	require.NoError(t, err)

	second, err := env.pipeline.IngestFile(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.File.ID, second.File.ID)
	assert.Zero(t, second.ChunkCount)

	task, err := env.tracker.Get(ctx, second.TaskID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusCompleted, task.Status)
	assert.Contains(t, task.Result, `"deduplicated":true`)
}

func TestIngestFile_NoEmbedderStoresOnly(t *testing.T) {
	env := newPipelineEnv(t, Options{})
	ctx := context.Background()

	res, err := env.pipeline.IngestFile(ctx, Request{
		Collection: "docs",
		Filename:   "a.txt",
		Data:       []byte("stored but never chunked"),
	})
	require.NoError(t, err)
	assert.Zero(t, res.ChunkCount)

	chunks, err := env.catalog.ChunksByCollection(ctx, "docs")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	task, err := env.tracker.Get(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusCompleted, task.Status)
}

func TestIngestFile_EmbedderFailureMarksTaskFailed(t *testing.T) {
	emb := &stubEmbedder{dim: 3, err: fmt.Errorf("model unavailable")}
	env := newPipelineEnv(t, Options{Embedder: emb})
	ctx := context.Background()

	res, err := env.pipeline.IngestFile(ctx, Request{
		Collection: "docs",
		Filename:   "a.txt",
		Data:       []byte("doomed"),
	})
	require.Error(t, err)
	require.NotNil(t, res)

	task, taskErr := env.tracker.Get(ctx, res.TaskID)
	require.NoError(t, taskErr)
	assert.Equal(t, tasks.StatusFailed, task.Status)
	assert.Contains(t, task.Error, "model unavailable")
}

func TestIngestFile_VectorCountMismatch(t *testing.T) {
	emb := &stubEmbedder{dim: 3, short: true}
	env := newPipelineEnv(t, Options{Embedder: emb, Splitter: NewSplitter(30, 0)})
	ctx := context.Background()

	res, err := env.pipeline.IngestFile(ctx, Request{
		Collection: "docs",
		Filename:   "a.txt",
		Data:       []byte("First paragraph here.\n\nSecond paragraph here."),
	})
	require.ErrorContains(t, err, "vectors for")

	task, taskErr := env.tracker.Get(ctx, res.TaskID)
	require.NoError(t, taskErr)
	assert.Equal(t, tasks.StatusFailed, task.Status)
}

func TestIngestText(t *testing.T) {
	env := newPipelineEnv(t, Options{Embedder: &stubEmbedder{dim: 3}, Splitter: NewSplitter(30, 0)})
	ctx := context.Background()

	res, err := env.pipeline.IngestText(ctx, "notes",
		"First paragraph here.\n\nSecond paragraph here.",
		catalog.Metadata{"kind": "snippet"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ChunkCount)
	assert.Nil(t, res.File)

	// Freestanding chunks: no file row behind them.
	chunks, err := env.catalog.ChunksByCollection(ctx, "notes")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.True(t, c.Freestanding())
		assert.Equal(t, "snippet", c.Metadata["kind"])
	}

	kb, err := env.catalog.GetKnowledgeBase(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, int64(0), kb.DocumentCount)
	assert.Equal(t, int64(2), kb.ChunkCount)
}

func TestIngestText_RequiresEmbedder(t *testing.T) {
	env := newPipelineEnv(t, Options{})
	res, err := env.pipeline.IngestText(context.Background(), "notes", "text", nil)
	assert.ErrorContains(t, err, "requires an embedder")
	assert.NotNil(t, res)
}

func TestIngestFile_SubmitFailureReturnsResult(t *testing.T) {
	env := newPipelineEnv(t, Options{})
	ctx := context.Background()

	sqlDB, err := env.catalog.DB().DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	// Even when no task could be submitted, callers get a result they can
	// format without checking for nil.
	res, err := env.pipeline.IngestFile(ctx, Request{
		Collection: "docs",
		Filename:   "a.txt",
		Data:       []byte("never stored"),
	})
	require.ErrorContains(t, err, "submitting task")
	require.NotNil(t, res)
	assert.Empty(t, res.TaskID)
}

func TestFetchFile_RoundTrip(t *testing.T) {
	env := newPipelineEnv(t, Options{})
	ctx := context.Background()
	_, err := env.catalog.CreateKnowledgeBase(ctx, "docs", "")
	require.NoError(t, err)

	small := []byte("inline sized")
	inlineRec, err := env.pipeline.StoreFile(ctx, Request{
		Collection: "docs", Filename: "small.txt", Data: small,
	})
	require.NoError(t, err)

	big := bytes.Repeat([]byte("external sized "), 128)
	externalRec, err := env.pipeline.StoreFile(ctx, Request{
		Collection: "docs", Filename: "big.bin", Data: big,
	})
	require.NoError(t, err)

	rec, data, err := env.pipeline.FetchFile(ctx, inlineRec.ID)
	require.NoError(t, err)
	assert.Equal(t, blob.KindInline, rec.StorageKind)
	assert.Equal(t, small, data)

	rec, data, err = env.pipeline.FetchFile(ctx, externalRec.ID)
	require.NoError(t, err)
	assert.Equal(t, blob.KindExternal, rec.StorageKind)
	assert.Equal(t, big, data)

	_, _, err = env.pipeline.FetchFile(ctx, "no-such-file")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestNewPipeline_Validation(t *testing.T) {
	cat, err := catalog.Open(catalog.Config{Path: ":memory:", EmbeddingDim: 3}, nil)
	require.NoError(t, err)

	_, err = NewPipeline(nil, nil, testChooser, nil, nil, Options{}, nil)
	assert.ErrorContains(t, err, "catalog is required")

	_, err = NewPipeline(cat, nil, testChooser, nil, nil, Options{}, nil)
	assert.ErrorContains(t, err, "backends are required")
}
