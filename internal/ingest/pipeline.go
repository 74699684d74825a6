// Package ingest implements the write path: content-addressed file storage
// with deduplication, text chunking, embedding, and chunk persistence, all
// tracked through the task state machine.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docstored/internal/blob"
	"github.com/fyrsmithlabs/docstored/internal/cascade"
	"github.com/fyrsmithlabs/docstored/internal/catalog"
	"github.com/fyrsmithlabs/docstored/internal/contentaddr"
	"github.com/fyrsmithlabs/docstored/internal/logging"
	"github.com/fyrsmithlabs/docstored/internal/search"
	"github.com/fyrsmithlabs/docstored/internal/tasks"
)

const instrumentationName = "github.com/fyrsmithlabs/docstored/internal/ingest"

// Embedder produces one vector per input text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Request describes a file to ingest into a collection.
type Request struct {
	Collection  string
	Filename    string
	ContentType string
	Data        []byte
	Metadata    catalog.Metadata
}

// Result reports what an ingestion produced.
type Result struct {
	TaskID       string
	File         *catalog.FileRecord
	ChunkCount   int
	Deduplicated bool
}

// Pipeline runs the ingestion write path. Stages run under the collection
// lock so a concurrent deletion cascade cannot interleave with them.
type Pipeline struct {
	catalog  *catalog.Catalog
	backends map[blob.Kind]blob.Backend
	chooser  contentaddr.Chooser
	engine   *cascade.Engine
	tracker  *tasks.Tracker
	splitter *Splitter
	embedder Embedder
	mirror   *search.QdrantSearcher
	logger   *zap.Logger

	tracer        trace.Tracer
	ingestCounter metric.Int64Counter
	dedupCounter  metric.Int64Counter
}

// Options configures optional pipeline collaborators.
type Options struct {
	// Embedder is required for chunk ingestion; without it the pipeline
	// stores file bytes only.
	Embedder Embedder
	// Mirror, when set, receives a best-effort copy of each chunk batch.
	Mirror *search.QdrantSearcher
	// Splitter overrides the default chunking parameters.
	Splitter *Splitter
}

// NewPipeline wires the ingestion write path.
func NewPipeline(cat *catalog.Catalog, backends map[blob.Kind]blob.Backend, chooser contentaddr.Chooser, engine *cascade.Engine, tracker *tasks.Tracker, opts Options, logger *zap.Logger) (*Pipeline, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if backends[blob.KindInline] == nil || backends[blob.KindExternal] == nil {
		return nil, fmt.Errorf("both inline and external backends are required")
	}
	if engine == nil {
		return nil, fmt.Errorf("cascade engine is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("task tracker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	splitter := opts.Splitter
	if splitter == nil {
		splitter = NewSplitter(defaultChunkSize, defaultChunkOverlap)
	}
	p := &Pipeline{
		catalog:  cat,
		backends: backends,
		chooser:  chooser,
		engine:   engine,
		tracker:  tracker,
		splitter: splitter,
		embedder: opts.Embedder,
		mirror:   opts.Mirror,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}
	p.initMetrics()
	return p, nil
}

func (p *Pipeline) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error
	p.ingestCounter, err = meter.Int64Counter(
		"docstored.ingest.files_total",
		metric.WithDescription("Files ingested"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		p.logger.Warn("failed to create ingest counter", zap.Error(err))
	}
	p.dedupCounter, err = meter.Int64Counter(
		"docstored.ingest.dedup_hits_total",
		metric.WithDescription("Ingestions short-circuited by content deduplication"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		p.logger.Warn("failed to create dedup counter", zap.Error(err))
	}
}

// StoreFile persists file bytes and the catalog row without chunking. The
// content hash decides both identity and, with the size threshold, the
// backend. A duplicate hash returns the existing record alongside
// ErrDuplicateContent before any blob is written; the unique constraint
// stays the backstop for two concurrent stores of the same content.
func (p *Pipeline) StoreFile(ctx context.Context, req Request) (*catalog.FileRecord, error) {
	ctx, span := p.tracer.Start(ctx, "ingest.store_file",
		trace.WithAttributes(attribute.String("collection", req.Collection)))
	defer span.End()

	if req.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("file data is required")
	}

	hash := contentaddr.Identify(req.Data)
	existing, err := p.catalog.FindByHash(ctx, hash)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if existing != nil {
		return p.dedupHit(ctx, existing), catalog.ErrDuplicateContent
	}

	kind := p.chooser.ChooseBackend(int64(len(req.Data)))
	loc := contentaddr.LocatorFor(kind, hash, req.Filename, req.Data)

	if err := p.backends[kind].Put(ctx, req.Data, loc); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("writing blob: %w", err)
	}

	rec := &catalog.FileRecord{
		Filename:         req.Filename,
		OriginalFilename: req.Filename,
		ContentType:      req.ContentType,
		Size:             int64(len(req.Data)),
		ContentHash:      hash,
		StorageKind:      kind,
		Collection:       req.Collection,
		Metadata:         req.Metadata,
	}
	if kind == blob.KindExternal {
		rec.StoragePath = loc.Path
	} else {
		rec.InlinePayload = loc.Payload
	}

	created, err := p.catalog.CreateFile(ctx, rec)
	if errors.Is(err, catalog.ErrDuplicateContent) {
		// A concurrent store won the constraint race between the hash
		// lookup and the insert.
		winner, lookupErr := p.catalog.FindByHash(ctx, hash)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if winner == nil {
			return nil, err
		}
		p.discardRacedBlob(ctx, winner, kind, loc)
		return p.dedupHit(ctx, winner), catalog.ErrDuplicateContent
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if p.ingestCounter != nil {
		p.ingestCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("storage_kind", string(kind))))
	}
	return created, nil
}

// dedupHit records a deduplication and returns the surviving record.
func (p *Pipeline) dedupHit(ctx context.Context, existing *catalog.FileRecord) *catalog.FileRecord {
	if p.dedupCounter != nil {
		p.dedupCounter.Add(ctx, 1)
	}
	p.logger.Info("duplicate content, reusing existing file",
		zap.String("content_hash", existing.ContentHash),
		zap.String("file_id", existing.ID),
	)
	return existing
}

// discardRacedBlob removes the blob written by the loser of a concurrent
// store, but only when the winner's bytes live at a different path (the
// same content stored under a different filename extension). Identical
// paths hold the winner's bytes and must stay.
func (p *Pipeline) discardRacedBlob(ctx context.Context, winner *catalog.FileRecord, kind blob.Kind, loc blob.Locator) {
	if kind != blob.KindExternal || winner.StoragePath == loc.Path {
		return
	}
	if err := p.backends[kind].Delete(ctx, loc); err != nil {
		p.logger.Warn("failed to remove raced blob, orphan left for sweep",
			zap.String("path", loc.Path),
			zap.Error(err),
		)
	}
}

// FetchFile loads a file record and its bytes through the backend that
// stored them.
func (p *Pipeline) FetchFile(ctx context.Context, fileID string) (*catalog.FileRecord, []byte, error) {
	ctx, span := p.tracer.Start(ctx, "ingest.fetch_file",
		trace.WithAttributes(attribute.String("file_id", fileID)))
	defer span.End()

	rec, err := p.catalog.GetFile(ctx, fileID)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	backend := p.backends[rec.StorageKind]
	if backend == nil {
		return nil, nil, fmt.Errorf("no backend for storage kind %q", rec.StorageKind)
	}
	data, err := backend.Get(ctx, rec.Locator())
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("reading file %s: %w", fileID, err)
	}
	return rec, data, nil
}

// IngestFile runs the full write path for one file: store, split, embed,
// persist chunks, refresh collection stats. Progress and outcome are
// recorded against a freshly submitted task. The result is never nil and
// carries the task ID once one exists, even when ingestion fails.
func (p *Pipeline) IngestFile(ctx context.Context, req Request) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "ingest.ingest_file",
		trace.WithAttributes(attribute.String("collection", req.Collection)))
	defer span.End()

	res := &Result{}
	taskID, err := p.tracker.Submit(ctx)
	if err != nil {
		return res, fmt.Errorf("submitting task: %w", err)
	}
	ctx = logging.WithTaskID(logging.WithCollection(ctx, req.Collection), taskID)
	res.TaskID = taskID

	err = p.engine.WithCollectionLock(req.Collection, func() error {
		return p.runIngest(ctx, taskID, req, res)
	})
	if err != nil {
		span.RecordError(err)
		if failErr := p.tracker.Fail(ctx, taskID, err); failErr != nil {
			p.logger.Warn("failed to record task failure",
				zap.String("task_id", taskID), zap.Error(failErr))
		}
		return res, err
	}
	return res, nil
}

func (p *Pipeline) runIngest(ctx context.Context, taskID string, req Request, res *Result) error {
	p.progress(ctx, taskID, 0.05, "starting ingestion")

	if _, err := p.catalog.CreateKnowledgeBase(ctx, req.Collection, ""); err != nil {
		return fmt.Errorf("ensuring knowledge base: %w", err)
	}

	rec, err := p.StoreFile(ctx, req)
	if errors.Is(err, catalog.ErrDuplicateContent) {
		res.File = rec
		res.Deduplicated = true
		return p.tracker.Complete(ctx, taskID, fmt.Sprintf(`{"file_id":%q,"deduplicated":true}`, rec.ID))
	}
	if err != nil {
		return err
	}
	res.File = rec
	p.progress(ctx, taskID, 0.25, "file stored")

	if p.embedder == nil {
		if _, err := p.engine.RecomputeStats(ctx, req.Collection); err != nil {
			return err
		}
		return p.tracker.Complete(ctx, taskID, fmt.Sprintf(`{"file_id":%q,"chunks":0}`, rec.ID))
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", tasks.ErrCancelled, err)
	}

	pieces := p.splitter.Split(string(req.Data))
	p.progress(ctx, taskID, 0.4, fmt.Sprintf("split into %d chunks", len(pieces)))

	if len(pieces) > 0 {
		vectors, err := p.embedder.Embed(ctx, pieces)
		if err != nil {
			return fmt.Errorf("embedding chunks: %w", err)
		}
		if len(vectors) != len(pieces) {
			return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(pieces))
		}
		p.progress(ctx, taskID, 0.7, "chunks embedded")

		chunks := make([]catalog.ChunkRecord, len(pieces))
		for i, text := range pieces {
			chunks[i] = catalog.ChunkRecord{
				Text:      text,
				Embedding: vectors[i],
				Metadata: mergeMetadata(req.Metadata, catalog.Metadata{
					catalog.MetaSource: req.Filename,
					"chunk_index":      i,
					"total_chunks":     len(pieces),
				}),
			}
		}
		n, err := p.catalog.UpsertChunks(ctx, &rec.ID, req.Collection, chunks)
		if err != nil {
			return fmt.Errorf("persisting chunks: %w", err)
		}
		res.ChunkCount = n
		p.mirrorChunks(ctx, req.Collection, chunks)
	}
	p.progress(ctx, taskID, 0.9, "chunks persisted")

	if _, err := p.engine.RecomputeStats(ctx, req.Collection); err != nil {
		return err
	}
	return p.tracker.Complete(ctx, taskID,
		fmt.Sprintf(`{"file_id":%q,"chunks":%d}`, rec.ID, res.ChunkCount))
}

// IngestText persists freestanding chunks from raw text, with no file row
// behind them. Used for notes and snippets that have no source document.
func (p *Pipeline) IngestText(ctx context.Context, collection, text string, meta catalog.Metadata) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "ingest.ingest_text",
		trace.WithAttributes(attribute.String("collection", collection)))
	defer span.End()

	res := &Result{}
	if p.embedder == nil {
		return res, fmt.Errorf("text ingestion requires an embedder")
	}

	taskID, err := p.tracker.Submit(ctx)
	if err != nil {
		return res, fmt.Errorf("submitting task: %w", err)
	}
	ctx = logging.WithTaskID(logging.WithCollection(ctx, collection), taskID)
	res.TaskID = taskID

	err = p.engine.WithCollectionLock(collection, func() error {
		p.progress(ctx, taskID, 0.1, "splitting text")
		if _, err := p.catalog.CreateKnowledgeBase(ctx, collection, ""); err != nil {
			return fmt.Errorf("ensuring knowledge base: %w", err)
		}

		pieces := p.splitter.Split(text)
		if len(pieces) == 0 {
			return p.tracker.Complete(ctx, taskID, `{"chunks":0}`)
		}
		vectors, err := p.embedder.Embed(ctx, pieces)
		if err != nil {
			return fmt.Errorf("embedding chunks: %w", err)
		}
		if len(vectors) != len(pieces) {
			return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(pieces))
		}
		p.progress(ctx, taskID, 0.6, "chunks embedded")

		chunks := make([]catalog.ChunkRecord, len(pieces))
		for i, piece := range pieces {
			chunks[i] = catalog.ChunkRecord{
				Text:      piece,
				Embedding: vectors[i],
				Metadata: mergeMetadata(meta, catalog.Metadata{
					"chunk_index":  i,
					"total_chunks": len(pieces),
				}),
			}
		}
		n, err := p.catalog.UpsertChunks(ctx, nil, collection, chunks)
		if err != nil {
			return fmt.Errorf("persisting chunks: %w", err)
		}
		res.ChunkCount = n
		p.mirrorChunks(ctx, collection, chunks)

		if _, err := p.engine.RecomputeStats(ctx, collection); err != nil {
			return err
		}
		return p.tracker.Complete(ctx, taskID, fmt.Sprintf(`{"chunks":%d}`, n))
	})
	if err != nil {
		span.RecordError(err)
		if failErr := p.tracker.Fail(ctx, taskID, err); failErr != nil {
			p.logger.Warn("failed to record task failure",
				zap.String("task_id", taskID), zap.Error(failErr))
		}
		return res, err
	}
	return res, nil
}

// mirrorChunks copies a chunk batch to the vector index. The catalog is the
// source of truth, so mirror failures are logged and never fail ingestion.
func (p *Pipeline) mirrorChunks(ctx context.Context, collection string, chunks []catalog.ChunkRecord) {
	if p.mirror == nil {
		return
	}
	if err := p.mirror.EnsureCollection(ctx, collection); err != nil {
		p.logger.Warn("vector mirror unavailable",
			zap.String("collection", collection),
			zap.Bool("transient", search.IsTransientError(err)),
			zap.Error(err),
		)
		return
	}
	if err := p.mirror.Upsert(ctx, collection, chunks); err != nil {
		p.logger.Warn("vector mirror upsert failed",
			zap.String("collection", collection),
			zap.Error(err),
		)
	}
}

func (p *Pipeline) progress(ctx context.Context, taskID string, fraction float64, message string) {
	if err := p.tracker.Update(ctx, taskID, fraction, message); err != nil {
		p.logger.Warn("failed to update task progress",
			zap.String("task_id", taskID), zap.Error(err))
	}
}

func mergeMetadata(base, extra catalog.Metadata) catalog.Metadata {
	out := make(catalog.Metadata, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
