// Package cascade keeps the three catalog layers and their aggregate
// counters coherent under operations that touch multiple tables and the
// blob store without a shared transaction.
//
// Deletion always runs in a fixed order (chunks, then files and their
// blobs, then the knowledge-base row) so a crash mid-sequence leaves only
// "file with no chunks" or "knowledge base with no files", never a dangling
// chunk referencing a deleted file. There is no rollback; a blob deletion
// that fails after its catalog row is gone is logged as an orphan and left
// for the maintenance sweep.
package cascade

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docstored/internal/blob"
	"github.com/fyrsmithlabs/docstored/internal/catalog"
	"github.com/fyrsmithlabs/docstored/internal/tasks"
)

const instrumentationName = "github.com/fyrsmithlabs/docstored/internal/cascade"

// Mirror is a remote chunk index kept in sync with the catalog. The ingest
// pipeline upserts into it; the cascade engine removes from it. Cleanup is
// best effort: the catalog is the source of truth and a mirror failure
// never fails a cascade.
type Mirror interface {
	DeletePoints(ctx context.Context, collection string, chunkIDs []string) error
	DropCollection(ctx context.Context, collection string) error
}

// Engine orchestrates multi-table deletes and counter recomputation.
type Engine struct {
	catalog  *catalog.Catalog
	backends map[blob.Kind]blob.Backend
	locks    *lockTable
	tracker  *tasks.Tracker
	mirror   Mirror
	logger   *zap.Logger

	tracer        trace.Tracer
	meter         metric.Meter
	deleteCounter metric.Int64Counter
	orphanCounter metric.Int64Counter
}

// Options configures optional engine collaborators.
type Options struct {
	// Tracker, when set, records each deletion cascade as a task so
	// long-running cascades stay observable.
	Tracker *tasks.Tracker
	// Mirror, when set, receives best-effort index cleanup matching each
	// cascade.
	Mirror Mirror
}

// NewEngine creates a cascade engine over the catalog and blob backends.
func NewEngine(cat *catalog.Catalog, backends map[blob.Kind]blob.Backend, opts Options, logger *zap.Logger) (*Engine, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if backends[blob.KindInline] == nil || backends[blob.KindExternal] == nil {
		return nil, fmt.Errorf("both blob backends are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		catalog:  cat,
		backends: backends,
		locks:    newLockTable(),
		tracker:  opts.Tracker,
		mirror:   opts.Mirror,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}
	e.initMetrics()
	return e, nil
}

func (e *Engine) initMetrics() {
	var err error

	e.deleteCounter, err = e.meter.Int64Counter(
		"docstored.cascade.deletions_total",
		metric.WithDescription("Total cascade deletion operations"),
		metric.WithUnit("{deletion}"),
	)
	if err != nil {
		e.logger.Warn("failed to create deletion counter", zap.Error(err))
	}

	e.orphanCounter, err = e.meter.Int64Counter(
		"docstored.cascade.orphaned_blobs_total",
		metric.WithDescription("Blobs orphaned by failed deletes during a cascade"),
		metric.WithUnit("{blob}"),
	)
	if err != nil {
		e.logger.Warn("failed to create orphan counter", zap.Error(err))
	}
}

// WithCollectionLock runs fn while holding the collection's advisory lock.
// Returns ErrCollectionBusy without running fn when a deletion (or another
// writer) holds the lock. The ingest pipeline wraps its writes in this.
func (e *Engine) WithCollectionLock(collection string, fn func() error) error {
	if !e.locks.tryAcquire(collection) {
		return fmt.Errorf("%w: %s", catalog.ErrCollectionBusy, collection)
	}
	defer e.locks.release(collection)
	return fn()
}

// DeleteKnowledgeBase removes a knowledge base and everything it owns:
// chunks first, then files and their blobs, then the row itself. Terminal;
// the name is free for reuse afterward. The cascade is recorded as a task
// when a tracker is wired.
func (e *Engine) DeleteKnowledgeBase(ctx context.Context, name string) error {
	ctx, span := e.tracer.Start(ctx, "cascade.delete_knowledge_base")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	taskID := e.submitTask(ctx)

	if !e.locks.tryAcquire(name) {
		err := fmt.Errorf("%w: %s", catalog.ErrCollectionBusy, name)
		e.failTask(ctx, taskID, err)
		return err
	}
	defer e.locks.release(name)

	if _, err := e.catalog.GetKnowledgeBase(ctx, name); err != nil {
		span.RecordError(err)
		e.failTask(ctx, taskID, err)
		return err
	}
	e.progressTask(ctx, taskID, 0.1, "deleting content")

	if err := e.clearContent(ctx, name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.failTask(ctx, taskID, err)
		return err
	}
	e.progressTask(ctx, taskID, 0.8, "content removed")

	if err := e.catalog.DeleteKnowledgeBase(ctx, name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.failTask(ctx, taskID, err)
		return err
	}
	e.dropMirrorCollection(ctx, name)

	if e.deleteCounter != nil {
		e.deleteCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "knowledge_base")))
	}
	e.completeTask(ctx, taskID, fmt.Sprintf(`{"op":"delete_knowledge_base","collection":%q}`, name))
	e.logger.Info("deleted knowledge base", zap.String("name", name))
	return nil
}

// ClearKnowledgeBase empties a knowledge base's content but keeps the row,
// recomputing its counters to zero. This is the Active -> Clearing ->
// Active path; the knowledge base remains usable afterward.
func (e *Engine) ClearKnowledgeBase(ctx context.Context, name string) error {
	ctx, span := e.tracer.Start(ctx, "cascade.clear_knowledge_base")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	taskID := e.submitTask(ctx)

	if !e.locks.tryAcquire(name) {
		err := fmt.Errorf("%w: %s", catalog.ErrCollectionBusy, name)
		e.failTask(ctx, taskID, err)
		return err
	}
	defer e.locks.release(name)

	if _, err := e.catalog.GetKnowledgeBase(ctx, name); err != nil {
		span.RecordError(err)
		e.failTask(ctx, taskID, err)
		return err
	}
	e.progressTask(ctx, taskID, 0.1, "deleting content")

	if err := e.clearContent(ctx, name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.failTask(ctx, taskID, err)
		return err
	}
	e.dropMirrorCollection(ctx, name)
	e.progressTask(ctx, taskID, 0.8, "content removed")

	if err := e.recomputeLocked(ctx, name); err != nil {
		span.RecordError(err)
		e.failTask(ctx, taskID, err)
		return err
	}

	if e.deleteCounter != nil {
		e.deleteCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "clear")))
	}
	e.completeTask(ctx, taskID, fmt.Sprintf(`{"op":"clear_knowledge_base","collection":%q}`, name))
	e.logger.Info("cleared knowledge base", zap.String("name", name))
	return nil
}

// clearContent deletes a collection's chunks, then its files and blobs.
// Callers hold the collection lock.
func (e *Engine) clearContent(ctx context.Context, name string) error {
	chunks, err := e.catalog.DeleteChunksByCollection(ctx, name)
	if err != nil {
		return err
	}

	files, err := e.catalog.ListFiles(ctx, name)
	if err != nil {
		return err
	}
	for i := range files {
		e.deleteBlob(ctx, &files[i].FileRecord)
	}
	deleted, err := e.catalog.DeleteFilesByCollection(ctx, name)
	if err != nil {
		return err
	}

	e.logger.Info("cleared collection content",
		zap.String("collection", name),
		zap.Int64("chunks", chunks),
		zap.Int64("files", deleted),
	)
	return nil
}

// DeleteFile removes one file, its chunks, and its blob, then recomputes
// the owning knowledge base's counters. The cascade is recorded as a task
// when a tracker is wired.
func (e *Engine) DeleteFile(ctx context.Context, fileID string) error {
	ctx, span := e.tracer.Start(ctx, "cascade.delete_file")
	defer span.End()
	span.SetAttributes(attribute.String("file_id", fileID))

	taskID := e.submitTask(ctx)

	rec, err := e.catalog.GetFile(ctx, fileID)
	if err != nil {
		span.RecordError(err)
		e.failTask(ctx, taskID, err)
		return err
	}

	if !e.locks.tryAcquire(rec.Collection) {
		err := fmt.Errorf("%w: %s", catalog.ErrCollectionBusy, rec.Collection)
		e.failTask(ctx, taskID, err)
		return err
	}
	defer e.locks.release(rec.Collection)

	chunkIDs, err := e.chunkIDs(ctx, fileID)
	if err != nil {
		span.RecordError(err)
		e.failTask(ctx, taskID, err)
		return err
	}
	e.progressTask(ctx, taskID, 0.2, "deleting chunks")

	chunks, err := e.catalog.DeleteChunksByFile(ctx, fileID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.failTask(ctx, taskID, err)
		return err
	}
	e.deleteMirrorPoints(ctx, rec.Collection, chunkIDs)
	e.progressTask(ctx, taskID, 0.6, "deleting blob")

	e.deleteBlob(ctx, rec)

	if err := e.catalog.DeleteFile(ctx, fileID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.failTask(ctx, taskID, err)
		return err
	}
	e.progressTask(ctx, taskID, 0.9, "refreshing counters")

	if err := e.recomputeLocked(ctx, rec.Collection); err != nil {
		span.RecordError(err)
		e.failTask(ctx, taskID, err)
		return err
	}

	if e.deleteCounter != nil {
		e.deleteCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "file")))
	}
	e.completeTask(ctx, taskID,
		fmt.Sprintf(`{"op":"delete_file","file_id":%q,"chunks":%d}`, fileID, chunks))
	e.logger.Info("deleted file",
		zap.String("file_id", fileID),
		zap.String("collection", rec.Collection),
		zap.Int64("chunks", chunks),
	)
	return nil
}

// DeleteChunksOnly removes a file's chunks but preserves the file record
// and its blob. Used when re-indexing without discarding the upload.
func (e *Engine) DeleteChunksOnly(ctx context.Context, fileID string) (int64, error) {
	ctx, span := e.tracer.Start(ctx, "cascade.delete_chunks_only")
	defer span.End()
	span.SetAttributes(attribute.String("file_id", fileID))

	rec, err := e.catalog.GetFile(ctx, fileID)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	if !e.locks.tryAcquire(rec.Collection) {
		return 0, fmt.Errorf("%w: %s", catalog.ErrCollectionBusy, rec.Collection)
	}
	defer e.locks.release(rec.Collection)

	chunkIDs, err := e.chunkIDs(ctx, fileID)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	deleted, err := e.catalog.DeleteChunksByFile(ctx, fileID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	e.deleteMirrorPoints(ctx, rec.Collection, chunkIDs)

	if err := e.recomputeLocked(ctx, rec.Collection); err != nil {
		span.RecordError(err)
		return deleted, err
	}

	if e.deleteCounter != nil {
		e.deleteCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "chunks_only")))
	}
	return deleted, nil
}

// DeleteCollectionChunks removes every chunk in a collection while keeping
// files and the knowledge base itself.
func (e *Engine) DeleteCollectionChunks(ctx context.Context, collection string) (int64, error) {
	ctx, span := e.tracer.Start(ctx, "cascade.delete_collection_chunks")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	if !e.locks.tryAcquire(collection) {
		return 0, fmt.Errorf("%w: %s", catalog.ErrCollectionBusy, collection)
	}
	defer e.locks.release(collection)

	deleted, err := e.catalog.DeleteChunksByCollection(ctx, collection)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	e.dropMirrorCollection(ctx, collection)
	if err := e.recomputeLocked(ctx, collection); err != nil {
		span.RecordError(err)
		return deleted, err
	}
	return deleted, nil
}

// RecomputeStats rederives a knowledge base's counters from the source
// tables and persists them. May run concurrently with reads; it queries
// current source-of-truth tables at the moment it runs.
func (e *Engine) RecomputeStats(ctx context.Context, collection string) (*catalog.Stats, error) {
	ctx, span := e.tracer.Start(ctx, "cascade.recompute_stats")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	stats, err := e.catalog.Stats(ctx, collection)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := e.catalog.SetKnowledgeBaseCounts(ctx, collection, stats.DocumentCount, stats.ChunkCount); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return stats, nil
}

// recomputeLocked recomputes counters for callers already holding the
// collection lock. A missing knowledge-base row is tolerated: stats land
// when the row is created.
func (e *Engine) recomputeLocked(ctx context.Context, collection string) error {
	stats, err := e.catalog.Stats(ctx, collection)
	if err != nil {
		return err
	}
	err = e.catalog.SetKnowledgeBaseCounts(ctx, collection, stats.DocumentCount, stats.ChunkCount)
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// deleteBlob removes a file's blob, logging an orphan instead of failing
// the cascade when the backend errors. The maintenance sweep repairs it.
func (e *Engine) deleteBlob(ctx context.Context, rec *catalog.FileRecord) {
	backend := e.backends[rec.StorageKind]
	if backend == nil {
		e.logger.Error("no backend for storage kind",
			zap.String("file_id", rec.ID),
			zap.String("kind", string(rec.StorageKind)),
		)
		return
	}
	if err := backend.Delete(ctx, rec.Locator()); err != nil {
		if e.orphanCounter != nil {
			e.orphanCounter.Add(ctx, 1)
		}
		e.logger.Warn("blob deletion failed, orphan left for sweep",
			zap.String("file_id", rec.ID),
			zap.String("path", rec.StoragePath),
			zap.Error(err),
		)
	}
}

// chunkIDs returns a file's chunk ids, captured before the chunks are
// deleted so the mirror can be addressed afterward.
func (e *Engine) chunkIDs(ctx context.Context, fileID string) ([]string, error) {
	if e.mirror == nil {
		return nil, nil
	}
	chunks, err := e.catalog.ChunksByFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
	}
	return ids, nil
}

// deleteMirrorPoints removes the given chunks from the index mirror.
// Best effort; the mirror only ever holds derived state.
func (e *Engine) deleteMirrorPoints(ctx context.Context, collection string, chunkIDs []string) {
	if e.mirror == nil || len(chunkIDs) == 0 {
		return
	}
	if err := e.mirror.DeletePoints(ctx, collection, chunkIDs); err != nil {
		e.logger.Warn("mirror point cleanup failed",
			zap.String("collection", collection),
			zap.Int("chunks", len(chunkIDs)),
			zap.Error(err),
		)
	}
}

// dropMirrorCollection removes a collection's whole index mirror. The next
// ingest recreates it.
func (e *Engine) dropMirrorCollection(ctx context.Context, collection string) {
	if e.mirror == nil {
		return
	}
	if err := e.mirror.DropCollection(ctx, collection); err != nil {
		e.logger.Warn("mirror collection cleanup failed",
			zap.String("collection", collection),
			zap.Error(err),
		)
	}
}

// submitTask opens a task for a cascade when a tracker is wired. Tracking
// is observability, not correctness: a tracker failure logs and the
// cascade proceeds untracked.
func (e *Engine) submitTask(ctx context.Context) string {
	if e.tracker == nil {
		return ""
	}
	taskID, err := e.tracker.Submit(ctx)
	if err != nil {
		e.logger.Warn("failed to submit cascade task", zap.Error(err))
		return ""
	}
	return taskID
}

func (e *Engine) progressTask(ctx context.Context, taskID string, fraction float64, message string) {
	if taskID == "" {
		return
	}
	if err := e.tracker.Update(ctx, taskID, fraction, message); err != nil {
		e.logger.Warn("failed to update cascade task",
			zap.String("task_id", taskID), zap.Error(err))
	}
}

func (e *Engine) completeTask(ctx context.Context, taskID, result string) {
	if taskID == "" {
		return
	}
	if err := e.tracker.Complete(ctx, taskID, result); err != nil {
		e.logger.Warn("failed to complete cascade task",
			zap.String("task_id", taskID), zap.Error(err))
	}
}

func (e *Engine) failTask(ctx context.Context, taskID string, taskErr error) {
	if taskID == "" {
		return
	}
	if err := e.tracker.Fail(ctx, taskID, taskErr); err != nil {
		e.logger.Warn("failed to record cascade task failure",
			zap.String("task_id", taskID), zap.Error(err))
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, catalog.ErrNotFound)
}
