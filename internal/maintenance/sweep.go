// Package maintenance provides the repair tooling that substitutes for
// cross-backend transactions: orphan detection between the catalog and the
// external bucket, and time-based task purging.
//
// Sweeps only report. Orphaned blobs are removed by an explicit
// RemoveOrphanBlobs call, never as a side effect of detection.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docstored/internal/blob"
	"github.com/fyrsmithlabs/docstored/internal/catalog"
	"github.com/fyrsmithlabs/docstored/internal/tasks"
)

const instrumentationName = "github.com/fyrsmithlabs/docstored/internal/maintenance"

// OrphanBlob is a bucket file with no catalog row pointing at it.
type OrphanBlob struct {
	Path string
	Size int64
}

// OrphanRow is a catalog row whose bytes are missing: an external row with
// no blob file, an external row with no recorded path (a broken migration
// state, never silently read as inline), or an inline row without payload.
type OrphanRow struct {
	FileID     string
	Collection string
	Kind       blob.Kind
	Path       string
	Reason     string
}

// Report is the outcome of one sweep.
type Report struct {
	OrphanBlobs []OrphanBlob
	OrphanRows  []OrphanRow
	SweptAt     time.Time
}

// Clean reports whether the sweep found nothing to repair.
func (r *Report) Clean() bool {
	return len(r.OrphanBlobs) == 0 && len(r.OrphanRows) == 0
}

// Sweeper detects and repairs catalog/bucket inconsistencies.
type Sweeper struct {
	catalog  *catalog.Catalog
	external *blob.ExternalBackend
	tracker  *tasks.Tracker
	logger   *zap.Logger

	tracer        trace.Tracer
	orphanCounter metric.Int64Counter
}

// NewSweeper creates a sweeper over the catalog and external bucket.
func NewSweeper(cat *catalog.Catalog, external *blob.ExternalBackend, tracker *tasks.Tracker, logger *zap.Logger) (*Sweeper, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if external == nil {
		return nil, fmt.Errorf("external backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sweeper{
		catalog:  cat,
		external: external,
		tracker:  tracker,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}
	var err error
	s.orphanCounter, err = otel.Meter(instrumentationName).Int64Counter(
		"docstored.maintenance.orphans_found_total",
		metric.WithDescription("Orphans found by maintenance sweeps"),
		metric.WithUnit("{orphan}"),
	)
	if err != nil {
		logger.Warn("failed to create orphan counter", zap.Error(err))
	}
	return s, nil
}

// FindOrphanBlobs returns bucket files no catalog row points at.
func (s *Sweeper) FindOrphanBlobs(ctx context.Context) ([]OrphanBlob, error) {
	ctx, span := s.tracer.Start(ctx, "maintenance.find_orphan_blobs")
	defer span.End()

	stored, err := s.external.List(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	referenced, err := s.catalog.ExternalPaths(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var orphans []OrphanBlob
	for _, path := range stored {
		if _, ok := referenced[path]; !ok {
			orphans = append(orphans, OrphanBlob{Path: path})
		}
	}

	if len(orphans) > 0 {
		if s.orphanCounter != nil {
			s.orphanCounter.Add(ctx, int64(len(orphans)),
				metric.WithAttributes(attribute.String("kind", "blob")))
		}
		s.logger.Warn("orphaned blobs detected",
			zap.Int("count", len(orphans)),
			zap.Error(catalog.ErrInconsistentState),
		)
	}
	span.SetAttributes(attribute.Int("orphan_count", len(orphans)))
	return orphans, nil
}

// FindOrphanRows returns catalog rows whose bytes are missing.
func (s *Sweeper) FindOrphanRows(ctx context.Context) ([]OrphanRow, error) {
	ctx, span := s.tracer.Start(ctx, "maintenance.find_orphan_rows")
	defer span.End()

	files, err := s.catalog.AllFiles(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var orphans []OrphanRow
	for _, rec := range files {
		switch rec.StorageKind {
		case blob.KindExternal:
			if rec.StoragePath == "" {
				orphans = append(orphans, OrphanRow{
					FileID:     rec.ID,
					Collection: rec.Collection,
					Kind:       rec.StorageKind,
					Reason:     "external row without storage path",
				})
				continue
			}
			exists, err := s.external.Exists(ctx, rec.Locator())
			if err != nil {
				span.RecordError(err)
				return nil, err
			}
			if !exists {
				orphans = append(orphans, OrphanRow{
					FileID:     rec.ID,
					Collection: rec.Collection,
					Kind:       rec.StorageKind,
					Path:       rec.StoragePath,
					Reason:     "blob file missing",
				})
			}
		case blob.KindInline:
			if len(rec.InlinePayload) == 0 {
				orphans = append(orphans, OrphanRow{
					FileID:     rec.ID,
					Collection: rec.Collection,
					Kind:       rec.StorageKind,
					Reason:     "inline row without payload",
				})
			}
		}
	}

	if len(orphans) > 0 {
		if s.orphanCounter != nil {
			s.orphanCounter.Add(ctx, int64(len(orphans)),
				metric.WithAttributes(attribute.String("kind", "row")))
		}
		s.logger.Warn("orphaned rows detected",
			zap.Int("count", len(orphans)),
			zap.Error(catalog.ErrInconsistentState),
		)
	}
	span.SetAttributes(attribute.Int("orphan_count", len(orphans)))
	return orphans, nil
}

// Sweep runs both orphan scans and returns a combined report.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	blobs, err := s.FindOrphanBlobs(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.FindOrphanRows(ctx)
	if err != nil {
		return nil, err
	}
	return &Report{OrphanBlobs: blobs, OrphanRows: rows, SweptAt: time.Now()}, nil
}

// RemoveOrphanBlobs deletes the given orphaned bucket files. This is the
// explicit repair step; it trusts the caller to pass a fresh report.
func (s *Sweeper) RemoveOrphanBlobs(ctx context.Context, orphans []OrphanBlob) (int, error) {
	ctx, span := s.tracer.Start(ctx, "maintenance.remove_orphan_blobs")
	defer span.End()

	removed := 0
	for _, orphan := range orphans {
		loc := blob.Locator{Kind: blob.KindExternal, Path: orphan.Path}
		if err := s.external.Delete(ctx, loc); err != nil {
			span.RecordError(err)
			return removed, fmt.Errorf("removing orphan %s: %w", orphan.Path, err)
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("removed orphaned blobs", zap.Int("count", removed))
	}
	return removed, nil
}

// PurgeTasks deletes terminal task records older than the horizon.
func (s *Sweeper) PurgeTasks(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s.tracker == nil {
		return 0, fmt.Errorf("task tracker not configured")
	}
	return s.tracker.Cleanup(ctx, olderThan)
}
