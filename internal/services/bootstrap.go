package services

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docstored/internal/blob"
	"github.com/fyrsmithlabs/docstored/internal/cascade"
	"github.com/fyrsmithlabs/docstored/internal/catalog"
	"github.com/fyrsmithlabs/docstored/internal/config"
	"github.com/fyrsmithlabs/docstored/internal/contentaddr"
	"github.com/fyrsmithlabs/docstored/internal/embeddings"
	"github.com/fyrsmithlabs/docstored/internal/ingest"
	"github.com/fyrsmithlabs/docstored/internal/maintenance"
	"github.com/fyrsmithlabs/docstored/internal/search"
	"github.com/fyrsmithlabs/docstored/internal/tasks"
)

// Build constructs the full service graph from configuration.
//
// A non-nil embedder overrides the configured embedding provider; passing
// nil selects the provider from cfg.Embedding, and with provider "none" the
// pipeline stores file bytes without chunking. The returned cleanup function
// closes any remote connections and must be called on shutdown.
func Build(cfg *config.Config, embedder ingest.Embedder, logger *zap.Logger) (Registry, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if embedder == nil && cfg.Embedding.Provider == "tei" {
		client, err := embeddings.NewClient(cfg.Embedding)
		if err != nil {
			return nil, nil, fmt.Errorf("creating embedding client: %w", err)
		}
		embedder = client
	}

	cat, err := catalog.Open(cfg.Catalog, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening catalog: %w", err)
	}

	external, err := blob.NewExternalBackend(cfg.Storage.Root, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening bucket: %w", err)
	}
	backends := map[blob.Kind]blob.Backend{
		blob.KindInline:   blob.NewInlineBackend(),
		blob.KindExternal: external,
	}

	tracker, err := tasks.NewTracker(cat.DB(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating task tracker: %w", err)
	}

	var (
		searcher search.Searcher
		mirror   *search.QdrantSearcher
		cleanup  = func() error { return nil }
	)
	switch cfg.Search.Provider {
	case "qdrant":
		qs, err := search.NewQdrantSearcher(cfg.Search.Qdrant, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to qdrant: %w", err)
		}
		searcher = qs
		mirror = qs
		cleanup = qs.Close
	default:
		es, err := search.NewExactSearcher(cat, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("creating exact searcher: %w", err)
		}
		searcher = es
	}

	engineOpts := cascade.Options{Tracker: tracker}
	if mirror != nil {
		engineOpts.Mirror = mirror
	}
	engine, err := cascade.NewEngine(cat, backends, engineOpts, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating cascade engine: %w", err)
	}

	sweeper, err := maintenance.NewSweeper(cat, external, tracker, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating sweeper: %w", err)
	}

	pipeline, err := ingest.NewPipeline(cat, backends,
		contentaddr.Chooser{SizeThreshold: cfg.Storage.SizeThreshold},
		engine, tracker,
		ingest.Options{
			Embedder: embedder,
			Mirror:   mirror,
			Splitter: ingest.NewSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
		}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating ingest pipeline: %w", err)
	}

	registry := NewRegistry(Options{
		Catalog:  cat,
		Cascade:  engine,
		Tasks:    tracker,
		Search:   searcher,
		Sweeper:  sweeper,
		Pipeline: pipeline,
	})
	return registry, cleanup, nil
}
