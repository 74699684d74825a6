// Package search answers similarity queries over stored chunk vectors.
//
// Two searchers are provided: ExactSearcher computes brute-force cosine
// similarity over the catalog (the default, and the source of truth), and
// QdrantSearcher queries a remote index kept in sync by the ingest
// pipeline. Both apply the metadata containment filter before the
// threshold/top-k cut and return results strictly descending by similarity.
package search

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docstored/internal/catalog"
)

const instrumentationName = "github.com/fyrsmithlabs/docstored/internal/search"

// Match pairs a chunk with its similarity to the query embedding.
// Similarity is 1 - cosine distance, so 1 means identical direction.
type Match struct {
	Chunk      catalog.ChunkRecord
	Similarity float32
}

// Query describes one similarity search.
type Query struct {
	Collection string
	Embedding  []float32
	// Filter is a metadata containment test: a chunk matches only if its
	// metadata holds every key/value pair listed here.
	Filter catalog.Metadata
	// Threshold excludes matches with similarity <= Threshold.
	Threshold float32
	// TopK caps the result count. Zero means 10.
	TopK int
}

// Searcher answers similarity queries for one deployment.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Match, error)
}

// ExactSearcher scans the catalog's chunks and scores them in process.
// Exact by construction: no index, no approximation, stable ordering with
// ties broken by insertion order.
type ExactSearcher struct {
	catalog *catalog.Catalog
	logger  *zap.Logger

	tracer       trace.Tracer
	queryCounter metric.Int64Counter
}

// NewExactSearcher creates the in-process searcher.
func NewExactSearcher(cat *catalog.Catalog, logger *zap.Logger) (*ExactSearcher, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ExactSearcher{
		catalog: cat,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
	}
	var err error
	s.queryCounter, err = otel.Meter(instrumentationName).Int64Counter(
		"docstored.search.queries_total",
		metric.WithDescription("Total similarity queries"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		logger.Warn("failed to create query counter", zap.Error(err))
	}
	return s, nil
}

// Search filters by metadata containment, scores the survivors by cosine
// similarity, and returns those strictly above the threshold, best first,
// capped at TopK. An empty result is not an error.
func (s *ExactSearcher) Search(ctx context.Context, q Query) ([]Match, error) {
	ctx, span := s.tracer.Start(ctx, "search.exact")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", q.Collection),
		attribute.Int("top_k", q.TopK),
	)

	if len(q.Embedding) != s.catalog.EmbeddingDim() {
		return nil, fmt.Errorf("%w: query has %d, want %d",
			catalog.ErrInvalidEmbeddingDimension, len(q.Embedding), s.catalog.EmbeddingDim())
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}

	chunks, err := s.catalog.ChunksByCollection(ctx, q.Collection)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// chunks arrive in insertion order, so the stable sort preserves it
	// between equal scores.
	matches := make([]Match, 0, len(chunks))
	for _, chunk := range chunks {
		if len(q.Filter) > 0 && !chunk.Metadata.Contains(q.Filter) {
			continue
		}
		sim := CosineSimilarity(q.Embedding, chunk.Embedding)
		if sim <= q.Threshold {
			continue
		}
		matches = append(matches, Match{Chunk: chunk, Similarity: sim})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}

	if s.queryCounter != nil {
		s.queryCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", "exact")))
	}
	span.SetAttributes(attribute.Int("result_count", len(matches)))
	return matches, nil
}

// CosineSimilarity computes cos(θ) = (A · B) / (||A|| * ||B||) in the
// range [-1, 1]. Mismatched or zero-magnitude vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	magA = math.Sqrt(magA)
	magB = math.Sqrt(magB)
	if magA == 0 || magB == 0 {
		return 0
	}
	return float32(dot / (magA * magB))
}

var _ Searcher = (*ExactSearcher)(nil)
