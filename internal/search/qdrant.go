package search

import (
	"context"
	"fmt"
	"regexp"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/docstored/internal/catalog"
)

// collectionNamePattern validates qdrant collection names: lowercase
// letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// QdrantConfig holds configuration for the remote index.
type QdrantConfig struct {
	// Host is the qdrant server hostname. Default: "localhost".
	Host string `koanf:"host"`

	// Port is the qdrant gRPC port (not the HTTP REST port).
	// Default: 6334.
	Port int `koanf:"port"`

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool `koanf:"use_tls"`

	// VectorSize is the embedding dimension; must match the catalog's.
	VectorSize uint64 `koanf:"vector_size"`
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("qdrant host required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid qdrant port: %d", c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("qdrant vector size required")
	}
	return nil
}

// ValidateCollectionName rejects names qdrant cannot serve safely.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("collection name must match ^[a-z0-9_]{1,64}$, got %q", name)
	}
	return nil
}

// IsTransientError reports whether a qdrant error is worth retrying at the
// caller: network timeouts and temporary unavailability, never invalid
// arguments or missing collections.
func IsTransientError(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantSearcher mirrors chunk embeddings into a remote qdrant collection
// (one per knowledge base) and answers queries against it. The catalog
// stays the source of truth; the index is derived state the ingest
// pipeline keeps in sync.
type QdrantSearcher struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger
}

// NewQdrantSearcher connects to the qdrant server.
func NewQdrantSearcher(cfg QdrantConfig, logger *zap.Logger) (*QdrantSearcher, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating qdrant config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}
	return &QdrantSearcher{client: client, config: cfg, logger: logger}, nil
}

// EnsureCollection creates the collection if it does not exist, with cosine
// distance and the configured vector size.
func (s *QdrantSearcher) EnsureCollection(ctx context.Context, collection string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("checking collection %q: %w", collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     s.config.VectorSize,
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("creating collection %q: %w", collection, err)
	}
	s.logger.Info("created qdrant collection", zap.String("collection", collection))
	return nil
}

// Upsert mirrors chunk records into the collection. Point ids reuse chunk
// ids so catalog deletions can address index points directly.
func (s *QdrantSearcher) Upsert(ctx context.Context, collection string, chunks []catalog.ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.EnsureCollection(ctx, collection); err != nil {
		return err
	}
	points := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		payload := map[string]any{
			"text": chunk.Text,
			"seq":  chunk.Seq,
		}
		for k, v := range chunk.Metadata {
			payload[k] = v
		}
		if chunk.FileID != nil {
			payload["file_id"] = *chunk.FileID
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(chunk.ID),
			Vectors: qdrant.NewVectors(chunk.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		}
	}
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("upserting %d points: %w", len(points), err)
	}
	return nil
}

// DeletePoints removes index points by chunk id.
func (s *QdrantSearcher) DeletePoints(ctx context.Context, collection string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, len(chunkIDs))
	for i, id := range chunkIDs {
		ids[i] = qdrant.NewIDUUID(id)
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(ids...),
	})
	if err != nil {
		return fmt.Errorf("deleting %d points: %w", len(ids), err)
	}
	return nil
}

// DropCollection removes the whole index collection. Called when its
// knowledge base is deleted.
func (s *QdrantSearcher) DropCollection(ctx context.Context, collection string) error {
	if err := s.client.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("dropping collection %q: %w", collection, err)
	}
	return nil
}

// Search queries the remote index. Matching chunk records are rehydrated
// from the catalog payload mirrored at upsert time.
func (s *QdrantSearcher) Search(ctx context.Context, q Query) ([]Match, error) {
	exists, err := s.client.CollectionExists(ctx, q.Collection)
	if err != nil {
		return nil, fmt.Errorf("checking collection %q: %w", q.Collection, err)
	}
	if !exists {
		return []Match{}, nil
	}

	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}
	limit := uint64(topK)
	threshold := q.Threshold

	var filter *qdrant.Filter
	if len(q.Filter) > 0 {
		filter = &qdrant.Filter{}
		for key, value := range q.Filter {
			filter.Must = append(filter.Must, qdrant.NewMatch(key, fmt.Sprint(value)))
		}
	}

	resp, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.Collection,
		Query:          qdrant.NewQuery(q.Embedding...),
		Limit:          &limit,
		ScoreThreshold: &threshold,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying collection %q: %w", q.Collection, err)
	}

	matches := make([]Match, 0, len(resp))
	for _, point := range resp {
		if point.Score <= q.Threshold {
			continue
		}
		chunk := catalog.ChunkRecord{
			Collection: q.Collection,
			Metadata:   catalog.Metadata{},
		}
		if point.Id != nil {
			if u, ok := point.Id.PointIdOptions.(*qdrant.PointId_Uuid); ok {
				chunk.ID = u.Uuid
			}
		}
		for key, value := range point.Payload {
			switch key {
			case "text":
				chunk.Text = value.GetStringValue()
			case "seq":
				chunk.Seq = value.GetIntegerValue()
			case "file_id":
				id := value.GetStringValue()
				chunk.FileID = &id
			default:
				chunk.Metadata[key] = qdrantValue(value)
			}
		}
		matches = append(matches, Match{Chunk: chunk, Similarity: point.Score})
	}
	return matches, nil
}

// qdrantValue converts a qdrant payload value to its Go form.
func qdrantValue(v *qdrant.Value) any {
	switch val := v.Kind.(type) {
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_ListValue:
		out := make([]any, len(val.ListValue.Values))
		for i, item := range val.ListValue.Values {
			out[i] = qdrantValue(item)
		}
		return out
	case *qdrant.Value_StructValue:
		out := make(map[string]any, len(val.StructValue.Fields))
		for k, item := range val.StructValue.Fields {
			out[k] = qdrantValue(item)
		}
		return out
	}
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantSearcher) Close() error {
	return s.client.Close()
}

var _ Searcher = (*QdrantSearcher)(nil)
