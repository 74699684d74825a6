package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/docstored/internal/catalog"
	"github.com/fyrsmithlabs/docstored/internal/contentaddr"
	"github.com/fyrsmithlabs/docstored/internal/embeddings"
	"github.com/fyrsmithlabs/docstored/internal/logging"
	"github.com/fyrsmithlabs/docstored/internal/search"
	"github.com/fyrsmithlabs/docstored/internal/telemetry"
)

// Config is the root configuration for docstored.
type Config struct {
	Catalog   catalog.Config    `koanf:"catalog"`
	Storage   StorageConfig     `koanf:"storage"`
	Search    SearchConfig      `koanf:"search"`
	Ingest    IngestConfig      `koanf:"ingest"`
	Embedding embeddings.Config `koanf:"embedding"`
	Tasks     TasksConfig       `koanf:"tasks"`
	Logging   logging.Config    `koanf:"logging"`
	Telemetry telemetry.Config  `koanf:"telemetry"`
}

// StorageConfig controls the blob layer.
type StorageConfig struct {
	// Root is the external bucket directory.
	Root string `koanf:"root"`

	// SizeThreshold is the byte size above which content goes to the
	// external bucket instead of an inline column.
	SizeThreshold int64 `koanf:"size_threshold"`
}

// SearchConfig selects the similarity search provider.
type SearchConfig struct {
	// Provider is "exact" (catalog scan) or "qdrant".
	Provider string `koanf:"provider"`
	Qdrant   search.QdrantConfig `koanf:"qdrant"`
}

// IngestConfig controls text chunking.
type IngestConfig struct {
	ChunkSize    int `koanf:"chunk_size"`
	ChunkOverlap int `koanf:"chunk_overlap"`
}

// TasksConfig controls task record retention.
type TasksConfig struct {
	// Retention is how long terminal task records are kept before a purge
	// removes them.
	Retention Duration `koanf:"retention"`
}

// NewDefaultConfig returns the full default configuration.
func NewDefaultConfig() *Config {
	return &Config{
		Catalog: catalog.Config{
			Path:         "~/.local/share/docstored/catalog.db",
			EmbeddingDim: 384,
		},
		Storage: StorageConfig{
			Root:          "~/.local/share/docstored/bucket",
			SizeThreshold: contentaddr.DefaultSizeThreshold,
		},
		Search: SearchConfig{
			Provider: "exact",
		},
		Ingest: IngestConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Embedding: embeddings.Config{
			Provider: "none",
			BaseURL:  "http://localhost:8080",
			Model:    "BAAI/bge-small-en-v1.5",
			Timeout:  30 * time.Second,
		},
		Tasks: TasksConfig{
			Retention: Duration(24 * time.Hour),
		},
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
	}
}

// Validate checks the full configuration.
func (c *Config) Validate() error {
	if err := c.Catalog.Validate(); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("storage: root is required")
	}
	if c.Storage.SizeThreshold < 0 {
		return fmt.Errorf("storage: size_threshold cannot be negative")
	}
	switch c.Search.Provider {
	case "exact":
	case "qdrant":
		if err := c.Search.Qdrant.Validate(); err != nil {
			return fmt.Errorf("search.qdrant: %w", err)
		}
	default:
		return fmt.Errorf("search: provider must be 'exact' or 'qdrant', got %q", c.Search.Provider)
	}
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest: chunk_size must be positive")
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest: chunk_overlap must be in [0, chunk_size)")
	}
	if err := c.Embedding.Validate(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if c.Tasks.Retention.Duration() <= 0 {
		return fmt.Errorf("tasks: retention must be positive")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}
