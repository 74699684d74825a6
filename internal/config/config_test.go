package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Equal(t, 384, cfg.Catalog.EmbeddingDim)
	assert.Equal(t, "exact", cfg.Search.Provider)
	assert.Equal(t, int64(0), cfg.Storage.SizeThreshold)
	assert.Equal(t, 1000, cfg.Ingest.ChunkSize)
	assert.Equal(t, 24*time.Hour, cfg.Tasks.Retention.Duration())
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		cfg := NewDefaultConfig()
		cfg.Catalog.Path = "/tmp/catalog.db"
		cfg.Storage.Root = "/tmp/bucket"
		return cfg
	}

	t.Run("defaults valid", func(t *testing.T) {
		require.NoError(t, base().Validate())
	})

	t.Run("missing catalog path", func(t *testing.T) {
		cfg := base()
		cfg.Catalog.Path = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative size threshold", func(t *testing.T) {
		cfg := base()
		cfg.Storage.SizeThreshold = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown search provider", func(t *testing.T) {
		cfg := base()
		cfg.Search.Provider = "faiss"
		assert.Error(t, cfg.Validate())
	})

	t.Run("qdrant provider requires valid qdrant config", func(t *testing.T) {
		cfg := base()
		cfg.Search.Provider = "qdrant"
		assert.Error(t, cfg.Validate())

		cfg.Search.Qdrant.ApplyDefaults()
		cfg.Search.Qdrant.VectorSize = 384
		assert.NoError(t, cfg.Validate())
	})

	t.Run("overlap must stay below chunk size", func(t *testing.T) {
		cfg := base()
		cfg.Ingest.ChunkOverlap = cfg.Ingest.ChunkSize
		assert.Error(t, cfg.Validate())
	})

	t.Run("retention must be positive", func(t *testing.T) {
		cfg := base()
		cfg.Tasks.Retention = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}

func TestEnvTransformer(t *testing.T) {
	assert.Equal(t, "catalog.path", envTransformer("CATALOG_PATH"))
	assert.Equal(t, "storage.size_threshold", envTransformer("STORAGE_SIZE_THRESHOLD"))
	assert.Equal(t, "catalog.embedding_dim", envTransformer("CATALOG_EMBEDDING_DIM"))
	assert.Equal(t, "debug", envTransformer("DEBUG"))
}

func TestValidateConfigPath(t *testing.T) {
	assert.Error(t, validateConfigPath("/tmp/config.yaml"))
	assert.NoError(t, validateConfigPath("/etc/docstored/config.yaml"))
}

func TestExpandHome(t *testing.T) {
	assert.Equal(t, "/abs/path", expandHome("/abs/path"))
	expanded := expandHome("~/x/y")
	assert.NotContains(t, expanded, "~")
	assert.Contains(t, expanded, "/x/y")
}
