// Package catalog implements the three-layer relational model backing the
// knowledge-base service: knowledge bases own file records by collection
// reference, file records own chunk records by file id.
//
// Hash uniqueness is enforced by a database constraint, not an application
// check-then-insert, so two concurrent stores of identical content resolve
// to exactly one surviving record.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config configures the catalog.
type Config struct {
	// Path is the sqlite database path. ":memory:" is valid for tests.
	Path string `koanf:"path"`

	// EmbeddingDim is the fixed embedding dimension for this deployment.
	// Chunk writes with any other dimension are rejected.
	EmbeddingDim int `koanf:"embedding_dim"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("catalog path required")
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.EmbeddingDim)
	}
	return nil
}

// Catalog provides metadata persistence over sqlite via gorm. Safe for
// concurrent use; the connection pool is owned here and shared by all
// operations.
type Catalog struct {
	db     *gorm.DB
	logger *zap.Logger
	dim    int
}

// Open opens (or creates) the catalog database and migrates the schema.
func Open(cfg Config, logger *zap.Logger) (*Catalog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating catalog config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening catalog database: %w", err)
	}
	// sqlite has a single writer, and ":memory:" databases exist per
	// connection, so the pool must stay at one connection.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("accessing connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&KnowledgeBase{}, &FileRecord{}, &ChunkRecord{}); err != nil {
		return nil, fmt.Errorf("migrating catalog schema: %w", err)
	}

	logger.Info("opened catalog",
		zap.String("path", cfg.Path),
		zap.Int("embedding_dim", cfg.EmbeddingDim),
	)
	return &Catalog{db: db, logger: logger, dim: cfg.EmbeddingDim}, nil
}

// DB exposes the underlying gorm handle for packages that share the
// connection pool (tasks, maintenance).
func (c *Catalog) DB() *gorm.DB { return c.db }

// EmbeddingDim returns the deployment's fixed embedding dimension.
func (c *Catalog) EmbeddingDim() int { return c.dim }

// CreateKnowledgeBase creates a knowledge base row. Creating a name that
// already exists returns the existing row unchanged; the catalog treats
// exact-duplicate creation as a no-op success.
func (c *Catalog) CreateKnowledgeBase(ctx context.Context, name, description string) (*KnowledgeBase, error) {
	if name == "" {
		return nil, fmt.Errorf("knowledge base name required")
	}
	kb := &KnowledgeBase{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Metadata:    Metadata{},
	}
	err := c.db.WithContext(ctx).Create(kb).Error
	if err == nil {
		c.logger.Info("created knowledge base", zap.String("name", name))
		return kb, nil
	}
	if isUniqueViolation(err) {
		existing, getErr := c.GetKnowledgeBase(ctx, name)
		if getErr != nil {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
		}
		return existing, nil
	}
	return nil, fmt.Errorf("creating knowledge base %q: %w", name, err)
}

// GetKnowledgeBase fetches a knowledge base by name.
func (c *Catalog) GetKnowledgeBase(ctx context.Context, name string) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	err := c.db.WithContext(ctx).Where("name = ?", name).First(&kb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: knowledge base %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("getting knowledge base %q: %w", name, err)
	}
	return &kb, nil
}

// ListKnowledgeBases returns all knowledge bases ordered by name.
func (c *Catalog) ListKnowledgeBases(ctx context.Context) ([]KnowledgeBase, error) {
	var kbs []KnowledgeBase
	if err := c.db.WithContext(ctx).Order("name").Find(&kbs).Error; err != nil {
		return nil, fmt.Errorf("listing knowledge bases: %w", err)
	}
	return kbs, nil
}

// DeleteKnowledgeBase removes the knowledge base row itself. Content
// deletion ordering is the cascade engine's responsibility; this only runs
// as its final step.
func (c *Catalog) DeleteKnowledgeBase(ctx context.Context, name string) error {
	res := c.db.WithContext(ctx).Where("name = ?", name).Delete(&KnowledgeBase{})
	if res.Error != nil {
		return fmt.Errorf("deleting knowledge base %q: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: knowledge base %q", ErrNotFound, name)
	}
	return nil
}

// CreateFile inserts a file record. The content_hash uniqueness constraint
// is the dedup point: a second store of identical bytes fails here with
// ErrDuplicateContent and the caller reuses the existing record.
func (c *Catalog) CreateFile(ctx context.Context, rec *FileRecord) (*FileRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Metadata == nil {
		rec.Metadata = Metadata{}
	}
	if err := rec.Locator().Validate(); err != nil {
		return nil, err
	}
	if err := c.db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: hash %s", ErrDuplicateContent, rec.ContentHash)
		}
		return nil, fmt.Errorf("creating file record: %w", err)
	}
	c.logger.Info("created file record",
		zap.String("id", rec.ID),
		zap.String("collection", rec.Collection),
		zap.String("hash", rec.ContentHash),
		zap.String("kind", string(rec.StorageKind)),
	)
	return rec, nil
}

// GetFile fetches a file record by id.
func (c *Catalog) GetFile(ctx context.Context, id string) (*FileRecord, error) {
	var rec FileRecord
	err := c.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting file %s: %w", id, err)
	}
	return &rec, nil
}

// FindByHash returns the file record for a content hash, or nil when no
// identical content has been stored.
func (c *Catalog) FindByHash(ctx context.Context, hash string) (*FileRecord, error) {
	var rec FileRecord
	err := c.db.WithContext(ctx).Where("content_hash = ?", hash).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding file by hash: %w", err)
	}
	return &rec, nil
}

// ListFiles returns the collection's file records newest-first, each with
// its live chunk count joined in.
func (c *Catalog) ListFiles(ctx context.Context, collection string) ([]FileInfo, error) {
	var recs []FileRecord
	err := c.db.WithContext(ctx).
		Where("collection = ?", collection).
		Order("created_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("listing files for %q: %w", collection, err)
	}

	type countRow struct {
		FileID string
		N      int64
	}
	var counts []countRow
	err = c.db.WithContext(ctx).Model(&ChunkRecord{}).
		Select("file_id, COUNT(*) AS n").
		Where("collection = ? AND file_id IS NOT NULL", collection).
		Group("file_id").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("counting chunks for %q: %w", collection, err)
	}
	byFile := make(map[string]int64, len(counts))
	for _, row := range counts {
		byFile[row.FileID] = row.N
	}

	infos := make([]FileInfo, len(recs))
	for i, rec := range recs {
		infos[i] = FileInfo{FileRecord: rec, ChunkCount: byFile[rec.ID]}
	}
	return infos, nil
}

// DeleteFile removes a single file row. Blob and chunk cleanup ordering is
// the cascade engine's responsibility.
func (c *Catalog) DeleteFile(ctx context.Context, id string) error {
	res := c.db.WithContext(ctx).Where("id = ?", id).Delete(&FileRecord{})
	if res.Error != nil {
		return fmt.Errorf("deleting file %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: file %s", ErrNotFound, id)
	}
	return nil
}

// DeleteFilesByCollection removes all file rows in a collection, returning
// how many were deleted.
func (c *Catalog) DeleteFilesByCollection(ctx context.Context, collection string) (int64, error) {
	res := c.db.WithContext(ctx).Where("collection = ?", collection).Delete(&FileRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting files for %q: %w", collection, res.Error)
	}
	return res.RowsAffected, nil
}

// UpsertChunks validates and inserts chunk records, assigning ids and the
// insertion sequence. fileID may be nil for freestanding chunks. Returns
// the number inserted.
func (c *Catalog) UpsertChunks(ctx context.Context, fileID *string, collection string, chunks []ChunkRecord) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	for i := range chunks {
		if len(chunks[i].Embedding) != c.dim {
			return 0, fmt.Errorf("%w: got %d, want %d",
				ErrInvalidEmbeddingDimension, len(chunks[i].Embedding), c.dim)
		}
		if chunks[i].ID == "" {
			chunks[i].ID = uuid.New().String()
		}
		if chunks[i].Metadata == nil {
			chunks[i].Metadata = Metadata{}
		}
		chunks[i].FileID = fileID
		chunks[i].Collection = collection
		chunks[i].Metadata[MetaCollection] = collection
	}

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		if err := tx.Model(&ChunkRecord{}).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		now := time.Now()
		for i := range chunks {
			chunks[i].Seq = maxSeq + int64(i) + 1
			if chunks[i].CreatedAt.IsZero() {
				chunks[i].CreatedAt = now
			}
		}
		return tx.Create(&chunks).Error
	})
	if err != nil {
		return 0, fmt.Errorf("upserting %d chunks: %w", len(chunks), err)
	}

	c.logger.Info("stored chunks",
		zap.String("collection", collection),
		zap.Int("count", len(chunks)),
	)
	return len(chunks), nil
}

// ChunksByCollection returns all chunks in a collection in insertion order.
func (c *Catalog) ChunksByCollection(ctx context.Context, collection string) ([]ChunkRecord, error) {
	var chunks []ChunkRecord
	err := c.db.WithContext(ctx).
		Where("collection = ?", collection).
		Order("seq").
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("loading chunks for %q: %w", collection, err)
	}
	return chunks, nil
}

// ChunksByFile returns a file's chunks in insertion order.
func (c *Catalog) ChunksByFile(ctx context.Context, fileID string) ([]ChunkRecord, error) {
	var chunks []ChunkRecord
	err := c.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("seq").
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("loading chunks for file %s: %w", fileID, err)
	}
	return chunks, nil
}

// DeleteChunksByFile removes a file's chunks, returning how many.
func (c *Catalog) DeleteChunksByFile(ctx context.Context, fileID string) (int64, error) {
	res := c.db.WithContext(ctx).Where("file_id = ?", fileID).Delete(&ChunkRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting chunks for file %s: %w", fileID, res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteChunksByCollection removes all of a collection's chunks, returning
// how many.
func (c *Catalog) DeleteChunksByCollection(ctx context.Context, collection string) (int64, error) {
	res := c.db.WithContext(ctx).Where("collection = ?", collection).Delete(&ChunkRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting chunks for %q: %w", collection, res.Error)
	}
	return res.RowsAffected, nil
}

// Stats computes the collection's aggregates from the source tables at the
// moment of the call. Nothing here reads the stored counters, which is what
// lets recomputation self-heal after partial failures.
func (c *Catalog) Stats(ctx context.Context, collection string) (*Stats, error) {
	stats := &Stats{Collection: collection}

	err := c.db.WithContext(ctx).Model(&FileRecord{}).
		Where("collection = ?", collection).
		Count(&stats.DocumentCount).Error
	if err != nil {
		return nil, fmt.Errorf("counting documents for %q: %w", collection, err)
	}

	err = c.db.WithContext(ctx).Model(&ChunkRecord{}).
		Where("collection = ?", collection).
		Count(&stats.ChunkCount).Error
	if err != nil {
		return nil, fmt.Errorf("counting chunks for %q: %w", collection, err)
	}

	err = c.db.WithContext(ctx).Model(&FileRecord{}).
		Where("collection = ?", collection).
		Select("COALESCE(SUM(size), 0)").
		Scan(&stats.TotalBytes).Error
	if err != nil {
		return nil, fmt.Errorf("summing bytes for %q: %w", collection, err)
	}

	return stats, nil
}

// SetKnowledgeBaseCounts persists recomputed counters onto the KB row.
func (c *Catalog) SetKnowledgeBaseCounts(ctx context.Context, name string, docs, chunks int64) error {
	res := c.db.WithContext(ctx).Model(&KnowledgeBase{}).
		Where("name = ?", name).
		Updates(map[string]any{
			"document_count": docs,
			"chunk_count":    chunks,
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("updating counts for %q: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: knowledge base %q", ErrNotFound, name)
	}
	return nil
}

// ExternalPaths returns the storage paths of every external-kind file row.
// Used by the maintenance sweep.
func (c *Catalog) ExternalPaths(ctx context.Context) (map[string]string, error) {
	type row struct {
		ID          string
		StoragePath string
	}
	var rows []row
	err := c.db.WithContext(ctx).Model(&FileRecord{}).
		Select("id, storage_path").
		Where("storage_kind = ?", "external").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing external paths: %w", err)
	}
	paths := make(map[string]string, len(rows))
	for _, r := range rows {
		paths[r.StoragePath] = r.ID
	}
	return paths, nil
}

// AllFiles returns every file record. Used by the maintenance sweep.
func (c *Catalog) AllFiles(ctx context.Context) ([]FileRecord, error) {
	var recs []FileRecord
	if err := c.db.WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing all files: %w", err)
	}
	return recs, nil
}

// isUniqueViolation reports whether err is a unique-constraint failure.
// gorm's TranslateError covers drivers that implement ErrorTranslator; the
// string check covers raw sqlite errors that slip through.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
