package catalog

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/docstored/internal/blob"
)

// Metadata is a free-form key/value map persisted as JSON. Recognized keys
// (source, doc_id, collection_name) are enumerated in MetadataKeys; any
// additional pairs are kept for forward compatibility.
type Metadata map[string]any

// Recognized metadata keys per record kind.
const (
	MetaSource     = "source"
	MetaDocID      = "doc_id"
	MetaCollection = "collection_name"
)

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata column type %T", value)
	}
	if len(data) == 0 {
		*m = Metadata{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// Contains reports whether m holds every key/value pair in filter. Values
// are compared by their JSON string form so filters survive the
// any-typed round trip through the metadata column.
func (m Metadata) Contains(filter Metadata) bool {
	for k, want := range filter {
		got, ok := m[k]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// Vector is a fixed-dimension embedding persisted as a JSON array.
type Vector []float32

// Value implements driver.Valuer.
func (v Vector) Value() (driver.Value, error) {
	b, err := json.Marshal([]float32(v))
	if err != nil {
		return nil, fmt.Errorf("marshaling embedding: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (v *Vector) Scan(value any) error {
	var data []byte
	switch t := value.(type) {
	case nil:
		*v = nil
		return nil
	case []byte:
		data = t
	case string:
		data = []byte(t)
	default:
		return fmt.Errorf("unsupported embedding column type %T", value)
	}
	return json.Unmarshal(data, (*[]float32)(v))
}

// KnowledgeBase is the top layer of the cascading data model. Its counters
// are derived aggregates, mutated only by the cascade engine's recompute
// step, never incremented in place.
type KnowledgeBase struct {
	ID            string   `gorm:"primaryKey;size:36"`
	Name          string   `gorm:"uniqueIndex;size:255;not null"`
	Description   string   `gorm:"size:1024"`
	DocumentCount int64    `gorm:"not null;default:0"`
	ChunkCount    int64    `gorm:"not null;default:0"`
	Metadata      Metadata `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FileRecord is one stored upload. The content hash is unique: a byte
// sequence maps to at most one record. Exactly one locator variant is
// populated, recorded by StorageKind.
type FileRecord struct {
	ID               string    `gorm:"primaryKey;size:36"`
	Filename         string    `gorm:"size:512;not null"`
	OriginalFilename string    `gorm:"size:512;not null"`
	ContentType      string    `gorm:"size:255"`
	Size             int64     `gorm:"not null"`
	ContentHash      string    `gorm:"uniqueIndex;size:64;not null"`
	StorageKind      blob.Kind `gorm:"size:16;not null"`
	StoragePath      string    `gorm:"size:512"`
	InlinePayload    []byte    `gorm:"type:blob"`
	Collection       string    `gorm:"index;size:255;not null"`
	Metadata         Metadata  `gorm:"type:text"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Locator reconstructs the blob locator recorded at store time.
func (f *FileRecord) Locator() blob.Locator {
	if f.StorageKind == blob.KindExternal {
		return blob.Locator{Kind: blob.KindExternal, Path: f.StoragePath}
	}
	return blob.Locator{Kind: blob.KindInline, Payload: f.InlinePayload}
}

// ChunkRecord is one unit of split document text with its embedding. FileID
// is nil for freestanding chunks produced from ad-hoc text; such chunks are
// owned directly by their collection. Seq is a per-catalog insertion
// sequence used for stable tie-breaking in similarity search.
type ChunkRecord struct {
	ID         string   `gorm:"primaryKey;size:36"`
	FileID     *string  `gorm:"index;size:36"`
	Collection string   `gorm:"index;size:255;not null"`
	Text       string   `gorm:"type:text;not null"`
	Embedding  Vector   `gorm:"type:text;not null"`
	Metadata   Metadata `gorm:"type:text"`
	Seq        int64    `gorm:"index;not null"`
	CreatedAt  time.Time
}

// Freestanding reports whether the chunk has no owning file.
func (c *ChunkRecord) Freestanding() bool { return c.FileID == nil }

// FileInfo is a FileRecord with its live chunk count attached. The count is
// computed by join at read time, not stored, so it cannot drift.
type FileInfo struct {
	FileRecord
	ChunkCount int64
}

// Stats is the derived read-only aggregate for one knowledge base.
type Stats struct {
	Collection    string
	DocumentCount int64
	ChunkCount    int64
	TotalBytes    int64
}
