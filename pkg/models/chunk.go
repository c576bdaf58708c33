package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Chunk is a searchable subunit of a resource: a PDF page, a CSV row, an
// image, or a text paragraph. Chunks are immutable after ingestion;
// reprocessing a resource replaces its whole chunk set, never rows in
// place.
type Chunk struct {
	ID         string `gorm:"type:uuid;primaryKey" json:"id"`
	ResourceID string `gorm:"type:uuid;not null;index:idx_chunks_resource;uniqueIndex:idx_chunks_resource_index" json:"resourceId"`

	// TenantID is denormalized from the parent so the search index can
	// filter on it without a join.
	TenantID string `gorm:"type:varchar(100);not null;index:idx_chunks_tenant" json:"tenantId"`

	ChunkType  string `gorm:"type:varchar(20);not null" json:"chunkType"`
	ChunkIndex int    `gorm:"not null;uniqueIndex:idx_chunks_resource_index" json:"chunkIndex"`

	// Position hints for deep links.
	PageNumber *int         `gorm:"index:idx_chunks_page" json:"pageNumber,omitempty"`
	RowIndex   *int         `gorm:"index:idx_chunks_row" json:"rowIndex,omitempty"`
	ColIndex   *int         `json:"colIndex,omitempty"`
	BBox       Float64Array `gorm:"type:jsonb" json:"bbox,omitempty"`

	// Original content.
	Text        string      `gorm:"type:text" json:"text,omitempty"`
	OCRText     string      `gorm:"type:text" json:"ocrText,omitempty"`
	Caption     string      `gorm:"type:text" json:"caption,omitempty"`
	ImageLabels StringArray `gorm:"type:jsonb" json:"imageLabels,omitempty"`

	// Normalized content. SearchableText concatenates every normalized
	// textual source for a one-shot lexical scan and is recomputable from
	// the originals alone.
	TextNormalized    string `gorm:"type:text" json:"textNormalized,omitempty"`
	OCRTextNormalized string `gorm:"type:text" json:"ocrTextNormalized,omitempty"`
	SearchableText    string `gorm:"type:text" json:"searchableText,omitempty"`

	// Structured copies scoped to this chunk; file_type is copied from the
	// parent for index-side filtering.
	Vendor       string      `gorm:"type:varchar(200)" json:"vendor,omitempty"`
	Currency     string      `gorm:"type:varchar(3)" json:"currency,omitempty"`
	AmountsCents Int64Array  `gorm:"type:jsonb" json:"amountsCents,omitempty"`
	Entities     StringArray `gorm:"type:jsonb" json:"entities,omitempty"`
	Keywords     StringArray `gorm:"type:jsonb" json:"keywords,omitempty"`
	Dates        TimeArray   `gorm:"type:jsonb" json:"dates,omitempty"`
	FileType     string      `gorm:"type:varchar(20)" json:"fileType"`

	// Dense vectors, unit-norm when present. Dimensions are configuration,
	// not data.
	TextEmbedding    Float32Array `gorm:"type:jsonb" json:"-"`
	CaptionEmbedding Float32Array `gorm:"type:jsonb" json:"-"`

	// EmbeddingMissing marks chunks persisted without a vector after an
	// embedding failure; a background reconciler retries them.
	EmbeddingMissing bool `gorm:"default:false;index:idx_chunks_embedding_missing" json:"embeddingMissing,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// ChunkType values.
const (
	ChunkTypeText   = "text"
	ChunkTypePage   = "page"
	ChunkTypeRow    = "row"
	ChunkTypeCell   = "cell"
	ChunkTypeRegion = "region"
)

// TableName specifies the table name.
func (Chunk) TableName() string {
	return "resource_chunks"
}

// BeforeCreate assigns an ID and validates invariants.
func (c *Chunk) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.ResourceID == "" {
		return fmt.Errorf("resource_id is required")
	}
	if c.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if c.ChunkIndex < 0 {
		return fmt.Errorf("chunk_index must be non-negative")
	}
	return nil
}
