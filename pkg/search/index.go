// Package search implements compound hybrid retrieval over ingested
// chunks: exact predicates, boosted lexical clauses, and unboosted kNN
// clauses executed together against an index collaborator, with a
// store-backed lexical fallback when the index is down.
package search

import (
	"context"

	"github.com/quarrylabs/quarry/pkg/models"
)

// Index field names shared between the executor and adapters.
const (
	FieldTenantID          = "tenant_id"
	FieldResourceID        = "resource_id"
	FieldFileName          = "file_name"
	FieldFileType          = "file_type"
	FieldMimeType          = "mime_type"
	FieldChunkType         = "chunk_type"
	FieldVendor            = "vendor"
	FieldCurrency          = "currency"
	FieldKeywords          = "keywords"
	FieldEntities          = "entities"
	FieldAmountsCents      = "amounts_cents"
	FieldPageNumber        = "page_number"
	FieldRowIndex          = "row_index"
	FieldBBox              = "bbox"
	FieldText              = "text"
	FieldTextNormalized    = "text_normalized"
	FieldOCRText           = "ocr_text"
	FieldOCRTextNormalized = "ocr_text_normalized"
	FieldCaption           = "caption"
	FieldCaptionNormalized = "caption_normalized"
	FieldSearchableText    = "searchable_text"
	FieldContent           = "content"
	FieldSummary           = "summary"
	FieldTextEmbedding     = "text_embedding"
	FieldCaptionEmbedding  = "caption_embedding"
)

// EqualsClause requires an exact keyword match on one field.
type EqualsClause struct {
	Path  string
	Value string
}

// RangeClause requires a numeric field to fall inside [GTE, LTE].
type RangeClause struct {
	Path string
	GTE  *float64
	LTE  *float64
}

// PhraseClause requires a contiguous token sequence in one field.
type PhraseClause struct {
	Path  string
	Value string
}

// TextClause is a lexical relevance clause over one or more fields.
// Boost applies only to should clauses; required text clauses carry none.
type TextClause struct {
	Query string
	Paths []string
	Boost float64
}

// KNNClause is a dense-vector relevance clause. The index supplies the
// similarity metric and recall parameters, and rejects boosts here, so
// the clause carries none.
type KNNClause struct {
	Vector []float32
	Path   string
	K      int
}

// Request is the compound description the executor hands to the index.
type Request struct {
	Equals   []EqualsClause
	Ranges   []RangeClause
	Phrases  []PhraseClause
	MustText []TextClause

	ShouldText []TextClause
	KNN        []KNNClause

	Limit          int
	MinShouldMatch int

	// Fields is a projection hint; empty means all stored fields.
	Fields    []string
	Highlight bool
}

// HasShould reports whether any relevance clause is present.
func (r *Request) HasShould() bool {
	return len(r.ShouldText) > 0 || len(r.KNN) > 0
}

// Highlight is one per-field match fragment set.
type Highlight struct {
	Path  string   `json:"path"`
	Texts []string `json:"texts"`
	Score float64  `json:"score"`
}

// Hit is one scored chunk from the index, raw score descending.
type Hit struct {
	ChunkID    string
	ResourceID string
	Score      float64
	Fields     map[string]interface{}
	Highlights []Highlight
}

// Response is the index's answer to a compound request. Degraded marks a
// partial answer, served as-is rather than failed.
type Response struct {
	Hits     []Hit
	Total    int
	Degraded bool
}

// Index is the narrow contract the executor consumes. The core does not
// own the index; it is a rebuildable projection of the resource store.
type Index interface {
	Search(ctx context.Context, req *Request) (*Response, error)
	IndexChunks(ctx context.Context, resource *models.Resource, chunks []*models.Chunk) error
	DeleteByResource(ctx context.Context, tenantID, resourceID string) error
	Healthy(ctx context.Context) bool
	Close() error
}
