package bleve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/pkg/models"
	"github.com/quarrylabs/quarry/pkg/search"
	"github.com/quarrylabs/quarry/pkg/textnorm"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(&Config{})
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return adapter
}

func indexFixture(t *testing.T, a *Adapter) {
	t.Helper()
	ctx := context.Background()

	invoice := &models.Resource{
		ID: "res-invoice", TenantID: "tenant-a", Name: "acme invoice.pdf",
		MimeType: "application/pdf", FileType: models.FileTypePDF,
	}
	require.NoError(t, a.IndexChunks(ctx, invoice, []*models.Chunk{{
		ID: "chunk-invoice", ResourceID: "res-invoice", TenantID: "tenant-a",
		ChunkType: models.ChunkTypePage, FileType: models.FileTypePDF,
		Text:           "Invoice INV-2024-001 from Acme Corp, total $1,234.56",
		TextNormalized: "invoice inv-2024-001 from acme corp, total $1,234.56",
		SearchableText: "invoice inv-2024-001 from acme corp total",
		Keywords:       models.StringArray{"inv-2024-001", "acme"},
		Vendor:         "acme", Currency: "USD",
		AmountsCents:  models.Int64Array{123456},
		TextEmbedding: models.Float32Array{1, 0, 0},
	}}))

	scan := &models.Resource{
		ID: "res-scan", TenantID: "tenant-a", Name: "scan.png",
		MimeType: "image/png", FileType: models.FileTypeImage,
	}
	require.NoError(t, a.IndexChunks(ctx, scan, []*models.Chunk{{
		ID: "chunk-scan", ResourceID: "res-scan", TenantID: "tenant-a",
		ChunkType: models.ChunkTypeRegion, FileType: models.FileTypeImage,
		OCRText:           "Jak se formuje datova budoucnost",
		OCRTextNormalized: "jak se formuje datova budoucnost",
		SearchableText:    "jak se formuje datova budoucnost",
		CaptionEmbedding:  models.Float32Array{0, 1, 0},
	}}))

	foreign := &models.Resource{
		ID: "res-foreign", TenantID: "tenant-b", Name: "acme invoice.pdf",
		MimeType: "application/pdf", FileType: models.FileTypePDF,
	}
	require.NoError(t, a.IndexChunks(ctx, foreign, []*models.Chunk{{
		ID: "chunk-foreign", ResourceID: "res-foreign", TenantID: "tenant-b",
		ChunkType: models.ChunkTypePage, FileType: models.FileTypePDF,
		Text:           "Invoice INV-2024-001 from Acme Corp",
		TextNormalized: "invoice inv-2024-001 from acme corp",
		SearchableText: "invoice inv-2024-001 from acme corp",
		Keywords:       models.StringArray{"inv-2024-001"},
		TextEmbedding:  models.Float32Array{1, 0, 0},
	}}))
}

func tenantRequest(tenant string) *search.Request {
	return &search.Request{
		Equals: []search.EqualsClause{{Path: search.FieldTenantID, Value: tenant}},
		Limit:  10,
	}
}

func TestSearch_PhraseClauseAndTenantFilter(t *testing.T) {
	a := newTestAdapter(t)
	indexFixture(t, a)

	req := tenantRequest("tenant-a")
	req.Phrases = []search.PhraseClause{{Path: search.FieldKeywords, Value: "inv-2024-001"}}

	resp, err := a.Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "chunk-invoice", resp.Hits[0].ChunkID)
	assert.Equal(t, "res-invoice", resp.Hits[0].ResourceID)
}

func TestSearch_NumericRangeAndCurrency(t *testing.T) {
	a := newTestAdapter(t)
	indexFixture(t, a)

	gte, lte := float64(111110), float64(135802)
	req := tenantRequest("tenant-a")
	req.Equals = append(req.Equals, search.EqualsClause{Path: search.FieldCurrency, Value: "USD"})
	req.Ranges = []search.RangeClause{{Path: search.FieldAmountsCents, GTE: &gte, LTE: &lte}}

	resp, err := a.Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "chunk-invoice", resp.Hits[0].ChunkID)

	// A window that misses the stored amount excludes the chunk.
	gte2, lte2 := float64(9000), float64(11000)
	req.Ranges = []search.RangeClause{{Path: search.FieldAmountsCents, GTE: &gte2, LTE: &lte2}}
	resp, err = a.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, resp.Hits)
}

func TestSearch_DiacriticInsensitiveText(t *testing.T) {
	a := newTestAdapter(t)
	indexFixture(t, a)

	req := tenantRequest("tenant-a")
	req.MinShouldMatch = 1
	req.ShouldText = []search.TextClause{{
		Query: textnorm.NormalizeQuery("Jak se formuje datová budoucnost"),
		Paths: []string{search.FieldOCRTextNormalized},
		Boost: 10,
	}}
	req.Highlight = true

	resp, err := a.Search(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Hits)
	assert.Equal(t, "chunk-scan", resp.Hits[0].ChunkID)
	assert.NotEmpty(t, resp.Hits[0].Highlights)
}

func TestSearch_KNNFusionAndTenantIsolation(t *testing.T) {
	a := newTestAdapter(t)
	indexFixture(t, a)

	req := tenantRequest("tenant-a")
	req.KNN = []search.KNNClause{{Vector: []float32{1, 0, 0}, Path: search.FieldTextEmbedding, K: 100}}

	resp, err := a.Search(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Hits)

	assert.Equal(t, "chunk-invoice", resp.Hits[0].ChunkID)
	// Similarity 1.0 scaled by 10, on top of the lexical tenant match.
	assert.GreaterOrEqual(t, resp.Hits[0].Score, 10.0)

	// The identical tenant-b vector never surfaces.
	for _, hit := range resp.Hits {
		assert.NotEqual(t, "chunk-foreign", hit.ChunkID)
	}
	assert.False(t, resp.Degraded)
}

func TestSearch_KNNOnlyHitIsHydrated(t *testing.T) {
	a := newTestAdapter(t)
	indexFixture(t, a)

	// No lexical should clauses at all: the caption vector is the only
	// path to the scan chunk.
	req := tenantRequest("tenant-a")
	req.Equals = append(req.Equals, search.EqualsClause{Path: search.FieldFileType, Value: models.FileTypeImage})
	req.KNN = []search.KNNClause{{Vector: []float32{0, 1, 0}, Path: search.FieldCaptionEmbedding, K: 100}}

	resp, err := a.Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "chunk-scan", resp.Hits[0].ChunkID)
	assert.Equal(t, "res-scan", resp.Hits[0].ResourceID)
	assert.Equal(t, "scan.png", resp.Hits[0].Fields[search.FieldFileName])
}

func TestDeleteByResource(t *testing.T) {
	a := newTestAdapter(t)
	indexFixture(t, a)
	ctx := context.Background()

	require.NoError(t, a.DeleteByResource(ctx, "tenant-a", "res-invoice"))

	req := tenantRequest("tenant-a")
	req.Phrases = []search.PhraseClause{{Path: search.FieldKeywords, Value: "inv-2024-001"}}
	resp, err := a.Search(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, resp.Hits)

	// Vector side is cleaned as well: the kNN clause finds nothing for
	// the deleted resource.
	req = tenantRequest("tenant-a")
	req.KNN = []search.KNNClause{{Vector: []float32{1, 0, 0}, Path: search.FieldTextEmbedding, K: 100}}
	resp, err = a.Search(ctx, req)
	require.NoError(t, err)
	for _, hit := range resp.Hits {
		assert.NotEqual(t, "chunk-invoice", hit.ChunkID)
	}
}

func TestHealthy(t *testing.T) {
	a := newTestAdapter(t)
	assert.True(t, a.Healthy(context.Background()))
}
