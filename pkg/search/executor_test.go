package search

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/pkg/extract"
	"github.com/quarrylabs/quarry/pkg/models"
	"github.com/quarrylabs/quarry/pkg/store"
)

type fakeIndex struct {
	lastRequest *Request
	response    *Response
	err         error
}

func (f *fakeIndex) Search(_ context.Context, req *Request) (*Response, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	if f.response == nil {
		return &Response{}, nil
	}
	return f.response, nil
}

func (f *fakeIndex) IndexChunks(context.Context, *models.Resource, []*models.Chunk) error {
	return nil
}
func (f *fakeIndex) DeleteByResource(context.Context, string, string) error { return nil }
func (f *fakeIndex) Healthy(context.Context) bool                           { return f.err == nil }
func (f *fakeIndex) Close() error                                           { return nil }

type fakeFallback struct {
	hits []store.FallbackHit
	err  error
}

func (f *fakeFallback) LexicalFallbackSearch(context.Context, string, store.FallbackQuery, int) ([]store.FallbackHit, error) {
	return f.hits, f.err
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vec, f.err
}

func newExecutor(idx Index, fb FallbackStore, emb Embedder) *Executor {
	return NewExecutor(idx, fb, emb, ExecutorConfig{})
}

func TestCompoundSearch_InputValidation(t *testing.T) {
	e := newExecutor(&fakeIndex{}, nil, nil)
	ctx := context.Background()

	_, err := e.CompoundSearch(ctx, "invoice", "", 10)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = e.CompoundSearch(ctx, "   ", "tenant-a", 10)
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = e.CompoundSearch(ctx, "invoice", "tenant-a", 500)
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestCompoundSearch_ACLClauseAlwaysPresent(t *testing.T) {
	idx := &fakeIndex{}
	e := newExecutor(idx, nil, nil)

	_, err := e.CompoundSearch(context.Background(), "quarterly report", "tenant-a", 10)
	require.NoError(t, err)

	require.NotEmpty(t, idx.lastRequest.Equals)
	assert.Equal(t, EqualsClause{Path: FieldTenantID, Value: "tenant-a"}, idx.lastRequest.Equals[0])
	assert.Equal(t, 30, idx.lastRequest.Limit) // limit 10 with over-fetch 3
	assert.Equal(t, 1, idx.lastRequest.MinShouldMatch)
}

func TestCompoundSearch_ExactID(t *testing.T) {
	idx := &fakeIndex{response: &Response{
		Hits: []Hit{{
			ChunkID:    "chunk-1",
			ResourceID: "rid-1",
			Score:      4.2,
			Fields: map[string]interface{}{
				FieldFileName:       "invoice.pdf",
				FieldFileType:       "pdf",
				FieldKeywords:       []interface{}{"inv-2024-001", "acme"},
				FieldSearchableText: "invoice inv-2024-001 acme corp",
			},
		}},
		Total: 1,
	}}
	e := newExecutor(idx, nil, nil)

	rs, err := e.CompoundSearch(context.Background(), "INV-2024-001", "tenant-a", 10)
	require.NoError(t, err)

	// The identifier becomes a required phrase clause on keywords.
	require.Len(t, idx.lastRequest.Phrases, 1)
	assert.Equal(t, PhraseClause{Path: FieldKeywords, Value: "inv-2024-001"}, idx.lastRequest.Phrases[0])

	require.Len(t, rs.Results, 1)
	r := rs.Results[0]
	assert.Equal(t, MatchExactID, r.MatchType)
	assert.Equal(t, 1.0, r.Score)
	assert.Equal(t, "/resources/rid-1", r.OpenURL)
	assert.Equal(t, StrategyCompound, rs.Strategy)
}

func TestCompoundSearch_MoneyClausesAndClassification(t *testing.T) {
	idx := &fakeIndex{response: &Response{
		Hits: []Hit{{
			ChunkID:    "chunk-usd",
			ResourceID: "rid-usd",
			Score:      6,
			Fields: map[string]interface{}{
				FieldCurrency:     "USD",
				FieldAmountsCents: []interface{}{float64(123456)},
				FieldVendor:       "google",
			},
		}},
	}}
	e := newExecutor(idx, nil, nil)

	rs, err := e.CompoundSearch(context.Background(), "invoice for $1234.56 from Google", "tenant-a", 10)
	require.NoError(t, err)

	require.Len(t, rs.Analysis.Money, 1)
	assert.Equal(t, int64(123456), rs.Analysis.Money[0].Cents)
	assert.Equal(t, "USD", rs.Analysis.Money[0].Currency)

	// Currency is a required equals clause, the amount a required range
	// with the 10% tolerance window.
	var currencyClause *EqualsClause
	for i := range idx.lastRequest.Equals {
		if idx.lastRequest.Equals[i].Path == FieldCurrency {
			currencyClause = &idx.lastRequest.Equals[i]
		}
	}
	require.NotNil(t, currencyClause)
	assert.Equal(t, "USD", currencyClause.Value)

	require.Len(t, idx.lastRequest.Ranges, 1)
	rng := idx.lastRequest.Ranges[0]
	assert.InDelta(t, 123456*0.9, *rng.GTE, 0.01)
	assert.InDelta(t, 123456*1.1, *rng.LTE, 0.01)

	require.Len(t, rs.Results, 1)
	assert.Equal(t, MatchExactAmount, rs.Results[0].MatchType)
	assert.Equal(t, 1.0, rs.Results[0].Score)
}

func TestClassify_CurrencyMismatchIsNotExactAmount(t *testing.T) {
	e := newExecutor(&fakeIndex{}, nil, nil)
	parsed := extractAnalysis(t, "invoice for $1234.56")

	matchType := e.classify(map[string]interface{}{
		FieldCurrency:     "EUR",
		FieldAmountsCents: []interface{}{float64(123456)},
	}, "invoice for $1234.56", parsed, 2)
	assert.NotEqual(t, MatchExactAmount, matchType)
}

func TestCompoundSearch_DedupByResource(t *testing.T) {
	idx := &fakeIndex{response: &Response{
		Hits: []Hit{
			{ChunkID: "c1", ResourceID: "rid-1", Score: 8, Fields: map[string]interface{}{}},
			{ChunkID: "c2", ResourceID: "rid-1", Score: 5, Fields: map[string]interface{}{}},
			{ChunkID: "c3", ResourceID: "rid-2", Score: 3, Fields: map[string]interface{}{}},
		},
	}}
	e := newExecutor(idx, nil, nil)

	rs, err := e.CompoundSearch(context.Background(), "acme report", "tenant-a", 10)
	require.NoError(t, err)

	require.Len(t, rs.Results, 2)
	assert.Equal(t, "c1", rs.Results[0].ID) // best chunk per resource survives
	assert.Equal(t, "c3", rs.Results[1].ID)
}

func TestCompoundSearch_OrderingAndNormalization(t *testing.T) {
	idx := &fakeIndex{response: &Response{
		Hits: []Hit{
			{ChunkID: "c1", ResourceID: "r1", Score: 9, Fields: map[string]interface{}{}},
			{ChunkID: "c2", ResourceID: "r2", Score: 15, Fields: map[string]interface{}{}}, // clipped to 1.0
			{ChunkID: "c3", ResourceID: "r3", Score: 2, Fields: map[string]interface{}{}},
		},
	}}
	e := newExecutor(idx, nil, nil)

	rs, err := e.CompoundSearch(context.Background(), "acme report", "tenant-a", 10)
	require.NoError(t, err)

	require.Len(t, rs.Results, 3)
	for i := 0; i < len(rs.Results)-1; i++ {
		assert.GreaterOrEqual(t, rs.Results[i].Score, rs.Results[i+1].Score)
	}
	assert.Equal(t, 1.0, rs.Results[0].Score)
	assert.InDelta(t, 0.9, rs.Results[1].Score, 1e-9)
	assert.Equal(t, MatchSemanticStrong, rs.Results[1].MatchType)
	assert.Equal(t, MatchHybrid, rs.Results[2].MatchType)
}

func TestCompoundSearch_ExactPhraseScoresFullConfidence(t *testing.T) {
	// Bleve reports tf-idf scores far below the ceiling; a verified phrase
	// match must not inherit that near-zero normalized score.
	idx := &fakeIndex{response: &Response{
		Hits: []Hit{{
			ChunkID:    "chunk-scan",
			ResourceID: "rid-scan",
			Score:      0.012,
			Fields: map[string]interface{}{
				FieldFileType:       "image",
				FieldSearchableText: "jak se formuje datova budoucnost kveten 2024",
			},
		}},
	}}
	e := newExecutor(idx, nil, nil)

	rs, err := e.CompoundSearch(context.Background(), "Jak se formuje datová budoucnost", "tenant-a", 10)
	require.NoError(t, err)

	require.Len(t, rs.Results, 1)
	assert.Equal(t, MatchExactPhrase, rs.Results[0].MatchType)
	assert.Equal(t, 1.0, rs.Results[0].Score)
	assert.GreaterOrEqual(t, rs.Results[0].Score, 0.8)
}

func TestFallback_ExactPhraseScoresFullConfidence(t *testing.T) {
	fb := &fakeFallback{hits: []store.FallbackHit{{
		Chunk: &models.Chunk{
			ID:             "c1",
			ResourceID:     "rid-1",
			TenantID:       "tenant-a",
			FileType:       models.FileTypeImage,
			Text:           "Jak se formuje datová budoucnost",
			SearchableText: "jak se formuje datova budoucnost",
		},
		MatchCount: 2,
	}}}
	e := newExecutor(&fakeIndex{err: errors.New("index down")}, fb, nil)

	rs, err := e.CompoundSearch(context.Background(), "Jak se formuje datová budoucnost", "tenant-a", 10)
	require.NoError(t, err)

	require.Len(t, rs.Results, 1)
	assert.Equal(t, MatchExactPhrase, rs.Results[0].MatchType)
	assert.Equal(t, 1.0, rs.Results[0].Score)
}

func TestCompoundSearch_EmbedderFailureStaysLexical(t *testing.T) {
	idx := &fakeIndex{}
	e := newExecutor(idx, nil, &fakeEmbedder{err: errors.New("model down")})

	rs, err := e.CompoundSearch(context.Background(), "cloud invoice", "tenant-a", 10)
	require.NoError(t, err)

	assert.Empty(t, idx.lastRequest.KNN)
	assert.Equal(t, StrategyCompound, rs.Strategy)
}

func TestCompoundSearch_EmbedderAddsKNNClauses(t *testing.T) {
	idx := &fakeIndex{}
	e := newExecutor(idx, nil, &fakeEmbedder{vec: []float32{0.6, 0.8}})

	_, err := e.CompoundSearch(context.Background(), "cloud invoice", "tenant-a", 10)
	require.NoError(t, err)

	require.Len(t, idx.lastRequest.KNN, 2)
	assert.Equal(t, FieldTextEmbedding, idx.lastRequest.KNN[0].Path)
	assert.Equal(t, FieldCaptionEmbedding, idx.lastRequest.KNN[1].Path)
	assert.Equal(t, 100, idx.lastRequest.KNN[0].K)
}

func TestCompoundSearch_DegradedResponse(t *testing.T) {
	idx := &fakeIndex{response: &Response{
		Hits:     []Hit{{ChunkID: "c1", ResourceID: "r1", Score: 3, Fields: map[string]interface{}{}}},
		Degraded: true,
	}}
	e := newExecutor(idx, nil, nil)

	rs, err := e.CompoundSearch(context.Background(), "acme", "tenant-a", 10)
	require.NoError(t, err)
	assert.Equal(t, StrategyCompoundDegraded, rs.Strategy)
}

func TestCompoundSearch_FallbackOnIndexError(t *testing.T) {
	page := 2
	fb := &fakeFallback{hits: []store.FallbackHit{{
		Chunk: &models.Chunk{
			ID:         "c1",
			ResourceID: "rid-1",
			TenantID:   "tenant-a",
			FileType:   models.FileTypePDF,
			PageNumber: &page,
			Text:       "acme invoice",
		},
		MatchCount: 4,
	}}}
	e := newExecutor(&fakeIndex{err: errors.New("index down")}, fb, nil)

	rs, err := e.CompoundSearch(context.Background(), "acme invoice", "tenant-a", 10)
	require.NoError(t, err)

	assert.Equal(t, StrategyKeywordFallback, rs.Strategy)
	require.Len(t, rs.Results, 1)
	assert.Equal(t, "/resources/rid-1?page=2", rs.Results[0].OpenURL)
}

func TestCompoundSearch_AllPathsFail(t *testing.T) {
	e := newExecutor(&fakeIndex{err: errors.New("index down")}, &fakeFallback{err: errors.New("db down")}, nil)

	_, err := e.CompoundSearch(context.Background(), "acme", "tenant-a", 10)
	assert.ErrorIs(t, err, ErrSearchUnavailable)

	e = newExecutor(&fakeIndex{err: errors.New("index down")}, nil, nil)
	_, err = e.CompoundSearch(context.Background(), "acme", "tenant-a", 10)
	assert.ErrorIs(t, err, ErrSearchUnavailable)
}

func TestBuildOpenURL(t *testing.T) {
	page, row := 3, 17
	assert.Equal(t, "/resources/r1", buildOpenURL("r1", nil, nil, nil))
	assert.Equal(t, "/resources/r1?page=3", buildOpenURL("r1", &page, nil, nil))
	assert.Equal(t, "/resources/r1?row=17", buildOpenURL("r1", nil, &row, nil))
	assert.Equal(t, "/resources/r1?page=3&bbox=0.1,0.2,0.5,0.25",
		buildOpenURL("r1", &page, nil, []float64{0.1, 0.2, 0.5, 0.25}))
}

func TestPreview_KeepsRuneBoundaries(t *testing.T) {
	short := "datová budoucnost"
	assert.Equal(t, short, preview(short))

	// A two-byte rune straddling the cut point must be dropped whole.
	long := strings.Repeat("a", previewMax-1) + "čxyz"
	got := preview(long)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, previewMax-1, len(got))
}

func extractAnalysis(t *testing.T, query string) *extract.Analysis {
	t.Helper()
	parsed := extract.AnalyzeQuery(query)
	return &parsed
}
