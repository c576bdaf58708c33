package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"

	"github.com/quarrylabs/quarry/pkg/extract"
	"github.com/quarrylabs/quarry/pkg/store"
	"github.com/quarrylabs/quarry/pkg/textnorm"
)

// Strategy values reported on a ResultSet.
const (
	StrategyCompound         = "compound"
	StrategyCompoundDegraded = "compound_degraded"
	StrategyKeywordFallback  = "keyword_fallback"
)

// MatchType values, strongest first.
const (
	MatchExactAmount    = "exact_amount"
	MatchExactID        = "exact_id"
	MatchExactPhrase    = "exact_phrase"
	MatchSemanticStrong = "semantic_strong"
	MatchHybrid         = "hybrid"
)

const (
	defaultLimit = 30
	maxLimit     = 100
)

// Embedder produces a unit-norm query vector for semantic clauses.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// FallbackStore is the lexical scan used when the index cannot serve.
type FallbackStore interface {
	LexicalFallbackSearch(ctx context.Context, tenantID string, q store.FallbackQuery, limit int) ([]store.FallbackHit, error)
}

// Result is one scored, deduplicated, deep-linked hit.
type Result struct {
	ID           string      `json:"id"`
	ResourceID   string      `json:"resource_id"`
	FileName     string      `json:"file_name"`
	FileType     string      `json:"file_type"`
	Score        float64     `json:"score"`
	MatchType    string      `json:"match_type"`
	OpenURL      string      `json:"open_url"`
	Highlights   []Highlight `json:"highlights,omitempty"`
	ChunkText    string      `json:"chunk_text,omitempty"`
	PageNumber   *int        `json:"page_number,omitempty"`
	RowIndex     *int        `json:"row_index,omitempty"`
	BBox         []float64   `json:"bbox,omitempty"`
	Vendor       string      `json:"vendor,omitempty"`
	Currency     string      `json:"currency,omitempty"`
	AmountsCents []int64     `json:"amounts_cents,omitempty"`
}

// ResultSet is the full answer to one compound search.
type ResultSet struct {
	Query    string            `json:"query"`
	Analysis *extract.Analysis `json:"analysis"`
	Results  []*Result         `json:"results"`
	Total    int               `json:"total"`
	Strategy string            `json:"search_strategy"`
}

// ExecutorConfig tunes scoring and fan-out. Zero values take defaults.
type ExecutorConfig struct {
	MoneyTolerance          float64       // relative half-width for amount windows, default 0.10
	ScoreCeiling            float64       // raw-score divisor for [0,1] normalization, default 10
	SemanticStrongThreshold float64       // normalized lower bound for semantic_strong, default 0.8
	OverFetchFactor         int           // limit multiplier when calling the index, default 3
	KNNNeighbors            int           // k per kNN clause, default 100
	SearchDeadline          time.Duration // per index call, default 1s
	Logger                  hclog.Logger
}

func (c *ExecutorConfig) withDefaults() ExecutorConfig {
	out := *c
	if out.MoneyTolerance == 0 {
		out.MoneyTolerance = 0.10
	}
	if out.ScoreCeiling == 0 {
		out.ScoreCeiling = 10
	}
	if out.SemanticStrongThreshold == 0 {
		out.SemanticStrongThreshold = 0.8
	}
	if out.OverFetchFactor == 0 {
		out.OverFetchFactor = 3
	}
	if out.KNNNeighbors == 0 {
		out.KNNNeighbors = 100
	}
	if out.SearchDeadline == 0 {
		out.SearchDeadline = time.Second
	}
	if out.Logger == nil {
		out.Logger = hclog.NewNullLogger()
	}
	return out
}

// Executor runs compound searches: analyze, embed, assemble, execute,
// classify.
type Executor struct {
	index    Index
	fallback FallbackStore
	embedder Embedder
	cfg      ExecutorConfig
	log      hclog.Logger
}

// NewExecutor wires the executor. The embedder may be nil; searches then
// run lexical-only.
func NewExecutor(index Index, fallback FallbackStore, embedder Embedder, cfg ExecutorConfig) *Executor {
	cfg = cfg.withDefaults()
	return &Executor{
		index:    index,
		fallback: fallback,
		embedder: embedder,
		cfg:      cfg,
		log:      cfg.Logger.Named("search"),
	}
}

// CompoundSearch is the single search entry point.
func (e *Executor) CompoundSearch(ctx context.Context, query, tenantID string, limit int) (*ResultSet, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, &Error{Op: "CompoundSearch", Err: ErrForbidden}
	}
	if strings.TrimSpace(query) == "" {
		return nil, &Error{Op: "CompoundSearch", Err: ErrBadRequest, Msg: "empty query"}
	}
	if limit < 0 || limit > maxLimit {
		return nil, &Error{Op: "CompoundSearch", Err: ErrBadRequest, Msg: fmt.Sprintf("limit out of range: %d", limit)}
	}
	if limit == 0 {
		limit = defaultLimit
	}

	parsed := extract.AnalyzeQuery(query)
	analysis := &parsed

	var qVec []float32
	if e.embedder != nil && analysis.CleanText != "" {
		vec, err := e.embedder.Embed(ctx, analysis.CleanText)
		if err != nil {
			e.log.Warn("query embedding unavailable, continuing lexical-only", "error", err)
		} else {
			qVec = vec
		}
	}

	req := e.buildRequest(query, tenantID, analysis, qVec, limit)

	searchCtx, cancel := context.WithTimeout(ctx, e.cfg.SearchDeadline)
	resp, err := e.index.Search(searchCtx, req)
	cancel()
	if err != nil {
		e.log.Warn("index unavailable, using lexical fallback", "error", err)
		return e.fallbackSearch(ctx, query, tenantID, analysis, limit)
	}

	strategy := StrategyCompound
	if resp.Degraded {
		strategy = StrategyCompoundDegraded
	}

	results := e.assemble(resp.Hits, query, analysis)
	if len(results) > limit {
		results = results[:limit]
	}
	return &ResultSet{
		Query:    query,
		Analysis: analysis,
		Results:  results,
		Total:    len(results),
		Strategy: strategy,
	}, nil
}

// buildRequest assembles the compound clauses. The ACL equals clause is
// always first and never omitted; boosts live only on text clauses.
func (e *Executor) buildRequest(query, tenantID string, analysis *extract.Analysis, qVec []float32, limit int) *Request {
	req := &Request{
		Limit:     limit * e.cfg.OverFetchFactor,
		Fields:    nil,
		Highlight: true,
	}

	req.Equals = append(req.Equals, EqualsClause{Path: FieldTenantID, Value: tenantID})

	for _, token := range exactTokens(analysis) {
		req.Phrases = append(req.Phrases, PhraseClause{Path: FieldKeywords, Value: textnorm.Normalize(token, true)})
	}

	if len(analysis.Money) > 0 {
		m := analysis.Money[0]
		if m.Currency != "" {
			req.Equals = append(req.Equals, EqualsClause{Path: FieldCurrency, Value: m.Currency})
		}
		gte, lte := moneyWindow(m.Cents, e.cfg.MoneyTolerance)
		req.Ranges = append(req.Ranges, RangeClause{Path: FieldAmountsCents, GTE: &gte, LTE: &lte})
	}

	for _, ft := range analysis.FileTypes {
		req.Equals = append(req.Equals, EqualsClause{Path: FieldFileType, Value: ft})
	}

	if qVec != nil {
		req.KNN = append(req.KNN,
			KNNClause{Vector: qVec, Path: FieldTextEmbedding, K: e.cfg.KNNNeighbors},
			KNNClause{Vector: qVec, Path: FieldCaptionEmbedding, K: e.cfg.KNNNeighbors},
		)
	}

	normalized := textnorm.NormalizeQuery(query)
	req.ShouldText = append(req.ShouldText,
		TextClause{Query: normalized, Boost: 5, Paths: []string{
			FieldTextNormalized, FieldContent, FieldSummary, FieldEntities, FieldVendor, FieldFileName,
		}},
		TextClause{Query: normalized, Boost: 10, Paths: []string{
			FieldOCRTextNormalized, FieldCaptionNormalized,
		}},
		TextClause{Query: normalized, Boost: 3, Paths: []string{
			FieldVendor, FieldEntities, FieldKeywords,
		}},
	)
	for _, entity := range analysis.Entities {
		req.ShouldText = append(req.ShouldText, TextClause{
			Query: textnorm.Normalize(entity, true),
			Boost: 3,
			Paths: []string{FieldVendor, FieldEntities, FieldFileName},
		})
	}

	// Secondary money entries contribute relevance only.
	for _, m := range analysis.Money[min(1, len(analysis.Money)):] {
		req.ShouldText = append(req.ShouldText, TextClause{
			Query: fmt.Sprintf("%d", m.Cents),
			Boost: 3,
			Paths: []string{FieldAmountsCents},
		})
	}

	if req.HasShould() {
		req.MinShouldMatch = 1
	}
	return req
}

// assemble dedups hits by resource, classifies, normalizes, and builds
// deep links.
func (e *Executor) assemble(hits []Hit, query string, analysis *extract.Analysis) []*Result {
	seen := make(map[string]int) // resource_id -> index in results
	results := make([]*Result, 0, len(hits))

	for i := range hits {
		hit := &hits[i]
		if hit.ResourceID == "" {
			continue
		}
		if _, dup := seen[hit.ResourceID]; dup {
			// Index order is score-descending, so the first chunk per
			// resource is the best one.
			continue
		}

		r := e.resultFromHit(hit)
		r.MatchType = e.classify(hit.Fields, query, analysis, hit.Score)
		r.Score = e.normalizeScore(hit.Score, r.MatchType)
		r.OpenURL = buildOpenURL(r.ResourceID, r.PageNumber, r.RowIndex, r.BBox)

		seen[hit.ResourceID] = len(results)
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

func (e *Executor) resultFromHit(hit *Hit) *Result {
	return &Result{
		ID:           hit.ChunkID,
		ResourceID:   hit.ResourceID,
		FileName:     fieldString(hit.Fields, FieldFileName),
		FileType:     fieldString(hit.Fields, FieldFileType),
		Highlights:   hit.Highlights,
		ChunkText:    preview(fieldString(hit.Fields, FieldText)),
		PageNumber:   fieldIntPtr(hit.Fields, FieldPageNumber),
		RowIndex:     fieldIntPtr(hit.Fields, FieldRowIndex),
		BBox:         fieldFloats(hit.Fields, FieldBBox),
		Vendor:       fieldString(hit.Fields, FieldVendor),
		Currency:     fieldString(hit.Fields, FieldCurrency),
		AmountsCents: fieldInt64s(hit.Fields, FieldAmountsCents),
	}
}

// classify picks the strongest applicable match type.
func (e *Executor) classify(fields map[string]interface{}, query string, analysis *extract.Analysis, rawScore float64) string {
	if len(analysis.Money) > 0 {
		m := analysis.Money[0]
		gte, lte := moneyWindow(m.Cents, e.cfg.MoneyTolerance)
		currencyOK := m.Currency == "" || fieldString(fields, FieldCurrency) == m.Currency
		if currencyOK {
			for _, cents := range fieldInt64s(fields, FieldAmountsCents) {
				if float64(cents) >= gte && float64(cents) <= lte {
					return MatchExactAmount
				}
			}
		}
	}

	if tokens := exactTokens(analysis); len(tokens) > 0 {
		keywords := fieldStrings(fields, FieldKeywords)
		for _, token := range tokens {
			norm := textnorm.Normalize(token, true)
			for _, kw := range keywords {
				if textnorm.Normalize(kw, true) == norm {
					return MatchExactID
				}
			}
		}
	}

	normalizedQuery := textnorm.NormalizeQuery(query)
	if normalizedQuery != "" {
		haystack := fieldString(fields, FieldSearchableText)
		if strings.Contains(haystack, normalizedQuery) {
			return MatchExactPhrase
		}
	}

	if rawScore/e.cfg.ScoreCeiling >= e.cfg.SemanticStrongThreshold {
		return MatchSemanticStrong
	}
	return MatchHybrid
}

// normalizeScore maps a raw index score into [0,1]. Exact matches report
// full confidence regardless of the raw lexical score: bleve's tf-idf
// scores sit well below the ceiling, so dividing them would bury verified
// amount, id, and phrase hits under semantic ones.
func (e *Executor) normalizeScore(raw float64, matchType string) float64 {
	switch matchType {
	case MatchExactAmount, MatchExactID, MatchExactPhrase:
		return 1.0
	}
	s := raw / e.cfg.ScoreCeiling
	return math.Min(math.Max(s, 0), 1)
}

// fallbackSearch runs the degraded lexical path through the store.
func (e *Executor) fallbackSearch(ctx context.Context, query, tenantID string, analysis *extract.Analysis, limit int) (*ResultSet, error) {
	if e.fallback == nil {
		return nil, &Error{Op: "CompoundSearch", Err: ErrSearchUnavailable, Msg: "no fallback store"}
	}

	fq := store.FallbackQuery{
		Tokens:       textnorm.Tokenize(textnorm.NormalizeQuery(query)),
		ExactIDs:     analysis.IDs,
		ExactPhrases: append(append([]string{}, analysis.Emails...), analysis.IBANs...),
		FileTypes:    analysis.FileTypes,
	}
	if len(analysis.Money) > 0 {
		m := analysis.Money[0]
		fq.Currency = m.Currency
		gte, lte := moneyWindow(m.Cents, e.cfg.MoneyTolerance)
		minC, maxC := int64(gte), int64(lte)
		fq.MinCents, fq.MaxCents = &minC, &maxC
	}

	hits, err := e.fallback.LexicalFallbackSearch(ctx, tenantID, fq, limit*e.cfg.OverFetchFactor)
	if err != nil {
		return nil, &Error{Op: "CompoundSearch", Err: ErrSearchUnavailable, Msg: err.Error()}
	}

	seen := make(map[string]bool)
	results := make([]*Result, 0, len(hits))
	for _, hit := range hits {
		if seen[hit.Chunk.ResourceID] {
			continue
		}
		seen[hit.Chunk.ResourceID] = true

		matchType := MatchHybrid
		switch {
		case hit.ExactAmount:
			matchType = MatchExactAmount
		case hit.ExactID:
			matchType = MatchExactID
		case strings.Contains(hit.Chunk.SearchableText, textnorm.NormalizeQuery(query)):
			matchType = MatchExactPhrase
		}

		score := math.Min(float64(hit.MatchCount)/10, 1)
		switch matchType {
		case MatchExactAmount, MatchExactID, MatchExactPhrase:
			score = 1.0
		}

		r := &Result{
			ID:           hit.Chunk.ID,
			ResourceID:   hit.Chunk.ResourceID,
			FileType:     hit.Chunk.FileType,
			Score:        score,
			MatchType:    matchType,
			ChunkText:    preview(hit.Chunk.Text),
			PageNumber:   hit.Chunk.PageNumber,
			RowIndex:     hit.Chunk.RowIndex,
			BBox:         hit.Chunk.BBox,
			Vendor:       hit.Chunk.Vendor,
			Currency:     hit.Chunk.Currency,
			AmountsCents: hit.Chunk.AmountsCents,
		}
		r.OpenURL = buildOpenURL(r.ResourceID, r.PageNumber, r.RowIndex, r.BBox)
		results = append(results, r)
		if len(results) == limit {
			break
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return &ResultSet{
		Query:    query,
		Analysis: analysis,
		Results:  results,
		Total:    len(results),
		Strategy: StrategyKeywordFallback,
	}, nil
}

// buildOpenURL renders the deep link: /resources/{id} plus page, row and
// bbox parameters when the hit carries position hints.
func buildOpenURL(resourceID string, page, row *int, bbox []float64) string {
	var params []string
	if page != nil {
		params = append(params, fmt.Sprintf("page=%d", *page))
	}
	if row != nil {
		params = append(params, fmt.Sprintf("row=%d", *row))
	}
	if len(bbox) == 4 {
		params = append(params, fmt.Sprintf("bbox=%s,%s,%s,%s",
			formatCoord(bbox[0]), formatCoord(bbox[1]), formatCoord(bbox[2]), formatCoord(bbox[3])))
	}
	url := "/resources/" + resourceID
	if len(params) > 0 {
		url += "?" + strings.Join(params, "&")
	}
	return url
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func moneyWindow(cents int64, tolerance float64) (gte, lte float64) {
	c := float64(cents)
	return c * (1 - tolerance), c * (1 + tolerance)
}

// exactTokens lists the structured tokens that turn into required phrase
// clauses: ids, emails, ibans.
func exactTokens(analysis *extract.Analysis) []string {
	tokens := make([]string, 0, len(analysis.IDs)+len(analysis.Emails)+len(analysis.IBANs))
	tokens = append(tokens, analysis.IDs...)
	tokens = append(tokens, analysis.Emails...)
	tokens = append(tokens, analysis.IBANs...)
	return tokens
}

const previewMax = 300

// preview truncates snippet text, backing up to a rune boundary so the
// cut never emits invalid UTF-8.
func preview(text string) string {
	if len(text) <= previewMax {
		return text
	}
	cut := previewMax
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
