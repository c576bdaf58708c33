// Package bleve implements the compound search index on an embedded
// Bleve full-text index fused with chromem-go vector collections. Exact
// predicates and boosted text clauses run through Bleve; kNN clauses run
// against the vector collections and contribute unboosted similarity.
package bleve

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/hashicorp/go-hclog"
	"github.com/philippgille/chromem-go"

	"github.com/quarrylabs/quarry/pkg/models"
	"github.com/quarrylabs/quarry/pkg/search"
	"github.com/quarrylabs/quarry/pkg/textnorm"
)

// knnScale maps cosine similarity in [0,1] onto the raw lexical score
// range so one normalization ceiling covers both signal types.
const defaultKNNScale = 10

// Config contains adapter configuration.
type Config struct {
	// IndexPath is the Bleve index location; empty runs in memory.
	IndexPath string

	// VectorPath is the chromem-go persistence directory; empty runs in
	// memory.
	VectorPath string

	// KNNScale overrides the similarity-to-score multiplier.
	KNNScale float64

	Logger hclog.Logger
}

// Adapter implements search.Index.
type Adapter struct {
	index      bleve.Index
	vectors    *chromem.DB
	textCol    *chromem.Collection
	captionCol *chromem.Collection
	knnScale   float64
	log        hclog.Logger
}

// NewAdapter opens or creates the lexical index and the vector
// collections.
func NewAdapter(cfg *Config) (*Adapter, error) {
	log := cfg.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}

	idx, err := openOrCreateIndex(cfg.IndexPath, createChunkMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk index: %w", err)
	}

	var vectors *chromem.DB
	if cfg.VectorPath == "" {
		vectors = chromem.NewDB()
	} else {
		vectors, err = chromem.NewPersistentDB(cfg.VectorPath, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector store: %w", err)
		}
	}

	textCol, err := vectors.GetOrCreateCollection(search.FieldTextEmbedding, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open text vector collection: %w", err)
	}
	captionCol, err := vectors.GetOrCreateCollection(search.FieldCaptionEmbedding, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open caption vector collection: %w", err)
	}

	scale := cfg.KNNScale
	if scale == 0 {
		scale = defaultKNNScale
	}

	return &Adapter{
		index:      idx,
		vectors:    vectors,
		textCol:    textCol,
		captionCol: captionCol,
		knnScale:   scale,
		log:        log.Named("bleve"),
	}, nil
}

func openOrCreateIndex(path string, indexMapping mapping.IndexMapping) (bleve.Index, error) {
	if path == "" {
		return bleve.NewMemOnly(indexMapping)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist || err == bleve.ErrorIndexMetaMissing {
		return bleve.New(path, indexMapping)
	}
	return idx, err
}

// createChunkMapping defines the compound index schema: keyword fields
// for exact predicates, standard-analyzed text fields for relevance,
// numeric fields for amount and position windows.
func createChunkMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()

	textFieldMapping := bleve.NewTextFieldMapping()
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	numericFieldMapping := bleve.NewNumericFieldMapping()

	chunkMapping := bleve.NewDocumentMapping()

	for _, field := range []string{
		search.FieldTenantID,
		search.FieldResourceID,
		search.FieldFileType,
		search.FieldMimeType,
		search.FieldChunkType,
		search.FieldCurrency,
	} {
		chunkMapping.AddFieldMappingsAt(field, keywordFieldMapping)
	}

	for _, field := range []string{
		search.FieldFileName,
		search.FieldVendor,
		search.FieldKeywords,
		search.FieldEntities,
		search.FieldText,
		search.FieldTextNormalized,
		search.FieldOCRText,
		search.FieldOCRTextNormalized,
		search.FieldCaption,
		search.FieldCaptionNormalized,
		search.FieldSearchableText,
		search.FieldContent,
		search.FieldSummary,
	} {
		chunkMapping.AddFieldMappingsAt(field, textFieldMapping)
	}

	for _, field := range []string{
		search.FieldAmountsCents,
		search.FieldPageNumber,
		search.FieldRowIndex,
		search.FieldBBox,
	} {
		chunkMapping.AddFieldMappingsAt(field, numericFieldMapping)
	}

	indexMapping.AddDocumentMapping("_default", chunkMapping)
	return indexMapping
}

// IndexChunks adds or updates a resource's chunks in both the lexical
// index and the vector collections.
func (a *Adapter) IndexChunks(ctx context.Context, resource *models.Resource, chunks []*models.Chunk) error {
	batch := a.index.NewBatch()
	for _, chunk := range chunks {
		if err := batch.Index(chunk.ID, chunkDocument(resource, chunk)); err != nil {
			return fmt.Errorf("failed to add chunk to batch: %w", err)
		}
	}
	if err := a.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}

	for _, chunk := range chunks {
		meta := map[string]string{
			search.FieldTenantID:   chunk.TenantID,
			search.FieldResourceID: chunk.ResourceID,
		}
		if len(chunk.TextEmbedding) > 0 {
			err := a.textCol.AddDocument(ctx, chromem.Document{
				ID:        chunk.ID,
				Metadata:  meta,
				Embedding: chunk.TextEmbedding,
				Content:   chunk.TextNormalized,
			})
			if err != nil {
				return fmt.Errorf("failed to add text vector: %w", err)
			}
		}
		if len(chunk.CaptionEmbedding) > 0 {
			err := a.captionCol.AddDocument(ctx, chromem.Document{
				ID:        chunk.ID,
				Metadata:  meta,
				Embedding: chunk.CaptionEmbedding,
				Content:   chunk.Caption,
			})
			if err != nil {
				return fmt.Errorf("failed to add caption vector: %w", err)
			}
		}
	}
	return nil
}

// chunkDocument flattens a chunk plus its parent's descriptive fields
// into the map shape Bleve indexes.
func chunkDocument(resource *models.Resource, chunk *models.Chunk) map[string]interface{} {
	doc := map[string]interface{}{
		search.FieldTenantID:          chunk.TenantID,
		search.FieldResourceID:        chunk.ResourceID,
		search.FieldChunkType:         chunk.ChunkType,
		search.FieldFileType:          chunk.FileType,
		search.FieldFileName:          resource.Name,
		search.FieldMimeType:          resource.MimeType,
		search.FieldVendor:            chunk.Vendor,
		search.FieldCurrency:          chunk.Currency,
		search.FieldKeywords:          []string(chunk.Keywords),
		search.FieldEntities:          []string(chunk.Entities),
		search.FieldText:              chunk.Text,
		search.FieldTextNormalized:    chunk.TextNormalized,
		search.FieldOCRText:           chunk.OCRText,
		search.FieldOCRTextNormalized: chunk.OCRTextNormalized,
		search.FieldCaption:           chunk.Caption,
		search.FieldCaptionNormalized: textnorm.Normalize(chunk.Caption, true),
		search.FieldSearchableText:    chunk.SearchableText,
		search.FieldContent:           resource.Content,
		search.FieldSummary:           resource.Summary,
	}
	if len(chunk.AmountsCents) > 0 {
		cents := make([]float64, len(chunk.AmountsCents))
		for i, c := range chunk.AmountsCents {
			cents[i] = float64(c)
		}
		doc[search.FieldAmountsCents] = cents
	}
	if chunk.PageNumber != nil {
		doc[search.FieldPageNumber] = float64(*chunk.PageNumber)
	}
	if chunk.RowIndex != nil {
		doc[search.FieldRowIndex] = float64(*chunk.RowIndex)
	}
	if len(chunk.BBox) > 0 {
		doc[search.FieldBBox] = []float64(chunk.BBox)
	}
	return doc
}

// DeleteByResource removes every chunk of one resource from the lexical
// index and both vector collections.
func (a *Adapter) DeleteByResource(ctx context.Context, tenantID, resourceID string) error {
	boolQuery := bleve.NewBooleanQuery()
	tenantQuery := bleve.NewTermQuery(tenantID)
	tenantQuery.SetField(search.FieldTenantID)
	resourceQuery := bleve.NewTermQuery(resourceID)
	resourceQuery.SetField(search.FieldResourceID)
	boolQuery.AddMust(tenantQuery, resourceQuery)

	req := bleve.NewSearchRequestOptions(boolQuery, 10000, 0, false)
	result, err := a.index.SearchInContext(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to find chunks for deletion: %w", err)
	}

	batch := a.index.NewBatch()
	for _, hit := range result.Hits {
		batch.Delete(hit.ID)
	}
	if err := a.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	where := map[string]string{search.FieldResourceID: resourceID}
	if err := a.textCol.Delete(ctx, where, nil); err != nil {
		a.log.Warn("failed to delete text vectors", "resource_id", resourceID, "error", err)
	}
	if err := a.captionCol.Delete(ctx, where, nil); err != nil {
		a.log.Warn("failed to delete caption vectors", "resource_id", resourceID, "error", err)
	}
	return nil
}

// Search executes one compound request: lexical clauses through Bleve,
// kNN clauses through the vector collections, fused by score.
func (a *Adapter) Search(ctx context.Context, req *search.Request) (*search.Response, error) {
	lexicalQuery := a.buildLexicalQuery(req)

	searchRequest := bleve.NewSearchRequestOptions(lexicalQuery, req.Limit, 0, false)
	searchRequest.Fields = []string{"*"}
	if req.Highlight {
		searchRequest.Highlight = bleve.NewHighlight()
		for _, field := range []string{
			search.FieldTextNormalized,
			search.FieldOCRTextNormalized,
			search.FieldCaptionNormalized,
			search.FieldSearchableText,
		} {
			searchRequest.Highlight.AddField(field)
		}
	}

	result, err := a.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, &search.Error{Op: "Search", Err: search.ErrIndexUnavailable, Msg: err.Error()}
	}

	hits := make(map[string]*search.Hit, len(result.Hits))
	order := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		h := &search.Hit{
			ChunkID:    hit.ID,
			ResourceID: fieldAsString(hit.Fields, search.FieldResourceID),
			Score:      hit.Score,
			Fields:     hit.Fields,
		}
		for path, texts := range hit.Fragments {
			h.Highlights = append(h.Highlights, search.Highlight{
				Path:  path,
				Texts: texts,
				Score: hit.Score,
			})
		}
		hits[hit.ID] = h
		order = append(order, hit.ID)
	}

	degraded := false
	if len(req.KNN) > 0 {
		newIDs, err := a.applyKNN(ctx, req, hits, &order)
		if err != nil {
			a.log.Warn("knn clauses skipped", "error", err)
			degraded = true
		} else if len(newIDs) > 0 {
			if err := a.hydrateKNNHits(ctx, req, hits, &order, newIDs); err != nil {
				a.log.Warn("knn hit hydration failed", "error", err)
				degraded = true
			}
		}
	}

	merged := make([]search.Hit, 0, len(order))
	for _, id := range order {
		if h, ok := hits[id]; ok {
			merged = append(merged, *h)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > req.Limit {
		merged = merged[:req.Limit]
	}

	return &search.Response{Hits: merged, Total: len(merged), Degraded: degraded}, nil
}

// buildLexicalQuery translates must and should clauses into one boolean
// query. kNN clauses are handled separately and never carry boosts.
func (a *Adapter) buildLexicalQuery(req *search.Request) query.Query {
	boolQuery := bleve.NewBooleanQuery()

	for _, eq := range req.Equals {
		q := bleve.NewTermQuery(eq.Value)
		q.SetField(eq.Path)
		boolQuery.AddMust(q)
	}
	for _, rng := range req.Ranges {
		q := bleve.NewNumericRangeQuery(rng.GTE, rng.LTE)
		q.SetField(rng.Path)
		boolQuery.AddMust(q)
	}
	for _, phrase := range req.Phrases {
		q := bleve.NewMatchPhraseQuery(phrase.Value)
		q.SetField(phrase.Path)
		boolQuery.AddMust(q)
	}
	for _, text := range req.MustText {
		boolQuery.AddMust(textDisjunction(text))
	}

	shouldCount := 0
	for _, text := range req.ShouldText {
		boolQuery.AddShould(textDisjunction(text))
		shouldCount++
	}
	// kNN clauses satisfy min_should_match through their own recall path,
	// so the lexical side stays optional whenever vectors are in play.
	if shouldCount > 0 && len(req.KNN) == 0 && req.MinShouldMatch > 0 {
		boolQuery.SetMinShould(float64(req.MinShouldMatch))
	}
	return boolQuery
}

func textDisjunction(clause search.TextClause) query.Query {
	disjunction := bleve.NewDisjunctionQuery()
	for _, path := range clause.Paths {
		q := bleve.NewMatchQuery(clause.Query)
		q.SetField(path)
		if clause.Boost > 0 {
			q.SetBoost(clause.Boost)
		}
		disjunction.AddQuery(q)
	}
	return disjunction
}

// applyKNN folds vector similarity into the hit set. A chunk reached by
// both the text and caption collections keeps the larger contribution.
// Returned IDs are vector-only hits that still need must-clause
// verification and stored fields.
func (a *Adapter) applyKNN(ctx context.Context, req *search.Request, hits map[string]*search.Hit, order *[]string) ([]string, error) {
	tenantID := ""
	for _, eq := range req.Equals {
		if eq.Path == search.FieldTenantID {
			tenantID = eq.Value
		}
	}

	contributions := make(map[string]float64)
	for _, clause := range req.KNN {
		col := a.textCol
		if clause.Path == search.FieldCaptionEmbedding {
			col = a.captionCol
		}

		n := clause.K
		if count := col.Count(); n > count {
			n = count
		}
		if n == 0 {
			continue
		}

		var where map[string]string
		if tenantID != "" {
			where = map[string]string{search.FieldTenantID: tenantID}
		}
		results, err := col.QueryEmbedding(ctx, clause.Vector, n, where, nil)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			contribution := float64(r.Similarity) * a.knnScale
			contributions[r.ID] = math.Max(contributions[r.ID], contribution)
		}
	}

	var newIDs []string
	for id, contribution := range contributions {
		if h, ok := hits[id]; ok {
			h.Score += contribution
			continue
		}
		hits[id] = &search.Hit{ChunkID: id, Score: contribution}
		*order = append(*order, id)
		newIDs = append(newIDs, id)
	}
	return newIDs, nil
}

// hydrateKNNHits re-checks vector-only hits against the must clauses and
// loads their stored fields. Candidates failing a must predicate are
// dropped.
func (a *Adapter) hydrateKNNHits(ctx context.Context, req *search.Request, hits map[string]*search.Hit, order *[]string, ids []string) error {
	boolQuery := bleve.NewBooleanQuery()
	boolQuery.AddMust(query.NewDocIDQuery(ids))
	for _, eq := range req.Equals {
		q := bleve.NewTermQuery(eq.Value)
		q.SetField(eq.Path)
		boolQuery.AddMust(q)
	}
	for _, rng := range req.Ranges {
		q := bleve.NewNumericRangeQuery(rng.GTE, rng.LTE)
		q.SetField(rng.Path)
		boolQuery.AddMust(q)
	}
	for _, phrase := range req.Phrases {
		q := bleve.NewMatchPhraseQuery(phrase.Value)
		q.SetField(phrase.Path)
		boolQuery.AddMust(q)
	}

	verifyRequest := bleve.NewSearchRequestOptions(boolQuery, len(ids), 0, false)
	verifyRequest.Fields = []string{"*"}
	result, err := a.index.SearchInContext(ctx, verifyRequest)
	if err != nil {
		return err
	}

	verified := make(map[string]map[string]interface{}, len(result.Hits))
	for _, hit := range result.Hits {
		verified[hit.ID] = hit.Fields
	}

	for _, id := range ids {
		fields, ok := verified[id]
		if !ok {
			delete(hits, id)
			continue
		}
		h := hits[id]
		h.Fields = fields
		h.ResourceID = fieldAsString(fields, search.FieldResourceID)
	}

	filtered := (*order)[:0]
	for _, id := range *order {
		if _, ok := hits[id]; ok {
			filtered = append(filtered, id)
		}
	}
	*order = filtered
	return nil
}

// Healthy reports whether the lexical index answers a document count.
func (a *Adapter) Healthy(_ context.Context) bool {
	_, err := a.index.DocCount()
	return err == nil
}

// Close releases the lexical index. Vector collections are in-process
// and need no teardown beyond persistence flushes done per write.
func (a *Adapter) Close() error {
	return a.index.Close()
}

func fieldAsString(fields map[string]interface{}, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case []interface{}:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}
