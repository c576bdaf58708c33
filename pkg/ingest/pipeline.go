// Package ingest implements the ingestion pipeline: parse into parts,
// extract and normalize per part, embed, aggregate to the resource,
// persist atomically, then feed the search and suggestion projections.
package ingest

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/semaphore"

	"github.com/quarrylabs/quarry/pkg/extract"
	"github.com/quarrylabs/quarry/pkg/llm"
	"github.com/quarrylabs/quarry/pkg/models"
	"github.com/quarrylabs/quarry/pkg/search"
	"github.com/quarrylabs/quarry/pkg/store"
	"github.com/quarrylabs/quarry/pkg/suggest"
	"github.com/quarrylabs/quarry/pkg/textnorm"
	"github.com/quarrylabs/quarry/pkg/vision"
)

// Request is one ingestion job.
type Request struct {
	TenantID    string
	OwnerID     string
	URI         string
	Name        string
	Description string
	MimeType    string
	Bytes       []byte
	Tags        []string
}

// Result reports what one ingestion produced.
type Result struct {
	ResourceID        string
	ChunksCreated     int
	EmbeddingDegraded bool
	// SideEffectErrors lists non-fatal projection failures, already
	// logged; callers may surface them for reconciliation.
	SideEffectErrors []string
}

// Config tunes the pipeline. Zero values take defaults.
type Config struct {
	ChunkSizeChars       int // default 2000
	ChunkOverlapChars    int // default 200
	PerTenantConcurrency int // default 4

	Logger hclog.Logger
}

// Pipeline ingests resources. All collaborators except the store are
// optional; absent ones degrade the corresponding outputs.
type Pipeline struct {
	store       *store.Store
	index       search.Index
	suggestions *suggest.Index
	embeddings  *llm.EmbeddingClient
	vision      *vision.Processor
	extractor   *extract.Extractor

	chunkSize    int
	chunkOverlap int

	mu        sync.Mutex
	leases    map[string]struct{}
	tenantSem map[string]*semaphore.Weighted
	perTenant int64

	log hclog.Logger
}

// NewPipeline wires the pipeline.
func NewPipeline(st *store.Store, index search.Index, suggestions *suggest.Index, embeddings *llm.EmbeddingClient, visionProc *vision.Processor, extractor *extract.Extractor, cfg Config) *Pipeline {
	if extractor == nil {
		extractor = &extract.Extractor{}
	}
	chunkSize := cfg.ChunkSizeChars
	if chunkSize == 0 {
		chunkSize = 2000
	}
	chunkOverlap := cfg.ChunkOverlapChars
	if chunkOverlap == 0 {
		chunkOverlap = 200
	}
	perTenant := cfg.PerTenantConcurrency
	if perTenant == 0 {
		perTenant = 4
	}
	log := cfg.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Pipeline{
		store:        st,
		index:        index,
		suggestions:  suggestions,
		embeddings:   embeddings,
		vision:       visionProc,
		extractor:    extractor,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		leases:       make(map[string]struct{}),
		tenantSem:    make(map[string]*semaphore.Weighted),
		perTenant:    int64(perTenant),
		log:          log.Named("ingest"),
	}
}

// Ingest runs the full pipeline for one resource. Concurrent calls for
// the same (tenant, uri) conflict; different resources proceed in
// parallel up to the per-tenant cap.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if !p.acquireLease(req.TenantID, req.URI) {
		return nil, &Error{Op: "Ingest", Err: ErrConflict, Msg: req.URI}
	}
	defer p.releaseLease(req.TenantID, req.URI)

	sem := p.tenantSemaphore(req.TenantID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, &Error{Op: "Ingest", Err: err}
	}
	defer sem.Release(1)

	fileType := fileTypeFromMime(req.MimeType)
	parts, err := p.parse(fileType, req.Bytes)
	if err != nil {
		if errors.Is(err, ErrUnsupportedMimeType) || errors.Is(err, ErrParseFailed) {
			return nil, &Error{Op: "Ingest", Err: err, Msg: req.MimeType}
		}
		return nil, &Error{Op: "Ingest", Err: ErrParseFailed, Msg: err.Error()}
	}
	if len(parts) == 0 {
		return nil, &Error{Op: "Ingest", Err: ErrParseFailed, Msg: "no parts"}
	}

	chunks := make([]*models.Chunk, 0, len(parts))
	degraded := false
	for i, pt := range parts {
		chunk, chunkDegraded := p.buildChunk(ctx, fileType, i, pt, req.MimeType)
		degraded = degraded || chunkDegraded
		chunks = append(chunks, chunk)
	}

	resource := p.aggregate(req, fileType, chunks)

	if err := p.store.ReplaceResource(ctx, resource, chunks); err != nil {
		return nil, err
	}

	result := &Result{
		ResourceID:        resource.ID,
		ChunksCreated:     len(chunks),
		EmbeddingDegraded: degraded,
	}

	// Projections are best-effort after commit; the fallback search path
	// still reaches the resource through the store.
	if p.index != nil {
		if err := p.index.DeleteByResource(ctx, resource.TenantID, resource.ID); err != nil {
			p.log.Warn("failed to clear search index before reindex", "resource_id", resource.ID, "error", err)
		}
		if err := p.index.IndexChunks(ctx, resource, chunks); err != nil {
			p.log.Warn("failed to update search index", "resource_id", resource.ID, "error", err)
			result.SideEffectErrors = append(result.SideEffectErrors, "search_index: "+err.Error())
		}
	}
	if p.suggestions != nil {
		if err := p.suggestions.RemoveResource(ctx, resource.TenantID, resource.ID); err != nil {
			p.log.Warn("failed to clear suggestion terms", "resource_id", resource.ID, "error", err)
		}
		if err := p.suggestions.IndexResource(ctx, resource); err != nil {
			p.log.Warn("failed to update suggestion index", "resource_id", resource.ID, "error", err)
			result.SideEffectErrors = append(result.SideEffectErrors, "suggestion_index: "+err.Error())
		}
	}

	p.log.Info("ingested resource",
		"tenant_id", resource.TenantID,
		"resource_id", resource.ID,
		"file_type", fileType,
		"chunks", len(chunks),
		"embedding_degraded", degraded,
	)
	return result, nil
}

// buildChunk runs extraction, normalization, and embedding for one part.
func (p *Pipeline) buildChunk(ctx context.Context, fileType string, index int, pt part, mimeType string) (*models.Chunk, bool) {
	chunk := &models.Chunk{
		ChunkType:  pt.chunkType,
		ChunkIndex: index,
		PageNumber: pt.pageNumber,
		RowIndex:   pt.rowIndex,
		FileType:   fileType,
	}

	if pt.image != nil {
		return p.buildImageChunk(ctx, chunk, pt.image, mimeType)
	}

	chunk.Text = pt.text
	chunk.TextNormalized = textnorm.Normalize(pt.text, true)
	chunk.SearchableText = textnorm.CreateSearchableText(pt.text)

	meta := p.extractor.Extract(pt.text, extract.Hints{FileType: fileType})
	applyMetadata(chunk, meta)

	degraded := false
	if p.embeddings != nil {
		input := chunk.Text
		if input == "" {
			input = chunk.SearchableText
		}
		vec, err := p.embeddings.Embed(ctx, input)
		if err != nil {
			p.log.Warn("text embedding failed, chunk flagged for backfill",
				"chunk_index", index, "error", err)
			chunk.EmbeddingMissing = true
			degraded = true
		} else {
			chunk.TextEmbedding = models.Float32Array(vec)
		}
	}
	return chunk, degraded
}

// buildImageChunk routes an image part through the vision processor.
func (p *Pipeline) buildImageChunk(ctx context.Context, chunk *models.Chunk, image []byte, mimeType string) (*models.Chunk, bool) {
	if p.vision == nil {
		chunk.EmbeddingMissing = false
		return chunk, false
	}

	res, err := p.vision.Process(ctx, image, mimeType)
	if err != nil || res == nil {
		p.log.Warn("image processing failed, chunk kept without visual fields", "error", err)
		return chunk, true
	}

	chunk.OCRText = res.OCRText
	chunk.OCRTextNormalized = res.OCRTextNormalized
	chunk.Caption = res.Caption
	chunk.ImageLabels = models.StringArray(res.ImageLabels)
	chunk.SearchableText = res.SearchableText
	chunk.CaptionEmbedding = models.Float32Array(res.CaptionEmbedding)
	chunk.EmbeddingMissing = res.EmbeddingMissing

	combined := strings.TrimSpace(res.OCRText + " " + res.Caption)
	meta := p.extractor.Extract(combined, extract.Hints{
		FileType:    models.FileTypeImage,
		ImageLabels: res.ImageLabels,
	})
	applyMetadata(chunk, meta)

	return chunk, res.EmbeddingMissing
}

func applyMetadata(chunk *models.Chunk, meta extract.Metadata) {
	chunk.Vendor = meta.Vendor
	chunk.Currency = meta.Currency
	chunk.AmountsCents = models.Int64Array(meta.AmountsCents)
	chunk.Entities = models.StringArray(meta.Entities)
	chunk.Keywords = models.StringArray(meta.Keywords)
	chunk.Dates = models.TimeArray(meta.Dates)
}

const maxResourceContentChars = 20000

var reInvoiceKeyword = regexp.MustCompile(`^[a-z]{2,}-?\d{3,}(?:-\d+)*$`)

// aggregate folds per-chunk metadata up to the resource row.
func (p *Pipeline) aggregate(req Request, fileType string, chunks []*models.Chunk) *models.Resource {
	resource := &models.Resource{
		TenantID:    req.TenantID,
		OwnerID:     req.OwnerID,
		URI:         req.URI,
		Name:        req.Name,
		Description: req.Description,
		MimeType:    req.MimeType,
		FileType:    fileType,
		SizeBytes:   int64(len(req.Bytes)),
		Tags:        models.StringArray(req.Tags),
	}

	var content strings.Builder
	for _, chunk := range chunks {
		if resource.Currency == "" {
			resource.Currency = chunk.Currency
		}
		if resource.Vendor == "" {
			resource.Vendor = chunk.Vendor
		}
		resource.AmountsCents = append(resource.AmountsCents, chunk.AmountsCents...)
		for _, kw := range chunk.Keywords {
			resource.Keywords = appendUniqueString(resource.Keywords, kw)
			if resource.InvoiceNo == "" && reInvoiceKeyword.MatchString(kw) {
				resource.InvoiceNo = kw
			}
		}
		for _, entity := range chunk.Entities {
			resource.Entities = appendUniqueString(resource.Entities, entity)
		}
		for _, date := range chunk.Dates {
			resource.Dates = appendUniqueTime(resource.Dates, date)
		}

		text := chunk.Text
		if text == "" {
			text = chunk.SearchableText
		}
		if text != "" && content.Len() < maxResourceContentChars {
			if content.Len() > 0 {
				content.WriteString("\n")
			}
			remaining := maxResourceContentChars - content.Len()
			if len(text) > remaining {
				text = text[:remaining]
			}
			content.WriteString(text)
		}
	}
	resource.Content = content.String()
	return resource
}

// ReindexPending retries embedding for chunks flagged as missing one,
// writing backfilled vectors to the store and the search index.
func (p *Pipeline) ReindexPending(ctx context.Context, batchSize int) (int, error) {
	if p.embeddings == nil {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	chunks, err := p.store.ChunksMissingEmbedding(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	var errs *multierror.Error
	backfilled := 0
	for _, chunk := range chunks {
		input := chunk.Text
		if input == "" {
			input = chunk.SearchableText
		}
		if input == "" {
			continue
		}

		vec, err := p.embeddings.Embed(ctx, input)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if err := p.store.UpdateChunkEmbedding(ctx, chunk.ID, vec); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		chunk.TextEmbedding = models.Float32Array(vec)
		chunk.EmbeddingMissing = false
		backfilled++

		if p.index != nil {
			resource, err := p.store.GetByID(ctx, chunk.TenantID, chunk.ResourceID)
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			if err := p.index.IndexChunks(ctx, resource, []*models.Chunk{chunk}); err != nil {
				p.log.Warn("failed to reindex backfilled chunk", "chunk_id", chunk.ID, "error", err)
			}
		}
	}

	if backfilled > 0 {
		p.log.Info("backfilled missing embeddings", "count", backfilled)
	}
	return backfilled, errs.ErrorOrNil()
}

// Delete removes a resource everywhere: store, search index, suggestion
// index.
func (p *Pipeline) Delete(ctx context.Context, tenantID, resourceID string) error {
	if err := p.store.DeleteResource(ctx, tenantID, resourceID); err != nil {
		return err
	}
	if p.index != nil {
		if err := p.index.DeleteByResource(ctx, tenantID, resourceID); err != nil {
			p.log.Warn("failed to delete from search index", "resource_id", resourceID, "error", err)
		}
	}
	if p.suggestions != nil {
		if err := p.suggestions.RemoveResource(ctx, tenantID, resourceID); err != nil {
			p.log.Warn("failed to delete suggestion terms", "resource_id", resourceID, "error", err)
		}
	}
	return nil
}

func validateRequest(req Request) error {
	switch {
	case strings.TrimSpace(req.TenantID) == "":
		return &Error{Op: "Ingest", Err: ErrBadRequest, Msg: "tenant_id is required"}
	case strings.TrimSpace(req.OwnerID) == "":
		return &Error{Op: "Ingest", Err: ErrBadRequest, Msg: "owner_id is required"}
	case strings.TrimSpace(req.URI) == "":
		return &Error{Op: "Ingest", Err: ErrBadRequest, Msg: "uri is required"}
	case strings.TrimSpace(req.Name) == "":
		return &Error{Op: "Ingest", Err: ErrBadRequest, Msg: "name is required"}
	case len(req.Bytes) == 0:
		return &Error{Op: "Ingest", Err: ErrBadRequest, Msg: "empty payload"}
	}
	return nil
}

func (p *Pipeline) acquireLease(tenantID, uri string) bool {
	key := tenantID + "\x00" + uri
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, held := p.leases[key]; held {
		return false
	}
	p.leases[key] = struct{}{}
	return true
}

func (p *Pipeline) releaseLease(tenantID, uri string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.leases, tenantID+"\x00"+uri)
}

func (p *Pipeline) tenantSemaphore(tenantID string) *semaphore.Weighted {
	p.mu.Lock()
	defer p.mu.Unlock()
	sem, ok := p.tenantSem[tenantID]
	if !ok {
		sem = semaphore.NewWeighted(p.perTenant)
		p.tenantSem[tenantID] = sem
	}
	return sem
}

func appendUniqueString(list models.StringArray, value string) models.StringArray {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}

func appendUniqueTime(list models.TimeArray, value time.Time) models.TimeArray {
	for _, existing := range list {
		if existing.Equal(value) {
			return list
		}
	}
	return append(list, value)
}
