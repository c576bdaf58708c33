// Package store implements the canonical resource store on top of gorm.
// It is the source of truth for resources and their chunks; the search
// index and the suggestion index are both rebuildable projections of it.
// Every read and write is scoped to a tenant.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/quarrylabs/quarry/pkg/models"
	"github.com/quarrylabs/quarry/pkg/textnorm"
)

// Store provides tenant-scoped access to resources and chunks.
type Store struct {
	db  *gorm.DB
	log hclog.Logger
}

// New creates a Store backed by the given database handle.
func New(db *gorm.DB, log hclog.Logger) *Store {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Store{db: db, log: log.Named("store")}
}

// DB exposes the underlying handle for migration and health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Healthy reports whether the database responds to a ping.
func (s *Store) Healthy(ctx context.Context) bool {
	sqlDB, err := s.db.DB()
	if err != nil {
		return false
	}
	return sqlDB.PingContext(ctx) == nil
}

// CreateResource persists a new resource row.
func (s *Store) CreateResource(ctx context.Context, resource *models.Resource) error {
	if err := s.db.WithContext(ctx).Create(resource).Error; err != nil {
		return &Error{Op: "CreateResource", Err: wrapDBError(err), Msg: resource.URI}
	}
	return nil
}

// GetByURI returns the tenant's resource with the given URI.
func (s *Store) GetByURI(ctx context.Context, tenantID, uri string) (*models.Resource, error) {
	var resource models.Resource
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND uri = ?", tenantID, uri).
		First(&resource).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &Error{Op: "GetByURI", Err: ErrNotFound, Msg: uri}
		}
		return nil, &Error{Op: "GetByURI", Err: wrapDBError(err)}
	}
	return &resource, nil
}

// GetByID returns a resource by primary key, enforcing tenant ownership.
// A resource that exists under another tenant is reported as forbidden,
// never leaked as a lookup miss with contents.
func (s *Store) GetByID(ctx context.Context, tenantID, id string) (*models.Resource, error) {
	var resource models.Resource
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&resource).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &Error{Op: "GetByID", Err: ErrNotFound, Msg: id}
		}
		return nil, &Error{Op: "GetByID", Err: wrapDBError(err)}
	}
	if resource.TenantID == "" || resource.TenantID != tenantID {
		return nil, &Error{Op: "GetByID", Err: ErrForbidden, Msg: id}
	}
	return &resource, nil
}

// UpdateResource applies the given column updates to a resource owned by
// the tenant. Ownership columns are not updatable through this path.
func (s *Store) UpdateResource(ctx context.Context, tenantID, id string, updates map[string]interface{}) error {
	delete(updates, "tenant_id")
	delete(updates, "owner_id")
	delete(updates, "id")

	result := s.db.WithContext(ctx).
		Model(&models.Resource{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(updates)
	if result.Error != nil {
		return &Error{Op: "UpdateResource", Err: wrapDBError(result.Error)}
	}
	if result.RowsAffected == 0 {
		return s.classifyMiss(ctx, "UpdateResource", tenantID, id)
	}
	return nil
}

// DeleteResource removes a resource and all of its chunks in one
// transaction. Deleting a resource another tenant owns is forbidden.
func (s *Store) DeleteResource(ctx context.Context, tenantID, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND tenant_id = ?", id, tenantID).
			Delete(&models.Resource{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return s.classifyMiss(ctx, "DeleteResource", tenantID, id)
		}
		return tx.Where("resource_id = ?", id).Delete(&models.Chunk{}).Error
	})
	if err != nil {
		var storeErr *Error
		if errors.As(err, &storeErr) {
			return err
		}
		return &Error{Op: "DeleteResource", Err: wrapDBError(err)}
	}
	return nil
}

// CreateChunks inserts the chunk set for a resource.
func (s *Store) CreateChunks(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(chunks).Error; err != nil {
		return &Error{Op: "CreateChunks", Err: wrapDBError(err)}
	}
	return nil
}

// GetChunksByResource returns a resource's chunks ordered by chunk index.
// Ownership is checked through the resource row.
func (s *Store) GetChunksByResource(ctx context.Context, tenantID, resourceID string) ([]*models.Chunk, error) {
	if _, err := s.GetByID(ctx, tenantID, resourceID); err != nil {
		return nil, err
	}
	var chunks []*models.Chunk
	err := s.db.WithContext(ctx).
		Where("resource_id = ?", resourceID).
		Order("chunk_index ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, &Error{Op: "GetChunksByResource", Err: wrapDBError(err)}
	}
	return chunks, nil
}

// ReplaceResource atomically upserts a resource row and swaps its chunk
// set. Reingestion either fully replaces the old state or leaves it
// untouched.
func (s *Store) ReplaceResource(ctx context.Context, resource *models.Resource, chunks []*models.Chunk) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Resource
		err := tx.Where("tenant_id = ? AND uri = ?", resource.TenantID, resource.URI).
			First(&existing).Error
		switch {
		case err == nil:
			// Keep identity and the original owner across reingestions.
			resource.ID = existing.ID
			resource.OwnerID = existing.OwnerID
			resource.CreatedAt = existing.CreatedAt
			if err := tx.Model(&existing).Select("*").
				Omit("id", "tenant_id", "owner_id", "created_at").
				Updates(resource).Error; err != nil {
				return err
			}
			if err := tx.Where("resource_id = ?", existing.ID).
				Delete(&models.Chunk{}).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(resource).Error; err != nil {
				return err
			}
		default:
			return err
		}

		for _, chunk := range chunks {
			chunk.ResourceID = resource.ID
			chunk.TenantID = resource.TenantID
		}
		if len(chunks) > 0 {
			if err := tx.Create(chunks).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &Error{Op: "ReplaceResource", Err: wrapDBError(err), Msg: resource.URI}
	}
	return nil
}

// ChunksMissingEmbedding returns chunks persisted without a vector, oldest
// first, for the background reconciler to retry.
func (s *Store) ChunksMissingEmbedding(ctx context.Context, limit int) ([]*models.Chunk, error) {
	var chunks []*models.Chunk
	err := s.db.WithContext(ctx).
		Where("embedding_missing = ?", true).
		Order("created_at ASC").
		Limit(limit).
		Find(&chunks).Error
	if err != nil {
		return nil, &Error{Op: "ChunksMissingEmbedding", Err: wrapDBError(err)}
	}
	return chunks, nil
}

// UpdateChunkEmbedding stores a backfilled vector and clears the missing
// flag.
func (s *Store) UpdateChunkEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	err := s.db.WithContext(ctx).
		Model(&models.Chunk{}).
		Where("id = ?", chunkID).
		Updates(map[string]interface{}{
			"text_embedding":    models.Float32Array(embedding),
			"embedding_missing": false,
		}).Error
	if err != nil {
		return &Error{Op: "UpdateChunkEmbedding", Err: wrapDBError(err)}
	}
	return nil
}

// FallbackQuery carries the structured predicates for a degraded lexical
// search when the search index is unreachable.
type FallbackQuery struct {
	Currency      string
	MinCents      *int64
	MaxCents      *int64
	FileTypes     []string
	Tokens        []string // normalized query tokens
	ExactIDs      []string // invoice-style identifiers, matched verbatim
	ExactPhrases  []string // emails, IBANs, phones
	RequireTokens bool     // when true, rows matching zero tokens are dropped
}

// FallbackHit is one scored row from the lexical fallback scan.
type FallbackHit struct {
	Chunk       *models.Chunk
	MatchCount  int
	ExactAmount bool
	ExactID     bool
}

// LexicalFallbackSearch runs a degraded search straight against the
// database: structured predicates in SQL, token occurrence counting in
// memory. Results carry no semantic signal and are ranked by match count
// alone.
func (s *Store) LexicalFallbackSearch(ctx context.Context, tenantID string, q FallbackQuery, limit int) ([]FallbackHit, error) {
	if limit <= 0 {
		limit = 10
	}

	tx := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if q.Currency != "" {
		tx = tx.Where("currency = ?", q.Currency)
	}
	if len(q.FileTypes) > 0 {
		tx = tx.Where("file_type IN ?", q.FileTypes)
	}

	// Candidate cap keeps the scan bounded; structured predicates already
	// cut the set down in SQL.
	var chunks []*models.Chunk
	if err := tx.Limit(5000).Find(&chunks).Error; err != nil {
		return nil, &Error{Op: "LexicalFallbackSearch", Err: wrapDBError(err)}
	}

	hits := make([]FallbackHit, 0, len(chunks))
	for _, chunk := range chunks {
		if !amountInWindow(chunk.AmountsCents, q.MinCents, q.MaxCents) {
			continue
		}

		hit := FallbackHit{Chunk: chunk}
		haystack := chunk.SearchableText
		if haystack == "" {
			haystack = textnorm.CreateSearchableText(chunk.TextNormalized, chunk.OCRTextNormalized)
		}

		for _, id := range q.ExactIDs {
			if strings.Contains(haystack, textnorm.Normalize(id, true)) {
				hit.ExactID = true
				hit.MatchCount += 5
			}
		}
		for _, phrase := range q.ExactPhrases {
			hit.MatchCount += 5 * strings.Count(haystack, textnorm.Normalize(phrase, true))
		}
		for _, token := range q.Tokens {
			hit.MatchCount += strings.Count(haystack, token)
			for _, kw := range chunk.Keywords {
				if kw == token {
					hit.MatchCount++
				}
			}
		}
		if (q.MinCents != nil || q.MaxCents != nil) && len(chunk.AmountsCents) > 0 {
			hit.ExactAmount = true
		}

		if hit.MatchCount == 0 && q.RequireTokens {
			continue
		}
		if hit.MatchCount == 0 && !hit.ExactAmount && !hit.ExactID {
			continue
		}
		hits = append(hits, hit)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].MatchCount > hits[j].MatchCount
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func amountInWindow(cents models.Int64Array, min, max *int64) bool {
	if min == nil && max == nil {
		return true
	}
	for _, c := range cents {
		if min != nil && c < *min {
			continue
		}
		if max != nil && c > *max {
			continue
		}
		return true
	}
	return false
}

// classifyMiss distinguishes "not found" from "owned by another tenant"
// after a zero-row write.
func (s *Store) classifyMiss(ctx context.Context, op, tenantID, id string) error {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Resource{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return &Error{Op: op, Err: wrapDBError(err)}
	}
	if count > 0 {
		return &Error{Op: op, Err: ErrForbidden, Msg: id}
	}
	return &Error{Op: op, Err: ErrNotFound, Msg: id}
}

func wrapDBError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, gorm.ErrInvalidDB) || errors.Is(err, gorm.ErrInvalidTransaction) {
		return errors.Join(ErrUnavailable, err)
	}
	return err
}
