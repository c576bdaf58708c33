// Package suggest implements the typeahead suggestion index: per tenant,
// per category ordered term sets with frequencies, scored by category
// weight and log-scaled popularity. The index is a rebuildable projection
// of the resource store and never blocks ingestion.
package suggest

import (
	"context"
	"math"
	"sort"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/quarrylabs/quarry/pkg/models"
	"github.com/quarrylabs/quarry/pkg/textnorm"
)

// Category names one suggestion source.
type Category string

const (
	CategoryFilenames Category = "filenames"
	CategoryVendors   Category = "vendors"
	CategoryEntities  Category = "entities"
	CategoryKeywords  Category = "keywords"
	CategoryAllTerms  Category = "all_terms"
)

// Categories lists every category in weight order.
var Categories = []Category{
	CategoryFilenames,
	CategoryVendors,
	CategoryKeywords,
	CategoryEntities,
	CategoryAllTerms,
}

var categoryWeights = map[Category]float64{
	CategoryFilenames: 1.0,
	CategoryVendors:   0.9,
	CategoryKeywords:  0.8,
	CategoryEntities:  0.7,
	CategoryAllTerms:  0.5,
}

var categoryKinds = map[Category]string{
	CategoryFilenames: "file",
	CategoryVendors:   "vendor",
	CategoryKeywords:  "keyword",
	CategoryEntities:  "entity",
	CategoryAllTerms:  "term",
}

// Suggestion is one typeahead candidate.
type Suggestion struct {
	Text  string  `json:"text"`
	Kind  string  `json:"type"`
	Score float64 `json:"score"`
}

// Entry is one stored term with its frequency.
type Entry struct {
	Term      string
	Frequency int64
}

// Contribution records that a resource contributed a term to a category,
// so removal can decrement exactly what indexing incremented.
type Contribution struct {
	Category Category
	Term     string
}

// Store is the backing ordered-set storage. Implementations live under
// adapters/.
type Store interface {
	// MarkIndexed records a (resource, category, term) marker and reports
	// whether it was newly added. Repeated ingestion of the same resource
	// therefore never inflates frequencies.
	MarkIndexed(ctx context.Context, tenantID, resourceID string, c Category, term string) (bool, error)

	// Increment adjusts a term's frequency by delta, removing the term
	// when it drops to zero.
	Increment(ctx context.Context, tenantID string, c Category, term string, delta int64) error

	// TakeContributions returns and clears a resource's markers.
	TakeContributions(ctx context.Context, tenantID, resourceID string) ([]Contribution, error)

	// ScanPrefix returns terms starting with prefix in lexicographic
	// order, at most limit.
	ScanPrefix(ctx context.Context, tenantID string, c Category, prefix string, limit int) ([]Entry, error)

	Close() error
}

// Config tunes the suggestion index.
type Config struct {
	// MaxTermsPerResource caps the content tokens pushed into all_terms.
	MaxTermsPerResource int // default 50

	Logger hclog.Logger
}

// Index is the suggestion index over a Store.
type Index struct {
	store    Store
	maxTerms int
	log      hclog.Logger
}

// NewIndex wires the suggestion index.
func NewIndex(store Store, cfg Config) *Index {
	maxTerms := cfg.MaxTermsPerResource
	if maxTerms == 0 {
		maxTerms = 50
	}
	log := cfg.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Index{store: store, maxTerms: maxTerms, log: log.Named("suggest")}
}

// IndexResource pushes a resource's terms into the per-category sets.
// Idempotent per resource; partial failures are collected and returned
// but leave the successfully indexed terms in place.
func (i *Index) IndexResource(ctx context.Context, resource *models.Resource) error {
	var errs *multierror.Error

	add := func(c Category, term string) {
		norm := textnorm.Normalize(term, true)
		if norm == "" {
			return
		}
		fresh, err := i.store.MarkIndexed(ctx, resource.TenantID, resource.ID, c, norm)
		if err != nil {
			errs = multierror.Append(errs, err)
			return
		}
		if !fresh {
			return
		}
		if err := i.store.Increment(ctx, resource.TenantID, c, norm, 1); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	add(CategoryFilenames, resource.Name)
	add(CategoryVendors, resource.Vendor)
	for _, entity := range resource.Entities {
		add(CategoryEntities, entity)
	}
	for _, keyword := range resource.Keywords {
		add(CategoryKeywords, keyword)
	}

	tokens := textnorm.Tokenize(textnorm.Normalize(resource.Content, true))
	if len(tokens) > i.maxTerms {
		tokens = tokens[:i.maxTerms]
	}
	for _, token := range tokens {
		add(CategoryAllTerms, token)
	}

	return errs.ErrorOrNil()
}

// RemoveResource decrements every counter the resource contributed.
func (i *Index) RemoveResource(ctx context.Context, tenantID, resourceID string) error {
	contributions, err := i.store.TakeContributions(ctx, tenantID, resourceID)
	if err != nil {
		return err
	}
	var errs *multierror.Error
	for _, c := range contributions {
		if err := i.store.Increment(ctx, tenantID, c.Category, c.Term, -1); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Suggest returns the top candidates for a prefix, deduplicated across
// categories with the highest-scoring kind winning.
func (i *Index) Suggest(ctx context.Context, tenantID, prefix string, limit int) ([]Suggestion, error) {
	if limit <= 0 {
		limit = 10
	}
	prefix = textnorm.Normalize(prefix, true)
	if prefix == "" {
		return []Suggestion{}, nil
	}

	best := make(map[string]Suggestion)
	for _, category := range Categories {
		entries, err := i.store.ScanPrefix(ctx, tenantID, category, prefix, limit*2)
		if err != nil {
			return nil, err
		}
		weight := categoryWeights[category]
		kind := categoryKinds[category]
		for _, entry := range entries {
			score := weight * math.Log(1+float64(entry.Frequency))
			if current, ok := best[entry.Term]; ok && current.Score >= score {
				continue
			}
			best[entry.Term] = Suggestion{Text: entry.Term, Kind: kind, Score: score}
		}
	}

	out := make([]Suggestion, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score > out[b].Score
		}
		return out[a].Text < out[b].Text
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
