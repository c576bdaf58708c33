// Package memory implements the suggestion store in process memory.
// Suitable for tests and single-node deployments; the redis adapter is
// the shared-state counterpart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/quarrylabs/quarry/pkg/suggest"
)

type termKey struct {
	tenantID string
	category suggest.Category
}

type markerKey struct {
	tenantID   string
	resourceID string
}

// Store is a mutex-guarded in-memory suggestion store.
type Store struct {
	mu      sync.RWMutex
	freqs   map[termKey]map[string]int64
	markers map[markerKey]map[suggest.Contribution]bool
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		freqs:   make(map[termKey]map[string]int64),
		markers: make(map[markerKey]map[suggest.Contribution]bool),
	}
}

func (s *Store) MarkIndexed(_ context.Context, tenantID, resourceID string, c suggest.Category, term string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := markerKey{tenantID: tenantID, resourceID: resourceID}
	set, ok := s.markers[key]
	if !ok {
		set = make(map[suggest.Contribution]bool)
		s.markers[key] = set
	}
	contribution := suggest.Contribution{Category: c, Term: term}
	if set[contribution] {
		return false, nil
	}
	set[contribution] = true
	return true, nil
}

func (s *Store) Increment(_ context.Context, tenantID string, c suggest.Category, term string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := termKey{tenantID: tenantID, category: c}
	terms, ok := s.freqs[key]
	if !ok {
		terms = make(map[string]int64)
		s.freqs[key] = terms
	}
	terms[term] += delta
	if terms[term] <= 0 {
		delete(terms, term)
	}
	return nil
}

func (s *Store) TakeContributions(_ context.Context, tenantID, resourceID string) ([]suggest.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := markerKey{tenantID: tenantID, resourceID: resourceID}
	set := s.markers[key]
	delete(s.markers, key)

	out := make([]suggest.Contribution, 0, len(set))
	for contribution := range set {
		out = append(out, contribution)
	}
	return out, nil
}

func (s *Store) ScanPrefix(_ context.Context, tenantID string, c suggest.Category, prefix string, limit int) ([]suggest.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := s.freqs[termKey{tenantID: tenantID, category: c}]
	matched := make([]suggest.Entry, 0, limit)
	for term, freq := range terms {
		if strings.HasPrefix(term, prefix) {
			matched = append(matched, suggest.Entry{Term: term, Frequency: freq})
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Term < matched[j].Term
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) Close() error {
	return nil
}
