// Package extract pulls structured metadata out of free text: exact-match
// keywords (invoice numbers, emails, IBANs, phones), money amounts, vendor
// guesses, title-cased entities, and dates. The same regex families power
// both chunk enrichment at ingestion time and query analysis at search time.
package extract

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/quarrylabs/quarry/pkg/textnorm"
)

// Metadata is the structured output of extraction for one text chunk.
type Metadata struct {
	// Keywords are exact-match tokens, normalized lowercase, deduplicated
	// preserving first-seen order.
	Keywords []string

	// Currency is the first explicit currency found, uppercase A-Z, or
	// empty when the text names no currency.
	Currency string

	// AmountsCents holds every parsed amount as non-negative integer cents.
	AmountsCents []int64

	// Vendor is the canonical vendor key, or empty.
	Vendor string

	// Entities are title-cased multi-word spans in their original casing,
	// capped at 32.
	Entities []string

	// Dates are canonicalized to UTC midnight.
	Dates []time.Time
}

// Hints carries optional context the caller already knows about the chunk.
type Hints struct {
	FileType    string
	ImageLabels []string
}

// Extractor extracts metadata from chunk text. Zero value is usable; the
// vendor alias map comes from configuration, it is never learned.
type Extractor struct {
	// VendorAliases maps normalized vendor variants ("t-mobile czech
	// republic") to canonical keys ("t-mobile").
	VendorAliases map[string]string
}

const maxEntities = 32

// Extract runs every sub-parser over text. It never fails: a sub-parser
// that finds nothing simply leaves its field empty.
func (e *Extractor) Extract(text string, hints Hints) Metadata {
	var md Metadata
	if strings.TrimSpace(text) == "" {
		return md
	}

	md.Keywords, md.Entities = e.extractKeywords(text)

	monies, _ := extractMoney(text)
	for _, m := range monies {
		md.AmountsCents = append(md.AmountsCents, m.Cents)
		if md.Currency == "" && m.Currency != "" {
			md.Currency = m.Currency
		}
	}

	md.Vendor = e.extractVendor(text)
	md.Entities = appendEntities(md.Entities, extractEntities(text))
	md.Dates = extractDates(text)

	for _, label := range hints.ImageLabels {
		if kw := textnorm.Normalize(label, true); kw != "" {
			md.Keywords = appendUnique(md.Keywords, kw)
		}
	}

	return md
}

// extractKeywords collects identifier-shaped tokens. Matched tokens are
// kept in original casing in the entity list and normalized lowercase in
// the keyword list.
func (e *Extractor) extractKeywords(text string) (keywords, originals []string) {
	for _, re := range []interface {
		FindAllString(string, int) []string
	}{reInvoiceID, reLongDigits, reEmail, reIBAN, rePhone} {
		for _, match := range re.FindAllString(text, -1) {
			originals = appendUnique(originals, match)
			keywords = appendUnique(keywords, textnorm.Normalize(match, true))
		}
	}
	return keywords, originals
}

// extractVendor resolves a vendor in priority order: an explicit
// vendor-like line first, then a known alias within the first 200
// characters, else empty.
func (e *Extractor) extractVendor(text string) string {
	if m := reVendorLine.FindStringSubmatch(text); m != nil {
		candidate := textnorm.Normalize(m[1], true)
		if canonical, ok := e.VendorAliases[candidate]; ok {
			return canonical
		}
		if candidate != "" {
			return candidate
		}
	}

	head := text
	if len(head) > 200 {
		head = head[:200]
	}
	normalized := textnorm.Normalize(head, true)
	for variant, canonical := range e.VendorAliases {
		if strings.Contains(normalized, variant) {
			return canonical
		}
	}

	return ""
}

// extractEntities finds title-cased multi-word spans, drops spans that
// start with a stop token, and deduplicates.
func extractEntities(text string) []string {
	var entities []string
	for _, span := range reEntity.FindAllString(text, -1) {
		first := strings.Fields(span)[0]
		if _, stop := entityStopTokens[first]; stop {
			continue
		}
		entities = appendUnique(entities, span)
	}
	return entities
}

// extractDates parses ISO-8601, dd.mm.yyyy, dd/mm/yyyy, and "Month dd,
// yyyy" shapes anywhere in the text, canonicalized to UTC midnight.
func extractDates(text string) []time.Time {
	var dates []time.Time
	seen := make(map[time.Time]struct{})

	add := func(t time.Time) {
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		if _, ok := seen[day]; ok {
			return
		}
		seen[day] = struct{}{}
		dates = append(dates, day)
	}

	for _, m := range reDateISO.FindAllString(text, -1) {
		if t, err := time.Parse("2006-01-02", m); err == nil {
			add(t)
		}
	}
	for _, m := range reDateDots.FindAllString(text, -1) {
		if t, ok := parseDayFirst(m, "."); ok {
			add(t)
		}
	}
	for _, m := range reDateSlash.FindAllString(text, -1) {
		if t, ok := parseDayFirst(m, "/"); ok {
			add(t)
		}
	}
	for _, m := range reDateLong.FindAllString(text, -1) {
		if t, err := dateparse.ParseIn(m, time.UTC); err == nil {
			add(t)
		}
	}

	return dates
}

// parseDayFirst parses dd<sep>mm<sep>yyyy. The day-first reading is
// intentional: these shapes are European in the documents we see.
func parseDayFirst(s, sep string) (time.Time, bool) {
	parts := strings.Split(strings.ReplaceAll(s, " ", ""), sep)
	if len(parts) != 3 {
		return time.Time{}, false
	}
	t, err := time.Parse("2-1-2006", strings.Join(parts, "-"))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func appendUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}

func appendEntities(list, more []string) []string {
	for _, e := range more {
		if len(list) >= maxEntities {
			break
		}
		list = appendUnique(list, e)
	}
	if len(list) > maxEntities {
		list = list[:maxEntities]
	}
	return list
}
