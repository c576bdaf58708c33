package extract

import (
	"strings"

	"github.com/quarrylabs/quarry/pkg/textnorm"
)

// Strategy is the analyzer's advisory guess at the best retrieval mode.
// The search executor always assembles a full compound query regardless.
type Strategy string

const (
	StrategyExact    Strategy = "exact"
	StrategySemantic Strategy = "semantic"
	StrategyHybrid   Strategy = "hybrid"
)

// Analysis is the structured intent parsed from a free-text query.
type Analysis struct {
	IDs       []string `json:"ids"`
	Emails    []string `json:"emails"`
	IBANs     []string `json:"ibans"`
	Phones    []string `json:"phones"`
	Money     []Money  `json:"money"`
	Entities  []string `json:"entities"`
	FileTypes []string `json:"file_types"`
	CleanText string   `json:"clean_text"`
	Strategy  Strategy `json:"-"`
}

// fileTypeTokens maps query tokens to canonical file types.
var fileTypeTokens = map[string]string{
	"pdf": "pdf", "csv": "csv",
	"text": "text", "txt": "text",
	"image": "image", "img": "image",
	"jpg": "image", "jpeg": "image", "png": "image", "gif": "image",
	"photo": "image", "picture": "image", "scan": "image",
}

// AnalyzeQuery parses a user query into exact filters, entity hints, and a
// clean residual suitable for semantic and lexical matching. It is pure and
// deterministic; an empty query yields an all-empty analysis with the
// semantic strategy.
func AnalyzeQuery(query string) Analysis {
	a := Analysis{Strategy: StrategySemantic}
	if strings.TrimSpace(query) == "" {
		return a
	}

	residual := query

	strip := func(span string) {
		residual = strings.ReplaceAll(residual, span, " ")
	}

	// Money first: its spans contain digit runs that would otherwise be
	// misread as identifiers.
	monies, spans := extractMoney(query)
	a.Money = monies
	for _, s := range spans {
		strip(s)
	}

	for _, m := range reEmail.FindAllString(residual, -1) {
		a.Emails = appendUnique(a.Emails, textnorm.Normalize(m, true))
		strip(m)
	}
	for _, m := range reIBAN.FindAllString(residual, -1) {
		a.IBANs = appendUnique(a.IBANs, textnorm.Normalize(m, true))
		strip(m)
	}
	for _, m := range rePhone.FindAllString(residual, -1) {
		a.Phones = appendUnique(a.Phones, m)
		strip(m)
	}
	for _, m := range reInvoiceID.FindAllString(residual, -1) {
		a.IDs = appendUnique(a.IDs, textnorm.Normalize(m, true))
		strip(m)
	}
	for _, m := range reLongDigits.FindAllString(residual, -1) {
		a.IDs = appendUnique(a.IDs, m)
		strip(m)
	}

	// Entities from whatever structured matching left behind.
	a.Entities = extractEntities(residual)

	// File type tokens are filters, not search text.
	var cleanTokens []string
	for _, tok := range strings.Fields(residual) {
		normTok := textnorm.Normalize(tok, true)
		if ft, ok := fileTypeTokens[normTok]; ok {
			a.FileTypes = appendUnique(a.FileTypes, ft)
			continue
		}
		cleanTokens = append(cleanTokens, tok)
	}

	a.CleanText = textnorm.Normalize(strings.Join(cleanTokens, " "), true)
	a.Strategy = estimateStrategy(a)
	return a
}

// HasStructured reports whether the analysis carries any exact filter.
func (a Analysis) HasStructured() bool {
	return len(a.IDs) > 0 || len(a.Emails) > 0 || len(a.IBANs) > 0 ||
		len(a.Phones) > 0 || len(a.Money) > 0 || len(a.FileTypes) > 0
}

// estimateStrategy classifies the query: exact when a strong identifier is
// present and almost no residual text remains, semantic when nothing
// structured matched at all, hybrid otherwise.
func estimateStrategy(a Analysis) Strategy {
	strongMatch := len(a.IDs) > 0 || len(a.Emails) > 0 || len(a.IBANs) > 0 || len(a.Money) > 0

	if strongMatch && len(textnorm.Tokenize(a.CleanText)) < 2 {
		return StrategyExact
	}
	if !a.HasStructured() {
		return StrategySemantic
	}
	return StrategyHybrid
}
