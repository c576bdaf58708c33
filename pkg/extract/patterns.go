package extract

import "regexp"

// Regex families shared by the metadata extractor and the query analyzer.
// Keeping them in one place guarantees that what ingestion indexes as an
// exact-match keyword is the same shape the analyzer pulls out of a query.
var (
	// Invoice-style identifiers: INV-2024-001, PO12345, FAK-990001.
	reInvoiceID = regexp.MustCompile(`\b[A-Z]{2,}-?\d{3,}(?:-\d+)*\b`)

	// Long digit runs: order numbers, variable symbols, account numbers.
	reLongDigits = regexp.MustCompile(`\b\d{8,}\b`)

	// RFC-5321-shaped email addresses.
	reEmail = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)

	// IBAN-shaped tokens: 2 letters, 2 digits, up to 30 alphanumerics.
	reIBAN = regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{4,30}\b`)

	// E.164-shaped phone numbers.
	rePhone = regexp.MustCompile(`\+[1-9]\d{7,14}\b`)

	// Money, symbol-prefix form: $1,234.56 / € 99 / £12.50.
	reMoneySymbol = regexp.MustCompile(`[$€£]\s?\d+(?:[ .,]\d{3})*(?:[.,]\d{1,2})?`)

	// Money, code-suffix form: 1234,56 EUR / 1 500 CZK / 99.90 Kč.
	// Kč sits outside the \b group: RE2 word boundaries are ASCII-only.
	reMoneyCode = regexp.MustCompile(`\b\d+(?:[ .,]\d{3})*(?:[.,]\d{1,2})?\s?(?:(USD|EUR|GBP|CZK|CHF|PLN|Kc)\b|(Kč))`)

	// Explicit vendor-like lines: "Vendor: Acme Corp", "From: T-Mobile".
	reVendorLine = regexp.MustCompile(`(?im)^\s*(?:vendor|supplier|from|dodavatel)\s*:\s*(\S.*?)\s*$`)

	// Title-cased multi-word spans for entity extraction.
	reEntity = regexp.MustCompile(`\b[A-Z][a-zA-Z]+(?:[ \t]+[A-Z][a-zA-Z]*)+\b`)

	// Date shapes recognized anywhere in text.
	reDateISO   = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	reDateDots  = regexp.MustCompile(`\b\d{1,2}\.\s?\d{1,2}\.\s?\d{4}\b`)
	reDateSlash = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`)
	reDateLong  = regexp.MustCompile(`\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},\s+\d{4}\b`)
)

// symbolCurrencies maps money symbols to ISO-ish currency codes.
var symbolCurrencies = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
}

// codeCurrencies normalizes textual currency codes.
var codeCurrencies = map[string]string{
	"USD": "USD",
	"EUR": "EUR",
	"GBP": "GBP",
	"CZK": "CZK",
	"CHF": "CHF",
	"PLN": "PLN",
	"KČ":  "CZK",
	"KC":  "CZK",
}

// entityStopTokens are title-cased words that never start a real entity.
var entityStopTokens = map[string]struct{}{
	"The": {}, "This": {}, "That": {}, "From": {}, "Dear": {},
	"Invoice": {}, "Amount": {}, "Total": {}, "Date": {}, "Page": {},
	"Please": {}, "Thank": {}, "Best": {}, "Kind": {}, "Regards": {},
}
