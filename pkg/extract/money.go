package extract

import (
	"math"
	"strconv"
	"strings"
)

// maxCents is the sanity ceiling for parsed amounts. Anything at or above
// 10^12 cents is treated as parser noise and dropped.
const maxCents = int64(1_000_000_000_000)

// Money is a single parsed amount with an optional currency.
type Money struct {
	Amount   float64 `json:"amount"`
	Cents    int64   `json:"cents"`
	Currency string  `json:"currency,omitempty"`
}

// extractMoney finds all (amount, currency) pairs in text. Both the
// symbol-prefix form ($1,234.56) and the code-suffix form (1234,56 EUR)
// are recognized. The returned spans cover the full matched substrings so
// callers can strip them from query text.
func extractMoney(text string) (monies []Money, spans []string) {
	seen := make(map[string]struct{})

	add := func(raw string, amount float64, currency string) {
		cents := int64(math.Round(amount * 100))
		if cents < 0 || cents >= maxCents {
			return
		}
		key := strconv.FormatInt(cents, 10) + "|" + currency
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		monies = append(monies, Money{Amount: amount, Cents: cents, Currency: currency})
		spans = append(spans, raw)
	}

	for _, m := range reMoneySymbol.FindAllString(text, -1) {
		symbol := string([]rune(m)[0])
		amount, ok := parseAmount(strings.TrimSpace(m[len(symbol):]))
		if !ok {
			continue
		}
		add(m, amount, symbolCurrencies[symbol])
	}

	for _, groups := range reMoneyCode.FindAllStringSubmatch(text, -1) {
		raw, code := groups[0], groups[1]
		if code == "" {
			code = groups[2]
		}
		numeric := strings.TrimSpace(strings.TrimSuffix(raw, code))
		amount, ok := parseAmount(numeric)
		if !ok {
			continue
		}
		add(raw, amount, codeCurrencies[strings.ToUpper(code)])
	}

	return monies, spans
}

// parseAmount converts a numeric string with ambiguous separators into a
// float amount. The rightmost of [.,] is the decimal separator when it has
// 1-2 digits to its right; every other separator is a thousands separator.
func parseAmount(s string) (float64, bool) {
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, false
	}

	lastSep := strings.LastIndexAny(s, ".,")
	decimal := ""
	integer := s
	if lastSep >= 0 {
		tail := s[lastSep+1:]
		if len(tail) >= 1 && len(tail) <= 2 {
			decimal = tail
			integer = s[:lastSep]
		}
	}

	integer = strings.Map(func(r rune) rune {
		if r == '.' || r == ',' {
			return -1
		}
		return r
	}, integer)

	if integer == "" && decimal == "" {
		return 0, false
	}
	if integer == "" {
		integer = "0"
	}

	whole, err := strconv.ParseInt(integer, 10, 64)
	if err != nil {
		return 0, false
	}

	amount := float64(whole)
	if decimal != "" {
		frac, err := strconv.ParseInt(decimal, 10, 64)
		if err != nil {
			return 0, false
		}
		amount += float64(frac) / math.Pow10(len(decimal))
	}

	return amount, true
}
