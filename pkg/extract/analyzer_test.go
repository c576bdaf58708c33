package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeQuery_Empty(t *testing.T) {
	a := AnalyzeQuery("")

	assert.Empty(t, a.IDs)
	assert.Empty(t, a.Money)
	assert.Empty(t, a.CleanText)
	assert.Equal(t, StrategySemantic, a.Strategy)
}

func TestAnalyzeQuery_PureID(t *testing.T) {
	a := AnalyzeQuery("INV-2024-001")

	assert.Equal(t, []string{"inv-2024-001"}, a.IDs)
	assert.Empty(t, a.CleanText)
	assert.Equal(t, StrategyExact, a.Strategy)
}

func TestAnalyzeQuery_MoneyAndVendor(t *testing.T) {
	a := AnalyzeQuery("invoice for $1234.56 from Google")

	require.Len(t, a.Money, 1)
	assert.Equal(t, int64(123456), a.Money[0].Cents)
	assert.InDelta(t, 1234.56, a.Money[0].Amount, 0.001)
	assert.Equal(t, "USD", a.Money[0].Currency)

	assert.NotContains(t, a.CleanText, "1234.56")
	assert.Contains(t, a.CleanText, "invoice")
	assert.Equal(t, StrategyHybrid, a.Strategy)
}

func TestAnalyzeQuery_FileTypes(t *testing.T) {
	a := AnalyzeQuery("quarterly report pdf")

	assert.Equal(t, []string{"pdf"}, a.FileTypes)
	assert.Equal(t, "quarterly report", a.CleanText)
	assert.Equal(t, StrategyHybrid, a.Strategy)

	a = AnalyzeQuery("vacation jpg photo")
	assert.Equal(t, []string{"image"}, a.FileTypes)
	assert.Equal(t, "vacation", a.CleanText)
}

func TestAnalyzeQuery_Email(t *testing.T) {
	a := AnalyzeQuery("billing@acme.com")

	assert.Equal(t, []string{"billing@acme.com"}, a.Emails)
	assert.Equal(t, StrategyExact, a.Strategy)
}

func TestAnalyzeQuery_Entities(t *testing.T) {
	a := AnalyzeQuery("contracts with Acme Corp about hosting")

	assert.Contains(t, a.Entities, "Acme Corp")
	assert.Equal(t, StrategySemantic, a.Strategy)
}

func TestAnalyzeQuery_CleanTextNormalized(t *testing.T) {
	a := AnalyzeQuery("Jak se formuje datová budoucnost")

	assert.Equal(t, "jak se formuje datova budoucnost", a.CleanText)
	assert.Equal(t, StrategySemantic, a.Strategy)
}

func TestAnalyzeQuery_Deterministic(t *testing.T) {
	q := "invoice INV-100 for $42.50 from Acme Corp pdf"
	assert.Equal(t, AnalyzeQuery(q), AnalyzeQuery(q))
}
