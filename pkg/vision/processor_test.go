package vision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/pkg/llm"
)

type stubOCR struct {
	text string
	err  error
}

func (s stubOCR) ExtractText(ctx context.Context, image []byte, mimeType string) (string, error) {
	return s.text, s.err
}

type stubCaptioner struct {
	caption string
	labels  []string
	err     error
}

func (s stubCaptioner) Caption(ctx context.Context, image []byte, mimeType string) (string, []string, error) {
	return s.caption, s.labels, s.err
}

func newEmbeddings(t *testing.T, gen llm.EmbeddingsGenerator) *llm.EmbeddingClient {
	t.Helper()
	client, err := llm.NewEmbeddingClient(llm.EmbeddingClientConfig{
		Generator:  gen,
		TextModel:  "test-embed",
		TextDims:   32,
		MaxRetries: 1,
	})
	require.NoError(t, err)
	return client
}

func TestProcess_FullBundle(t *testing.T) {
	p := NewProcessor(ProcessorConfig{
		OCR:        stubOCR{text: "Jak se formuje datová budoucnost"},
		Captioner:  stubCaptioner{caption: "A conference slide", labels: []string{"Slide", "Text"}},
		Embeddings: newEmbeddings(t, &llm.MockGenerator{}),
	})

	result, err := p.Process(context.Background(), []byte{0xFF, 0xD8}, "image/jpeg")
	require.NoError(t, err)

	assert.Equal(t, "Jak se formuje datová budoucnost", result.OCRText)
	assert.Equal(t, "jak se formuje datova budoucnost", result.OCRTextNormalized)
	assert.Equal(t, "A conference slide", result.Caption)
	assert.Equal(t, "a conference slide", result.CaptionNormalized)
	assert.Equal(t, []string{"Slide", "Text"}, result.ImageLabels)
	assert.Len(t, result.CaptionEmbedding, 32)
	assert.False(t, result.EmbeddingMissing)

	assert.Contains(t, result.SearchableText, "datova budoucnost")
	assert.Contains(t, result.SearchableText, "conference slide")
	assert.Contains(t, result.SearchableText, "slide text")
}

func TestProcess_MissingCollaboratorsDegrade(t *testing.T) {
	p := NewProcessor(ProcessorConfig{})

	result, err := p.Process(context.Background(), []byte{0x01}, "image/png")
	require.NoError(t, err)

	assert.Empty(t, result.OCRText)
	assert.Empty(t, result.Caption)
	assert.Nil(t, result.CaptionEmbedding)
	assert.Empty(t, result.SearchableText)
}

func TestProcess_OCRFailureDegrades(t *testing.T) {
	p := NewProcessor(ProcessorConfig{
		OCR:       stubOCR{err: &Error{Op: "ExtractText", Err: ErrOCRUnavailable}},
		Captioner: stubCaptioner{caption: "a receipt"},
	})

	result, err := p.Process(context.Background(), []byte{0x01}, "image/png")
	require.NoError(t, err)

	assert.Empty(t, result.OCRText)
	assert.Equal(t, "a receipt", result.Caption)
}

type downGenerator struct{}

func (downGenerator) GenerateEmbeddings(ctx context.Context, text, model string, dims int) ([]float32, error) {
	return nil, llm.ErrEmbeddingUnavailable
}

func TestProcess_EmbeddingFailureFlagsBackfill(t *testing.T) {
	p := NewProcessor(ProcessorConfig{
		Captioner:  stubCaptioner{caption: "a dog"},
		Embeddings: newEmbeddings(t, downGenerator{}),
	})

	result, err := p.Process(context.Background(), []byte{0x01}, "image/png")
	require.NoError(t, err)

	assert.True(t, result.EmbeddingMissing)
	assert.Nil(t, result.CaptionEmbedding)
	assert.Equal(t, "a dog", result.Caption)
}
