package llm

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, gen EmbeddingsGenerator) *EmbeddingClient {
	t.Helper()
	client, err := NewEmbeddingClient(EmbeddingClientConfig{
		Generator: gen,
		TextModel: "test-embed",
		TextDims:  64,
	})
	require.NoError(t, err)
	return client
}

func TestEmbed_UnitNorm(t *testing.T) {
	client := newTestClient(t, &MockGenerator{})

	v, err := client.Embed(context.Background(), "invoice from acme")
	require.NoError(t, err)
	require.Len(t, v, 64)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-3)
}

func TestEmbed_Deterministic(t *testing.T) {
	client := newTestClient(t, &MockGenerator{})

	a, err := client.Embed(context.Background(), "same input")
	require.NoError(t, err)
	b, err := client.Embed(context.Background(), "same input")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestEmbed_FailureIsTyped(t *testing.T) {
	client, err := NewEmbeddingClient(EmbeddingClientConfig{
		Generator:  failingGenerator{},
		TextModel:  "test-embed",
		TextDims:   64,
		MaxRetries: 1,
	})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "some text")
	assert.ErrorIs(t, err, ErrEmbeddingUnavailable)

	// Empty input is typed the same way.
	_, err = client.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
}

type failingGenerator struct{}

func (failingGenerator) GenerateEmbeddings(ctx context.Context, text, model string, dims int) ([]float32, error) {
	return nil, errors.New("connection refused")
}

func TestEmbed_WrongDimensions(t *testing.T) {
	client, err := NewEmbeddingClient(EmbeddingClientConfig{
		Generator: fixedGenerator{vector: []float32{1, 0}},
		TextModel: "test-embed",
		TextDims:  3,
	})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "hello world")
	assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
}

func TestEmbed_Truncation(t *testing.T) {
	capture := &capturingGenerator{dims: 8}
	client, err := NewEmbeddingClient(EmbeddingClientConfig{
		Generator: capture,
		TextModel: "test-embed",
		TextDims:  8,
		MaxChars:  100,
	})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), strings.Repeat("x", 5000))
	require.NoError(t, err)
	assert.Equal(t, 100, len(capture.lastInput))
}

func TestEmbedCaption_DefaultsToTextModel(t *testing.T) {
	client := newTestClient(t, &MockGenerator{})

	assert.Equal(t, client.TextDimensions(), client.CaptionDimensions())

	v, err := client.EmbedCaption(context.Background(), "a dog on a beach")
	require.NoError(t, err)
	assert.Len(t, v, client.CaptionDimensions())
}

type fixedGenerator struct {
	vector []float32
}

func (g fixedGenerator) GenerateEmbeddings(ctx context.Context, text, model string, dims int) ([]float32, error) {
	return g.vector, nil
}

type capturingGenerator struct {
	dims      int
	lastInput string
}

func (g *capturingGenerator) GenerateEmbeddings(ctx context.Context, text, model string, dims int) ([]float32, error) {
	g.lastInput = text
	v := make([]float32, g.dims)
	v[0] = 1
	return v, nil
}

func TestMockGenerator_FailNextOnce(t *testing.T) {
	gen := &MockGenerator{FailNext: true}

	_, err := gen.GenerateEmbeddings(context.Background(), "x", "m", 4)
	assert.True(t, errors.Is(err, ErrEmbeddingUnavailable))

	_, err = gen.GenerateEmbeddings(context.Background(), "x", "m", 4)
	assert.NoError(t, err)
}
