package llm

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// MockGenerator is a deterministic in-process embeddings backend for tests
// and local development. Identical inputs map to identical vectors; the
// vectors carry no semantic meaning.
type MockGenerator struct {
	mu sync.Mutex

	// FailNext makes the next call return ErrEmbeddingUnavailable. Used by
	// tests exercising degraded ingestion.
	FailNext bool

	// Calls counts GenerateEmbeddings invocations.
	Calls int
}

// GenerateEmbeddings returns a deterministic pseudo-random unit vector
// seeded by the input text.
func (m *MockGenerator) GenerateEmbeddings(ctx context.Context, text string, model string, dimensions int) ([]float32, error) {
	m.mu.Lock()
	m.Calls++
	fail := m.FailNext
	m.FailNext = false
	m.mu.Unlock()

	if fail {
		return nil, ErrEmbeddingUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := fnv.New64a()
	h.Write([]byte(model))
	h.Write([]byte(text))
	state := h.Sum64()

	v := make([]float32, dimensions)
	var sum float64
	for i := range v {
		// xorshift64
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		v[i] = float32(int64(state%2000)-1000) / 1000
		sum += float64(v[i]) * float64(v[i])
	}

	norm := math.Sqrt(sum)
	if norm == 0 {
		v[0] = 1
		return v, nil
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v, nil
}
