// Package llm provides embedding generation behind a provider-agnostic
// interface: OpenAI-compatible HTTP endpoints (including local Ollama)
// and AWS Bedrock Titan models, plus a deterministic mock for tests.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// EmbeddingsGenerator is the raw provider contract.
type EmbeddingsGenerator interface {
	GenerateEmbeddings(ctx context.Context, text string, model string, dimensions int) ([]float32, error)
}

const (
	defaultMaxChars   = 8000
	defaultDeadline   = 2 * time.Second
	defaultMaxRetries = 2
)

// EmbeddingClientConfig configures an EmbeddingClient. CaptionModel and
// CaptionDims default to the text settings when unset.
type EmbeddingClientConfig struct {
	Generator EmbeddingsGenerator

	TextModel string
	TextDims  int

	CaptionModel string
	CaptionDims  int

	// MaxChars truncates input before embedding; capped at 8000.
	MaxChars int

	// Deadline bounds each provider attempt.
	Deadline time.Duration

	// MaxRetries bounds transient-failure retries per call.
	MaxRetries int
}

// EmbeddingClient wraps a generator with truncation, deadlines, retries,
// dimension validation, and unit-norm output.
type EmbeddingClient struct {
	generator EmbeddingsGenerator

	textModel string
	textDims  int

	captionModel string
	captionDims  int

	maxChars   int
	deadline   time.Duration
	maxRetries int
}

// NewEmbeddingClient validates the configuration and applies defaults.
func NewEmbeddingClient(cfg EmbeddingClientConfig) (*EmbeddingClient, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("embeddings generator is required")
	}
	if cfg.TextModel == "" {
		return nil, fmt.Errorf("text model is required")
	}
	if cfg.TextDims <= 0 {
		return nil, fmt.Errorf("text dimensions must be positive, got %d", cfg.TextDims)
	}

	captionModel := cfg.CaptionModel
	if captionModel == "" {
		captionModel = cfg.TextModel
	}
	captionDims := cfg.CaptionDims
	if captionDims == 0 {
		captionDims = cfg.TextDims
	}

	maxChars := cfg.MaxChars
	if maxChars <= 0 || maxChars > defaultMaxChars {
		maxChars = defaultMaxChars
	}
	deadline := cfg.Deadline
	if deadline == 0 {
		deadline = defaultDeadline
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}

	return &EmbeddingClient{
		generator:    cfg.Generator,
		textModel:    cfg.TextModel,
		textDims:     cfg.TextDims,
		captionModel: captionModel,
		captionDims:  captionDims,
		maxChars:     maxChars,
		deadline:     deadline,
		maxRetries:   maxRetries,
	}, nil
}

// TextDimensions returns D_t.
func (c *EmbeddingClient) TextDimensions() int {
	return c.textDims
}

// CaptionDimensions returns D_c.
func (c *EmbeddingClient) CaptionDimensions() int {
	return c.captionDims
}

// Embed produces a unit-norm text vector.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, "Embed", text, c.textModel, c.textDims)
}

// EmbedCaption produces a unit-norm caption vector.
func (c *EmbeddingClient) EmbedCaption(ctx context.Context, caption string) ([]float32, error) {
	return c.embed(ctx, "EmbedCaption", caption, c.captionModel, c.captionDims)
}

func (c *EmbeddingClient) embed(ctx context.Context, op, text, model string, dims int) ([]float32, error) {
	if text == "" {
		return nil, &Error{Op: op, Err: ErrEmbeddingUnavailable, Msg: "empty input"}
	}
	if len(text) > c.maxChars {
		text = text[:c.maxChars]
	}

	var vector []float32
	attempt := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.deadline)
		defer cancel()

		v, err := c.generator.GenerateEmbeddings(attemptCtx, text, model, dims)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(&Error{Op: op, Err: ErrTimeout})
			}
			return err
		}
		if len(v) != dims {
			return backoff.Permanent(&Error{
				Op:  op,
				Err: ErrEmbeddingUnavailable,
				Msg: fmt.Sprintf("expected %d dimensions, got %d", dims, len(v)),
			})
		}
		vector = v
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries))
	if err := backoff.Retry(attempt, backoff.WithContext(policy, ctx)); err != nil {
		var typed *Error
		if errors.As(err, &typed) {
			return nil, err
		}
		return nil, &Error{Op: op, Err: ErrEmbeddingUnavailable, Msg: err.Error()}
	}

	return normalizeVector(vector), nil
}

// normalizeVector scales to unit L2 norm. Zero vectors pass through
// untouched.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
