// Package vision derives searchable text from images: OCR text via an
// external OCR collaborator and a free-form caption plus labels via a
// vision captioning collaborator. Both collaborators are optional; a
// missing one degrades to empty output rather than failing ingestion.
package vision

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/quarrylabs/quarry/pkg/llm"
	"github.com/quarrylabs/quarry/pkg/textnorm"
)

// OCRClient extracts raw text from image bytes.
type OCRClient interface {
	ExtractText(ctx context.Context, image []byte, mimeType string) (string, error)
}

// Captioner produces a short free-form caption and a label list for image
// bytes.
type Captioner interface {
	Caption(ctx context.Context, image []byte, mimeType string) (caption string, labels []string, err error)
}

// ImageResult is the searchable bundle derived from one image.
type ImageResult struct {
	OCRText           string
	OCRTextNormalized string
	Caption           string
	CaptionNormalized string
	ImageLabels       []string
	CaptionEmbedding  []float32
	SearchableText    string

	// EmbeddingMissing is set when the caption exists but its embedding
	// could not be computed; the chunk needs backfill.
	EmbeddingMissing bool
}

// Processor runs OCR, captioning, normalization, and caption embedding for
// image parts.
type Processor struct {
	ocr        OCRClient
	captioner  Captioner
	embeddings *llm.EmbeddingClient

	ocrDeadline     time.Duration
	captionDeadline time.Duration
	logger          hclog.Logger
}

// ProcessorConfig holds configuration for the image processor. OCR,
// Captioner, and Embeddings are all optional; absent collaborators degrade
// the corresponding outputs to empty.
type ProcessorConfig struct {
	OCR             OCRClient
	Captioner       Captioner
	Embeddings      *llm.EmbeddingClient
	OCRDeadline     time.Duration // default 10s
	CaptionDeadline time.Duration // default 10s
	Logger          hclog.Logger
}

// NewProcessor creates a new image processor.
func NewProcessor(config ProcessorConfig) *Processor {
	if config.OCRDeadline <= 0 {
		config.OCRDeadline = 10 * time.Second
	}
	if config.CaptionDeadline <= 0 {
		config.CaptionDeadline = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	return &Processor{
		ocr:             config.OCR,
		captioner:       config.Captioner,
		embeddings:      config.Embeddings,
		ocrDeadline:     config.OCRDeadline,
		captionDeadline: config.CaptionDeadline,
		logger:          config.Logger.Named("image-processor"),
	}
}

// Process derives the searchable bundle for one image. Collaborator
// failures are logged and degrade the affected fields; Process itself
// fails only on context cancellation.
func (p *Processor) Process(ctx context.Context, image []byte, mimeType string) (*ImageResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &ImageResult{}

	if p.ocr != nil {
		ocrCtx, cancel := context.WithTimeout(ctx, p.ocrDeadline)
		text, err := p.ocr.ExtractText(ocrCtx, image, mimeType)
		cancel()
		if err != nil {
			p.logger.Warn("ocr failed, continuing without ocr text", "error", err)
		} else {
			result.OCRText = text
			result.OCRTextNormalized = textnorm.Normalize(text, true)
		}
	}

	if p.captioner != nil {
		capCtx, cancel := context.WithTimeout(ctx, p.captionDeadline)
		caption, labels, err := p.captioner.Caption(capCtx, image, mimeType)
		cancel()
		if err != nil {
			p.logger.Warn("captioning failed, continuing without caption", "error", err)
		} else {
			result.Caption = caption
			result.CaptionNormalized = textnorm.Normalize(caption, true)
			result.ImageLabels = labels
		}
	}

	if result.CaptionNormalized != "" && p.embeddings != nil {
		vec, err := p.embeddings.EmbedCaption(ctx, result.CaptionNormalized)
		if err != nil {
			if errors.Is(err, llm.ErrEmbeddingUnavailable) || errors.Is(err, llm.ErrTimeout) {
				p.logger.Warn("caption embedding unavailable, flagging for backfill", "error", err)
				result.EmbeddingMissing = true
			} else {
				return nil, &Error{Op: "Process", Err: err, Msg: "caption embedding"}
			}
		} else {
			result.CaptionEmbedding = vec
		}
	}

	labelText := ""
	for _, l := range result.ImageLabels {
		labelText += " " + l
	}
	result.SearchableText = textnorm.CreateSearchableText(
		result.OCRText, result.Caption, labelText)

	return result, nil
}
