package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// GeneratorFactory creates embedding backends based on model name.
type GeneratorFactory struct {
	openaiAPIKey  string
	openaiBaseURL string
	bedrockRegion string
	logger        hclog.Logger
}

// GeneratorFactoryConfig holds configuration for the factory.
type GeneratorFactoryConfig struct {
	OpenAIAPIKey  string // OpenAI API key (optional for local servers)
	OpenAIBaseURL string // OpenAI-compatible base URL; point at Ollama for local models
	BedrockRegion string // AWS Bedrock region
	Logger        hclog.Logger
}

// NewGeneratorFactory creates a new embeddings backend factory.
func NewGeneratorFactory(config GeneratorFactoryConfig) *GeneratorFactory {
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	return &GeneratorFactory{
		openaiAPIKey:  config.OpenAIAPIKey,
		openaiBaseURL: config.OpenAIBaseURL,
		bedrockRegion: config.BedrockRegion,
		logger:        config.Logger.Named("embeddings-factory"),
	}
}

// GetGenerator returns an embeddings backend for the model name:
// "amazon.titan-*" → Bedrock, everything else → OpenAI-compatible HTTP
// (which covers OpenAI and Ollama models alike).
func (f *GeneratorFactory) GetGenerator(ctx context.Context, model string) (EmbeddingsGenerator, error) {
	modelLower := strings.ToLower(model)

	f.logger.Debug("selecting embeddings backend", "model", model)

	if strings.HasPrefix(modelLower, "amazon.titan") || strings.Contains(modelLower, "bedrock") {
		return NewBedrockClient(ctx, BedrockConfig{
			Region: f.bedrockRegion,
			Logger: f.logger,
		})
	}

	if model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}

	return NewOpenAIClient(OpenAIConfig{
		BaseURL: f.openaiBaseURL,
		APIKey:  f.openaiAPIKey,
		Logger:  f.logger,
	})
}
