package llm

import (
	"context"
	"encoding/json"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/hashicorp/go-hclog"
)

// BedrockClient implements EmbeddingsGenerator using AWS Bedrock Titan
// embedding models (amazon.titan-embed-text-v2:0).
type BedrockClient struct {
	client *bedrockruntime.Client
	logger hclog.Logger
}

// BedrockConfig holds configuration for the Bedrock client.
type BedrockConfig struct {
	Region string // AWS region (default: us-east-1)
	Logger hclog.Logger
}

// NewBedrockClient creates a new Bedrock embeddings client using the
// default AWS credential chain.
func NewBedrockClient(ctx context.Context, config BedrockConfig) (*BedrockClient, error) {
	if config.Region == "" {
		config.Region = "us-east-1"
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(config.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &BedrockClient{
		client: bedrockruntime.NewFromConfig(awsCfg),
		logger: config.Logger.Named("bedrock-embeddings"),
	}, nil
}

type titanEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
	Normalize  bool   `json:"normalize"`
}

type titanEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// GenerateEmbeddings generates an embedding via Bedrock InvokeModel.
func (c *BedrockClient) GenerateEmbeddings(ctx context.Context, text string, model string, dimensions int) ([]float32, error) {
	body, err := json.Marshal(titanEmbedRequest{
		InputText:  text,
		Dimensions: dimensions,
		Normalize:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	contentType := "application/json"
	out, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &model,
		ContentType: &contentType,
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock invoke failed: %w", err)
	}

	var parsed titanEmbedResponse
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding in response")
	}

	c.logger.Debug("generated bedrock embedding",
		"model", model,
		"dimensions", len(parsed.Embedding),
	)

	return parsed.Embedding, nil
}
