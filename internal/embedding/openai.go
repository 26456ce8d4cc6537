package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// DefaultOpenAIModel is used when no embedding model is configured.
const DefaultOpenAIModel = openai.EmbeddingModelTextEmbeddingAda002

// OpenAIConfig configures the OpenAI embedder. APIURL targets OpenAI-compatible servers.
type OpenAIConfig struct {
	APIKey     string
	APIURL     string
	Model      string
	Dimensions int
}

// OpenAIEmbedder calls the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client openai.Client
	config OpenAIConfig
}

// NewOpenAIEmbedder creates an embedder for the OpenAI embeddings API.
func NewOpenAIEmbedder(config OpenAIConfig, httpClient *http.Client) (*OpenAIEmbedder, error) {
	if config.APIKey == "" && config.APIURL == "" {
		return nil, fmt.Errorf("openai embedder requires an api key")
	}
	if config.Model == "" {
		config.Model = DefaultOpenAIModel
		if config.Dimensions == 0 {
			config.Dimensions = 1536
		}
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(httpClient),
		// Retries are handled by RetryEmbedder.
		option.WithMaxRetries(0),
	}
	if config.APIURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(config.APIURL, "/")+"/"))
	}

	return &OpenAIEmbedder{
		client: openai.NewClient(opts...),
		config: config,
	}, nil
}

func (e *OpenAIEmbedder) params(input openai.EmbeddingNewParamsInputUnion) openai.EmbeddingNewParams {
	params := openai.EmbeddingNewParams{
		Input: input,
		Model: e.config.Model,
	}
	// Only set dimensions if it's explicitly configured (> 0); older models reject it.
	if e.config.Dimensions > 0 && e.config.Model != openai.EmbeddingModelTextEmbeddingAda002 {
		params.Dimensions = openai.Int(int64(e.config.Dimensions))
	}
	return params
}

// Embed returns the embedding for text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, e.params(openai.EmbeddingNewParamsInputUnion{
		OfString: openai.String(text),
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding data returned")
	}
	return toFloat32(resp.Data[0].Embedding), nil
}

// EmbedBatch embeds all texts in a single API call.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	resp, err := e.client.Embeddings.New(ctx, e.params(openai.EmbeddingNewParamsInputUnion{
		OfArrayOfStrings: texts,
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings batch: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}
	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || int(data.Index) >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", data.Index)
		}
		embeddings[data.Index] = toFloat32(data.Embedding)
	}
	return embeddings, nil
}

// Dimensions returns the configured dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// Close is a no-op for OpenAIEmbedder.
func (e *OpenAIEmbedder) Close() error {
	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
