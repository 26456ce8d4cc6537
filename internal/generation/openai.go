package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
)

// DefaultOpenAIModel is used when no chat model is configured.
const DefaultOpenAIModel = string(shared.ChatModelGPT4oMini)

// OpenAIGenerator calls the OpenAI chat completions API.
type OpenAIGenerator struct {
	client openai.Client
	config ProviderConfig
}

// NewOpenAIGenerator creates a generator for the OpenAI chat completions API.
func NewOpenAIGenerator(config ProviderConfig, httpClient *http.Client) (*OpenAIGenerator, error) {
	if config.APIKey == "" && config.APIURL == "" {
		return nil, errors.New("openai generator requires an api key")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if config.APIURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(config.APIURL, "/")+"/"))
	}
	return &OpenAIGenerator{client: openai.NewClient(opts...), config: config}, nil
}

// Name returns the provider name.
func (g *OpenAIGenerator) Name() string { return "openai" }

// Generate sends prompt as a single user message and returns the first choice.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	model, maxTokens := g.config.resolve(opts, DefaultOpenAIModel)
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(model),
		Messages:            []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		MaxCompletionTokens: openai.Int(maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
