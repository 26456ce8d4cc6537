package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	anthropicSDK "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicGenerator calls the Anthropic messages API.
type AnthropicGenerator struct {
	client anthropicSDK.Client
	config ProviderConfig
}

// NewAnthropicGenerator creates a generator for the Anthropic messages API.
func NewAnthropicGenerator(config ProviderConfig, httpClient *http.Client) (*AnthropicGenerator, error) {
	if config.APIKey == "" && config.APIURL == "" {
		return nil, errors.New("anthropic generator requires an api key")
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
	return &AnthropicGenerator{client: anthropicSDK.NewClient(opts...), config: config}, nil
}

// Name returns the provider name.
func (g *AnthropicGenerator) Name() string { return "anthropic" }

// Generate sends prompt as a single user turn and joins the returned text blocks.
func (g *AnthropicGenerator) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	model, maxTokens := g.config.resolve(opts, DefaultAnthropicModel)
	msg, err := g.client.Messages.New(ctx, anthropicSDK.MessageNewParams{
		Model:     anthropicSDK.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropicSDK.MessageParam{
			anthropicSDK.NewUserMessage(anthropicSDK.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("message request failed: %w", err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("no text content returned")
	}
	return sb.String(), nil
}
