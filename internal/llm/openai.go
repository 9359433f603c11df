package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, DeepSeek, local gateways).
type OpenAIProvider struct {
	Model   string
	BaseURL string
	APIKey  string
	client  openai.Client
}

// NewOpenAIProvider creates a new OpenAI-compatible provider. Retries are
// disabled in the client; callers own the retry policy.
func NewOpenAIProvider(model, baseURL, apiKeyEnv string) *OpenAIProvider {
	apiKey := os.Getenv(apiKeyEnv)
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		Model:   model,
		BaseURL: baseURL,
		APIKey:  apiKey,
		client:  openai.NewClient(opts...),
	}
}

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.APIKey != ""
}

// Generate sends a prompt as a single user message and returns the reply.
func (o *OpenAIProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if o.APIKey == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(stripProviderPrefix(o.Model)),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(0.3),
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no choices in OpenAI response")
	}

	return completion.Choices[0].Message.Content, nil
}

// stripProviderPrefix turns "openai/deepseek-chat" into "deepseek-chat".
func stripProviderPrefix(model string) string {
	model = strings.TrimSpace(model)
	if i := strings.Index(model, "/"); i >= 0 {
		return model[i+1:]
	}
	return model
}
