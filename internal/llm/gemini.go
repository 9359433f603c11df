package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiProvider is a Google Gemini provider.
type GeminiProvider struct {
	Model  string
	APIKey string
	client *genai.Client
}

// NewGeminiProvider creates a Gemini provider. The client is only created
// when an API key is present.
func NewGeminiProvider(ctx context.Context, model, apiKeyEnv string) (*GeminiProvider, error) {
	p := &GeminiProvider{Model: model, APIKey: os.Getenv(apiKeyEnv)}
	if p.APIKey == "" {
		return p, nil
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(p.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	p.client = client
	return p, nil
}

// IsConfigured checks if the API key is set and the client exists.
func (g *GeminiProvider) IsConfigured() bool {
	return g.APIKey != "" && g.client != nil
}

// Generate sends a prompt to Gemini and concatenates the text parts of the
// first candidate.
func (g *GeminiProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if !g.IsConfigured() {
		return "", fmt.Errorf("Gemini API key not configured")
	}

	model := g.client.GenerativeModel(g.Model)
	if maxTokens > 0 {
		model.SetMaxOutputTokens(int32(maxTokens))
	}
	model.SetTemperature(0.3)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no candidates in Gemini response")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String(), nil
}

// Close releases the underlying client.
func (g *GeminiProvider) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
