package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/hotnote/internal/config"
	"github.com/TobiSchelling/hotnote/internal/logging"
)

// ErrNoProvider is returned when no completion provider is usable.
var ErrNoProvider = errors.New("no LLM provider available")

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	IsConfigured() bool
}

// CreateProvider creates an LLM provider based on configuration. A provider
// that is not usable falls back to the OpenAI-compatible endpoint.
func CreateProvider(ctx context.Context, cfg config.LLM, logger *zap.Logger) (Provider, error) {
	logger = logging.OrNop(logger)

	switch strings.ToLower(cfg.Provider) {
	case "ollama":
		p := NewOllamaProvider(cfg.OllamaModel, cfg.OllamaURL)
		if p.IsConfigured() {
			logger.Info("llm.provider", zap.String("provider", "ollama"), zap.String("model", cfg.OllamaModel))
			return p, nil
		}
		logger.Warn("llm.fallback", zap.String("from", "ollama"), zap.String("reason", "unreachable"))
	case "gemini":
		p, err := NewGeminiProvider(ctx, cfg.GeminiModel, cfg.GeminiKeyEnv)
		if err == nil && p.IsConfigured() {
			logger.Info("llm.provider", zap.String("provider", "gemini"), zap.String("model", cfg.GeminiModel))
			return p, nil
		}
		logger.Warn("llm.fallback", zap.String("from", "gemini"), zap.String("reason", "not_configured"), zap.Error(err))
	}

	p := NewOpenAIProvider(cfg.Model, cfg.BaseURL, cfg.APIKeyEnv)
	if p.IsConfigured() {
		logger.Info("llm.provider", zap.String("provider", "openai"), zap.String("model", cfg.Model), zap.String("base_url", cfg.BaseURL))
		return p, nil
	}

	return nil, fmt.Errorf("%w: check Ollama is running or set %s", ErrNoProvider, cfg.APIKeyEnv)
}

// LoggedProvider records a compact preview of every request and response.
type LoggedProvider struct {
	Provider
	Name         string
	PreviewChars int
	logger       *zap.Logger
}

// WithLogging wraps p so each call emits llm.request / llm.response / llm.error.
func WithLogging(p Provider, name string, logger *zap.Logger) *LoggedProvider {
	return &LoggedProvider{Provider: p, Name: name, PreviewChars: 160, logger: logging.OrNop(logger)}
}

// Generate forwards to the wrapped provider.
func (l *LoggedProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	l.logger.Debug("llm.request",
		zap.String("name", l.Name),
		zap.Int("chars", len([]rune(prompt))),
		zap.String("preview", logging.Clip(prompt, l.PreviewChars)),
	)
	start := time.Now()
	text, err := l.Provider.Generate(ctx, prompt, maxTokens)
	if err != nil {
		l.logger.Warn("llm.error",
			zap.String("name", l.Name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return "", err
	}
	l.logger.Debug("llm.response",
		zap.String("name", l.Name),
		zap.Int("chars", len([]rune(text))),
		zap.Duration("elapsed", time.Since(start)),
		zap.String("preview", logging.Clip(text, l.PreviewChars)),
	)
	return text, nil
}
