package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/TobiSchelling/hotnote/internal/config"
	"github.com/TobiSchelling/hotnote/internal/llm"
)

// ErrEmptyLabel is returned when the classifier reply carries no label.
var ErrEmptyLabel = errors.New("classifier returned no label")

const routerPrompt = `You are a topic router.
Choose one profile id from: %s.
Follow keyword routing hints first, then infer by intent.
%s
If unsure, choose %s.
Output only the profile id (or JSON {"profile": "<id>"}).
Topic: %s`

// Classifier maps text onto one of the given labels.
type Classifier interface {
	Classify(ctx context.Context, text string, labels []string) (string, error)
}

// LLMClassifier asks a completion provider to pick a profile id.
type LLMClassifier struct {
	provider  llm.Provider
	keywords  map[string][]string
	defaultID string
}

// NewLLMClassifier creates a classifier that uses the profiles' keyword
// hints in its prompt.
func NewLLMClassifier(provider llm.Provider, profiles map[string]config.Profile, defaultID string) *LLMClassifier {
	keywords := make(map[string][]string, len(profiles))
	for id, p := range profiles {
		if len(p.Keywords) > 0 {
			keywords[id] = p.Keywords
		}
	}
	return &LLMClassifier{provider: provider, keywords: keywords, defaultID: defaultID}
}

// Classify returns the label the provider chose. Validation against labels is
// left to the caller.
func (c *LLMClassifier) Classify(ctx context.Context, text string, labels []string) (string, error) {
	if c.provider == nil {
		return "", llm.ErrNoProvider
	}

	prompt := c.buildPrompt(text, labels)
	reply, err := c.provider.Generate(ctx, prompt, 16)
	if err != nil {
		return "", fmt.Errorf("classify topic: %w", err)
	}

	label := parseLabel(reply)
	if label == "" {
		return "", ErrEmptyLabel
	}
	return label, nil
}

func (c *LLMClassifier) buildPrompt(text string, labels []string) string {
	sorted := append([]string(nil), labels...)
	sort.Strings(sorted)

	var hints []string
	for _, id := range sorted {
		kw := c.keywords[id]
		if len(kw) == 0 {
			continue
		}
		hints = append(hints, fmt.Sprintf("%s keywords: %s -> choose %s.", id, strings.Join(kw, "/"), id))
	}

	return fmt.Sprintf(routerPrompt, strings.Join(sorted, ", "), strings.Join(hints, "\n"), c.defaultID, text)
}

// parseLabel accepts a bare label or a {"profile": "..."} object.
func parseLabel(reply string) string {
	if parsed := llm.ParseJSONResponse(reply); parsed != nil {
		if v, ok := parsed["profile"].(string); ok {
			return strings.ToLower(strings.TrimSpace(v))
		}
		return ""
	}

	text := strings.TrimSpace(llm.StripCodeFence(reply))
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	text = strings.Trim(text, "` \t\r")
	return strings.ToLower(text)
}
