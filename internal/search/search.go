// Package search holds the search and extract capabilities used by retrieval,
// together with their concrete providers.
package search

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/hotnote/internal/config"
)

// ErrNotConfigured is returned by providers that lack credentials.
var ErrNotConfigured = errors.New("search provider not configured")

// Result is one search hit.
type Result struct {
	Title        string `json:"title"`
	URL          string `json:"url"`
	Summary      string `json:"summary"`
	SourceDomain string `json:"source_domain"`
}

// NewResult builds a Result and derives its source domain from the URL.
func NewResult(title, rawURL, summary string) Result {
	return Result{
		Title:        strings.TrimSpace(title),
		URL:          strings.TrimSpace(rawURL),
		Summary:      strings.TrimSpace(summary),
		SourceDomain: SourceDomain(rawURL),
	}
}

// Query is a single search request. Empty Domains means unrestricted.
type Query struct {
	Text       string
	Domains    []string
	Depth      string
	MaxResults int
}

// Searcher runs one query.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, error)
}

// Extractor fetches the full text of one page.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) (string, error)
}

// SourceDomain returns the lower-cased host of rawURL without a leading "www.".
func SourceDomain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// MatchesDomain reports whether host equals domain or is a subdomain of it.
func MatchesDomain(host, domain string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// MatchesAny reports whether host matches one of domains.
func MatchesAny(host string, domains []string) bool {
	for _, d := range domains {
		if MatchesDomain(host, d) {
			return true
		}
	}
	return false
}

// NewSearcher builds the configured search provider, rate limited.
func NewSearcher(cfg config.Search, logger *zap.Logger) (Searcher, error) {
	var s Searcher
	switch strings.ToLower(cfg.Provider) {
	case "", "tavily":
		s = NewTavilyClient(cfg.BaseURL, cfg.APIKeyEnv, logger)
	case "newsapi":
		s = NewNewsAPIClient(cfg.NewsAPIKeyEnv)
	case "feed":
		feeds := make([]FeedConfig, len(cfg.Feeds))
		for i, f := range cfg.Feeds {
			feeds[i] = FeedConfig{URL: f.URL, Name: f.Name}
		}
		s = NewFeedSearcher(feeds, logger)
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.Provider)
	}
	return NewThrottled(s, nil, cfg.RatePerSecond), nil
}

// NewExtractor builds the configured extract provider, rate limited.
func NewExtractor(cfg config.Config, logger *zap.Logger) (Extractor, error) {
	var e Extractor
	switch strings.ToLower(cfg.Extract.Provider) {
	case "", "tavily":
		e = NewTavilyClient(cfg.Search.BaseURL, cfg.Search.APIKeyEnv, logger)
	case "readability":
		e = NewReadabilityExtractor(cfg.Extract.Timeout())
	default:
		return nil, fmt.Errorf("unknown extract provider %q", cfg.Extract.Provider)
	}
	return NewThrottled(nil, e, cfg.Search.RatePerSecond), nil
}
