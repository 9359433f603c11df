package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/hotnote/internal/logging"
)

const defaultTavilyBaseURL = "https://api.tavily.com"

// TavilyClient searches and extracts through the Tavily REST API.
type TavilyClient struct {
	BaseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

var (
	_ Searcher  = (*TavilyClient)(nil)
	_ Extractor = (*TavilyClient)(nil)
)

// NewTavilyClient creates a Tavily client reading its key from apiKeyEnv.
func NewTavilyClient(baseURL, apiKeyEnv string, logger *zap.Logger) *TavilyClient {
	if baseURL == "" {
		baseURL = defaultTavilyBaseURL
	}
	return &TavilyClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  os.Getenv(apiKeyEnv),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logging.OrNop(logger),
	}
}

// IsConfigured returns whether the API key is available.
func (c *TavilyClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Search runs a Tavily search restricted to q.Domains when non-empty.
func (c *TavilyClient) Search(ctx context.Context, q Query) ([]Result, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	body := map[string]any{
		"query": q.Text,
	}
	if q.Depth != "" {
		body["search_depth"] = q.Depth
	}
	if q.MaxResults > 0 {
		body["max_results"] = q.MaxResults
	}
	if len(q.Domains) > 0 {
		body["include_domains"] = q.Domains
	}

	c.logger.Info("tavily.request",
		zap.String("query", logging.Clip(q.Text, 80)),
		zap.String("depth", q.Depth),
		zap.Int("max_results", q.MaxResults),
		zap.Strings("domains", q.Domains),
	)

	var result struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := c.post(ctx, "/search", body, &result); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(result.Results))
	for _, r := range result.Results {
		results = append(results, NewResult(r.Title, r.URL, r.Content))
	}

	titles := make([]string, 0, 3)
	for _, r := range results[:min(3, len(results))] {
		titles = append(titles, logging.Clip(r.Title, 60))
	}
	c.logger.Info("tavily.response", zap.Int("results", len(results)), zap.Strings("top_titles", titles))
	return results, nil
}

// Extract fetches the raw page content for one URL.
func (c *TavilyClient) Extract(ctx context.Context, rawURL string) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	var result struct {
		Results []struct {
			URL        string `json:"url"`
			RawContent string `json:"raw_content"`
		} `json:"results"`
		FailedResults []struct {
			URL   string `json:"url"`
			Error string `json:"error"`
		} `json:"failed_results"`
	}
	if err := c.post(ctx, "/extract", map[string]any{"urls": []string{rawURL}}, &result); err != nil {
		return "", err
	}

	for _, r := range result.Results {
		if r.URL == rawURL || len(result.Results) == 1 {
			return strings.TrimSpace(r.RawContent), nil
		}
	}
	if len(result.FailedResults) > 0 {
		return "", fmt.Errorf("tavily extract failed for %s: %s", rawURL, result.FailedResults[0].Error)
	}
	return "", fmt.Errorf("tavily extract returned no content for %s", rawURL)
}

func (c *TavilyClient) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("tavily API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("tavily API returned %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
