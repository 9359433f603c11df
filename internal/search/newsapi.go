package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const newsAPIBaseURL = "https://newsapi.org/v2/everything"

// NewsAPIClient searches articles through NewsAPI.
type NewsAPIClient struct {
	BaseURL string
	apiKey  string
	client  *http.Client
}

var _ Searcher = (*NewsAPIClient)(nil)

// NewNewsAPIClient creates a new NewsAPI client.
func NewNewsAPIClient(apiKeyEnv string) *NewsAPIClient {
	return &NewsAPIClient{
		BaseURL: newsAPIBaseURL,
		apiKey:  os.Getenv(apiKeyEnv),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// IsConfigured returns whether the API key is available.
func (c *NewsAPIClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Search queries /v2/everything, restricting to q.Domains via the domains filter.
func (c *NewsAPIClient) Search(ctx context.Context, q Query) ([]Result, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	pageSize := q.MaxResults
	if pageSize <= 0 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}

	params := url.Values{
		"q":        {q.Text},
		"pageSize": {strconv.Itoa(pageSize)},
		"sortBy":   {"relevancy"},
	}
	if len(q.Domains) > 0 {
		params.Set("domains", strings.Join(q.Domains, ","))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("NewsAPI error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("NewsAPI HTTP error: %d", resp.StatusCode)
	}

	var result struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Articles []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Content     string `json:"content"`
			Description string `json:"description"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("NewsAPI decode error: %w", err)
	}
	if result.Status != "ok" {
		return nil, fmt.Errorf("NewsAPI status %s: %s", result.Status, result.Message)
	}

	var results []Result
	for _, a := range result.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		if a.Title == "[Removed]" || a.URL == "https://removed.com" {
			continue
		}

		// Description is the cleaner snippet; content is truncated with a "[+N chars]" suffix.
		summary := a.Description
		if strings.TrimSpace(summary) == "" {
			summary = a.Content
		}
		results = append(results, NewResult(a.Title, a.URL, summary))
	}
	return results, nil
}
