package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// minReadableChars is the shortest extraction accepted as real article text.
const minReadableChars = 100

// ReadabilityExtractor fetches a page over HTTP and extracts its main text.
type ReadabilityExtractor struct {
	client *http.Client
}

var _ Extractor = (*ReadabilityExtractor)(nil)

// NewReadabilityExtractor creates a new extractor.
func NewReadabilityExtractor(timeout time.Duration) *ReadabilityExtractor {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &ReadabilityExtractor{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Extract returns the readable text of rawURL. Pages yielding too little text
// are reported as errors.
func (f *ReadabilityExtractor) Extract(ctx context.Context, rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "hotnote/1.0 (content research)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}

	article, err := readability.FromReader(strings.NewReader(string(bodyBytes)), parsedURL)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if len([]rune(text)) < minReadableChars {
		return "", fmt.Errorf("no extractable content from %s", rawURL)
	}
	return text, nil
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, http.StatusText(e.code))
}
