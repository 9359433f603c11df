package search

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttled wraps a Searcher and/or Extractor with a shared token bucket so
// provider quotas are respected across concurrent requests.
type Throttled struct {
	searcher  Searcher
	extractor Extractor
	limiter   *rate.Limiter
}

// NewThrottled limits calls to perSecond. A non-positive rate disables limiting.
func NewThrottled(s Searcher, e Extractor, perSecond float64) *Throttled {
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = max(1, int(perSecond))
	}
	return &Throttled{searcher: s, extractor: e, limiter: rate.NewLimiter(limit, burst)}
}

// Search waits for a token, then searches.
func (t *Throttled) Search(ctx context.Context, q Query) ([]Result, error) {
	if t.searcher == nil {
		return nil, ErrNotConfigured
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.searcher.Search(ctx, q)
}

// Extract waits for a token, then extracts.
func (t *Throttled) Extract(ctx context.Context, rawURL string) (string, error) {
	if t.extractor == nil {
		return "", ErrNotConfigured
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return t.extractor.Extract(ctx, rawURL)
}
