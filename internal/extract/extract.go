// Package extract replaces search snippets with full page text for a small
// number of whitelisted result URLs.
package extract

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/hotnote/internal/logging"
	"github.com/TobiSchelling/hotnote/internal/metrics"
	"github.com/TobiSchelling/hotnote/internal/search"
)

// Outcome lists which candidate URLs were extracted and which failed, both in
// candidate order.
type Outcome struct {
	ExtractedURLs []string
	FailedURLs    []string
}

// Enhancer substitutes extracted page text into result summaries.
type Enhancer struct {
	extractor search.Extractor
	enabled   bool
	maxURLs   int
	timeout   time.Duration
	logger    *zap.Logger
}

// NewEnhancer creates an enhancer. A zero timeout means no per-call limit.
func NewEnhancer(e search.Extractor, enabled bool, maxURLs int, timeout time.Duration, logger *zap.Logger) *Enhancer {
	return &Enhancer{
		extractor: e,
		enabled:   enabled,
		maxURLs:   maxURLs,
		timeout:   timeout,
		logger:    logging.OrNop(logger),
	}
}

// Candidates returns the distinct URLs, in result order, whose source domain
// is one of allowed or a subdomain of it, capped at the configured maximum.
func (e *Enhancer) Candidates(results []search.Result, allowed []string) []string {
	if len(allowed) == 0 || e.maxURLs <= 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var urls []string
	for _, r := range results {
		u := strings.TrimSpace(r.URL)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		if !search.MatchesAny(search.SourceDomain(u), allowed) {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
		if len(urls) >= e.maxURLs {
			break
		}
	}
	return urls
}

// Enhance fetches every candidate concurrently and returns a copy of results
// with successfully extracted summaries substituted. Count and order are
// preserved; a failed or empty extraction keeps the original snippet.
func (e *Enhancer) Enhance(ctx context.Context, results []search.Result, allowed []string) ([]search.Result, Outcome) {
	out := append([]search.Result(nil), results...)
	outcome := Outcome{ExtractedURLs: []string{}, FailedURLs: []string{}}

	if !e.enabled || e.extractor == nil {
		e.logger.Info("extract.skipped", zap.String("reason", "disabled"))
		return out, outcome
	}

	candidates := e.Candidates(results, allowed)
	e.logger.Info("extract.candidates",
		zap.Int("total_results", len(results)),
		zap.Int("candidate_urls", len(candidates)),
		zap.Strings("allowed_domains", allowed),
	)
	if len(candidates) == 0 {
		e.logger.Info("extract.skipped", zap.String("reason", "no_candidates"))
		return out, outcome
	}

	texts := make([]string, len(candidates))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(len(candidates))
	for i, u := range candidates {
		g.Go(func() error {
			callCtx := gCtx
			if e.timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(gCtx, e.timeout)
				defer cancel()
			}
			text, err := e.extractor.Extract(callCtx, u)
			if err != nil {
				e.logger.Warn("extract.failed", zap.String("url", u), zap.Error(err))
				return nil
			}
			texts[i] = strings.TrimSpace(text)
			return nil
		})
	}
	_ = g.Wait()

	contents := make(map[string]string, len(candidates))
	for i, u := range candidates {
		if texts[i] == "" {
			outcome.FailedURLs = append(outcome.FailedURLs, u)
			metrics.ExtractOutcomes.WithLabelValues("failed").Inc()
			continue
		}
		contents[u] = texts[i]
		outcome.ExtractedURLs = append(outcome.ExtractedURLs, u)
		metrics.ExtractOutcomes.WithLabelValues("extracted").Inc()
	}

	for i := range out {
		if text, ok := contents[strings.TrimSpace(out[i].URL)]; ok {
			out[i].Summary = text
		}
	}

	e.logger.Info("extract.applied",
		zap.Int("success", len(outcome.ExtractedURLs)),
		zap.Int("failed", len(outcome.FailedURLs)),
	)
	return out, outcome
}
