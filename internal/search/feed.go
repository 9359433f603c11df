package search

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/TobiSchelling/hotnote/internal/logging"
)

const maxPerFeed = 50

// FeedConfig represents a single feed configuration.
type FeedConfig struct {
	URL  string
	Name string
}

// FeedSearcher answers queries from a fixed set of RSS/Atom feeds. Items match
// when their title or text contains any term of the query.
type FeedSearcher struct {
	feeds  []FeedConfig
	parser *gofeed.Parser
	logger *zap.Logger
}

var _ Searcher = (*FeedSearcher)(nil)

// NewFeedSearcher creates a new FeedSearcher.
func NewFeedSearcher(feeds []FeedConfig, logger *zap.Logger) *FeedSearcher {
	return &FeedSearcher{feeds: feeds, parser: gofeed.NewParser(), logger: logging.OrNop(logger)}
}

// Search parses every feed and returns matching items. A feed that fails to
// parse is skipped; the call only fails when every feed failed.
func (fs *FeedSearcher) Search(ctx context.Context, q Query) ([]Result, error) {
	terms := queryTerms(q.Text)
	var (
		results []Result
		lastErr error
		parsed  int
	)

	for _, fc := range fs.feeds {
		name := fc.Name
		if name == "" {
			name = extractSourceName(fc.URL)
		}

		feed, err := fs.parser.ParseURLWithContext(fc.URL, ctx)
		if err != nil {
			fs.logger.Warn("feed.parse_failed", zap.String("feed", name), zap.Error(err))
			lastErr = err
			continue
		}
		parsed++

		for i, item := range feed.Items {
			if i >= maxPerFeed {
				break
			}
			r, ok := parseItem(item)
			if !ok {
				continue
			}
			if len(q.Domains) > 0 && !MatchesAny(r.SourceDomain, q.Domains) {
				continue
			}
			if !matchesTerms(r.Title+" "+r.Summary, terms) {
				continue
			}
			results = append(results, r)
			if q.MaxResults > 0 && len(results) >= q.MaxResults {
				return results, nil
			}
		}
	}

	if parsed == 0 && lastErr != nil {
		return nil, lastErr
	}
	return results, nil
}

func parseItem(item *gofeed.Item) (Result, bool) {
	itemURL := item.Link
	if itemURL == "" {
		itemURL = item.GUID
	}
	if itemURL == "" {
		return Result{}, false
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		return Result{}, false
	}

	var content string
	if item.Description != "" {
		content = htmlToText(item.Description)
	} else if item.Content != "" {
		content = htmlToText(item.Content)
	}

	return NewResult(title, itemURL, content), true
}

// htmlToText flattens an HTML fragment to whitespace-normalized text.
func htmlToText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func queryTerms(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

func matchesTerms(text string, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	text = strings.ToLower(text)
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		name := parts[len(parts)-2]
		return strings.ToUpper(name[:1]) + name[1:]
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
