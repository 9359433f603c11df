package retrieval

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/TobiSchelling/hotnote/internal/config"
	"github.com/TobiSchelling/hotnote/internal/search"
)

// Reason is the verdict of one quality evaluation.
type Reason string

const (
	ReasonNone                Reason = "none"
	ReasonInsufficientResults Reason = "insufficient_results"
	ReasonSummaryTooShort     Reason = "summary_too_short"
	ReasonTitleDuplication    Reason = "title_duplication"
)

// TitleMatch selects how duplicate titles are detected.
type TitleMatch string

const (
	TitleMatchExact TitleMatch = "exact"
	TitleMatchFuzzy TitleMatch = "fuzzy"
)

// Evaluation is the planner's verdict on one batch of results.
type Evaluation struct {
	Sufficient bool
	Reason     Reason
}

// Planner decides whether one batch of results is good enough to stop
// escalating. It holds no state between calls.
type Planner struct {
	MinResults         int
	MinAvgSummaryChars int
	MaxTitleDupRatio   float64
	TitleMatch         TitleMatch
	FuzzySimilarity    float64
}

// NewPlanner builds a planner from the fallback settings.
func NewPlanner(cfg config.Fallback) *Planner {
	return &Planner{
		MinResults:         cfg.MinResults,
		MinAvgSummaryChars: cfg.MinAvgSummaryChars,
		MaxTitleDupRatio:   cfg.MaxTitleDupRatio,
		TitleMatch:         TitleMatch(cfg.TitleMatch),
		FuzzySimilarity:    cfg.FuzzyTitleSimilarity,
	}
}

// Evaluate applies the gates in order: result count, mean summary length,
// then title duplication. The first failing gate names the reason.
func (p *Planner) Evaluate(results []search.Result) Evaluation {
	if len(results) < p.MinResults {
		return Evaluation{Reason: ReasonInsufficientResults}
	}
	if len(results) == 0 {
		return Evaluation{Sufficient: true, Reason: ReasonNone}
	}
	if averageSummaryChars(results) < float64(p.MinAvgSummaryChars) {
		return Evaluation{Reason: ReasonSummaryTooShort}
	}
	if p.duplicationRatio(results) > p.MaxTitleDupRatio {
		return Evaluation{Reason: ReasonTitleDuplication}
	}
	return Evaluation{Sufficient: true, Reason: ReasonNone}
}

func averageSummaryChars(results []search.Result) float64 {
	total := 0
	for _, r := range results {
		total += len([]rune(strings.TrimSpace(r.Summary)))
	}
	return float64(total) / float64(len(results))
}

// duplicationRatio is the share of results whose normalized title matches at
// least one other result's title. Empty titles never match.
func (p *Planner) duplicationRatio(results []search.Result) float64 {
	titles := make([]string, len(results))
	for i, r := range results {
		titles[i] = normalizeTitle(r.Title)
	}

	dup := make([]bool, len(titles))
	for i := range titles {
		if titles[i] == "" {
			continue
		}
		for j := i + 1; j < len(titles); j++ {
			if titles[j] == "" {
				continue
			}
			if p.sameTitle(titles[i], titles[j]) {
				dup[i], dup[j] = true, true
			}
		}
	}

	count := 0
	for _, d := range dup {
		if d {
			count++
		}
	}
	return float64(count) / float64(len(results))
}

func (p *Planner) sameTitle(a, b string) bool {
	if a == b {
		return true
	}
	if p.TitleMatch != TitleMatchFuzzy {
		return false
	}
	return titleSimilarity(a, b) >= p.FuzzySimilarity
}

// titleSimilarity is 1 - editDistance/maxLen over runes.
func titleSimilarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}
