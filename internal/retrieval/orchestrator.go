// Package retrieval runs the tiered fallback search for a topic.
package retrieval

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/hotnote/internal/logging"
	"github.com/TobiSchelling/hotnote/internal/metrics"
	"github.com/TobiSchelling/hotnote/internal/search"
)

// Tier is one state of the escalating search.
type Tier int

const (
	TierPrimary Tier = iota
	TierSecondary
	TierGeneric
	tierDone
)

func (t Tier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierSecondary:
		return "secondary"
	case TierGeneric:
		return "generic"
	default:
		return "done"
	}
}

// Profile is the domain configuration retrieval needs from a topic profile.
type Profile struct {
	ID               string
	PrimaryDomains   []string
	SecondaryDomains []string
}

// TierOutcome records one visited tier.
type TierOutcome struct {
	Tier    Tier
	Query   string
	Domains []string
	Results []search.Result
	Reason  Reason
	Err     error
}

// Decision is the fallback trace for one request.
type Decision struct {
	Triggered bool
	// Reason is the verdict that caused the last escalation, not the primary
	// tier's verdict; every tier's verdict is kept in Retrieval.Tiers.
	Reason  Reason
	Queries []string
	Domains [][]string
}

// Retrieval is the outcome of one Retrieve call.
type Retrieval struct {
	ProfileID string
	Results   []search.Result
	Decision  Decision
	Tiers     []TierOutcome
	// Err is set when the unrestricted tier itself failed, leaving nothing to
	// fall back to.
	Err error
}

// TierReasons returns the planner verdict of every visited tier.
func (r *Retrieval) TierReasons() []string {
	out := make([]string, len(r.Tiers))
	for i, t := range r.Tiers {
		out[i] = string(t.Reason)
	}
	return out
}

// Orchestrator escalates Primary -> Secondary -> Generic until a tier's
// results pass the planner. Each tier is judged on its own results.
type Orchestrator struct {
	searcher   search.Searcher
	planner    *Planner
	depth      string
	maxResults int
	logger     *zap.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(s search.Searcher, planner *Planner, depth string, maxResults int, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		searcher:   s,
		planner:    planner,
		depth:      depth,
		maxResults: maxResults,
		logger:     logging.OrNop(logger),
	}
}

// nextTier is the transition function. Secondary is skipped when the profile
// has no secondary pool since it would repeat the generic query.
func nextTier(current Tier, eval Evaluation, p Profile) Tier {
	if current == TierGeneric || eval.Sufficient {
		return tierDone
	}
	if current == TierPrimary && len(p.SecondaryDomains) > 0 {
		return TierSecondary
	}
	return TierGeneric
}

func (p Profile) domainsFor(t Tier) []string {
	switch t {
	case TierPrimary:
		return p.PrimaryDomains
	case TierSecondary:
		return p.SecondaryDomains
	default:
		return nil
	}
}

// Retrieve runs the tier machine for topic. It never returns an error; search
// failures degrade to empty tiers and a failure at the generic tier is
// reported through Retrieval.Err.
func (o *Orchestrator) Retrieve(ctx context.Context, topic string, profile Profile) *Retrieval {
	query := strings.TrimSpace(topic)
	r := &Retrieval{ProfileID: profile.ID}

	var escalationReason Reason
	for tier := TierPrimary; tier != tierDone; {
		domains := append([]string{}, profile.domainsFor(tier)...)
		outcome := TierOutcome{Tier: tier, Query: query, Domains: domains}

		results, err := o.searcher.Search(ctx, search.Query{
			Text:       query,
			Domains:    domains,
			Depth:      o.depth,
			MaxResults: o.maxResults,
		})
		if err != nil {
			metrics.TierQueries.WithLabelValues(tier.String(), "error").Inc()
			o.logger.Warn("search.failed", zap.String("tier", tier.String()), zap.Error(err))
			outcome.Err = err
			results = nil
		} else {
			metrics.TierQueries.WithLabelValues(tier.String(), "ok").Inc()
			metrics.SearchResults.Observe(float64(len(results)))
		}
		outcome.Results = results

		eval := Evaluation{Sufficient: true, Reason: ReasonNone}
		if tier != TierGeneric {
			eval = o.planner.Evaluate(results)
		}
		outcome.Reason = eval.Reason
		r.Tiers = append(r.Tiers, outcome)

		o.logger.Info("fallback.evaluate",
			zap.String("tier", tier.String()),
			zap.String("profile", profile.ID),
			zap.Int("results", len(results)),
			zap.String("reason", string(eval.Reason)),
			zap.Strings("domains", domains),
		)

		next := nextTier(tier, eval, profile)
		if next != tierDone {
			escalationReason = eval.Reason
			o.logger.Info("fallback.triggered", zap.String("from", tier.String()), zap.String("to", next.String()), zap.String("reason", string(eval.Reason)))
		}
		if tier == TierGeneric && err != nil {
			r.Err = err
		}
		tier = next
	}

	last := r.Tiers[len(r.Tiers)-1]
	r.Results = last.Results
	r.Decision = Decision{
		Triggered: len(r.Tiers) > 1,
		Reason:    ReasonNone,
		Queries:   make([]string, len(r.Tiers)),
		Domains:   make([][]string, len(r.Tiers)),
	}
	for i, t := range r.Tiers {
		r.Decision.Queries[i] = t.Query
		r.Decision.Domains[i] = t.Domains
	}
	if r.Decision.Triggered {
		r.Decision.Reason = escalationReason
		metrics.FallbackTriggered.WithLabelValues(string(escalationReason)).Inc()
	} else {
		o.logger.Info("fallback.not_triggered", zap.String("profile", profile.ID))
	}
	return r
}
