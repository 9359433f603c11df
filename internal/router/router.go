// Package router resolves a topic to one of the configured domain profiles.
package router

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/hotnote/internal/config"
	"github.com/TobiSchelling/hotnote/internal/logging"
	"github.com/TobiSchelling/hotnote/internal/metrics"
)

// Source tells where a resolved profile came from.
type Source string

const (
	SourceOverride   Source = "override"
	SourceMemory     Source = "memory"
	SourceClassifier Source = "classifier"
	SourceDefault    Source = "default"
)

// Resolution is the outcome of routing one topic.
type Resolution struct {
	Profile   string
	Requested string
	Source    Source
}

// ProfileMemory looks up a previously resolved profile for a topic.
type ProfileMemory interface {
	GetProfile(ctx context.Context, topic string) (string, bool, error)
}

// Router picks a profile id for a topic.
type Router struct {
	ids        []string
	valid      map[string]bool
	defaultID  string
	classifier Classifier
	memory     ProfileMemory
	timeout    time.Duration
	logger     *zap.Logger
}

// New creates a router over the configured profiles. classifier and memory
// may be nil.
func New(cfg *config.Config, classifier Classifier, memory ProfileMemory, logger *zap.Logger) *Router {
	ids := cfg.ProfileIDs()
	valid := make(map[string]bool, len(ids))
	for _, id := range ids {
		valid[id] = true
	}
	if !cfg.Router.UseMemory {
		memory = nil
	}
	return &Router{
		ids:        ids,
		valid:      valid,
		defaultID:  cfg.DefaultProfile,
		classifier: classifier,
		memory:     memory,
		timeout:    cfg.Router.Timeout(),
		logger:     logging.OrNop(logger),
	}
}

// Classify resolves topic to a profile id. It never fails: any problem
// resolves to the default profile.
func (r *Router) Classify(ctx context.Context, topic, explicit string) Resolution {
	requested := strings.ToLower(strings.TrimSpace(explicit))
	res := r.resolve(ctx, topic, requested)
	res.Requested = requested

	metrics.RouterResolutions.WithLabelValues(string(res.Source), res.Profile).Inc()
	r.logger.Info("topic.profile",
		zap.String("topic", topic),
		zap.String("requested_profile", requested),
		zap.String("resolved_profile", res.Profile),
		zap.String("source", string(res.Source)),
		zap.Bool("override", res.Source == SourceOverride),
	)
	return res
}

// Valid reports whether id names a configured profile.
func (r *Router) Valid(id string) bool {
	return r.valid[id]
}

func (r *Router) resolve(ctx context.Context, topic, requested string) Resolution {
	if r.valid[requested] {
		return Resolution{Profile: requested, Source: SourceOverride}
	}

	if r.memory != nil {
		id, ok, err := r.memory.GetProfile(ctx, topic)
		switch {
		case err != nil:
			r.logger.Warn("router.memory_error", zap.Error(err))
		case ok && r.valid[id]:
			return Resolution{Profile: id, Source: SourceMemory}
		}
	}

	if r.classifier != nil {
		cctx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		label, err := r.classifier.Classify(cctx, topic, r.ids)
		switch {
		case err != nil:
			r.logger.Warn("router.classify_failed", zap.Error(err))
		case r.valid[label]:
			return Resolution{Profile: label, Source: SourceClassifier}
		default:
			r.logger.Warn("router.invalid_label", zap.String("label", label))
		}
	}

	return Resolution{Profile: r.defaultID, Source: SourceDefault}
}
