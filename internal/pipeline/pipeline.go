// Package pipeline composes routing, retrieval, extraction and generation
// for one note request and records the decisions in Meta.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/TobiSchelling/hotnote/internal/config"
	"github.com/TobiSchelling/hotnote/internal/extract"
	"github.com/TobiSchelling/hotnote/internal/llm"
	"github.com/TobiSchelling/hotnote/internal/logging"
	"github.com/TobiSchelling/hotnote/internal/memory"
	"github.com/TobiSchelling/hotnote/internal/metrics"
	"github.com/TobiSchelling/hotnote/internal/retrieval"
	"github.com/TobiSchelling/hotnote/internal/router"
	"github.com/TobiSchelling/hotnote/internal/search"
	"github.com/TobiSchelling/hotnote/internal/workflow"
)

// Request asks for one note.
type Request struct {
	Topic   string
	Profile string
	// RequestID is generated when empty.
	RequestID string
}

// ErrorInfo is the structured error reported in Meta.
type ErrorInfo struct {
	Stage    string `json:"stage"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts,omitempty"`
}

// Meta is the explainable trace of one request.
type Meta struct {
	TopicProfile          string     `json:"topic_profile"`
	RequestedTopicProfile string     `json:"requested_topic_profile"`
	TopicProfileSource    string     `json:"topic_profile_source"`
	Query                 string     `json:"query"`
	Queries               []string   `json:"queries"`
	FallbackTriggered     bool       `json:"fallback_triggered"`
	FallbackReason        string     `json:"fallback_reason"`
	FallbackQueries       []string   `json:"fallback_queries"`
	FallbackDomains       [][]string `json:"fallback_domains"`
	FallbackTierReasons   []string   `json:"fallback_tier_reasons"`
	ExtractedURLs         []string   `json:"extracted_urls"`
	ExtractFailedURLs     []string   `json:"extract_failed_urls"`
	Stages                []string   `json:"stages"`
	RequestID             string     `json:"request_id"`
	Error                 *ErrorInfo `json:"error,omitempty"`
}

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds everything one request produced.
type Result struct {
	Markdown string
	Meta     Meta
	Steps    []StepResult
	Results  []search.Result
	Workflow *workflow.Result
}

// Deps are the external capabilities a pipeline runs against.
type Deps struct {
	Provider   llm.Provider
	Searcher   search.Searcher
	Extractor  search.Extractor
	Classifier router.Classifier
	Memory     memory.Store
}

// Pipeline runs Router -> Orchestrator -> Enhancer -> Workflow.
type Pipeline struct {
	cfg          *config.Config
	router       *router.Router
	orchestrator *retrieval.Orchestrator
	enhancer     *extract.Enhancer
	workflow     *workflow.Workflow
	memory       memory.Store
	logger       *zap.Logger
	tracer       trace.Tracer
	newID        func() string
}

// New wires a pipeline from explicit dependencies. A nil Classifier falls
// back to an LLM classifier over Provider. A nil Memory remembers nothing.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Pipeline {
	logger = logging.OrNop(logger)

	mem := deps.Memory
	if mem == nil {
		mem = memory.Nop{}
	}
	classifier := deps.Classifier
	if classifier == nil && deps.Provider != nil {
		classifier = router.NewLLMClassifier(deps.Provider, cfg.Profiles, cfg.DefaultProfile)
	}

	return &Pipeline{
		cfg:    cfg,
		router: router.New(cfg, classifier, mem, logger),
		orchestrator: retrieval.NewOrchestrator(
			deps.Searcher,
			retrieval.NewPlanner(cfg.Fallback),
			cfg.Search.Depth,
			cfg.Search.MaxResults,
			logger,
		),
		enhancer: extract.NewEnhancer(
			deps.Extractor,
			cfg.Extract.Enabled && deps.Extractor != nil,
			cfg.Extract.MaxURLs,
			cfg.Extract.Timeout(),
			logger,
		),
		workflow: workflow.New(deps.Provider, workflow.OptionsFromConfig(cfg), logger),
		memory:   mem,
		logger:   logger,
		tracer:   otel.Tracer("github.com/TobiSchelling/hotnote/internal/pipeline"),
		newID:    uuid.NewString,
	}
}

// Generate runs one request. It never returns an error: failures are
// reported in Meta.Error and the Err of the failing step.
func (p *Pipeline) Generate(ctx context.Context, req Request) *Result {
	topic := strings.TrimSpace(req.Topic)
	requestID := req.RequestID
	if requestID == "" {
		requestID = p.newID()
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.generate",
		trace.WithAttributes(attribute.String("request_id", requestID)))
	defer span.End()

	start := time.Now()
	log := p.logger.With(zap.String("request_id", requestID))
	r := &Result{Meta: newMeta(requestID, topic)}

	// Step 1: Route
	res := p.router.Classify(ctx, topic, req.Profile)
	r.Meta.TopicProfile = res.Profile
	r.Meta.RequestedTopicProfile = res.Requested
	r.Meta.TopicProfileSource = string(res.Source)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Route",
		Summary: fmt.Sprintf("Profile %s (%s)", res.Profile, res.Source),
	})
	span.SetAttributes(attribute.String("topic_profile", res.Profile))

	// Step 2: Search
	profile := p.cfg.Profiles[res.Profile]
	ret := p.orchestrator.Retrieve(ctx, topic, retrieval.Profile{
		ID:               res.Profile,
		PrimaryDomains:   profile.Primary,
		SecondaryDomains: profile.Secondary,
	})
	r.Meta.applyRetrieval(ret)
	step := StepResult{
		Name:    "Search",
		Summary: fmt.Sprintf("%d results after %d tier(s), fallback reason %s", len(ret.Results), len(ret.Tiers), ret.Decision.Reason),
		Err:     ret.Err,
	}
	r.Steps = append(r.Steps, step)

	if ret.Err != nil {
		r.Meta.Error = &ErrorInfo{Stage: "search", Kind: workflow.KindProvider, Message: ret.Err.Error()}
		p.finish(ctx, log, topic, res, r, "search_error", start)
		return r
	}

	// Step 3: Extract
	results, outcome := p.enhancer.Enhance(ctx, ret.Results, profile.ExtractAllowed)
	r.Results = results
	r.Meta.ExtractedURLs = outcome.ExtractedURLs
	r.Meta.ExtractFailedURLs = outcome.FailedURLs
	r.Steps = append(r.Steps, StepResult{
		Name:    "Extract",
		Summary: fmt.Sprintf("Extracted %d URL(s), %d failed", len(outcome.ExtractedURLs), len(outcome.FailedURLs)),
	})

	// Step 4: Generate
	wf := p.workflow.Run(ctx, topic, results)
	r.Workflow = wf
	for _, s := range wf.Stages {
		r.Meta.Stages = append(r.Meta.Stages, string(s))
	}

	status := "ok"
	if wf.Err != nil {
		status = "stage_error"
		r.Meta.Error = &ErrorInfo{
			Stage:    string(wf.Err.Stage),
			Kind:     wf.Err.Kind,
			Message:  wf.Err.Message,
			Attempts: wf.Err.Attempts,
		}
		r.Steps = append(r.Steps, StepResult{Name: "Generate", Err: wf.Err})
	} else {
		r.Markdown = wf.Edited
		r.Steps = append(r.Steps, StepResult{
			Name:    "Generate",
			Summary: fmt.Sprintf("Note with %d titles and %d tags", len(wf.Note.Titles), len(wf.Note.Tags)),
		})
	}

	p.finish(ctx, log, topic, res, r, status, start)
	return r
}

// Memory exposes the store for history and preview lookups.
func (p *Pipeline) Memory() memory.Store {
	return p.memory
}

func (p *Pipeline) finish(ctx context.Context, log *zap.Logger, topic string, res router.Resolution, r *Result, status string, start time.Time) {
	metrics.GenerationRequests.WithLabelValues(status).Inc()

	if res.Source == router.SourceClassifier || res.Source == router.SourceOverride {
		if err := p.memory.PutProfile(ctx, topic, res.Profile); err != nil {
			log.Warn("memory.put_failed", zap.Error(err))
		}
	}

	meta, err := json.Marshal(r.Meta)
	if err != nil {
		log.Warn("meta.encode_failed", zap.Error(err))
		meta = []byte("{}")
	}
	gen := memory.Generation{
		ID:        r.Meta.RequestID,
		Topic:     topic,
		Profile:   res.Profile,
		Markdown:  r.Markdown,
		Meta:      meta,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.memory.SaveGeneration(ctx, gen); err != nil {
		log.Warn("memory.save_failed", zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("status", status),
		zap.String("topic_profile", r.Meta.TopicProfile),
		zap.Bool("fallback_triggered", r.Meta.FallbackTriggered),
		zap.Duration("elapsed", time.Since(start)),
	}
	if r.Meta.Error != nil {
		fields = append(fields, zap.String("error_stage", r.Meta.Error.Stage), zap.String("error_kind", r.Meta.Error.Kind))
	}
	log.Info("generate.done", fields...)
}

func newMeta(requestID, topic string) Meta {
	return Meta{
		Query:               topic,
		Queries:             []string{},
		FallbackQueries:     []string{},
		FallbackDomains:     [][]string{},
		FallbackTierReasons: []string{},
		ExtractedURLs:       []string{},
		ExtractFailedURLs:   []string{},
		Stages:              []string{},
		RequestID:           requestID,
	}
}

func (m *Meta) applyRetrieval(ret *retrieval.Retrieval) {
	d := ret.Decision
	m.FallbackTriggered = d.Triggered
	m.FallbackReason = string(d.Reason)
	m.Queries = nonNil(d.Queries)
	m.FallbackQueries = nonNil(d.Queries)
	m.FallbackDomains = make([][]string, len(d.Domains))
	for i, ds := range d.Domains {
		m.FallbackDomains[i] = nonNil(ds)
	}
	m.FallbackTierReasons = nonNil(ret.TierReasons())
}

func nonNil(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
