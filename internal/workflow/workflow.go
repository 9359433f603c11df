// Package workflow runs the research -> write -> edit prompt chain.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/TobiSchelling/hotnote/internal/config"
	"github.com/TobiSchelling/hotnote/internal/llm"
	"github.com/TobiSchelling/hotnote/internal/logging"
	"github.com/TobiSchelling/hotnote/internal/metrics"
	"github.com/TobiSchelling/hotnote/internal/note"
	"github.com/TobiSchelling/hotnote/internal/search"
)

// ErrMalformedOutput marks stage output that cannot be used downstream.
var ErrMalformedOutput = errors.New("malformed stage output")

// Stage names one step of the chain.
type Stage string

const (
	StageResearch Stage = "research"
	StageWrite    Stage = "write"
	StageEdit     Stage = "edit"
)

// Stages lists the chain in execution order.
var Stages = []Stage{StageResearch, StageWrite, StageEdit}

// Failure kinds reported in StageError.Kind.
const (
	KindTimeout   = "timeout"
	KindProvider  = "provider_error"
	KindMalformed = "malformed_output"
	KindCanceled  = "canceled"
)

// StageError describes the stage that terminated the chain.
type StageError struct {
	Stage    Stage  `json:"stage"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
	err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed (%s after %d attempt(s)): %s", e.Stage, e.Kind, e.Attempts, e.Message)
}

func (e *StageError) Unwrap() error { return e.err }

// Result is the outcome of one Run. Draft and Edited are empty when their
// stage did not complete.
type Result struct {
	Research string
	Draft    string
	Edited   string
	Note     *note.Note
	// Stages lists the stages that completed, in order.
	Stages []Stage
	Err    *StageError
}

// Options tune the chain.
type Options struct {
	MaxTokens      int
	Timeout        time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	ContextResults int
	TitleChars     int
	SummaryChars   int
}

// OptionsFromConfig reads the workflow options from configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxTokens:      cfg.LLM.MaxTokens,
		Timeout:        cfg.LLM.Timeout(),
		MaxRetries:     cfg.LLM.MaxRetries,
		RetryBackoff:   cfg.LLM.RetryBackoff(),
		ContextResults: cfg.Workflow.ContextResults,
		TitleChars:     cfg.Workflow.TitleChars,
		SummaryChars:   cfg.Workflow.SummaryChars,
	}
}

// Workflow runs the three stages against one provider.
type Workflow struct {
	provider llm.Provider
	opts     Options
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New creates a workflow.
func New(provider llm.Provider, opts Options, logger *zap.Logger) *Workflow {
	return &Workflow{
		provider: provider,
		opts:     opts,
		logger:   logging.OrNop(logger),
		tracer:   otel.Tracer("github.com/TobiSchelling/hotnote/internal/workflow"),
	}
}

// Run executes research, write and edit in order. The first stage that fails
// stops the chain.
func (w *Workflow) Run(ctx context.Context, topic string, results []search.Result) *Result {
	r := &Result{}
	snippets := BuildSearchContext(results, w.opts.ContextResults, w.opts.TitleChars, w.opts.SummaryChars)

	research, serr := w.runStage(ctx, StageResearch, fmt.Sprintf(researchPrompt, topic, snippets), validateResearch)
	if serr != nil {
		r.Err = serr
		return r
	}
	r.Research = research
	r.Stages = append(r.Stages, StageResearch)

	draft, serr := w.runStage(ctx, StageWrite, fmt.Sprintf(writePrompt, topic, research), validateNote(nil))
	if serr != nil {
		r.Err = serr
		return r
	}
	r.Draft = draft
	r.Stages = append(r.Stages, StageWrite)

	var final *note.Note
	edited, serr := w.runStage(ctx, StageEdit, fmt.Sprintf(editPrompt, topic, draft), validateNote(&final))
	if serr != nil {
		r.Err = serr
		return r
	}
	r.Note = final
	r.Edited = edited
	r.Stages = append(r.Stages, StageEdit)
	return r
}

type validator func(text string) (string, error)

func validateResearch(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty research", ErrMalformedOutput)
	}
	return text, nil
}

// validateNote checks the note contract and returns the canonical markdown.
// When dst is non-nil it receives the parsed note.
func validateNote(dst **note.Note) validator {
	return func(text string) (string, error) {
		n, err := note.Parse(llm.StripCodeFence(text))
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrMalformedOutput, err)
		}
		if dst != nil {
			*dst = n
		}
		return n.Markdown(), nil
	}
}

// runStage calls the provider with a per-attempt timeout, retrying transport
// failures with linear backoff. Malformed output is not retried.
func (w *Workflow) runStage(ctx context.Context, stage Stage, prompt string, validate validator) (string, *StageError) {
	ctx, span := w.tracer.Start(ctx, "workflow."+string(stage),
		trace.WithAttributes(attribute.String("stage", string(stage))))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}()

	w.logger.Info(string(stage), zap.Int("prompt_chars", len([]rune(prompt))))

	maxAttempts := 1 + max(0, w.opts.MaxRetries)
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		text, err := w.generate(ctx, prompt)
		if err == nil {
			out, verr := validate(text)
			if verr != nil {
				return "", w.fail(span, stage, KindMalformed, attempt, verr)
			}
			span.SetAttributes(attribute.Int("attempts", attempt))
			return out, nil
		}

		lastErr = err
		w.logger.Warn("llm.error",
			zap.String("stage", string(stage)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)
		if ctx.Err() != nil || attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(w.opts.RetryBackoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
		if ctx.Err() != nil {
			break
		}
	}

	kind := KindProvider
	switch {
	case ctx.Err() != nil:
		kind = KindCanceled
		lastErr = ctx.Err()
	case errors.Is(lastErr, context.DeadlineExceeded):
		kind = KindTimeout
	}
	return "", w.fail(span, stage, kind, attempts, lastErr)
}

func (w *Workflow) generate(ctx context.Context, prompt string) (string, error) {
	if w.provider == nil {
		return "", llm.ErrNoProvider
	}
	callCtx := ctx
	if w.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, w.opts.Timeout)
		defer cancel()
	}
	text, err := w.provider.Generate(callCtx, prompt, w.opts.MaxTokens)
	if err != nil && callCtx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return text, err
}

func (w *Workflow) fail(span trace.Span, stage Stage, kind string, attempts int, err error) *StageError {
	se := &StageError{Stage: stage, Kind: kind, Message: err.Error(), Attempts: attempts, err: err}
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
	metrics.StageFailures.WithLabelValues(string(stage), kind).Inc()
	w.logger.Error("stage.failed",
		zap.String("stage", string(stage)),
		zap.String("kind", kind),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	return se
}

// BuildSearchContext renders up to limit results as "- title: summary" lines
// with the URL, clipping title and summary.
func BuildSearchContext(results []search.Result, limit, titleChars, summaryChars int) string {
	var lines []string
	for i, r := range results {
		if limit > 0 && i >= limit {
			break
		}
		line := fmt.Sprintf("- %s: %s", logging.Clip(r.Title, titleChars), logging.Clip(r.Summary, summaryChars))
		if r.URL != "" {
			line += " (" + r.URL + ")"
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return "- no snippets"
	}
	return strings.Join(lines, "\n")
}
