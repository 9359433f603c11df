package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/TobiSchelling/hotnote/internal/config"
	"github.com/TobiSchelling/hotnote/internal/llm"
	"github.com/TobiSchelling/hotnote/internal/logging"
	"github.com/TobiSchelling/hotnote/internal/memory"
	"github.com/TobiSchelling/hotnote/internal/search"
)

// Build creates a pipeline backed by the providers named in cfg. The
// returned close function releases the memory store and provider clients.
//
// A missing completion provider is not fatal: requests then fail at the
// research stage with a structured error. An unusable memory backend
// degrades to no memory.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Pipeline, func() error, error) {
	logger = logging.OrNop(logger)
	var closers []io.Closer

	var provider llm.Provider
	p, err := llm.CreateProvider(ctx, cfg.LLM, logger)
	if err != nil {
		logger.Warn("llm.unavailable", zap.Error(err))
	} else {
		if c, ok := p.(io.Closer); ok {
			closers = append(closers, c)
		}
		provider = llm.WithLogging(p, cfg.LLM.Provider, logger)
	}

	searcher, err := search.NewSearcher(cfg.Search, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating searcher: %w", err)
	}

	var extractor search.Extractor
	if cfg.Extract.Enabled {
		extractor, err = search.NewExtractor(*cfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("creating extractor: %w", err)
		}
	}

	store, err := memory.Open(ctx, cfg, logger)
	if err != nil {
		logger.Warn("memory.unavailable", zap.String("backend", cfg.Memory.Backend), zap.Error(err))
		store = memory.Nop{}
	}
	closers = append(closers, store)

	pl := New(cfg, Deps{
		Provider:  provider,
		Searcher:  searcher,
		Extractor: extractor,
		Memory:    store,
	}, logger)

	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c.Close())
		}
		return errors.Join(errs...)
	}
	return pl, closeAll, nil
}
