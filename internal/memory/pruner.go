package memory

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/TobiSchelling/hotnote/internal/logging"
	"github.com/TobiSchelling/hotnote/internal/metrics"
)

// Pruner runs Store.Prune on a cron schedule.
type Pruner struct {
	store  Store
	cron   *cron.Cron
	logger *zap.Logger
}

// NewPruner schedules pruning. schedule accepts standard five-field specs and
// descriptors such as "@hourly".
func NewPruner(store Store, schedule string, logger *zap.Logger) (*Pruner, error) {
	p := &Pruner{
		store:  store,
		cron:   cron.New(),
		logger: logging.OrNop(logger),
	}
	if _, err := p.cron.AddFunc(schedule, p.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start begins the schedule in the background.
func (p *Pruner) Start() {
	p.cron.Start()
}

// Stop halts the schedule and waits for a running prune to finish.
func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
}

// RunOnce prunes immediately.
func (p *Pruner) RunOnce() {
	n, err := p.store.Prune(context.Background())
	if err != nil {
		p.logger.Warn("memory.prune_failed", zap.Error(err))
		return
	}
	metrics.MemoryPruned.Add(float64(n))
	p.logger.Info("memory.pruned", zap.Int64("removed", n))
}
