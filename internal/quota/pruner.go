package quota

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Pruner periodically drops expired usage records so the store does not
// grow with every client ever seen.
type Pruner struct {
	limiter  *Limiter
	interval time.Duration
	logger   zerolog.Logger
	stopChan chan struct{}
	doneChan chan struct{}
	started  bool
}

// NewPruner creates a new pruner. A non-positive interval disables it.
func NewPruner(limiter *Limiter, interval time.Duration, logger zerolog.Logger) *Pruner {
	return &Pruner{
		limiter:  limiter,
		interval: interval,
		logger:   logger.With().Str("component", "quota-pruner").Logger(),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the pruning loop
func (p *Pruner) Start() {
	p.started = true
	if p.interval <= 0 {
		close(p.doneChan)
		p.logger.Info().Msg("Expired record pruning disabled")
		return
	}
	go p.run()
	p.logger.Info().
		Dur("interval", p.interval).
		Msg("Expired record pruner started")
}

// Stop stops the pruner and waits for an in-flight pass to finish. It is a
// no-op on a pruner that was never started.
func (p *Pruner) Stop() {
	if !p.started {
		return
	}
	close(p.stopChan)
	<-p.doneChan
	p.logger.Info().Msg("Expired record pruner stopped")
}

func (p *Pruner) run() {
	defer close(p.doneChan)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.prune()
		case <-p.stopChan:
			return
		}
	}
}

func (p *Pruner) prune() {
	start := time.Now()
	pruned := p.limiter.Prune(context.Background())
	if pruned == 0 {
		p.logger.Debug().Msg("No expired usage records")
		return
	}
	p.logger.Info().
		Int("pruned", pruned).
		Dur("duration", time.Since(start)).
		Msg("Pruned expired usage records")
}
