package app

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Sweeper evicts expired attempt records on its own low-frequency schedule.
// It runs independently of sessions and never blocks a transition.
type Sweeper struct {
	store    AttemptStore
	interval time.Duration
	clock    clockwork.Clock
}

func NewSweeper(store AttemptStore, interval time.Duration, clock clockwork.Clock) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{store: store, interval: interval, clock: clock}
}

// Run sweeps once immediately, then on every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx)
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	removed, err := s.store.Sweep(ctx, s.clock.Now())
	if err != nil {
		log.Warn().Err(err).Msg("attempt store sweep failed")
		return
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("swept expired attempts")
	}
}
