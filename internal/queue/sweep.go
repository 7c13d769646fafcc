// Package queue implements the periodic reaper SPEC_FULL.md carries over
// from original_source's cleanup_expired_jobs: a worker that crashes after
// claiming a similarity_jobs row but before acking, retrying, or
// dead-lettering it would otherwise leave that row 'claimed' forever.
// Grounded on the teacher's pipeline.Service.Run worker-loop shape
// (its own periodic ticker for cache eviction), reused here for a
// stuck-job sweep instead.
package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/simcluster/internal/config"
)

// Store is the subset of *store.Pool the sweeper depends on.
type Store interface {
	ReapStuckJobs(ctx context.Context, olderThan time.Duration, maxAttempts int) (int64, error)
}

// Sweeper periodically resets jobs stuck 'claimed' past QueueClaimTimeout.
type Sweeper struct {
	store Store
	cfg   *config.Config
	log   zerolog.Logger
}

func NewSweeper(st Store, cfg *config.Config, log zerolog.Logger) *Sweeper {
	return &Sweeper{store: st, cfg: cfg, log: log}
}

// Run ticks every cfg.QueueSweepInterval until ctx is cancelled. It never
// returns a non-nil error except ctx.Err() on cancellation, so a failed
// sweep just gets logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.QueueSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	reaped, err := s.store.ReapStuckJobs(ctx, s.cfg.QueueClaimTimeout, s.cfg.BackoffMaxAttempts)
	if err != nil {
		s.log.Warn().Err(err).Msg("queue sweep failed")
		return
	}
	if reaped > 0 {
		s.log.Warn().Int64("reaped", reaped).Msg("reset stuck jobs back to pending")
	}
}
