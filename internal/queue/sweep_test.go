package queue

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/simcluster/internal/config"
)

type fakeStore struct {
	reaped int64
	err    error
	calls  int
}

func (f *fakeStore) ReapStuckJobs(ctx context.Context, olderThan time.Duration, maxAttempts int) (int64, error) {
	f.calls++
	return f.reaped, f.err
}

func TestSweeper_TicksAndReapsUntilCancelled(t *testing.T) {
	st := &fakeStore{reaped: 3}
	cfg := &config.Config{QueueSweepInterval: 5 * time.Millisecond, QueueClaimTimeout: time.Minute}
	sw := NewSweeper(st, cfg, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err := sw.Run(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected the sweeper to stop on context deadline, got: %v", err)
	}
	if st.calls == 0 {
		t.Fatalf("expected at least one sweep tick to have run")
	}
}

func TestSweepOnce_LogsButDoesNotPanicOnError(t *testing.T) {
	st := &fakeStore{err: context.Canceled}
	cfg := &config.Config{QueueSweepInterval: time.Second, QueueClaimTimeout: time.Minute}
	sw := NewSweeper(st, cfg, zerolog.Nop())

	sw.sweepOnce(context.Background())
	if st.calls != 1 {
		t.Fatalf("expected exactly one reap attempt, got %d", st.calls)
	}
}
