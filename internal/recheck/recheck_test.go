package recheck

import (
	"context"
	"testing"
	"time"

	"horse.fit/simcluster/internal/clustererr"
	"horse.fit/simcluster/internal/config"
)

type fakeStore struct {
	lastRequestedAt time.Time
	found           bool
	resetCalled     bool
	enqueued        []string
	nextJobID       string
	// touched records cooldowns per article, as the real store keys them.
	touched map[string]time.Time
}

func (f *fakeStore) RecheckCooldownRemaining(ctx context.Context, articleID string) (time.Time, bool, error) {
	if at, ok := f.touched[articleID]; ok {
		return at, true, nil
	}
	return f.lastRequestedAt, f.found, nil
}

func (f *fakeStore) TouchRecheckCooldown(ctx context.Context, articleID string) error {
	if f.touched == nil {
		f.touched = make(map[string]time.Time)
	}
	f.touched[articleID] = time.Now()
	return nil
}

func (f *fakeStore) NextRecheckJobID(ctx context.Context) (string, error) {
	return f.nextJobID, nil
}

func (f *fakeStore) ResetToPending(ctx context.Context, articleID string) error {
	f.resetCalled = true
	return nil
}

func (f *fakeStore) Enqueue(ctx context.Context, jobType, articleID, jobID string, delay time.Duration) (string, error) {
	f.enqueued = append(f.enqueued, jobID)
	return jobID, nil
}

func testConfig() *config.Config {
	return &config.Config{
		RecheckCooldown:           5 * time.Minute,
		RecheckRateLimitPerMinute: 30,
	}
}

func TestRequest_SucceedsWithNoPriorRecheck(t *testing.T) {
	st := &fakeStore{nextJobID: "recheck_20260213_0001"}
	c := New(st, testConfig())

	jobID, err := c.Request(context.Background(), "caller1", "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jobID != "recheck_20260213_0001" {
		t.Fatalf("expected the minted job id to be returned, got %q", jobID)
	}
	if !st.resetCalled {
		t.Fatalf("expected the article to be reset to pending")
	}
	if len(st.enqueued) != 1 {
		t.Fatalf("expected exactly one job enqueued")
	}
}

func TestRequest_RejectsWithinCooldown(t *testing.T) {
	st := &fakeStore{found: true, lastRequestedAt: time.Now().Add(-1 * time.Minute)}
	c := New(st, testConfig())

	_, err := c.Request(context.Background(), "caller1", "a1")
	if err == nil {
		t.Fatalf("expected cooldown to reject the request")
	}
	ce, ok := clustererr.As(err)
	if !ok || ce.Code != clustererr.CodeRecheckRateLimited {
		t.Fatalf("expected a RECHECK_RATE_LIMITED error, got %v", err)
	}
}

func TestRequest_AllowsAfterCooldownElapses(t *testing.T) {
	st := &fakeStore{found: true, lastRequestedAt: time.Now().Add(-10 * time.Minute), nextJobID: "recheck_20260213_0002"}
	c := New(st, testConfig())

	jobID, err := c.Request(context.Background(), "caller1", "a1")
	if err != nil {
		t.Fatalf("expected the request to succeed once cooldown elapsed, got: %v", err)
	}
	if jobID != "recheck_20260213_0002" {
		t.Fatalf("unexpected job id: %q", jobID)
	}
}

func TestRequest_RateLimitsPerCaller(t *testing.T) {
	cfg := testConfig()
	cfg.RecheckRateLimitPerMinute = 1
	st := &fakeStore{nextJobID: "recheck_20260213_0003"}
	c := New(st, cfg)

	if _, err := c.Request(context.Background(), "caller1", "a1"); err != nil {
		t.Fatalf("expected the first request to succeed, got: %v", err)
	}
	// A fresh limiter (burst=1) allows exactly one immediate call; the
	// second within the same instant must be rejected.
	_, err := c.Request(context.Background(), "caller1", "a2")
	if err == nil {
		t.Fatalf("expected the second immediate request from the same caller to be rate limited")
	}

	// A different caller has its own independent limiter.
	if _, err := c.Request(context.Background(), "caller2", "a3"); err != nil {
		t.Fatalf("expected a different caller to be unaffected by caller1's rate limit, got: %v", err)
	}
}
