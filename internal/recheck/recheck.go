// Package recheck implements the Recheck Controller of spec.md §4.7: an
// operator- or caller-triggered re-run of an article's clustering decision,
// gated by a per-article cooldown and a per-caller rate limit so recheck
// traffic can never starve the ordinary ingestion queue.
//
// Grounded on the teacher's httpapi rate-limiting middleware (which wrapped
// golang.org/x/time/rate per remote address); this package reuses
// x/time/rate the same way, keyed by caller id instead of remote address
// since spec.md's recheck endpoint is invoked by internal callers, not
// public traffic.
package recheck

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"horse.fit/simcluster/internal/clustererr"
	"horse.fit/simcluster/internal/config"
	"horse.fit/simcluster/internal/globaltime"
)

// Store is the subset of *store.Pool the Recheck Controller depends on.
type Store interface {
	RecheckCooldownRemaining(ctx context.Context, articleID string) (lastRequestedAt time.Time, found bool, err error)
	TouchRecheckCooldown(ctx context.Context, articleID string) error
	NextRecheckJobID(ctx context.Context) (string, error)
	ResetToPending(ctx context.Context, articleID string) error
	Enqueue(ctx context.Context, jobType, articleID, jobID string, delay time.Duration) (string, error)
}

// Controller enforces the cooldown/rate-limit gate described above and
// mints the recheck_{yyyymmdd}_{4-digit counter} job ids spec.md §4.7
// requires.
type Controller struct {
	store Store
	cfg   *config.Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(st Store, cfg *config.Config) *Controller {
	return &Controller{store: st, cfg: cfg, limiters: make(map[string]*rate.Limiter)}
}

func (c *Controller) limiterFor(callerID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[callerID]
	if !ok {
		perSecond := rate.Limit(float64(c.cfg.RecheckRateLimitPerMinute) / 60.0)
		l = rate.NewLimiter(perSecond, c.cfg.RecheckRateLimitPerMinute)
		c.limiters[callerID] = l
	}
	return l
}

// Request implements POST /articles/recheck. callerID identifies the
// requester for rate-limiting purposes (e.g. an API key or service name).
func (c *Controller) Request(ctx context.Context, callerID, articleID string) (jobID string, err error) {
	if !c.limiterFor(callerID).Allow() {
		return "", clustererr.New(clustererr.Input, clustererr.CodeRecheckRateLimited,
			fmt.Sprintf("recheck rate limit exceeded for caller %s", callerID))
	}

	lastRequestedAt, found, err := c.store.RecheckCooldownRemaining(ctx, articleID)
	if err != nil {
		return "", clustererr.Wrap(clustererr.Upstream, clustererr.CodeUpstreamUnavailable, err)
	}
	if found {
		elapsed := globaltime.UTC().Sub(lastRequestedAt)
		if elapsed < c.cfg.RecheckCooldown {
			return "", clustererr.New(clustererr.Input, clustererr.CodeRecheckRateLimited,
				fmt.Sprintf("article %s is in recheck cooldown for %s more", articleID, (c.cfg.RecheckCooldown-elapsed).Round(time.Second)))
		}
	}

	jobID, err = c.store.NextRecheckJobID(ctx)
	if err != nil {
		return "", clustererr.Wrap(clustererr.Upstream, clustererr.CodeUpstreamUnavailable, err)
	}

	if err := c.store.ResetToPending(ctx, articleID); err != nil {
		return "", clustererr.Wrap(clustererr.Upstream, clustererr.CodeUpstreamUnavailable, err)
	}

	// A recheck job intentionally bypasses the ordinary idempotency
	// short-circuit (internal/ingest checks jobType != "recheck" before
	// skipping already-assigned articles).
	if _, err := c.store.Enqueue(ctx, "recheck", articleID, jobID, 0); err != nil {
		return "", clustererr.Wrap(clustererr.Upstream, clustererr.CodeUpstreamUnavailable, err)
	}

	if err := c.store.TouchRecheckCooldown(ctx, articleID); err != nil {
		return "", clustererr.Wrap(clustererr.Upstream, clustererr.CodeUpstreamUnavailable, err)
	}

	return jobID, nil
}
