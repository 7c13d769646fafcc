// Package ingest implements the Ingestion Pipeline of spec.md §4.6: an
// N-worker pool that dequeues similarity jobs and drives each article
// through load -> idempotency check -> recall -> verify -> cluster assign
// -> writeback -> ack, with exponential backoff on transient failure and a
// dead letter on permanent failure.
//
// Grounded on the teacher's pipeline.Service.Run worker loop (claim ->
// process -> ack/retry against the same Postgres-backed queue), generalized
// from the teacher's single dedup step to the spec's five-stage pipeline.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/simcluster/internal/cluster"
	"horse.fit/simcluster/internal/clustererr"
	"horse.fit/simcluster/internal/config"
	"horse.fit/simcluster/internal/fingerprint"
	"horse.fit/simcluster/internal/globaltime"
	"horse.fit/simcluster/internal/recall"
	"horse.fit/simcluster/internal/store"
	"horse.fit/simcluster/internal/textnorm"
	"horse.fit/simcluster/internal/toptext"
	"horse.fit/simcluster/internal/verify"
)

const (
	jobTypeIngest  = "ingest"
	jobTypeRecheck = "recheck"
)

// Store is the subset of *store.Pool the ingestion pipeline depends on,
// composed from the narrower interfaces the recall/cluster stages need.
type Store interface {
	recall.Store
	cluster.Store
	ClaimNext(ctx context.Context) (*store.QueuedJob, error)
	Ack(ctx context.Context, jobID string) error
	Retry(ctx context.Context, jobID string, nextAttempt int, delay time.Duration) error
	DeadLetter(ctx context.Context, jobID, reason string) error
	Enqueue(ctx context.Context, jobType, articleID, jobID string, delay time.Duration) (string, error)
	GetArticle(ctx context.Context, articleID string) (*store.ArticleRecord, error)
	GetFingerprint(ctx context.Context, articleID, content string) (fingerprint.Fingerprint, error)
	FinishArticleAssignment(ctx context.Context, articleID string, clusterID *string, status string, score *float64) error
	ListClusterMemberIDs(ctx context.Context, clusterID string) ([]string, error)
	SetClusterTopTerms(ctx context.Context, clusterID string, topTerms json.RawMessage) error
}

// Pipeline runs the fixed-size worker pool of spec.md §4.6.
type Pipeline struct {
	store  Store
	cfg    *config.Config
	log    zerolog.Logger
	loader verify.ShingleLoader
}

// New wires a Pipeline against the Index Gateway and the process
// configuration. The shingle loader reads the article with GetArticle and
// recomputes its shingles with fingerprint.Compute, so the verifier only
// pays for shingle reconstruction on candidates it actually visits within
// budget.
func New(st Store, cfg *config.Config, log zerolog.Logger) *Pipeline {
	p := &Pipeline{store: st, cfg: cfg, log: log}
	p.loader = func(ctx context.Context, articleID string) (fingerprint.Set, error) {
		article, err := st.GetArticle(ctx, articleID)
		if err != nil {
			return nil, err
		}
		fp := fingerprint.Compute(article.Content)
		return fp.Shingles, nil
	}
	return p
}

// Run starts cfg.WorkerCount workers pulling from the shared queue until
// ctx is cancelled. Each worker owns its own claim/process/ack loop; there
// is no cross-worker coordination beyond the store's SKIP LOCKED claim.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	workers := p.cfg.WorkerCount
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		workerID := i
		g.Go(func() error { return p.workerLoop(ctx, workerID) })
	}
	return g.Wait()
}

func (p *Pipeline) workerLoop(ctx context.Context, workerID int) error {
	log := p.log.With().Int("worker_id", workerID).Logger()
	idleBackoff := 200 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := p.store.ClaimNext(ctx)
		if err != nil {
			log.Error().Err(err).Msg("claim next job failed")
			if sleepErr := globaltime.Sleep(ctx, idleBackoff); sleepErr != nil {
				return sleepErr
			}
			continue
		}
		if job == nil {
			if sleepErr := globaltime.Sleep(ctx, idleBackoff); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		p.processJob(ctx, log, job)
	}
}

func (p *Pipeline) processJob(ctx context.Context, log zerolog.Logger, job *store.QueuedJob) {
	jobLog := log.With().Str("job_id", job.JobID).Str("article_id", job.ArticleID).Int("attempt", job.Attempt).Logger()

	err := p.processArticle(ctx, jobLog, job.ArticleID, job.JobType)
	if err == nil {
		if ackErr := p.store.Ack(ctx, job.JobID); ackErr != nil {
			jobLog.Error().Err(ackErr).Msg("ack failed")
		}
		return
	}

	if ce, ok := clustererr.As(err); ok && ce.Kind == clustererr.Input {
		// A permanently invalid article can never succeed on retry.
		if dlErr := p.store.DeadLetter(ctx, job.JobID, err.Error()); dlErr != nil {
			jobLog.Error().Err(dlErr).Msg("dead-letter failed")
		}
		return
	}

	nextAttempt := job.Attempt + 1
	if nextAttempt >= p.cfg.BackoffMaxAttempts {
		if dlErr := p.store.DeadLetter(ctx, job.JobID, err.Error()); dlErr != nil {
			jobLog.Error().Err(dlErr).Msg("dead-letter failed")
		}
		jobLog.Warn().Err(err).Msg("job exhausted retries, dead-lettered")
		return
	}

	delay := backoffDelay(p.cfg, nextAttempt)
	if retryErr := p.store.Retry(ctx, job.JobID, nextAttempt, delay); retryErr != nil {
		jobLog.Error().Err(retryErr).Msg("retry scheduling failed")
	}
	jobLog.Warn().Err(err).Dur("delay", delay).Msg("job failed, retry scheduled")
}

// processArticle is the per-article path spec.md §4.6 names step by step.
func (p *Pipeline) processArticle(ctx context.Context, log zerolog.Logger, articleID, jobType string) error {
	article, err := p.store.GetArticle(ctx, articleID)
	if err != nil {
		if store.IsNoRows(err) {
			return clustererr.New(clustererr.Input, clustererr.CodeArticleNotFound, "article no longer exists")
		}
		return clustererr.Wrap(clustererr.Upstream, clustererr.CodeUpstreamUnavailable, err)
	}

	// Idempotency: a job for an article already terminally assigned is a
	// duplicate enqueue, unless this is an explicit recheck job, which
	// intentionally bypasses the short-circuit (spec.md §4.7).
	if jobType != jobTypeRecheck && article.ClusterStatus != "pending" {
		log.Debug().Str("cluster_status", article.ClusterStatus).Msg("article already assigned, skipping duplicate job")
		return nil
	}

	fp := fingerprint.Compute(article.Content)
	if fp.Empty() {
		return p.finish(ctx, articleID, cluster.Assignment{Status: "unique"})
	}

	candidates, err := recall.Find(ctx, p.store, articleID, fp, recall.Options{
		Limit:         p.cfg.RecallCandidateLimit,
		PerClusterCap: p.cfg.RecallPerClusterCap,
		HammingMax:    p.cfg.SimHashHammingMax,
	})
	if err != nil {
		return clustererr.Wrap(clustererr.Upstream, clustererr.CodeUpstreamUnavailable, err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, p.cfg.VerifierTimeBudget)
	defer cancel()

	result := verify.Verify(verifyCtx, fp.Shingles, candidates, p.loader, verify.Options{
		CandidateBudget: p.cfg.VerifierCandidateBudget,
		TimeBudget:      p.cfg.VerifierTimeBudget,
		Threshold:       p.cfg.JaccardMatchThreshold,
	})
	if errors.Is(verifyCtx.Err(), context.DeadlineExceeded) {
		// spec.md §4.6's verifier-timeout handling: assign tentative unique,
		// schedule a delayed recheck rather than blocking the worker.
		if err := p.finish(ctx, articleID, cluster.Assignment{Status: "unique"}); err != nil {
			return err
		}
		_, err := p.store.Enqueue(ctx, jobTypeRecheck, articleID, "", p.cfg.VerifierTimeoutRecheckDelay)
		return err
	}

	assignment, err := cluster.Assign(ctx, p.store, log, articleID, article.PublishTime, fp, result.Matches, cluster.Options{RetryMax: p.cfg.ClusterRetryMax})
	if err != nil {
		if ce, ok := clustererr.As(err); ok && ce.Kind == clustererr.Conflict {
			return err // let the retry/backoff loop try the whole article again
		}
		return err
	}

	if result.Truncated > 0 {
		log.Warn().Int("truncated", result.Truncated).Msg("verifier budget truncated candidate set")
	}

	if err := p.finish(ctx, articleID, assignment); err != nil {
		return err
	}
	if assignment.ClusterID != nil {
		p.refreshTopTerms(ctx, log, *assignment.ClusterID)
	}
	return nil
}

func (p *Pipeline) finish(ctx context.Context, articleID string, assignment cluster.Assignment) error {
	status := assignment.Status
	if err := p.store.FinishArticleAssignment(ctx, articleID, assignment.ClusterID, status, assignment.Score); err != nil {
		return clustererr.Wrap(clustererr.Upstream, clustererr.CodeUpstreamUnavailable, err)
	}
	return nil
}

// refreshTopTerms recomputes and persists a cluster's top_terms summary
// (SPEC_FULL.md §2's supplemented feature) after each membership change.
// Failure here never fails the article's own assignment: top_terms is an
// observability aid, not part of the clustering contract.
func (p *Pipeline) refreshTopTerms(ctx context.Context, log zerolog.Logger, clusterID string) {
	memberIDs, err := p.store.ListClusterMemberIDs(ctx, clusterID)
	if err != nil {
		log.Warn().Err(err).Str("cluster_id", clusterID).Msg("failed to list cluster members for top terms")
		return
	}
	texts := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		article, err := p.store.GetArticle(ctx, id)
		if err != nil {
			continue
		}
		texts = append(texts, textnorm.Content(article.Content))
	}
	terms := toptext.Extract(texts)
	payload, err := json.Marshal(terms)
	if err != nil {
		log.Warn().Err(err).Msg("failed to marshal top terms")
		return
	}
	if err := p.store.SetClusterTopTerms(ctx, clusterID, payload); err != nil {
		log.Warn().Err(err).Str("cluster_id", clusterID).Msg("failed to persist top terms")
	}
}

// backoffDelay implements spec.md §4.6's retry policy: base 1s, factor 2,
// cap 60s, with +/-20% jitter so a burst of failing jobs does not retry in
// lockstep.
func backoffDelay(cfg *config.Config, attempt int) time.Duration {
	base := float64(cfg.BackoffBase)
	factor := cfg.BackoffFactor
	capMax := float64(cfg.BackoffCap)

	raw := base * math.Pow(factor, float64(attempt-1))
	if raw > capMax {
		raw = capMax
	}
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(raw * jitter)
}

// SubmitDirect enqueues a fresh ingest job for an article that was just
// upserted through the API, bypassing any wait for a periodic scan.
func SubmitDirect(ctx context.Context, st Store, articleID string) error {
	if _, err := st.Enqueue(ctx, jobTypeIngest, articleID, "", 0); err != nil {
		return fmt.Errorf("enqueue ingest job: %w", err)
	}
	return nil
}
