package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"horse.fit/simcluster/internal/globaltime"
)

// QueuedJob is a claimed row from simcluster.similarity_jobs, handed to an
// internal/ingest worker.
type QueuedJob struct {
	JobID     string
	JobType   string
	ArticleID string
	Attempt   int
}

// Enqueue inserts a new similarity_jobs row. delay lets the Ingestion
// Pipeline schedule the 60s delayed recheck of spec.md §4.6's
// verifier-timeout handling, or the Recheck Controller schedule an
// immediate (delay=0) recheck job with a caller-supplied jobID.
func (p *Pool) Enqueue(ctx context.Context, jobType, articleID, jobID string, delay time.Duration) (string, error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	now := globaltime.UTC()
	_, err := p.Exec(ctx, `
INSERT INTO simcluster.similarity_jobs (job_id, job_type, article_id, attempt, status, enqueued_at, not_before, updated_at)
VALUES ($1,$2,$3,0,'pending',$4,$5,$4)
`, jobID, jobType, articleID, now, now.Add(delay))
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

// ClaimNext implements the Postgres-as-queue claim pattern (FOR UPDATE SKIP
// LOCKED) that backs spec.md §4.6's N-worker ingestion pool: each worker
// calls this on its own connection and never contends with another worker
// for the same row.
func (p *Pool) ClaimNext(ctx context.Context) (*QueuedJob, error) {
	tx, err := p.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	now := globaltime.UTC()
	row := tx.QueryRow(ctx, `
SELECT job_id, job_type, article_id, attempt
FROM simcluster.similarity_jobs
WHERE status = 'pending' AND not_before <= $1
ORDER BY not_before ASC
FOR UPDATE SKIP LOCKED
LIMIT 1
`, now)

	var job QueuedJob
	if err := row.Scan(&job.JobID, &job.JobType, &job.ArticleID, &job.Attempt); err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim next job: %w", err)
	}

	if _, err := tx.Exec(ctx, `
UPDATE simcluster.similarity_jobs SET status = 'claimed', claimed_at = $2, updated_at = $2 WHERE job_id = $1
`, job.JobID, now); err != nil {
		return nil, fmt.Errorf("mark job claimed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	committed = true
	return &job, nil
}

// Ack marks a job permanently done.
func (p *Pool) Ack(ctx context.Context, jobID string) error {
	_, err := p.Exec(ctx, `
UPDATE simcluster.similarity_jobs SET status = 'done', updated_at = $2 WHERE job_id = $1
`, jobID, globaltime.UTC())
	return err
}

// Retry re-queues a job after a transient failure with the backoff delay
// internal/ingest computed (spec.md §4.6: base 1s, factor 2, cap 60s).
func (p *Pool) Retry(ctx context.Context, jobID string, nextAttempt int, delay time.Duration) error {
	now := globaltime.UTC()
	_, err := p.Exec(ctx, `
UPDATE simcluster.similarity_jobs
SET status = 'pending', attempt = $2, not_before = $3, claimed_at = NULL, updated_at = $4
WHERE job_id = $1
`, jobID, nextAttempt, now.Add(delay), now)
	return err
}

// DeadLetter marks a job permanently failed, recording the terminal reason
// for operators. internal/ingest calls it once spec.md §4.6's max attempts
// (5) are exhausted, and at once for an Input-kind error.
func (p *Pool) DeadLetter(ctx context.Context, jobID, reason string) error {
	_, err := p.Exec(ctx, `
UPDATE simcluster.similarity_jobs
SET status = 'dead_letter', dead_letter_reason = $2, updated_at = $3
WHERE job_id = $1
`, jobID, reason, globaltime.UTC())
	return err
}

// ReapStuckJobs resets jobs still 'claimed' past olderThan back to pending
// with attempt+1, for the case where a worker crashed after claiming a job
// but before acking, retrying, or dead-lettering it. A job whose attempt
// count has already reached maxAttempts is dead-lettered instead of
// requeued again, mirroring the ordinary retry exhaustion path in
// internal/ingest. Returns the number of rows reset to pending.
func (p *Pool) ReapStuckJobs(ctx context.Context, olderThan time.Duration, maxAttempts int) (int64, error) {
	now := globaltime.UTC()
	cutoff := now.Add(-olderThan)

	if _, err := p.Exec(ctx, `
UPDATE simcluster.similarity_jobs
SET status = 'dead_letter', dead_letter_reason = 'reaped after exceeding max attempts while claimed', updated_at = $3
WHERE status = 'claimed' AND claimed_at < $1 AND attempt >= $2
`, cutoff, maxAttempts, now); err != nil {
		return 0, fmt.Errorf("dead-letter exhausted stuck jobs: %w", err)
	}

	tag, err := p.Exec(ctx, `
UPDATE simcluster.similarity_jobs
SET status = 'pending', attempt = attempt + 1, claimed_at = NULL, not_before = $3, updated_at = $3
WHERE status = 'claimed' AND claimed_at < $1 AND attempt < $2
`, cutoff, maxAttempts, now)
	if err != nil {
		return 0, fmt.Errorf("reap stuck jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// QueueDepth reports the counts of pending, claimed and dead-lettered jobs,
// backing
// the GET /system/health queue-depth/warn reporting from SPEC_FULL.md §2.
func (p *Pool) QueueDepth(ctx context.Context) (pending, claimed, deadLettered int64, err error) {
	row := p.QueryRow(ctx, `
SELECT
	COUNT(*) FILTER (WHERE status = 'pending'),
	COUNT(*) FILTER (WHERE status = 'claimed'),
	COUNT(*) FILTER (WHERE status = 'dead_letter')
FROM simcluster.similarity_jobs
`)
	if err := row.Scan(&pending, &claimed, &deadLettered); err != nil {
		return 0, 0, 0, fmt.Errorf("queue depth: %w", err)
	}
	return pending, claimed, deadLettered, nil
}
