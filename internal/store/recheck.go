package store

import (
	"context"
	"fmt"
	"time"

	"horse.fit/simcluster/internal/globaltime"
)

// RecheckCooldownRemaining implements spec.md §4.7's per-article cooldown:
// returns the time of the last recheck request, or the zero value if none
// has been recorded, so the caller can compare against the configured
// cooldown window.
func (p *Pool) RecheckCooldownRemaining(ctx context.Context, articleID string) (lastRequestedAt time.Time, found bool, err error) {
	row := p.QueryRow(ctx, `SELECT last_requested_at FROM simcluster.recheck_cooldowns WHERE article_id = $1`, articleID)
	if err := row.Scan(&lastRequestedAt); err != nil {
		if IsNoRows(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("read recheck cooldown: %w", err)
	}
	return lastRequestedAt, true, nil
}

// TouchRecheckCooldown records that a recheck was just accepted for
// articleID, resetting the cooldown clock.
func (p *Pool) TouchRecheckCooldown(ctx context.Context, articleID string) error {
	now := globaltime.UTC()
	_, err := p.Exec(ctx, `
INSERT INTO simcluster.recheck_cooldowns (article_id, last_requested_at) VALUES ($1,$2)
ON CONFLICT (article_id) DO UPDATE SET last_requested_at = EXCLUDED.last_requested_at
`, articleID, now)
	return err
}

// NextRecheckJobID mints a recheck_{yyyymmdd}_{4-digit counter} id per
// spec.md §4.7, backed by a durable per-day counter row so the counter keeps
// increasing across process restarts. The id shows the counter modulo
// 10000, so ids repeat after the 9999th recheck of a day.
func (p *Pool) NextRecheckJobID(ctx context.Context) (string, error) {
	tx, err := p.BeginTx(ctx)
	if err != nil {
		return "", fmt.Errorf("begin recheck counter tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	day := globaltime.UTC().Format("20060102")

	var counter int
	err = tx.QueryRow(ctx, `SELECT counter FROM simcluster.recheck_job_counters WHERE day = $1 FOR UPDATE`, day).Scan(&counter)
	switch {
	case IsNoRows(err):
		counter = 0
		if _, execErr := tx.Exec(ctx, `INSERT INTO simcluster.recheck_job_counters (day, counter) VALUES ($1, 0)`, day); execErr != nil {
			return "", fmt.Errorf("seed recheck counter: %w", execErr)
		}
	case err != nil:
		return "", fmt.Errorf("read recheck counter: %w", err)
	}

	counter++
	if _, err := tx.Exec(ctx, `UPDATE simcluster.recheck_job_counters SET counter = $2 WHERE day = $1`, day, counter); err != nil {
		return "", fmt.Errorf("advance recheck counter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit recheck counter: %w", err)
	}

	return fmt.Sprintf("recheck_%s_%04d", day, counter%10000), nil
}
