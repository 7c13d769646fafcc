// Package verify implements the Jaccard Verifier of spec.md §4.4: it takes
// the candidates internal/recall surfaced and computes exact Jaccard
// similarity against each one, bounded by a candidate-count and wall-clock
// budget so one pathologically large candidate set can never stall a
// worker.
//
// Grounded on the teacher's pipeline.Service.verifyCandidates, which ran a
// bounded worker pool over candidate embeddings using golang.org/x/sync;
// the same shape is reused here with golang.org/x/sync/semaphore gating
// concurrent shingle-set comparisons instead of embedding cosine similarity.
package verify

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"horse.fit/simcluster/internal/fingerprint"
	"horse.fit/simcluster/internal/recall"
)

// Match is a verified candidate whose Jaccard similarity met the threshold.
type Match struct {
	ArticleID string
	ClusterID *string
	Jaccard   float64
}

// ShingleLoader fetches the shingle set for a candidate article, deferred
// to the caller since only articles actually reached by the budget need
// their shingles loaded from storage.
type ShingleLoader func(ctx context.Context, articleID string) (fingerprint.Set, error)

// Result reports both the verified matches and how much of the candidate
// set the budget forced the verifier to skip, so callers can emit the
// verifier_truncated_total metric spec.md §4.4 calls for.
type Result struct {
	Matches   []Match
	Truncated int
}

// Options bounds the verifier per spec.md §4.4 (default 20 candidates / 50ms).
type Options struct {
	CandidateBudget int
	TimeBudget      time.Duration
	Threshold       float64
	Concurrency     int64
}

// Verify computes exact Jaccard similarity between shingles (the querying
// article's shingle set) and each candidate, stopping once the candidate
// or time budget is exhausted. Candidates beyond the budget are counted as
// truncated, never silently dropped from observability.
func Verify(ctx context.Context, shingles fingerprint.Set, candidates []recall.Candidate, load ShingleLoader, opts Options) Result {
	budget := opts.CandidateBudget
	if budget <= 0 {
		budget = 20
	}
	timeBudget := opts.TimeBudget
	if timeBudget <= 0 {
		timeBudget = 50 * time.Millisecond
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = 0.80
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	truncated := 0
	if len(candidates) > budget {
		truncated = len(candidates) - budget
		candidates = candidates[:budget]
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, timeBudget)
	defer cancel()

	sem := semaphore.NewWeighted(concurrency)
	var mu sync.Mutex
	var matches []Match
	var wg sync.WaitGroup

	for _, cand := range candidates {
		cand := cand
		if err := sem.Acquire(deadlineCtx, 1); err != nil {
			// Budget-bounded, not error-bounded: a deadline mid-scan just
			// means the remaining candidates are counted as truncated.
			mu.Lock()
			truncated++
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			candShingles, err := load(deadlineCtx, cand.ArticleID)
			if err != nil {
				mu.Lock()
				truncated++
				mu.Unlock()
				return
			}
			j := fingerprint.Jaccard(shingles, candShingles)
			if j >= threshold {
				mu.Lock()
				matches = append(matches, Match{ArticleID: cand.ArticleID, ClusterID: cand.ClusterID, Jaccard: j})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(matches, func(i, j int) bool { return matches[i].Jaccard > matches[j].Jaccard })

	return Result{Matches: matches, Truncated: truncated}
}
