// Package recall implements the Candidate Recall stage of spec.md §4.3:
// given a newly ingested article's fingerprint, find every other article
// that is plausibly near-duplicate before the expensive exact Jaccard
// verifier looks at any of them.
//
// Grounded on the teacher's pipeline.Service.findCandidates, which ran two
// parallel lookups (embedding kNN and simhash bucket) and merged the
// results; here the two lookups are SimHash pigeonhole and MinHash/LSH
// band membership instead of a vector index, since spec.md's design is
// hash-sketch based rather than embedding based.
package recall

import (
	"context"
	"fmt"
	"sort"

	"horse.fit/simcluster/internal/fingerprint"
	"horse.fit/simcluster/internal/store"
)

// Candidate is a deduplicated, ranked recall result ready for the verifier.
type Candidate struct {
	ArticleID   string
	ClusterID   *string
	SimHash     uint64
	BandMatches int
	ExactHit    bool
}

// Store is the subset of *store.Pool the recall stage depends on, narrowed
// so tests can supply a fake without pulling in gorm.
type Store interface {
	FindBySimHash(ctx context.Context, simhash uint64, excludeArticleID string) ([]store.CandidateHit, error)
	FindByLSHBands(ctx context.Context, bands [fingerprint.LSHBands]uint64, excludeArticleID string) ([]store.CandidateHit, error)
}

// Options configures the K/per-cluster-cap bounds from spec.md §4.3.
type Options struct {
	Limit         int // K, default 50
	PerClusterCap int // default 3
	HammingMax    int // default 3
}

// Find runs both lookups, merges and dedupes by article id, drops
// candidates over the per-cluster cap, ranks by (exact-hit first, then
// matching-band count, then SimHash closeness), and truncates to Limit.
//
// Callers must never call Find with an empty fingerprint (fp.Empty()):
// MinHash of an empty shingle set fills every slot with the same sentinel
// value, which would make every other empty-fingerprint article a perfect
// false-positive LSH match. internal/ingest checks Empty() before recall
// runs and short-circuits such articles straight to cluster_status=unique
// with no cluster.
func Find(ctx context.Context, st Store, articleID string, fp fingerprint.Fingerprint, opts Options) ([]Candidate, error) {
	if fp.Empty() {
		return nil, fmt.Errorf("recall.Find called with an empty fingerprint for article %s", articleID)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	perClusterCap := opts.PerClusterCap
	if perClusterCap <= 0 {
		perClusterCap = 3
	}
	hammingMax := opts.HammingMax
	if hammingMax <= 0 {
		hammingMax = 3
	}

	exactHits, err := st.FindBySimHash(ctx, fp.SimHash, articleID)
	if err != nil {
		return nil, fmt.Errorf("simhash lookup: %w", err)
	}
	bandHits, err := st.FindByLSHBands(ctx, fp.LSHBands, articleID)
	if err != nil {
		return nil, fmt.Errorf("lsh band lookup: %w", err)
	}

	merged := make(map[string]*Candidate)
	for _, hit := range exactHits {
		if fingerprint.HammingDistance(fp.SimHash, hit.SimHash) > hammingMax {
			continue // pigeonhole chunk match is necessary, not sufficient
		}
		merged[hit.ArticleID] = &Candidate{
			ArticleID: hit.ArticleID,
			ClusterID: hit.ClusterID,
			SimHash:   hit.SimHash,
			ExactHit:  true,
		}
	}
	for _, hit := range bandHits {
		if c, ok := merged[hit.ArticleID]; ok {
			c.BandMatches = hit.BandMatches
			continue
		}
		merged[hit.ArticleID] = &Candidate{
			ArticleID:   hit.ArticleID,
			ClusterID:   hit.ClusterID,
			SimHash:     hit.SimHash,
			BandMatches: hit.BandMatches,
		}
	}

	candidates := make([]Candidate, 0, len(merged))
	for _, c := range merged {
		candidates = append(candidates, *c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.ExactHit != cj.ExactHit {
			return ci.ExactHit
		}
		if ci.BandMatches != cj.BandMatches {
			return ci.BandMatches > cj.BandMatches
		}
		di := fingerprint.HammingDistance(fp.SimHash, ci.SimHash)
		dj := fingerprint.HammingDistance(fp.SimHash, cj.SimHash)
		if di != dj {
			return di < dj
		}
		return ci.ArticleID < cj.ArticleID // stable tiebreak
	})

	clusterCounts := make(map[string]int)
	out := make([]Candidate, 0, limit)
	for _, c := range candidates {
		if len(out) >= limit {
			break
		}
		if c.ClusterID != nil {
			key := *c.ClusterID
			if clusterCounts[key] >= perClusterCap {
				continue
			}
			clusterCounts[key]++
		}
		out = append(out, c)
	}
	return out, nil
}
