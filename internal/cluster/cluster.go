// Package cluster implements the Cluster Manager of spec.md §4.5: given an
// article and the verified Jaccard matches recall/verify produced, it
// decides which cluster (if any) the article joins, enforcing:
//
//   - C1 (single-winner assignment): an article is never a member of more
//     than one cluster at a time.
//   - C2 (monotone state): a cluster's state only moves forward: its
//     centroid MinHash is the elementwise minimum over its members, its
//     size grows only by appending members, and last_updated never
//     decreases.
//
// The REDESIGN FLAG in spec.md §9 replaces the original naive
// merge_clusters (which picked the numerically smallest cluster id when an
// article matched two clusters) with: admit only to the highest-scoring
// cluster, and log every other matched cluster as a merge candidate for a
// human or a separate offline job to review. Grounded on the teacher's
// pipeline.Service.assignToStory, which had the same admit-highest-score,
// log-the-rest shape for its embedding-similarity matches.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/simcluster/internal/clustererr"
	"horse.fit/simcluster/internal/fingerprint"
	"horse.fit/simcluster/internal/store"
	"horse.fit/simcluster/internal/verify"
)

// Store is the subset of *store.Pool the Cluster Manager depends on.
type Store interface {
	CreateCluster(ctx context.Context, clusterID string, members []store.ClusterMemberSeed, representativeArticleID string, representativeAvgJaccard float64) (*store.ClusterRecord, error)
	AppendToCluster(ctx context.Context, clusterID, articleID string, fp fingerprint.Fingerprint, newAvgJaccard float64, expectedVersion int64) error
	GetCluster(ctx context.Context, clusterID string) (*store.ClusterRecord, error)
	GetMinHash(ctx context.Context, articleID string) ([fingerprint.MinHashPermutations]uint64, error)
	GetPublishTime(ctx context.Context, articleID string) (time.Time, error)
	RecordMergeCandidate(ctx context.Context, articleID, admittedCluster string, otherClusters []string, scores map[string]float64) error
}

// Assignment is the outcome of Assign: either a cluster membership or a
// standalone "unique" article, per spec.md §3's cluster_status values.
type Assignment struct {
	ClusterID *string
	Status    string // "matched" or "unique"
	Score     *float64
}

// Options carries the retry bound from spec.md §4.5 (default N=5).
type Options struct {
	RetryMax int
}

// clusterIDGenerator lets tests substitute a deterministic id source.
var clusterIDGenerator = func() string { return "cl_" + uuid.NewString() }

// Assign implements spec.md §4.5's three branches on the verified match set
// M and the subset C of M whose articles already belong to a cluster:
//
//   - M empty: no candidate verified as similar at all. Write unique, no
//     cluster is ever created (step 1).
//   - |C|=0: M is non-empty but none of its articles have a cluster yet
//     (for example two near-duplicates submitted back to back, both still
//     mid-ingestion). Mint one new cluster containing articleID plus every
//     match in M (step 3).
//   - |C|>=1: admit to the single highest-scoring cluster in C and log
//     every other one as a merge candidate (step 2, REDESIGN FLAG).
//
// publishTime is articleID's own publish_time, needed only by the |C|=0
// branch to break representative ties per spec.md §3.
func Assign(ctx context.Context, st Store, log zerolog.Logger, articleID string, publishTime time.Time, fp fingerprint.Fingerprint, matches []verify.Match, opts Options) (Assignment, error) {
	retryMax := opts.RetryMax
	if retryMax <= 0 {
		retryMax = 5
	}

	if len(matches) == 0 {
		return Assignment{Status: "unique"}, nil
	}

	// A match against an article that hasn't finished its own cluster
	// assignment yet (ClusterID nil) cannot be joined into an existing
	// cluster; it becomes a fellow founding member instead (|C|=0 branch).
	clustered := make([]verify.Match, 0, len(matches))
	for _, m := range matches {
		if m.ClusterID != nil {
			clustered = append(clustered, m)
		}
	}
	if len(clustered) == 0 {
		return createWithPeers(ctx, st, articleID, publishTime, fp, matches)
	}

	best, rest := splitBestMatch(clustered)

	if len(rest) > 0 {
		otherClusters := make([]string, 0, len(rest))
		scores := make(map[string]float64, len(rest)+1)
		scores[best.clusterID] = best.avgJaccard
		for _, m := range rest {
			otherClusters = append(otherClusters, m.clusterID)
			scores[m.clusterID] = m.avgJaccard
		}
		if err := st.RecordMergeCandidate(ctx, articleID, best.clusterID, otherClusters, scores); err != nil {
			log.Warn().Err(err).Str("article_id", articleID).Msg("failed to record merge candidate")
		}
	}

	var lastErr error
	for attempt := 0; attempt < retryMax; attempt++ {
		view, err := st.GetCluster(ctx, best.clusterID)
		if err != nil {
			return Assignment{}, fmt.Errorf("reload cluster before append: %w", err)
		}
		err = st.AppendToCluster(ctx, view.ClusterID, articleID, fp, best.avgJaccard, view.Version)
		if err == nil {
			score := best.avgJaccard
			clusterID := view.ClusterID
			return Assignment{ClusterID: &clusterID, Status: "matched", Score: &score}, nil
		}
		if ce, ok := clustererr.As(err); ok && ce.Kind == clustererr.Conflict {
			lastErr = err
			log.Debug().Str("article_id", articleID).Str("cluster_id", best.clusterID).Int("attempt", attempt).Msg("optimistic append lost race, retrying")
			continue
		}
		return Assignment{}, fmt.Errorf("append to cluster: %w", err)
	}
	return Assignment{}, clustererr.Wrap(clustererr.Conflict, clustererr.CodeClusterConflict, fmt.Errorf("exhausted %d retries appending to cluster %s: %w", retryMax, best.clusterID, lastErr))
}

// foundingMember is one candidate for a brand-new cluster's membership,
// carrying just enough of spec.md §3's representative rule (max average
// Jaccard, ties broken by earliest publish_time then lowest article_id) to
// pick both the representative and the article_ids insertion order.
type foundingMember struct {
	articleID   string
	minHash     [fingerprint.MinHashPermutations]uint64
	publishTime time.Time
	avgJaccard  float64
}

// createWithPeers implements the |C|=0 branch: matches exist but none of
// them belong to a cluster yet, so articleID founds a new cluster together
// with every one of them.
func createWithPeers(ctx context.Context, st Store, articleID string, publishTime time.Time, fp fingerprint.Fingerprint, matches []verify.Match) (Assignment, error) {
	members := make([]foundingMember, 0, len(matches)+1)
	var sumJaccard float64
	for _, m := range matches {
		minhash, err := st.GetMinHash(ctx, m.ArticleID)
		if err != nil {
			return Assignment{}, fmt.Errorf("load minhash for unclustered match %s: %w", m.ArticleID, err)
		}
		peerPublishTime, err := st.GetPublishTime(ctx, m.ArticleID)
		if err != nil {
			return Assignment{}, fmt.Errorf("load publish time for unclustered match %s: %w", m.ArticleID, err)
		}
		// A peer's only known edge at founding time is its Jaccard against
		// articleID; that stands in for its average similarity to the rest
		// of the founding set.
		members = append(members, foundingMember{articleID: m.ArticleID, minHash: minhash, publishTime: peerPublishTime, avgJaccard: m.Jaccard})
		sumJaccard += m.Jaccard
	}
	avgJaccard := sumJaccard / float64(len(matches))
	members = append(members, foundingMember{articleID: articleID, minHash: fp.MinHash, publishTime: publishTime, avgJaccard: avgJaccard})

	// spec.md §3: article_ids insertion order = assignment order; for a
	// single founding event that is the members' own publish order.
	sort.Slice(members, func(i, j int) bool {
		if !members[i].publishTime.Equal(members[j].publishTime) {
			return members[i].publishTime.Before(members[j].publishTime)
		}
		return members[i].articleID < members[j].articleID
	})

	// Representative = max average Jaccard, ties broken by earliest
	// publish_time then lowest article_id. members is already ordered by
	// (publish_time, article_id), so scanning in order and only replacing
	// on a strictly greater avgJaccard resolves ties correctly.
	rep := members[0]
	for _, m := range members[1:] {
		if m.avgJaccard > rep.avgJaccard {
			rep = m
		}
	}

	seeds := make([]store.ClusterMemberSeed, len(members))
	for i, m := range members {
		seeds[i] = store.ClusterMemberSeed{ArticleID: m.articleID, MinHash: m.minHash}
	}

	view, err := st.CreateCluster(ctx, clusterIDGenerator(), seeds, rep.articleID, rep.avgJaccard)
	if err != nil {
		return Assignment{}, fmt.Errorf("create cluster with unclustered matches: %w", err)
	}
	clusterID := view.ClusterID
	score := avgJaccard
	return Assignment{ClusterID: &clusterID, Status: "matched", Score: &score}, nil
}

type scoredCluster struct {
	clusterID  string
	avgJaccard float64
}

// splitBestMatch groups verified matches by cluster (averaging Jaccard
// across members of the same cluster, since verify.Match is per-article)
// and returns the single highest-scoring cluster plus every other distinct
// cluster that also matched.
func splitBestMatch(matches []verify.Match) (best scoredCluster, rest []scoredCluster) {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, m := range matches {
		key := ""
		if m.ClusterID != nil {
			key = *m.ClusterID
		}
		sums[key] += m.Jaccard
		counts[key]++
	}

	scored := make([]scoredCluster, 0, len(sums))
	for key, sum := range sums {
		scored = append(scored, scoredCluster{clusterID: key, avgJaccard: sum / float64(counts[key])})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].avgJaccard > scored[j].avgJaccard })

	return scored[0], scored[1:]
}
