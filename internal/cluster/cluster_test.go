package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/simcluster/internal/clustererr"
	"horse.fit/simcluster/internal/fingerprint"
	"horse.fit/simcluster/internal/store"
	"horse.fit/simcluster/internal/verify"
)

type fakeStore struct {
	clusters       map[string]*store.ClusterRecord
	appendErrs     map[string][]error // per-cluster queue of errors to return, in order
	mergeCandidate bool
	created        []string
	minhashes      map[string][fingerprint.MinHashPermutations]uint64
	publishTimes   map[string]time.Time
	lastMembers    []store.ClusterMemberSeed
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clusters:     make(map[string]*store.ClusterRecord),
		appendErrs:   make(map[string][]error),
		minhashes:    make(map[string][fingerprint.MinHashPermutations]uint64),
		publishTimes: make(map[string]time.Time),
	}
}

func (f *fakeStore) CreateCluster(ctx context.Context, clusterID string, members []store.ClusterMemberSeed, representativeArticleID string, representativeAvgJaccard float64) (*store.ClusterRecord, error) {
	rec := &store.ClusterRecord{
		ClusterID:                clusterID,
		Size:                     len(members),
		RepresentativeArticleID:  representativeArticleID,
		RepresentativeAvgJaccard: representativeAvgJaccard,
		Version:                  1,
	}
	f.clusters[clusterID] = rec
	f.created = append(f.created, clusterID)
	f.lastMembers = members
	return rec, nil
}

func (f *fakeStore) GetMinHash(ctx context.Context, articleID string) ([fingerprint.MinHashPermutations]uint64, error) {
	return f.minhashes[articleID], nil
}

func (f *fakeStore) GetPublishTime(ctx context.Context, articleID string) (time.Time, error) {
	return f.publishTimes[articleID], nil
}

func (f *fakeStore) AppendToCluster(ctx context.Context, clusterID, articleID string, fp fingerprint.Fingerprint, newAvgJaccard float64, expectedVersion int64) error {
	if errs, ok := f.appendErrs[clusterID]; ok && len(errs) > 0 {
		err := errs[0]
		f.appendErrs[clusterID] = errs[1:]
		if err != nil {
			return err
		}
	}
	rec := f.clusters[clusterID]
	rec.Version++
	rec.Size++
	return nil
}

func (f *fakeStore) GetCluster(ctx context.Context, clusterID string) (*store.ClusterRecord, error) {
	rec, ok := f.clusters[clusterID]
	if !ok {
		return nil, clustererr.New(clustererr.NotFound, clustererr.CodeClusterNotFound, "no such cluster")
	}
	return rec, nil
}

func (f *fakeStore) RecordMergeCandidate(ctx context.Context, articleID, admittedCluster string, otherClusters []string, scores map[string]float64) error {
	f.mergeCandidate = true
	return nil
}

func discardLogger() zerolog.Logger { return zerolog.Nop() }

func TestAssign_NoMatchesIsUnique(t *testing.T) {
	st := newFakeStore()
	got, err := Assign(context.Background(), st, discardLogger(), "a1", time.Time{}, fingerprint.Fingerprint{}, nil, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != "unique" {
		t.Fatalf("expected unique status, got %q", got.Status)
	}
}

func TestAssign_UnclusteredMatchesFoundNewClusterTogether(t *testing.T) {
	st := newFakeStore()
	st.minhashes["b1"] = [fingerprint.MinHashPermutations]uint64{1: 42}
	st.publishTimes["b1"] = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	matches := []verify.Match{{ArticleID: "b1", ClusterID: nil, Jaccard: 0.9}}
	got, err := Assign(context.Background(), st, discardLogger(), "a1", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), fingerprint.Fingerprint{}, matches, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != "matched" || got.ClusterID == nil {
		t.Fatalf("expected a1 to found a new cluster with its unclustered match, got %+v", got)
	}
	if got.Score == nil || *got.Score != 0.9 {
		t.Fatalf("expected the seeded score to be the average matched jaccard, got %+v", got.Score)
	}
	if len(st.created) != 1 {
		t.Fatalf("expected exactly one cluster to be created, got %d", len(st.created))
	}
	rec := st.clusters[*got.ClusterID]
	if rec.Size != 2 {
		t.Fatalf("expected the new cluster to contain both a1 and its peer, got size %d", rec.Size)
	}
}

func TestAssign_MultipleUnclusteredMatchesAllJoinTheNewCluster(t *testing.T) {
	st := newFakeStore()
	matches := []verify.Match{
		{ArticleID: "b1", ClusterID: nil, Jaccard: 0.9},
		{ArticleID: "b2", ClusterID: nil, Jaccard: 0.8},
	}
	got, err := Assign(context.Background(), st, discardLogger(), "a1", time.Time{}, fingerprint.Fingerprint{}, matches, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := st.clusters[*got.ClusterID]
	if rec.Size != 3 {
		t.Fatalf("expected a founding cluster of size 3 (a1 + 2 peers), got %d", rec.Size)
	}
	// Computed at run time like Assign does: (0.9+0.8)/2 is not exactly the
	// float64 literal 0.85.
	first, second := 0.9, 0.8
	want := (first + second) / 2
	if got.Score == nil || *got.Score != want {
		t.Fatalf("expected the average of 0.9 and 0.8, got %+v", got.Score)
	}
}

// TestAssign_FoundingRepresentativePrefersEarlierPublishedTiedPeer mirrors
// spec.md §8 scenario 2 (exact duplicate): a2 (the article being processed)
// ties a1's Jaccard at 1.0, so the earlier-published a1 must win both the
// article_ids ordering and the representative slot.
func TestAssign_FoundingRepresentativePrefersEarlierPublishedTiedPeer(t *testing.T) {
	st := newFakeStore()
	st.publishTimes["a1"] = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	matches := []verify.Match{{ArticleID: "a1", ClusterID: nil, Jaccard: 1.0}}
	got, err := Assign(context.Background(), st, discardLogger(), "a2", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), fingerprint.Fingerprint{}, matches, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := st.clusters[*got.ClusterID]
	if rec.RepresentativeArticleID != "a1" {
		t.Fatalf("expected earlier-published a1 to win the representative tie-break, got %q", rec.RepresentativeArticleID)
	}
	if len(st.lastMembers) != 2 || st.lastMembers[0].ArticleID != "a1" || st.lastMembers[1].ArticleID != "a2" {
		t.Fatalf("expected article_ids order [a1,a2], got %+v", st.lastMembers)
	}
}

func TestAssign_SingleClusterJoins(t *testing.T) {
	st := newFakeStore()
	cl := "cl_1"
	st.clusters[cl] = &store.ClusterRecord{ClusterID: cl, Version: 3}

	matches := []verify.Match{{ArticleID: "b1", ClusterID: &cl, Jaccard: 0.85}}
	got, err := Assign(context.Background(), st, discardLogger(), "a1", time.Time{}, fingerprint.Fingerprint{}, matches, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != "matched" || got.ClusterID == nil || *got.ClusterID != cl {
		t.Fatalf("expected match to cluster %s, got %+v", cl, got)
	}
	if st.mergeCandidate {
		t.Fatalf("did not expect a merge candidate to be recorded for a single matched cluster")
	}
}

func TestAssign_MultipleClustersAdmitsHighestScoreAndLogsRest(t *testing.T) {
	st := newFakeStore()
	clA, clB := "cl_a", "cl_b"
	st.clusters[clA] = &store.ClusterRecord{ClusterID: clA, Version: 1}
	st.clusters[clB] = &store.ClusterRecord{ClusterID: clB, Version: 1}

	matches := []verify.Match{
		{ArticleID: "b1", ClusterID: &clA, Jaccard: 0.82},
		{ArticleID: "b2", ClusterID: &clB, Jaccard: 0.95},
	}
	got, err := Assign(context.Background(), st, discardLogger(), "a1", time.Time{}, fingerprint.Fingerprint{}, matches, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ClusterID == nil || *got.ClusterID != clB {
		t.Fatalf("expected the higher-scoring cluster %s to be admitted, got %+v", clB, got)
	}
	if !st.mergeCandidate {
		t.Fatalf("expected the non-admitted cluster to be recorded as a merge candidate")
	}
}

func TestAssign_RetriesOnConflictThenSucceeds(t *testing.T) {
	st := newFakeStore()
	cl := "cl_1"
	st.clusters[cl] = &store.ClusterRecord{ClusterID: cl, Version: 1}
	st.appendErrs[cl] = []error{
		clustererr.New(clustererr.Conflict, clustererr.CodeClusterConflict, "lost race"),
		nil,
	}

	matches := []verify.Match{{ArticleID: "b1", ClusterID: &cl, Jaccard: 0.9}}
	got, err := Assign(context.Background(), st, discardLogger(), "a1", time.Time{}, fingerprint.Fingerprint{}, matches, Options{RetryMax: 3})
	if err != nil {
		t.Fatalf("expected success after one retry, got error: %v", err)
	}
	if got.Status != "matched" {
		t.Fatalf("expected matched status, got %q", got.Status)
	}
}

func TestAssign_ExhaustsRetriesReturnsConflict(t *testing.T) {
	st := newFakeStore()
	cl := "cl_1"
	st.clusters[cl] = &store.ClusterRecord{ClusterID: cl, Version: 1}
	conflictErr := clustererr.New(clustererr.Conflict, clustererr.CodeClusterConflict, "lost race")
	st.appendErrs[cl] = []error{conflictErr, conflictErr, conflictErr}

	matches := []verify.Match{{ArticleID: "b1", ClusterID: &cl, Jaccard: 0.9}}
	_, err := Assign(context.Background(), st, discardLogger(), "a1", time.Time{}, fingerprint.Fingerprint{}, matches, Options{RetryMax: 3})
	if err == nil {
		t.Fatalf("expected an error after exhausting retries")
	}
	ce, ok := clustererr.As(err)
	if !ok || ce.Kind != clustererr.Conflict {
		t.Fatalf("expected a wrapped conflict error, got %v", err)
	}
}

