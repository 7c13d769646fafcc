package recall

import (
	"context"
	"testing"

	"horse.fit/simcluster/internal/fingerprint"
	"horse.fit/simcluster/internal/store"
)

type fakeStore struct {
	simhashHits []store.CandidateHit
	bandHits    []store.CandidateHit
}

func (f fakeStore) FindBySimHash(ctx context.Context, simhash uint64, excludeArticleID string) ([]store.CandidateHit, error) {
	return f.simhashHits, nil
}

func (f fakeStore) FindByLSHBands(ctx context.Context, bands [fingerprint.LSHBands]uint64, excludeArticleID string) ([]store.CandidateHit, error) {
	return f.bandHits, nil
}

func strPtr(s string) *string { return &s }

func TestFind_RejectsEmptyFingerprint(t *testing.T) {
	_, err := Find(context.Background(), fakeStore{}, "a1", fingerprint.Fingerprint{}, Options{})
	if err == nil {
		t.Fatalf("expected an error for an empty fingerprint")
	}
}

func TestFind_MergesExactAndBandHitsDeduped(t *testing.T) {
	fp := fingerprint.Compute("a full article body about a spacecraft launch today")

	st := fakeStore{
		simhashHits: []store.CandidateHit{
			{ArticleID: "dup", ClusterID: strPtr("cl_1"), SimHash: fp.SimHash},
		},
		bandHits: []store.CandidateHit{
			{ArticleID: "dup", ClusterID: strPtr("cl_1"), SimHash: fp.SimHash},
			{ArticleID: "other", ClusterID: strPtr("cl_2"), SimHash: fp.SimHash},
		},
	}

	got, err := Find(context.Background(), st, "self", fp, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 deduped candidates, got %d", len(got))
	}
	if got[0].ArticleID != "dup" || !got[0].ExactHit {
		t.Fatalf("expected the exact hit to rank first, got %+v", got[0])
	}
}

func TestFind_RanksByBandMatchCount(t *testing.T) {
	fp := fingerprint.Compute("a full article body about a spacecraft launch today")

	st := fakeStore{
		bandHits: []store.CandidateHit{
			{ArticleID: "weak", ClusterID: strPtr("cl_1"), SimHash: fp.SimHash, BandMatches: 1},
			{ArticleID: "strong", ClusterID: strPtr("cl_2"), SimHash: fp.SimHash, BandMatches: 5},
		},
	}

	got, err := Find(context.Background(), st, "self", fp, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].ArticleID != "strong" {
		t.Fatalf("expected the higher band-match count to rank first, got %+v", got)
	}
}

func TestFind_EnforcesPerClusterCap(t *testing.T) {
	fp := fingerprint.Compute("a full article body about a spacecraft launch today")

	hits := make([]store.CandidateHit, 0, 5)
	for i := 0; i < 5; i++ {
		hits = append(hits, store.CandidateHit{
			ArticleID: string(rune('a' + i)),
			ClusterID: strPtr("cl_1"),
			SimHash:   fp.SimHash,
		})
	}
	st := fakeStore{bandHits: hits}

	got, err := Find(context.Background(), st, "self", fp, Options{PerClusterCap: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected per-cluster cap of 2, got %d", len(got))
	}
}

func TestFind_TruncatesToLimit(t *testing.T) {
	fp := fingerprint.Compute("a full article body about a spacecraft launch today")

	hits := make([]store.CandidateHit, 0, 10)
	for i := 0; i < 10; i++ {
		cid := "cl_" + string(rune('a'+i))
		hits = append(hits, store.CandidateHit{
			ArticleID: string(rune('a' + i)),
			ClusterID: &cid,
			SimHash:   fp.SimHash,
		})
	}
	st := fakeStore{bandHits: hits}

	got, err := Find(context.Background(), st, "self", fp, Options{Limit: 3, PerClusterCap: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected Limit=3 candidates, got %d", len(got))
	}
}
