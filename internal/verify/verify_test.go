package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"horse.fit/simcluster/internal/fingerprint"
	"horse.fit/simcluster/internal/recall"
)

func shinglesOf(text string) fingerprint.Set {
	return fingerprint.Compute(text).Shingles
}

func TestVerify_MatchesAboveThreshold(t *testing.T) {
	base := "the quick brown fox jumps over the lazy dog near the river bank"
	self := shinglesOf(base)

	candidates := []recall.Candidate{
		{ArticleID: "near-dup"},
		{ArticleID: "unrelated"},
	}
	load := func(ctx context.Context, articleID string) (fingerprint.Set, error) {
		switch articleID {
		case "near-dup":
			return shinglesOf(base), nil
		default:
			return shinglesOf("a completely different article about tax policy reform"), nil
		}
	}

	res := Verify(context.Background(), self, candidates, load, Options{Threshold: 0.80})
	if len(res.Matches) != 1 || res.Matches[0].ArticleID != "near-dup" {
		t.Fatalf("expected exactly one match for near-dup, got %+v", res.Matches)
	}
	if res.Truncated != 0 {
		t.Fatalf("expected no truncation, got %d", res.Truncated)
	}
}

func TestVerify_TruncatesBeyondCandidateBudget(t *testing.T) {
	self := shinglesOf("some article content used only to build shingles")
	candidates := make([]recall.Candidate, 5)
	for i := range candidates {
		candidates[i] = recall.Candidate{ArticleID: "c"}
	}
	load := func(ctx context.Context, articleID string) (fingerprint.Set, error) {
		return self, nil
	}

	res := Verify(context.Background(), self, candidates, load, Options{CandidateBudget: 2})
	if res.Truncated != 3 {
		t.Fatalf("expected 3 candidates truncated by the budget, got %d", res.Truncated)
	}
}

func TestVerify_LoaderErrorCountsAsTruncated(t *testing.T) {
	self := shinglesOf("some article content used only to build shingles")
	candidates := []recall.Candidate{{ArticleID: "broken"}}
	load := func(ctx context.Context, articleID string) (fingerprint.Set, error) {
		return nil, errors.New("storage unavailable")
	}

	res := Verify(context.Background(), self, candidates, load, Options{})
	if len(res.Matches) != 0 {
		t.Fatalf("expected no matches when the loader fails")
	}
	if res.Truncated != 1 {
		t.Fatalf("expected the failed load counted as truncated, got %d", res.Truncated)
	}
}

func TestVerify_RespectsTimeBudget(t *testing.T) {
	self := shinglesOf("some article content used only to build shingles")
	candidates := []recall.Candidate{{ArticleID: "slow"}}
	load := func(ctx context.Context, articleID string) (fingerprint.Set, error) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
		}
		return self, ctx.Err()
	}

	res := Verify(context.Background(), self, candidates, load, Options{TimeBudget: 5 * time.Millisecond})
	if len(res.Matches) != 0 {
		t.Fatalf("expected the slow candidate to miss the time budget")
	}
}
