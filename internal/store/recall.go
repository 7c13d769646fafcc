package store

import (
	"context"
	"fmt"

	"horse.fit/simcluster/internal/fingerprint"
)

// CandidateHit is one row surfaced by find_by_simhash or find_by_lsh_bands
// (spec.md §4.3), carrying enough of the source article to skip a second
// round trip in internal/recall's ranking step.
type CandidateHit struct {
	ArticleID   string
	ClusterID   *string
	SimHash     uint64
	BandMatches int // number of distinct LSH bands that collided; 0 for a SimHash-only hit
}

// stateDeleted is spec.md §3's state=deleted value; find_by_simhash and
// find_by_lsh_bands both exclude it per §4.3 step 3.
const stateDeleted = 2

// FindBySimHash implements the exact-duplicate branch of spec.md §4.3: a
// pigeonhole search over the 4 sixteen-bit chunks of the SimHash, which is
// a necessary (not sufficient) condition for Hamming distance <= 3 across a
// 64-bit value split into 4 chunks — at least one chunk must match exactly.
// Callers must still verify HammingDistance(a, b) <= max on the result set.
func (p *Pool) FindBySimHash(ctx context.Context, simhash uint64, excludeArticleID string) ([]CandidateHit, error) {
	c0, c1, c2, c3 := simhashChunks(simhash)
	rows, err := p.Query(ctx, `
SELECT f.article_id, a.cluster_id, f.simhash
FROM simcluster.fingerprints f
JOIN simcluster.articles a ON a.article_id = f.article_id
WHERE a.article_id <> $5
  AND a.state <> $6
  AND (f.simhash_c0 = $1 OR f.simhash_c1 = $2 OR f.simhash_c2 = $3 OR f.simhash_c3 = $4)
`, c0, c1, c2, c3, excludeArticleID, stateDeleted)
	if err != nil {
		return nil, fmt.Errorf("find by simhash: %w", err)
	}
	defer rows.Close()

	var out []CandidateHit
	for rows.Next() {
		var hit CandidateHit
		var simhashRaw int64
		if err := rows.Scan(&hit.ArticleID, &hit.ClusterID, &simhashRaw); err != nil {
			return nil, err
		}
		hit.SimHash = uint64(simhashRaw)
		out = append(out, hit)
	}
	return out, rows.Err()
}

// FindByLSHBands implements the near-duplicate branch of spec.md §4.3: any
// article sharing at least one of the 20 band hashes is a MinHash-Jaccard
// candidate under standard LSH false-negative bounds (spec.md P4).
// BandMatches is the real per-article count of colliding bands (grouped, not
// deduplicated to one row) so spec.md §4.3 step 4's ranking proxy — number of
// matching LSH bands — actually distinguishes a 5-band collision from a
// 1-band one.
func (p *Pool) FindByLSHBands(ctx context.Context, bands [fingerprint.LSHBands]uint64, excludeArticleID string) ([]CandidateHit, error) {
	rows, err := p.Query(ctx, `
SELECT fb.article_id, a.cluster_id, f.simhash, COUNT(*) AS band_matches
FROM simcluster.fingerprint_bands fb
JOIN simcluster.articles a ON a.article_id = fb.article_id
JOIN simcluster.fingerprints f ON f.article_id = fb.article_id
WHERE fb.article_id <> $2 AND a.state <> $3 AND fb.band_hash = ANY($1)
GROUP BY fb.article_id, a.cluster_id, f.simhash
`, encodeBandArray(bands), excludeArticleID, stateDeleted)
	if err != nil {
		return nil, fmt.Errorf("find by lsh bands: %w", err)
	}
	defer rows.Close()

	var out []CandidateHit
	for rows.Next() {
		var hit CandidateHit
		var simhashRaw int64
		if err := rows.Scan(&hit.ArticleID, &hit.ClusterID, &simhashRaw, &hit.BandMatches); err != nil {
			return nil, err
		}
		hit.SimHash = uint64(simhashRaw)
		out = append(out, hit)
	}
	return out, rows.Err()
}

func encodeBandArray(bands [fingerprint.LSHBands]uint64) []int64 {
	out := make([]int64, len(bands))
	for i, b := range bands {
		out[i] = int64(b)
	}
	return out
}
