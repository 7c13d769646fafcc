package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"horse.fit/simcluster/internal/fingerprint"
	"horse.fit/simcluster/internal/globaltime"
)

// ArticleRecord is the Index Gateway's view of spec.md §3's Article,
// returned by GetArticle/SearchArticles and passed to UpsertArticle.
type ArticleRecord struct {
	ArticleID       string
	Title           string
	Content         string
	PublishTime     time.Time
	Source          string
	State           int16
	Top             bool
	Tags            json.RawMessage
	Topic           json.RawMessage
	ClusterID       *string
	ClusterStatus   string
	SimilarityScore *float64
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// UpsertArticle is idempotent by ArticleID: a resubmission with the same
// content rewrites only the metadata fields and leaves cluster state
// untouched (spec.md P5); a resubmission
// that changes content resets the article to cluster_status=pending so the
// ingestion pipeline recomputes its cluster membership.
func (p *Pool) UpsertArticle(ctx context.Context, rec ArticleRecord, fp fingerprint.Fingerprint) (created bool, err error) {
	tx, err := p.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("begin upsert article tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := globaltime.UTC()

	var existingContent string
	var existingVersion int64
	err = tx.QueryRow(ctx, `SELECT content, version FROM simcluster.articles WHERE article_id = $1`, rec.ArticleID).
		Scan(&existingContent, &existingVersion)

	switch {
	case IsNoRows(err):
		if _, execErr := tx.Exec(ctx, `
INSERT INTO simcluster.articles
	(article_id, title, content, normalized_text, publish_time, source, state, top, tags, topic,
	 cluster_id, cluster_status, similarity_score, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULL,'pending',NULL,1,$11,$11)
`,
			rec.ArticleID, rec.Title, rec.Content, fingerprintNormalizedText(fp), rec.PublishTime, rec.Source,
			rec.State, rec.Top, rec.Tags, rec.Topic, now,
		); execErr != nil {
			return false, fmt.Errorf("insert article: %w", execErr)
		}
		if err := upsertFingerprintTx(ctx, tx, rec.ArticleID, fp); err != nil {
			return false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return false, fmt.Errorf("commit insert article: %w", err)
		}
		return true, nil

	case err != nil:
		return false, fmt.Errorf("read existing article: %w", err)

	case existingContent == rec.Content:
		// Idempotent resubmission: touch metadata only, cluster state is untouched.
		if _, execErr := tx.Exec(ctx, `
UPDATE simcluster.articles
SET title=$2, publish_time=$3, source=$4, state=$5, top=$6, tags=$7, topic=$8, updated_at=$9
WHERE article_id=$1
`, rec.ArticleID, rec.Title, rec.PublishTime, rec.Source, rec.State, rec.Top, rec.Tags, rec.Topic, now); execErr != nil {
			return false, fmt.Errorf("touch article: %w", execErr)
		}
		if err := tx.Commit(ctx); err != nil {
			return false, fmt.Errorf("commit touch article: %w", err)
		}
		return false, nil

	default:
		// Content changed: recompute from scratch, reset to pending.
		if _, execErr := tx.Exec(ctx, `
UPDATE simcluster.articles
SET title=$2, content=$3, normalized_text=$4, publish_time=$5, source=$6, state=$7, top=$8, tags=$9, topic=$10,
    cluster_status='pending', similarity_score=NULL, version=version+1, updated_at=$11
WHERE article_id=$1
`,
			rec.ArticleID, rec.Title, rec.Content, fingerprintNormalizedText(fp), rec.PublishTime, rec.Source,
			rec.State, rec.Top, rec.Tags, rec.Topic, now,
		); execErr != nil {
			return false, fmt.Errorf("update article: %w", execErr)
		}
		if err := upsertFingerprintTx(ctx, tx, rec.ArticleID, fp); err != nil {
			return false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return false, fmt.Errorf("commit update article: %w", err)
		}
		return false, nil
	}
}

func fingerprintNormalizedText(fp fingerprint.Fingerprint) string {
	// Shingles do not retain the original text; normalized_text stores a
	// derived marker for observability only. Full text lives in content.
	return fmt.Sprintf("shingles=%d", len(fp.Shingles))
}

func upsertFingerprintTx(ctx context.Context, tx Tx, articleID string, fp fingerprint.Fingerprint) error {
	c0, c1, c2, c3 := simhashChunks(fp.SimHash)
	minhashBytes := encodeMinHash(fp.MinHash)

	if _, err := tx.Exec(ctx, `
INSERT INTO simcluster.fingerprints (article_id, simhash, simhash_c0, simhash_c1, simhash_c2, simhash_c3, minhash, shingle_count)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (article_id) DO UPDATE SET
	simhash=EXCLUDED.simhash, simhash_c0=EXCLUDED.simhash_c0, simhash_c1=EXCLUDED.simhash_c1,
	simhash_c2=EXCLUDED.simhash_c2, simhash_c3=EXCLUDED.simhash_c3, minhash=EXCLUDED.minhash,
	shingle_count=EXCLUDED.shingle_count
`, articleID, int64(fp.SimHash), c0, c1, c2, c3, minhashBytes, len(fp.Shingles)); err != nil {
		return fmt.Errorf("upsert fingerprint: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM simcluster.fingerprint_bands WHERE article_id = $1`, articleID); err != nil {
		return fmt.Errorf("clear fingerprint bands: %w", err)
	}
	for i, band := range fp.LSHBands {
		if _, err := tx.Exec(ctx, `
INSERT INTO simcluster.fingerprint_bands (article_id, band_index, band_hash) VALUES ($1,$2,$3)
`, articleID, int16(i), int64(band)); err != nil {
			return fmt.Errorf("insert fingerprint band: %w", err)
		}
	}
	return nil
}

// GetArticle loads a single article by id.
func (p *Pool) GetArticle(ctx context.Context, articleID string) (*ArticleRecord, error) {
	row := p.QueryRow(ctx, `
SELECT article_id, title, content, publish_time, source, state, top, tags, topic,
       cluster_id, cluster_status, similarity_score, version, created_at, updated_at
FROM simcluster.articles WHERE article_id = $1
`, articleID)
	var rec ArticleRecord
	if err := row.Scan(&rec.ArticleID, &rec.Title, &rec.Content, &rec.PublishTime, &rec.Source, &rec.State,
		&rec.Top, &rec.Tags, &rec.Topic, &rec.ClusterID, &rec.ClusterStatus, &rec.SimilarityScore,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetFingerprint loads the sketch bundle stored for an article, reconstructing
// shingles from content since spec.md §9 allows lazy shingle storage.
func (p *Pool) GetFingerprint(ctx context.Context, articleID, content string) (fingerprint.Fingerprint, error) {
	row := p.QueryRow(ctx, `SELECT simhash, minhash FROM simcluster.fingerprints WHERE article_id = $1`, articleID)
	var simhash int64
	var minhashBytes []byte
	if err := row.Scan(&simhash, &minhashBytes); err != nil {
		return fingerprint.Fingerprint{}, err
	}
	minhash, err := decodeMinHash(minhashBytes)
	if err != nil {
		return fingerprint.Fingerprint{}, err
	}
	shingles := fingerprint.Compute(content).Shingles
	return fingerprint.Fingerprint{
		SimHash:  uint64(simhash),
		MinHash:  minhash,
		LSHBands: fingerprint.Bands(minhash),
		Shingles: shingles,
	}, nil
}

// GetMinHash loads only an article's stored MinHash signature, cheaper than
// GetFingerprint when the caller (internal/cluster, seeding a new cluster
// from unclustered peer matches) has no need to reconstruct shingles.
func (p *Pool) GetMinHash(ctx context.Context, articleID string) ([fingerprint.MinHashPermutations]uint64, error) {
	row := p.QueryRow(ctx, `SELECT minhash FROM simcluster.fingerprints WHERE article_id = $1`, articleID)
	var minhashBytes []byte
	if err := row.Scan(&minhashBytes); err != nil {
		return [fingerprint.MinHashPermutations]uint64{}, err
	}
	return decodeMinHash(minhashBytes)
}

// GetPublishTime loads only an article's publish_time, used by the Cluster
// Manager's founding-representative tie-break (spec.md §3) without paying
// for a full ArticleRecord load.
func (p *Pool) GetPublishTime(ctx context.Context, articleID string) (time.Time, error) {
	row := p.QueryRow(ctx, `SELECT publish_time FROM simcluster.articles WHERE article_id = $1`, articleID)
	var pt time.Time
	if err := row.Scan(&pt); err != nil {
		return time.Time{}, err
	}
	return pt, nil
}

// ArticleFilter parameterizes search_articles (spec.md §4.2).
type ArticleFilter struct {
	Source        string
	ClusterStatus string
	State         *int16
	Page          int
	PageSize      int
}

// SearchArticles backs GET /clusters (filtered article search, spec.md §6).
func (p *Pool) SearchArticles(ctx context.Context, filter ArticleFilter) ([]ArticleRecord, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 || pageSize > 200 {
		pageSize = 25
	}

	query := `
SELECT article_id, title, content, publish_time, source, state, top, tags, topic,
       cluster_id, cluster_status, similarity_score, version, created_at, updated_at
FROM simcluster.articles
WHERE ($1 = '' OR source = $1)
  AND ($2 = '' OR cluster_status = $2)
  AND ($3::smallint IS NULL OR state = $3)
ORDER BY created_at DESC
LIMIT $4 OFFSET $5
`
	rows, err := p.Query(ctx, query, filter.Source, filter.ClusterStatus, filter.State, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("search articles: %w", err)
	}
	defer rows.Close()

	var out []ArticleRecord
	for rows.Next() {
		var rec ArticleRecord
		if err := rows.Scan(&rec.ArticleID, &rec.Title, &rec.Content, &rec.PublishTime, &rec.Source, &rec.State,
			&rec.Top, &rec.Tags, &rec.Topic, &rec.ClusterID, &rec.ClusterStatus, &rec.SimilarityScore,
			&rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan article row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// FinishArticleAssignment writes the terminal cluster_status/similarity_score
// the Cluster Manager computed, per spec.md §4.6 step 6.
func (p *Pool) FinishArticleAssignment(ctx context.Context, articleID string, clusterID *string, status string, score *float64) error {
	_, err := p.Exec(ctx, `
UPDATE simcluster.articles
SET cluster_id=$2, cluster_status=$3, similarity_score=$4, version=version+1, updated_at=$5
WHERE article_id=$1
`, articleID, clusterID, status, score, globaltime.UTC())
	return err
}

// ResetToPending implements the recheck transition of spec.md §4.5's state
// machine: pending <- matched|unique.
func (p *Pool) ResetToPending(ctx context.Context, articleID string) error {
	_, err := p.Exec(ctx, `
UPDATE simcluster.articles SET cluster_status='pending', updated_at=$2 WHERE article_id=$1
`, articleID, globaltime.UTC())
	return err
}

func simhashChunks(h uint64) (c0, c1, c2, c3 int32) {
	return int32(h & 0xFFFF), int32((h >> 16) & 0xFFFF), int32((h >> 32) & 0xFFFF), int32((h >> 48) & 0xFFFF)
}

func encodeMinHash(sig [fingerprint.MinHashPermutations]uint64) []byte {
	buf := make([]byte, fingerprint.MinHashPermutations*8)
	for i, v := range sig {
		for b := 0; b < 8; b++ {
			buf[i*8+b] = byte(v >> (8 * b))
		}
	}
	return buf
}

func decodeMinHash(buf []byte) ([fingerprint.MinHashPermutations]uint64, error) {
	var sig [fingerprint.MinHashPermutations]uint64
	if len(buf) != fingerprint.MinHashPermutations*8 {
		return sig, fmt.Errorf("minhash blob has unexpected length %d", len(buf))
	}
	for i := range sig {
		var v uint64
		for b := 0; b < 8; b++ {
			v |= uint64(buf[i*8+b]) << (8 * b)
		}
		sig[i] = v
	}
	return sig, nil
}
