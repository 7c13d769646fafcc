package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"horse.fit/simcluster/internal/clustererr"
	"horse.fit/simcluster/internal/fingerprint"
	"horse.fit/simcluster/internal/globaltime"
)

// ClusterRecord is the Index Gateway's view of spec.md §3's Cluster.
type ClusterRecord struct {
	ClusterID                string
	Size                     int
	RepresentativeArticleID  string
	RepresentativeAvgJaccard float64
	CentroidMinHash          [fingerprint.MinHashPermutations]uint64
	TopTerms                 json.RawMessage
	LastUpdated              time.Time
	Version                  int64
	CreatedAt                time.Time
}

// ClusterMemberSeed is one founding member of a brand-new cluster: an
// article plus the MinHash it contributes to the centroid. Only the MinHash
// is needed at creation time; shingles are never needed again once a
// member's own ingestion job has verified it (or, for the article driving
// creation, already has fp in hand).
type ClusterMemberSeed struct {
	ArticleID string
	MinHash   [fingerprint.MinHashPermutations]uint64
}

// CreateCluster implements spec.md §4.5's |C|=0 branch: a brand-new cluster
// keyed by an id the caller has already minted, from an ordered list of
// founding members. members[i]'s index becomes its article_ids position, so
// the caller is responsible for spec.md §3's "insertion order = assignment
// order" ordering before calling in. representativeArticleID must name one
// of members, chosen by the caller via §3's representative rule (max
// average Jaccard, ties broken by earliest publish_time then lowest
// article_id); representativeAvgJaccard seeds representative_avg_jaccard
// the same way AppendToCluster tracks it afterward.
func (p *Pool) CreateCluster(ctx context.Context, clusterID string, members []ClusterMemberSeed, representativeArticleID string, representativeAvgJaccard float64) (*ClusterRecord, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("create cluster %s: no founding members", clusterID)
	}

	tx, err := p.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create cluster tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := globaltime.UTC()
	centroid := members[0].MinHash
	for _, m := range members[1:] {
		for i, v := range m.MinHash {
			if v < centroid[i] {
				centroid[i] = v
			}
		}
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO simcluster.clusters
	(cluster_id, size, representative_article_id, representative_avg_jaccard, centroid_minhash, top_terms, last_updated, version, created_at)
VALUES ($1,$2,$3,$4,$5,'[]',$6,1,$6)
`, clusterID, len(members), representativeArticleID, representativeAvgJaccard, encodeMinHash(centroid), now); err != nil {
		return nil, fmt.Errorf("insert cluster: %w", err)
	}

	for i, m := range members {
		if err := insertClusterMemberTx(ctx, tx, clusterID, m.ArticleID, i, encodeMinHash(m.MinHash), now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create cluster: %w", err)
	}

	return &ClusterRecord{
		ClusterID:                clusterID,
		Size:                     len(members),
		RepresentativeArticleID:  representativeArticleID,
		RepresentativeAvgJaccard: representativeAvgJaccard,
		CentroidMinHash:          centroid,
		TopTerms:                 json.RawMessage(`[]`),
		LastUpdated:              now,
		Version:                  1,
		CreatedAt:                now,
	}, nil
}

func insertClusterMemberTx(ctx context.Context, tx Tx, clusterID, articleID string, position int, minhashBytes []byte, joinedAt time.Time) error {
	_, err := tx.Exec(ctx, `
INSERT INTO simcluster.cluster_members (cluster_id, article_id, position, joined_at, minhash, shingle_ref)
VALUES ($1,$2,$3,$4,$5,$6)
`, clusterID, articleID, position, joinedAt, minhashBytes, articleID)
	if err != nil {
		return fmt.Errorf("insert cluster member: %w", err)
	}
	return nil
}

// AppendToCluster implements the |C|>=1 branch of spec.md §4.5: an
// optimistic write keyed on expectedVersion. Returns a clustererr with
// CodeClusterConflict when the version has moved since the caller read it,
// so internal/cluster's retry loop can reload and recompute.
func (p *Pool) AppendToCluster(ctx context.Context, clusterID, articleID string, fp fingerprint.Fingerprint, newAvgJaccard float64, expectedVersion int64) error {
	tx, err := p.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin append cluster tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := globaltime.UTC()

	var position int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM simcluster.cluster_members WHERE cluster_id = $1`, clusterID).Scan(&position); err != nil {
		return fmt.Errorf("count cluster members: %w", err)
	}

	if err := insertClusterMemberTx(ctx, tx, clusterID, articleID, position, encodeMinHash(fp.MinHash), now); err != nil {
		return err
	}

	var repArticleID string
	var repAvgJaccard float64
	var centroidBytes []byte
	if err := tx.QueryRow(ctx, `SELECT representative_article_id, representative_avg_jaccard, centroid_minhash FROM simcluster.clusters WHERE cluster_id = $1`, clusterID).
		Scan(&repArticleID, &repAvgJaccard, &centroidBytes); err != nil {
		return fmt.Errorf("read cluster representative: %w", err)
	}
	centroid, err := decodeMinHash(centroidBytes)
	if err != nil {
		return fmt.Errorf("decode cluster centroid: %w", err)
	}

	// Representative recomputation per spec.md §4.5: only replace it when
	// the new member's average Jaccard against the cluster exceeds the
	// cached representative's.
	newRepArticleID, newRepAvgJaccard := repArticleID, repAvgJaccard
	if newAvgJaccard > repAvgJaccard {
		newRepArticleID, newRepAvgJaccard = articleID, newAvgJaccard
	}

	// C2/contract: centroid_minhash tracks the elementwise minimum across
	// every member's MinHash signature, updated as a running min on every
	// append rather than recomputed from scratch.
	for i, v := range fp.MinHash {
		if v < centroid[i] {
			centroid[i] = v
		}
	}

	tag, err := tx.Exec(ctx, `
UPDATE simcluster.clusters
SET size = size + 1,
    representative_article_id = $2,
    representative_avg_jaccard = $3,
    centroid_minhash = $4,
    last_updated = $5,
    version = version + 1
WHERE cluster_id = $1 AND version = $6
`, clusterID, newRepArticleID, newRepAvgJaccard, encodeMinHash(centroid), now, expectedVersion)
	if err != nil {
		return fmt.Errorf("update cluster: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return clustererr.New(clustererr.Conflict, clustererr.CodeClusterConflict,
			fmt.Sprintf("cluster %s changed since it was read (expected version %d)", clusterID, expectedVersion))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append cluster: %w", err)
	}
	return nil
}

// GetCluster loads a cluster by id.
func (p *Pool) GetCluster(ctx context.Context, clusterID string) (*ClusterRecord, error) {
	row := p.QueryRow(ctx, `
SELECT cluster_id, size, representative_article_id, representative_avg_jaccard, centroid_minhash, top_terms, last_updated, version, created_at
FROM simcluster.clusters WHERE cluster_id = $1
`, clusterID)
	var rec ClusterRecord
	var minhashBytes []byte
	if err := row.Scan(&rec.ClusterID, &rec.Size, &rec.RepresentativeArticleID, &rec.RepresentativeAvgJaccard,
		&minhashBytes, &rec.TopTerms, &rec.LastUpdated, &rec.Version, &rec.CreatedAt); err != nil {
		return nil, err
	}
	minhash, err := decodeMinHash(minhashBytes)
	if err != nil {
		return nil, fmt.Errorf("decode cluster centroid: %w", err)
	}
	rec.CentroidMinHash = minhash
	return &rec, nil
}

// ListClusterMemberIDs returns article ids in join order, backing the
// GET /clusters/{id} article_ids field of spec.md §6.
func (p *Pool) ListClusterMemberIDs(ctx context.Context, clusterID string) ([]string, error) {
	rows, err := p.Query(ctx, `SELECT article_id FROM simcluster.cluster_members WHERE cluster_id = $1 ORDER BY position ASC`, clusterID)
	if err != nil {
		return nil, fmt.Errorf("list cluster members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListClusters pages through clusters, most recently updated first. The
// GET /clusters handler does not call it; that endpoint uses SearchArticles.
func (p *Pool) ListClusters(ctx context.Context, page, pageSize int) ([]ClusterRecord, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 25
	}
	rows, err := p.Query(ctx, `
SELECT cluster_id, size, representative_article_id, representative_avg_jaccard, centroid_minhash, top_terms, last_updated, version, created_at
FROM simcluster.clusters ORDER BY last_updated DESC LIMIT $1 OFFSET $2
`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	defer rows.Close()

	var out []ClusterRecord
	for rows.Next() {
		var rec ClusterRecord
		var minhashBytes []byte
		if err := rows.Scan(&rec.ClusterID, &rec.Size, &rec.RepresentativeArticleID, &rec.RepresentativeAvgJaccard,
			&minhashBytes, &rec.TopTerms, &rec.LastUpdated, &rec.Version, &rec.CreatedAt); err != nil {
			return nil, err
		}
		minhash, err := decodeMinHash(minhashBytes)
		if err != nil {
			return nil, fmt.Errorf("decode cluster centroid: %w", err)
		}
		rec.CentroidMinHash = minhash
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetClusterTopTerms persists the top-terms summary that internal/ingest
// recomputes after each assignment to the cluster (SPEC_FULL.md's toptext
// feature).
func (p *Pool) SetClusterTopTerms(ctx context.Context, clusterID string, topTerms json.RawMessage) error {
	_, err := p.Exec(ctx, `UPDATE simcluster.clusters SET top_terms = $2 WHERE cluster_id = $1`, clusterID, topTerms)
	return err
}

// RecordMergeCandidate persists the audit row for spec.md §4.5's
// REDESIGN FLAG: an article that matched >=2 clusters is admitted only to
// the highest-scoring one, and the rejected candidates are logged here
// instead of triggering an automatic cross-cluster merge.
func (p *Pool) RecordMergeCandidate(ctx context.Context, articleID, admittedCluster string, otherClusters []string, scores map[string]float64) error {
	otherJSON, err := json.Marshal(otherClusters)
	if err != nil {
		return fmt.Errorf("marshal other cluster ids: %w", err)
	}
	scoresJSON, err := json.Marshal(scores)
	if err != nil {
		return fmt.Errorf("marshal merge candidate scores: %w", err)
	}
	_, err = p.Exec(ctx, `
INSERT INTO simcluster.merge_candidates (article_id, admitted_cluster_id, other_cluster_ids, scores, created_at)
VALUES ($1,$2,$3,$4,$5)
`, articleID, admittedCluster, otherJSON, scoresJSON, globaltime.UTC())
	return err
}
