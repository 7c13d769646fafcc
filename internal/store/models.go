// Package store is the Index Gateway of spec.md §4.2: it persists and
// queries articles, fingerprints, and clusters, and backs the work queue
// of §6 with the same Postgres instance. No example repo in the retrieval
// pack talks to a real search engine or broker client, so — following the
// teacher's own pipeline, which runs its whole ingest/dedup/serve stack
// against Postgres via gorm — this gateway is a set of GORM models plus a
// thin Tx abstraction over gorm, exactly the teacher's db.Pool/db.Tx shape.
package store

import (
	"encoding/json"
	"time"
)

// Article maps simcluster.articles: spec.md §3's Article, plus the
// version column optimistic writes are keyed on.
type Article struct {
	ArticleID       string          `gorm:"column:article_id;primaryKey"`
	Title           string          `gorm:"column:title;type:text;not null"`
	Content         string          `gorm:"column:content;type:text;not null"`
	NormalizedText  string          `gorm:"column:normalized_text;type:text;not null;default:''"`
	PublishTime     time.Time       `gorm:"column:publish_time;type:timestamptz;not null"`
	Source          string          `gorm:"column:source;type:text;not null"`
	State           int16           `gorm:"column:state;type:smallint;not null;default:1"`
	Top             bool            `gorm:"column:top;type:boolean;not null;default:false"`
	Tags            json.RawMessage `gorm:"column:tags;type:jsonb;not null;default:'[]'"`
	Topic           json.RawMessage `gorm:"column:topic;type:jsonb;not null;default:'[]'"`
	ClusterID       *string         `gorm:"column:cluster_id;type:text"`
	ClusterStatus   string          `gorm:"column:cluster_status;type:text;not null;default:pending"`
	SimilarityScore *float64        `gorm:"column:similarity_score;type:double precision"`
	Version         int64           `gorm:"column:version;type:bigint;not null;default:1"`
	CreatedAt       time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Article) TableName() string { return "simcluster.articles" }

// Fingerprint maps simcluster.fingerprints: not user-visible, stored next
// to the article per spec.md §3.
type Fingerprint struct {
	ArticleID    string `gorm:"column:article_id;primaryKey"`
	SimHash      int64  `gorm:"column:simhash;type:bigint;not null"`
	SimHashC0    int32  `gorm:"column:simhash_c0;type:integer;not null"`
	SimHashC1    int32  `gorm:"column:simhash_c1;type:integer;not null"`
	SimHashC2    int32  `gorm:"column:simhash_c2;type:integer;not null"`
	SimHashC3    int32  `gorm:"column:simhash_c3;type:integer;not null"`
	MinHash      []byte `gorm:"column:minhash;type:bytea;not null"`
	ShingleCount int    `gorm:"column:shingle_count;type:integer;not null;default:0"`
}

func (Fingerprint) TableName() string { return "simcluster.fingerprints" }

// FingerprintBand maps simcluster.fingerprint_bands: one row per LSH band
// per article, indexed on (band_index, band_hash) so find_by_lsh_bands can
// run as an indexed lookup instead of scanning a JSON array (the "terms"
// lookup spec.md §6 describes for a document-store keyword field).
type FingerprintBand struct {
	ArticleID string `gorm:"column:article_id;primaryKey"`
	BandIndex int16  `gorm:"column:band_index;primaryKey"`
	BandHash  int64  `gorm:"column:band_hash;type:bigint;not null;index:idx_fingerprint_bands_lookup,priority:2"`
}

func (FingerprintBand) TableName() string { return "simcluster.fingerprint_bands" }

// Cluster maps simcluster.clusters: spec.md §3's Cluster. article_ids is
// not stored on the row (members live in ClusterMember rows), but
// Size/RepresentativeArticleID/LastUpdated are cached on it so single-row
// reads stay O(1): CreateCluster sets size and AppendToCluster increments it.
type Cluster struct {
	ClusterID              string          `gorm:"column:cluster_id;primaryKey"`
	Size                   int             `gorm:"column:size;type:integer;not null;default:0"`
	RepresentativeArticleID string         `gorm:"column:representative_article_id;type:text;not null"`
	RepresentativeAvgJaccard float64       `gorm:"column:representative_avg_jaccard;type:double precision;not null;default:0"`
	CentroidMinHash        []byte          `gorm:"column:centroid_minhash;type:bytea;not null"`
	TopTerms               json.RawMessage `gorm:"column:top_terms;type:jsonb"`
	LastUpdated            time.Time       `gorm:"column:last_updated;type:timestamptz;not null"`
	Version                int64           `gorm:"column:version;type:bigint;not null;default:1"`
	CreatedAt              time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Cluster) TableName() string { return "simcluster.clusters" }

// ClusterMember maps simcluster.cluster_members: the ordered set backing
// Cluster.article_ids, insertion order = assignment order.
type ClusterMember struct {
	ClusterID  string    `gorm:"column:cluster_id;primaryKey"`
	ArticleID  string    `gorm:"column:article_id;primaryKey;unique"`
	Position   int       `gorm:"column:position;type:integer;not null"`
	JoinedAt   time.Time `gorm:"column:joined_at;type:timestamptz;not null"`
	MinHash    []byte    `gorm:"column:minhash;type:bytea;not null"`
	ShingleRef string    `gorm:"column:shingle_ref;type:text;not null"`
}

func (ClusterMember) TableName() string { return "simcluster.cluster_members" }

// MergeCandidate maps simcluster.merge_candidates: the audit log spec.md
// §4.5 requires when an article Jaccard-matches members of two or more
// distinct clusters and is admitted to only the highest-scoring one.
type MergeCandidate struct {
	ID              int64           `gorm:"column:id;primaryKey;autoIncrement"`
	ArticleID       string          `gorm:"column:article_id;type:text;not null"`
	AdmittedCluster string          `gorm:"column:admitted_cluster_id;type:text;not null"`
	OtherClusters   json.RawMessage `gorm:"column:other_cluster_ids;type:jsonb;not null"`
	Scores          json.RawMessage `gorm:"column:scores;type:jsonb;not null"`
	CreatedAt       time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (MergeCandidate) TableName() string { return "simcluster.merge_candidates" }

// SimilarityJob maps simcluster.similarity_jobs: the work queue of spec.md
// §6, implemented as a claim table (FOR UPDATE SKIP LOCKED) rather than a
// separate broker, following the teacher's pipeline claim idiom.
type SimilarityJob struct {
	JobID         string     `gorm:"column:job_id;primaryKey"`
	JobType       string     `gorm:"column:job_type;type:text;not null"`
	ArticleID     string     `gorm:"column:article_id;type:text;not null"`
	Attempt       int        `gorm:"column:attempt;type:integer;not null;default:0"`
	Status        string     `gorm:"column:status;type:text;not null;default:pending"`
	EnqueuedAt    time.Time  `gorm:"column:enqueued_at;type:timestamptz;not null"`
	NotBefore     time.Time  `gorm:"column:not_before;type:timestamptz;not null"`
	ClaimedAt     *time.Time `gorm:"column:claimed_at;type:timestamptz"`
	DeadLetterReason *string `gorm:"column:dead_letter_reason;type:text"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (SimilarityJob) TableName() string { return "simcluster.similarity_jobs" }

// RecheckCooldown maps simcluster.recheck_cooldowns: per-article cooldown
// ledger for the Recheck Controller (spec.md §4.7).
type RecheckCooldown struct {
	ArticleID       string    `gorm:"column:article_id;primaryKey"`
	LastRequestedAt time.Time `gorm:"column:last_requested_at;type:timestamptz;not null"`
}

func (RecheckCooldown) TableName() string { return "simcluster.recheck_cooldowns" }

// RecheckJobCounter maps simcluster.recheck_job_counters: a durable
// per-day counter backing the recheck_{yyyymmdd}_{4-digit counter} job id
// format from spec.md §4.7.
type RecheckJobCounter struct {
	Day     string `gorm:"column:day;primaryKey"` // yyyymmdd
	Counter int    `gorm:"column:counter;type:integer;not null;default:0"`
}

func (RecheckJobCounter) TableName() string { return "simcluster.recheck_job_counters" }

func autoMigrateModels() []any {
	return []any{
		&Article{},
		&Fingerprint{},
		&FingerprintBand{},
		&Cluster{},
		&ClusterMember{},
		&MergeCandidate{},
		&SimilarityJob{},
		&RecheckCooldown{},
		&RecheckJobCounter{},
	}
}
