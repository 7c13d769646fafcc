// Package config binds the process-wide, read-only configuration struct
// spec.md §5 requires ("initialized at startup and never mutated"), using
// the teacher's envconfig-based Load/Validate idiom.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"SIMCLUSTER_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"SIMCLUSTER_DB_MAX_CONNS" default:"8"`

	HTTPHost string `envconfig:"HTTP_HOST" default:"0.0.0.0"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8090"`

	// WorkerCount is N in spec.md §5: the number of parallel ingestion
	// workers sharing the queue.
	WorkerCount int `envconfig:"SIMCLUSTER_WORKER_COUNT" default:"8"`

	// RecallCandidateLimit is K in spec.md §4.3 (default 50).
	RecallCandidateLimit int `envconfig:"SIMCLUSTER_RECALL_LIMIT" default:"50"`
	// RecallPerClusterCap bounds how many candidates from one cluster
	// count toward K (spec.md §4.3, default 3).
	RecallPerClusterCap int `envconfig:"SIMCLUSTER_RECALL_PER_CLUSTER_CAP" default:"3"`

	// VerifierCandidateBudget and VerifierTimeBudget bound the Jaccard
	// Verifier per spec.md §4.4 (default 20 candidates / 50ms).
	VerifierCandidateBudget int           `envconfig:"SIMCLUSTER_VERIFIER_CANDIDATE_BUDGET" default:"20"`
	VerifierTimeBudget      time.Duration `envconfig:"SIMCLUSTER_VERIFIER_TIME_BUDGET" default:"50ms"`

	// SimHashHammingMax is the exact-duplicate-candidate distance from
	// spec.md §4.1 (default 3).
	SimHashHammingMax int `envconfig:"SIMCLUSTER_SIMHASH_HAMMING_MAX" default:"3"`

	// JaccardMatchThreshold is the 0.80 threshold shared by §4.4 and §3.
	JaccardMatchThreshold float64 `envconfig:"SIMCLUSTER_JACCARD_THRESHOLD" default:"0.80"`

	// ClusterRetryMax is N=5 in spec.md §4.5's optimistic-write retry loop.
	ClusterRetryMax int `envconfig:"SIMCLUSTER_CLUSTER_RETRY_MAX" default:"5"`

	// RecheckCooldown and RecheckRateLimitPerMinute back the Recheck
	// Controller of spec.md §4.7 (default 5 minutes / 30 per minute).
	RecheckCooldown           time.Duration `envconfig:"SIMCLUSTER_RECHECK_COOLDOWN" default:"5m"`
	RecheckRateLimitPerMinute int           `envconfig:"SIMCLUSTER_RECHECK_RATE_LIMIT_PER_MINUTE" default:"30"`

	// VerifierTimeoutRecheckDelay is the 60s delayed-recheck window from
	// spec.md §4.6's verifier-timeout handling.
	VerifierTimeoutRecheckDelay time.Duration `envconfig:"SIMCLUSTER_VERIFIER_TIMEOUT_RECHECK_DELAY" default:"60s"`

	// BackoffBase, BackoffFactor, BackoffCap, BackoffMaxAttempts implement
	// spec.md §4.6's retry policy (base 1s, factor 2, cap 60s, max 5).
	BackoffBase        time.Duration `envconfig:"SIMCLUSTER_BACKOFF_BASE" default:"1s"`
	BackoffFactor      float64       `envconfig:"SIMCLUSTER_BACKOFF_FACTOR" default:"2"`
	BackoffCap         time.Duration `envconfig:"SIMCLUSTER_BACKOFF_CAP" default:"60s"`
	BackoffMaxAttempts int           `envconfig:"SIMCLUSTER_BACKOFF_MAX_ATTEMPTS" default:"5"`

	// QueueClaimTimeout and QueueSweepInterval back internal/queue's
	// periodic reap of jobs stuck 'claimed' after a worker crashed mid-job
	// (SPEC_FULL.md §2's cleanup_expired_jobs carryover): a claimed job
	// older than QueueClaimTimeout is reset to pending with attempt+1, or
	// dead-lettered if attempt already reached BackoffMaxAttempts.
	QueueClaimTimeout time.Duration `envconfig:"SIMCLUSTER_QUEUE_CLAIM_TIMEOUT" default:"2m"`
	QueueSweepInterval time.Duration `envconfig:"SIMCLUSTER_QUEUE_SWEEP_INTERVAL" default:"30s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("SIMCLUSTER_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("SIMCLUSTER_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("SIMCLUSTER_DB_MIN_CONNS (%d) cannot exceed SIMCLUSTER_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("SIMCLUSTER_WORKER_COUNT must be >= 1")
	}
	if c.RecallCandidateLimit < 1 {
		return fmt.Errorf("SIMCLUSTER_RECALL_LIMIT must be >= 1")
	}
	if c.RecallPerClusterCap < 1 {
		return fmt.Errorf("SIMCLUSTER_RECALL_PER_CLUSTER_CAP must be >= 1")
	}
	if c.VerifierCandidateBudget < 1 {
		return fmt.Errorf("SIMCLUSTER_VERIFIER_CANDIDATE_BUDGET must be >= 1")
	}
	if c.VerifierTimeBudget <= 0 {
		return fmt.Errorf("SIMCLUSTER_VERIFIER_TIME_BUDGET must be > 0")
	}
	if c.SimHashHammingMax < 0 || c.SimHashHammingMax > 16 {
		return fmt.Errorf("SIMCLUSTER_SIMHASH_HAMMING_MAX must be between 0 and 16")
	}
	if c.JaccardMatchThreshold <= 0 || c.JaccardMatchThreshold > 1 {
		return fmt.Errorf("SIMCLUSTER_JACCARD_THRESHOLD must be in (0,1]")
	}
	if c.ClusterRetryMax < 1 {
		return fmt.Errorf("SIMCLUSTER_CLUSTER_RETRY_MAX must be >= 1")
	}
	if c.RecheckCooldown < 0 {
		return fmt.Errorf("SIMCLUSTER_RECHECK_COOLDOWN must be >= 0")
	}
	if c.RecheckRateLimitPerMinute < 1 {
		return fmt.Errorf("SIMCLUSTER_RECHECK_RATE_LIMIT_PER_MINUTE must be >= 1")
	}
	if c.BackoffFactor <= 1 {
		return fmt.Errorf("SIMCLUSTER_BACKOFF_FACTOR must be > 1")
	}
	if c.BackoffMaxAttempts < 1 {
		return fmt.Errorf("SIMCLUSTER_BACKOFF_MAX_ATTEMPTS must be >= 1")
	}
	if c.QueueClaimTimeout <= 0 {
		return fmt.Errorf("SIMCLUSTER_QUEUE_CLAIM_TIMEOUT must be > 0")
	}
	if c.QueueSweepInterval <= 0 {
		return fmt.Errorf("SIMCLUSTER_QUEUE_SWEEP_INTERVAL must be > 0")
	}
	return nil
}
