package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/simcluster/internal/cli"
	"horse.fit/simcluster/internal/config"
	"horse.fit/simcluster/internal/fingerprint"
	"horse.fit/simcluster/internal/globaltime"
	"horse.fit/simcluster/internal/ingest"
	"horse.fit/simcluster/internal/logging"
	"horse.fit/simcluster/internal/store"
)

// runIngest submits a single article directly against the Index Gateway
// without going through the HTTP API, for local testing and scripted
// backfills.
func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	articleID := fs.String("article-id", "", "Article id (required)")
	title := fs.String("title", "", "Article title")
	content := fs.String("content", "", "Article content (required)")
	source := fs.String("source", "cli", "Article source")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *articleID == "" || *content == "" {
		fmt.Fprintln(os.Stderr, "--article-id and --content are required")
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := store.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("ingest failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	fp := fingerprint.Compute(*content)
	_, err = pool.UpsertArticle(ctx, store.ArticleRecord{
		ArticleID:   *articleID,
		Title:       *title,
		Content:     *content,
		PublishTime: globaltime.UTC(),
		Source:      *source,
		State:       1,
		Top:         false,
		Tags:        []byte(`[]`),
		Topic:       []byte(`[]`),
	}, fp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to upsert article: %v\n", err)
		return 1
	}

	if err := ingest.SubmitDirect(ctx, pool, *articleID); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to enqueue article: %v\n", err)
		return 1
	}

	fmt.Printf("ok: enqueued article %s\n", *articleID)
	return 0
}
