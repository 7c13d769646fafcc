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
	"horse.fit/simcluster/internal/logging"
	"horse.fit/simcluster/internal/recheck"
	"horse.fit/simcluster/internal/store"
)

// runRecheck triggers spec.md §4.7's Recheck Controller for one article
// from the command line, useful for operators without direct API access.
func runRecheck(args []string) int {
	fs := flag.NewFlagSet("recheck", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	articleID := fs.String("article-id", "", "Article id to recheck (required)")
	callerID := fs.String("caller-id", "cli", "Caller id for rate limiting")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *articleID == "" {
		fmt.Fprintln(os.Stderr, "--article-id is required")
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
		logger.Error().Err(err).Msg("recheck failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	controller := recheck.New(pool, cfg)
	jobID, err := controller.Request(ctx, *callerID, *articleID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Recheck rejected: %v\n", err)
		return 1
	}

	fmt.Printf("ok: recheck job %s enqueued for article %s\n", jobID, *articleID)
	return 0
}
