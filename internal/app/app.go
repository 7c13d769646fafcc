// Package app is the CLI dispatch table, grounded on the teacher's
// app.Run switch. Commands are narrowed to what spec.md's design
// describes: a fixed worker pool, an HTTP API, a one-shot health check, a
// direct single-article ingest for local testing, and an operator-facing
// recheck trigger. The teacher's digest/translate/auth/story-browsing
// commands are dropped along with the features they served.
package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "worker":
		return runWorker(args[1:])
	case "recheck":
		return runRecheck(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "simcluster CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  simcluster <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health   Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  ingest   Submit one article directly, bypassing the HTTP API")
	fmt.Fprintln(os.Stderr, "  worker   Run the N-worker ingestion pool against the shared queue")
	fmt.Fprintln(os.Stderr, "  recheck  Trigger a recheck job for one article")
	fmt.Fprintln(os.Stderr, "  serve    Start the HTTP API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"simcluster <command> -h\" for command-specific flags.")
}
