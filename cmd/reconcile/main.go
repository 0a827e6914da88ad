package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"media-pipeline/internal/database"
	"media-pipeline/internal/reconcile"
	"media-pipeline/internal/storage"
)

const (
	defaultTimeout = 10 * time.Minute
	defaultDataDir = "/data"
)

func main() {
	dryRun := flag.Bool("dry-run", true, "report orphans without deleting them")
	minAge := flag.Duration("min-age", time.Hour, "skip objects younger than this")
	maxSizeMB := flag.Int64("max-size-mb", 1024, "flag orphans above this size instead of deleting (0 disables)")
	prefix := flag.String("prefix", "", "only scan object keys under this prefix")
	yes := flag.Bool("yes", false, "skip the interactive confirmation for live sweeps")
	flag.Usage = printUsage
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	dbPath := filepath.Join(dataDir, "pipeline.db")

	db, err := database.New(ctx, dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open database: %v\n", err)
		fmt.Fprintf(os.Stderr, "Make sure DATA_DIR is set correctly (current: %s)\n", dataDir)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
		}
	}()

	store, err := newStore(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open object store: %v\n", err)
		os.Exit(1)
	}

	opts := reconcile.Options{
		DryRun:  *dryRun,
		MinAge:  *minAge,
		MaxSize: *maxSizeMB * 1024 * 1024,
		Prefix:  *prefix,
	}

	if !opts.DryRun && !*yes {
		if !confirmLiveSweep() {
			fmt.Fprintln(os.Stderr, "Aborted.")
			os.Exit(1)
		}
	}

	ctx, timeoutCancel := context.WithTimeout(ctx, defaultTimeout)
	defer timeoutCancel()

	report, err := reconcile.New(db, store, 0, opts).Run(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Sweep failed: %v\n", err)
		os.Exit(1)
	}

	printReport(report)
	if report.Errors > 0 {
		os.Exit(1)
	}
}

func newStore(ctx context.Context) (storage.ObjectStore, error) {
	if strings.EqualFold(os.Getenv("STORAGE_BACKEND"), "minio") {
		return storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:        os.Getenv("MINIO_ENDPOINT"),
			AccessKeyID:     os.Getenv("MINIO_ACCESS_KEY"),
			SecretAccessKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:          envOr("MINIO_BUCKET", "media-pipeline"),
			UseSSL:          os.Getenv("MINIO_USE_SSL") == "true",
			PublicBaseURL:   os.Getenv("MINIO_PUBLIC_URL"),
		})
	}
	return storage.NewLocalStore(envOr("STORAGE_DIR", "/objects"), envOr("STORAGE_BASE_URL", "/objects"))
}

func envOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// confirmLiveSweep requires a typed confirmation before a destructive run.
// Refuses to proceed when stdin is not a terminal and -yes was not given.
func confirmLiveSweep() bool {
	if !term.IsTerminal(syscall.Stdin) {
		fmt.Fprintln(os.Stderr, "Error: Live sweep requires a terminal for confirmation (or pass -yes).")
		return false
	}

	fmt.Print("This will permanently delete orphaned objects. Type 'delete' to continue: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading confirmation: %v\n", err)
		return false
	}
	return strings.TrimSpace(line) == "delete"
}

func printReport(report *reconcile.Report) {
	mode := "LIVE"
	if report.DryRun {
		mode = "DRY RUN"
	}
	fmt.Printf("Sweep complete (%s) in %s\n", mode, report.Duration.Round(time.Millisecond))
	fmt.Printf("  Scanned:          %d\n", report.Scanned)
	fmt.Printf("  Orphans:          %d\n", report.Orphans)
	fmt.Printf("  Deleted:          %d\n", report.Deleted)
	fmt.Printf("  Bytes reclaimed:  %d\n", report.BytesReclaimed)
	fmt.Printf("  Errors:           %d\n", report.Errors)
	for _, key := range report.Flagged {
		fmt.Printf("  Flagged (too large to auto-delete): %s\n", key)
	}
}

func printUsage() {
	fmt.Println("Media Pipeline Orphan Reconciler")
	fmt.Println("")
	fmt.Println("Scans object storage for blobs no media record references and")
	fmt.Println("removes them. Defaults to a dry run; pass -dry-run=false for a")
	fmt.Println("live sweep.")
	fmt.Println("")
	fmt.Println("Usage: reconcile [flags]")
	fmt.Println("")
	flag.PrintDefaults()
	fmt.Println("")
	fmt.Println("Environment:")
	fmt.Printf("  DATA_DIR        - Path to data directory (default: %s)\n", defaultDataDir)
	fmt.Println("  STORAGE_BACKEND - local or minio (default: local)")
	fmt.Println("  STORAGE_DIR     - Local object directory (default: /objects)")
	fmt.Println("  MINIO_*         - MinIO connection settings")
}
