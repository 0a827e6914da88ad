// Package reconcile finds and removes orphaned objects: stored blobs that
// no media record references anymore. Safety gates keep it from touching
// in-flight uploads, unmanaged files, or suspiciously large objects.
package reconcile

import (
	"context"
	"fmt"
	"path"
	"time"

	"media-pipeline/internal/database"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/metrics"
	"media-pipeline/internal/storage"
)

// Options control one reconciliation sweep.
type Options struct {
	// DryRun reports orphans without deleting anything.
	DryRun bool
	// MinAge protects recently written objects; an upload may exist in
	// storage before its record commits.
	MinAge time.Duration
	// MaxSize flags, rather than deletes, objects over this many bytes.
	// Zero disables the gate.
	MaxSize int64
	// Prefix restricts the sweep to one key prefix. Empty scans everything.
	Prefix string
}

// DefaultOptions returns the stock gates for the background sweep.
func DefaultOptions() Options {
	return Options{
		MinAge:  1 * time.Hour,
		MaxSize: 1 << 30,
	}
}

// Report summarizes one sweep.
type Report struct {
	Scanned        int           `json:"scanned"`
	Orphans        int           `json:"orphans"`
	Deleted        int           `json:"deleted"`
	Flagged        []string      `json:"flagged,omitempty"`
	BytesReclaimed int64         `json:"bytesReclaimed"`
	Errors         int           `json:"errors"`
	Duration       time.Duration `json:"durationNs"`
	DryRun         bool          `json:"dryRun"`
}

// Reconciler sweeps the object store against the database.
type Reconciler struct {
	db    *database.Database
	store storage.ObjectStore

	interval time.Duration
	options  Options
	stopChan chan struct{}
	running  bool
}

// New creates a Reconciler. interval controls the background loop; Run may
// also be called directly for one-shot sweeps.
func New(db *database.Database, store storage.ObjectStore, interval time.Duration, options Options) *Reconciler {
	return &Reconciler{
		db:       db,
		store:    store,
		interval: interval,
		options:  options,
		stopChan: make(chan struct{}),
	}
}

// Start launches the periodic sweep loop.
func (r *Reconciler) Start(ctx context.Context) {
	if r.running || r.interval <= 0 {
		return
	}
	r.running = true
	logging.Info("Starting orphan reconciler (interval %s, dry run %v)", r.interval, r.options.DryRun)

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := r.Run(ctx, r.options); err != nil {
					logging.Error("Reconciliation sweep failed: %v", err)
				}
			case <-r.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the background loop.
func (r *Reconciler) Stop() {
	if !r.running {
		return
	}
	close(r.stopChan)
	r.running = false
}

// Run performs one sweep. The in-use set is snapshotted before listing, so
// an object written after the snapshot fails the age gate rather than the
// reference check. Per-object failures are counted, logged, and skipped;
// they never abort the sweep.
func (r *Reconciler) Run(ctx context.Context, opts Options) (*Report, error) {
	start := time.Now()
	mode := "live"
	if opts.DryRun {
		mode = "dry_run"
	}

	inUse, err := r.db.AllReferencedURLs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot referenced URLs: %w", err)
	}

	objects, err := r.store.List(ctx, opts.Prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	report := &Report{DryRun: opts.DryRun}
	cutoff := time.Now().Add(-opts.MinAge)

	for _, obj := range objects {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Scanned++

		// Only files the pipeline manages are candidates.
		if !mediatypes.IsManagedExtension(path.Ext(obj.Key)) {
			continue
		}
		if _, referenced := inUse[r.store.URL(obj.Key)]; referenced {
			continue
		}
		if opts.MinAge > 0 && obj.ModTime.After(cutoff) {
			logging.Debug("Skipping young orphan candidate %s (age %s)", obj.Key, time.Since(obj.ModTime).Round(time.Second))
			continue
		}

		report.Orphans++
		metrics.ReconcileOrphansFound.Inc()

		if opts.MaxSize > 0 && obj.Size > opts.MaxSize {
			report.Flagged = append(report.Flagged, obj.Key)
			logging.Warn("Orphan %s exceeds size gate (%d bytes), flagged for manual review", obj.Key, obj.Size)
			continue
		}

		if opts.DryRun {
			logging.Info("Would delete orphan %s (%d bytes)", obj.Key, obj.Size)
			continue
		}

		if err := r.store.Delete(ctx, obj.Key); err != nil {
			report.Errors++
			metrics.ReconcileErrors.Inc()
			logging.Error("Failed to delete orphan %s: %v", obj.Key, err)
			continue
		}
		report.Deleted++
		report.BytesReclaimed += obj.Size
		metrics.ReconcileObjectsDeleted.Inc()
		metrics.ReconcileBytesReclaimed.Add(float64(obj.Size))
	}

	report.Duration = time.Since(start)
	metrics.ReconcileRunsTotal.WithLabelValues(mode).Inc()
	metrics.ReconcileLastRunTimestamp.SetToCurrentTime()
	metrics.ReconcileLastRunDuration.Set(report.Duration.Seconds())
	metrics.ReconcileObjectsScanned.Add(float64(report.Scanned))

	logging.Info("Reconciliation sweep (%s): scanned %d, orphans %d, deleted %d, reclaimed %d bytes, flagged %d, errors %d in %s",
		mode, report.Scanned, report.Orphans, report.Deleted, report.BytesReclaimed, len(report.Flagged), report.Errors,
		report.Duration.Round(time.Millisecond))
	return report, nil
}
