// Package stats computes deduplication efficiency reports from the hash
// registry aggregates.
package stats

import (
	"context"

	"media-pipeline/internal/database"
)

// Stats is the headline efficiency summary.
type Stats struct {
	TotalUploads     int64   `json:"totalUploads"`
	UniqueBlobs      int64   `json:"uniqueBlobs"`
	DuplicateUploads int64   `json:"duplicateUploads"`
	UniqueBytes      int64   `json:"uniqueBytes"`
	LogicalBytes     int64   `json:"logicalBytes"`
	BytesSaved       int64   `json:"bytesSaved"`
	SavingsPercent   float64 `json:"savingsPercent"`
	// DedupFactor is logical over physical; 1.0 means no duplicates.
	DedupFactor float64 `json:"dedupFactor"`
}

// DetailedStats adds rankings and distributions to the summary.
type DetailedStats struct {
	Stats
	TopDuplicated []database.TopHash                        `json:"topDuplicated"`
	SizeBuckets   []database.SizeBucket                     `json:"sizeBuckets"`
	MonthBuckets  []database.MonthBucket                    `json:"monthBuckets"`
	MediaByStatus map[database.ProcessingStatus]int64       `json:"mediaByStatus"`
	JobsByStatus  map[database.JobStatus]int64              `json:"jobsByStatus"`
	TasksByStatus map[database.TaskStatus]int64             `json:"tasksByStatus"`
}

// Reporter serves efficiency reports.
type Reporter struct {
	db *database.Database
}

// New creates a Reporter.
func New(db *database.Database) *Reporter {
	return &Reporter{db: db}
}

// GetStats returns the headline summary.
func (r *Reporter) GetStats(ctx context.Context) (*Stats, error) {
	totals, err := r.db.GetHashTotals(ctx)
	if err != nil {
		return nil, err
	}
	return summarize(totals), nil
}

// GetDetailedStats returns the summary plus the top-n duplicated hashes and
// size and month distributions.
func (r *Reporter) GetDetailedStats(ctx context.Context, topN int) (*DetailedStats, error) {
	if topN <= 0 {
		topN = 10
	}

	totals, err := r.db.GetHashTotals(ctx)
	if err != nil {
		return nil, err
	}

	top, err := r.db.TopDuplicatedHashes(ctx, topN)
	if err != nil {
		return nil, err
	}
	sizeBuckets, err := r.db.HashSizeBuckets(ctx)
	if err != nil {
		return nil, err
	}
	monthBuckets, err := r.db.HashMonthBuckets(ctx)
	if err != nil {
		return nil, err
	}
	mediaByStatus, err := r.db.MediaCountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	jobsByStatus, err := r.db.TranscodeJobCountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	tasksByStatus, err := r.db.ConvertTaskCountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	return &DetailedStats{
		Stats:         *summarize(totals),
		TopDuplicated: top,
		SizeBuckets:   sizeBuckets,
		MonthBuckets:  monthBuckets,
		MediaByStatus: mediaByStatus,
		JobsByStatus:  jobsByStatus,
		TasksByStatus: tasksByStatus,
	}, nil
}

func summarize(totals database.HashTotals) *Stats {
	s := &Stats{
		TotalUploads:     totals.TotalUploads,
		UniqueBlobs:      totals.UniqueBlobs,
		DuplicateUploads: totals.TotalUploads - totals.UniqueBlobs,
		UniqueBytes:      totals.UniqueBytes,
		LogicalBytes:     totals.LogicalBytes,
		BytesSaved:       totals.LogicalBytes - totals.UniqueBytes,
	}
	if totals.LogicalBytes > 0 {
		s.SavingsPercent = float64(s.BytesSaved) / float64(totals.LogicalBytes) * 100
	}
	if totals.UniqueBytes > 0 {
		s.DedupFactor = float64(totals.LogicalBytes) / float64(totals.UniqueBytes)
	} else {
		s.DedupFactor = 1.0
	}
	return s
}
