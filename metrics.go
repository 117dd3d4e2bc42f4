package maildedup

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordProcess is called after each pipeline pass.
	// duration is the total time taken, err is nil if successful.
	RecordProcess(duration time.Duration, err error)

	// RecordCommit is called after a novel email is committed.
	RecordCommit(requestType string, duration time.Duration)

	// RecordDuplicate is called when a duplicate is resolved without mutation.
	RecordDuplicate(similarity float64)

	// RecordSnapshot is called after each snapshot save attempt.
	RecordSnapshot(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordProcess(time.Duration, error)  {}
func (NoopMetricsCollector) RecordCommit(string, time.Duration)  {}
func (NoopMetricsCollector) RecordDuplicate(float64)             {}
func (NoopMetricsCollector) RecordSnapshot(time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ProcessCount      atomic.Int64
	ProcessErrors     atomic.Int64
	ProcessTotalNanos atomic.Int64
	CommitCount       atomic.Int64
	DuplicateCount    atomic.Int64
	SnapshotCount     atomic.Int64
	SnapshotErrors    atomic.Int64
}

// RecordProcess implements MetricsCollector.
func (b *BasicMetricsCollector) RecordProcess(duration time.Duration, err error) {
	b.ProcessCount.Add(1)
	b.ProcessTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ProcessErrors.Add(1)
	}
}

// RecordCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCommit(string, time.Duration) {
	b.CommitCount.Add(1)
}

// RecordDuplicate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDuplicate(float64) {
	b.DuplicateCount.Add(1)
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(duration time.Duration, err error) {
	b.SnapshotCount.Add(1)
	if err != nil {
		b.SnapshotErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		ProcessCount:    b.ProcessCount.Load(),
		ProcessErrors:   b.ProcessErrors.Load(),
		ProcessAvgNanos: b.getAvgProcessNanos(),
		CommitCount:     b.CommitCount.Load(),
		DuplicateCount:  b.DuplicateCount.Load(),
		SnapshotCount:   b.SnapshotCount.Load(),
		SnapshotErrors:  b.SnapshotErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgProcessNanos() int64 {
	count := b.ProcessCount.Load()
	if count == 0 {
		return 0
	}
	return b.ProcessTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	ProcessCount    int64
	ProcessErrors   int64
	ProcessAvgNanos int64
	CommitCount     int64
	DuplicateCount  int64
	SnapshotCount   int64
	SnapshotErrors  int64
}
