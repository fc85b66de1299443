package htmgo

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordCompute is called after each stage computation.
	RecordCompute(stage string, duration time.Duration, err error)

	// RecordBursting is called after each temporal step with the number of
	// active and bursting columns.
	RecordBursting(active, bursting int)

	// RecordStability is called on every stability transition.
	RecordStability(stable bool)

	// RecordSnapshot is called after each snapshot save.
	RecordSnapshot(bytes int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordCompute(string, time.Duration, error) {}
func (NoopMetricsCollector) RecordBursting(int, int)                    {}
func (NoopMetricsCollector) RecordStability(bool)                       {}
func (NoopMetricsCollector) RecordSnapshot(int, time.Duration, error)   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ActiveColumns        atomic.Int64
	BurstingColumns      atomic.Int64
	StabilityTransitions atomic.Int64
	Stable               atomic.Bool
	SnapshotCount        atomic.Int64
	SnapshotErrors       atomic.Int64
	SnapshotBytes        atomic.Int64

	mu     sync.Mutex
	stages map[string]*stageMetrics
}

type stageMetrics struct {
	count      int64
	errors     int64
	totalNanos int64
}

// RecordCompute implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCompute(stage string, duration time.Duration, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stages == nil {
		b.stages = make(map[string]*stageMetrics)
	}
	m, ok := b.stages[stage]
	if !ok {
		m = &stageMetrics{}
		b.stages[stage] = m
	}
	m.count++
	m.totalNanos += duration.Nanoseconds()
	if err != nil {
		m.errors++
	}
}

// RecordBursting implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBursting(active, bursting int) {
	b.ActiveColumns.Add(int64(active))
	b.BurstingColumns.Add(int64(bursting))
}

// RecordStability implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStability(stable bool) {
	b.StabilityTransitions.Add(1)
	b.Stable.Store(stable)
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(bytes int, _ time.Duration, err error) {
	b.SnapshotCount.Add(1)
	b.SnapshotBytes.Add(int64(bytes))
	if err != nil {
		b.SnapshotErrors.Add(1)
	}
}

// StageStats is a snapshot of the metrics of one stage.
type StageStats struct {
	Count    int64
	Errors   int64
	AvgNanos int64
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	Stages               map[string]StageStats
	ActiveColumns        int64
	BurstingColumns      int64
	BurstingRatio        float64
	StabilityTransitions int64
	Stable               bool
	SnapshotCount        int64
	SnapshotErrors       int64
	SnapshotBytes        int64
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	stats := BasicMetricsStats{
		Stages:               make(map[string]StageStats),
		ActiveColumns:        b.ActiveColumns.Load(),
		BurstingColumns:      b.BurstingColumns.Load(),
		StabilityTransitions: b.StabilityTransitions.Load(),
		Stable:               b.Stable.Load(),
		SnapshotCount:        b.SnapshotCount.Load(),
		SnapshotErrors:       b.SnapshotErrors.Load(),
		SnapshotBytes:        b.SnapshotBytes.Load(),
	}
	if stats.ActiveColumns > 0 {
		stats.BurstingRatio = float64(stats.BurstingColumns) / float64(stats.ActiveColumns)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for name, m := range b.stages {
		s := StageStats{Count: m.count, Errors: m.errors}
		if m.count > 0 {
			s.AvgNanos = m.totalNanos / m.count
		}
		stats.Stages[name] = s
	}
	return stats
}
