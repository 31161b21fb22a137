package arena

import (
	"sync/atomic"

	"github.com/lanearena/memarena/region"
)

// ArenaStats is the snapshot Arena.Stats returns, combining both
// regions' diagnostics with running counters, mirroring the GetStats
// convention the reference allocator package uses for HybridStats,
// SlabStats and BuddyStats.
type ArenaStats struct {
	FastLane RegionStats
	SlowLane RegionStats

	Compactions int64
	Migrations  int64
}

// RegionStats is the per-region half of ArenaStats.
type RegionStats struct {
	UsageRatio                    float64
	FreeSpace                     int
	StubCount                     int
	EstimatedFragmentationPercent float64
}

func regionStats(r region.Region) RegionStats {
	return RegionStats{
		UsageRatio:                    r.UsageRatio(),
		FreeSpace:                     r.FreeSpace(),
		StubCount:                     r.StubCount(),
		EstimatedFragmentationPercent: r.EstimatedFragmentationPercent(),
	}
}

// countingObserver wraps the caller-supplied Observer so Arena.Stats
// can report running totals; it forwards every event unchanged.
type countingObserver struct {
	inner       region.Observer
	compactions int64
	migrations  int64
}

func newCountingObserver(inner region.Observer) *countingObserver {
	if inner == nil {
		inner = region.NopObserver{}
	}
	return &countingObserver{inner: inner}
}

func (c *countingObserver) OnCompaction(regionName string) {
	atomic.AddInt64(&c.compactions, 1)
	c.inner.OnCompaction(regionName)
}

func (c *countingObserver) OnMigration(from, to string, size int) {
	atomic.AddInt64(&c.migrations, 1)
	c.inner.OnMigration(from, to, size)
}

func (c *countingObserver) OnRecordTableGrowth(regionName string, oldCapacity, newCapacity int) {
	c.inner.OnRecordTableGrowth(regionName, oldCapacity, newCapacity)
}

var _ region.Observer = (*countingObserver)(nil)
