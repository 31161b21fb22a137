// Package region implements the shared Region contract (spec section
// 4.1) that FastLane and SlowLane specialise: a fixed-capacity byte
// buffer, a record table addressable by id, first-fit placement, and
// compaction.
package region

import (
	"github.com/lanearena/memarena/handle"
	"github.com/lanearena/memarena/record"
)

// Region is the capability both FastLane and SlowLane implement. It
// exists mainly so the contract in spec section 4.1 has a single,
// checkable Go shape; the Arena facade holds concrete *fastlane.FastLane
// and *slowlane.SlowLane values rather than this interface, since each
// lane also exposes operations (ReplaceWithStub, the OneWayLane wiring)
// that are not part of the shared contract.
type Region interface {
	Name() string
	Tag() handle.Tag

	Allocate(size int, priority record.Priority, hints record.Hints, debugName string, frame int64) (handle.Handle, error)
	CanAllocate(size int) bool
	Resolve(h handle.Handle) ([]byte, error)
	Free(h handle.Handle) error
	FreeMany(hs []handle.Handle) error
	Compact()

	HasHandle(h handle.Handle) bool
	GetRecord(h handle.Handle) (record.Record, error)
	AllocationSize(h handle.Handle) (int, error)

	UsageRatio() float64
	FreeSpace() int
	StubCount() int
	EstimatedFragmentationPercent() float64
	DebugDump() string
	VisualMap() string
}

// Observer receives the events spec section 6 documents as optional.
// OnCompaction and OnRecordTableGrowth fire from the region code that
// causes them; OnMigration fires only from the Arena's explicit
// MoveFastToSlow/MoveSlowToFast, not for migrations made during
// FastLane compaction. Implementations must return quickly since they
// run under the Arena's mutex.
type Observer interface {
	OnCompaction(regionName string)
	OnMigration(fromRegion, toRegion string, size int)
	OnRecordTableGrowth(regionName string, oldCapacity, newCapacity int)
}

// NopObserver implements Observer by doing nothing, the default when
// no observer is configured.
type NopObserver struct{}

func (NopObserver) OnCompaction(string)                  {}
func (NopObserver) OnMigration(string, string, int)      {}
func (NopObserver) OnRecordTableGrowth(string, int, int) {}

var _ Observer = NopObserver{}
