// Package arena implements the top-level facade described in spec
// section 4.5: it owns exactly one FastLane and one SlowLane, wires an
// optional OneWayLane between them, and runs the policy engine that
// drives automatic compaction and migration.
package arena

import (
	"bytes"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"

	"github.com/lanearena/memarena/arenaerr"
	"github.com/lanearena/memarena/fastlane"
	"github.com/lanearena/memarena/handle"
	"github.com/lanearena/memarena/oneway"
	"github.com/lanearena/memarena/record"
	"github.com/lanearena/memarena/slowlane"
)

// Arena is the public entry point. All exported methods acquire mu,
// covering both regions and the OneWayLane scratch buffer, matching
// spec section 5's single-mutex scheduling model: nothing suspends
// while mu is held.
type Arena struct {
	mu sync.Mutex

	config Config
	fast   *fastlane.FastLane
	slow   *slowlane.SlowLane
	lane   *oneway.Lane

	observer *countingObserver
	log      *zap.Logger

	stopTimer chan struct{}
	closed    bool
}

// New validates config and constructs an Arena. The only failure mode
// is InvalidConfig; construction never partially succeeds.
func New(config Config) (*Arena, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	observer := newCountingObserver(config.Observer)

	fast := fastlane.New(config.FastLaneSize, config.FastLaneLargeEntryThreshold, log, observer)
	slow := slowlane.New(config.SlowLaneSize, config.SlowLaneSafetyMargin, log, observer)
	fast.SetPeer(slow.ResolveDirect, slow.Free)
	slow.SetPeer(fast.ResolveDirect, fast.Free)

	var lane *oneway.Lane
	if config.BufferSize > 0 {
		lane = oneway.New(config.BufferSize, fast, slow, log)
		fast.SetMigrator(newBreakerMigrator(lane, config.MigrationRateLimit, config.MigrationBurst, log))
	}

	a := &Arena{
		config:   config,
		fast:     fast,
		slow:     slow,
		lane:     lane,
		observer: observer,
		log:      log,
	}

	if config.PolicyCheckInterval > 0 {
		a.startTimer(config.PolicyCheckInterval)
	}

	return a, nil
}

// startTimer runs the policy engine on a ticker, mirroring the
// ticker-plus-shutdown-channel pattern used throughout the reference
// mesh package's background loops.
func (a *Arena) startTimer(interval time.Duration) {
	a.stopTimer = make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-a.stopTimer:
				return
			case <-ticker.C:
				a.RunMaintenanceCycle()
			}
		}
	}()
}

// Allocate implements spec section 4.5's routing rule.
func (a *Arena) Allocate(size int, priority record.Priority, hints record.Hints, debugName string, frame int64) (handle.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return handle.Handle{}, arenaerr.New(arenaerr.KindInvalidConfig, "Arena.allocate")
	}

	if size <= a.config.Threshold && a.fast.CanAllocate(size) {
		return a.fast.Allocate(size, priority, hints, debugName, frame)
	}
	if a.slow.CanAllocate(size) {
		return a.slow.Allocate(size, priority, hints, debugName, frame)
	}
	return handle.Handle{}, arenaerr.New(arenaerr.KindOutOfCapacity, "Arena.allocate")
}

// regionFor routes by handle tag, the Go-native replacement for the
// id-sign compatibility shim spec section 4.5 also documents (Tag and
// sign always agree by construction, see handle.New).
func (a *Arena) regionFor(h handle.Handle) (lane interface {
	Resolve(handle.Handle) ([]byte, error)
	Free(handle.Handle) error
}, ok bool) {
	switch h.Tag {
	case handle.TagFast:
		return a.fast, true
	case handle.TagSlow:
		return a.slow, true
	default:
		return nil, false
	}
}

// Resolve implements spec section 4.5.
func (a *Arena) Resolve(h handle.Handle) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, arenaerr.New(arenaerr.KindInvalidHandle, "Arena.resolve")
	}
	r, ok := a.regionFor(h)
	if !ok {
		return nil, arenaerr.New(arenaerr.KindInvalidHandle, "Arena.resolve")
	}
	return r.Resolve(h)
}

// Free implements spec section 4.5.
func (a *Arena) Free(h handle.Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return arenaerr.New(arenaerr.KindInvalidHandle, "Arena.free")
	}
	r, ok := a.regionFor(h)
	if !ok {
		return arenaerr.New(arenaerr.KindInvalidHandle, "Arena.free")
	}
	return r.Free(h)
}

// FreeMany frees each handle in order, routing individually since a
// batch may span both lanes; failure on one aborts the batch and
// leaves prior frees committed, matching spec section 4.1.
func (a *Arena) FreeMany(hs []handle.Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return arenaerr.New(arenaerr.KindInvalidHandle, "Arena.free_many")
	}
	for i, h := range hs {
		r, ok := a.regionFor(h)
		if !ok {
			return &arenaerr.BatchError{Succeeded: i, Err: arenaerr.New(arenaerr.KindInvalidHandle, "Arena.free_many")}
		}
		if err := r.Free(h); err != nil {
			return &arenaerr.BatchError{Succeeded: i, Err: err}
		}
	}
	return nil
}

// MoveFastToSlow implements spec section 4.5's explicit promotion. It
// uses the Arena's own OneWayLane directly, bypassing the policy
// engine's circuit breaker: an explicit caller request is never a
// doomed-retry loop the breaker needs to protect against.
func (a *Arena) MoveFastToSlow(h handle.Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return arenaerr.New(arenaerr.KindInvalidConfig, "Arena.move_fast_to_slow")
	}
	if a.lane == nil {
		return arenaerr.New(arenaerr.KindInvalidConfig, "Arena.move_fast_to_slow")
	}
	if h.Tag != handle.TagFast {
		return arenaerr.New(arenaerr.KindInvalidHandle, "Arena.move_fast_to_slow")
	}

	rec, err := a.fast.GetRecord(h)
	if err != nil {
		return err
	}
	ok, err := a.lane.MoveFromFastToSlow(h)
	if err != nil {
		return err
	}
	if !ok {
		return arenaerr.New(arenaerr.KindOutOfCapacity, "Arena.move_fast_to_slow")
	}
	a.observer.OnMigration(a.fast.Name(), a.slow.Name(), rec.Size)
	return nil
}

// MoveSlowToFast implements spec section 4.5's reverse promotion. It
// copies directly rather than through any shared buffer, so it never
// aliases the OneWayLane's forward-path scratch buffer. The returned
// handle replaces the input; the caller is responsible for dropping
// references to the old one, since the old id is freed here.
func (a *Arena) MoveSlowToFast(h handle.Handle) (handle.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return handle.Handle{}, arenaerr.New(arenaerr.KindInvalidConfig, "Arena.move_slow_to_fast")
	}
	if h.Tag != handle.TagSlow {
		return handle.Handle{}, arenaerr.New(arenaerr.KindInvalidHandle, "Arena.move_slow_to_fast")
	}

	rec, err := a.slow.GetRecord(h)
	if err != nil {
		return handle.Handle{}, err
	}
	if rec.IsStub {
		return handle.Handle{}, arenaerr.New(arenaerr.KindInvalidHandle, "Arena.move_slow_to_fast")
	}
	src, err := a.slow.ResolveDirect(h)
	if err != nil {
		return handle.Handle{}, err
	}

	newHandle, err := a.fast.Allocate(rec.Size, rec.Priority, rec.Hints, rec.DebugName, rec.LastAccessFrame)
	if err != nil {
		return handle.Handle{}, err
	}
	dst, err := a.fast.ResolveDirect(newHandle)
	if err != nil {
		return handle.Handle{}, err
	}
	copy(dst, src)

	if err := a.slow.Free(h); err != nil {
		return handle.Handle{}, err
	}

	a.observer.OnMigration(a.slow.Name(), a.fast.Name(), rec.Size)
	return newHandle, nil
}

// CompactAll calls Compact on FastLane then SlowLane, in that order.
func (a *Arena) CompactAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.fast.Compact()
	a.slow.Compact()
}

// RunMaintenanceCycle invokes the policy engine once.
func (a *Arena) RunMaintenanceCycle() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.runPolicy()
}

// DebugDump renders both regions' human-readable reports.
func (a *Arena) DebugDump() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fast.DebugDump() + a.slow.DebugDump()
}

// DumpCompressed brotli-compresses DebugDump's output, for callers
// persisting periodic diagnostic snapshots without holding large
// strings in memory (spec section 4.6 domain-stack wiring).
func (a *Arena) DumpCompressed() ([]byte, error) {
	dump := a.DebugDump()

	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write([]byte(dump)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Stats returns a snapshot combining both regions' diagnostics with
// the arena's running compaction/migration counters.
func (a *Arena) Stats() ArenaStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ArenaStats{
		FastLane:    regionStats(a.fast),
		SlowLane:    regionStats(a.slow),
		Compactions: a.observer.compactions,
		Migrations:  a.observer.migrations,
	}
}

// Close releases both regions' buffers and the OneWayLane scratch
// buffer. Subsequent operations return errors rather than panicking or
// corrupting memory, per spec section 5's teardown requirement.
func (a *Arena) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if a.stopTimer != nil {
		close(a.stopTimer)
	}
	a.fast.Release()
	a.slow.Release()
	a.fast.SetMigrator(nil)
	a.lane = nil
	a.closed = true
}
