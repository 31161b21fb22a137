// Package oneway implements the migration operator that promotes data
// from FastLane to SlowLane, replacing the original record with a stub.
package oneway

import (
	"go.uber.org/zap"

	"github.com/lanearena/memarena/arenaerr"
	"github.com/lanearena/memarena/handle"
	"github.com/lanearena/memarena/record"
)

// Resolver is the narrow capability OneWayLane needs from a source
// region: read the live bytes behind a handle without chasing a
// redirect (the source handle is never itself a stub here).
type Resolver interface {
	ResolveDirect(h handle.Handle) ([]byte, error)
}

// Allocator is the narrow capability OneWayLane needs from a
// destination region.
type Allocator interface {
	Allocate(size int, priority record.Priority, hints record.Hints, debugName string, frame int64) (handle.Handle, error)
}

// Stubber lets OneWayLane turn the source record into a stub once the
// destination copy has landed.
type Stubber interface {
	ReplaceWithStub(h handle.Handle, target handle.Handle) error
	GetRecord(h handle.Handle) (record.Record, error)
}

// Source is what OneWayLane needs from FastLane: resolve plus stub.
type Source interface {
	Resolver
	Stubber
}

// Lane is the OneWayLane migration operator of spec section 4.4. It
// holds a scratch buffer of fixed size and references to exactly one
// source and one destination region; it never promotes in the reverse
// direction (that is Arena.move_slow_to_fast, a distinct code path that
// copies directly and never touches this scratch buffer, per spec 4.4's
// "must not alias" requirement).
type Lane struct {
	scratch []byte
	source  Source
	dest    Allocator

	log *zap.Logger
}

// New constructs a OneWayLane with the given scratch capacity, wired
// between source (FastLane) and dest (SlowLane).
func New(scratchSize int, source Source, dest Allocator, log *zap.Logger) *Lane {
	if log == nil {
		log = zap.NewNop()
	}
	return &Lane{
		scratch: make([]byte, scratchSize),
		source:  source,
		dest:    dest,
		log:     log,
	}
}

// ScratchSize reports the configured scratch buffer capacity.
func (l *Lane) ScratchSize() int { return len(l.scratch) }

// MoveFromFastToSlow implements spec section 4.4's move_from_fast_to_slow.
// It returns (false, nil) for the documented "recoverable, try again
// later" case (destination out of capacity), and (false, err) for the
// two hard failure kinds (InvalidHandle, BufferTooSmall).
func (l *Lane) MoveFromFastToSlow(fastHandle handle.Handle) (bool, error) {
	rec, err := l.source.GetRecord(fastHandle)
	if err != nil {
		return false, err
	}
	if rec.IsStub {
		return false, arenaerr.New(arenaerr.KindInvalidHandle, "oneway.move")
	}
	if rec.Size > len(l.scratch) {
		return false, arenaerr.New(arenaerr.KindBufferTooSmall, "oneway.move")
	}

	src, err := l.source.ResolveDirect(fastHandle)
	if err != nil {
		return false, err
	}

	slowHandle, err := l.dest.Allocate(rec.Size, rec.Priority, rec.Hints, rec.DebugName, rec.LastAccessFrame)
	if err != nil {
		if arenaerr.Is(err, arenaerr.KindOutOfCapacity) {
			return false, nil
		}
		return false, err
	}

	copy(l.scratch[:rec.Size], src)

	dst, err := resolveAsDirect(l.dest, slowHandle)
	if err != nil {
		return false, err
	}
	copy(dst, l.scratch[:rec.Size])

	if err := l.source.ReplaceWithStub(fastHandle, slowHandle); err != nil {
		return false, err
	}

	l.log.Debug("migrated fast to slow",
		zap.Int64("fast_id", fastHandle.ID),
		zap.Int64("slow_id", slowHandle.ID),
		zap.Int("size", rec.Size))
	return true, nil
}

// resolveAsDirect reaches past the narrow Allocator capability to write
// the migrated bytes, since both FastLane and SlowLane also satisfy
// Resolver in practice.
func resolveAsDirect(dest Allocator, h handle.Handle) ([]byte, error) {
	if r, ok := dest.(Resolver); ok {
		return r.ResolveDirect(h)
	}
	return nil, arenaerr.New(arenaerr.KindInvalidHandle, "oneway.move")
}
