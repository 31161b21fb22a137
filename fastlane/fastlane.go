// Package fastlane implements the Region specialisation for small, hot
// allocations: positive handle ids, no safety margin, and a Compact
// pass that offers migration candidates to a configured OneWayLane
// before relocating the rest.
package fastlane

import (
	"go.uber.org/zap"

	"github.com/lanearena/memarena/handle"
	"github.com/lanearena/memarena/record"
	"github.com/lanearena/memarena/region"
)

// Migrator is the capability FastLane needs from a configured
// OneWayLane. Declared locally (rather than importing oneway.Lane's
// concrete type) so fastlane and oneway do not need to know about each
// other beyond this one method.
type Migrator interface {
	MoveFromFastToSlow(fastHandle handle.Handle) (bool, error)
}

// FastLane is the Region specialisation of spec section 4.2.
type FastLane struct {
	*region.Base

	largeEntryThreshold int
	migrator            Migrator

	log *zap.Logger
}

// New constructs a FastLane with the given capacity. SetMigrator wires
// the OneWayLane used during Compact; it may be left unset, in which
// case Compact degrades to the plain relocation pass.
func New(capacity int, largeEntryThreshold int, log *zap.Logger, observer region.Observer) *FastLane {
	if log == nil {
		log = zap.NewNop()
	}
	return &FastLane{
		Base:                region.NewBase("fastlane", handle.TagFast, capacity, 0, log, observer),
		largeEntryThreshold: largeEntryThreshold,
		log:                 log,
	}
}

// SetMigrator wires the OneWayLane that Compact offers candidates to.
func (f *FastLane) SetMigrator(m Migrator) { f.migrator = m }

// Compact implements spec section 4.2: entries whose hints include
// Cold or Old, whose priority is Low, or whose size exceeds the
// configured large-entry threshold are first offered to the migrator.
// A successful migration turns the record into a stub (done by the
// migrator itself via ReplaceWithStub) and leaves nothing for the
// generic pass to relocate; everything else falls through to
// Base.Compact unchanged. Migration is fully resolved before any bytes
// are copied, so it never interleaves with the copy loop (spec 4.2:
// "must not be attempted while compact is iterating over bytes it has
// not yet copied").
func (f *FastLane) Compact() {
	if f.migrator != nil {
		for _, h := range f.migrationCandidates() {
			ok, err := f.migrator.MoveFromFastToSlow(h)
			if err != nil {
				f.log.Debug("migration candidate failed", zap.Int64("id", h.ID), zap.Error(err))
				continue
			}
			if ok {
				f.log.Debug("migration candidate moved", zap.Int64("id", h.ID))
			}
		}
	}
	f.Base.Compact()
}

// migrationCandidates enumerates the live (non-stub) records eligible
// for migration under spec 4.2's criteria, without mutating anything.
func (f *FastLane) migrationCandidates() []handle.Handle {
	var out []handle.Handle
	for _, rec := range f.LiveRecords() {
		if rec.Hints.Evictable() ||
			rec.Priority == record.Low || rec.Size > f.largeEntryThreshold {
			out = append(out, handle.New(rec.ID, handle.TagFast))
		}
	}
	return out
}
