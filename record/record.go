// Package record defines the per-allocation metadata a Region keeps
// alongside its byte buffer.
package record

import "github.com/lanearena/memarena/handle"

// Priority hints at how aggressively an entry should be preserved
// during maintenance.
type Priority uint8

const (
	// Critical entries are the most important to keep. The policy
	// engine does not exempt them from migration: a Critical entry with
	// Cold or Old hints, or over the large-entry size, is still offered.
	Critical Priority = iota
	// Normal is the default priority.
	Normal
	// Low-priority entries are migration candidates as soon as the
	// owning region gets hot.
	Low
)

func (p Priority) String() string {
	switch p {
	case Critical:
		return "critical"
	case Low:
		return "low"
	default:
		return "normal"
	}
}

// Hints is a bit-set of usage hints a client attaches to an
// allocation. Either Cold or Old makes an entry "evictable" to the
// policy engine (see Evictable).
type Hints uint8

const (
	// FrameCritical marks an allocation the client needs within the
	// current frame. Maintenance does not consult it: such an entry is
	// still relocated by compaction and, if also Cold or Old, migrated.
	FrameCritical Hints = 1 << iota
	// Cold marks an allocation the client no longer accesses often.
	Cold
	// Old marks an allocation that has outlived its expected lifetime.
	Old
)

// Has reports whether all bits in want are set.
func (h Hints) Has(want Hints) bool { return h&want == want }

// Evictable reports whether either Cold or Old is set, the policy
// engine's definition of "safe to migrate out of the hot lane."
func (h Hints) Evictable() bool { return h.Has(Cold) || h.Has(Old) }

// Record is the internal metadata describing one allocation. It lives
// inside the Region that owns it; clients never see it directly, only
// through Handle and the Region accessors that return copies of it.
type Record struct {
	ID     int64
	Offset int
	Size   int

	// IsStub, if true, means this record holds no live bytes and
	// RedirectTo names the successor allocation. Stubs always have
	// Size == 0.
	IsStub     bool
	RedirectTo handle.Handle

	Priority Priority
	Hints    Hints

	DebugName string

	AllocationFrame int64
	LastAccessFrame int64
}

// End returns Offset + Size, the first byte past this record.
func (r Record) End() int { return r.Offset + r.Size }

// Overlaps reports whether r and o occupy any common byte range. Two
// zero-size records never overlap.
func (r Record) Overlaps(o Record) bool {
	if r.Size == 0 || o.Size == 0 {
		return false
	}
	return r.Offset < o.End() && o.Offset < r.End()
}
