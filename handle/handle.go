// Package handle defines the opaque identifier clients hold in exchange
// for an arena allocation.
package handle

import "fmt"

// Tag names the region that minted a Handle. Spec section 9 prefers a
// handle that "carries only {id, region_tag}" over a live back
// reference to its minting lane, so Tag is stored directly rather than
// derived solely from the sign of ID every time it is needed.
type Tag uint8

const (
	// TagInvalid marks the zero Handle: never issued by a region.
	TagInvalid Tag = iota
	// TagFast marks a handle minted by the FastLane.
	TagFast
	// TagSlow marks a handle minted by the SlowLane.
	TagSlow
)

func (t Tag) String() string {
	switch t {
	case TagFast:
		return "fast"
	case TagSlow:
		return "slow"
	default:
		return "invalid"
	}
}

// Handle is the stable, opaque external name for an allocation. Its
// zero value is the reserved invalid handle. Handles are immutable
// value types: copying one copies the identity, not the bytes it
// refers to, and comparing two with == or Equal compares identity.
//
// ID encodes the minting region by sign as a compatibility shim (spec
// section 3: id > 0 is FastLane, id < 0 is SlowLane, id == 0 is
// reserved/invalid) but Tag is the field arena code actually switches
// on; New asserts the two agree.
type Handle struct {
	ID  int64
	Tag Tag
}

// New builds a Handle for id minted by region tag. It panics if id and
// tag disagree about sign, since that can only happen from a
// programming error inside a Region implementation, never from
// external input.
func New(id int64, tag Tag) Handle {
	switch tag {
	case TagFast:
		if id <= 0 {
			panic(fmt.Sprintf("handle: fast-lane id must be positive, got %d", id))
		}
	case TagSlow:
		if id >= 0 {
			panic(fmt.Sprintf("handle: slow-lane id must be negative, got %d", id))
		}
	default:
		if id != 0 {
			panic(fmt.Sprintf("handle: invalid tag for nonzero id %d", id))
		}
	}
	return Handle{ID: id, Tag: tag}
}

// Zero is the reserved invalid handle.
var Zero = Handle{}

// Valid reports whether h could possibly refer to a live allocation.
// It does not consult any region: a Valid() == true handle may
// still be unknown to its region (see Region.has_handle).
func (h Handle) Valid() bool {
	if h.Tag == TagInvalid || h.ID == 0 {
		return false
	}
	if h.Tag == TagFast && h.ID < 0 {
		return false
	}
	if h.Tag == TagSlow && h.ID > 0 {
		return false
	}
	return true
}

// Equal reports whether h and o name the same allocation identity.
func (h Handle) Equal(o Handle) bool {
	return h.ID == o.ID && h.Tag == o.Tag
}

func (h Handle) String() string {
	if !h.Valid() {
		return "handle(invalid)"
	}
	return fmt.Sprintf("handle(%s:%d)", h.Tag, h.ID)
}

// Wire is the serialised shape from spec section 6: { id: i64,
// region_tag: u8 }. IDs are not stable across Arena lifetimes.
type Wire struct {
	ID        int64 `json:"id"`
	RegionTag uint8 `json:"region_tag"`
}

// ToWire projects h onto its wire representation.
func (h Handle) ToWire() Wire {
	return Wire{ID: h.ID, RegionTag: uint8(h.Tag)}
}

// FromWire reconstructs a Handle from its wire representation.
func FromWire(w Wire) Handle {
	return Handle{ID: w.ID, Tag: Tag(w.RegionTag)}
}
