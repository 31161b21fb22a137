// Package slowlane implements the Region specialisation for
// long-lived, large allocations: negative handle ids and a reserved
// safety margin that leaves scratch room for future compaction and
// migration.
package slowlane

import (
	"go.uber.org/zap"

	"github.com/lanearena/memarena/handle"
	"github.com/lanearena/memarena/region"
)

// SlowLane is the Region specialisation of spec section 4.3. Its
// Compact is the generic Base pass unchanged: the safety margin is
// maintained entirely by NewBase's reserved parameter, which
// Base.usableCapacity already honours in CanAllocate/Allocate, so
// compaction can never violate it.
type SlowLane struct {
	*region.Base

	safetyMargin float64
}

// New constructs a SlowLane with the given capacity and safety margin
// (a fraction in [0, 1) of capacity kept unusable for allocation).
func New(capacity int, safetyMargin float64, log *zap.Logger, observer region.Observer) *SlowLane {
	if log == nil {
		log = zap.NewNop()
	}
	reserved := int(float64(capacity) * safetyMargin)
	return &SlowLane{
		Base:         region.NewBase("slowlane", handle.TagSlow, capacity, reserved, log, observer),
		safetyMargin: safetyMargin,
	}
}

// SafetyMargin reports the configured fraction of capacity reserved.
func (s *SlowLane) SafetyMargin() float64 { return s.safetyMargin }
