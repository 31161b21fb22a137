package slowlane

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanearena/memarena/handle"
	"github.com/lanearena/memarena/record"
)

func TestSlowLane_AllocateIssuesNegativeIDs(t *testing.T) {
	s := New(1024, 0.10, nil, nil)
	h, err := s.Allocate(16, record.Normal, 0, "", 0)
	require.NoError(t, err)
	assert.Less(t, h.ID, int64(0))
	assert.Equal(t, handle.TagSlow, h.Tag)
}

func TestSlowLane_SafetyMarginEnforced(t *testing.T) {
	s := New(1024*1024, 0.10, nil, nil)

	_, err := s.Allocate(900*1024, record.Normal, 0, "", 0)
	require.NoError(t, err)

	_, err = s.Allocate(50*1024, record.Normal, 0, "", 0)
	require.Error(t, err, "900KiB + 50KiB exceeds capacity * (1 - 0.10)")
}

func TestSlowLane_CompactPreservesSafetyMargin(t *testing.T) {
	s := New(1024, 0.10, nil, nil)
	h1, err := s.Allocate(128, record.Normal, 0, "a", 0)
	require.NoError(t, err)
	_, err = s.Allocate(128, record.Normal, 0, "b", 0)
	require.NoError(t, err)

	require.NoError(t, s.Free(h1))
	s.Compact()

	assert.True(t, s.CanAllocate(1024-102-128), "compaction must not eat into the reserved margin")
	assert.False(t, s.CanAllocate(1024-102), "a request that would cross the margin boundary must fail")
}
