package oneway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanearena/memarena/arenaerr"
	"github.com/lanearena/memarena/handle"
	"github.com/lanearena/memarena/record"
	"github.com/lanearena/memarena/region"
)

func newPair(t *testing.T, fastCap, slowCap, scratch int) (*region.Base, *region.Base, *Lane) {
	t.Helper()
	fast := region.NewBase("fast", handle.TagFast, fastCap, 0, nil, nil)
	slow := region.NewBase("slow", handle.TagSlow, slowCap, 0, nil, nil)
	fast.SetPeer(slow.ResolveDirect, slow.Free)
	lane := New(scratch, fast, slow, nil)
	return fast, slow, lane
}

func TestLane_MoveFromFastToSlowCopiesBytes(t *testing.T) {
	fast, slow, lane := newPair(t, 1024, 1024, 256)

	h, err := fast.Allocate(16, record.Normal, 0, "widget", 1)
	require.NoError(t, err)
	bytes, err := fast.ResolveDirect(h)
	require.NoError(t, err)
	for i := range bytes {
		bytes[i] = byte(0xAB)
	}

	ok, err := lane.MoveFromFastToSlow(h)
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := fast.GetRecord(h)
	require.NoError(t, err)
	assert.True(t, rec.IsStub)
	assert.Equal(t, 0, rec.Size)
	assert.True(t, slow.HasHandle(rec.RedirectTo))

	migrated, err := fast.Resolve(h)
	require.NoError(t, err)
	require.Len(t, migrated, 16)
	for _, b := range migrated {
		assert.Equal(t, byte(0xAB), b)
	}
}

func TestLane_MoveFailsWhenDestinationOutOfCapacity(t *testing.T) {
	fast, _, lane := newPair(t, 1024, 8, 256)

	h, err := fast.Allocate(16, record.Normal, 0, "", 0)
	require.NoError(t, err)

	ok, err := lane.MoveFromFastToSlow(h)
	require.NoError(t, err, "destination exhaustion is recoverable, not an error")
	assert.False(t, ok)

	rec, err := fast.GetRecord(h)
	require.NoError(t, err)
	assert.False(t, rec.IsStub, "a failed migration must not mutate the source")
}

func TestLane_MoveFailsWhenEntryExceedsScratch(t *testing.T) {
	fast, _, lane := newPair(t, 1024, 1024, 8)

	h, err := fast.Allocate(16, record.Normal, 0, "", 0)
	require.NoError(t, err)

	ok, err := lane.MoveFromFastToSlow(h)
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, arenaerr.Is(err, arenaerr.KindBufferTooSmall))
}

func TestLane_MoveUnknownHandleErrors(t *testing.T) {
	_, _, lane := newPair(t, 1024, 1024, 256)
	ok, err := lane.MoveFromFastToSlow(handle.New(1, handle.TagFast))
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, arenaerr.Is(err, arenaerr.KindInvalidHandle))
}

func TestLane_ScratchSize(t *testing.T) {
	_, _, lane := newPair(t, 1024, 1024, 256)
	assert.Equal(t, 256, lane.ScratchSize())
}
