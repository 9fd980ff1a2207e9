package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/bufheap/internal/format"
)

func TestAllocSmall(t *testing.T) {
	a := newTestAllocator(t, nil)

	p := a.Alloc(10, true)
	require.NotEqual(t, Null, p)
	assert.Equal(t, 24, a.AllocSize(p))
	assert.Equal(t, format.ChunkHeaderSize+format.SmallBufferHeaderSize, p.ChunkOffset())
	assert.True(t, a.IsNurseryOwned(p))
	assert.Same(t, a.Zone(), a.AllocZone(p))
	assert.Equal(t, int64(0), a.Zone().MallocHeapSize(), "small buffers are not accounted")

	fill(a.Bytes(p), 0x33)
	q := a.Alloc(24, false)
	assert.Equal(t, p+32, q)
	assert.False(t, a.IsNurseryOwned(q))
	assert.True(t, allEqual(a.Bytes(p), 0x33))

	assert.False(t, a.GrowInPlace(p, 56))
	assert.False(t, a.ShrinkInPlace(p, 8))
	assert.True(t, a.ShrinkInPlace(p, 24))

	a.Free(p)
	assert.False(t, a.IsBufferAlloc(p))
	assert.True(t, a.IsBufferAlloc(q))
	assert.Equal(t, 1, a.Stats().SmallCells)
}

func TestPromoteSmall(t *testing.T) {
	a := newTestAllocator(t, nil)

	p := a.Alloc(100, true)
	a.Promote(p)
	assert.False(t, a.IsNurseryOwned(p))
	assert.False(t, a.IsMarkedBlack(p))
	assert.Equal(t, int64(1), a.Stats().Promotions)
}

func TestSweepSmall(t *testing.T) {
	a := newTestAllocator(t, nil)

	dead := a.Alloc(8, true)
	live := a.Alloc(8, true)
	tenured := a.Alloc(8, false)

	runMinor(t, a, live)
	assert.False(t, a.IsBufferAlloc(dead))
	assert.True(t, a.IsBufferAlloc(live))
	assert.False(t, a.IsMarkedBlack(live), "survivor marks are cleared")
	assert.True(t, a.IsBufferAlloc(tenured), "minor collections ignore tenured buffers")

	runMajor(t, a, false)
	assert.False(t, a.IsBufferAlloc(tenured))
	assert.True(t, a.IsBufferAlloc(live), "major collections ignore nursery buffers")
}

func TestAllocSmall_BlackDuringMarking(t *testing.T) {
	a := newTestAllocator(t, nil)

	require.NoError(t, a.StartMinorCollection())
	p := a.Alloc(8, true)
	assert.True(t, a.IsMarkedBlack(p))
	_, err := a.StartMinorSweeping()
	require.NoError(t, err)
	assert.True(t, a.IsBufferAlloc(p), "allocated during marking survives the sweep")
	a.SweepForMinorCollection()
	a.MergeSweptData()
}
