package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/bufheap/internal/format"
	"github.com/joshuapare/bufheap/internal/osmem"
)

func TestAllocLarge(t *testing.T) {
	a := newTestAllocator(t, nil)

	p := a.Alloc(600<<10, false)
	require.NotEqual(t, Null, p)
	assert.True(t, p.IsChunkAligned())
	assert.Equal(t, 600<<10, a.AllocSize(p))
	assert.Len(t, a.Bytes(p), 600<<10)
	assert.Equal(t, int64(600<<10), a.Zone().MallocHeapSize())
	assert.Equal(t, 1, a.Stats().TenuredLarge)

	b := a.Bytes(p)
	b[0], b[len(b)-1] = 1, 2

	a.Free(p)
	assert.False(t, a.IsBufferAlloc(p))
	assert.Equal(t, int64(0), a.Zone().MallocHeapSize())
	assert.Equal(t, int64(1), a.store.Stats().LargeUnmapped)
}

func TestAllocLarge_PageRounded(t *testing.T) {
	a := newTestAllocator(t, nil)

	p := a.Alloc(format.MaxMediumAllocSize+1, true)
	assert.Equal(t, format.MinLargeAllocSize, a.AllocSize(p))
	assert.True(t, a.IsNurseryOwned(p))
	assert.Equal(t, int64(0), a.Zone().MallocHeapSize())
	assert.Equal(t, 1, a.Stats().NurseryLarge)
}

func TestShrinkLarge(t *testing.T) {
	a := newTestAllocator(t, nil)

	p := a.Alloc(2<<20, false)
	fill(a.Bytes(p)[:4096], 0x5A)

	ok := a.ShrinkInPlace(p, 1<<20)
	if !osmem.SupportsPartialUnmap {
		assert.False(t, ok)
		return
	}
	require.True(t, ok)
	assert.Equal(t, 1<<20, a.AllocSize(p))
	assert.Equal(t, int64(1<<20), a.Zone().MallocHeapSize())
	assert.True(t, allEqual(a.Bytes(p)[:4096], 0x5A))
	assert.False(t, a.GrowInPlace(p, 2<<20), "large buffers never grow in place")
}

func TestPromoteLarge(t *testing.T) {
	a := newTestAllocator(t, nil)

	p := a.Alloc(1<<20, true)
	a.Promote(p)
	assert.False(t, a.IsNurseryOwned(p))
	assert.Equal(t, int64(1<<20), a.Zone().MallocHeapSize())
	st := a.Stats()
	assert.Equal(t, 0, st.NurseryLarge)
	assert.Equal(t, 1, st.TenuredLarge)
}
