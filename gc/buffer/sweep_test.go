package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/bufheap/internal/format"
)

func TestMinorSweep_ReclaimsUntracedNursery(t *testing.T) {
	a := newTestAllocator(t, nil)

	dead := a.Alloc(300, true)
	live := a.Alloc(300, true)
	tenured := a.Alloc(300, false)

	runMinor(t, a, live)

	assert.False(t, a.IsBufferAlloc(dead))
	assert.True(t, a.IsBufferAlloc(live))
	assert.True(t, a.IsNurseryOwned(live))
	assert.False(t, a.IsMarkedBlack(live))
	assert.True(t, a.IsBufferAlloc(tenured))
	assert.Equal(t, int64(512), a.Zone().MallocHeapSize())
	require.NoError(t, a.Check())

	// The reclaimed span is reused first.
	assert.Equal(t, dead, a.Alloc(300, false))
}

func TestMinorSweep_PromotedSurvivesAsTenured(t *testing.T) {
	a := newTestAllocator(t, nil)

	p := a.Alloc(2000, true)
	require.NoError(t, a.StartMinorCollection())
	a.Promote(p)
	_, err := a.StartMinorSweeping()
	require.NoError(t, err)
	a.SweepForMinorCollection()
	a.MergeSweptData()

	assert.True(t, a.IsBufferAlloc(p))
	assert.False(t, a.IsNurseryOwned(p))
	assert.False(t, a.IsMarkedBlack(p))
	assert.Equal(t, int64(2048), a.Zone().MallocHeapSize())

	st := a.Stats()
	assert.Equal(t, 1, st.TenuredChunks, "swept chunk is reclassified as tenured")
	assert.Equal(t, 0, st.MixedChunks)
	require.NoError(t, a.Check())
}

func TestMinorSweep_ReleasesEmptyChunk(t *testing.T) {
	a := newTestAllocator(t, nil)

	a.Alloc(300, true)
	a.Alloc(5000, true)
	slots := a.store.Registered()

	runMinor(t, a)

	st := a.Stats()
	assert.Equal(t, int64(1), st.ChunksReleased)
	assert.Equal(t, 0, st.MixedChunks+st.TenuredChunks)
	assert.Equal(t, 0, st.FreeRegions)
	assert.Equal(t, slots-1, a.store.Registered())
}

func TestMinorSweep_LargeBuffers(t *testing.T) {
	a := newTestAllocator(t, nil)

	dead := a.Alloc(1<<20, true)
	live := a.Alloc(1<<20, true)
	tenured := a.Alloc(1<<20, false)

	require.NoError(t, a.StartMinorCollection())
	a.MarkBlack(live)
	dl, err := a.StartMinorSweeping()
	require.NoError(t, err)
	assert.Equal(t, 1, dl.Len())
	assert.False(t, a.IsBufferAlloc(dead), "dead large buffers are unreachable before release")
	dl.Release()
	a.SweepForMinorCollection()
	a.MergeSweptData()

	assert.True(t, a.IsBufferAlloc(live))
	assert.False(t, a.IsMarkedBlack(live))
	assert.True(t, a.IsBufferAlloc(tenured))
	assert.Equal(t, int64(1), a.Stats().LargeReleased)
	assert.Equal(t, int64(1), a.store.Stats().LargeUnmapped)
}

func TestMajorSweep(t *testing.T) {
	a := newTestAllocator(t, nil)

	dead := a.Alloc(700, false)
	live := a.Alloc(700, false)
	nursery := a.Alloc(700, true)
	deadLarge := a.Alloc(1<<20, false)
	liveLarge := a.Alloc(1<<20, false)
	assert.Equal(t, int64(2048+2<<20), a.Zone().MallocHeapSize())

	runMajor(t, a, false, live, liveLarge)

	assert.False(t, a.IsBufferAlloc(dead))
	assert.False(t, a.IsBufferAlloc(deadLarge))
	assert.True(t, a.IsBufferAlloc(live))
	assert.True(t, a.IsBufferAlloc(liveLarge))
	assert.True(t, a.IsBufferAlloc(nursery), "major collections ignore nursery buffers")
	assert.False(t, a.IsMarkedBlack(live))
	assert.False(t, a.IsMarkedBlack(liveLarge))
	assert.Equal(t, int64(1024+1<<20), a.Zone().MallocHeapSize())
	require.NoError(t, a.Check())
}

func TestPhaseErrors(t *testing.T) {
	a := newTestAllocator(t, nil)

	_, err := a.StartMinorSweeping()
	assert.ErrorIs(t, err, ErrWrongPhase)
	assert.ErrorIs(t, a.StartMajorSweeping(), ErrWrongPhase)
	assert.ErrorIs(t, a.FinishMajorCollection(), ErrWrongPhase)

	require.NoError(t, a.StartMinorCollection())
	assert.ErrorIs(t, a.StartMinorCollection(), ErrWrongPhase)
	_, err = a.StartMinorSweeping()
	require.NoError(t, err)

	a.Alloc(300, false)
	require.NoError(t, a.StartMajorCollection())
	require.NoError(t, a.StartMajorSweeping())
	assert.ErrorIs(t, a.FinishMajorCollection(), ErrSweepInProgress)
	assert.ErrorIs(t, a.Close(), ErrBusy)

	a.SweepForMinorCollection()
	a.SweepForMajorCollection(false)
	require.NoError(t, a.FinishMajorCollection())
	a.MergeSweptData()
	assert.Equal(t, NotCollecting, a.MinorState())
	assert.Equal(t, "sweeping", Sweeping.String())
}

func TestAbortMajorCollection(t *testing.T) {
	a := newTestAllocator(t, nil)

	p := a.Alloc(300, false)
	q := a.Alloc(300, false)
	l := a.Alloc(1<<20, false)
	hole := a.Alloc(300, false)
	a.Alloc(300, false)
	a.Free(hole)

	require.NoError(t, a.StartMajorCollection())
	a.MarkBlack(p)
	a.MarkBlack(l)
	require.NoError(t, a.FinishMajorCollection())

	assert.Equal(t, NotCollecting, a.MajorState())
	for _, ptr := range []Ptr{p, q, l} {
		assert.True(t, a.IsBufferAlloc(ptr))
		assert.False(t, a.IsMarkedBlack(ptr))
	}
	st := a.Stats()
	assert.Equal(t, int64(1), st.MajorAborts)
	assert.Equal(t, 1, st.TenuredChunks)
	assert.Equal(t, 1, st.TenuredLarge)
	require.NoError(t, a.Check())

	assert.Equal(t, hole, a.Alloc(300, false), "free regions are back on the lists")
}

func TestAllocatedDuringMajorSurvives(t *testing.T) {
	a := newTestAllocator(t, nil)

	a.Alloc(300, false)
	require.NoError(t, a.StartMajorCollection())

	p := a.Alloc(300, false)
	l := a.Alloc(1<<20, false)
	c := chunkOf(t, a, p)
	assert.True(t, c.allocatedDuringCollection.Load())

	require.NoError(t, a.StartMajorSweeping())
	a.SweepForMajorCollection(false)
	require.NoError(t, a.FinishMajorCollection())

	assert.True(t, a.IsBufferAlloc(p))
	assert.True(t, a.IsBufferAlloc(l))
	assert.False(t, c.allocatedDuringCollection.Load())
	require.NoError(t, a.Check())
}

func TestAllocMergesStagedSweep(t *testing.T) {
	a := newTestAllocator(t, nil)

	dead := a.Alloc(300, true)
	keep := a.Alloc(300, true)

	require.NoError(t, a.StartMinorCollection())
	a.MarkBlack(keep)
	_, err := a.StartMinorSweeping()
	require.NoError(t, err)
	a.SweepForMinorCollection()
	assert.Equal(t, Sweeping, a.MinorState())

	// The only chunk is staged, so the live free lists are empty.
	p := a.Alloc(300, false)
	assert.Equal(t, dead, p)
	assert.Equal(t, NotCollecting, a.MinorState(), "allocation merged the finished sweep")
	assert.Equal(t, int64(1), a.Stats().ChunksAllocated)
	require.NoError(t, a.Check())
}

func TestMajorSweep_Decommit(t *testing.T) {
	a := newTestAllocator(t, nil)

	p := a.Alloc(256, false)
	big := a.Alloc(256<<10, false)
	q := a.Alloc(256, false)
	fill(a.Bytes(big), 0x77)

	runMajor(t, a, true, p, q)
	assert.False(t, a.IsBufferAlloc(big))
	assert.Positive(t, a.Stats().PagesDecommitted)
	require.NoError(t, a.Check())

	c := chunkOf(t, a, p)
	assert.True(t, c.decommitted.Any(0, format.PagesPerChunk))

	again := a.Alloc(256<<10, false)
	assert.Equal(t, big, again)
	b := a.Bytes(again)
	fill(b, 0x78)
	assert.True(t, allEqual(b, 0x78))
	first, last := again.ChunkOffset()>>format.PageShift, (again.ChunkOffset()+len(b))>>format.PageShift
	assert.False(t, c.decommitted.Any(first, last), "allocated pages are recommitted")
	require.NoError(t, a.Check())
}

func TestMajorSweep_DecommitSkipsReleasedPages(t *testing.T) {
	a := newTestAllocator(t, nil)

	p := a.Alloc(256, false)
	a.Alloc(256<<10, false)
	q := a.Alloc(256, false)

	runMajor(t, a, true, p, q)
	released := a.Stats().PagesDecommitted
	require.Positive(t, released)

	runMajor(t, a, true, p, q)
	assert.Equal(t, released, a.Stats().PagesDecommitted, "pages already decommitted are not released again")
	require.NoError(t, a.Check())
}

func TestReleaseChunk_RecommitsOnReuse(t *testing.T) {
	a := newTestAllocator(t, nil)

	p := a.Alloc(256, false)
	big := a.Alloc(256<<10, false)
	q := a.Alloc(256, false)
	runMajor(t, a, true, p, q)
	require.False(t, a.IsBufferAlloc(big))
	vmc := chunkOf(t, a, p).vmc

	// Nothing survives, so the partly decommitted chunk goes back to the store.
	runMajor(t, a, false)
	require.False(t, a.IsBufferAlloc(p))
	assert.True(t, vmc.Decommitted())

	again := a.Alloc(256<<10, false)
	require.NotEqual(t, Null, again)
	assert.Same(t, vmc, chunkOf(t, a, again).vmc)
	assert.False(t, vmc.Decommitted())
	assert.EqualValues(t, 1, a.store.Stats().Recommits)

	b := a.Bytes(again)
	fill(b, 0x5a)
	assert.True(t, allEqual(b, 0x5a))
	require.NoError(t, a.Check())
}
