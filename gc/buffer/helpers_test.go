package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/bufheap/gc/zone"
	"github.com/joshuapare/bufheap/vm"
)

func newTestAllocator(t *testing.T, cfg *Config) *Allocator {
	t.Helper()
	store := vm.New(nil)
	z := zone.New(1, &zone.Config{Name: "test"})
	a := New(z, store, cfg)
	t.Cleanup(func() {
		if !a.IsSweeping() {
			require.NoError(t, a.Close())
		}
		require.NoError(t, store.Close())
	})
	return a
}

// runMinor runs a whole minor collection on the calling goroutine, marking
// the given buffers live.
func runMinor(t *testing.T, a *Allocator, live ...Ptr) {
	t.Helper()
	require.NoError(t, a.StartMinorCollection())
	for _, p := range live {
		a.MarkBlack(p)
	}
	dead, err := a.StartMinorSweeping()
	require.NoError(t, err)
	dead.Release()
	a.SweepForMinorCollection()
	a.MergeSweptData()
	require.Equal(t, NotCollecting, a.MinorState())
}

// runMajor runs a whole major collection on the calling goroutine, marking
// the given buffers live.
func runMajor(t *testing.T, a *Allocator, decommit bool, live ...Ptr) {
	t.Helper()
	require.NoError(t, a.StartMajorCollection())
	for _, p := range live {
		a.MarkBlack(p)
	}
	require.NoError(t, a.StartMajorSweeping())
	a.SweepForMajorCollection(decommit)
	require.NoError(t, a.FinishMajorCollection())
	require.Equal(t, NotCollecting, a.MajorState())
}

func chunkOf(t *testing.T, a *Allocator, p Ptr) *chunk {
	t.Helper()
	c, ok := a.store.Lookup(p).(*chunk)
	require.True(t, ok, "%v is not in a medium chunk", p)
	return c
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

func allEqual(b []byte, v byte) bool {
	for _, x := range b {
		if x != v {
			return false
		}
	}
	return true
}
