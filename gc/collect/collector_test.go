package collect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/bufheap/gc/buffer"
	"github.com/joshuapare/bufheap/gc/zone"
	"github.com/joshuapare/bufheap/vm"
)

type owner struct{ tenured bool }

func (o owner) IsTenured() bool { return o.tenured }

var (
	nurseryOwner = owner{}
	tenuredOwner = owner{tenured: true}
)

func newTestCollector(t *testing.T, zcfg *zone.Config, cfg *Config) (*Collector, *buffer.Allocator) {
	t.Helper()
	store := vm.New(nil)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	if zcfg == nil {
		zcfg = &zone.Config{Name: "test"}
	}
	a := buffer.New(zone.New(1, zcfg), store, nil)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	col := New(a, cfg)
	t.Cleanup(func() { require.NoError(t, col.Close(context.Background())) })
	return col, a
}

func TestMinorGC(t *testing.T) {
	ctx := context.Background()
	col, a := newTestCollector(t, nil, nil)

	dead := a.Alloc(300, true)
	kept := a.Alloc(300, true)
	promoted := a.Alloc(300, true)
	bigDead := a.Alloc(1<<20, true)
	small := a.Alloc(16, true)
	require.Zero(t, a.Zone().MallocHeapSize())

	require.NoError(t, col.MinorGC(ctx, func(tr *Tracer) {
		assert.Equal(t, Minor, tr.Kind())
		tr.TraceEdge(nurseryOwner, kept)
		tr.TraceEdge(tenuredOwner, promoted)
		tr.TraceEdge(nurseryOwner, small)
		tr.TraceEdge(nurseryOwner, buffer.Null)
		assert.Equal(t, 2, tr.Marked())
		assert.Equal(t, 1, tr.Promoted())
	}))
	require.NoError(t, col.Wait(ctx))

	assert.False(t, a.IsBufferAlloc(dead))
	assert.False(t, a.IsBufferAlloc(bigDead))
	require.True(t, a.IsBufferAlloc(kept))
	assert.True(t, a.IsNurseryOwned(kept))
	assert.False(t, a.IsMarkedBlack(kept))
	require.True(t, a.IsBufferAlloc(promoted))
	assert.False(t, a.IsNurseryOwned(promoted))
	assert.True(t, a.IsBufferAlloc(small))

	assert.Equal(t, int64(a.AllocSize(promoted)), a.Zone().MallocHeapSize())
	assert.Equal(t, buffer.NotCollecting, a.MinorState())
	require.NoError(t, a.Check())

	minor, major, aborted := col.Cycles()
	assert.Equal(t, int64(1), minor)
	assert.Zero(t, major)
	assert.Zero(t, aborted)
}

func TestMinorGC_IgnoresTenured(t *testing.T) {
	ctx := context.Background()
	col, a := newTestCollector(t, nil, nil)

	ten := a.Alloc(300, false)
	a.Alloc(300, true)
	require.NoError(t, col.MinorGC(ctx, func(tr *Tracer) {
		tr.TraceEdge(tenuredOwner, ten)
		assert.Zero(t, tr.Marked())
	}))
	require.NoError(t, col.Wait(ctx))
	assert.True(t, a.IsBufferAlloc(ten), "minor collections never reclaim tenured buffers")
}

func TestMajorGC_TriggerAndRearm(t *testing.T) {
	ctx := context.Background()
	col, a := newTestCollector(t, &zone.Config{
		Name:            "test",
		TriggerBytes:    4096,
		GrowthFactor:    2,
		MinTriggerBytes: 1 << 20,
	}, nil)

	trace := func(live []buffer.Ptr) func(*Tracer) error {
		return func(tr *Tracer) error {
			for _, p := range live {
				tr.TraceEdge(tenuredOwner, p)
			}
			return nil
		}
	}

	ran, err := col.MaybeMajorGC(ctx, trace(nil))
	require.NoError(t, err)
	assert.False(t, ran)

	var bufs []buffer.Ptr
	for range 16 {
		bufs = append(bufs, a.Alloc(512, false))
	}
	require.True(t, a.Zone().Triggered())

	ran, err = col.MaybeMajorGC(ctx, trace(bufs[:8]))
	require.NoError(t, err)
	require.True(t, ran)
	require.NoError(t, col.Wait(ctx))

	for i, p := range bufs {
		assert.Equal(t, i < 8, a.IsBufferAlloc(p), "buffer %d", i)
	}
	assert.Equal(t, int64(8*512), a.Zone().MallocHeapSize())
	assert.False(t, a.Zone().Triggered())
	assert.Equal(t, int64(1<<20), a.Zone().Threshold())
	assert.Equal(t, buffer.NotCollecting, a.MajorState())
	require.NoError(t, a.Check())
}

func TestMajorGC_Abort(t *testing.T) {
	ctx := context.Background()
	col, a := newTestCollector(t, nil, nil)

	p := a.Alloc(300, false)
	big := a.Alloc(1<<20, false)
	boom := errors.New("boom")

	err := col.MajorGC(ctx, func(tr *Tracer) error {
		tr.TraceEdge(tenuredOwner, p)
		return boom
	})
	require.ErrorIs(t, err, ErrAborted)
	require.ErrorIs(t, err, boom)

	assert.True(t, a.IsBufferAlloc(p))
	assert.True(t, a.IsBufferAlloc(big))
	assert.False(t, a.IsMarkedBlack(p))
	assert.Equal(t, buffer.NotCollecting, a.MajorState())
	require.NoError(t, a.Check())
	_, _, aborted := col.Cycles()
	assert.Equal(t, int64(1), aborted)

	require.NoError(t, col.MajorGC(ctx, func(*Tracer) error { return nil }))
	require.NoError(t, col.Wait(ctx))
	assert.False(t, a.IsBufferAlloc(p))
	assert.False(t, a.IsBufferAlloc(big))
}

func TestMajorGC_DuringMinorSweep(t *testing.T) {
	ctx := context.Background()
	col, a := newTestCollector(t, nil, &ConfigLowFootprint)

	liveTenured := a.Alloc(300, false)
	deadTenured := a.Alloc(300, false)
	liveNursery := a.Alloc(300, true)
	deadNursery := a.Alloc(300, true)

	require.NoError(t, col.MinorGC(ctx, func(tr *Tracer) {
		tr.TraceEdge(nurseryOwner, liveNursery)
	}))
	require.NoError(t, col.MajorGC(ctx, func(tr *Tracer) error {
		assert.Equal(t, Major, tr.Kind())
		tr.TraceEdge(tenuredOwner, liveTenured)
		tr.TraceEdge(tenuredOwner, liveNursery)
		return nil
	}))
	require.NoError(t, col.Wait(ctx))

	assert.Equal(t, buffer.NotCollecting, a.MinorState())
	assert.Equal(t, buffer.NotCollecting, a.MajorState())
	assert.True(t, a.IsBufferAlloc(liveTenured))
	assert.False(t, a.IsBufferAlloc(deadTenured))
	assert.True(t, a.IsBufferAlloc(liveNursery))
	assert.False(t, a.IsBufferAlloc(deadNursery))
	assert.False(t, a.IsMarkedBlack(liveTenured))
	require.NoError(t, a.Check())
}

func TestAllocDuringBackgroundSweep(t *testing.T) {
	ctx := context.Background()
	col, a := newTestCollector(t, nil, nil)

	var old []buffer.Ptr
	for i := range 2000 {
		p := a.Alloc(1024, true)
		require.NotEqual(t, buffer.Null, p)
		if i%2 == 0 {
			old = append(old, p)
		}
	}
	require.NoError(t, col.MinorGC(ctx, func(tr *Tracer) {
		for _, p := range old {
			tr.TraceEdge(nurseryOwner, p)
		}
	}))

	var fresh []buffer.Ptr
	for i := range 500 {
		p := a.Alloc(700, true)
		require.NotEqual(t, buffer.Null, p)
		b := a.Bytes(p)
		for j := range b {
			b[j] = byte(i)
		}
		fresh = append(fresh, p)
	}
	require.NoError(t, col.Wait(ctx))
	require.NoError(t, a.Check())

	for i, p := range fresh {
		b := a.Bytes(p)
		require.NotNil(t, b)
		assert.Equal(t, byte(i), b[0])
		assert.Equal(t, byte(i), b[len(b)-1])
	}
	for _, p := range old {
		assert.True(t, a.IsBufferAlloc(p))
	}
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	col, a := newTestCollector(t, nil, nil)

	a.Alloc(300, true)
	require.NoError(t, col.MinorGC(ctx, func(*Tracer) {}))
	require.NoError(t, col.Close(ctx))
	assert.Equal(t, buffer.NotCollecting, a.MinorState())

	assert.ErrorIs(t, col.MinorGC(ctx, func(*Tracer) {}), ErrClosed)
	assert.ErrorIs(t, col.MajorGC(ctx, func(*Tracer) error { return nil }), ErrClosed)
	assert.ErrorIs(t, col.Wait(ctx), ErrClosed)
	require.NoError(t, col.Close(ctx))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "minor", Minor.String())
	assert.Equal(t, "major", Major.String())
}
