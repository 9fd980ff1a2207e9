//go:build bufheapdebug

package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/bufheap/internal/format"
)

func TestDebug_DoubleFreePanics(t *testing.T) {
	a := newTestAllocator(t, nil)

	p := a.Alloc(256, false)
	a.Alloc(256, false)
	a.Free(p)
	assert.Panics(t, func() { a.Free(p) })
}

func TestDebug_WriteAfterFreePanics(t *testing.T) {
	a := newTestAllocator(t, nil)

	p := a.Alloc(256, false)
	a.Alloc(256, false)
	c := chunkOf(t, a, p)
	a.Free(p)
	require.Equal(t, byte(poisonByte), c.data[p.ChunkOffset()])

	c.data[p.ChunkOffset()+10] = 1
	assert.Panics(t, func() { a.Alloc(256, false) })
}

func TestDebug_ReallocUnknownPanics(t *testing.T) {
	a := newTestAllocator(t, nil)

	p := a.Alloc(1024, false)
	assert.Panics(t, func() { a.Realloc(p+256, 2048, false) })
}

func TestDebug_ForeignChunkHeaderPanics(t *testing.T) {
	a := newTestAllocator(t, nil)

	p := a.Alloc(1024, false)
	c := chunkOf(t, a, p)
	c.data[format.ChunkKindOffset] = format.ChunkKindArena
	assert.Panics(t, func() { a.AllocSize(p) })
	c.data[format.ChunkKindOffset] = format.ChunkKindMedium
	assert.Equal(t, 1024, a.AllocSize(p))
}
