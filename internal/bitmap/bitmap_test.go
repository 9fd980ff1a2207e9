package bitmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmap_SetGetClear(t *testing.T) {
	b := New(200)
	require.Equal(t, 200, b.Len())

	for _, i := range []int{0, 1, 63, 64, 127, 199} {
		assert.False(t, b.Get(i))
		b.Set(i)
		assert.True(t, b.Get(i), "bit %d", i)
	}
	assert.Equal(t, 6, b.Count())

	b.Clear(63)
	assert.False(t, b.Get(63))
	assert.Equal(t, 5, b.Count())
}

func TestBitmap_NextPrev(t *testing.T) {
	b := New(4096)
	b.Set(10)
	b.Set(64)
	b.Set(4000)

	assert.Equal(t, 10, b.NextSet(0))
	assert.Equal(t, 10, b.NextSet(10))
	assert.Equal(t, 64, b.NextSet(11))
	assert.Equal(t, 4000, b.NextSet(65))
	assert.Equal(t, -1, b.NextSet(4001))
	assert.Equal(t, -1, b.NextSet(5000))

	assert.Equal(t, -1, b.PrevSet(10))
	assert.Equal(t, 10, b.PrevSet(11))
	assert.Equal(t, 10, b.PrevSet(64))
	assert.Equal(t, 64, b.PrevSet(65))
	assert.Equal(t, 64, b.PrevSet(4000))
	assert.Equal(t, 4000, b.PrevSet(4096))
	assert.Equal(t, -1, b.PrevSet(0))
}

func TestBitmap_Ranges(t *testing.T) {
	b := New(300)
	b.SetRange(5, 200)
	assert.Equal(t, 195, b.Count())
	assert.True(t, b.Any(0, 6))
	assert.False(t, b.Any(200, 300))

	b.ClearRange(10, 150)
	assert.Equal(t, 55, b.Count())
	assert.Equal(t, 150, b.NextSet(10))

	b.ClearAll()
	assert.Equal(t, 0, b.Count())
}

func TestBitmap_AtomicConcurrent(t *testing.T) {
	b := New(1024)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := g; i < 1024; i += 8 {
				b.SetAtomic(i)
			}
		}(g)
	}
	wg.Wait()
	require.Equal(t, 1024, b.Count())

	assert.False(t, b.SetAtomic(3), "already set")
	assert.True(t, b.ClearAtomic(3))
	assert.False(t, b.ClearAtomic(3), "already clear")
}
