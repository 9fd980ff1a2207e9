package decommit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/bufheap/internal/osmem"
)

func TestTracker_CoalesceRoundsInward(t *testing.T) {
	tr := NewTracker()
	ps := tr.PageSize()

	tests := []struct {
		name   string
		ranges []Range
		want   []Range
	}{
		{
			name:   "sub-page range releases nothing",
			ranges: []Range{{Off: 10, Len: ps - 20}},
			want:   nil,
		},
		{
			name:   "unaligned range shrinks to whole pages",
			ranges: []Range{{Off: ps / 2, Len: 3 * ps}},
			want:   []Range{{Off: ps, Len: 2 * ps}},
		},
		{
			name:   "adjacent fragments combine into a page",
			ranges: []Range{{Off: ps / 2, Len: ps / 2}, {Off: 0, Len: ps / 2}},
			want:   []Range{{Off: 0, Len: ps}},
		},
		{
			name:   "disjoint ranges stay separate and sorted",
			ranges: []Range{{Off: 4 * ps, Len: ps}, {Off: 0, Len: ps}},
			want:   []Range{{Off: 0, Len: ps}, {Off: 4 * ps, Len: ps}},
		},
		{
			name:   "overlapping ranges merge",
			ranges: []Range{{Off: 0, Len: 2 * ps}, {Off: ps, Len: 2 * ps}},
			want:   []Range{{Off: 0, Len: 3 * ps}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr.Reset()
			for _, r := range tt.ranges {
				tr.Add(r.Off, r.Len)
			}
			got := tr.Pages()
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTracker_AddIgnoresEmpty(t *testing.T) {
	tr := NewTracker()
	tr.Add(0, 0)
	tr.Add(0, -1)
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_FlushZeroesPages(t *testing.T) {
	tr := NewTracker()
	ps := tr.PageSize()

	data, err := osmem.Map(4 * ps)
	require.NoError(t, err)
	defer func() { require.NoError(t, osmem.Unmap(data)) }()

	for i := range data {
		data[i] = 0xCC
	}

	tr.Add(ps-1, 2*ps+2)
	done, err := tr.Flush(context.Background(), data)
	require.NoError(t, err)
	require.Equal(t, []Range{{Off: ps, Len: 2 * ps}}, done)
	assert.Equal(t, 0, tr.Len(), "flush clears the tracker")

	assert.Equal(t, byte(0xCC), data[ps-1])
	assert.Equal(t, byte(0), data[ps])
	assert.Equal(t, byte(0), data[3*ps-1])
	assert.Equal(t, byte(0xCC), data[3*ps])
}

func TestTracker_FlushPreCancelled(t *testing.T) {
	tr := NewTracker()
	tr.Add(0, tr.PageSize())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Flush(ctx, make([]byte, tr.PageSize()))
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, tr.Len(), "cancelled flush keeps ranges")
}

func TestTracker_FlushEmptyWithCancelled(t *testing.T) {
	tr := NewTracker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done, err := tr.Flush(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, done)
}
