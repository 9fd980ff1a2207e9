package osmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapUnmap(t *testing.T) {
	size := 4 * PageSize()
	b, err := Map(size)
	require.NoError(t, err)
	require.Len(t, b, size)

	for i := range b {
		require.Zero(t, b[i], "fresh mapping must be zeroed")
	}
	b[0], b[size-1] = 0xAA, 0xBB
	assert.Equal(t, byte(0xAA), b[0])

	require.NoError(t, Unmap(b))
}

func TestMap_BadSize(t *testing.T) {
	_, err := Map(0)
	require.ErrorIs(t, err, ErrBadRange)
}

func TestDecommitZeroesWholePages(t *testing.T) {
	ps := PageSize()
	b, err := Map(4 * ps)
	require.NoError(t, err)
	defer func() { require.NoError(t, Unmap(b)) }()

	for i := range b {
		b[i] = 0x5A
	}
	// Range starts mid-page: only pages 1 and 2 are wholly inside.
	require.NoError(t, Decommit(b[ps/2:3*ps]))
	require.NoError(t, Recommit(b[ps/2:3*ps]))

	assert.Equal(t, byte(0x5A), b[ps-1], "partial leading page untouched")
	assert.Equal(t, byte(0), b[ps])
	assert.Equal(t, byte(0), b[3*ps-1])
	assert.Equal(t, byte(0x5A), b[3*ps], "page after range untouched")
}

func TestTruncateTail(t *testing.T) {
	ps := PageSize()
	b, err := Map(4 * ps)
	require.NoError(t, err)

	got, err := TruncateTail(b, 2*ps)
	if !SupportsPartialUnmap {
		require.ErrorIs(t, err, ErrUnsupported)
		require.NoError(t, Unmap(b))
		return
	}
	require.NoError(t, err)
	assert.Len(t, got, 2*ps)
	assert.Equal(t, 2*ps, cap(got))
	got[2*ps-1] = 1

	_, err = TruncateTail(got, ps+1)
	require.ErrorIs(t, err, ErrBadRange)

	require.NoError(t, Unmap(got))
}
