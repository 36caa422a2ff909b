package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullptr-labs/memprobe/address"
	"github.com/nullptr-labs/memprobe/arch"
)

func mustRegion(t *testing.T, start, end address.Address, perm Perm, pathname string) *Region {
	t.Helper()
	r, err := New(start, end, perm, pathname, newMemProvider(make([]byte, end.Sub(start))))
	require.NoError(t, err)
	return r
}

func TestHandlerFindRegion(t *testing.T) {
	r1 := mustRegion(t, 0x1000, 0x2000, Read, "")
	r2 := mustRegion(t, 0x3000, 0x4000, Read|Write, "[heap]")
	r3 := mustRegion(t, 0x5000, 0x6000, Read|Exec, "/bin/prog")

	h, err := NewHandler(arch.AMD64, []*Region{r3, r1, r2}) // deliberately unordered input
	require.NoError(t, err)

	assert.Same(t, r1, h.FindRegion(0x1500))
	assert.Same(t, r2, h.FindRegion(0x3000))
	assert.Nil(t, h.FindRegion(0x2500))
	assert.Nil(t, h.FindRegion(0x6000)) // end is exclusive

	// Quantified invariant from spec §8: for every region r, for every
	// address a in [r.start, r.end), find_region(a) == r.
	for _, r := range []*Region{r1, r2, r3} {
		for a := r.Start(); a < r.End(); a += 0x100 {
			assert.Same(t, r, h.FindRegion(a))
		}
	}
}

func TestHandlerRejectsOverlap(t *testing.T) {
	r1 := mustRegion(t, 0x1000, 0x2000, Read, "")
	r2 := mustRegion(t, 0x1800, 0x2800, Read, "")
	_, err := NewHandler(arch.AMD64, []*Region{r1, r2})
	assert.ErrorIs(t, err, ErrOverlappingRegion)
}

func TestHandlerHeapLabel(t *testing.T) {
	r1 := mustRegion(t, 0x1000, 0x2000, Read, "")
	r2 := mustRegion(t, 0x3000, 0x4000, Read|Write, "[heap]")
	h, err := NewHandler(arch.AMD64, []*Region{r1, r2})
	require.NoError(t, err)
	assert.Same(t, r2, h.Heap())
}

func TestHandlerHeapConfirmedIndex(t *testing.T) {
	r1 := mustRegion(t, 0x1000, 0x2000, Read, "")
	r2 := mustRegion(t, 0x3000, 0x4000, Read|Write, "")
	h, err := NewHandler(arch.AMD64, []*Region{r1, r2})
	require.NoError(t, err)
	assert.Nil(t, h.Heap())

	h.SetHeapIndex(1)
	assert.Same(t, r2, h.Heap())
}

func TestHandlerIsValidAddressChecksPerm(t *testing.T) {
	noRead := mustRegion(t, 0x1000, 0x2000, Write, "")
	h, err := NewHandler(arch.AMD64, []*Region{noRead})
	require.NoError(t, err)
	assert.Nil(t, h.IsValidAddress(0x1500))
}
