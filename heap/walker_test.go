package heap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullptr-labs/memprobe/address"
	"github.com/nullptr-labs/memprobe/arch"
	"github.com/nullptr-labs/memprobe/region"
)

func chunk(addr address.Address, size int64) Chunk { return Chunk{Addr: addr, Size: size} }

func TestChunkSetAlgebra(t *testing.T) {
	a := newChunkSet(chunk(1, 10), chunk(2, 20))
	b := newChunkSet(chunk(2, 20), chunk(3, 30))

	u := a.union(b)
	assert.Len(t, u, 3)

	m := a.minus(b)
	assert.Len(t, m, 1)
	assert.Equal(t, chunk(1, 10), m[1])
}

func TestCheckSizesRejectsNonPositive(t *testing.T) {
	bad := newChunkSet(chunk(1, 0))
	assert.Error(t, checkSizes(bad))

	good := newChunkSet(chunk(1, 10))
	assert.NoError(t, checkSizes(good))
}

// synthHeapHandler builds a single-region Handler around a synthetic heap
// image of the given frontend type, the same way heap/finder_test.go's
// TestFinderDiscoversSingleHeap does.
func synthHeapHandler(t *testing.T, regionStart address.Address, frontEnd FrontEndHeapType) *region.Handler {
	t.Helper()
	data := buildSyntheticHeap(t, regionStart, frontEnd)
	r, err := region.New(regionStart, regionStart.Add(int64(len(data))), region.Read|region.Write, "[heap]", &heapProvider{data: data})
	require.NoError(t, err)
	h, err := region.NewHandler(arch.AMD64, []*region.Region{r})
	require.NoError(t, err)
	return h
}

// singleWalker runs the Finder over h and requires exactly one confirmed
// heap, returning its Walker.
func singleWalker(t *testing.T, h *region.Handler) *Walker {
	t.Helper()
	f := NewFinder(h, Win7, nil)
	walkers, err := f.ListHeapWalkers(context.Background())
	require.NoError(t, err)
	require.Len(t, walkers, 1)
	return walkers[0]
}

func TestComputeChunksNoFrontEndPartition(t *testing.T) {
	const regionStart = address.Address(0x900000)
	w := singleWalker(t, synthHeapHandler(t, regionStart, FrontEndNone))
	require.Equal(t, FrontEndNone, w.FrontEndHeapType())

	allocs, err := w.UserAllocations()
	require.NoError(t, err)
	frees, err := w.FreeChunks()
	require.NoError(t, err)

	// One busy backend chunk (header stripped: 64-16=48 bytes), one free
	// backend chunk (48-16=32 bytes), no frontend to subtract or add.
	require.Len(t, allocs, 1)
	require.Len(t, frees, 1)

	// user_allocations ∩ free_chunks = ∅ (spec §8 invariant).
	for addr := range allocs {
		_, both := frees[addr]
		assert.False(t, both)
	}
}

func TestComputeChunksLookAsidePartition(t *testing.T) {
	const regionStart = address.Address(0xA00000)
	w := singleWalker(t, synthHeapHandler(t, regionStart, FrontEndLookAside))
	require.Equal(t, FrontEndLookAside, w.FrontEndHeapType())

	allocs, err := w.UserAllocations()
	require.NoError(t, err)
	frees, err := w.FreeChunks()
	require.NoError(t, err)

	// allocs = A \ Fa: the backend-allocated chunk isn't in the Look-Aside
	// set, so it survives untouched. frees = Fa ∪ Fb: the one Look-Aside
	// node joins the backend-free chunk (spec §8 scenario 5's shape,
	// specialised to FrontEndLookAside).
	require.Len(t, allocs, 1)
	require.Len(t, frees, 2)

	lalAddr := regionStart.Add(int64(synthHeapExtra))
	lalChunk, ok := frees[lalAddr]
	require.True(t, ok)
	assert.Equal(t, int64(lalBucket)*Layout64.Granule, lalChunk.Size)

	for addr := range allocs {
		_, both := frees[addr]
		assert.False(t, both)
	}
}

func TestComputeChunksLFHPartition(t *testing.T) {
	const regionStart = address.Address(0xB00000)
	w := singleWalker(t, synthHeapHandler(t, regionStart, FrontEndLFH))
	require.Equal(t, FrontEndLFH, w.FrontEndHeapType())

	allocs, err := w.UserAllocations()
	require.NoError(t, err)
	frees, err := w.FreeChunks()
	require.NoError(t, err)

	// allocs = (A \ Fa) ∪ Aa: the backend-allocated chunk plus the one LFH
	// committed subsegment (Fa is empty here). frees = Fa ∪ Fb: unchanged
	// backend-free (spec §8 scenario 5's literal statement, FrontEndLFH
	// case).
	require.Len(t, allocs, 2)
	require.Len(t, frees, 1)

	subsegAddr := regionStart.Add(int64(synthHeapExtra)).Add(0x100)
	lfhChunk, ok := allocs[subsegAddr]
	require.True(t, ok)
	assert.Equal(t, int64(lfhGranules)*Layout64.Granule, lfhChunk.Size)

	for addr := range allocs {
		_, both := frees[addr]
		assert.False(t, both)
	}
}
