package region

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/nullptr-labs/memprobe/address"
	"github.com/nullptr-labs/memprobe/arch"
)

// HeapLabels are the pathname substrings that mark a region as the process
// heap on the platforms memprobe cares about. get_heap() (spec §4.B/4.C)
// checks these before falling back to Heap Finder confirmation.
var HeapLabels = []string{"[heap]", "[Heap]"}

// Handler is an ordered, non-overlapping set of Regions for one snapshot:
// spec component C. It is the sole owner of its Regions and is read-only
// once constructed. Unlike the teacher's radix page table (which trades
// O(1) lookup for a fixed 5-level fan-out keyed to a 64-bit address space),
// Handler keeps regions in a sorted slice and binary-searches it — the
// O(log n) bound the spec asks for directly, and a better fit when n is a
// few hundred mapped regions rather than a sparse 64-bit space.
type Handler struct {
	platform arch.Platform
	regions  []*Region // sorted by Start()

	// heapIdx caches the result of a successful Heap Finder confirmation,
	// set once via SetHeapIndex by callers in package heap. -1 means
	// unconfirmed.
	heapIdx int
}

// NewHandler builds a Handler from an unordered set of regions, rejecting
// overlaps with ErrOverlappingRegion (spec §4.C, fatal at construction per
// §7).
func NewHandler(platform arch.Platform, regions []*Region) (*Handler, error) {
	sorted := append([]*Region(nil), regions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start() < sorted[j].Start() })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Start() < sorted[i-1].End() {
			return nil, errors.Wrapf(ErrOverlappingRegion, "[%s,%s) overlaps [%s,%s)",
				sorted[i-1].Start(), sorted[i-1].End(), sorted[i].Start(), sorted[i].End())
		}
	}
	return &Handler{platform: platform, regions: sorted, heapIdx: -1}, nil
}

// Platform returns the Target Platform this Handler is bound to.
func (h *Handler) Platform() arch.Platform { return h.platform }

// Regions returns the regions in ascending Start() order. Callers must not
// mutate the returned slice's contents.
func (h *Handler) Regions() []*Region { return h.regions }

// FindRegion returns the region containing addr, or nil.
func (h *Handler) FindRegion(addr address.Address) *Region {
	i := sort.Search(len(h.regions), func(i int) bool { return h.regions[i].End() > addr })
	if i == len(h.regions) || !h.regions[i].Contains(addr) {
		return nil
	}
	return h.regions[i]
}

// IsValidAddress returns the region containing addr only if that region is
// readable (spec §4.B: "find_region plus a permission check").
func (h *Handler) IsValidAddress(addr address.Address) *Region {
	r := h.FindRegion(addr)
	if r == nil || r.Perm()&Read == 0 {
		return nil
	}
	return r
}

// SetHeapIndex records which region the Heap Finder confirmed as the heap,
// for a Handler that has none labelled. Index must be a valid region index.
func (h *Handler) SetHeapIndex(i int) {
	if i < 0 || i >= len(h.regions) {
		return
	}
	h.heapIdx = i
}

// Heap returns the region whose pathname matches a heap label, or — if one
// was recorded via SetHeapIndex by a prior Heap Finder run — the confirmed
// region. Returns nil if neither is available.
func (h *Handler) Heap() *Region {
	for _, r := range h.regions {
		for _, label := range HeapLabels {
			if r.Pathname() == label {
				return r
			}
		}
	}
	if h.heapIdx >= 0 {
		return h.regions[h.heapIdx]
	}
	return nil
}

// Close releases every region's backing provider and returns the first
// error encountered; Close always attempts every region regardless of
// earlier failures.
func (h *Handler) Close() error {
	var first error
	for _, r := range h.regions {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
