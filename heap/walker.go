package heap

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nullptr-labs/memprobe/address"
	"github.com/nullptr-labs/memprobe/arch"
	"github.com/nullptr-labs/memprobe/region"
)

// ErrHeapCorruption is returned when a heap walk produces a non-positive
// chunk size (spec §7: "Fatal for the affected heap; other heaps still
// reported").
var ErrHeapCorruption = errors.New("heap: corrupt heap structure")

const entryFlagBusy = 0x01 // HEAP_ENTRY.Flags bit marking a chunk allocated, not free

// ucr is a decoded Uncommitted Range: a hole inside a segment's span (spec
// GLOSSARY).
type ucr struct {
	addr, end address.Address
}

// segment is a decoded HEAP_SEGMENT (spec §3).
type segment struct {
	firstEntry, lastValid address.Address
	ucrs                  []ucr // sorted by addr
}

// Walker is bound to a single confirmed Windows heap (spec component H).
// Results are computed once, on first call to either query, and memoised
// for the Walker's lifetime (spec §4.H "State"), following the same
// sync.Once pattern the teacher's gocore.Process uses for its own
// once-computed heap index (internal/gocore/process.go's initTypeHeap /
// initReverseEdges).
type Walker struct {
	handler *region.Handler
	layout  Layout
	heapReg *region.Region
	heapAddr address.Address

	frontEnd FrontEndHeapType
	segments []segment

	log *zap.Logger

	once     sync.Once
	computed bool
	allocs   ChunkSet
	frees    ChunkSet
	usedMaps []*region.Region
	corrupt  error
}

// newWalker constructs a Walker around an already-confirmed heap record at
// (heapReg, heapAddr). segments must be pre-decoded by the Finder (it has
// to walk the segment list to find every region the heap spans in the
// first place).
func newWalker(h *region.Handler, l Layout, heapReg *region.Region, heapAddr address.Address, frontEnd FrontEndHeapType, segments []segment, log *zap.Logger) *Walker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Walker{handler: h, layout: l, heapReg: heapReg, heapAddr: heapAddr, frontEnd: frontEnd, segments: segments, log: log}
}

// Address returns the heap's base address.
func (w *Walker) Address() address.Address { return w.heapAddr }

// FrontEndHeapType returns the heap's frontend allocator kind.
func (w *Walker) FrontEndHeapType() FrontEndHeapType { return w.frontEnd }

// Contains reports whether addr falls inside any region the heap's segments
// span (original_source winheapwalker.py's __contains__).
func (w *Walker) Contains(addr address.Address) bool {
	for _, r := range w.ListUsedMappings() {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// ListUsedMappings enumerates every Memory Handler region overlapping some
// segment's [start, last_valid_entry) span (spec §4.H). Segments may
// straddle multiple regions because UCRs are unmapped.
func (w *Walker) ListUsedMappings() []*region.Region {
	seen := map[*region.Region]bool{}
	var out []*region.Region
	for _, seg := range w.segments {
		for a := seg.firstEntry; a < seg.lastValid; {
			r := w.handler.FindRegion(a)
			if r == nil {
				// Unmapped gap (e.g. a UCR): resume at the next region that
				// starts inside the span, if any.
				next := a
				for _, cand := range w.handler.Regions() {
					if cand.Start() > a {
						next = cand.Start()
						break
					}
				}
				if next == a || next >= seg.lastValid {
					break
				}
				a = next
				continue
			}
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
			a = r.End()
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start() < out[j].Start() })
	return out
}

// UserAllocations returns every currently-allocated user chunk (spec
// §4.H).
func (w *Walker) UserAllocations() (ChunkSet, error) {
	w.compute()
	if w.corrupt != nil {
		return nil, w.corrupt
	}
	return w.allocs, nil
}

// FreeChunks returns every chunk known to be free (spec §4.H).
func (w *Walker) FreeChunks() (ChunkSet, error) {
	w.compute()
	if w.corrupt != nil {
		return nil, w.corrupt
	}
	return w.frees, nil
}

func (w *Walker) compute() {
	w.once.Do(func() {
		w.allocs, w.frees, w.corrupt = w.computeChunks()
	})
}

// computeChunks applies the set algebra from spec §4.H, in the order the
// spec defines as authoritative. It mirrors
// original_source/haystack/allocators/win32/winheapwalker.py's
// _set_chunk_lists almost line for line, including the header-byte
// subtraction and the per-stage _check_sizes invariant guard, supplemented
// per SPEC_FULL.md's SUPPLEMENTED FEATURES section.
func (w *Walker) computeChunks() (ChunkSet, ChunkSet, error) {
	header := w.layout.EntrySize

	vallocs, err := w.walkVirtualAllocations()
	if err != nil {
		return nil, nil, err
	}
	if err := checkSizes(vallocs); err != nil {
		return nil, nil, err
	}

	committed, free, err := w.walkSegments()
	if err != nil {
		return nil, nil, err
	}
	if err := checkSizes(committed); err != nil {
		return nil, nil, err
	}
	if err := checkSizes(free); err != nil {
		return nil, nil, err
	}

	committedUser := stripHeader(committed, header)
	freeUser := stripHeader(free, header)
	if err := checkSizes(committedUser); err != nil {
		return nil, nil, err
	}
	if err := checkSizes(freeUser); err != nil {
		return nil, nil, err
	}

	backendAllocs := vallocs.union(committedUser) // A = V ∪ (C minus header)
	backendFree := freeUser                       // Fb = Cf minus header

	var allocs, frees ChunkSet
	switch w.frontEnd {
	case FrontEndNone:
		allocs, frees = backendAllocs, backendFree
	case FrontEndLookAside:
		lal, err := w.walkLookAsideList()
		if err != nil {
			return nil, nil, err
		}
		if err := checkSizes(lal); err != nil {
			return nil, nil, err
		}
		allocs = backendAllocs.minus(lal)
		frees = lal.union(backendFree)
	case FrontEndLFH:
		lfhFree, lfhCommitted, err := w.walkLFH()
		if err != nil {
			return nil, nil, err
		}
		if err := checkSizes(lfhFree); err != nil {
			return nil, nil, err
		}
		if err := checkSizes(lfhCommitted); err != nil {
			return nil, nil, err
		}
		allocs = backendAllocs.minus(lfhFree).union(lfhCommitted)
		frees = lfhFree.union(backendFree)
	default:
		allocs, frees = backendAllocs, backendFree
	}

	if err := checkSizes(allocs); err != nil {
		return nil, nil, err
	}
	if err := checkSizes(frees); err != nil {
		return nil, nil, err
	}
	for addr := range allocs {
		if _, both := frees[addr]; both {
			return nil, nil, errors.Wrapf(ErrHeapCorruption, "chunk %s classified both allocated and free", addr)
		}
	}

	return allocs, frees, nil
}

// checkSizes is the invariant guard from original_source's _check_sizes:
// every chunk must have a strictly positive size.
func checkSizes(s ChunkSet) error {
	for _, c := range s {
		if c.Size <= 0 {
			return errors.Wrapf(ErrHeapCorruption, "chunk %s has non-positive size %d", c.Addr, c.Size)
		}
	}
	return nil
}

func stripHeader(s ChunkSet, header int64) ChunkSet {
	out := make(ChunkSet, len(s))
	for _, c := range s {
		userAddr := c.Addr.Add(header)
		out[userAddr] = Chunk{Addr: userAddr, Size: c.Size - header}
	}
	return out
}

func (w *Walker) platform() arch.Platform { return w.handler.Platform() }

// walkSegments scans every segment entry-by-entry from FirstEntry to
// LastValidEntry, skipping UCRs and continuing into subsequent regions of
// the same segment (spec §4.H). It returns raw (header-inclusive) committed
// and free chunk sets, keyed by the HEAP_ENTRY address.
func (w *Walker) walkSegments() (ChunkSet, ChunkSet, error) {
	committed := ChunkSet{}
	free := ChunkSet{}
	p := w.platform()
	l := w.layout

	for _, seg := range w.segments {
		a := seg.firstEntry
		for a < seg.lastValid {
			if skip, ok := ucrSkip(seg.ucrs, a); ok {
				a = skip
				continue
			}
			r := w.handler.FindRegion(a)
			if r == nil {
				break
			}
			granules, err := r.ReadScalar(a.Add(l.EntrySizeOffset), p, 2, false)
			if err != nil {
				return nil, nil, err
			}
			flags, err := r.ReadScalar(a.Add(l.EntryFlagsOffset), p, 1, false)
			if err != nil {
				return nil, nil, err
			}
			size := granules * l.Granule
			if size <= 0 {
				return nil, nil, errors.Wrapf(ErrHeapCorruption, "segment entry %s has non-positive granule size", a)
			}
			c := Chunk{Addr: a, Size: size}
			if flags&entryFlagBusy != 0 {
				committed[c.Addr] = c
			} else {
				free[c.Addr] = c
			}
			a = a.Add(size)
		}
	}
	return committed, free, nil
}

// ucrSkip reports whether addr falls inside a UCR, returning the address to
// resume scanning from (the UCR's end) if so.
func ucrSkip(ucrs []ucr, addr address.Address) (address.Address, bool) {
	for _, u := range ucrs {
		if addr >= u.addr && addr < u.end {
			return u.end, true
		}
	}
	return 0, false
}

// walkVirtualAllocations walks the heap's virtual-allocation list, returning
// its committed chunks with the header already excluded: each chunk starts
// Layout.VASize bytes past its HEAP_VIRTUAL_ALLOC_ENTRY and its size is the
// entry's committed size minus VASize. This is V in spec §4.H.
func (w *Walker) walkVirtualAllocations() (ChunkSet, error) {
	out := ChunkSet{}
	p := w.platform()
	l := w.layout

	next, err := w.heapReg.ReadPointer(w.heapAddr.Add(l.VirtualAllocListOffset), p)
	if err != nil {
		return nil, err
	}
	seen := map[address.Address]bool{}
	for next != 0 {
		if seen[next] {
			break // cyclic list; guard against corruption
		}
		seen[next] = true
		r := w.handler.FindRegion(next)
		if r == nil {
			break
		}
		committed, err := r.ReadScalar(next.Add(l.VACommittedSizeOffset), p, 4, false)
		if err != nil {
			return nil, err
		}
		if committed > 0 {
			addr := next.Add(l.VASize)
			out[addr] = Chunk{Addr: addr, Size: committed - l.VASize}
		}
		next, err = r.ReadPointer(next.Add(l.VANextOffset), p)
		if err != nil {
			break
		}
	}
	return out, nil
}

// walkLookAsideList walks the heap's Look-Aside List array, returning the
// union of every bucket's free chunks: Fa in spec §4.H's FrontEndLookAside
// branch.
func (w *Walker) walkLookAsideList() (ChunkSet, error) {
	out := ChunkSet{}
	p := w.platform()
	l := w.layout

	for bucket := 0; bucket < l.LALBuckets; bucket++ {
		headAddr := w.heapAddr.Add(l.LALArrayOffset + int64(bucket)*l.LALEntrySize)
		next, err := w.heapReg.ReadPointer(headAddr, p)
		if err != nil {
			return nil, err
		}
		seen := map[address.Address]bool{}
		for next != 0 {
			if seen[next] {
				break
			}
			seen[next] = true
			r := w.handler.FindRegion(next)
			if r == nil {
				break
			}
			size := int64(bucket) * l.Granule
			if size <= 0 {
				break
			}
			out[next] = Chunk{Addr: next, Size: size}
			next, err = r.ReadPointer(next, p)
			if err != nil {
				break
			}
		}
	}
	return out, nil
}

// walkLFH walks the heap's Low-Fragmentation Heap front end, returning free
// and committed chunk sets (Fa, Aa in spec §4.H's FrontEndLFH branch). The
// bucket/subsegment shape is taken from w.layout.LFH, which a caller
// selects per spec §9's WindowsVersion parameterisation.
func (w *Walker) walkLFH() (ChunkSet, ChunkSet, error) {
	free := ChunkSet{}
	committed := ChunkSet{}
	p := w.platform()
	l := w.layout

	lfhHeap, err := w.heapReg.ReadPointer(w.heapAddr.Add(l.LFH.FrontEndDataOff), p)
	if err != nil || lfhHeap == 0 {
		return free, committed, nil // no LFH front end instantiated yet
	}
	r := w.handler.FindRegion(lfhHeap)
	if r == nil {
		return free, committed, nil
	}
	subseg, err := r.ReadPointer(lfhHeap.Add(l.LFH.SubsegmentOffset), p)
	if err != nil {
		return free, committed, nil
	}
	seen := map[address.Address]bool{}
	for i := 0; i < l.LFH.NumBuckets && subseg != 0; i++ {
		if seen[subseg] {
			break
		}
		seen[subseg] = true
		sr := w.handler.FindRegion(subseg)
		if sr == nil {
			break
		}
		granules, err := sr.ReadScalar(subseg.Add(l.EntrySizeOffset), p, 2, false)
		if err != nil {
			break
		}
		flags, err := sr.ReadScalar(subseg.Add(l.EntryFlagsOffset), p, 1, false)
		if err != nil {
			break
		}
		size := granules * l.Granule
		if size > 0 {
			c := Chunk{Addr: subseg, Size: size}
			if flags&entryFlagBusy != 0 {
				committed[c.Addr] = c
			} else {
				free[c.Addr] = c
			}
		}
		subseg = subseg.Add(l.LFH.BlockStride)
	}
	return free, committed, nil
}
