// Package heap implements the Windows NT heap walker (spec component H) and
// its discovery companion, the Heap Finder (spec component I). It is the
// highest-value concrete application of package validate: it parses the
// backend segments, Look-Aside Lists, Low-Fragmentation Heap buckets, and
// virtual allocations of a live or dumped Windows process heap and emits a
// partition of heap memory into committed user chunks and free chunks.
package heap

// FrontEndHeapType selects which frontend allocator (if any) a Heap uses,
// per spec §3.
type FrontEndHeapType int

const (
	FrontEndNone      FrontEndHeapType = 0
	FrontEndLookAside FrontEndHeapType = 1
	FrontEndLFH       FrontEndHeapType = 2
)

// Signature is the expected value of HEAP.Signature (spec §3).
const Signature uint32 = 0xEEFFEEFF

// WindowsVersion parameterises the LFH bucket layout, which differs across
// Windows releases (spec §9 Open Question: "The exact LFH bucket layout
// across Windows 7 / 8 / 10; the core must be parameterised by a small
// table rather than hard-coded").
type WindowsVersion int

const (
	Win7 WindowsVersion = iota
	Win8Plus
)

// Layout is the width-specific field-offset table for every Windows heap
// structure the Walker touches. Two parallel tables exist (Layout32,
// Layout64, selected by ForWidth) rather than one descriptor shared across
// widths, per spec §9's "define parallel 32-bit and 64-bit record
// descriptors... Do not share a single descriptor across widths."
//
// Offsets below follow the public layout of ntdll's HEAP/HEAP_SEGMENT/
// HEAP_ENTRY structures as used by python-haystack's winheapwalker.py; they
// are approximate and meant to be confirmed against empirical heap samples
// per spec §9, not treated as an authoritative ABI reference.
type Layout struct {
	PointerWidth int
	Granule      int64 // allocation granule: 8 on 32-bit, 16 on 64-bit (spec GLOSSARY)

	// HEAP
	SignatureOffset       int64
	FrontEndTypeOffset    int64
	SegmentListOffset     int64 // offset of the first HEAP_SEGMENT list-entry head
	VirtualAllocListOffset int64
	HeapSize              int64

	// HEAP_SEGMENT
	SegFirstEntryOffset  int64
	SegLastValidEntryOff int64
	SegNumUCROffset      int64
	SegUCRListOffset     int64 // offset of the list-entry head of UCR descriptors
	SegNextOffset        int64 // offset of the next-segment list-entry
	SegSize              int64

	// HEAP_UCR_DESCRIPTOR
	UCRAddressOffset int64
	UCRSizeOffset    int64
	UCRNextOffset    int64
	UCRSize          int64

	// HEAP_ENTRY (chunk header)
	EntrySizeOffset  int64 // granule count, 2 bytes
	EntryFlagsOffset int64
	EntrySize        int64 // sizeof(HEAP_ENTRY) in bytes

	// HEAP_VIRTUAL_ALLOC_ENTRY
	VACommittedSizeOffset int64
	VAReservedSizeOffset  int64
	VANextOffset          int64
	VASize                int64

	// Look-Aside List: a fixed array of per-size singly-linked free lists
	// hanging off the heap.
	LALArrayOffset int64
	LALEntrySize   int64
	LALBuckets     int

	// Low-Fragmentation Heap, parameterised per WindowsVersion since the
	// bucket table's shape changed across releases (spec §9).
	LFH LFHLayout
}

// LFHLayout describes where a heap's LFH front-end (if any) keeps its
// UserBlocks subsegments, parameterised separately from Layout proper so a
// single Layout32/64 can be reused across WindowsVersion values for every
// field except this one.
type LFHLayout struct {
	Version          WindowsVersion
	FrontEndDataOff  int64 // HEAP.FrontEndHeapData: pointer to LFH_HEAP
	SubsegmentOffset int64 // LFH_HEAP -> first UserBlocks subsegment
	BlockStride      int64 // byte distance between consecutive LFH blocks in a subsegment
	NumBuckets       int
}

// Layout32 is the i386 Windows heap layout.
var Layout32 = Layout{
	PointerWidth: 4,
	Granule:      8,

	SignatureOffset:        0x50,
	FrontEndTypeOffset:     0xEE,
	SegmentListOffset:      0x58,
	VirtualAllocListOffset: 0x80,
	HeapSize:               0x578,

	SegFirstEntryOffset:  0x18,
	SegLastValidEntryOff: 0x1C,
	SegNumUCROffset:      0x20,
	SegUCRListOffset:     0x24,
	SegNextOffset:        0x30,
	SegSize:              0x38,

	UCRAddressOffset: 0x08,
	UCRSizeOffset:    0x0C,
	UCRNextOffset:    0x00,
	UCRSize:          0x10,

	EntrySizeOffset:  0x00,
	EntryFlagsOffset: 0x02,
	EntrySize:        0x08,

	VACommittedSizeOffset: 0x08,
	VAReservedSizeOffset:  0x0C,
	VANextOffset:          0x00,
	VASize:                0x18,

	LALArrayOffset: 0x0E8,
	LALEntrySize:   0x04,
	LALBuckets:     128,

	LFH: LFHLayout{Version: Win7, FrontEndDataOff: 0xF0, SubsegmentOffset: 0x04, BlockStride: 0x08, NumBuckets: 128},
}

// Layout64 is the amd64 Windows heap layout.
var Layout64 = Layout{
	PointerWidth: 8,
	Granule:      16,

	SignatureOffset:        0x70,
	FrontEndTypeOffset:     0x1A2,
	SegmentListOffset:      0x98,
	VirtualAllocListOffset: 0xE0,
	HeapSize:               0x6F8,

	SegFirstEntryOffset:  0x38,
	SegLastValidEntryOff: 0x40,
	SegNumUCROffset:      0x48,
	SegUCRListOffset:     0x50,
	SegNextOffset:        0x60,
	SegSize:              0x70,

	UCRAddressOffset: 0x10,
	UCRSizeOffset:    0x18,
	UCRNextOffset:    0x00,
	UCRSize:          0x20,

	EntrySizeOffset:  0x00,
	EntryFlagsOffset: 0x02,
	EntrySize:        0x10,

	VACommittedSizeOffset: 0x10,
	VAReservedSizeOffset:  0x18,
	VANextOffset:          0x00,
	VASize:                0x30,

	LALArrayOffset: 0x1A8,
	LALEntrySize:   0x08,
	LALBuckets:     128,

	LFH: LFHLayout{Version: Win7, FrontEndDataOff: 0x1B0, SubsegmentOffset: 0x08, BlockStride: 0x10, NumBuckets: 128},
}

// ForWidth returns the descriptor table for a given pointer width.
func ForWidth(pointerWidth int) (Layout, bool) {
	switch pointerWidth {
	case 4:
		return Layout32, true
	case 8:
		return Layout64, true
	default:
		return Layout{}, false
	}
}

// WithVersion returns a copy of l with its LFH sub-table swapped for the
// given Windows release, per spec §9's parameterisation requirement.
func (l Layout) WithVersion(v WindowsVersion) Layout {
	switch v {
	case Win7:
		// already the default table above
		l.LFH.Version = Win7
	case Win8Plus:
		// Windows 8+ grew the LFH bucket count and moved the first-subsegment
		// pointer 8 bytes further into LFH_HEAP; the block stride is kept.
		// Approximate values, see spec §9 Open Question.
		l.LFH = LFHLayout{Version: Win8Plus, FrontEndDataOff: l.LFH.FrontEndDataOff, SubsegmentOffset: l.LFH.SubsegmentOffset + 8, BlockStride: l.LFH.BlockStride, NumBuckets: 256}
	}
	return l
}
