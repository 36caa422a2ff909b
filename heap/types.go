package heap

import (
	"github.com/nullptr-labs/memprobe/address"
	"github.com/nullptr-labs/memprobe/record"
)

// Chunk is a (address, user-writable size) pair, excluding the HEAP_ENTRY
// header — spec §4.H's output shape for both user_allocations() and
// free_chunks().
type Chunk struct {
	Addr address.Address
	Size int64
}

// ChunkSet is a set of Chunks keyed by address, mirroring the Python
// original's use of a set of (addr, size) tuples (original_source
// haystack/allocators/win32/winheapwalker.py).
type ChunkSet map[address.Address]Chunk

func newChunkSet(chunks ...Chunk) ChunkSet {
	s := make(ChunkSet, len(chunks))
	for _, c := range chunks {
		s[c.Addr] = c
	}
	return s
}

func (s ChunkSet) union(other ChunkSet) ChunkSet {
	out := make(ChunkSet, len(s)+len(other))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

func (s ChunkSet) minus(other ChunkSet) ChunkSet {
	out := make(ChunkSet, len(s))
	for k, v := range s {
		if _, excluded := other[k]; !excluded {
			out[k] = v
		}
	}
	return out
}

func (s ChunkSet) slice() []Chunk {
	out := make([]Chunk, 0, len(s))
	for _, c := range s {
		out = append(out, c)
	}
	return out
}

// recordType builds the Record Type used by the Validator to confirm a HEAP
// candidate (spec §4.I: "run the Validator at depth 1 on the full HEAP
// record"). Only the fields the Finder needs for confirmation are modelled
// — Signature and FrontEndHeapType — everything else about segments,
// UCRs, and chunk headers is walked directly by the Walker with plain
// region reads, since a full constraint-checked Validator.Load per chunk
// header would defeat the point of the depth-0 fast path the Validator
// itself documents (spec §4.F) on heaps with hundreds of thousands of
// chunks. See DESIGN.md for the full rationale.
func recordType(l Layout) *record.Type {
	return &record.Type{
		Name:         "windows.HEAP",
		PointerWidth: l.PointerWidth,
		Size:         l.HeapSize,
		Fields: []record.Field{
			{
				Name: "Signature", Offset: l.SignatureOffset, Width: 4, Kind: record.KindInteger,
				Constraint: &record.Constraint{Kind: record.ConstraintEquals, Literal: int64(Signature)},
			},
			{
				Name: "FrontEndHeapType", Offset: l.FrontEndTypeOffset, Width: 1, Kind: record.KindInteger,
				Constraint: &record.Constraint{Kind: record.ConstraintInSet, Set: []int64{0, 1, 2}},
			},
		},
	}
}
