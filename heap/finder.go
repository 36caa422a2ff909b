package heap

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/nullptr-labs/memprobe/address"
	"github.com/nullptr-labs/memprobe/record"
	"github.com/nullptr-labs/memprobe/region"
	"github.com/nullptr-labs/memprobe/validate"
)

const pageSize = 4096 // spec §4.I: "step by 4 KiB (page-sized) increments"

// Finder scans all regions of a Memory Handler for a Windows heap signature
// and returns a confirmed Walker per hit: spec component I.
type Finder struct {
	handler   *region.Handler
	registry  *record.Registry
	validator *validate.Validator
	version   WindowsVersion
	log       *zap.Logger
}

// NewFinder constructs a Finder bound to h. version selects the LFH bucket
// table (spec §9); pass Win7 if unknown.
func NewFinder(h *region.Handler, version WindowsVersion, log *zap.Logger) *Finder {
	if log == nil {
		log = zap.NewNop()
	}
	reg := record.NewRegistry()
	// Both widths may coexist when scanning a dump whose bitness override
	// doesn't match every candidate (rare, but cheap to support since the
	// registry keys registrations by width already).
	_ = reg.Register(recordType(Layout32))
	_ = reg.Register(recordType(Layout64))
	return &Finder{
		handler:   h,
		registry:  reg,
		validator: validate.New(reg, log),
		version:   version,
		log:       log,
	}
}

// ListHeapWalkers scans every region for a heap signature and returns one
// Walker per confirmed candidate, sorted by ascending heap address (spec
// §4.I, §8 scenario 4).
func (f *Finder) ListHeapWalkers(ctx context.Context) ([]*Walker, error) {
	var walkers []*Walker

	for _, r := range f.handler.Regions() {
		for cursor := address.AlignDown(r.Start(), pageSize); cursor.Add(pageSize) <= r.End(); cursor = cursor.Add(pageSize) {
			select {
			case <-ctx.Done():
				return walkers, ctx.Err()
			default:
			}

			w := f.tryCandidate(r, cursor)
			if w != nil {
				walkers = append(walkers, w)
			}
		}
	}

	sort.Slice(walkers, func(i, j int) bool { return walkers[i].Address() < walkers[j].Address() })
	// Record the lowest confirmed heap's region so Handler.Heap() can fall
	// back to it when no region carries a heap label.
	if len(walkers) > 0 {
		for i, r := range f.handler.Regions() {
			if r == walkers[0].heapReg {
				f.handler.SetHeapIndex(i)
				break
			}
		}
	}
	return walkers, nil
}

// tryCandidate attempts both the 32-bit and 64-bit heap layouts at addr,
// returning a Walker on the first confirmed signature (spec §4.I).
func (f *Finder) tryCandidate(r *region.Region, addr address.Address) *Walker {
	for _, l := range []Layout{Layout64, Layout32} {
		l = l.WithVersion(f.version)
		t, ok := f.registry.Lookup("windows.HEAP", l.PointerWidth)
		if !ok {
			continue
		}
		inst, validated, err := f.validator.Load(f.handler, r, addr, t, 1)
		if err != nil || !validated {
			continue
		}
		feVal, _ := inst.Get("FrontEndHeapType")
		frontEnd := FrontEndHeapType(feVal.Int)

		segments, err := f.decodeSegments(r, addr, l)
		if err != nil {
			f.log.Warn("heap: failed to decode segments for confirmed signature", zap.String("addr", addr.String()), zap.Error(err))
			continue
		}
		return newWalker(f.handler, l, r, addr, frontEnd, segments, f.log)
	}
	return nil
}

// decodeSegments walks the heap's segment chain: the heap itself is
// segment zero (the first segment of a Windows heap is embedded in the
// HEAP structure), followed by any additional segments linked through
// Layout.SegNextOffset starting at Layout.SegmentListOffset.
func (f *Finder) decodeSegments(heapReg *region.Region, heapAddr address.Address, l Layout) ([]segment, error) {
	var segs []segment

	seg0, err := f.decodeOneSegment(heapReg, heapAddr, l)
	if err != nil {
		return nil, err
	}
	segs = append(segs, seg0)

	p := f.handler.Platform()
	next, err := heapReg.ReadPointer(heapAddr.Add(l.SegmentListOffset), p)
	if err != nil {
		return segs, nil
	}
	seen := map[address.Address]bool{heapAddr: true}
	for next != 0 && !seen[next] {
		seen[next] = true
		r := f.handler.FindRegion(next)
		if r == nil {
			break
		}
		seg, err := f.decodeOneSegment(r, next, l)
		if err != nil {
			break
		}
		segs = append(segs, seg)
		next, err = r.ReadPointer(next.Add(l.SegNextOffset), p)
		if err != nil {
			break
		}
	}
	return segs, nil
}

func (f *Finder) decodeOneSegment(r *region.Region, segAddr address.Address, l Layout) (segment, error) {
	p := f.handler.Platform()
	first, err := r.ReadPointer(segAddr.Add(l.SegFirstEntryOffset), p)
	if err != nil {
		return segment{}, err
	}
	last, err := r.ReadPointer(segAddr.Add(l.SegLastValidEntryOff), p)
	if err != nil {
		return segment{}, err
	}
	numUCR, err := r.ReadScalar(segAddr.Add(l.SegNumUCROffset), p, 2, false)
	if err != nil {
		return segment{}, err
	}

	var ucrs []ucr
	if numUCR > 0 {
		ucrHead, err := r.ReadPointer(segAddr.Add(l.SegUCRListOffset), p)
		if err == nil {
			seen := map[address.Address]bool{}
			for ucrHead != 0 && !seen[ucrHead] && int64(len(ucrs)) < numUCR {
				seen[ucrHead] = true
				ur := f.handler.FindRegion(ucrHead)
				if ur == nil {
					break
				}
				uaddr, err := ur.ReadPointer(ucrHead.Add(l.UCRAddressOffset), p)
				if err != nil {
					break
				}
				usize, err := ur.ReadScalar(ucrHead.Add(l.UCRSizeOffset), p, int(p.PointerWidth), false)
				if err != nil {
					break
				}
				if usize > 0 {
					ucrs = append(ucrs, ucr{addr: uaddr, end: uaddr.Add(usize)})
				}
				ucrHead, err = ur.ReadPointer(ucrHead.Add(l.UCRNextOffset), p)
				if err != nil {
					break
				}
			}
		}
	}
	sort.Slice(ucrs, func(i, j int) bool { return ucrs[i].addr < ucrs[j].addr })

	return segment{firstEntry: first, lastValid: last, ucrs: ucrs}, nil
}

// WalkerDictionary maps an address to the Walker owning it: either the
// heap's own base address, or any region used by that heap's segments
// (spec §4.I: "builds an address→walker dictionary that additionally maps
// every region used by any heap's segments to that heap").
type WalkerDictionary struct {
	byHeapAddr map[address.Address]*Walker
	byRegion   map[*region.Region]*Walker
}

// BuildWalkerDictionary indexes walkers for address→heap resolution.
func BuildWalkerDictionary(walkers []*Walker) *WalkerDictionary {
	d := &WalkerDictionary{byHeapAddr: map[address.Address]*Walker{}, byRegion: map[*region.Region]*Walker{}}
	for _, w := range walkers {
		d.byHeapAddr[w.Address()] = w
		for _, r := range w.ListUsedMappings() {
			d.byRegion[r] = w
		}
	}
	return d
}

// Resolve returns the Walker owning addr, or nil.
func (d *WalkerDictionary) Resolve(h *region.Handler, addr address.Address) *Walker {
	if w, ok := d.byHeapAddr[addr]; ok {
		return w
	}
	r := h.FindRegion(addr)
	if r == nil {
		return nil
	}
	return d.byRegion[r]
}
