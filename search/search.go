// Package search implements the Searcher: spec component G. It scans a set
// of regions at pointer-aligned offsets, invokes the Validator at each
// offset, and yields validated records up to a caller limit.
package search

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/nullptr-labs/memprobe/address"
	"github.com/nullptr-labs/memprobe/record"
	"github.com/nullptr-labs/memprobe/region"
	"github.com/nullptr-labs/memprobe/validate"
)

// Unbounded means "no limit on the number of results" (spec §4.G: "N = -1
// means unbounded").
const Unbounded = -1

// Result pairs a validated Instance with the address it was found at —
// spec §6's native object form, "a list of (record_instance, address)
// pairs".
type Result struct {
	Instance *validate.Instance
	Address  address.Address
}

// Dump writes the minimal text form of a result (spec §6: "one block per
// result prefixed by `# --------------- 0x<addr>` and a recursive textual
// dump"). It is the only output collaborator the core implements directly;
// JSON and binary serialization remain external per spec §1.
func (res Result) Dump(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "# --------------- 0x%x\n", uint64(res.Address)); err != nil {
		return err
	}
	return dumpInstance(w, res.Instance, 0)
}

func dumpInstance(w io.Writer, inst *validate.Instance, indent int) error {
	pad := func() string {
		b := make([]byte, indent*2)
		for i := range b {
			b[i] = ' '
		}
		return string(b)
	}
	if _, err := fmt.Fprintf(w, "%s%s @ 0x%x\n", pad(), inst.Type.Name, uint64(inst.Offset)); err != nil {
		return err
	}
	for _, fv := range inst.OrderedFields() {
		switch fv.Field.Kind {
		case record.KindPointer:
			if _, err := fmt.Fprintf(w, "%s  %q: \"0x%x\"\n", pad(), fv.Field.Name, uint64(fv.Pointer)); err != nil {
				return err
			}
			if fv.PointeeInstance != nil {
				if err := dumpInstance(w, fv.PointeeInstance, indent+2); err != nil {
					return err
				}
			}
		case record.KindOpaque, record.KindArray, record.KindInline:
			if _, err := fmt.Fprintf(w, "%s  %q: \"%x\"\n", pad(), fv.Field.Name, fv.Raw); err != nil {
				return err
			}
		default:
			if _, err := fmt.Fprintf(w, "%s  %q: %d\n", pad(), fv.Field.Name, fv.Int); err != nil {
				return err
			}
		}
	}
	return nil
}

// Progress is notified every P iterations with the current scan cursor. It
// must never affect correctness (spec §4.G).
type Progress func(cursor address.Address)

// Options configures one Search call.
type Options struct {
	// Perimeter restricts the scan to these regions, in the order given.
	// A nil Perimeter defaults to the Handler's heap region, if any.
	Perimeter []*region.Region

	// Limit is the maximum number of results to return; Unbounded (-1)
	// collects everything the perimeter holds.
	Limit int

	// Hint, if it lies inside some region of the Handler, restricts the
	// search to that region and starts the cursor at
	// align_down(Hint, pointer_width) (spec §4.G step 1).
	Hint *address.Address

	// Depth is passed through to the Validator.
	Depth int

	// ProgressEvery, if > 0, calls OnProgress every ProgressEvery aligned
	// offsets examined (spec §4.G: "notified every P iterations").
	ProgressEvery int
	OnProgress    Progress
}

// Searcher scans a Memory Handler for instances of a Record Type.
type Searcher struct {
	handler   *region.Handler
	validator *validate.Validator
	log       *zap.Logger
}

// New constructs a Searcher bound to h, using v to validate each candidate
// offset.
func New(h *region.Handler, v *validate.Validator, log *zap.Logger) *Searcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Searcher{handler: h, validator: v, log: log}
}

// Search scans for instances of t per opts (spec §4.G). Results are in
// ascending region order, ascending address within a region — deterministic
// regardless of how many results are requested, per spec §8's determinism
// property.
//
// ctx is polled at the same cadence as progress (spec §4.G "Cancellation").
func (s *Searcher) Search(ctx context.Context, t *record.Type, opts Options) ([]Result, error) {
	width := int64(s.handler.Platform().PointerWidth)
	perimeter := opts.Perimeter
	var startCursor *address.Address

	if opts.Hint != nil {
		if r := s.handler.FindRegion(*opts.Hint); r != nil {
			perimeter = []*region.Region{r}
			c := address.AlignDown(*opts.Hint, width)
			startCursor = &c
		}
	}
	if perimeter == nil {
		if heap := s.handler.Heap(); heap != nil {
			perimeter = []*region.Region{heap}
		}
	}

	limit := opts.Limit
	if limit == 0 {
		limit = Unbounded
	}

	var results []Result
	iterations := 0

	for _, r := range perimeter {
		cursor := address.AlignDown(r.Start(), width)
		if startCursor != nil {
			cursor = *startCursor
		}
		last := r.End().Add(-t.Size)

		for cursor <= last {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			default:
			}

			iterations++
			if opts.ProgressEvery > 0 && opts.OnProgress != nil && iterations%opts.ProgressEvery == 0 {
				opts.OnProgress(cursor)
			}

			inst, validated, err := s.validator.Load(s.handler, r, cursor, t, opts.Depth)
			if err != nil {
				// Per-offset IoError/OutOfRegion: logged, scan continues
				// (spec §4.G "Failure semantics").
				s.log.Debug("search: skipping offset after load error",
					zap.String("addr", cursor.String()), zap.Error(err))
				cursor = cursor.Add(width)
				continue
			}
			if validated {
				results = append(results, Result{Instance: inst, Address: cursor})
				if limit != Unbounded && len(results) >= limit {
					return results, nil
				}
			}
			cursor = cursor.Add(width)
		}
	}
	return results, nil
}
