// Package memprobe ties the Region Loader, Memory Handler, Validator, and
// Searcher together into the common-case convenience entry points: search
// for every instance of a record type, load a single known address, and
// render results in the minimal text form spec §6 names as the native
// object form's own collaborator.
//
// Everything here is a thin facade over package region/record/validate/
// search; the core semantics live there. This mirrors python-haystack's
// haystack/search/api.py, which is itself a facade over searcher.RecordSearcher.
package memprobe

import (
	"bytes"
	"context"

	"go.uber.org/zap"

	"github.com/nullptr-labs/memprobe/address"
	"github.com/nullptr-labs/memprobe/record"
	"github.com/nullptr-labs/memprobe/region"
	"github.com/nullptr-labs/memprobe/search"
	"github.com/nullptr-labs/memprobe/validate"
)

// SearchRecord scans h for every instance of t, using reg to resolve any
// pointee types t's fields reference. It is the Go analogue of
// haystack.search.api.search_record: one record type, explicit perimeter
// (defaulting to the heap), default depth when none is given.
func SearchRecord(ctx context.Context, h *region.Handler, reg *record.Registry, t *record.Type, log *zap.Logger, opts search.Options) ([]search.Result, error) {
	if opts.Depth == 0 {
		opts.Depth = validate.DefaultDepth
	}
	v := validate.New(reg, log)
	s := search.New(h, v, log)
	return s.Search(ctx, t, opts)
}

// LoadRecord loads a single instance of t at a known address, without
// scanning (haystack.search.api.load_record). depth defaults to
// validate.DefaultDepth when zero.
func LoadRecord(h *region.Handler, reg *record.Registry, t *record.Type, addr address.Address, depth int, log *zap.Logger) (*validate.Instance, bool, error) {
	if depth == 0 {
		depth = validate.DefaultDepth
	}
	r := h.FindRegion(addr)
	if r == nil {
		return nil, false, region.ErrOutOfRegion
	}
	v := validate.New(reg, log)
	return v.Load(h, r, addr, t, depth)
}

// OutputToString renders every result through Result.Dump and concatenates
// them, the Go analogue of haystack.search.api.output_to_string. JSON and
// binary serialization are deliberately not implemented here: spec §1 scopes
// output formatters out of the core besides this native text form.
func OutputToString(results []search.Result) (string, error) {
	var buf bytes.Buffer
	for _, r := range results {
		if err := r.Dump(&buf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
