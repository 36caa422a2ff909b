// Package validate implements the Validator: spec component F. It decodes a
// candidate byte image at a (region, offset) pair into a Record Instance
// and checks every declared field constraint, recursively chasing pointer
// fields up to a caller-supplied depth.
package validate

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nullptr-labs/memprobe/address"
	"github.com/nullptr-labs/memprobe/record"
	"github.com/nullptr-labs/memprobe/region"
)

// DefaultDepth is the default recursion bound callers should use (spec
// §4.F: "default caller value is 10").
const DefaultDepth = 10

// ErrUnknownRecordType is not itself surfaced as a Go error from Load: per
// spec §7 an unknown pointee type makes the *constraint* fail
// (validated=false), it does not abort the call. It is exported so callers
// inspecting a FieldValue's Note can recognise the cause.
var ErrUnknownRecordType = errors.New("validate: pointer target record type not registered")

// FieldValue is the decoded value of one Field within an Instance.
type FieldValue struct {
	Field record.Field

	// Populated for KindInteger / KindBitfield.
	Int int64

	// Populated for KindPointer.
	Pointer         address.Address
	PointeeInstance *Instance // non-nil only if recursion ran and resolved a region

	// Populated for KindOpaque / KindInline / KindArray.
	Raw []byte

	// Note records why a pointer-target constraint could not even be
	// attempted (e.g. unknown record type), for diagnostics.
	Note string
}

// Instance is a live decoding of a Type bound to a (Region, offset) pair
// (spec §3, "Record Instance"). A partially-decoded Instance is returned
// even when validation fails at some field, so callers with independent
// evidence of validity (the Heap Walker) can still read earlier fields.
type Instance struct {
	Type   *record.Type
	Region *region.Region
	Offset address.Address
	Fields map[string]FieldValue

	// order preserves field declaration order for deterministic dumping.
	order []string
}

// Get returns the decoded value of the named field and whether it was
// reached before validation stopped.
func (in *Instance) Get(name string) (FieldValue, bool) {
	fv, ok := in.Fields[name]
	return fv, ok
}

// OrderedFields returns field values in declaration order.
func (in *Instance) OrderedFields() []FieldValue {
	out := make([]FieldValue, 0, len(in.order))
	for _, name := range in.order {
		out = append(out, in.Fields[name])
	}
	return out
}

// Validator evaluates Record Types against region bytes.
type Validator struct {
	registry *record.Registry
	log      *zap.Logger
}

// New constructs a Validator bound to reg. log may be nil, in which case a
// no-op logger is used.
func New(reg *record.Registry, log *zap.Logger) *Validator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{registry: reg, log: log}
}

type visitKey struct {
	addr     address.Address
	typeName string
}

// Load decodes t at (r, offset) and validates its fields to the given
// recursion depth (spec §4.F). It returns the partially- or fully-decoded
// Instance and whether every constraint passed. A non-nil error means either
// the top-level read itself failed (OutOfRegion / IoError) or t is malformed
// (a field escapes t.Size or has an unknown Kind); constraint failures are
// never errors.
func (v *Validator) Load(h *region.Handler, r *region.Region, offset address.Address, t *record.Type, depth int) (*Instance, bool, error) {
	return v.load(h, r, offset, t, depth, map[visitKey]bool{})
}

func (v *Validator) load(h *region.Handler, r *region.Region, offset address.Address, t *record.Type, depth int, visited map[visitKey]bool) (*Instance, bool, error) {
	buf, err := r.ReadBytes(offset, t.Size)
	if err != nil {
		v.log.Debug("validate: out of region", zap.String("type", t.Name), zap.String("addr", offset.String()), zap.Error(err))
		return nil, false, err
	}

	platform := h.Platform()
	inst := &Instance{Type: t, Region: r, Offset: offset, Fields: make(map[string]FieldValue, len(t.Fields))}

	for _, f := range t.Fields {
		if f.Offset < 0 || f.Offset+fieldByteLen(f) > t.Size {
			return inst, false, fmt.Errorf("validate: field %s.%s escapes type size %d", t.Name, f.Name, t.Size)
		}
		fb := buf[f.Offset : f.Offset+fieldByteLen(f)]

		fv := FieldValue{Field: f}
		var ok bool
		switch f.Kind {
		case record.KindInteger, record.KindBitfield:
			fv.Int = decodeInt(platform, fb, int(f.Width), f.Signed)
			ok = evaluateScalarConstraint(f.Constraint, fv.Int)
		case record.KindPointer:
			fv.Pointer = platform.Ptr(fb)
			ok = v.evaluatePointerConstraint(h, &fv, depth, visited)
		case record.KindOpaque, record.KindArray, record.KindInline:
			fv.Raw = append([]byte(nil), fb...)
			ok = true // these kinds carry no value-level constraint in this model
		default:
			return inst, false, fmt.Errorf("validate: field %s.%s has unknown kind %d", t.Name, f.Name, f.Kind)
		}

		inst.Fields[f.Name] = fv
		inst.order = append(inst.order, f.Name)
		if !ok {
			return inst, false, nil
		}
	}
	return inst, true, nil
}

func fieldByteLen(f record.Field) int64 {
	if f.Kind == record.KindArray {
		return f.ElemWidth * int64(f.ArrayLen)
	}
	return f.Width
}

func decodeInt(p interface {
	Uint([]byte, int) uint64
	Int([]byte, int) int64
}, b []byte, width int, signed bool) int64 {
	if signed {
		return p.Int(b, width)
	}
	return int64(p.Uint(b, width))
}

func evaluateScalarConstraint(c *record.Constraint, v int64) bool {
	if c == nil {
		return true
	}
	switch c.Kind {
	case record.ConstraintNone:
		return true
	case record.ConstraintEquals:
		return v == c.Literal
	case record.ConstraintInSet:
		for _, s := range c.Set {
			if v == s {
				return true
			}
		}
		return false
	case record.ConstraintInRange:
		return v >= c.Min && v <= c.Max
	default:
		return true
	}
}

func (v *Validator) evaluatePointerConstraint(h *region.Handler, fv *FieldValue, depth int, visited map[visitKey]bool) bool {
	f := fv.Field
	c := f.Constraint

	if c != nil {
		switch c.Kind {
		case record.ConstraintNonNull:
			if fv.Pointer == 0 {
				return false
			}
			return true
		case record.ConstraintEquals:
			return int64(fv.Pointer) == c.Literal
		case record.ConstraintInSet:
			for _, s := range c.Set {
				if int64(fv.Pointer) == s {
					return true
				}
			}
			return false
		case record.ConstraintInRange:
			return int64(fv.Pointer) >= c.Min && int64(fv.Pointer) <= c.Max
		case record.ConstraintValidPointer:
			if depth <= 0 {
				return true // fast pre-filter: skip pointee chasing (spec §4.F)
			}
			if fv.Pointer == 0 {
				return false
			}
			return h.FindRegion(fv.Pointer) != nil
		case record.ConstraintValidInstance:
			return v.evaluateValidInstance(h, fv, depth, visited)
		}
	}

	// No explicit constraint: a typed (non-void) pointer field still
	// implicitly requires its target region to exist, matching spec §4.F
	// point 2's description of pointer-field handling in general. Weak
	// fields (handled inside evaluateValidInstance) still get this
	// existence check but skip the deeper recursive validation.
	if f.PointeeType != "" {
		return v.evaluateValidInstance(h, fv, depth, visited)
	}
	return true
}

func (v *Validator) evaluateValidInstance(h *region.Handler, fv *FieldValue, depth int, visited map[visitKey]bool) bool {
	f := fv.Field
	if depth <= 0 {
		return true // fast pre-filter: skip pointee chasing (spec §4.F)
	}
	if fv.Pointer == 0 {
		return false
	}
	target := h.FindRegion(fv.Pointer)
	if target == nil {
		return false
	}
	if f.PointeeType == "" {
		return true // void* with no declared pointee: existence of region is enough
	}
	if f.Weak {
		return true // weak: region existence is enough, no recursion required
	}

	key := visitKey{addr: fv.Pointer, typeName: f.PointeeType}
	if visited[key] {
		// Cycle: the pointee is already being validated higher up the
		// recursion stack. Treat as validated to guarantee termination on
		// cyclic pointer graphs (spec §9) without re-deriving the answer.
		return true
	}

	pointeeType, known := v.registry.Lookup(f.PointeeType, h.Platform().PointerWidth)
	if !known {
		fv.Note = ErrUnknownRecordType.Error()
		return false
	}

	nested := make(map[visitKey]bool, len(visited)+1)
	for k := range visited {
		nested[k] = true
	}
	nested[key] = true

	sub, validated, err := v.load(h, target, fv.Pointer, pointeeType, depth-1, nested)
	if err != nil {
		v.log.Debug("validate: pointee load failed", zap.String("addr", fv.Pointer.String()), zap.Error(err))
		return false
	}
	fv.PointeeInstance = sub
	return validated
}
