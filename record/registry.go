package record

import (
	"fmt"
	"slices"
	"sync"
)

// Registry holds Record Type registrations, keyed by fully-qualified name
// and then by pointer width (spec §4.E: "Two copies of the same logical
// record registered for different pointer widths are independent entries").
// A Registry is an explicit object passed to the Validator, never global
// state (spec §9's "no module-level mutable state" design note).
type Registry struct {
	mu    sync.RWMutex
	types map[string]map[int]*Type
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]map[int]*Type)}
}

// Register adds t under its Name and PointerWidth. Registration is
// idempotent per (name, width): re-registering an identical Type succeeds
// silently, but registering a different Type under the same key is an
// error — that would silently change already-validated results.
func (r *Registry) Register(t *Type) error {
	if t.Name == "" {
		return fmt.Errorf("record: type must have a non-empty Name")
	}
	if t.PointerWidth != 4 && t.PointerWidth != 8 {
		return fmt.Errorf("record: type %s: PointerWidth must be 4 or 8, got %d", t.Name, t.PointerWidth)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byWidth, ok := r.types[t.Name]
	if !ok {
		byWidth = make(map[int]*Type)
		r.types[t.Name] = byWidth
	}
	if existing, ok := byWidth[t.PointerWidth]; ok && !sameType(existing, t) {
		return fmt.Errorf("record: type %s already registered for pointer width %d with different layout", t.Name, t.PointerWidth)
	}
	byWidth[t.PointerWidth] = t
	return nil
}

// Lookup resolves name for the given pointer width. The second return value
// is false if unregistered — the caller (typically the Validator) treats
// this as ErrUnknownRecordType.
func (r *Registry) Lookup(name string, pointerWidth int) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byWidth, ok := r.types[name]
	if !ok {
		return nil, false
	}
	t, ok := byWidth[pointerWidth]
	return t, ok
}

func sameType(a, b *Type) bool {
	if a.Size != b.Size || len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		fa, fb := a.Fields[i], b.Fields[i]
		// Constraints are compared by value, so a rebuilt but identical
		// constraint counts as the same; the pointers themselves are then
		// cleared before comparing the remaining Field members.
		ca, cb := fa.Constraint, fb.Constraint
		if (ca == nil) != (cb == nil) {
			return false
		}
		if ca != nil && (ca.Kind != cb.Kind || ca.Literal != cb.Literal ||
			ca.Min != cb.Min || ca.Max != cb.Max || !slices.Equal(ca.Set, cb.Set)) {
			return false
		}
		fa.Constraint, fb.Constraint = nil, nil
		if fa != fb {
			return false
		}
	}
	return true
}
