// Package record implements the declarative Record Model: spec component E.
// A Type is a tagged-variant tree of field descriptors, never a class
// hierarchy — the Validator (package validate) dispatches on Kind rather
// than on a Go interface implemented per record, per spec §9's "avoid
// inheritance" design note.
package record

// Kind identifies how a Field's bytes are interpreted.
type Kind int

const (
	KindInteger Kind = iota
	KindPointer
	KindInline
	KindArray
	KindBitfield
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindPointer:
		return "pointer"
	case KindInline:
		return "inline"
	case KindArray:
		return "array"
	case KindBitfield:
		return "bitfield"
	case KindOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// ConstraintKind identifies which of the spec §3 constraint families a
// Constraint applies.
type ConstraintKind int

const (
	ConstraintNone ConstraintKind = iota
	ConstraintEquals
	ConstraintInSet
	ConstraintInRange
	ConstraintNonNull
	ConstraintValidPointer  // pointer must fall inside some region of the Handler (no permission check)
	ConstraintValidInstance // pointer must reference a valid instance of Field.PointeeType
)

// Constraint is a declared field-level restriction (spec §3). Exactly one
// of Literal / Set / [Min,Max] is meaningful, selected by Kind.
type Constraint struct {
	Kind    ConstraintKind
	Literal int64
	Set     []int64
	Min     int64
	Max     int64
}

// Field describes one member of a Type: its offset, width, kind, and an
// optional constraint (spec §3).
type Field struct {
	Name   string
	Offset int64
	Width  int64
	Kind   Kind

	// Integer fields.
	Signed bool

	// Pointer fields. PointeeType names a registered Type ("" for void*).
	// Weak pointers (spec §4.F) do not require their pointee to validate
	// recursively — only that it resolve to a known region.
	PointeeType string
	Weak        bool

	// Inline substructure fields are copied by the Validator as raw bytes
	// (Width bytes at Field.Offset); PointeeType is not consulted for them
	// and the embedded fields are not decoded or constrained.
	// Array fields.
	ArrayLen  int
	ElemWidth int64
	ElemKind  Kind

	Constraint *Constraint
}

// Type is a structural description of a record: spec component E. Size is
// the total number of bytes the Validator reads to materialise an instance.
type Type struct {
	Name         string
	PointerWidth int // 4 or 8; the width this registration applies to
	Size         int64
	Fields       []Field
}
