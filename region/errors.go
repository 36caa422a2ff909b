package region

import "github.com/pkg/errors"

// Sentinel errors from spec §7. Constraint violations are deliberately not
// part of this taxonomy — they are a bool, never an error (see package
// validate).
var (
	// ErrOutOfRegion is returned when a read escapes [start, end) of every
	// candidate region, or of one specific region when checked directly.
	ErrOutOfRegion = errors.New("region: read escapes region bounds")

	// ErrIO is returned when a region's byte provider fails to service a
	// read that is otherwise within bounds.
	ErrIO = errors.New("region: backing read failed")

	// ErrOverlappingRegion is returned at Handler construction time when two
	// input regions overlap.
	ErrOverlappingRegion = errors.New("region: overlapping region")

	// ErrCorruptDump is returned by the dump-directory loader when the
	// manifest and backing files disagree.
	ErrCorruptDump = errors.New("region: corrupt dump")

	// ErrAccessDenied is returned by the live-process loader when the
	// target cannot be read under the caller's privileges.
	ErrAccessDenied = errors.New("region: access denied")
)
