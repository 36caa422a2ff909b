package region

import (
	"runtime"

	"github.com/nullptr-labs/memprobe/arch"
)

// LiveOptions configures the live-process Region Loader backend (spec
// §4.D / §6).
type LiveOptions struct {
	PID int
	// MMap selects between memory-mapping each region's backing bytes
	// (fast, but requires the mapping to stay valid for the Handler's
	// lifetime) and reading them lazily through a file descriptor on every
	// access (spec §4.D: "The selector between mapping and reading is a
	// boolean mmap configuration option").
	MMap bool
	// Platform overrides the detected host architecture; zero value means
	// "use the host's own architecture", the common case for live-process
	// analysis (cross-architecture inspection is primarily a dump-file
	// concern per spec §1).
	Platform arch.Platform
}

func hostPlatform() arch.Platform {
	p, err := arch.ByName(runtime.GOARCH)
	if err != nil {
		return arch.AMD64
	}
	return p
}
