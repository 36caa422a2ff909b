//go:build !linux

package region

import "github.com/pkg/errors"

// LoadLive is unsupported on non-Linux hosts in this build: live-process
// introspection relies on /proc/<pid>/{maps,mem} (spec §6). Windows targets
// go through the dump-directory or raw-file backends, or a future
// virtual-memory-enumeration backend per spec §6's "derived from the
// platform's virtual-memory enumeration APIs" note, not yet implemented
// here (no Windows host was available to ground it against).
func LoadLive(opts LiveOptions) (*Handler, error) {
	return nil, errors.New("region: live-process loader requires a Linux host (/proc filesystem)")
}
