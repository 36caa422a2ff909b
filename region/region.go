// Package region implements the memory-model core of memprobe: Region
// (spec component B), Handler (component C), and the byte-provider
// abstraction that Region Loader backends (component D) produce.
package region

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/nullptr-labs/memprobe/address"
	"github.com/nullptr-labs/memprobe/arch"
)

// Perm is the permission bitmask of a Region, mirroring the fields found in
// a /proc/<pid>/maps line or a dump manifest's permission string.
type Perm uint8

const (
	Read Perm = 1 << iota
	Write
	Exec
	Shared
)

func (p Perm) String() string {
	s := []byte("----")
	if p&Read != 0 {
		s[0] = 'r'
	}
	if p&Write != 0 {
		s[1] = 'w'
	}
	if p&Exec != 0 {
		s[2] = 'x'
	}
	if p&Shared != 0 {
		s[3] = 's'
	} else {
		s[3] = 'p'
	}
	return string(s)
}

// ParsePerm decodes a four-character permission string of the form used by
// /proc/<pid>/maps and the dump manifest (spec §6): "rwxp", "r--s", etc.
func ParsePerm(s string) (Perm, error) {
	if len(s) < 4 {
		return 0, fmt.Errorf("region: permission string %q too short", s)
	}
	var p Perm
	switch s[0] {
	case 'r':
		p |= Read
	case '-':
	default:
		return 0, fmt.Errorf("region: bad read flag in %q", s)
	}
	switch s[1] {
	case 'w':
		p |= Write
	case '-':
	default:
		return 0, fmt.Errorf("region: bad write flag in %q", s)
	}
	switch s[2] {
	case 'x':
		p |= Exec
	case '-':
	default:
		return 0, fmt.Errorf("region: bad exec flag in %q", s)
	}
	switch s[3] {
	case 's':
		p |= Shared
	case 'p', '-':
	default:
		return 0, fmt.Errorf("region: bad shared flag in %q", s)
	}
	return p, nil
}

// ByteProvider is the opaque, random-access byte source behind a Region
// (spec §3: "an opaque byte provider offering random access read(offset,
// n)"). Implementations include an in-memory mapping, a dump backing file,
// and a live-process /proc/<pid>/mem reader.
type ByteProvider interface {
	// ReadAt reads len(p) bytes starting at the given offset relative to
	// the start of the region's backing store (not a target address).
	ReadAt(p []byte, offset int64) (int, error)
	// Close releases any resources (file descriptors, mappings) held by
	// the provider.
	Close() error
}

// Region is a contiguous, typed view of target memory: spec component B.
// A Region is read-only once constructed.
type Region struct {
	start, end address.Address
	perm       Perm
	pathname   string
	provider   ByteProvider
}

// New constructs a Region. It does not take ownership validation beyond
// start < end; overlap checking is the Handler's job at aggregation time.
func New(start, end address.Address, perm Perm, pathname string, provider ByteProvider) (*Region, error) {
	if !(start < end) {
		return nil, fmt.Errorf("region: start %s must be < end %s", start, end)
	}
	return &Region{start: start, end: end, perm: perm, pathname: pathname, provider: provider}, nil
}

func (r *Region) Start() address.Address { return r.start }
func (r *Region) End() address.Address   { return r.end }
func (r *Region) Perm() Perm              { return r.perm }
func (r *Region) Pathname() string        { return r.pathname }
func (r *Region) Size() int64             { return r.end.Sub(r.start) }

// Contains reports whether addr lies within [start, end).
func (r *Region) Contains(addr address.Address) bool {
	return addr >= r.start && addr < r.end
}

// Close releases the region's backing provider.
func (r *Region) Close() error {
	if r.provider == nil {
		return nil
	}
	return r.provider.Close()
}

// ReadBytes reads n bytes starting at target address addr. It fails with
// ErrOutOfRegion if [addr, addr+n) escapes [start, end), and ErrIO if the
// backing provider fails.
func (r *Region) ReadBytes(addr address.Address, n int64) ([]byte, error) {
	if addr < r.start || addr.Add(n) > r.end || n < 0 {
		return nil, errors.Wrapf(ErrOutOfRegion, "addr=%s n=%d region=[%s,%s)", addr, n, r.start, r.end)
	}
	buf := make([]byte, n)
	off := addr.Sub(r.start)
	got, err := r.provider.ReadAt(buf, off)
	if err != nil {
		return nil, errors.Wrapf(ErrIO, "addr=%s n=%d: %v", addr, n, err)
	}
	if int64(got) != n {
		return nil, errors.Wrapf(ErrIO, "addr=%s: short read %d/%d", addr, got, n)
	}
	return buf, nil
}

// ReadScalar reads a width-byte integer at addr, using p's endianness.
func (r *Region) ReadScalar(addr address.Address, p arch.Platform, width int, signed bool) (int64, error) {
	b, err := r.ReadBytes(addr, int64(width))
	if err != nil {
		return 0, err
	}
	if signed {
		return p.Int(b, width), nil
	}
	return int64(p.Uint(b, width)), nil
}

// ReadPointer reads a platform-pointer-width value at addr and returns it as
// a target Address.
func (r *Region) ReadPointer(addr address.Address, p arch.Platform) (address.Address, error) {
	b, err := r.ReadBytes(addr, int64(p.PointerWidth))
	if err != nil {
		return 0, err
	}
	return p.Ptr(b), nil
}
