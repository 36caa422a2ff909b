// Package arch describes the CPU architecture of the inspection target:
// pointer width, endianness, natural alignment, and the scalar decodings
// built on top of them. A Platform is immutable once constructed.
package arch

import (
	"encoding/binary"
	"fmt"

	"github.com/nullptr-labs/memprobe/address"
)

// Platform is the immutable description of a target CPU. A Handler (see
// package region) is bound to exactly one Platform for its lifetime.
type Platform struct {
	Name         string
	PointerWidth int // 4 or 8 bytes
	Alignment    int64
	ByteOrder    binary.ByteOrder
}

// Granule is the allocation unit used by the Windows heap allocator for a
// given pointer width: 8 bytes on 32-bit targets, 16 bytes on 64-bit.
func (p Platform) Granule() int64 {
	if p.PointerWidth == 8 {
		return 16
	}
	return 8
}

var (
	I386  = Platform{Name: "i386", PointerWidth: 4, Alignment: 4, ByteOrder: binary.LittleEndian}
	AMD64 = Platform{Name: "amd64", PointerWidth: 8, Alignment: 8, ByteOrder: binary.LittleEndian}
	ARM   = Platform{Name: "arm", PointerWidth: 4, Alignment: 4, ByteOrder: binary.LittleEndian}
	ARM64 = Platform{Name: "arm64", PointerWidth: 8, Alignment: 8, ByteOrder: binary.LittleEndian}
)

// ByName resolves a Platform by the conventional uname/GOARCH spelling, used
// for the dump loader's explicit (cpu_bits, os_name) override (spec §4.D) —
// a dump carries no architecture metadata of its own.
func ByName(name string) (Platform, error) {
	switch name {
	case "i386", "386", "x86":
		return I386, nil
	case "amd64", "x86_64", "x86-64":
		return AMD64, nil
	case "arm":
		return ARM, nil
	case "arm64", "aarch64":
		return ARM64, nil
	default:
		return Platform{}, fmt.Errorf("arch: unknown platform %q", name)
	}
}

func (p Platform) Uint8(b []byte) uint8 { return b[0] }
func (p Platform) Int8(b []byte) int8   { return int8(b[0]) }

func (p Platform) Uint16(b []byte) uint16 { return p.ByteOrder.Uint16(b) }
func (p Platform) Int16(b []byte) int16   { return int16(p.ByteOrder.Uint16(b)) }

func (p Platform) Uint32(b []byte) uint32 { return p.ByteOrder.Uint32(b) }
func (p Platform) Int32(b []byte) int32   { return int32(p.ByteOrder.Uint32(b)) }

func (p Platform) Uint64(b []byte) uint64 { return p.ByteOrder.Uint64(b) }
func (p Platform) Int64(b []byte) int64   { return int64(p.ByteOrder.Uint64(b)) }

// Uint decodes an unsigned integer of the given byte width (1, 2, 4, or 8).
func (p Platform) Uint(b []byte, width int) uint64 {
	switch width {
	case 1:
		return uint64(p.Uint8(b))
	case 2:
		return uint64(p.Uint16(b))
	case 4:
		return uint64(p.Uint32(b))
	case 8:
		return p.Uint64(b)
	default:
		panic(fmt.Sprintf("arch: unsupported integer width %d", width))
	}
}

// Int decodes a signed integer of the given byte width.
func (p Platform) Int(b []byte, width int) int64 {
	switch width {
	case 1:
		return int64(p.Int8(b))
	case 2:
		return int64(p.Int16(b))
	case 4:
		return int64(p.Int32(b))
	case 8:
		return p.Int64(b)
	default:
		panic(fmt.Sprintf("arch: unsupported integer width %d", width))
	}
}

// Ptr decodes a target pointer-width value into an Address.
func (p Platform) Ptr(b []byte) address.Address {
	return address.Address(p.Uint(b, p.PointerWidth))
}

// PutPtr encodes addr into b using the platform's pointer width. Used by
// tests that build synthetic memory images.
func (p Platform) PutPtr(b []byte, addr address.Address) {
	switch p.PointerWidth {
	case 4:
		p.ByteOrder.PutUint32(b, uint32(addr))
	case 8:
		p.ByteOrder.PutUint64(b, uint64(addr))
	default:
		panic(fmt.Sprintf("arch: unsupported pointer width %d", p.PointerWidth))
	}
}
