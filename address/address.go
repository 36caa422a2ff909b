// Package address defines the target virtual address type shared by every
// layer of memprobe, from raw regions up through record validation.
package address

import "fmt"

// Address is a byte offset in the target's virtual address space. It is
// always 64 bits wide internally regardless of the target's pointer width;
// narrower targets (32-bit) simply never populate the high bits.
type Address uint64

// Add returns a+n.
func (a Address) Add(n int64) Address {
	return Address(int64(a) + n)
}

// Sub returns a-b as a byte count.
func (a Address) Sub(b Address) int64 {
	return int64(a) - int64(b)
}

// AlignDown rounds a down to the nearest multiple of width.
func AlignDown(a Address, width int64) Address {
	if width <= 0 {
		return a
	}
	return Address(uint64(a) &^ uint64(width-1))
}

// IsAligned reports whether a is a multiple of width.
func IsAligned(a Address, width int64) bool {
	if width <= 0 {
		return true
	}
	return uint64(a)%uint64(width) == 0
}

func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}
