package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullptr-labs/memprobe/address"
	"github.com/nullptr-labs/memprobe/arch"
)

func TestParsePerm(t *testing.T) {
	p, err := ParsePerm("rwxp")
	require.NoError(t, err)
	assert.Equal(t, Read|Write|Exec, p)
	assert.Equal(t, "rwxp", p.String())

	p, err = ParsePerm("r--s")
	require.NoError(t, err)
	assert.Equal(t, Read|Shared, p)
	assert.Equal(t, "r--s", p.String())

	_, err = ParsePerm("bad")
	assert.Error(t, err)
}

func TestReadBytesBounds(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	r, err := New(0x1000, 0x1008, Read, "", newMemProvider(data))
	require.NoError(t, err)

	got, err := r.ReadBytes(0x1000, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)

	_, err = r.ReadBytes(0x1004, 8)
	assert.ErrorIs(t, err, ErrOutOfRegion)

	_, err = r.ReadBytes(0x0ff0, 4)
	assert.ErrorIs(t, err, ErrOutOfRegion)
}

func TestReadPointer(t *testing.T) {
	data := make([]byte, 16)
	arch.AMD64.PutPtr(data[8:], address.Address(0xcafebabe))
	r, err := New(0x2000, 0x2010, Read, "", newMemProvider(data))
	require.NoError(t, err)

	p, err := r.ReadPointer(0x2008, arch.AMD64)
	require.NoError(t, err)
	assert.Equal(t, address.Address(0xcafebabe), p)
}

func TestNewRejectsBadBounds(t *testing.T) {
	_, err := New(0x1000, 0x1000, Read, "", newMemProvider(nil))
	assert.Error(t, err)
}
