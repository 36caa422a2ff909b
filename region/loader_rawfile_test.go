package region

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullptr-labs/memprobe/address"
	"github.com/nullptr-labs/memprobe/arch"
)

func TestLoadRawFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 256), 0o600))

	h, err := LoadRawFile(RawFileOptions{Path: path, BaseOffset: 0x4000, Platform: arch.AMD64})
	require.NoError(t, err)
	require.Len(t, h.Regions(), 1)
	r := h.Regions()[0]
	assert.Equal(t, address.Address(0x4000), r.Start())
	assert.Equal(t, address.Address(0x4100), r.End())
	assert.Equal(t, "image.bin", r.Pathname())
}
