package memprobe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullptr-labs/memprobe/address"
	"github.com/nullptr-labs/memprobe/arch"
	"github.com/nullptr-labs/memprobe/record"
	"github.com/nullptr-labs/memprobe/region"
	"github.com/nullptr-labs/memprobe/search"
)

type fakeProvider struct{ data []byte }

func (p *fakeProvider) ReadAt(b []byte, offset int64) (int, error) {
	n := copy(b, p.data[offset:])
	return n, nil
}
func (p *fakeProvider) Close() error { return nil }

func nodeType() *record.Type {
	return &record.Type{
		Name: "test.Node", PointerWidth: 8, Size: 16,
		Fields: []record.Field{
			{Name: "val1", Offset: 0, Width: 4, Kind: record.KindInteger,
				Constraint: &record.Constraint{Kind: record.ConstraintEquals, Literal: 0xDEADBEEF}},
			{Name: "ptr2", Offset: 8, Width: 8, Kind: record.KindPointer, Weak: true},
		},
	}
}

func TestSearchRecordAndOutputToString(t *testing.T) {
	const heapStart = address.Address(0x10000)
	const nodeAddr = address.Address(0x10020)
	data := make([]byte, 0x1000)
	arch.AMD64.ByteOrder.PutUint32(data[0x20:0x24], 0xDEADBEEF)
	arch.AMD64.PutPtr(data[0x28:0x30], nodeAddr)

	r, err := region.New(heapStart, heapStart.Add(int64(len(data))), region.Read|region.Write, "[heap]", &fakeProvider{data: data})
	require.NoError(t, err)
	h, err := region.NewHandler(arch.AMD64, []*region.Region{r})
	require.NoError(t, err)

	reg := record.NewRegistry()
	require.NoError(t, reg.Register(nodeType()))

	results, err := SearchRecord(context.Background(), h, reg, nodeType(), nil, search.Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, nodeAddr, results[0].Address)

	text, err := OutputToString(results)
	require.NoError(t, err)
	assert.Contains(t, text, "# --------------- 0x10020")
	assert.Contains(t, text, `"val1": 3735928559`)
}

func TestLoadRecordAtKnownAddress(t *testing.T) {
	const heapStart = address.Address(0x30000)
	const nodeAddr = address.Address(0x30010)
	data := make([]byte, 0x1000)
	arch.AMD64.ByteOrder.PutUint32(data[0x10:0x14], 0xDEADBEEF)

	r, err := region.New(heapStart, heapStart.Add(int64(len(data))), region.Read|region.Write, "[heap]", &fakeProvider{data: data})
	require.NoError(t, err)
	h, err := region.NewHandler(arch.AMD64, []*region.Region{r})
	require.NoError(t, err)

	reg := record.NewRegistry()
	require.NoError(t, reg.Register(nodeType()))

	inst, validated, err := LoadRecord(h, reg, nodeType(), nodeAddr, 0, nil)
	require.NoError(t, err)
	assert.True(t, validated)
	val1, _ := inst.Get("val1")
	assert.EqualValues(t, 0xDEADBEEF, val1.Int)
}

func TestLoadRecordOutOfRegion(t *testing.T) {
	r, err := region.New(0x1000, 0x1100, region.Read, "", &fakeProvider{data: make([]byte, 0x100)})
	require.NoError(t, err)
	h, err := region.NewHandler(arch.AMD64, []*region.Region{r})
	require.NoError(t, err)

	reg := record.NewRegistry()
	require.NoError(t, reg.Register(nodeType()))

	_, _, err = LoadRecord(h, reg, nodeType(), 0xDEAD0000, 0, nil)
	assert.ErrorIs(t, err, region.ErrOutOfRegion)
}
