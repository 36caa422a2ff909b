package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullptr-labs/memprobe/address"
	"github.com/nullptr-labs/memprobe/arch"
	"github.com/nullptr-labs/memprobe/record"
	"github.com/nullptr-labs/memprobe/region"
)

func newMemRegion(t *testing.T, start address.Address, data []byte) *region.Region {
	t.Helper()
	r, err := region.New(start, start.Add(int64(len(data))), region.Read|region.Write, "[heap]", newTestProvider(data))
	require.NoError(t, err)
	return r
}

// testProvider is a minimal in-memory ByteProvider, mirroring
// region/memprovider_test.go's memProvider but kept local since region's is unexported.
type testProvider struct{ data []byte }

func newTestProvider(data []byte) *testProvider { return &testProvider{data: data} }

func (p *testProvider) ReadAt(b []byte, offset int64) (int, error) {
	if offset < 0 || offset > int64(len(p.data)) {
		return 0, errShortRead
	}
	n := copy(b, p.data[offset:])
	if n < len(b) {
		return n, errShortRead
	}
	return n, nil
}
func (p *testProvider) Close() error { return nil }

var errShortRead = shortReadErr{}

type shortReadErr struct{}

func (shortReadErr) Error() string { return "short read" }

func selfRefNodeType() *record.Type {
	return &record.Type{
		Name:         "test.Node",
		PointerWidth: 8,
		Size:         16,
		Fields: []record.Field{
			{Name: "val1", Offset: 0, Width: 4, Kind: record.KindInteger,
				Constraint: &record.Constraint{Kind: record.ConstraintEquals, Literal: 0xDEADBEEF}},
			{Name: "ptr2", Offset: 8, Width: 8, Kind: record.KindPointer, PointeeType: "test.Node"},
		},
	}
}

func TestLoadSelfReferentialNode(t *testing.T) {
	// Scenario 1 from spec §8: Node{val1=0xDEADBEEF, ptr2=&self} at address A.
	const A = address.Address(0x5000)
	buf := make([]byte, 16)
	arch.AMD64.ByteOrder.PutUint32(buf[0:4], 0xDEADBEEF)
	arch.AMD64.PutPtr(buf[8:16], A)

	r := newMemRegion(t, A, buf)
	h, err := region.NewHandler(arch.AMD64, []*region.Region{r})
	require.NoError(t, err)

	reg := record.NewRegistry()
	require.NoError(t, reg.Register(selfRefNodeType()))
	v := New(reg, nil)

	inst, validated, err := v.Load(h, r, A, selfRefNodeType(), DefaultDepth)
	require.NoError(t, err)
	assert.True(t, validated)

	val1, _ := inst.Get("val1")
	assert.EqualValues(t, 0xDEADBEEF, val1.Int)
	ptr2, _ := inst.Get("ptr2")
	assert.Equal(t, A, ptr2.Pointer)
	require.NotNil(t, ptr2.PointeeInstance)
	assert.Same(t, inst.Region, ptr2.PointeeInstance.Region)
}

func TestLoadFailsOnConstraintViolation(t *testing.T) {
	const A = address.Address(0x6000)
	buf := make([]byte, 16)
	arch.AMD64.ByteOrder.PutUint32(buf[0:4], 0x11111111) // wrong value
	r := newMemRegion(t, A, buf)
	h, err := region.NewHandler(arch.AMD64, []*region.Region{r})
	require.NoError(t, err)

	reg := record.NewRegistry()
	require.NoError(t, reg.Register(selfRefNodeType()))
	v := New(reg, nil)

	inst, validated, err := v.Load(h, r, A, selfRefNodeType(), DefaultDepth)
	require.NoError(t, err)
	assert.False(t, validated)
	assert.NotNil(t, inst) // partial instance still returned (spec §4.F)
}

func TestLoadOutOfRegion(t *testing.T) {
	const A = address.Address(0x7000)
	buf := make([]byte, 8) // too short for a 16-byte type
	r := newMemRegion(t, A, buf)
	h, err := region.NewHandler(arch.AMD64, []*region.Region{r})
	require.NoError(t, err)

	reg := record.NewRegistry()
	require.NoError(t, reg.Register(selfRefNodeType()))
	v := New(reg, nil)

	_, _, err = v.Load(h, r, A, selfRefNodeType(), DefaultDepth)
	assert.ErrorIs(t, err, region.ErrOutOfRegion)
}

func TestLoadUnknownPointeeTypeFailsConstraintNotError(t *testing.T) {
	const A = address.Address(0x8000)
	buf := make([]byte, 0x200) // large enough that ptr2's target lies inside the region
	arch.AMD64.PutPtr(buf[8:16], A.Add(0x100))
	r := newMemRegion(t, A, buf)
	h, err := region.NewHandler(arch.AMD64, []*region.Region{r})
	require.NoError(t, err)

	typ := selfRefNodeType()
	typ.Fields[0].Constraint = nil // don't care about val1 here
	reg := record.NewRegistry() // deliberately empty: test.Node never registered
	v := New(reg, nil)

	inst, validated, err := v.Load(h, r, A, typ, DefaultDepth)
	require.NoError(t, err)
	assert.False(t, validated)
	ptr2, _ := inst.Get("ptr2")
	assert.Equal(t, ErrUnknownRecordType.Error(), ptr2.Note)
}

func TestLoadDepthZeroSkipsPointeeChasing(t *testing.T) {
	const A = address.Address(0x9000)
	buf := make([]byte, 16)
	arch.AMD64.ByteOrder.PutUint32(buf[0:4], 0xDEADBEEF)
	arch.AMD64.PutPtr(buf[8:16], 0xBAD0BAD0) // dangling pointer, no backing region
	r := newMemRegion(t, A, buf)
	h, err := region.NewHandler(arch.AMD64, []*region.Region{r})
	require.NoError(t, err)

	reg := record.NewRegistry()
	require.NoError(t, reg.Register(selfRefNodeType()))
	v := New(reg, nil)

	_, validated, err := v.Load(h, r, A, selfRefNodeType(), 0)
	require.NoError(t, err)
	assert.True(t, validated, "depth 0 must skip pointee chasing entirely")
}

func TestLoadWeakPointerSkipsRecursionButNotExistence(t *testing.T) {
	const A = address.Address(0xA000)
	buf := make([]byte, 16)
	arch.AMD64.ByteOrder.PutUint32(buf[0:4], 0xDEADBEEF)
	arch.AMD64.PutPtr(buf[8:16], 0xBAD0BAD0) // dangling
	r := newMemRegion(t, A, buf)
	h, err := region.NewHandler(arch.AMD64, []*region.Region{r})
	require.NoError(t, err)

	typ := selfRefNodeType()
	typ.Fields[1].Weak = true

	reg := record.NewRegistry()
	require.NoError(t, reg.Register(typ))
	v := New(reg, nil)

	_, validated, err := v.Load(h, r, A, typ, DefaultDepth)
	require.NoError(t, err)
	// dangling pointer still has no backing region, so even a weak field
	// fails the base find_region check.
	assert.False(t, validated)
}
