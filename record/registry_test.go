package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleType() *Type {
	return &Type{
		Name:         "module.Node",
		PointerWidth: 8,
		Size:         16,
		Fields: []Field{
			{Name: "val1", Offset: 0, Width: 4, Kind: KindInteger,
				Constraint: &Constraint{Kind: ConstraintEquals, Literal: 0xDEADBEEF}},
			{Name: "ptr2", Offset: 8, Width: 8, Kind: KindPointer, PointeeType: "module.Node"},
		},
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sampleType()))

	got, ok := r.Lookup("module.Node", 8)
	require.True(t, ok)
	assert.Equal(t, int64(16), got.Size)

	_, ok = r.Lookup("module.Node", 4)
	assert.False(t, ok, "a 4-byte registration is independent of the 8-byte one")

	_, ok = r.Lookup("module.Missing", 8)
	assert.False(t, ok)
}

func TestRegistryIdempotent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sampleType()))
	require.NoError(t, r.Register(sampleType())) // identical re-registration is fine
}

func TestRegistryRejectsConflictingRedefinition(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sampleType()))

	other := sampleType()
	other.Size = 32
	assert.Error(t, r.Register(other))
}

func TestRegistryRejectsBadPointerWidth(t *testing.T) {
	r := NewRegistry()
	bad := sampleType()
	bad.PointerWidth = 6
	assert.Error(t, r.Register(bad))
}
