package entities

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocation_Overlaps(t *testing.T) {
	base := Allocation{Addr: 100, Size: 10, Align: 1}

	assert.True(t, base.Overlaps(Allocation{Addr: 105, Size: 10, Align: 1}))
	assert.True(t, base.Overlaps(Allocation{Addr: 90, Size: 11, Align: 1}))
	assert.True(t, base.Overlaps(Allocation{Addr: 102, Size: 2, Align: 1}))
	assert.False(t, base.Overlaps(Allocation{Addr: 110, Size: 10, Align: 1}), "adjacent ranges do not overlap")
	assert.False(t, base.Overlaps(Allocation{Addr: 90, Size: 10, Align: 1}))
	assert.False(t, base.Overlaps(Allocation{Addr: 105, Size: 0, Align: 1}), "empty ranges never overlap")
}

func TestAllocation_Validate(t *testing.T) {
	assert.NoError(t, Allocation{Addr: 8, Size: 8, Align: 8}.Validate(16))
	assert.Error(t, Allocation{Addr: 0, Size: 8, Align: 8}.Validate(16))
	assert.Error(t, Allocation{Addr: 4, Size: 8, Align: 8}.Validate(16))
	assert.Error(t, Allocation{Addr: 8, Size: 9, Align: 8}.Validate(16))
	assert.Error(t, Allocation{Addr: 8, Size: 8, Align: 3}.Validate(16))
	assert.Error(t, Allocation{Addr: 8, Size: 8, Align: 0}.Validate(16))
}

func TestAllocation_EndDoesNotWrap(t *testing.T) {
	a := Allocation{Addr: math.MaxUint32, Size: 2, Align: 1}
	assert.Equal(t, uint64(math.MaxUint32)+2, a.End())
	assert.Error(t, a.Validate(math.MaxUint32))
}

func TestIsPowerOfTwo(t *testing.T) {
	for _, v := range []uint32{1, 2, 4, 8, 1 << 31} {
		assert.True(t, IsPowerOfTwo(v), v)
	}
	for _, v := range []uint32{0, 3, 6, 12, math.MaxUint32} {
		assert.False(t, IsPowerOfTwo(v), v)
	}
}

func TestParseConvention(t *testing.T) {
	tests := map[string]Convention{
		"":           ConventionAuto,
		"auto":       ConventionAuto,
		"scalar":     ConventionScalar,
		"descriptor": ConventionDescriptor,
	}
	for in, want := range tests {
		got, err := ParseConvention(in)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseConvention("pointer")
	assert.Error(t, err)
	assert.False(t, ConventionAuto.Valid())
	assert.True(t, ConventionDescriptor.Valid())
	assert.Equal(t, "descriptor", ConventionDescriptor.String())
}
