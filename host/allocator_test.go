package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/wasmudf/domain/entities"
	domainerrors "github.com/reglet-dev/wasmudf/domain/errors"
	"github.com/reglet-dev/wasmudf/internal/sandboxtest"
)

func TestLedger_Admit(t *testing.T) {
	const memSize = 65536
	l := newLedger()
	require.NoError(t, l.admit(entities.Allocation{Addr: 1024, Size: 64, Align: 8}, memSize))

	tests := []struct {
		name  string
		alloc entities.Allocation
	}{
		{"null", entities.Allocation{Addr: 0, Size: 8, Align: 8}},
		{"misaligned", entities.Allocation{Addr: 2049, Size: 8, Align: 8}},
		{"bad alignment", entities.Allocation{Addr: 2048, Size: 8, Align: 3}},
		{"out of bounds", entities.Allocation{Addr: memSize - 4, Size: 8, Align: 4}},
		{"wraps 4GiB", entities.Allocation{Addr: 0xfffffff8, Size: 16, Align: 8}},
		{"overlaps tail", entities.Allocation{Addr: 1080, Size: 16, Align: 8}},
		{"inside", entities.Allocation{Addr: 1032, Size: 8, Align: 4}},
		{"same address", entities.Allocation{Addr: 1024, Size: 64, Align: 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, l.admit(tt.alloc, memSize))
		})
	}

	count, bytes := l.outstanding()
	assert.Equal(t, 1, count)
	assert.Equal(t, uint64(64), bytes)

	require.NoError(t, l.admit(entities.Allocation{Addr: 1088, Size: 8, Align: 8}, memSize), "adjacent ranges do not overlap")
}

func TestLedger_Abandon(t *testing.T) {
	l := newLedger()
	require.NoError(t, l.admit(entities.Allocation{Addr: 2048, Size: 8, Align: 8}, 65536))
	require.NoError(t, l.admit(entities.Allocation{Addr: 1024, Size: 16, Align: 8}, 65536))

	abandoned := l.abandon()
	require.Len(t, abandoned, 2)
	assert.Equal(t, uint32(1024), abandoned[0].Addr)

	count, bytes := l.outstanding()
	assert.Zero(t, count)
	assert.Zero(t, bytes)
}

func TestScope_ReleasesInReverseOrder(t *testing.T) {
	ctx := context.Background()
	fake := sandboxtest.New(nil, 1)
	sc := newScope(newAllocator(fake))

	var acquired []entities.Allocation
	for _, size := range []uint32{24, 8, 40} {
		p, err := sc.acquire(ctx, size, 8)
		require.NoError(t, err)
		acquired = append(acquired, p.Allocation())
	}

	require.NoError(t, sc.close(ctx))
	assert.Equal(t, []entities.Allocation{acquired[2], acquired[1], acquired[0]}, fake.Released())
	assert.Empty(t, fake.Live())
	assert.Empty(t, fake.Violations())

	// Closing again releases nothing.
	require.NoError(t, sc.close(ctx))
	assert.Len(t, fake.Released(), 3)
}

func TestScope_StopsAfterFault(t *testing.T) {
	ctx := context.Background()
	fake := sandboxtest.New(nil, 1)
	alloc := newAllocator(fake)
	sc := newScope(alloc)

	_, err := sc.acquire(ctx, 8, 8)
	require.NoError(t, err)
	_, err = sc.acquire(ctx, 8, 8)
	require.NoError(t, err)

	fake.Trap = "free"
	err = sc.close(ctx)
	assert.Equal(t, domainerrors.KindGuestFault, domainerrors.KindOf(err))

	// Both allocations remain for the caller to abandon.
	count, _ := alloc.ledger.outstanding()
	assert.Equal(t, 2, count)
}

func TestAllocator_RejectsUntrustedMalloc(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		addr uint32
	}{
		{"null", 0},
		{"misaligned", 1027},
		{"out of bounds", 65536 - 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := sandboxtest.New(nil, 1)
			fake.MallocResult = func(uint32, uint32) (uint32, bool) { return tt.addr, true }
			alloc := newAllocator(fake)

			_, err := alloc.acquire(ctx, 16, 8)
			var allocErr *domainerrors.AllocationError
			require.ErrorAs(t, err, &allocErr)
			assert.Equal(t, "allocate", allocErr.Operation)
			assert.Equal(t, tt.addr, allocErr.Allocation.Addr)

			count, _ := alloc.ledger.outstanding()
			assert.Zero(t, count)
		})
	}
}

func TestAllocator_DoubleRelease(t *testing.T) {
	ctx := context.Background()
	fake := sandboxtest.New(nil, 1)
	alloc := newAllocator(fake)

	p, err := alloc.acquire(ctx, 8, 8)
	require.NoError(t, err)
	require.NoError(t, alloc.release(ctx, p))
	assert.ErrorIs(t, alloc.release(ctx, p), errDoubleRelease)
	assert.Equal(t, 1, fake.Frees())
}
