package abi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeap_AllocAlignment(t *testing.T) {
	h := NewHeap(MaxTotalAllocations)

	tests := []struct {
		name  string
		size  uint32
		align uint32
	}{
		{"byte aligned", 3, 1},
		{"buffer", 40, 8},
		{"descriptor", 8, 4},
		{"wide", 1, 64},
		{"empty", 0, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := h.Alloc(tt.size, tt.align)
			assert.Zero(t, addr%tt.align)

			view, ok := h.Bytes(addr)
			require.True(t, ok)
			assert.Len(t, view, int(tt.size))
		})
	}

	count, bytes := h.Live()
	assert.Equal(t, len(tests), count)
	assert.Equal(t, 3+40+8+1, bytes)
}

func TestHeap_FreeBalances(t *testing.T) {
	h := NewHeap(MaxTotalAllocations)

	a := h.Alloc(16, 8)
	b := h.Export([]byte("payload"), 8)
	view, ok := h.Bytes(b)
	require.True(t, ok)
	assert.Equal(t, "payload", string(view))

	h.Free(b, 7, 8)
	h.Free(a, 16, 8)

	count, bytes := h.Live()
	assert.Zero(t, count)
	assert.Zero(t, bytes)
	_, ok = h.Bytes(a)
	assert.False(t, ok)
}

func TestHeap_ContractViolationsPanic(t *testing.T) {
	tests := []struct {
		name string
		fn   func(h *Heap)
	}{
		{"non power of two alignment", func(h *Heap) { h.Alloc(8, 3) }},
		{"zero alignment", func(h *Heap) { h.Alloc(8, 0) }},
		{"over limit", func(h *Heap) { h.Alloc(2048, 8) }},
		{"unknown address", func(h *Heap) { h.Free(0x1000, 8, 8) }},
		{"size mismatch", func(h *Heap) {
			addr := h.Alloc(16, 8)
			h.Free(addr, 8, 8)
		}},
		{"alignment mismatch", func(h *Heap) {
			addr := h.Alloc(8, 8)
			h.Free(addr, 8, 4)
		}},
		{"double free", func(h *Heap) {
			addr := h.Alloc(8, 8)
			h.Free(addr, 8, 8)
			h.Free(addr, 8, 8)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHeap(1024)
			assert.Panics(t, func() { tt.fn(h) })
		})
	}
}

// BenchmarkHeap_AllocFree measures one allocate/release round trip, the
// per-buffer cost of every UDF invocation.
func BenchmarkHeap_AllocFree(b *testing.B) {
	h := NewHeap(MaxTotalAllocations)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		addr := h.Alloc(256, 8)
		h.Free(addr, 256, 8)
	}
}
