//go:build wasip1

package abi

import (
	"runtime"
	"unsafe"

	"github.com/reglet-dev/wasmudf/domain/entities"
)

// heap backs the malloc and free exports.
var heap = NewHeap(MaxTotalAllocations)

// malloc reserves memory for the host.
//
//go:wasmexport malloc
func malloc(size, align uint32) uint32 {
	return heap.Alloc(size, align)
}

// free releases memory previously returned by malloc or reported to the host.
//
//go:wasmexport free
func free(addr, size, align uint32) {
	heap.Free(addr, size, align)
}

// BytesAt returns a view of linear memory. The view aliases host-owned
// memory and must not be retained past the current call.
func BytesAt(addr, length uint32) []byte {
	if length == 0 {
		return nil
	}
	//nolint:gosec // G103: Valid unsafe.Pointer use for WASM linear memory access
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), length)
}

// ExportDescriptor places data in an 8-aligned allocation, describes it with
// a Result Descriptor in a second allocation and returns the descriptor's
// address. The host releases both.
func ExportDescriptor(data []byte) uint32 {
	buf := heap.Export(data, entities.BufferAlign)
	desc := entities.ResultDescriptor{
		Addr:   int32(buf),       //nolint:gosec // G115: wasm32 addresses
		Length: int32(len(data)), //nolint:gosec // G115: wasm32 lengths
	}
	return heap.Export(desc.Encode(), entities.DescriptorAlign)
}

// WithBytes calls fn with the address and length of data, keeping data
// alive for the duration of the call. It is used to pass guest-owned bytes
// to host imports.
func WithBytes(data []byte, fn func(addr, length uint32)) {
	if len(data) == 0 {
		fn(0, 0)
		return
	}
	fn(addressOf(data), uint32(len(data))) //nolint:gosec // G115: wasm32 lengths
	runtime.KeepAlive(data)
}
