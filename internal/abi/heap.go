// Package abi implements the guest side of the allocator contract.
package abi

import (
	"fmt"
	"sync"
	"unsafe"
)

// MaxTotalAllocations is the maximum total memory that can be allocated through the heap.
// This prevents unbounded memory growth in WASM linear memory.
const MaxTotalAllocations = 100 * 1024 * 1024 // 100 MB

// block is one live allocation. buf is the backing slice that keeps the
// memory reachable; view is the aligned region handed out.
type block struct {
	buf   []byte
	view  []byte
	size  uint32
	align uint32
}

// Heap tracks allocations handed to the host. It keeps a reference to every
// allocated slice so the Go GC cannot collect memory the host still uses,
// and checks every release against the triple used to allocate it.
type Heap struct {
	blocks map[uint32]block
	total  int
	limit  int
	mu     sync.Mutex
}

// NewHeap creates a heap that refuses to hold more than limit bytes.
func NewHeap(limit int) *Heap {
	return &Heap{blocks: make(map[uint32]block), limit: limit}
}

// Alloc reserves size bytes aligned to align and returns their address.
// It panics if align is not a power of two or the limit would be exceeded;
// inside a guest the panic surfaces to the host as a trap.
func (h *Heap) Alloc(size, align uint32) uint32 {
	if align == 0 || align&(align-1) != 0 {
		panic(fmt.Sprintf("abi: alignment %d is not a power of two", align))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.total+int(size) > h.limit {
		panic(fmt.Sprintf("abi: memory allocation limit exceeded (requested: %d bytes, current: %d bytes, limit: %d bytes)",
			size, h.total, h.limit))
	}

	buf := make([]byte, int(size)+int(align))
	base := addressOf(buf)
	off := (align - base%align) % align
	addr := base + off
	if _, live := h.blocks[addr]; live {
		panic(fmt.Sprintf("abi: address 0x%x handed out twice", addr))
	}

	h.blocks[addr] = block{buf: buf, view: buf[off : off+size], size: size, align: align}
	h.total += int(size)
	return addr
}

// Free releases an allocation. The (addr, size, align) triple must match the
// allocation exactly; anything else is a contract violation and panics.
func (h *Heap) Free(addr, size, align uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.blocks[addr]
	if !ok {
		panic(fmt.Sprintf("abi: free of unknown address 0x%x", addr))
	}
	if b.size != size || b.align != align {
		panic(fmt.Sprintf("abi: free(0x%x, %d, %d) does not match allocation (%d, %d)", addr, size, align, b.size, b.align))
	}
	delete(h.blocks, addr)
	h.total -= int(size)
}

// Bytes returns the live allocation at addr.
func (h *Heap) Bytes(addr uint32) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.blocks[addr]
	return b.view, ok
}

// Export copies data into a fresh allocation and returns its address.
func (h *Heap) Export(data []byte, align uint32) uint32 {
	addr := h.Alloc(uint32(len(data)), align) //nolint:gosec // G115: wasm32 lengths fit in uint32
	view, _ := h.Bytes(addr)
	copy(view, data)
	return addr
}

// Live returns the number and total size of outstanding allocations.
func (h *Heap) Live() (count, bytes int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.blocks), h.total
}

// addressOf returns the linear-memory address of b's first byte. On wasm32
// this is the exact address; elsewhere only the low 32 bits are kept, which
// preserves alignment.
func addressOf(b []byte) uint32 {
	//nolint:gosec // G103/G115: wasm32 linear memory addresses are 32-bit
	return uint32(uintptr(unsafe.Pointer(unsafe.SliceData(b))))
}
