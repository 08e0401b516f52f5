package entities

import "fmt"

// Protocol alignment constants. Every release call must reconstruct the
// (size, alignment) pair that was used for the matching allocate call.
const (
	// BufferAlign is the alignment of every columnar byte buffer placed in
	// guest memory, in both directions. Arrow buffers are 8-byte aligned.
	BufferAlign uint32 = 8

	// DescriptorSize is the size in bytes of an encoded ResultDescriptor.
	DescriptorSize uint32 = 8

	// DescriptorAlign is the alignment the guest uses when allocating a
	// ResultDescriptor.
	DescriptorAlign uint32 = 4
)

// Allocation is the host-side record of one live guest allocation.
// It is created when the host calls the guest allocator (or adopts memory
// the guest reported) and destroyed exactly once, at the matching release.
type Allocation struct {
	Addr  uint32 `json:"addr"`
	Size  uint32 `json:"size"`
	Align uint32 `json:"align"`
}

// End returns the first address past the allocation. It is computed in 64
// bits so ranges ending at the 4GiB boundary do not wrap.
func (a Allocation) End() uint64 {
	return uint64(a.Addr) + uint64(a.Size)
}

// Overlaps reports whether a and b share at least one byte.
// Zero-sized allocations never overlap anything.
func (a Allocation) Overlaps(b Allocation) bool {
	if a.Size == 0 || b.Size == 0 {
		return false
	}
	return uint64(a.Addr) < b.End() && uint64(b.Addr) < a.End()
}

// Validate checks that the allocation is a usable range of a linear memory
// of memSize bytes: non-null, aligned, and in bounds.
func (a Allocation) Validate(memSize uint32) error {
	if !IsPowerOfTwo(a.Align) {
		return fmt.Errorf("alignment %d is not a power of two", a.Align)
	}
	if a.Addr == 0 {
		return fmt.Errorf("null address for %d byte allocation", a.Size)
	}
	if a.Addr%a.Align != 0 {
		return fmt.Errorf("address 0x%x is not aligned to %d", a.Addr, a.Align)
	}
	if a.End() > uint64(memSize) {
		return fmt.Errorf("range [0x%x, 0x%x) exceeds linear memory of %d bytes", a.Addr, a.End(), memSize)
	}
	return nil
}

func (a Allocation) String() string {
	return fmt.Sprintf("{addr=0x%x size=%d align=%d}", a.Addr, a.Size, a.Align)
}

// IsPowerOfTwo reports whether v is a non-zero power of two.
func IsPowerOfTwo(v uint32) bool {
	return v != 0 && v&(v-1) == 0
}
