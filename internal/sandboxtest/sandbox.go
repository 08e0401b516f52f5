// Package sandboxtest provides an in-process ports.Sandbox for tests. Its
// linear memory is a byte slice, its allocator checks every release against
// the allocation it names, and its udf runs a guest.Dispatcher directly.
package sandboxtest

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/reglet-dev/wasmudf/domain/entities"
	domainerrors "github.com/reglet-dev/wasmudf/domain/errors"
	"github.com/reglet-dev/wasmudf/domain/ports"
	"github.com/reglet-dev/wasmudf/guest"
)

var _ ports.Sandbox = (*Sandbox)(nil)

// ErrTrap is the cause of every fault the fake injects.
var ErrTrap = errors.New("sandboxtest: unreachable executed")

// heapBase keeps address 0 and low memory unused, as a real guest does.
const heapBase = 1024

// Sandbox is a fake guest instance. It is not safe for concurrent use.
type Sandbox struct {
	// Dispatcher serves udf calls. Required unless Handler is set.
	Dispatcher *guest.Dispatcher

	// Handler replaces the dispatcher for protocol-violation tests. It may
	// use GuestAlloc and Put to lay out arbitrary results.
	Handler func(s *Sandbox, addr, length uint32) (uint32, error)

	// MallocResult, when set, is consulted before allocating. Returning
	// ok=true makes malloc report addr without recording an allocation.
	MallocResult func(size, align uint32) (addr uint32, ok bool)

	// Trap makes the named export fault: "malloc", "free", "udf" or "udf_error".
	Trap string

	// Declared is the convention the fake reports through Convention.
	Declared *entities.Convention

	mem        []byte
	live       map[uint32]entities.Allocation
	violations []string
	released   []entities.Allocation
	next       uint32
	lastError  uint32
	mallocs    int
	frees      int
	closed     bool
}

// New creates a fake with pages of 64KiB linear memory serving d.
func New(d *guest.Dispatcher, pages int) *Sandbox {
	if pages <= 0 {
		pages = 1
	}
	return &Sandbox{
		Dispatcher: d,
		mem:        make([]byte, pages*65536),
		live:       make(map[uint32]entities.Allocation),
		next:       heapBase,
	}
}

// Malloc implements ports.Sandbox.
func (s *Sandbox) Malloc(_ context.Context, size, align uint32) (uint32, error) {
	if err := s.check("malloc"); err != nil {
		return 0, err
	}
	if s.MallocResult != nil {
		if addr, ok := s.MallocResult(size, align); ok {
			s.mallocs++
			return addr, nil
		}
	}
	return s.GuestAlloc(size, align)
}

// GuestAlloc allocates as the guest allocator would and records the
// allocation as live.
func (s *Sandbox) GuestAlloc(size, align uint32) (uint32, error) {
	if align == 0 || align&(align-1) != 0 {
		return 0, s.trap("malloc", fmt.Errorf("alignment %d is not a power of two", align))
	}
	addr := (s.next + align - 1) &^ (align - 1)
	end := uint64(addr) + uint64(size)
	if end > uint64(len(s.mem)) {
		return 0, s.trap("malloc", fmt.Errorf("out of memory allocating %d bytes", size))
	}
	s.next = uint32(end)
	if size == 0 {
		s.next++
	}
	s.live[addr] = entities.Allocation{Addr: addr, Size: size, Align: align}
	s.mallocs++
	return addr, nil
}

// Free implements ports.Sandbox. A release that does not match a live
// allocation exactly is recorded as a violation and traps.
func (s *Sandbox) Free(_ context.Context, addr, size, align uint32) error {
	if err := s.check("free"); err != nil {
		return err
	}
	a, ok := s.live[addr]
	want := entities.Allocation{Addr: addr, Size: size, Align: align}
	if !ok || a != want {
		v := fmt.Sprintf("free%s does not match a live allocation", want)
		s.violations = append(s.violations, v)
		return s.trap("free", errors.New(v))
	}
	delete(s.live, addr)
	s.released = append(s.released, a)
	s.frees++
	// Scribble over released memory so stale reads are visible.
	for i := range a.Size {
		s.mem[a.Addr+i] = 0xdd
	}
	if len(s.live) == 0 {
		s.next = heapBase
	}
	return nil
}

// Call implements ports.Sandbox.
func (s *Sandbox) Call(_ context.Context, addr, length uint32) (uint32, error) {
	if err := s.check("udf"); err != nil {
		return 0, err
	}
	if s.Handler != nil {
		return s.Handler(s, addr, length)
	}

	input, ok := s.Read(addr, length)
	if !ok {
		return 0, s.trap("udf", fmt.Errorf("input [0x%x, +%d) out of bounds", addr, length))
	}
	out, err := s.Dispatcher.Handle(input)
	if err != nil {
		if s.Dispatcher.Scalar != nil {
			return 0, s.trap("udf", err)
		}
		s.lastError, err = s.ExportDescriptor(guest.ErrorMessage(err))
		return 0, err
	}
	if s.Dispatcher.Scalar != nil {
		return out.Scalar, nil
	}
	return s.ExportDescriptor(out.Output)
}

// ExportDescriptor places data and a descriptor naming it in guest memory,
// as the guest SDK does, and returns the descriptor address.
func (s *Sandbox) ExportDescriptor(data []byte) (uint32, error) {
	buf, err := s.GuestAlloc(uint32(len(data)), entities.BufferAlign) //nolint:gosec // test sizes
	if err != nil {
		return 0, err
	}
	s.Put(buf, data)
	desc := entities.ResultDescriptor{Addr: int32(buf), Length: int32(len(data))} //nolint:gosec // test sizes
	return s.PutDescriptor(desc)
}

// PutDescriptor allocates a descriptor slot and writes d into it.
func (s *Sandbox) PutDescriptor(d entities.ResultDescriptor) (uint32, error) {
	addr, err := s.GuestAlloc(entities.DescriptorSize, entities.DescriptorAlign)
	if err != nil {
		return 0, err
	}
	s.Put(addr, d.Encode())
	return addr, nil
}

// Put writes data at addr without bounds reporting.
func (s *Sandbox) Put(addr uint32, data []byte) {
	copy(s.mem[addr:], data)
}

// LastError implements ports.Sandbox.
func (s *Sandbox) LastError(_ context.Context) (uint32, error) {
	if err := s.check("udf_error"); err != nil {
		return 0, err
	}
	addr := s.lastError
	s.lastError = 0
	return addr, nil
}

// SetLastError makes the next LastError call report addr.
func (s *Sandbox) SetLastError(addr uint32) { s.lastError = addr }

// Read implements ports.Sandbox.
func (s *Sandbox) Read(addr, length uint32) ([]byte, bool) {
	if uint64(addr)+uint64(length) > uint64(len(s.mem)) {
		return nil, false
	}
	out := make([]byte, length)
	copy(out, s.mem[addr:])
	return out, true
}

// Write implements ports.Sandbox.
func (s *Sandbox) Write(addr uint32, data []byte) bool {
	if uint64(addr)+uint64(len(data)) > uint64(len(s.mem)) {
		return false
	}
	copy(s.mem[addr:], data)
	return true
}

// MemorySize implements ports.Sandbox.
func (s *Sandbox) MemorySize() uint32 {
	return uint32(len(s.mem)) //nolint:gosec // at most a few pages
}

// Convention implements ports.Sandbox.
func (s *Sandbox) Convention() (entities.Convention, bool) {
	if s.Declared == nil {
		return 0, false
	}
	return *s.Declared, true
}

// Close implements ports.Sandbox.
func (s *Sandbox) Close(_ context.Context) error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Sandbox) Closed() bool { return s.closed }

// Live returns the guest-side view of outstanding allocations, by address.
func (s *Sandbox) Live() []entities.Allocation {
	out := make([]entities.Allocation, 0, len(s.live))
	for _, a := range s.live {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Mallocs returns the number of successful allocate calls.
func (s *Sandbox) Mallocs() int { return s.mallocs }

// Frees returns the number of successful release calls.
func (s *Sandbox) Frees() int { return s.frees }

// Released returns every successful release in call order.
func (s *Sandbox) Released() []entities.Allocation { return s.released }

// Violations returns every release that did not match an allocation.
func (s *Sandbox) Violations() []string { return s.violations }

func (s *Sandbox) check(export string) error {
	if s.closed {
		return &domainerrors.GuestFaultError{Export: export, Err: errors.New("sandboxtest: module closed")}
	}
	if s.Trap == export {
		return s.trap(export, ErrTrap)
	}
	return nil
}

func (s *Sandbox) trap(export string, err error) error {
	return &domainerrors.GuestFaultError{Export: export, Err: err}
}
