package host

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/multierr"

	"github.com/reglet-dev/wasmudf/domain/entities"
	domainerrors "github.com/reglet-dev/wasmudf/domain/errors"
	"github.com/reglet-dev/wasmudf/domain/ports"
)

var errDoubleRelease = errors.New("pointer already released")

// Pointer is a guest allocation the host is responsible for releasing.
// Pointers are only created by the allocator, either for memory the host
// requested or for memory a guest reported and the ledger accepted.
type Pointer struct {
	alloc    entities.Allocation
	released bool
}

// Addr returns the guest address.
func (p *Pointer) Addr() uint32 { return p.alloc.Addr }

// Size returns the allocation size in bytes.
func (p *Pointer) Size() uint32 { return p.alloc.Size }

// Allocation returns the (address, size, alignment) triple used to release p.
func (p *Pointer) Allocation() entities.Allocation { return p.alloc }

// ledger tracks live allocations of one instance by address.
type ledger struct {
	live  map[uint32]entities.Allocation
	bytes uint64
}

func newLedger() *ledger {
	return &ledger{live: make(map[uint32]entities.Allocation)}
}

// admit validates a and records it. Null, misaligned, out of bounds and
// overlapping ranges are refused.
func (l *ledger) admit(a entities.Allocation, memSize uint32) error {
	if err := a.Validate(memSize); err != nil {
		return err
	}
	for _, other := range l.live {
		if a.Overlaps(other) {
			return fmt.Errorf("range %s overlaps live allocation %s", a, other)
		}
	}
	if _, dup := l.live[a.Addr]; dup {
		return fmt.Errorf("address 0x%x is already live", a.Addr)
	}
	l.live[a.Addr] = a
	l.bytes += uint64(a.Size)
	return nil
}

func (l *ledger) remove(a entities.Allocation) {
	if _, ok := l.live[a.Addr]; !ok {
		return
	}
	delete(l.live, a.Addr)
	l.bytes -= uint64(a.Size)
}

func (l *ledger) outstanding() (int, uint64) {
	return len(l.live), l.bytes
}

// abandon forgets every live allocation and returns them by address.
func (l *ledger) abandon() []entities.Allocation {
	out := make([]entities.Allocation, 0, len(l.live))
	for _, a := range l.live {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b entities.Allocation) int {
		return cmp.Compare(a.Addr, b.Addr)
	})
	clear(l.live)
	l.bytes = 0
	return out
}

// allocator wraps the sandbox allocator contract and is the only
// constructor of Pointers.
type allocator struct {
	sandbox ports.Sandbox
	ledger  *ledger
}

func newAllocator(sandbox ports.Sandbox) *allocator {
	return &allocator{sandbox: sandbox, ledger: newLedger()}
}

// acquire asks the guest for size bytes at align. An address the ledger
// refuses is reported as an AllocationError and is not released: the host
// cannot know what it refers to.
func (a *allocator) acquire(ctx context.Context, size, align uint32) (*Pointer, error) {
	addr, err := a.sandbox.Malloc(ctx, size, align)
	if err != nil {
		return nil, err
	}
	alloc := entities.Allocation{Addr: addr, Size: size, Align: align}
	if err := a.ledger.admit(alloc, a.sandbox.MemorySize()); err != nil {
		return nil, &domainerrors.AllocationError{Err: err, Allocation: alloc, Operation: "allocate"}
	}
	return &Pointer{alloc: alloc}, nil
}

// adopt takes ownership of memory the guest reported.
func (a *allocator) adopt(alloc entities.Allocation) (*Pointer, error) {
	if err := a.ledger.admit(alloc, a.sandbox.MemorySize()); err != nil {
		return nil, err
	}
	return &Pointer{alloc: alloc}, nil
}

// release returns p to the guest with the triple it was created with. A
// faulting release leaves p in the ledger so it is counted as abandoned.
func (a *allocator) release(ctx context.Context, p *Pointer) error {
	if p.released {
		return fmt.Errorf("release %s: %w", p.alloc, errDoubleRelease)
	}
	p.released = true
	if err := a.sandbox.Free(ctx, p.alloc.Addr, p.alloc.Size, p.alloc.Align); err != nil {
		return err
	}
	a.ledger.remove(p.alloc)
	return nil
}

// scope owns the pointers of one invocation and releases each exactly once,
// most recent first, when closed.
type scope struct {
	alloc    *allocator
	pointers []*Pointer
}

func newScope(alloc *allocator) *scope {
	return &scope{alloc: alloc}
}

func (s *scope) acquire(ctx context.Context, size, align uint32) (*Pointer, error) {
	p, err := s.alloc.acquire(ctx, size, align)
	if err != nil {
		return nil, err
	}
	s.pointers = append(s.pointers, p)
	return p, nil
}

func (s *scope) adopt(alloc entities.Allocation) (*Pointer, error) {
	p, err := s.alloc.adopt(alloc)
	if err != nil {
		return nil, err
	}
	s.pointers = append(s.pointers, p)
	return p, nil
}

// close releases every pointer in reverse acquisition order. After a guest
// fault nothing further is released; the remaining pointers stay in the
// ledger for the caller to abandon.
func (s *scope) close(ctx context.Context) error {
	var errs error
	for i := len(s.pointers) - 1; i >= 0; i-- {
		err := s.alloc.release(ctx, s.pointers[i])
		errs = multierr.Append(errs, err)
		if domainerrors.KindOf(err) == domainerrors.KindGuestFault {
			break
		}
	}
	s.pointers = nil
	return errs
}
