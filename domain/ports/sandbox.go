package ports

import (
	"context"

	"github.com/reglet-dev/wasmudf/domain/entities"
)

// Sandbox is the capability set of one instantiated guest module: its
// allocator contract, its UDF entry point and raw access to its linear
// memory. Every method is a blocking call; implementations are not safe for
// concurrent use and one Sandbox is never shared between instances.
//
// Guest traps surface as *errors.GuestFaultError. After a fault the
// Sandbox must not be called again except for Close.
type Sandbox interface {
	// Malloc calls the guest allocator. The returned address is untrusted
	// until the caller has validated it.
	Malloc(ctx context.Context, size, align uint32) (uint32, error)

	// Free calls the guest release function with a triple previously
	// obtained from Malloc or reported by the guest.
	Free(ctx context.Context, addr, size, align uint32) error

	// Call invokes the UDF entry point on the buffer at [addr, addr+length)
	// and returns its raw result handle.
	Call(ctx context.Context, addr, length uint32) (uint32, error)

	// LastError asks the guest for the descriptor address of its last error
	// message. It returns 0 when the guest has no error channel or nothing
	// to report.
	LastError(ctx context.Context) (uint32, error)

	// Read copies length bytes starting at addr out of linear memory.
	// ok is false if the range is out of bounds.
	Read(addr, length uint32) (data []byte, ok bool)

	// Write copies data into linear memory at addr. It returns false if the
	// range is out of bounds.
	Write(addr uint32, data []byte) bool

	// MemorySize is the current size of linear memory in bytes.
	MemorySize() uint32

	// Convention returns the calling convention the guest declares, if any.
	Convention() (entities.Convention, bool)

	// Close releases the instance and everything it owns.
	Close(ctx context.Context) error
}
