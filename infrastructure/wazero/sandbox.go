package wazero

import (
	"bytes"
	"context"
	"errors"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/reglet-dev/wasmudf/domain/entities"
	domainerrors "github.com/reglet-dev/wasmudf/domain/errors"
	"github.com/reglet-dev/wasmudf/domain/ports"
)

var _ ports.Sandbox = (*Sandbox)(nil)

// Sandbox is one instantiated guest module. It is not safe for concurrent
// use; callers serialize access.
type Sandbox struct {
	mod        api.Module
	name       string
	malloc     api.Function
	free       api.Function
	udf        api.Function
	lastError  api.Function // nil if the guest has no error channel
	convention entities.Convention
	declared   bool
}

func newSandbox(mod api.Module, name string) *Sandbox {
	return &Sandbox{
		mod:       mod,
		name:      name,
		malloc:    mod.ExportedFunction(ExportMalloc),
		free:      mod.ExportedFunction(ExportFree),
		udf:       mod.ExportedFunction(ExportUDF),
		lastError: mod.ExportedFunction(ExportLastError),
	}
}

// Name returns the unique instance name.
func (s *Sandbox) Name() string { return s.name }

// Malloc implements ports.Sandbox.
func (s *Sandbox) Malloc(ctx context.Context, size, align uint32) (uint32, error) {
	return s.call32(ctx, ExportMalloc, s.malloc, api.EncodeU32(size), api.EncodeU32(align))
}

// Free implements ports.Sandbox.
func (s *Sandbox) Free(ctx context.Context, addr, size, align uint32) error {
	ctx = WithInstanceName(ctx, s.name)
	if _, err := s.free.Call(ctx, api.EncodeU32(addr), api.EncodeU32(size), api.EncodeU32(align)); err != nil {
		return fault(ctx, ExportFree, err)
	}
	return nil
}

// Call implements ports.Sandbox.
func (s *Sandbox) Call(ctx context.Context, addr, length uint32) (uint32, error) {
	return s.call32(ctx, ExportUDF, s.udf, api.EncodeU32(addr), api.EncodeU32(length))
}

// LastError implements ports.Sandbox.
func (s *Sandbox) LastError(ctx context.Context) (uint32, error) {
	if s.lastError == nil {
		return 0, nil
	}
	return s.call32(ctx, ExportLastError, s.lastError)
}

// Read implements ports.Sandbox. The returned slice is a copy; it stays
// valid after the guest memory is released or grown.
func (s *Sandbox) Read(addr, length uint32) ([]byte, bool) {
	view, ok := s.mod.Memory().Read(addr, length)
	if !ok {
		return nil, false
	}
	return bytes.Clone(view), true
}

// Write implements ports.Sandbox.
func (s *Sandbox) Write(addr uint32, data []byte) bool {
	return s.mod.Memory().Write(addr, data)
}

// MemorySize implements ports.Sandbox.
func (s *Sandbox) MemorySize() uint32 {
	return s.mod.Memory().Size()
}

// Convention implements ports.Sandbox.
func (s *Sandbox) Convention() (entities.Convention, bool) {
	return s.convention, s.declared
}

// Close implements ports.Sandbox.
func (s *Sandbox) Close(ctx context.Context) error {
	return s.mod.Close(ctx)
}

func (s *Sandbox) call32(ctx context.Context, export string, fn api.Function, params ...uint64) (uint32, error) {
	ctx = WithInstanceName(ctx, s.name)
	res, err := fn.Call(ctx, params...)
	if err != nil {
		return 0, fault(ctx, export, err)
	}
	return api.DecodeU32(res[0]), nil
}

// fault converts an error out of a guest call into a GuestFaultError,
// flagging watchdog expiry.
func fault(ctx context.Context, export string, err error) error {
	timeout := errors.Is(ctx.Err(), context.DeadlineExceeded)
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == sys.ExitCodeDeadlineExceeded {
		timeout = true
	}
	return &domainerrors.GuestFaultError{Err: err, Export: export, Timeout: timeout}
}

// ExportedGlobal reads an exported i32 global. Guests may expose allocator
// counters this way for diagnostics.
func (s *Sandbox) ExportedGlobal(name string) (uint32, bool) {
	g := s.mod.ExportedGlobal(name)
	if g == nil {
		return 0, false
	}
	return api.DecodeU32(g.Get()), true
}
