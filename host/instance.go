package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/multierr"

	"github.com/reglet-dev/wasmudf/domain/entities"
	domainerrors "github.com/reglet-dev/wasmudf/domain/errors"
	"github.com/reglet-dev/wasmudf/domain/ports"
	"github.com/reglet-dev/wasmudf/infrastructure/arrowipc"
)

var errEmptyInput = errors.New("input batch is empty")

// UDFInstance drives the UDF protocol against one sandbox. Invocations are
// serialized; an instance may be shared between goroutines but never runs
// two calls at once.
type UDFInstance struct {
	sandbox    ports.Sandbox
	alloc      *allocator
	fault      error
	cfg        instanceConfig
	calls      uint64
	convention entities.Convention
	mu         sync.Mutex
}

// NewInstance wraps an instantiated sandbox. The effective calling
// convention is resolved once here.
func NewInstance(sandbox ports.Sandbox, opts ...InstanceOption) (*UDFInstance, error) {
	cfg := defaultInstanceConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.codec == nil {
		cfg.codec = arrowipc.NewCodec()
	}

	conv, err := resolveConvention(cfg.convention, sandbox)
	if err != nil {
		return nil, err
	}

	return &UDFInstance{
		sandbox:    sandbox,
		alloc:      newAllocator(sandbox),
		cfg:        cfg,
		convention: conv,
	}, nil
}

func resolveConvention(configured entities.Convention, sandbox ports.Sandbox) (entities.Convention, error) {
	declared, ok := sandbox.Convention()
	switch {
	case ok && configured != entities.ConventionAuto && configured != declared:
		return 0, &domainerrors.LoadError{
			Export: "udf_convention",
			Err:    fmt.Errorf("guest declares %s convention, configured %s", declared, configured),
		}
	case ok:
		return declared, nil
	case configured == entities.ConventionAuto:
		return entities.ConventionDescriptor, nil
	case !configured.Valid():
		return 0, &domainerrors.ConfigError{Field: "convention", Err: fmt.Errorf("unknown convention %d", configured)}
	default:
		return configured, nil
	}
}

// Name returns the instance name.
func (u *UDFInstance) Name() string { return u.cfg.name }

// Convention returns the effective calling convention.
func (u *UDFInstance) Convention() entities.Convention { return u.convention }

// Outstanding reports the number and total size of guest allocations the
// host currently holds. Between invocations both are zero unless the
// instance faulted.
func (u *UDFInstance) Outstanding() (count int, bytes uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.alloc.ledger.outstanding()
}

// Usable reports whether the instance can still be called.
func (u *UDFInstance) Usable() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.fault == nil
}

// Call runs the UDF on an encoded input batch. Every allocation made for
// the call is released before Call returns, except after a guest fault,
// when they are abandoned with the instance.
func (u *UDFInstance) Call(ctx context.Context, input []byte) (entities.UDFResult, error) {
	return u.call(ctx, input, nil)
}

// call is Call with an optional decode step that runs on the copied-out
// result before the guest allocations are released, so a decode failure
// counts as a failed invocation.
func (u *UDFInstance) call(ctx context.Context, input []byte, decode func(entities.UDFResult) error) (entities.UDFResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.fault != nil {
		return entities.UDFResult{}, fmt.Errorf("instance %s: %w", u.cfg.name, domainerrors.ErrInstanceUnusable)
	}

	start := time.Now()
	u.calls++
	if u.cfg.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.cfg.callTimeout)
		defer cancel()
	}

	sc := newScope(u.alloc)
	res, err := u.invoke(ctx, sc, input)
	if err == nil && decode != nil {
		err = decode(res)
	}
	faulted := domainerrors.KindOf(err) == domainerrors.KindGuestFault
	if !faulted {
		closeErr := sc.close(ctx)
		if domainerrors.KindOf(closeErr) == domainerrors.KindGuestFault {
			// The fault leads so the invocation is classified by it.
			faulted = true
			err = multierr.Append(closeErr, err)
		} else {
			err = multierr.Append(err, closeErr)
		}
	}
	if faulted {
		u.poison(ctx, err)
	}

	elapsed := time.Since(start)
	u.cfg.metrics.ObserveInvocation(string(domainerrors.KindOf(err)), elapsed)
	_, outstanding := u.alloc.ledger.outstanding()
	u.cfg.metrics.SetOutstanding(u.cfg.name, outstanding)

	if err != nil {
		slog.DebugContext(ctx, "udf: invocation failed", "instance", u.cfg.name, "call", u.calls, "error", err)
		return entities.UDFResult{}, err
	}
	res.Duration = elapsed
	return res, nil
}

// invoke performs one protocol round trip. Everything it acquires or adopts
// is owned by sc.
func (u *UDFInstance) invoke(ctx context.Context, sc *scope, input []byte) (entities.UDFResult, error) {
	if len(input) == 0 {
		return entities.UDFResult{}, &domainerrors.AllocationError{Err: errEmptyInput, Operation: "allocate"}
	}
	size := uint32(len(input)) //nolint:gosec // G115: bounded by guest memory, checked by the ledger

	in, err := sc.acquire(ctx, size, entities.BufferAlign)
	if err != nil {
		return entities.UDFResult{}, err
	}
	if !u.sandbox.Write(in.Addr(), input) {
		return entities.UDFResult{}, &domainerrors.AllocationError{
			Err: errors.New("write out of bounds"), Allocation: in.Allocation(), Operation: "write",
		}
	}

	handle, err := u.sandbox.Call(ctx, in.Addr(), in.Size())
	if err != nil {
		return entities.UDFResult{}, err
	}

	if u.convention == entities.ConventionScalar {
		return entities.ScalarResult(handle), nil
	}
	if handle == 0 {
		return entities.UDFResult{}, u.guestError(ctx, sc)
	}
	out, err := u.readDescriptor(sc, handle)
	if err != nil {
		return entities.UDFResult{}, err
	}
	return entities.DescriptorResult(out), nil
}

// readDescriptor adopts the descriptor at addr and the buffer it names and
// returns a copy of the buffer. Ranges the ledger refuses are reported as
// protocol violations and never released.
func (u *UDFInstance) readDescriptor(sc *scope, addr uint32) ([]byte, error) {
	if _, err := sc.adopt(entities.DescriptorAllocation(addr)); err != nil {
		return nil, &domainerrors.ProtocolError{Handle: addr, Err: fmt.Errorf("descriptor: %w", err)}
	}
	raw, ok := u.sandbox.Read(addr, entities.DescriptorSize)
	if !ok {
		return nil, &domainerrors.ProtocolError{Handle: addr, Err: errors.New("descriptor unreadable")}
	}
	desc, err := entities.DecodeDescriptor(raw)
	if err != nil {
		return nil, &domainerrors.ProtocolError{Handle: addr, Err: err}
	}
	buf, err := desc.Buffer(u.sandbox.MemorySize())
	if err != nil {
		return nil, &domainerrors.ProtocolError{Handle: addr, Err: err}
	}
	if _, err := sc.adopt(buf); err != nil {
		return nil, &domainerrors.ProtocolError{Handle: addr, Err: fmt.Errorf("output buffer: %w", err)}
	}
	out, ok := u.sandbox.Read(buf.Addr, buf.Size)
	if !ok {
		return nil, &domainerrors.ProtocolError{Handle: addr, Err: errors.New("output buffer unreadable")}
	}
	return out, nil
}

// guestError collects the message behind a failure sentinel.
func (u *UDFInstance) guestError(ctx context.Context, sc *scope) error {
	addr, err := u.sandbox.LastError(ctx)
	if err != nil {
		return err
	}
	if addr == 0 {
		return &domainerrors.GuestError{}
	}
	msg, err := u.readDescriptor(sc, addr)
	if err != nil {
		return err
	}

	var structured entities.GuestErrorMessage
	if json.Unmarshal(msg, &structured) == nil && structured.Message != "" {
		if structured.Kind == string(domainerrors.KindDecode) {
			return &domainerrors.DecodeError{Reason: "guest: " + structured.Message}
		}
		return &domainerrors.GuestError{Message: structured.Message}
	}
	return &domainerrors.GuestError{Message: string(msg)}
}

// poison marks the instance unusable and abandons its allocations.
func (u *UDFInstance) poison(ctx context.Context, cause error) {
	u.fault = cause
	abandoned := u.alloc.ledger.abandon()
	u.cfg.metrics.Abandon(len(abandoned))
	slog.WarnContext(ctx, "udf: guest fault, instance abandoned",
		"instance", u.cfg.name, "abandoned", len(abandoned), "error", cause)
}

// Sum runs the reference two-operand UDF and returns v1+v2 as computed by
// the guest.
func (u *UDFInstance) Sum(ctx context.Context, v1, v2 uint32) (uint32, error) {
	input, err := u.cfg.codec.EncodeOperands(v1, v2)
	if err != nil {
		return 0, fmt.Errorf("encode operands: %w", err)
	}
	var sum uint32
	_, err = u.call(ctx, input, func(res entities.UDFResult) error {
		if res.IsScalar() {
			sum = res.Scalar
			return nil
		}
		var decErr error
		sum, decErr = u.cfg.codec.DecodeSum(res.Output)
		return decErr
	})
	if err != nil {
		return 0, err
	}
	return sum, nil
}

// Process runs rec through a descriptor-convention UDF and returns the
// decoded output batches. Callers release the returned records.
func (u *UDFInstance) Process(ctx context.Context, rec arrow.Record) ([]arrow.Record, error) {
	if u.convention != entities.ConventionDescriptor {
		return nil, &domainerrors.ConfigError{Field: "convention", Err: errors.New("batch output requires the descriptor convention")}
	}
	input, err := u.cfg.codec.Encode(rec)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	var out []arrow.Record
	_, err = u.call(ctx, input, func(res entities.UDFResult) error {
		var decErr error
		out, decErr = u.cfg.codec.Decode(res.Output)
		return decErr
	})
	if err != nil {
		arrowipc.ReleaseAll(out)
		return nil, err
	}
	return out, nil
}

// Close closes the sandbox. Allocations still outstanding go with it.
func (u *UDFInstance) Close(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cfg.metrics.Forget(u.cfg.name)
	return u.sandbox.Close(ctx)
}
