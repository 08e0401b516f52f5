// Package errors provides the typed failure taxonomy of a UDF invocation.
// All error types support error unwrapping via errors.As() and errors.Is().
package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/reglet-dev/wasmudf/domain/entities"
)

// Kind classifies a failure by what it invalidates.
type Kind string

const (
	// KindNone is returned by KindOf for a nil error.
	KindNone Kind = ""

	// KindLoad means the module cannot be used at all.
	KindLoad Kind = "load"

	// KindAllocation means the guest allocator or a host write/read broke the
	// allocator contract. Fatal for the invocation.
	KindAllocation Kind = "allocation"

	// KindProtocol means the guest reported memory the host does not trust.
	// Fatal for the invocation.
	KindProtocol Kind = "protocol"

	// KindGuestFault means the guest trapped, exited or timed out. The
	// sandbox instance is unusable afterwards.
	KindGuestFault Kind = "guest_fault"

	// KindGuest means the guest reported a failure through its error
	// channel. Only the current invocation is affected.
	KindGuest Kind = "guest"

	// KindDecode means the output bytes are not the expected record batch.
	// Only the current invocation is affected.
	KindDecode Kind = "decode"

	// KindConfig means the run configuration is invalid.
	KindConfig Kind = "config"

	// KindInternal covers everything else.
	KindInternal Kind = "internal"
)

// Process exit codes, one per failure kind.
const (
	ExitOK         = 0
	ExitUsage      = 1
	ExitLoad       = 2
	ExitProtocol   = 3
	ExitDecode     = 4
	ExitGuestFault = 5
	ExitGuest      = 6
)

// ErrInstanceUnusable is returned for any call against a sandbox instance
// that previously faulted.
var ErrInstanceUnusable = stdErrors.New("sandbox instance is unusable after a guest fault")

// DetailedError is an interface for custom error types that can convert themselves
// to a structured ErrorDetail.
type DetailedError interface {
	error
	Kind() Kind
	ToErrorDetail() *entities.ErrorDetail
}

// LoadError reports a module that cannot be instantiated or that does not
// satisfy the export contract.
type LoadError struct {
	Err    error
	Export string // Offending export, if any
}

func (e *LoadError) Error() string {
	if e.Export != "" {
		return fmt.Sprintf("load failed: export %q: %v", e.Export, e.Err)
	}
	return fmt.Sprintf("load failed: %v", e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Kind implements DetailedError.
func (e *LoadError) Kind() Kind { return KindLoad }

// ToErrorDetail implements DetailedError.
func (e *LoadError) ToErrorDetail() *entities.ErrorDetail {
	return detail(e, e.Export)
}

// AllocationError reports an allocate result the host refuses to use, or a
// host write/read outside guest memory.
type AllocationError struct {
	Err        error
	Allocation entities.Allocation
	Operation  string // "allocate", "write", "read" or "release"
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("guest %s %s failed: %v", e.Operation, e.Allocation, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// Kind implements DetailedError.
func (e *AllocationError) Kind() Kind { return KindAllocation }

// ToErrorDetail implements DetailedError.
func (e *AllocationError) ToErrorDetail() *entities.ErrorDetail {
	return detail(e, e.Operation)
}

// ProtocolError reports guest-originated addresses the host does not trust.
// The named memory is never released.
type ProtocolError struct {
	Err    error
	Handle uint32 // Raw UDF return value
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation (handle 0x%x): %v", e.Handle, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Kind implements DetailedError.
func (e *ProtocolError) Kind() Kind { return KindProtocol }

// ToErrorDetail implements DetailedError.
func (e *ProtocolError) ToErrorDetail() *entities.ErrorDetail {
	return detail(e, "untrusted_address")
}

// GuestFaultError reports a trap, exit or watchdog timeout inside a guest
// export call.
type GuestFaultError struct {
	Err     error
	Export  string
	Timeout bool
}

func (e *GuestFaultError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("guest %s timed out: %v", e.Export, e.Err)
	}
	return fmt.Sprintf("guest %s faulted: %v", e.Export, e.Err)
}

func (e *GuestFaultError) Unwrap() error { return e.Err }

// Kind implements DetailedError.
func (e *GuestFaultError) Kind() Kind { return KindGuestFault }

// ToErrorDetail implements DetailedError.
func (e *GuestFaultError) ToErrorDetail() *entities.ErrorDetail {
	d := detail(e, e.Export)
	d.IsTimeout = e.Timeout
	return d
}

// GuestError is a failure the guest reported through the error channel.
type GuestError struct {
	Message string
}

func (e *GuestError) Error() string {
	if e.Message == "" {
		return "udf reported failure"
	}
	return "udf reported failure: " + e.Message
}

// Kind implements DetailedError.
func (e *GuestError) Kind() Kind { return KindGuest }

// ToErrorDetail implements DetailedError.
func (e *GuestError) ToErrorDetail() *entities.ErrorDetail {
	return detail(e, "")
}

// DecodeError reports output bytes that are not a valid record batch of the
// expected shape.
type DecodeError struct {
	Err    error
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "decode failed: " + e.Reason
	}
	if e.Reason != "" {
		return fmt.Sprintf("decode failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode failed: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Kind implements DetailedError.
func (e *DecodeError) Kind() Kind { return KindDecode }

// ToErrorDetail implements DetailedError.
func (e *DecodeError) ToErrorDetail() *entities.ErrorDetail {
	return detail(e, "")
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Err   error
	Field string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config validation failed for field '%s': %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Kind implements DetailedError.
func (e *ConfigError) Kind() Kind { return KindConfig }

// ToErrorDetail implements DetailedError.
func (e *ConfigError) ToErrorDetail() *entities.ErrorDetail {
	return detail(e, e.Field)
}

func detail(e DetailedError, code string) *entities.ErrorDetail {
	d := entities.NewErrorDetail(string(e.Kind()), e.Error()).WithCode(code)
	d.ExitCode = ExitCodeForKind(e.Kind())
	return d
}

// KindOf classifies err. The first DetailedError found in the chain wins;
// ErrInstanceUnusable counts as a guest fault.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var de DetailedError
	if stdErrors.As(err, &de) {
		return de.Kind()
	}
	if stdErrors.Is(err, ErrInstanceUnusable) {
		return KindGuestFault
	}
	return KindInternal
}

// ExitCodeForKind maps a failure kind to a process exit code.
func ExitCodeForKind(k Kind) int {
	switch k {
	case KindNone:
		return ExitOK
	case KindLoad:
		return ExitLoad
	case KindAllocation, KindProtocol:
		return ExitProtocol
	case KindDecode:
		return ExitDecode
	case KindGuestFault:
		return ExitGuestFault
	case KindGuest:
		return ExitGuest
	default:
		return ExitUsage
	}
}

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	return ExitCodeForKind(KindOf(err))
}

// ToErrorDetail converts a Go error to our structured ErrorDetail.
func ToErrorDetail(err error) *entities.ErrorDetail {
	if err == nil {
		return nil
	}

	var de DetailedError
	if stdErrors.As(err, &de) {
		d := de.ToErrorDetail()
		d.Message = err.Error()
		return d
	}

	d := entities.NewErrorDetail(string(KindOf(err)), err.Error())
	d.ExitCode = ExitCode(err)
	return d
}
