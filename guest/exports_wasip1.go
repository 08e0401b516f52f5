//go:build wasip1

package guest

import (
	"fmt"
	"log/slog"

	"github.com/reglet-dev/wasmudf/internal/abi"
	"github.com/reglet-dev/wasmudf/internal/wasmcontext"
)

// lastError is the descriptor address of the message for the most recent
// failed call, or 0.
var lastError uint32

// udf is the entry point the host calls with an encoded input batch.
//
//go:wasmexport udf
func udf(addr, length uint32) uint32 {
	ctx, end := wasmcontext.BeginCall()
	defer end()

	d := Current()
	out, err := d.Handle(abi.BytesAt(addr, length))
	if err != nil {
		slog.ErrorContext(ctx, "udf failed", "error", err)
		if d.Scalar != nil {
			// No error channel exists for scalar results.
			panic(fmt.Sprintf("udf: %v", err))
		}
		lastError = abi.ExportDescriptor(ErrorMessage(err))
		return 0
	}
	if d.Scalar != nil {
		return out.Scalar
	}
	return abi.ExportDescriptor(out.Output)
}

// udfConvention declares the calling convention of the registered UDF.
//
//go:wasmexport udf_convention
func udfConvention() int32 {
	return int32(Current().Convention())
}

// udfError hands the host the descriptor of the last error message. The
// host releases it; a second call returns 0.
//
//go:wasmexport udf_error
func udfError() uint32 {
	addr := lastError
	lastError = 0
	return addr
}
