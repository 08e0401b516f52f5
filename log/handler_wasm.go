//go:build wasip1

package log

import (
	"log/slog"

	"github.com/reglet-dev/wasmudf/internal/abi"
)

// Define the host function signature for logging messages.
//
//go:wasmimport udf_host log_message
//nolint:revive // intentional snake_case to match WASM import convention
func host_log_message(ptr, length uint32)

// sendToHost passes an encoded record to the host. The bytes stay owned by
// the guest; the host copies them during the call.
func sendToHost(record []byte) {
	abi.WithBytes(record, host_log_message)
}

// init configures the default slog handler to use our WasmLogHandler.
func init() {
	slog.SetDefault(slog.New(NewHandler()))
}
