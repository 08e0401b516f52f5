// Package guest is the SDK for writing columnar UDFs that run inside the
// WebAssembly sandbox.
//
// A UDF is an ordinary Go function over decoded record batches. Register
// installs it; when the package is compiled for wasip1 it exports udf,
// udf_convention and udf_error, and internal/abi exports malloc and free.
//
//	//go:build wasip1
//
//	package main
//
//	import "github.com/reglet-dev/wasmudf/guest"
//
//	func init() {
//	    guest.Register(guest.NewSum(nil))
//	}
//
//	func main() {}
//
// Build with:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o adder.wasm .
//
// A UDF that returns an error under the descriptor convention makes udf
// return 0; the host then collects the message through udf_error. Scalar
// UDFs have no error channel, so an error traps the guest instead.
package guest
