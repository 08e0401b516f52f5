// Package host runs columnar UDFs compiled to WebAssembly.
//
// An Executor owns the sandbox engine. LoadUDF turns a guest binary into a
// UDFInstance, which drives the calling protocol: the input batch is copied
// into a guest allocation, the guest's udf export runs, and the result is
// either a scalar or a Result Descriptor naming an output buffer the host
// copies out. Every guest allocation made for an invocation is released
// exactly once before the invocation returns, in reverse order of
// acquisition.
//
// Addresses reported by the guest are validated before use. A descriptor
// or buffer that is null, misaligned, out of bounds or overlaps memory the
// host already owns is a protocol violation and is never released.
//
// A trap, exit or watchdog timeout inside the guest poisons the instance:
// its outstanding allocations are abandoned and every later call fails with
// errors.ErrInstanceUnusable.
//
//	exec, err := host.NewExecutor(ctx)
//	if err != nil {
//	    return err
//	}
//	defer exec.Close(ctx)
//
//	udf, err := exec.LoadUDF(ctx, wasm, host.WithCallTimeout(time.Second))
//	if err != nil {
//	    return err
//	}
//	sum, err := udf.Sum(ctx, 2, 2)
package host
