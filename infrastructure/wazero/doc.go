// Package wazero implements the sandbox port on top of the wazero runtime.
//
// An Engine owns one wazero runtime with WASI preview 1 and the udf_host
// module instantiated. Guest binaries are compiled once, checked against the
// export contract, and then instantiated any number of times; each instance
// is a Sandbox with its own linear memory and allocator state.
//
// # Basic Usage
//
//	engine, err := wazero.NewEngine(ctx,
//	    wazero.WithMemoryLimitPages(256),
//	)
//	if err != nil {
//	    return err
//	}
//	defer engine.Close(ctx)
//
//	module, err := engine.Compile(ctx, wasmBytes)
//	if err != nil {
//	    return err // *errors.LoadError
//	}
//
//	sandbox, err := module.Instantiate(ctx, "adder-0")
//
// # Export Contract
//
// Guests must export memory "memory" and
//
//	malloc(size, align i32) -> i32
//	free(addr, size, align i32)
//	udf(addr, len i32) -> i32
//
// and may export udf_convention() -> i32, udf_error() -> i32 and _initialize().
// Anything else is rejected at compile time with a LoadError.
//
// # Faults
//
// Traps, proc_exit and watchdog expiry surface as *errors.GuestFaultError.
// The runtime closes a module whose context expires, so a timed-out
// Sandbox is unusable afterwards.
package wazero
