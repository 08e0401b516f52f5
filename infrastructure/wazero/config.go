package wazero

import (
	"io"
	"os"
)

// EngineConfig holds configuration for the wazero engine.
type EngineConfig struct {
	// Stdout receives guest standard output. Default is os.Stderr so guest
	// prints never mix with host results.
	Stdout io.Writer

	// Stderr receives guest standard error. Default is os.Stderr.
	Stderr io.Writer

	// HostModuleName is the import module guests use for host functions
	// (default: "udf_host").
	HostModuleName string

	// MemoryLimitPages caps each guest's linear memory in 64KiB pages.
	// Zero keeps the wazero default (65536 pages).
	MemoryLimitPages uint32

	// MaxLogMessageSize limits the size of a guest log record read from
	// guest memory. Default is 64KiB.
	MaxLogMessageSize uint32

	// Compile selects the optimizing compiler over the interpreter.
	// Default is true; the interpreter is used where the compiler is
	// unsupported regardless.
	Compile bool
}

// EngineOption configures the engine.
type EngineOption func(*EngineConfig)

// WithHostModuleName sets the host module name (default: "udf_host").
func WithHostModuleName(name string) EngineOption {
	return func(c *EngineConfig) {
		c.HostModuleName = name
	}
}

// WithMemoryLimitPages caps guest linear memory.
func WithMemoryLimitPages(pages uint32) EngineOption {
	return func(c *EngineConfig) {
		c.MemoryLimitPages = pages
	}
}

// WithMaxLogMessageSize sets the maximum guest log record size.
func WithMaxLogMessageSize(size uint32) EngineOption {
	return func(c *EngineConfig) {
		c.MaxLogMessageSize = size
	}
}

// WithGuestOutput redirects guest stdout and stderr.
func WithGuestOutput(stdout, stderr io.Writer) EngineOption {
	return func(c *EngineConfig) {
		c.Stdout = stdout
		c.Stderr = stderr
	}
}

// WithInterpreter selects the interpreter instead of the compiler.
func WithInterpreter() EngineOption {
	return func(c *EngineConfig) {
		c.Compile = false
	}
}

// defaultEngineConfig returns the default engine configuration.
func defaultEngineConfig() EngineConfig {
	return EngineConfig{
		Stdout:            os.Stderr,
		Stderr:            os.Stderr,
		HostModuleName:    "udf_host",
		MaxLogMessageSize: 64 * 1024,
		Compile:           true,
	}
}
