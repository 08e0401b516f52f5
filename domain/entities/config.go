package entities

import (
	"time"
)

// RunConfig holds the host-side settings of a UDF run.
// It is loaded from YAML, overridden by CLI flags and validated before use.
type RunConfig struct {
	// Module is the path of the guest WebAssembly module.
	Module string `yaml:"module" json:"module" validate:"required" jsonschema:"required,description=Path to the guest WebAssembly module"`

	// Convention selects how the UDF return value is interpreted.
	Convention string `yaml:"convention,omitempty" json:"convention,omitempty" validate:"omitempty,oneof=auto scalar descriptor" jsonschema:"enum=auto,enum=scalar,enum=descriptor,default=auto"`

	// LogLevel is the logging verbosity level (e.g., "debug", "info", "warn", "error").
	LogLevel string `yaml:"log_level,omitempty" json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`

	// Operands are the two values packed into the input batch.
	Operands [2]uint32 `yaml:"operands" json:"operands" jsonschema:"description=Values of the v1 and v2 input columns"`

	// CallTimeout bounds each guest call. Zero disables the watchdog.
	CallTimeout time.Duration `yaml:"call_timeout,omitempty" json:"call_timeout,omitempty" validate:"gte=0" jsonschema:"type=string,description=Per-call watchdog as a Go duration such as 250ms"`

	// Iterations is the number of invocations to run.
	Iterations int `yaml:"iterations" json:"iterations" validate:"min=1" jsonschema:"minimum=1,default=1"`

	// Parallelism is the number of independent sandbox instances.
	Parallelism int `yaml:"parallelism" json:"parallelism" validate:"min=1,max=256" jsonschema:"minimum=1,maximum=256,default=1"`

	// MemoryLimitPages caps guest linear memory in 64KiB pages. Zero keeps
	// the engine default.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages,omitempty" json:"memory_limit_pages,omitempty" validate:"lte=65536" jsonschema:"maximum=65536"`
}

// DefaultRunConfig returns the settings used when nothing is configured.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Convention:  "auto",
		LogLevel:    "info",
		Operands:    [2]uint32{2, 2},
		Iterations:  1,
		Parallelism: 1,
	}
}

// RunConfigOption is a functional option for adjusting a RunConfig.
type RunConfigOption func(*RunConfig)

// WithModule sets the guest module path.
func WithModule(path string) RunConfigOption {
	return func(c *RunConfig) {
		c.Module = path
	}
}

// WithOperands sets the two input values.
func WithOperands(v1, v2 uint32) RunConfigOption {
	return func(c *RunConfig) {
		c.Operands = [2]uint32{v1, v2}
	}
}

// WithIterations sets the invocation count. Validation rejects values
// below one.
func WithIterations(n int) RunConfigOption {
	return func(c *RunConfig) {
		c.Iterations = n
	}
}

// WithCallTimeout sets the per-call watchdog.
func WithCallTimeout(d time.Duration) RunConfigOption {
	return func(c *RunConfig) {
		c.CallTimeout = d
	}
}

// WithConvention sets the calling convention by name.
func WithConvention(name string) RunConfigOption {
	return func(c *RunConfig) {
		c.Convention = name
	}
}

// WithParallelism sets the number of sandbox instances.
func WithParallelism(n int) RunConfigOption {
	return func(c *RunConfig) {
		c.Parallelism = n
	}
}

// WithMemoryLimitPages caps guest memory.
func WithMemoryLimitPages(pages uint32) RunConfigOption {
	return func(c *RunConfig) {
		c.MemoryLimitPages = pages
	}
}

// WithLogLevel sets the log level by name.
func WithLogLevel(level string) RunConfigOption {
	return func(c *RunConfig) {
		c.LogLevel = level
	}
}

// NewRunConfig creates a RunConfig from the defaults and the given options.
func NewRunConfig(opts ...RunConfigOption) RunConfig {
	cfg := DefaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
