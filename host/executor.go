package host

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/reglet-dev/wasmudf/domain/ports"
	infrawazero "github.com/reglet-dev/wasmudf/infrastructure/wazero"
)

// Executor owns the WebAssembly engine and loads UDF guests on it.
type Executor struct {
	engine *infrawazero.Engine
	cfg    executorConfig
	seq    atomic.Uint64
}

// NewExecutor creates a new executor with the given options.
func NewExecutor(ctx context.Context, opts ...Option) (*Executor, error) {
	var cfg executorConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	engine, err := infrawazero.NewEngine(ctx, cfg.engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return &Executor{engine: engine, cfg: cfg}, nil
}

// Close releases resources held by the executor, including every instance
// loaded from it.
func (e *Executor) Close(ctx context.Context) error {
	return e.engine.Close(ctx)
}

// LoadUDF compiles wasm, verifies its export contract and instantiates it.
func (e *Executor) LoadUDF(ctx context.Context, wasm []byte, opts ...InstanceOption) (*UDFInstance, error) {
	module, err := e.engine.Compile(ctx, wasm)
	if err != nil {
		return nil, err
	}
	inst, err := e.instantiate(ctx, module, true, opts)
	if err != nil {
		_ = module.Close(ctx)
		return nil, err
	}
	return inst, nil
}

// NewPool compiles wasm once and creates size independent instances of it.
func (e *Executor) NewPool(ctx context.Context, wasm []byte, size int, opts ...InstanceOption) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", size)
	}
	module, err := e.engine.Compile(ctx, wasm)
	if err != nil {
		return nil, err
	}

	instances := make([]*UDFInstance, 0, size)
	for range size {
		inst, err := e.instantiate(ctx, module, false, opts)
		if err != nil {
			for _, created := range instances {
				err = multierr.Append(err, created.Close(ctx))
			}
			return nil, multierr.Append(err, module.Close(ctx))
		}
		instances = append(instances, inst)
	}
	spawn := func(ctx context.Context) (*UDFInstance, error) {
		return e.instantiate(ctx, module, false, opts)
	}
	return newPool(instances, module, spawn), nil
}

// instantiate creates one instance of module. The configured name is used
// as a prefix; a sequence number keeps names unique within the engine.
func (e *Executor) instantiate(ctx context.Context, module *infrawazero.Module, owned bool, opts []InstanceOption) (*UDFInstance, error) {
	all := append(slices.Clone(e.cfg.instanceOpts), opts...)
	cfg := defaultInstanceConfig()
	for _, opt := range all {
		opt(&cfg)
	}
	prefix := cfg.name
	if prefix == "" {
		prefix = "udf"
	}
	name := fmt.Sprintf("%s-%d", prefix, e.seq.Add(1))

	s, err := module.Instantiate(ctx, name)
	if err != nil {
		return nil, err
	}
	var sandbox ports.Sandbox = s
	if owned {
		sandbox = &ownedSandbox{Sandbox: s, module: module}
	}

	inst, err := NewInstance(sandbox, append(all, WithName(name))...)
	if err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	slog.DebugContext(ctx, "udf: instance loaded", "instance", name, "convention", inst.Convention())
	return inst, nil
}

// ownedSandbox closes the compiled module together with its only instance.
type ownedSandbox struct {
	*infrawazero.Sandbox
	module *infrawazero.Module
}

func (s *ownedSandbox) Close(ctx context.Context) error {
	return multierr.Append(s.Sandbox.Close(ctx), s.module.Close(ctx))
}
