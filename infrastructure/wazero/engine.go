package wazero

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/reglet-dev/wasmudf/domain/entities"
	domainerrors "github.com/reglet-dev/wasmudf/domain/errors"
)

// Engine owns a wazero runtime shared by every module compiled on it.
// It is safe for concurrent use.
type Engine struct {
	runtime wazero.Runtime
	cfg     EngineConfig
}

// NewEngine creates the runtime, instantiates WASI preview 1 and registers
// the host module.
func NewEngine(ctx context.Context, opts ...EngineOption) (*Engine, error) {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	rc := wazero.NewRuntimeConfigInterpreter()
	if cfg.Compile {
		rc = wazero.NewRuntimeConfig()
	}
	// Closing on context expiry is what makes the per-call watchdog work.
	rc = rc.WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, rc)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("wazero: instantiate wasi: %w", err)
	}
	if err := registerHostModule(ctx, runtime, cfg); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("wazero: register host module %q: %w", cfg.HostModuleName, err)
	}

	return &Engine{runtime: runtime, cfg: cfg}, nil
}

// Compile validates and compiles a guest binary. A binary that does not
// decode or does not satisfy the export contract yields *errors.LoadError.
func (e *Engine) Compile(ctx context.Context, wasm []byte) (*Module, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, &domainerrors.LoadError{Err: err}
	}
	if err := verifyExports(compiled); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}
	return &Module{engine: e, compiled: compiled}, nil
}

// Close closes the runtime and every module instantiated on it.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Module is a compiled guest that passed export verification.
type Module struct {
	engine   *Engine
	compiled wazero.CompiledModule
}

// Instantiate creates a fresh instance of the module. name must be unique
// among live instances of the engine. The guest's reactor initializer runs
// before the instance is returned, and its declared convention, if any, is
// read once.
func (m *Module) Instantiate(ctx context.Context, name string) (*Sandbox, error) {
	cfg := wazero.NewModuleConfig().
		WithName(name).
		WithStdout(m.engine.cfg.Stdout).
		WithStderr(m.engine.cfg.Stderr).
		// Reactor modules are initialized explicitly below.
		WithStartFunctions()

	ctx = WithInstanceName(ctx, name)
	mod, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, cfg)
	if err != nil {
		return nil, &domainerrors.LoadError{Err: err}
	}

	if initFn := mod.ExportedFunction(ExportInitialize); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return nil, &domainerrors.LoadError{Export: ExportInitialize, Err: err}
		}
	}

	s := newSandbox(mod, name)
	if fn := mod.ExportedFunction(ExportConvention); fn != nil {
		res, err := fn.Call(ctx)
		if err != nil {
			_ = mod.Close(ctx)
			return nil, &domainerrors.LoadError{Export: ExportConvention, Err: err}
		}
		c := entities.Convention(int32(res[0])) //nolint:gosec // G115: i32 result
		if !c.Valid() {
			_ = mod.Close(ctx)
			return nil, &domainerrors.LoadError{Export: ExportConvention, Err: fmt.Errorf("unknown convention tag %d", c)}
		}
		s.convention, s.declared = c, true
	}
	return s, nil
}

// Close releases the compiled code. Instances already created keep working
// until they are closed.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}
