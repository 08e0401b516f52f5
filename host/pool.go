package host

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"go.uber.org/multierr"

	infrawazero "github.com/reglet-dev/wasmudf/infrastructure/wazero"
)

// Pool holds independent instances of one compiled module. Each instance
// has its own linear memory and allocator state, so instances run in
// parallel while each one stays single-threaded.
//
// An instance that faulted is closed when it is released and a fresh one
// is instantiated from the compiled module in its place.
type Pool struct {
	module *infrawazero.Module
	spawn  func(context.Context) (*UDFInstance, error)
	idle   chan *UDFInstance

	mu        sync.Mutex
	instances []*UDFInstance
}

func newPool(instances []*UDFInstance, module *infrawazero.Module, spawn func(context.Context) (*UDFInstance, error)) *Pool {
	idle := make(chan *UDFInstance, len(instances))
	for _, inst := range instances {
		idle <- inst
	}
	return &Pool{module: module, spawn: spawn, idle: idle, instances: instances}
}

// Size returns the number of instances in the pool.
func (p *Pool) Size() int { return cap(p.idle) }

// Instances returns every current instance, idle or not.
func (p *Pool) Instances() []*UDFInstance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.instances)
}

// Acquire blocks until an instance is idle or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*UDFInstance, error) {
	select {
	case inst := <-p.idle:
		return inst, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns an instance obtained from Acquire. A poisoned instance is
// replaced; if the replacement cannot be created the poisoned instance goes
// back and keeps failing fast with ErrInstanceUnusable.
func (p *Pool) Release(ctx context.Context, inst *UDFInstance) {
	if !inst.Usable() && p.spawn != nil {
		if fresh, err := p.replace(context.WithoutCancel(ctx), inst); err != nil {
			slog.WarnContext(ctx, "udf: replacing faulted instance failed", "instance", inst.Name(), "error", err)
		} else {
			inst = fresh
		}
	}
	p.idle <- inst
}

func (p *Pool) replace(ctx context.Context, old *UDFInstance) (*UDFInstance, error) {
	fresh, err := p.spawn(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if i := slices.Index(p.instances, old); i >= 0 {
		p.instances[i] = fresh
	}
	p.mu.Unlock()

	if err := old.Close(ctx); err != nil {
		slog.DebugContext(ctx, "udf: closing faulted instance", "instance", old.Name(), "error", err)
	}
	slog.InfoContext(ctx, "udf: faulted instance replaced", "instance", old.Name(), "replacement", fresh.Name())
	return fresh, nil
}

// Do runs fn with an idle instance.
func (p *Pool) Do(ctx context.Context, fn func(*UDFInstance) error) error {
	inst, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(ctx, inst)
	return fn(inst)
}

// Outstanding sums Outstanding over every instance.
func (p *Pool) Outstanding() (count int, bytes uint64) {
	for _, inst := range p.Instances() {
		c, b := inst.Outstanding()
		count += c
		bytes += b
	}
	return count, bytes
}

// Close closes every instance and the compiled module.
func (p *Pool) Close(ctx context.Context) error {
	var errs error
	for _, inst := range p.Instances() {
		errs = multierr.Append(errs, inst.Close(ctx))
	}
	return multierr.Append(errs, p.module.Close(ctx))
}
