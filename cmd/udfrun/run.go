package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/reglet-dev/wasmudf/application/config"
	"github.com/reglet-dev/wasmudf/domain/entities"
	domainerrors "github.com/reglet-dev/wasmudf/domain/errors"
	"github.com/reglet-dev/wasmudf/host"
	"github.com/reglet-dev/wasmudf/infrastructure/metrics"
	infrawazero "github.com/reglet-dev/wasmudf/infrastructure/wazero"
)

type runOptions struct {
	configPath       string
	convention       string
	iterations       int
	parallel         int
	timeout          time.Duration
	memoryLimitPages uint32
	metrics          bool
	verbose          bool
	interpreter      bool
}

func addRunFlags(cmd *cobra.Command, o *runOptions) {
	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "YAML run configuration file")
	f.IntVarP(&o.iterations, "iterations", "i", 1, "Number of invocations")
	f.StringVar(&o.convention, "convention", "auto", "Calling convention: auto, scalar, descriptor")
	f.DurationVar(&o.timeout, "timeout", 0, "Per guest call watchdog (0 = none)")
	f.Uint32Var(&o.memoryLimitPages, "memory-limit-pages", 0, "Guest memory cap in 64KiB pages (0 = engine default)")
	f.IntVarP(&o.parallel, "parallel", "p", 1, "Independent sandbox instances")
	f.BoolVar(&o.metrics, "metrics", false, "Dump Prometheus metrics to stderr on exit")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "Debug logging")
	f.BoolVar(&o.interpreter, "interpreter", false, "Use the wazero interpreter instead of the compiler")
}

// overrides turns explicitly set flags and positional arguments into
// RunConfig options. Unset flags leave the configuration file in charge.
func (o *runOptions) overrides(cmd *cobra.Command, args []string) ([]entities.RunConfigOption, error) {
	var opts []entities.RunConfigOption
	changed := cmd.Flags().Changed

	if len(args) > 0 {
		opts = append(opts, entities.WithModule(args[0]))
	}
	if len(args) > 1 {
		v1, err := parseOperand("v1", args[1])
		if err != nil {
			return nil, err
		}
		v2 := uint32(2)
		if len(args) > 2 {
			if v2, err = parseOperand("v2", args[2]); err != nil {
				return nil, err
			}
		}
		opts = append(opts, entities.WithOperands(v1, v2))
	}

	if changed("iterations") {
		opts = append(opts, entities.WithIterations(o.iterations))
	}
	if changed("convention") {
		opts = append(opts, entities.WithConvention(o.convention))
	}
	if changed("timeout") {
		opts = append(opts, entities.WithCallTimeout(o.timeout))
	}
	if changed("memory-limit-pages") {
		opts = append(opts, entities.WithMemoryLimitPages(o.memoryLimitPages))
	}
	if changed("parallel") {
		opts = append(opts, entities.WithParallelism(o.parallel))
	}
	if o.verbose {
		opts = append(opts, entities.WithLogLevel("debug"))
	}
	return opts, nil
}

func parseOperand(name, s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, &domainerrors.ConfigError{Field: name, Err: fmt.Errorf("%q is not an unsigned 32-bit integer", s)}
	}
	return uint32(v), nil
}

func runUDF(cmd *cobra.Command, args []string, o *runOptions) error {
	if len(args) == 0 && o.configPath == "" {
		return cmd.Help()
	}

	overrides, err := o.overrides(cmd, args)
	if err != nil {
		return err
	}
	cfg, err := config.NewLoader().Load(o.configPath, overrides...)
	if err != nil {
		return err
	}
	conv, err := config.Convention(cfg)
	if err != nil {
		return err
	}
	level, err := config.LogLevel(cfg)
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	restore := installLogger(stderr, level)
	defer restore()

	reg := prometheus.NewRegistry()
	if o.metrics {
		defer func() {
			if dumpErr := dumpMetrics(stderr, reg); dumpErr != nil {
				slog.Warn("udfrun: metrics dump failed", "error", dumpErr)
			}
		}()
	}

	engineOpts := []infrawazero.EngineOption{
		infrawazero.WithMemoryLimitPages(cfg.MemoryLimitPages),
		infrawazero.WithGuestOutput(stderr, stderr),
	}
	if o.interpreter {
		engineOpts = append(engineOpts, infrawazero.WithInterpreter())
	}

	return run(cmd.Context(), cmd.OutOrStdout(), cfg, runDeps{
		engineOpts: engineOpts,
		instanceOpts: []host.InstanceOption{
			host.WithConvention(conv),
			host.WithCallTimeout(cfg.CallTimeout),
			host.WithMetrics(metrics.NewMetrics(reg)),
		},
	})
}

type runDeps struct {
	engineOpts   []infrawazero.EngineOption
	instanceOpts []host.InstanceOption
}

// run loads the module into a pool of cfg.Parallelism instances and spreads
// cfg.Iterations invocations over it. Results are printed in iteration
// order.
func run(ctx context.Context, stdout io.Writer, cfg entities.RunConfig, deps runDeps) error {
	wasm, err := os.ReadFile(cfg.Module)
	if err != nil {
		return &domainerrors.LoadError{Err: err}
	}

	slog.DebugContext(ctx, "udfrun: setting up sandbox", "module", cfg.Module, "parallelism", cfg.Parallelism)
	exec, err := host.NewExecutor(ctx, host.WithEngineOptions(deps.engineOpts...))
	if err != nil {
		return err
	}
	defer func() { _ = exec.Close(ctx) }()

	pool, err := exec.NewPool(ctx, wasm, cfg.Parallelism, deps.instanceOpts...)
	if err != nil {
		return err
	}
	defer func() { _ = pool.Close(ctx) }()

	v1, v2 := cfg.Operands[0], cfg.Operands[1]
	results := make([]uint32, cfg.Iterations)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pool.Size())
	for i := range cfg.Iterations {
		g.Go(func() error {
			return pool.Do(gctx, func(inst *host.UDFInstance) error {
				sum, err := inst.Sum(gctx, v1, v2)
				if err != nil {
					return fmt.Errorf("iteration %d on %s: %w", i+1, inst.Name(), err)
				}
				results[i] = sum
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, sum := range results {
		fmt.Fprintf(stdout, "%d + %d = %d\n", v1, v2, sum)
	}
	count, bytes := pool.Outstanding()
	slog.InfoContext(ctx, "udfrun: finished",
		"iterations", cfg.Iterations, "elapsed", time.Since(start), "outstanding", count, "outstanding_bytes", bytes)
	return nil
}

// installLogger makes a text handler on w the default logger and returns a
// function restoring the previous one.
func installLogger(w io.Writer, level slog.Level) func() {
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return func() { slog.SetDefault(prev) }
}

func dumpMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
