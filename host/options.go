package host

import (
	"time"

	"github.com/reglet-dev/wasmudf/domain/entities"
	"github.com/reglet-dev/wasmudf/infrastructure/arrowipc"
	"github.com/reglet-dev/wasmudf/infrastructure/metrics"
	infrawazero "github.com/reglet-dev/wasmudf/infrastructure/wazero"
)

// executorConfig holds configuration for the Executor.
type executorConfig struct {
	engineOpts   []infrawazero.EngineOption
	instanceOpts []InstanceOption
}

// Option defines a functional option for configuring the Executor.
type Option func(*executorConfig)

// WithEngineOptions configures the underlying wazero engine.
func WithEngineOptions(opts ...infrawazero.EngineOption) Option {
	return func(c *executorConfig) {
		c.engineOpts = append(c.engineOpts, opts...)
	}
}

// WithDefaultInstanceOptions applies opts to every instance the executor
// loads, before the per-call options.
func WithDefaultInstanceOptions(opts ...InstanceOption) Option {
	return func(c *executorConfig) {
		c.instanceOpts = append(c.instanceOpts, opts...)
	}
}

// instanceConfig holds configuration for a UDFInstance.
type instanceConfig struct {
	codec       *arrowipc.Codec
	metrics     *metrics.Metrics
	name        string
	callTimeout time.Duration
	convention  entities.Convention
}

func defaultInstanceConfig() instanceConfig {
	return instanceConfig{
		convention: entities.ConventionAuto,
	}
}

// InstanceOption configures a UDFInstance.
type InstanceOption func(*instanceConfig)

// WithName sets the instance name used in logs and metrics. Instances
// loaded by an Executor use it as a prefix followed by a sequence number.
func WithName(name string) InstanceOption {
	return func(c *instanceConfig) {
		c.name = name
	}
}

// WithConvention forces a calling convention. A guest that declares a
// different one is rejected with a LoadError. ConventionAuto (the default)
// uses the declared convention, or the descriptor convention if the guest
// declares none.
func WithConvention(conv entities.Convention) InstanceOption {
	return func(c *instanceConfig) {
		c.convention = conv
	}
}

// WithCallTimeout bounds each invocation. The instance is unusable after a
// timeout. Zero disables the watchdog.
func WithCallTimeout(d time.Duration) InstanceOption {
	return func(c *instanceConfig) {
		c.callTimeout = d
	}
}

// WithMetrics records invocations on m.
func WithMetrics(m *metrics.Metrics) InstanceOption {
	return func(c *instanceConfig) {
		c.metrics = m
	}
}

// WithCodec sets the codec used by Sum and Process.
func WithCodec(codec *arrowipc.Codec) InstanceOption {
	return func(c *instanceConfig) {
		c.codec = codec
	}
}
