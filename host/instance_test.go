package host

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/wasmudf/domain/entities"
	domainerrors "github.com/reglet-dev/wasmudf/domain/errors"
	"github.com/reglet-dev/wasmudf/guest"
	"github.com/reglet-dev/wasmudf/infrastructure/arrowipc"
	"github.com/reglet-dev/wasmudf/infrastructure/metrics"
	"github.com/reglet-dev/wasmudf/internal/sandboxtest"
	"github.com/reglet-dev/wasmudf/internal/testutil"
)

type fixture struct {
	fake  *sandboxtest.Sandbox
	inst  *UDFInstance
	codec *arrowipc.Codec
}

func newFixture(t *testing.T, d *guest.Dispatcher, opts ...InstanceOption) *fixture {
	t.Helper()

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	t.Cleanup(func() { mem.AssertSize(t, 0) })
	codec := arrowipc.NewCodec(arrowipc.WithAllocator(mem))

	if d == nil {
		d = &guest.Dispatcher{Func: guest.NewSum(codec)}
	}
	if d.Codec == nil {
		d.Codec = codec
	}
	fake := sandboxtest.New(d, 2)

	inst, err := NewInstance(fake, append([]InstanceOption{WithName("test"), WithCodec(codec)}, opts...)...)
	require.NoError(t, err)
	return &fixture{fake: fake, inst: inst, codec: codec}
}

// requireBalanced checks that every allocation of the finished invocations
// was released exactly once on both sides of the boundary.
func (f *fixture) requireBalanced(t *testing.T) {
	t.Helper()
	count, bytes := f.inst.Outstanding()
	assert.Zero(t, count, "host outstanding allocations")
	assert.Zero(t, bytes, "host outstanding bytes")
	assert.Empty(t, f.fake.Live(), "guest live allocations")
	assert.Empty(t, f.fake.Violations())
	assert.Equal(t, f.fake.Mallocs(), f.fake.Frees())
}

func TestUDFInstance_SumRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		v1, v2 uint32
		want   uint32
	}{
		{"two plus two", 2, 2, 4},
		{"zeros", 0, 0, 0},
		{"wraps at 2^32", 4294967295, 1, 0},
		{"large", 3000000000, 1000000000, 4000000000},
	}

	for _, conv := range []string{"descriptor", "scalar"} {
		for _, tt := range tests {
			t.Run(conv+"/"+tt.name, func(t *testing.T) {
				var f *fixture
				if conv == "scalar" {
					f = newFixture(t, &guest.Dispatcher{Scalar: guest.SumScalar},
						WithConvention(entities.ConventionScalar))
				} else {
					f = newFixture(t, nil)
				}

				got, err := f.inst.Sum(context.Background(), tt.v1, tt.v2)
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				f.requireBalanced(t)
			})
		}
	}
}

func TestUDFInstance_DescriptorReleaseOrder(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.inst.Sum(context.Background(), 1, 2)
	require.NoError(t, err)

	released := f.fake.Released()
	require.Len(t, released, 3)
	// Output buffer and descriptor were adopted after the input, so they go first.
	assert.Equal(t, entities.BufferAlign, released[0].Align)
	assert.Equal(t, entities.DescriptorSize, released[1].Size)
	assert.Equal(t, entities.DescriptorAlign, released[1].Align)
	assert.Equal(t, entities.BufferAlign, released[2].Align)
	f.requireBalanced(t)
}

func TestUDFInstance_IdempotentRepetition(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		got, err := f.inst.Sum(ctx, 2, 2)
		require.NoError(t, err)
		require.Equal(t, uint32(4), got)
	}
	assert.Equal(t, 600, f.fake.Frees())
	f.requireBalanced(t)
}

func TestUDFInstance_SchemaMismatch(t *testing.T) {
	f := newFixture(t, &guest.Dispatcher{RequiredColumns: []string{arrowipc.ColumnV1, arrowipc.ColumnV2}})
	f.fake.Dispatcher.Func = guest.NewSum(f.codec)
	ctx := context.Background()

	input, err := f.codec.EncodeSum(7)
	require.NoError(t, err)

	_, err = f.inst.Call(ctx, input)
	testutil.RequireKind(t, err, domainerrors.KindDecode)
	f.requireBalanced(t)

	// A decode failure leaves the instance usable.
	assert.True(t, f.inst.Usable())
	got, err := f.inst.Sum(ctx, 5, 6)
	require.NoError(t, err)
	assert.Equal(t, uint32(11), got)
}

func TestUDFInstance_EmptyBatches(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	t.Run("zero rows", func(t *testing.T) {
		rec, err := f.codec.NewUint32Record(arrowipc.OperandsSchema, []uint32{}, []uint32{})
		require.NoError(t, err)
		defer rec.Release()

		out, err := f.inst.Process(ctx, rec)
		require.NoError(t, err)
		defer arrowipc.ReleaseAll(out)

		sum, err := arrowipc.SumUint32(out)
		require.NoError(t, err)
		assert.Zero(t, sum)
	})

	t.Run("zero columns", func(t *testing.T) {
		rec, err := f.codec.NewUint32Record(arrow.NewSchema(nil, nil))
		require.NoError(t, err)
		defer rec.Release()

		out, err := f.inst.Process(ctx, rec)
		require.NoError(t, err)
		defer arrowipc.ReleaseAll(out)

		require.Len(t, out, 1)
		assert.True(t, out[0].Schema().Equal(arrowipc.SumSchema))
		assert.Equal(t, int64(1), out[0].NumRows())
	})

	f.requireBalanced(t)
}

func TestUDFInstance_RejectsEmptyInput(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.inst.Call(context.Background(), nil)
	testutil.RequireKind(t, err, domainerrors.KindAllocation)
	assert.Zero(t, f.fake.Mallocs())
}

func TestUDFInstance_MalformedOutput(t *testing.T) {
	f := newFixture(t, nil)
	f.fake.Handler = func(s *sandboxtest.Sandbox, _, _ uint32) (uint32, error) {
		return s.ExportDescriptor([]byte("not an arrow file at all"))
	}

	_, err := f.inst.Sum(context.Background(), 1, 1)
	testutil.RequireKind(t, err, domainerrors.KindDecode)
	testutil.AssertExitCode(t, domainerrors.ExitDecode, err)
	f.requireBalanced(t)
	assert.True(t, f.inst.Usable())
}

func TestUDFInstance_FaultDuringReleaseWins(t *testing.T) {
	tests := []struct {
		name    string
		handler func(s *sandboxtest.Sandbox, addr, size uint32) (uint32, error)
	}{
		{
			name: "after decode failure",
			handler: func(s *sandboxtest.Sandbox, _, _ uint32) (uint32, error) {
				return s.ExportDescriptor([]byte("not an arrow file at all"))
			},
		},
		{
			name: "after guest error",
			handler: func(*sandboxtest.Sandbox, uint32, uint32) (uint32, error) {
				return 0, nil
			},
		},
		{
			name: "after protocol violation",
			handler: func(s *sandboxtest.Sandbox, _, _ uint32) (uint32, error) {
				return s.PutDescriptor(entities.ResultDescriptor{Addr: 8, Length: 1 << 30})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			f := newFixture(t, nil, WithMetrics(metrics.NewMetrics(reg)))
			f.fake.Handler = func(s *sandboxtest.Sandbox, addr, size uint32) (uint32, error) {
				s.Trap = "free"
				return tt.handler(s, addr, size)
			}

			_, err := f.inst.Sum(context.Background(), 1, 1)
			fault := testutil.RequireGuestFault(t, err)
			assert.Equal(t, "free", fault.Export)
			testutil.AssertExitCode(t, domainerrors.ExitGuestFault, err)
			assert.False(t, f.inst.Usable())
			assert.Equal(t, 1.0, counterValue(t, reg, "udf_faults_total", "kind", string(domainerrors.KindGuestFault)))
			assert.Zero(t, counterValue(t, reg, "udf_faults_total", "kind", string(domainerrors.KindDecode)))
		})
	}
}

func TestUDFInstance_ProtocolViolations(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		handler func(s *sandboxtest.Sandbox, addr, length uint32) (uint32, error)
		// Guest allocations the host must leave alone.
		wantLeaked int
	}{
		{
			name:    "misaligned descriptor",
			handler: func(*sandboxtest.Sandbox, uint32, uint32) (uint32, error) { return 1027, nil },
		},
		{
			name:    "descriptor out of bounds",
			handler: func(s *sandboxtest.Sandbox, _, _ uint32) (uint32, error) { return s.MemorySize() - 4, nil },
		},
		{
			name:    "descriptor inside input",
			handler: func(_ *sandboxtest.Sandbox, addr, _ uint32) (uint32, error) { return addr, nil },
		},
		{
			name: "buffer out of bounds",
			handler: func(s *sandboxtest.Sandbox, _, _ uint32) (uint32, error) {
				return s.PutDescriptor(entities.ResultDescriptor{Addr: int32(s.MemorySize() - 8), Length: 64}) //nolint:gosec // test
			},
		},
		{
			name: "negative buffer address",
			handler: func(s *sandboxtest.Sandbox, _, _ uint32) (uint32, error) {
				return s.PutDescriptor(entities.ResultDescriptor{Addr: -8, Length: 8})
			},
		},
		{
			name: "zero length",
			handler: func(s *sandboxtest.Sandbox, _, _ uint32) (uint32, error) {
				buf, _ := s.GuestAlloc(8, 8)
				return s.PutDescriptor(entities.ResultDescriptor{Addr: int32(buf), Length: 0}) //nolint:gosec // test
			},
			wantLeaked: 1,
		},
		{
			name: "buffer aliases input",
			handler: func(s *sandboxtest.Sandbox, addr, length uint32) (uint32, error) {
				return s.PutDescriptor(entities.ResultDescriptor{Addr: int32(addr), Length: int32(length)}) //nolint:gosec // test
			},
		},
		{
			name: "buffer aliases descriptor",
			handler: func(s *sandboxtest.Sandbox, _, _ uint32) (uint32, error) {
				desc, _ := s.GuestAlloc(entities.DescriptorSize, entities.DescriptorAlign)
				s.Put(desc, entities.ResultDescriptor{Addr: int32(desc), Length: 8}.Encode()) //nolint:gosec // test
				return desc, nil
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.fake.Handler = tt.handler

			_, err := f.inst.Sum(ctx, 1, 1)
			testutil.RequireKind(t, err, domainerrors.KindProtocol)
			testutil.AssertExitCode(t, domainerrors.ExitProtocol, err)

			// Only trusted allocations were released, each exactly once.
			assert.Empty(t, f.fake.Violations())
			count, _ := f.inst.Outstanding()
			assert.Zero(t, count)
			assert.Len(t, f.fake.Live(), tt.wantLeaked)
			assert.True(t, f.inst.Usable())
		})
	}
}

func TestUDFInstance_ValidDescriptorBadBuffer(t *testing.T) {
	f := newFixture(t, nil)
	var descAddr uint32
	f.fake.Handler = func(s *sandboxtest.Sandbox, _, _ uint32) (uint32, error) {
		var err error
		descAddr, err = s.PutDescriptor(entities.ResultDescriptor{Addr: 3, Length: 16})
		return descAddr, err
	}

	_, err := f.inst.Sum(context.Background(), 1, 1)
	testutil.RequireKind(t, err, domainerrors.KindProtocol)

	// Input and descriptor released; the buffer it named was never touched.
	released := f.fake.Released()
	require.Len(t, released, 2)
	assert.Equal(t, descAddr, released[0].Addr)
	f.requireBalanced(t)
}

func TestUDFInstance_UntrustedMalloc(t *testing.T) {
	f := newFixture(t, nil)
	f.fake.MallocResult = func(uint32, uint32) (uint32, bool) { return 0, true }

	_, err := f.inst.Sum(context.Background(), 1, 1)
	testutil.RequireKind(t, err, domainerrors.KindAllocation)
	assert.Zero(t, f.fake.Frees())
	assert.True(t, f.inst.Usable())
}

func TestUDFInstance_GuestErrorChannel(t *testing.T) {
	ctx := context.Background()

	t.Run("udf failure", func(t *testing.T) {
		f := newFixture(t, &guest.Dispatcher{Func: func([]arrow.Record) (arrow.Record, error) {
			return nil, errors.New("column v2 overflowed")
		}})

		_, err := f.inst.Sum(ctx, 1, 1)
		var guestErr *domainerrors.GuestError
		require.ErrorAs(t, err, &guestErr)
		assert.Equal(t, "column v2 overflowed", guestErr.Message)
		testutil.AssertExitCode(t, domainerrors.ExitGuest, err)
		f.requireBalanced(t)
	})

	t.Run("plain text message", func(t *testing.T) {
		f := newFixture(t, nil)
		f.fake.Handler = func(s *sandboxtest.Sandbox, _, _ uint32) (uint32, error) {
			addr, err := s.ExportDescriptor([]byte("out of cheese"))
			if err != nil {
				return 0, err
			}
			s.SetLastError(addr)
			return 0, nil
		}

		_, err := f.inst.Sum(ctx, 1, 1)
		var guestErr *domainerrors.GuestError
		require.ErrorAs(t, err, &guestErr)
		assert.Equal(t, "out of cheese", guestErr.Message)
		f.requireBalanced(t)
	})

	t.Run("sentinel without message", func(t *testing.T) {
		f := newFixture(t, nil)
		f.fake.Handler = func(*sandboxtest.Sandbox, uint32, uint32) (uint32, error) { return 0, nil }

		_, err := f.inst.Sum(ctx, 1, 1)
		testutil.RequireKind(t, err, domainerrors.KindGuest)
		f.requireBalanced(t)
	})
}

func TestUDFInstance_GuestFaultPoisons(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	for _, export := range []string{"udf", "free", "udf_error"} {
		t.Run(export, func(t *testing.T) {
			f := newFixture(t, nil, WithMetrics(m))
			if export == "udf_error" {
				f.fake.Handler = func(*sandboxtest.Sandbox, uint32, uint32) (uint32, error) { return 0, nil }
			}
			f.fake.Trap = export

			_, err := f.inst.Sum(ctx, 1, 1)
			fault := testutil.RequireGuestFault(t, err)
			assert.Equal(t, export, fault.Export)
			testutil.AssertExitCode(t, domainerrors.ExitGuestFault, err)

			assert.False(t, f.inst.Usable())
			count, _ := f.inst.Outstanding()
			assert.Zero(t, count, "allocations are abandoned, not held")

			mallocs := f.fake.Mallocs()
			_, err = f.inst.Sum(ctx, 1, 1)
			assert.ErrorIs(t, err, domainerrors.ErrInstanceUnusable)
			testutil.AssertExitCode(t, domainerrors.ExitGuestFault, err)
			assert.Equal(t, mallocs, f.fake.Mallocs(), "an unusable instance never calls the guest")
		})
	}

	assert.Equal(t, 3.0, counterValue(t, reg, "udf_faults_total", "kind", string(domainerrors.KindGuestFault)))
	assert.GreaterOrEqual(t, counterValue(t, reg, "udf_guest_abandoned_allocations_total"), 3.0)
}

func TestUDFInstance_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	f := newFixture(t, nil, WithMetrics(m))
	ctx := context.Background()

	for range 3 {
		_, err := f.inst.Sum(ctx, 1, 1)
		require.NoError(t, err)
	}
	f.fake.Handler = func(s *sandboxtest.Sandbox, _, _ uint32) (uint32, error) {
		return s.ExportDescriptor([]byte("garbage"))
	}
	_, err := f.inst.Sum(ctx, 1, 1)
	require.Error(t, err)

	assert.Equal(t, 3.0, counterValue(t, reg, "udf_invocations_total", "result", metrics.ResultOK))
	assert.Equal(t, 1.0, counterValue(t, reg, "udf_invocations_total", "result", metrics.ResultError))
	assert.Equal(t, 1.0, counterValue(t, reg, "udf_faults_total", "kind", string(domainerrors.KindDecode)))
	assert.Equal(t, 1, mustCount(t, reg, "udf_guest_outstanding_bytes"))
}

// counterValue sums the counter series of name whose labels include the
// given name/value pairs.
func counterValue(t *testing.T, g prometheus.Gatherer, name string, labels ...string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for i := 0; i+1 < len(labels); i += 2 {
				if !hasLabel(m, labels[i], labels[i+1]) {
					continue metric
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func TestUDFInstance_Serialized(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := range 16 {
		wg.Add(1)
		go func(v uint32) {
			defer wg.Done()
			got, err := f.inst.Sum(ctx, v, v)
			if err == nil && got != 2*v {
				err = errors.New("wrong sum")
			}
			errs <- err
		}(uint32(i)) //nolint:gosec // small
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	f.requireBalanced(t)
}

func TestResolveConvention(t *testing.T) {
	scalar := entities.ConventionScalar
	descriptor := entities.ConventionDescriptor

	tests := []struct {
		name       string
		declared   *entities.Convention
		configured entities.Convention
		want       entities.Convention
		wantKind   domainerrors.Kind
	}{
		{"auto undeclared defaults to descriptor", nil, entities.ConventionAuto, entities.ConventionDescriptor, ""},
		{"configured scalar", nil, entities.ConventionScalar, entities.ConventionScalar, ""},
		{"declared wins over auto", &scalar, entities.ConventionAuto, entities.ConventionScalar, ""},
		{"declared matches configured", &descriptor, entities.ConventionDescriptor, entities.ConventionDescriptor, ""},
		{"conflict", &scalar, entities.ConventionDescriptor, 0, domainerrors.KindLoad},
		{"unknown configured", nil, entities.Convention(9), 0, domainerrors.KindConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := sandboxtest.New(nil, 1)
			fake.Declared = tt.declared

			inst, err := NewInstance(fake, WithConvention(tt.configured))
			if tt.wantKind != "" {
				testutil.RequireKind(t, err, tt.wantKind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, inst.Convention())
		})
	}
}

func TestUDFInstance_ProcessRequiresDescriptor(t *testing.T) {
	f := newFixture(t, nil, WithConvention(entities.ConventionScalar))

	rec, err := f.codec.NewUint32Record(arrowipc.SumSchema, []uint32{1})
	require.NoError(t, err)
	defer rec.Release()

	_, err = f.inst.Process(context.Background(), rec)
	testutil.RequireKind(t, err, domainerrors.KindConfig)
	assert.Zero(t, f.fake.Mallocs())
}

func TestUDFInstance_Close(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.inst.Close(context.Background()))
	assert.True(t, f.fake.Closed())
}

func mustCount(t *testing.T, g prometheus.Gatherer, name string) int {
	t.Helper()
	n, err := promtestutil.GatherAndCount(g, name)
	require.NoError(t, err)
	return n
}
