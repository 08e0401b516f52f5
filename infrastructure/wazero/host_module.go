package wazero

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/reglet-dev/wasmudf/domain/entities"
)

// HostFuncLogMessage is the host function guests import to ship log records.
const HostFuncLogMessage = "log_message"

// registerHostModule instantiates the host module guests import from.
func registerHostModule(ctx context.Context, runtime wazero.Runtime, cfg EngineConfig) error {
	_, err := runtime.NewHostModuleBuilder(cfg.HostModuleName).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			handleLogMessage(ctx, mod, stack, cfg.MaxLogMessageSize)
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{}).
		WithParameterNames("ptr", "len").
		Export(HostFuncLogMessage).
		Instantiate(ctx)
	return err
}

// handleLogMessage replays a guest log record into the host's slog default
// logger. Malformed records are dropped with a host-side warning; a guest
// never faults because of its own logging.
func handleLogMessage(ctx context.Context, mod api.Module, stack []uint64, maxSize uint32) {
	ptr := api.DecodeU32(stack[0])
	length := api.DecodeU32(stack[1])
	instance := GetInstanceName(ctx, mod)

	if length > maxSize {
		slog.WarnContext(ctx, "wazero: guest log record too large", "guest", instance, "size", length, "max", maxSize)
		return
	}

	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		slog.WarnContext(ctx, "wazero: guest log record out of bounds", "guest", instance, "ptr", ptr, "len", length)
		return
	}

	var rec entities.LogRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		slog.WarnContext(ctx, "wazero: undecodable guest log record", "guest", instance, "error", err)
		return
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(rec.Level)); err != nil {
		level = slog.LevelInfo
	}

	args := make([]any, 0, 2+len(rec.Attrs)*2+2)
	args = append(args, slog.String("guest", instance))
	if rec.Call != 0 {
		args = append(args, slog.Uint64("call", rec.Call))
	}
	for _, attr := range rec.Attrs {
		args = append(args, slog.String(attr.Key, attr.Value))
	}
	slog.Log(ctx, level, rec.Message, args...)
}
