package log

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/reglet-dev/wasmudf/domain/entities"
	"github.com/reglet-dev/wasmudf/internal/wasmcontext"
)

// encode builds the wire form of record. The call number comes from ctx, or
// from the guest's current call when ctx carries none.
func (h *WasmLogHandler) encode(ctx context.Context, record slog.Record) []byte {
	call := wasmcontext.CallFromContext(ctx)
	if call == 0 {
		call = wasmcontext.CallFromContext(wasmcontext.GetCurrentContext())
	}

	msg := entities.LogRecord{
		Timestamp: record.Time,
		Level:     record.Level.String(),
		Message:   record.Message,
		Call:      call,
	}
	for _, attr := range h.attrs {
		msg.Attrs = append(msg.Attrs, toLogAttrWire(attr))
	}
	record.Attrs(func(attr slog.Attr) bool {
		msg.Attrs = append(msg.Attrs, toLogAttrWire(h.qualify(attr)))
		return true // Continue iterating
	})
	if h.opts.addSource && record.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{record.PC}).Next()
		msg.Attrs = append(msg.Attrs, entities.LogAttr{
			Key: slog.SourceKey, Type: "string", Value: fmt.Sprintf("%s:%d", frame.File, frame.Line),
		})
	}

	data, err := json.Marshal(msg)
	if err != nil {
		// Only a timestamp outside RFC 3339's year range fails to marshal.
		data, _ = json.Marshal(entities.LogRecord{Level: msg.Level, Message: record.Message, Call: call})
	}
	return data
}

// toLogAttrWire converts a slog.Attr to its wire form.
func toLogAttrWire(attr slog.Attr) entities.LogAttr {
	wire := entities.LogAttr{
		Key: attr.Key,
	}
	// Resolve the attribute value
	attr.Value = attr.Value.Resolve()

	switch attr.Value.Kind() {
	case slog.KindString:
		wire.Type = "string"
		wire.Value = attr.Value.String()
	case slog.KindInt64:
		wire.Type = "int64"
		wire.Value = fmt.Sprintf("%d", attr.Value.Int64())
	case slog.KindUint64:
		wire.Type = "uint64"
		wire.Value = fmt.Sprintf("%d", attr.Value.Uint64())
	case slog.KindBool:
		wire.Type = "bool"
		wire.Value = fmt.Sprintf("%t", attr.Value.Bool())
	case slog.KindFloat64:
		wire.Type = "float64"
		wire.Value = fmt.Sprintf("%f", attr.Value.Float64())
	case slog.KindTime:
		wire.Type = "time"
		wire.Value = attr.Value.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		wire.Type = "duration"
		wire.Value = attr.Value.Duration().String()
	case slog.KindAny:
		if v := attr.Value.Any(); v != nil {
			if err, isErr := v.(error); isErr {
				wire.Type = "error"
				wire.Value = err.Error()
			} else if data, marshalErr := json.Marshal(v); marshalErr == nil {
				wire.Type = "json"
				wire.Value = string(data)
			} else {
				wire.Type = "any"
				wire.Value = fmt.Sprintf("%v", v)
			}
		} else {
			wire.Type = "any"
			wire.Value = "<nil>"
		}
	case slog.KindGroup:
		// Slog groups are flattened by the handler before reaching here in many implementations,
		// but if we receive a group kind, we treat it as 'any' for the wire format
		// since our flat structure doesn't support recursive groups well yet.
		// A full implementation would flatten this recursively.
		wire.Type = "group"
		wire.Value = fmt.Sprintf("%v", attr.Value.Any())
	case slog.KindLogValuer:
		return toLogAttrWire(slog.Attr{Key: attr.Key, Value: attr.Value.LogValuer().LogValue()})
	default:
		wire.Type = "any"
		wire.Value = fmt.Sprintf("%v", attr.Value.Any())
	}
	return wire
}
