// Package log provides structured logging (slog) for UDF guests. Records are
// shipped to the host, which replays them into its own logger.
package log

import (
	"context"
	"log/slog"
)

// WasmLogHandler implements slog.Handler to route logs through a host function.
type WasmLogHandler struct {
	attrs []slog.Attr
	group string
	opts  handlerConfig
}

// HandlerOption configures the WasmLogHandler.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	send      func([]byte)
	level     slog.Level
	addSource bool
}

// defaultHandlerConfig returns the default configuration.
func defaultHandlerConfig() handlerConfig {
	return handlerConfig{
		level: slog.LevelInfo,
		send:  sendToHost,
	}
}

// WithLevel sets the minimum log level to report.
// Records below this level will be filtered on the guest side.
func WithLevel(level slog.Level) HandlerOption {
	return func(c *handlerConfig) {
		c.level = level
	}
}

// WithSource enables reporting of source location (file/line).
func WithSource(enabled bool) HandlerOption {
	return func(c *handlerConfig) {
		c.addSource = enabled
	}
}

// WithSink replaces the host transport. It receives each encoded record.
func WithSink(send func([]byte)) HandlerOption {
	return func(c *handlerConfig) {
		c.send = send
	}
}

// NewHandler creates a new WasmLogHandler with the given options.
func NewHandler(opts ...HandlerOption) *WasmLogHandler {
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &WasmLogHandler{opts: cfg}
}

// Enabled reports whether the handler handles records at the given level.
func (h *WasmLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.level
}

// WithAttrs returns a new WasmLogHandler that includes the given attributes.
func (h *WasmLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandler := *h
	newHandler.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	newHandler.attrs = append(newHandler.attrs, h.attrs...)
	for _, a := range attrs {
		newHandler.attrs = append(newHandler.attrs, h.qualify(a))
	}
	return &newHandler
}

// WithGroup returns a new WasmLogHandler with the given group name.
// Groups are flattened into dotted attribute keys.
func (h *WasmLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newHandler := *h
	newHandler.group = h.qualifyKey(name)
	return &newHandler
}

// Handle serializes a slog.Record and sends it to the host.
func (h *WasmLogHandler) Handle(ctx context.Context, record slog.Record) error {
	h.opts.send(h.encode(ctx, record))
	return nil
}

func (h *WasmLogHandler) qualifyKey(key string) string {
	if h.group == "" {
		return key
	}
	return h.group + "." + key
}

func (h *WasmLogHandler) qualify(a slog.Attr) slog.Attr {
	a.Key = h.qualifyKey(a.Key)
	return a
}
