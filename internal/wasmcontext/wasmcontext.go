// Package wasmcontext tracks the context of the UDF call a guest is
// currently serving. Guest code reaches it from places that have no
// context parameter, such as the slog handler.
package wasmcontext

import (
	stdcontext "context"
	"sync"
)

// contextKey is a type alias for context value keys to avoid collisions.
type contextKey string

// CallKey is the context key for the call sequence number.
const CallKey contextKey = "udf_call"

// contextStore holds the current context for the guest.
// Since WASM is single-threaded, we can use a simple global variable.
var contextStore = struct {
	ctx stdcontext.Context
	seq uint64
	sync.RWMutex
}{
	ctx: stdcontext.Background(),
}

// SetCurrentContext sets the current execution context.
func SetCurrentContext(ctx stdcontext.Context) {
	contextStore.Lock()
	defer contextStore.Unlock()
	contextStore.ctx = ctx
}

// GetCurrentContext returns the current execution context, or
// context.Background() if none has been set.
func GetCurrentContext() stdcontext.Context {
	contextStore.RLock()
	defer contextStore.RUnlock()
	if contextStore.ctx == nil {
		return stdcontext.Background()
	}
	return contextStore.ctx
}

// ResetContext resets the global context to background.
func ResetContext() {
	SetCurrentContext(stdcontext.Background())
}

// BeginCall numbers a new UDF call and makes its context current. The
// returned function restores the background context and should be deferred.
func BeginCall() (stdcontext.Context, func()) {
	contextStore.Lock()
	contextStore.seq++
	ctx := stdcontext.WithValue(stdcontext.Background(), CallKey, contextStore.seq)
	contextStore.ctx = ctx
	contextStore.Unlock()
	return ctx, ResetContext
}

// CallFromContext returns the call sequence number carried by ctx, or 0.
func CallFromContext(ctx stdcontext.Context) uint64 {
	if ctx == nil {
		return 0
	}
	n, _ := ctx.Value(CallKey).(uint64)
	return n
}
