package guest

import (
	"sync"

	"github.com/reglet-dev/wasmudf/infrastructure/arrowipc"
)

var registry = struct {
	dispatcher *Dispatcher
	sync.RWMutex
}{}

// Register installs fn as the module's batch UDF, replacing any previous
// registration.
func Register(fn Func, requiredColumns ...string) {
	install(&Dispatcher{Codec: arrowipc.NewCodec(), Func: fn, RequiredColumns: requiredColumns})
}

// RegisterScalar installs fn as the module's scalar UDF.
func RegisterScalar(fn ScalarFunc, requiredColumns ...string) {
	install(&Dispatcher{Codec: arrowipc.NewCodec(), Scalar: fn, RequiredColumns: requiredColumns})
}

func install(d *Dispatcher) {
	registry.Lock()
	defer registry.Unlock()
	registry.dispatcher = d
}

// Current returns the installed dispatcher, or an empty one if nothing has
// been registered yet.
func Current() *Dispatcher {
	registry.RLock()
	defer registry.RUnlock()
	if registry.dispatcher == nil {
		return &Dispatcher{}
	}
	return registry.dispatcher
}
