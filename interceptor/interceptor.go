// Package interceptor provides optional middleware around dispatching an
// Open to a registered function — the place to hang cross-cutting
// concerns (logging, metrics, auth) without touching Session's dispatch
// loop itself.
package interceptor

import (
	"github.com/gostdlib/base/context"

	"github.com/asterisque/asterisque/wire"
)

// Info describes the call an interceptor is wrapping.
type Info struct {
	SessionID  string
	PipeID     wire.PipeID
	FunctionID uint16
	Priority   wire.Priority
}

// Handler invokes the registered function with decoded params and
// returns its result value, or an error which the dispatcher turns into
// a failed Close.
type Handler func(ctx context.Context, params []wire.Value) (wire.Value, error)

// Interceptor wraps a Handler. It receives the call info and the next
// handler in the chain, and must call handler exactly once to continue
// dispatch (or zero times to short-circuit it).
type Interceptor func(ctx context.Context, params []wire.Value, info *Info, handler Handler) (wire.Value, error)

// Chain composes interceptors so that the first one runs outermost.
func Chain(interceptors ...Interceptor) Interceptor {
	return func(ctx context.Context, params []wire.Value, info *Info, handler Handler) (wire.Value, error) {
		h := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			next := h
			ic := interceptors[i]
			h = func(ctx context.Context, params []wire.Value) (wire.Value, error) {
				return ic(ctx, params, info, next)
			}
		}
		return h(ctx, params)
	}
}
