package node

import (
	"fmt"

	basesync "github.com/gostdlib/base/concurrency/sync"

	"github.com/asterisque/asterisque/session"
)

// Registry is the functionId → Handler table Node hands to every Session
// it binds (spec §4.7: "a function registry (functionId → handler)").
// Registration is explicit and data-driven, never reflective (spec §9
// Design Note on reflective service binding).
type Registry struct {
	mu       basesync.RWMutex
	handlers map[uint16]session.Handler
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[uint16]session.Handler)}
}

// Register binds functionID to h. It fails if functionID is already
// registered; re-registration requires a fresh Registry.
func (r *Registry) Register(functionID uint16, h session.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[functionID]; exists {
		return fmt.Errorf("node: function %d already registered", functionID)
	}
	r.handlers[functionID] = h
	return nil
}

// Lookup implements session.Registry.
func (r *Registry) Lookup(functionID uint16) (session.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[functionID]
	return h, ok
}

var _ session.Registry = (*Registry)(nil)
