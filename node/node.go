// Package node implements the Dispatcher (spec §4.7): it owns the active
// sessions on one peer, the function registry they all share, and the
// scheduling resources (gostdlib's pooled goroutines) their dispatch
// loops and service invocations run on. Node sets scheduling policy but
// does not itself interpret the protocol — that is entirely Session's job.
package node

import (
	"errors"

	basesync "github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"
	"github.com/google/uuid"

	"github.com/asterisque/asterisque/session"
	"github.com/asterisque/asterisque/transport"
)

// ErrClosed is returned by Bind once the Node has been shut down.
var ErrClosed = errors.New("node: closed")

// Node owns a function registry and the sessions bound to it.
type Node struct {
	id       uuid.UUID
	registry *Registry

	defaultOpts []session.Option

	mu       basesync.Mutex
	closed   bool
	sessions map[*session.Session]chan struct{}
}

// New constructs a Node identified by id. defaultOpts are applied to
// every Session this Node binds, before any per-Bind options.
func New(id uuid.UUID, defaultOpts ...session.Option) *Node {
	return &Node{
		id:          id,
		registry:    NewRegistry(),
		defaultOpts: defaultOpts,
		sessions:    make(map[*session.Session]chan struct{}),
	}
}

// Serve registers functionID → h in the Node's shared registry (spec
// §4.7's `serve(service)`, realized here as explicit per-function
// registration rather than reflective discovery of an annotated object —
// see spec §9 Design Note on reflective service binding).
func (n *Node) Serve(functionID uint16, h session.Handler) error {
	return n.registry.Register(functionID, h)
}

// Bind wraps w into a new Session using this Node's registry, starts its
// dispatch loop on the context's pool, and tracks it until it closes
// (spec §4.7's `bind(wire)`).
func (n *Node) Bind(ctx context.Context, w *transport.Wire, primary bool, opts ...session.Option) (*session.Session, error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrClosed
	}
	n.mu.Unlock()

	done := make(chan struct{})
	allOpts := make([]session.Option, 0, len(n.defaultOpts)+len(opts)+1)
	allOpts = append(allOpts, n.defaultOpts...)
	allOpts = append(allOpts, opts...)

	sess := session.New(w, primary, n.id, n.registry, allOpts...)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrClosed
	}
	n.sessions[sess] = done
	n.mu.Unlock()

	pool := context.Pool(ctx)
	pool.Submit(ctx, func() {
		_ = sess.Run(ctx)
		n.mu.Lock()
		delete(n.sessions, sess)
		n.mu.Unlock()
		close(done)
	})

	return sess, nil
}

// Shutdown gracefully closes every active session and waits for their
// dispatch loops to exit, forcing them closed if ctx is done first (spec
// §4.7's `shutdown()`).
func (n *Node) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	n.closed = true
	sessions := make(map[*session.Session]chan struct{}, len(n.sessions))
	for s, d := range n.sessions {
		sessions[s] = d
	}
	n.mu.Unlock()

	for s := range sessions {
		_ = s.Close(ctx, true)
	}

	done := make(chan struct{})
	go func() {
		for _, d := range sessions {
			<-d
		}
		close(done)
	}()

	select {
	case <-ctx.Done():
		for s := range sessions {
			_ = s.Close(ctx, false)
		}
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Sessions returns a snapshot of the currently active sessions.
func (n *Node) Sessions() []*session.Session {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*session.Session, 0, len(n.sessions))
	for s := range n.sessions {
		out = append(out, s)
	}
	return out
}
