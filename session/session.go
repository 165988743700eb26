// Package session implements Session (spec §4.6): the protocol state
// machine, handshake, and dispatch loop that sits between one Wire and
// that peer's PipeSpace. A Session is created already bound to a Wire;
// Run drives the handshake and then the dispatch loop until the wire
// closes or the session is closed.
package session

import (
	"fmt"
	"time"

	basesync "github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"
	"github.com/google/uuid"

	"github.com/asterisque/asterisque/asterisqueerrors"
	"github.com/asterisque/asterisque/interceptor"
	"github.com/asterisque/asterisque/pipe"
	"github.com/asterisque/asterisque/pipespace"
	"github.com/asterisque/asterisque/repository"
	"github.com/asterisque/asterisque/transport"
	"github.com/asterisque/asterisque/wire"
)

// State is one position in the Session state machine:
// AwaitingHandshake → Active → Closing → Closed.
type State int

const (
	StateAwaitingHandshake State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "AwaitingHandshake"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Handler invokes a registered function. p is passed explicitly (spec §9
// Design Note: explicit Pipe-as-first-parameter over thread-locals) so a
// streaming handler can read p.BlockStream()/write p.SendBlock without
// any ambient call-scoped state.
type Handler func(ctx context.Context, p *pipe.Pipe, params []wire.Value) (wire.Value, error)

// Registry resolves a functionId to its registered Handler. Node supplies
// the concrete implementation; Session only ever calls Lookup.
type Registry interface {
	Lookup(functionID uint16) (Handler, bool)
}

const protocolVersion = uint16(wire.ProtocolMajor)<<8 | uint16(wire.ProtocolMinor)

const resumptionTTL = 5 * time.Minute

// Option configures a Session at construction.
type Option func(*Session)

// WithRepository supplies the session-resumption collaborator. Only
// consulted on the primary side; ignored otherwise.
func WithRepository(repo repository.Repository) Option {
	return func(s *Session) { s.repo = repo }
}

// WithPrincipal records the peer's validated identity (spec §6 Trust),
// used to namespace repository entries. Defaults to "".
func WithPrincipal(principal string) Option {
	return func(s *Session) { s.principal = principal }
}

// WithInterceptor installs dispatch middleware around every inbound
// Open's function invocation.
func WithInterceptor(ic interceptor.Interceptor) Option {
	return func(s *Session) { s.chain = ic }
}

// WithPingBounds overrides the negotiable ping-interval range. Only
// meaningful on the primary side, which performs the clamp.
func WithPingBounds(min, max time.Duration) Option {
	return func(s *Session) { s.minPing, s.maxPing = min, max }
}

// WithTimeoutBounds overrides the negotiable session-timeout range. Only
// meaningful on the primary side, which performs the clamp.
func WithTimeoutBounds(min, max time.Duration) Option {
	return func(s *Session) { s.minTimeout, s.maxTimeout = min, max }
}

// WithRequestedPing sets the ping interval the secondary side requests
// during handshake. The primary side may clamp it.
func WithRequestedPing(d time.Duration) Option {
	return func(s *Session) { s.requestedPing = d }
}

// WithRequestedTimeout sets the session timeout the secondary side
// requests during handshake. The primary side may clamp it.
func WithRequestedTimeout(d time.Duration) Option {
	return func(s *Session) { s.requestedTimeout = d }
}

// WithResumeID tells the secondary side to request resumption of a
// previously assigned session id. Ignored on the primary side.
func WithResumeID(id uuid.UUID) Option {
	return func(s *Session) { s.id = id }
}

// WithOnClosed registers a callback invoked exactly once when the
// session reaches Closed, from whichever path (peer close, local close,
// wire failure, or protocol violation) gets there first.
func WithOnClosed(fn func(*Session)) Option {
	return func(s *Session) { s.onClosed = fn }
}

// Session is the protocol state machine bound to one Wire. The zero
// value is not usable; use New.
type Session struct {
	wire    *transport.Wire
	pipes   *pipespace.PipeSpace
	primary bool
	nodeID  uuid.UUID

	registry Registry
	repo     repository.Repository
	chain    interceptor.Interceptor

	principal string

	minPing, maxPing             time.Duration
	minTimeout, maxTimeout       time.Duration
	requestedPing, requestedTimeout time.Duration

	onClosed func(*Session)

	mu             basesync.Mutex
	state          State
	id             uuid.UUID
	remoteNodeID   uuid.UUID
	pingInterval   time.Duration
	sessionTimeout time.Duration

	closeOnce basesync.Once
}

// New constructs a Session bound to w. registry resolves inbound Opens
// to handlers; it may be nil if this side never accepts calls.
func New(w *transport.Wire, primary bool, nodeID uuid.UUID, registry Registry, opts ...Option) *Session {
	s := &Session{
		wire:             w,
		pipes:            pipespace.New(primary),
		primary:          primary,
		nodeID:           nodeID,
		registry:         registry,
		state:            StateAwaitingHandshake,
		minPing:          5 * time.Second,
		maxPing:          300 * time.Second,
		minTimeout:       30 * time.Second,
		maxTimeout:       3600 * time.Second,
		requestedPing:    30 * time.Second,
		requestedTimeout: 120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session's negotiated UUID. Before the handshake completes
// it is uuid.Nil, or the id supplied via WithResumeID.
func (s *Session) ID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// RemoteNodeID returns the peer's node identity, known from the
// handshake onward.
func (s *Session) RemoteNodeID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteNodeID
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PingInterval and SessionTimeout report the negotiated values, valid
// once the session is Active.
func (s *Session) PingInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingInterval
}

func (s *Session) SessionTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionTimeout
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Open allocates a Pipe and posts an Open for functionID (spec §4.6's
// `open(priority, functionId, params) → Future<Result>` primitive). The
// caller awaits the result on the returned Pipe's Future.
func (s *Session) Open(priority wire.Priority, functionID uint16, params []wire.Value) (*pipe.Pipe, error) {
	if s.State() != StateActive {
		return nil, &asterisqueerrors.Error{Cat: asterisqueerrors.CatSession, Typ: asterisqueerrors.TypeClosed}
	}
	p, err := s.pipes.Allocate(priority, s.wire)
	if err != nil {
		return nil, err
	}
	if err := p.Open(functionID, params); err != nil {
		return nil, err
	}
	return p, nil
}

// Run performs the handshake and then drives the dispatch loop until the
// wire closes, a protocol violation forces the session shut, or the peer
// (or a local caller) closes the session. It returns the handshake's
// error if the handshake fails; once the session is Active, every way the
// loop ends, including a protocol violation, returns nil.
func (s *Session) Run(ctx context.Context) error {
	if err := s.handshake(ctx); err != nil {
		s.teardown(ctx, fmt.Sprintf("handshake failed: %v", err))
		return err
	}

	for {
		msg, ok := s.wire.Inbound.Take(ctx, 0)
		if !ok {
			s.teardown(ctx, "wire closed")
			return nil
		}
		s.wire.NoteBlockDispatched(msg)
		if s.dispatch(ctx, msg) {
			return nil
		}
	}
}

// handshake runs the SyncConfig exchange (spec §4.6). The secondary side
// speaks first; the primary side allocates or resumes the session id and
// negotiates ping/timeout by clamping the secondary's request.
func (s *Session) handshake(ctx context.Context) error {
	if !s.primary {
		req := wire.SyncConfig{
			ProtocolVersion: protocolVersion,
			NodeID:          s.nodeID,
			SessionID:       s.ID(),
			UTCMillis:       time.Now().UnixMilli(),
			PingSeconds:     int32(s.requestedPing / time.Second),
			SessionTimeoutS: int32(s.requestedTimeout / time.Second),
		}
		if err := s.wire.Post(wire.NewSyncConfig(req)); err != nil {
			return err
		}
	}

	msg, ok := s.wire.Inbound.Take(ctx, 0)
	if !ok {
		return fmt.Errorf("session: wire closed during handshake")
	}
	if msg.Type != wire.TypeControl || msg.Control.Subcode != wire.SubcodeSyncConfig {
		return &asterisqueerrors.Error{Cat: asterisqueerrors.CatSession, Typ: asterisqueerrors.TypeProtocol,
			Cause: fmt.Errorf("expected SyncConfig, got %s", msg.Type)}
	}
	peer := msg.Control.SyncConfig

	if s.primary {
		id := s.resolveSessionID(ctx, peer.SessionID)
		ping := clampSeconds(peer.PingSeconds, int32(s.minPing/time.Second), int32(s.maxPing/time.Second))
		timeout := clampSeconds(peer.SessionTimeoutS, int32(s.minTimeout/time.Second), int32(s.maxTimeout/time.Second))

		s.mu.Lock()
		s.id = id
		s.remoteNodeID = peer.NodeID
		s.pingInterval = time.Duration(ping) * time.Second
		s.sessionTimeout = time.Duration(timeout) * time.Second
		s.mu.Unlock()

		reply := wire.SyncConfig{
			ProtocolVersion: protocolVersion,
			NodeID:          s.nodeID,
			SessionID:       id,
			UTCMillis:       time.Now().UnixMilli(),
			PingSeconds:     ping,
			SessionTimeoutS: timeout,
		}
		if err := s.wire.Post(wire.NewSyncConfig(reply)); err != nil {
			return err
		}
	} else {
		s.mu.Lock()
		s.id = peer.SessionID
		s.remoteNodeID = peer.NodeID
		s.pingInterval = time.Duration(peer.PingSeconds) * time.Second
		s.sessionTimeout = time.Duration(peer.SessionTimeoutS) * time.Second
		s.mu.Unlock()
	}

	s.setState(StateActive)
	return nil
}

// resolveSessionID allocates a fresh id, unless requested names a
// previously-issued id this side can resume from the repository.
func (s *Session) resolveSessionID(ctx context.Context, requested uuid.UUID) uuid.UUID {
	if requested != uuid.Nil && s.repo != nil {
		if _, err := s.repo.LoadAndDelete(ctx, s.principal, requested); err == nil {
			return requested
		}
	}
	if s.repo != nil {
		if id, err := s.repo.NextUUID(ctx); err == nil {
			return id
		}
	}
	return uuid.New()
}

func clampSeconds(requested, min, max int32) int32 {
	if requested < min {
		return min
	}
	if requested > max {
		return max
	}
	return requested
}

// dispatch processes one inbound message (spec §4.6 Dispatch). It
// reports whether the dispatch loop must stop.
func (s *Session) dispatch(ctx context.Context, msg *wire.Message) bool {
	switch msg.Type {
	case wire.TypeControl:
		return s.dispatchControl(ctx, msg.Control)
	case wire.TypeOpen:
		s.dispatchOpen(ctx, msg.Open)
	case wire.TypeBlock:
		s.dispatchBlock(msg.Block)
	case wire.TypeClose:
		s.dispatchClose(msg.Close)
	}
	return false
}

func (s *Session) dispatchControl(ctx context.Context, c *wire.Control) bool {
	switch c.Subcode {
	case wire.SubcodeClose:
		s.teardown(ctx, "peer closed session")
		return true
	case wire.SubcodePing:
		_ = s.wire.Post(wire.NewPong(c.PingNonce))
	case wire.SubcodePong:
		// Liveness signal only; nothing to act on.
	case wire.SubcodeSyncConfig:
		s.teardown(ctx, "unexpected SyncConfig after handshake")
		return true
	}
	return false
}

func (s *Session) dispatchOpen(ctx context.Context, o *wire.Open) {
	p, duplicate := s.pipes.Create(o.PipeID, o.Priority, s.wire)
	if duplicate {
		_ = s.wire.Post(wire.NewCloseFailure(o.PipeID, int32(asterisqueerrors.TypeProtocol), "duplicate pipe id"))
		return
	}

	pool := context.Pool(ctx)
	pool.Submit(ctx, func() {
		defer func() {
			if r := recover(); r != nil {
				p.CloseFailure(int32(asterisqueerrors.TypeUnknown), fmt.Sprintf("internal error: %v", r))
				s.pipes.Destroy(p.ID())
			}
		}()
		s.invoke(ctx, p, o.FunctionID, o.Priority, o.Params)
	})
}

func (s *Session) dispatchBlock(b *wire.Block) {
	p, ok := s.pipes.Lookup(b.PipeID)
	if !ok {
		_ = s.wire.Post(wire.NewCloseFailure(b.PipeID, int32(asterisqueerrors.TypeNotFound), "unknown pipe-id"))
		return
	}
	p.DeliverBlock(b)
}

func (s *Session) dispatchClose(c *wire.Close) {
	p, ok := s.pipes.Lookup(c.PipeID)
	if !ok {
		return
	}
	p.OnRemoteClose(c)
	s.pipes.Destroy(c.PipeID)
}

// invoke looks up and runs the handler for a remotely-opened pipe,
// routing through the interceptor chain if one is installed, and always
// replies with a Close carrying the handler's result or error.
func (s *Session) invoke(ctx context.Context, p *pipe.Pipe, functionID uint16, priority wire.Priority, params []wire.Value) {
	p.MarkRunning()

	h, ok := s.registry.Lookup(functionID)
	if !ok {
		p.CloseFailure(int32(asterisqueerrors.TypeNotFound), fmt.Sprintf("function not found: %d", functionID))
		s.pipes.Destroy(p.ID())
		return
	}

	call := func(ctx context.Context, params []wire.Value) (wire.Value, error) {
		return h(ctx, p, params)
	}
	if s.chain != nil {
		info := &interceptor.Info{SessionID: s.ID().String(), PipeID: p.ID(), FunctionID: functionID, Priority: priority}
		inner := call
		call = func(ctx context.Context, params []wire.Value) (wire.Value, error) {
			return s.chain(ctx, params, info, inner)
		}
	}

	result, err := call(ctx, params)
	if err != nil {
		p.CloseFailure(appCode(err), err.Error())
	} else {
		p.CloseSuccess(result)
	}
	s.pipes.Destroy(p.ID())
}

func appCode(err error) int32 {
	var e *asterisqueerrors.Error
	if asterisqueerrors.As(err, &e) {
		return int32(e.Typ)
	}
	return int32(asterisqueerrors.TypeUnknown)
}

// Close ends the session. A graceful close posts Control{Close} to the
// peer before tearing down local state; a forced close skips that
// notification. Idempotent: only the first call has any effect.
func (s *Session) Close(ctx context.Context, graceful bool) error {
	if graceful && s.State() == StateActive {
		if s.primary && s.repo != nil {
			_ = s.repo.Store(ctx, s.principal, s.ID(), []byte{}, time.Now().Add(resumptionTTL))
		}
		_ = s.wire.Post(wire.NewControlClose())
	}
	s.teardown(ctx, "session closed locally")
	return nil
}

// teardown cancels every pipe with reason, transitions to Closed, closes
// the wire, and fires onClosed — all exactly once regardless of which
// caller (peer Close, local Close, wire failure, protocol violation)
// reaches it first (spec §5: a Session's resources are torn down
// together on every exit path).
func (s *Session) teardown(ctx context.Context, reason string) {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		for _, p := range s.pipes.All() {
			p.OnPeerClosed(reason)
		}
		s.setState(StateClosed)
		_ = s.wire.Close()
		if s.onClosed != nil {
			s.onClosed(s)
		}
	})
}
