// Package pipe implements Pipe (spec §4.4): the scope of one call, its
// payload stream, and its single-fulfillment result future.
package pipe

import (
	"fmt"

	basesync "github.com/gostdlib/base/concurrency/sync"

	"github.com/asterisque/asterisque/asterisqueerrors"
	"github.com/asterisque/asterisque/wire"
)

// State is one position in the Pipe state machine:
// Created → OpenPending → Running ↔ Streaming → Closed.
type State int

const (
	StateCreated State = iota
	StateOpenPending
	StateRunning
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateOpenPending:
		return "OpenPending"
	case StateRunning:
		return "Running"
	case StateStreaming:
		return "Streaming"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Result is the single value a Pipe's future resolves to.
type Result struct {
	Failed  bool
	Value   wire.Value
	AppCode int32
	Message string
}

// Poster posts a message on behalf of a pipe without exposing the whole
// Session back-reference — the "cheaply clonable posting primitive" that
// avoids the Pipe→Session→PipeSpace→Pipe ownership cycle (spec §9).
type Poster interface {
	Post(msg *wire.Message) error
}

// DefaultBlockBufferSize is the depth of a Pipe's inbound Block buffer
// when no Option overrides it. Spec §9 leaves the cap's exact value an
// open question; this is a reasonable default, not a protocol constant.
const DefaultBlockBufferSize = 16

// Option configures an optional Pipe construction parameter.
type Option func(*Pipe)

// WithBlockBufferSize overrides the depth of the inbound Block buffer
// (spec §9 open question: "a configurable finite cap").
func WithBlockBufferSize(n int) Option {
	return func(p *Pipe) { p.blockBufSize = n }
}

// Pipe scopes one call's lifetime. The zero value is not usable; use New.
type Pipe struct {
	id       wire.PipeID
	priority wire.Priority
	poster   Poster

	mu    basesync.Mutex
	state State
	once  basesync.Once

	blockBufSize int
	// blockMu serializes DeliverBlock against closeOnce so a Block can
	// never be sent on a blockCh that a concurrent close has already
	// closed (spec §5: "no panics on valid input").
	blockMu  basesync.Mutex
	blockCh  chan []byte
	blockEOF bool

	inputOnce basesync.Once
	input     *InputStream

	resultCh chan Result
	result   *Result
}

// New constructs a Pipe bound to id, posting future messages via poster.
func New(id wire.PipeID, priority wire.Priority, poster Poster, opts ...Option) *Pipe {
	p := &Pipe{
		id:           id,
		priority:     priority,
		poster:       poster,
		state:        StateCreated,
		blockBufSize: DefaultBlockBufferSize,
		resultCh:     make(chan Result, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.blockCh = make(chan []byte, p.blockBufSize)
	return p
}

// ID returns the pipe's id within its owning PipeSpace.
func (p *Pipe) ID() wire.PipeID { return p.id }

// State reports the pipe's current state.
func (p *Pipe) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Open posts an Open message with params at the pipe's priority. Caller side only.
func (p *Pipe) Open(functionID uint16, params []wire.Value) error {
	p.mu.Lock()
	if p.state != StateCreated {
		p.mu.Unlock()
		return fmt.Errorf("pipe: Open called in state %s", p.state)
	}
	p.state = StateOpenPending
	p.mu.Unlock()
	return p.poster.Post(wire.NewOpen(p.id, p.priority, functionID, params))
}

// MarkRunning transitions OpenPending→Running (the callee side, once the
// Open has been admitted and dispatch begins).
func (p *Pipe) MarkRunning() {
	p.mu.Lock()
	if p.state == StateCreated || p.state == StateOpenPending {
		p.state = StateRunning
	}
	p.mu.Unlock()
}

// SendBlock posts a Block carrying payload. Permitted from any goroutine
// while the pipe is open; after close it silently drops the send.
func (p *Pipe) SendBlock(payload []byte) {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	if p.state == StateRunning {
		p.state = StateStreaming
	}
	p.mu.Unlock()
	_ = p.poster.Post(wire.NewBlock(p.id, p.priority, payload, false))
}

// SendEOF posts a zero-length Block with the EOF flag set.
func (p *Pipe) SendEOF() {
	p.mu.Lock()
	closed := p.state == StateClosed
	p.mu.Unlock()
	if closed {
		return
	}
	_ = p.poster.Post(wire.NewBlock(p.id, p.priority, nil, true))
}

// Future returns a channel that receives the call's Result exactly once,
// whichever of close_success/close_failure/on_remote_close fires first.
func (p *Pipe) Future() <-chan Result {
	return p.resultCh
}

// BlockStream returns the channel of received Block payloads, closed once
// the remote EOF block arrives. Restarting is not supported: the same
// channel is returned on every call and is closed exactly once.
func (p *Pipe) BlockStream() <-chan []byte {
	return p.blockCh
}

// DeliverBlock is called by the Session dispatcher when a Block addressed
// to this pipe arrives. It is invalid to call after EOF has been observed.
// A Block that arrives after the pipe has closed is dropped rather than
// sent on a closed channel (spec §5: "no panics on valid input") — closing
// is racing with delivery by design, since one happens on the dispatch
// loop and the other on whatever goroutine runs the handler.
func (p *Pipe) DeliverBlock(b *wire.Block) {
	p.blockMu.Lock()
	defer p.blockMu.Unlock()
	if p.blockEOF {
		return
	}

	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	if p.state == StateRunning || p.state == StateOpenPending {
		p.state = StateStreaming
	}
	p.mu.Unlock()

	if len(b.Payload) > 0 {
		p.blockCh <- b.Payload
	}
	if b.EOF {
		p.blockEOF = true
		close(p.blockCh)
	}
}

// CloseSuccess is local termination with a successful result: sends a
// Close message and fulfills the future. Idempotent.
func (p *Pipe) CloseSuccess(value wire.Value) {
	p.closeOnce(func() {
		_ = p.poster.Post(wire.NewCloseSuccess(p.id, value))
		p.fulfil(Result{Value: value})
	})
}

// CloseFailure is local termination with a failure result: sends a Close
// message and fulfills the future. Idempotent.
func (p *Pipe) CloseFailure(appCode int32, message string) {
	p.closeOnce(func() {
		_ = p.poster.Post(wire.NewCloseFailure(p.id, appCode, message))
		p.fulfil(Result{Failed: true, AppCode: appCode, Message: message})
	})
}

// OnRemoteClose fulfills the future with the peer's Close and marks the
// pipe closed, without posting anything further (the peer already sent
// its Close; we are reacting to it, not originating one).
func (p *Pipe) OnRemoteClose(c *wire.Close) {
	p.closeOnce(func() {
		if c.Failed {
			p.fulfil(Result{Failed: true, AppCode: c.AppCode, Message: c.Message})
		} else {
			p.fulfil(Result{Value: c.Result})
		}
	})
}

// OnPeerClosed is used by the Session when tearing down pipes on session
// close — there is no Close message to react to, so it fulfills the
// future with a synthetic failure.
func (p *Pipe) OnPeerClosed(reason string) {
	p.closeOnce(func() {
		p.fulfil(Result{Failed: true, Message: reason})
	})
}

func (p *Pipe) closeOnce(fn func()) {
	p.once.Do(func() {
		p.mu.Lock()
		p.state = StateClosed
		p.mu.Unlock()

		p.blockMu.Lock()
		eof := p.blockEOF
		p.blockEOF = true
		p.blockMu.Unlock()
		if !eof {
			close(p.blockCh)
		}
		fn()
	})
}

func (p *Pipe) fulfil(r Result) {
	p.mu.Lock()
	p.result = &r
	p.mu.Unlock()
	p.resultCh <- r
	close(p.resultCh)
}

// ResourceExhaustedErr is returned by a PipeSpace when its id space is full.
func ResourceExhaustedErr(detail string) error {
	return &asterisqueerrors.Error{
		Cat: asterisqueerrors.CatSession,
		Typ: asterisqueerrors.TypeResourceExhausted,
		Cause: fmt.Errorf("%s", detail),
	}
}
