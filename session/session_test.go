package session

import (
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gostdlib/base/context"

	"github.com/asterisque/asterisque/pipe"
	"github.com/asterisque/asterisque/transport"
	"github.com/asterisque/asterisque/wire"
)

type funcRegistry map[uint16]Handler

func (f funcRegistry) Lookup(id uint16) (Handler, bool) {
	h, ok := f[id]
	return h, ok
}

func newConnectedWires(t *testing.T) (*transport.Wire, *transport.Wire) {
	t.Helper()
	ctx := t.Context()
	a, b := net.Pipe()
	wa := transport.New("primary", true, transport.FromNetConn(a, nil), 8, 8)
	wb := transport.New("secondary", false, transport.FromNetConn(b, nil), 8, 8)
	go wa.Run(ctx)
	go wb.Run(ctx)
	t.Cleanup(func() {
		wa.Close()
		wb.Close()
	})
	return wa, wb
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf(msg)
}

func TestHandshakeNegotiatesSession(t *testing.T) {
	ctx := t.Context()
	wa, wb := newConnectedWires(t)
	primary := New(wa, true, uuid.New(), nil)
	secondary := New(wb, false, uuid.New(), nil)

	go primary.Run(ctx)
	go secondary.Run(ctx)

	waitFor(t, func() bool { return primary.State() == StateActive && secondary.State() == StateActive },
		"handshake did not complete")

	if primary.ID() == uuid.Nil {
		t.Fatalf("primary session id not assigned")
	}
	if primary.ID() != secondary.ID() {
		t.Fatalf("session ids diverge: %s vs %s", primary.ID(), secondary.ID())
	}

	primary.Close(ctx, true)
	waitFor(t, func() bool { return secondary.State() == StateClosed }, "secondary did not observe peer close")
}

func TestEchoCallRoundTrips(t *testing.T) {
	ctx := t.Context()
	wa, wb := newConnectedWires(t)
	reg := funcRegistry{
		1: func(ctx context.Context, p *pipe.Pipe, params []wire.Value) (wire.Value, error) {
			return params[0], nil
		},
	}
	primary := New(wa, true, uuid.New(), reg)
	secondary := New(wb, false, uuid.New(), nil)

	go primary.Run(ctx)
	go secondary.Run(ctx)
	waitFor(t, func() bool { return secondary.State() == StateActive }, "handshake did not complete")

	p, err := secondary.Open(wire.PriorityNormal, 1, []wire.Value{wire.Str("hello")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	select {
	case res := <-p.Future():
		if res.Failed {
			t.Fatalf("unexpected failure: %s", res.Message)
		}
		if res.Value.Str != "hello" {
			t.Fatalf("got %q, want hello", res.Value.Str)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for result")
	}

	primary.Close(ctx, true)
}

func TestStreamingCallTerminatesOnEOF(t *testing.T) {
	ctx := t.Context()
	wa, wb := newConnectedWires(t)
	reg := funcRegistry{
		2: func(ctx context.Context, p *pipe.Pipe, params []wire.Value) (wire.Value, error) {
			p.SendBlock([]byte("a"))
			p.SendBlock([]byte("b"))
			p.SendEOF()
			return wire.Str("done"), nil
		},
	}
	primary := New(wa, true, uuid.New(), reg)
	secondary := New(wb, false, uuid.New(), nil)

	go primary.Run(ctx)
	go secondary.Run(ctx)
	waitFor(t, func() bool { return secondary.State() == StateActive }, "handshake did not complete")

	p, err := secondary.Open(wire.PriorityNormal, 2, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var got []byte
	done := make(chan struct{})
	go func() {
		for chunk := range p.BlockStream() {
			got = append(got, chunk...)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for block stream to end")
	}
	if string(got) != "ab" {
		t.Fatalf("got %q, want ab", got)
	}

	select {
	case res := <-p.Future():
		if res.Failed || res.Value.Str != "done" {
			t.Fatalf("unexpected result: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for future")
	}

	primary.Close(ctx, true)
}

func TestUnknownFunctionFailsTheCall(t *testing.T) {
	ctx := t.Context()
	wa, wb := newConnectedWires(t)
	primary := New(wa, true, uuid.New(), funcRegistry{})
	secondary := New(wb, false, uuid.New(), nil)

	go primary.Run(ctx)
	go secondary.Run(ctx)
	waitFor(t, func() bool { return secondary.State() == StateActive }, "handshake did not complete")

	p, err := secondary.Open(wire.PriorityNormal, 9999, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	select {
	case res := <-p.Future():
		if !res.Failed {
			t.Fatalf("expected failure for unknown function")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for result")
	}

	waitFor(t, func() bool { return primary.State() == StateActive }, "primary session should stay active")
	primary.Close(ctx, true)
}

func TestClosedSessionRejectsOpen(t *testing.T) {
	ctx := t.Context()
	wa, wb := newConnectedWires(t)
	primary := New(wa, true, uuid.New(), nil)
	secondary := New(wb, false, uuid.New(), nil)

	go primary.Run(ctx)
	go secondary.Run(ctx)
	waitFor(t, func() bool { return secondary.State() == StateActive }, "handshake did not complete")

	secondary.Close(ctx, true)
	waitFor(t, func() bool { return secondary.State() == StateClosed }, "session did not close")

	if _, err := secondary.Open(wire.PriorityNormal, 1, nil); err == nil {
		t.Fatalf("expected error opening on a closed session")
	}
}
