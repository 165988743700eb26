package node

import (
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gostdlib/base/context"

	"github.com/asterisque/asterisque/pipe"
	"github.com/asterisque/asterisque/session"
	"github.com/asterisque/asterisque/transport"
	"github.com/asterisque/asterisque/wire"
)

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

func TestServeAndBindDispatchesCalls(t *testing.T) {
	ctx := t.Context()
	wa, wb := newConnectedWires(t)

	server := New(uuid.New())
	if err := server.Serve(1, func(ctx context.Context, p *pipe.Pipe, params []wire.Value) (wire.Value, error) {
		return wire.Str("echo:" + params[0].Str), nil
	}); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	client := New(uuid.New())

	primarySess, err := server.Bind(ctx, wa, true)
	if err != nil {
		t.Fatalf("Bind primary: %v", err)
	}
	secondarySess, err := client.Bind(ctx, wb, false)
	if err != nil {
		t.Fatalf("Bind secondary: %v", err)
	}

	waitFor(t, func() bool { return secondarySess.State() == session.StateActive }, "handshake did not complete")

	p, err := secondarySess.Open(wire.PriorityNormal, 1, []wire.Value{wire.Str("hi")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	select {
	case res := <-p.Future():
		if res.Failed {
			t.Fatalf("unexpected failure: %s", res.Message)
		}
		if res.Value.Str != "echo:hi" {
			t.Fatalf("got %q, want echo:hi", res.Value.Str)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for result")
	}

	if len(server.Sessions()) != 1 {
		t.Fatalf("server should track exactly one session, got %d", len(server.Sessions()))
	}

	if err := server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(server.Sessions()) != 0 {
		t.Fatalf("server should have no sessions after shutdown")
	}
	waitFor(t, func() bool { return primarySess.State() == session.StateClosed }, "primary session did not close")
}

func TestServeRejectsDuplicateRegistration(t *testing.T) {
	n := New(uuid.New())
	h := func(ctx context.Context, p *pipe.Pipe, params []wire.Value) (wire.Value, error) {
		return wire.Null(), nil
	}
	if err := n.Serve(1, h); err != nil {
		t.Fatalf("first Serve: %v", err)
	}
	if err := n.Serve(1, h); err == nil {
		t.Fatalf("expected error re-registering function 1")
	}
}

func TestBindAfterShutdownFails(t *testing.T) {
	ctx := t.Context()
	wa, _ := newConnectedWires(t)
	n := New(uuid.New())
	if err := n.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := n.Bind(ctx, wa, true); err != ErrClosed {
		t.Fatalf("Bind after shutdown: err = %v, want ErrClosed", err)
	}
}
