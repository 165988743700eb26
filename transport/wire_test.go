package transport

import (
	"net"
	"testing"
	"time"

	"github.com/asterisque/asterisque/wire"
)

type pipeTransport struct {
	net.Conn
}

func (p pipeTransport) TLSDescriptor() *TLSDescriptor { return nil }

func newWirePair(t *testing.T) (*Wire, *Wire) {
	t.Helper()
	a, b := net.Pipe()
	wa := New("a", true, pipeTransport{a}, 0, 0)
	wb := New("b", false, pipeTransport{b}, 0, 0)
	ctx := t.Context()
	go wa.Run(ctx)
	go wb.Run(ctx)
	t.Cleanup(func() {
		wa.Close()
		wb.Close()
	})
	return wa, wb
}

func TestWireRoundTripsMessages(t *testing.T) {
	wa, wb := newWirePair(t)

	if err := wa.Outbound.Offer(wire.NewPing(7)); err != nil {
		t.Fatalf("Offer: %v", err)
	}

	msg, ok := wb.Inbound.Take(t.Context(), 2*time.Second)
	if !ok {
		t.Fatal("expected to receive the ping on b's inbound queue")
	}
	if msg.Control.PingNonce != 7 {
		t.Fatalf("nonce = %d, want 7", msg.Control.PingNonce)
	}
}

func TestWireCloseStopsLoops(t *testing.T) {
	a, b := net.Pipe()
	wa := New("a", true, pipeTransport{a}, 0, 0)
	ctx := t.Context()
	runDone := make(chan struct{})
	go func() {
		wa.Run(ctx)
		close(runDone)
	}()

	wa.Close()
	b.Close()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after Close")
	}
}
