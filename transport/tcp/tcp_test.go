package tcp

import (
	"testing"
	"time"
)

func TestDialAndAccept(t *testing.T) {
	ctx := t.Context()
	ln, err := Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	dialer := NewDialer(ln.Addr().String(), WithDialTimeout(2*time.Second))

	acceptErrCh := make(chan error, 1)
	go func() {
		server, err := ln.Accept(ctx)
		if err != nil {
			acceptErrCh <- err
			return
		}
		defer server.Close()
		buf := make([]byte, 5)
		if _, err := server.Read(buf); err != nil {
			acceptErrCh <- err
			return
		}
		if string(buf) != "hello" {
			acceptErrCh <- errUnexpected(string(buf))
			return
		}
		acceptErrCh <- nil
	}()

	client, err := dialer.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case err := <-acceptErrCh:
		if err != nil {
			t.Fatalf("server goroutine: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server goroutine")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := t.Context()
	ln, err := Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := ln.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := ln.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

type errUnexpected string

func (e errUnexpected) Error() string { return "unexpected payload: " + string(e) }
