package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDialAndServeRoundTrip(t *testing.T) {
	ctx := t.Context()
	ln := NewListener(nil)
	srv := httptest.NewServer(http.HandlerFunc(ln.ServeHTTP))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

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

	dialer := NewDialer(wsURL)
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

func TestReadReassemblesMultipleWrites(t *testing.T) {
	ctx := t.Context()
	ln := NewListener(nil)
	srv := httptest.NewServer(http.HandlerFunc(ln.ServeHTTP))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	resultCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		server, err := ln.Accept(ctx)
		if err != nil {
			errCh <- err
			return
		}
		defer server.Close()
		buf := make([]byte, 11)
		n := 0
		for n < len(buf) {
			m, err := server.Read(buf[n:])
			if err != nil {
				errCh <- err
				return
			}
			n += m
		}
		resultCh <- string(buf)
	}()

	client, err := NewDialer(wsURL).Dial(ctx)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	// Three separate Write calls, like the several (four) that wire.Encode
	// issues for one frame.
	client.Write([]byte("hello"))
	client.Write([]byte(" "))
	client.Write([]byte("world"))

	select {
	case got := <-resultCh:
		if got != "hello world" {
			t.Fatalf("got %q, want %q", got, "hello world")
		}
	case err := <-errCh:
		t.Fatalf("server goroutine: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

type errUnexpected string

func (e errUnexpected) Error() string { return "unexpected payload: " + string(e) }
