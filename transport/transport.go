// Package transport defines the transport abstraction Wire bridges to:
// Transport, Dialer, and Listener. Concrete implementations live in
// transport/tcp and transport/ws.
package transport

import (
	"io"
	"net"

	"github.com/gostdlib/base/context"
)

// Transport is a reliable, ordered, full-duplex byte stream with
// connection identity. Every Asterisque Wire rides on one.
type Transport interface {
	io.ReadWriteCloser

	// LocalAddr returns the local network address, if known.
	LocalAddr() net.Addr
	// RemoteAddr returns the remote network address, if known.
	RemoteAddr() net.Addr
	// TLSDescriptor describes the negotiated TLS session, or nil for a
	// plaintext transport.
	TLSDescriptor() *TLSDescriptor
}

// TLSDescriptor summarizes a negotiated TLS session for diagnostics. It
// deliberately exposes no secret material.
type TLSDescriptor struct {
	Version     uint16
	CipherSuite uint16
	ServerName  string
}

// Dialer establishes new transport connections to a remote endpoint. The
// side that calls Dial is the secondary peer in the resulting Session.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// Listener accepts incoming transport connections. The side that calls
// Accept is the primary peer in the resulting Session.
type Listener interface {
	Accept(ctx context.Context) (Transport, error)
	Close() error
	Addr() net.Addr
}

// netConnTransport adapts a net.Conn to Transport for transports with no
// TLS descriptor of their own.
type netConnTransport struct {
	net.Conn
	tlsDescriptor *TLSDescriptor
}

// FromNetConn wraps conn as a Transport. descriptor may be nil.
func FromNetConn(conn net.Conn, descriptor *TLSDescriptor) Transport {
	return &netConnTransport{Conn: conn, tlsDescriptor: descriptor}
}

func (t *netConnTransport) LocalAddr() net.Addr           { return t.Conn.LocalAddr() }
func (t *netConnTransport) RemoteAddr() net.Addr          { return t.Conn.RemoteAddr() }
func (t *netConnTransport) TLSDescriptor() *TLSDescriptor { return t.tlsDescriptor }
