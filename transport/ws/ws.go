// Package ws implements a transport.Transport over a WebSocket connection
// (github.com/gorilla/websocket), adapting its message-oriented API to the
// continuous byte stream transport.Transport expects: each io.Writer.Write
// call is sent as one WebSocket binary message, and Read transparently
// reassembles incoming messages into the caller's requested chunk sizes.
package ws

import (
	"bytes"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	basesync "github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"

	"github.com/asterisque/asterisque/transport"
)

// ErrClosed is returned by Write and Accept after Close.
var ErrClosed = errors.New("ws: transport closed")

type config struct {
	tlsConfig    *tls.Config
	handshakeTO  time.Duration
	readBufSize  int
	writeBufSize int
}

func defaultConfig() *config {
	return &config{
		handshakeTO:  10 * time.Second,
		readBufSize:  4096,
		writeBufSize: 4096,
	}
}

// Option configures a Listener or Dialer.
type Option func(*config)

// WithTLSConfig sets the TLS config used to dial wss:// targets.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *config) { c.tlsConfig = cfg }
}

// WithHandshakeTimeout bounds the WebSocket upgrade handshake. Default 10s.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *config) { c.handshakeTO = d }
}

// Dialer implements transport.Dialer over a WebSocket client connection.
type Dialer struct {
	url    string
	header http.Header
	config *config
}

// NewDialer builds a Dialer that connects to target (a ws:// or wss:// URL).
func NewDialer(target string, opts ...Option) *Dialer {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Dialer{url: target, config: cfg}
}

// Dial performs the WebSocket upgrade handshake and returns a Transport.
func (d *Dialer) Dial(ctx context.Context) (transport.Transport, error) {
	if _, err := url.Parse(d.url); err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		TLSClientConfig:  d.config.tlsConfig,
		HandshakeTimeout: d.config.handshakeTO,
	}
	conn, _, err := dialer.DialContext(ctx, d.url, d.header)
	if err != nil {
		return nil, err
	}
	return newConnTransport(conn), nil
}

var _ transport.Dialer = (*Dialer)(nil)

// Listener implements transport.Listener by upgrading incoming HTTP
// requests on an already-running http.Server to WebSocket connections.
// Unlike tcp.Listener it does not own a net.Listener directly — Serve
// must be wired into an http.ServeMux (or equivalent) at the desired path.
type Listener struct {
	upgrader websocket.Upgrader
	addr     net.Addr

	acceptCh chan transport.Transport

	mu     basesync.Mutex
	closed bool
}

// NewListener constructs a Listener. ServeHTTP must be mounted on an
// http.Server for Accept to ever receive a connection.
func NewListener(addr net.Addr) *Listener {
	return &Listener{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		addr:     addr,
		acceptCh: make(chan transport.Transport),
	}
}

// ServeHTTP upgrades the request to a WebSocket connection and hands it to
// a pending Accept call. It blocks until accepted or the listener closes.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		conn.Close()
		return
	}
	defer func() {
		// Close closed acceptCh while this send was still pending.
		if recover() != nil {
			conn.Close()
		}
	}()
	l.acceptCh <- newConnTransport(conn)
}

// Accept waits for the next upgraded connection.
func (l *Listener) Accept(ctx context.Context) (transport.Transport, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case t, ok := <-l.acceptCh:
		if !ok {
			return nil, ErrClosed
		}
		return t, nil
	}
}

// Close stops future Accept calls from succeeding.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.acceptCh)
	return nil
}

// Addr returns the address the owning http.Server is bound to.
func (l *Listener) Addr() net.Addr { return l.addr }

var _ transport.Listener = (*Listener)(nil)

// connTransport adapts *websocket.Conn to transport.Transport.
type connTransport struct {
	conn *websocket.Conn

	readMu  basesync.Mutex
	pending bytes.Buffer

	writeMu basesync.Mutex

	stateMu basesync.Mutex
	closed  bool
}

func newConnTransport(conn *websocket.Conn) *connTransport {
	return &connTransport{conn: conn}
}

// Read reassembles incoming WebSocket binary messages into a continuous
// byte stream, buffering any remainder between calls.
func (t *connTransport) Read(p []byte) (int, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	for t.pending.Len() == 0 {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		t.pending.Write(data)
	}
	return t.pending.Read(p)
}

// Write sends p as one WebSocket binary message. Asterisque frames are
// encoded as a handful of small sequential writes to the same Transport;
// because WebSocket preserves message order, Read's reassembly makes the
// split transparent to the codec on the far side.
func (t *connTransport) Write(p []byte) (int, error) {
	t.stateMu.Lock()
	closed := t.closed
	t.stateMu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *connTransport) Close() error {
	t.stateMu.Lock()
	if t.closed {
		t.stateMu.Unlock()
		return nil
	}
	t.closed = true
	t.stateMu.Unlock()
	return t.conn.Close()
}

func (t *connTransport) LocalAddr() net.Addr  { return t.conn.LocalAddr() }
func (t *connTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

func (t *connTransport) TLSDescriptor() *transport.TLSDescriptor {
	return nil
}

var _ transport.Transport = (*connTransport)(nil)
