// Package tcp implements a transport.Transport over plain or TLS-wrapped
// TCP, buffering reads and writes with bufio.
package tcp

import (
	"bufio"
	"crypto/tls"
	"errors"
	"net"
	"time"

	basesync "github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"

	"github.com/asterisque/asterisque/transport"
)

// ErrClosed is returned by Read/Write/Accept after Close.
var ErrClosed = errors.New("tcp: transport closed")

type config struct {
	tlsConfig       *tls.Config
	dialTimeout     time.Duration
	readBufferSize  int
	writeBufferSize int
	keepAlive       time.Duration
}

func defaultConfig() *config {
	return &config{
		dialTimeout:     30 * time.Second,
		readBufferSize:  64 * 1024,
		writeBufferSize: 64 * 1024,
		keepAlive:       30 * time.Second,
	}
}

// Option configures a Listener or Dialer.
type Option func(*config)

// WithTLSConfig enables TLS. If not set, plain TCP is used.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *config) { c.tlsConfig = cfg }
}

// WithDialTimeout sets the timeout for connection establishment. Default 30s.
func WithDialTimeout(d time.Duration) Option {
	return func(c *config) { c.dialTimeout = d }
}

// WithReadBufferSize sets the bufio.Reader size. Default 64KiB.
func WithReadBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.readBufferSize = size
		}
	}
}

// WithWriteBufferSize sets the bufio.Writer size. Default 64KiB.
func WithWriteBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.writeBufferSize = size
		}
	}
}

// WithKeepAlive sets the TCP keep-alive period. Default 30s; 0 selects the
// net package's default period, and a negative value disables keep-alives.
func WithKeepAlive(d time.Duration) Option {
	return func(c *config) { c.keepAlive = d }
}

// Listener implements transport.Listener over TCP.
type Listener struct {
	listener net.Listener
	config   *config

	mu     basesync.Mutex
	closed bool
}

// Listen opens a TCP listener on addr ("host:port" or ":port").
func Listen(ctx context.Context, addr string, opts ...Option) (*Listener, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	lc := net.ListenConfig{KeepAlive: cfg.keepAlive}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if cfg.tlsConfig != nil {
		ln = tls.NewListener(ln, cfg.tlsConfig)
	}
	return &Listener{listener: ln, config: cfg}, nil
}

// Accept waits for and returns the next connection as a transport.Transport.
func (l *Listener) Accept(ctx context.Context) (transport.Transport, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	ln := l.listener
	l.mu.Unlock()

	type result struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		resultCh <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return nil, r.err
		}
		return newConnTransport(r.conn, l.config), nil
	}
}

// Close closes the listener. Already-accepted connections are unaffected.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.listener.Close()
}

// Addr returns the listener's bound network address.
func (l *Listener) Addr() net.Addr { return l.listener.Addr() }

var _ transport.Listener = (*Listener)(nil)

// Dialer implements transport.Dialer over TCP.
type Dialer struct {
	addr   string
	config *config
}

// NewDialer builds a Dialer that connects to addr.
func NewDialer(addr string, opts ...Option) *Dialer {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Dialer{addr: addr, config: cfg}
}

// Dial connects to the configured address.
func (d *Dialer) Dial(ctx context.Context) (transport.Transport, error) {
	dctx, cancel := context.WithTimeout(ctx, d.config.dialTimeout)
	defer cancel()

	var dialer net.Dialer
	dialer.KeepAlive = d.config.keepAlive

	var conn net.Conn
	var err error
	if d.config.tlsConfig != nil {
		tlsDialer := tls.Dialer{NetDialer: &dialer, Config: d.config.tlsConfig}
		conn, err = tlsDialer.DialContext(dctx, "tcp", d.addr)
	} else {
		conn, err = dialer.DialContext(dctx, "tcp", d.addr)
	}
	if err != nil {
		return nil, err
	}
	return newConnTransport(conn, d.config), nil
}

var _ transport.Dialer = (*Dialer)(nil)

// connTransport wraps a net.Conn (plain or TLS) with buffered I/O.
type connTransport struct {
	conn   net.Conn
	config *config

	readMu basesync.Mutex
	reader *bufio.Reader

	writeMu basesync.Mutex
	writer  *bufio.Writer

	stateMu basesync.Mutex
	closed  bool
}

func newConnTransport(conn net.Conn, cfg *config) *connTransport {
	return &connTransport{
		conn:   conn,
		config: cfg,
		reader: bufio.NewReaderSize(conn, cfg.readBufferSize),
		writer: bufio.NewWriterSize(conn, cfg.writeBufferSize),
	}
}

func (t *connTransport) Read(p []byte) (int, error) {
	t.stateMu.Lock()
	closed := t.closed
	t.stateMu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	t.readMu.Lock()
	defer t.readMu.Unlock()
	return t.reader.Read(p)
}

// Write buffers p then flushes immediately, so the bytes of every Write
// (wire.Encode issues several per frame) reach the peer without waiting
// for an unrelated later flush.
func (t *connTransport) Write(p []byte) (int, error) {
	t.stateMu.Lock()
	closed := t.closed
	t.stateMu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	n, err := t.writer.Write(p)
	if err != nil {
		return n, err
	}
	return n, t.writer.Flush()
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
	tlsConn, ok := t.conn.(*tls.Conn)
	if !ok {
		return nil
	}
	state := tlsConn.ConnectionState()
	return &transport.TLSDescriptor{
		Version:     state.Version,
		CipherSuite: state.CipherSuite,
		ServerName:  state.ServerName,
	}
}

var _ transport.Transport = (*connTransport)(nil)
