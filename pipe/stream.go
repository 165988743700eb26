package pipe

import (
	"errors"
	"io"

	basesync "github.com/gostdlib/base/concurrency/sync"

	"github.com/asterisque/asterisque/wire"
)

// DefaultStreamBufferSize is the byte-oriented output adapter's default
// internal buffer size before it flushes into Blocks.
const DefaultStreamBufferSize = 4096

// ErrInputStreamNotEnabled is returned by InputStream.Read until the pipe's
// own service function has opted in via EnableInputStream.
var ErrInputStreamNotEnabled = errors.New("pipe: input stream not enabled")

// ErrOutputStreamClosed is returned by OutputStream.Write/Flush once Close
// has run.
var ErrOutputStreamClosed = errors.New("pipe: output stream closed")

// OutputStream adapts Pipe's Block-oriented sends to a byte-oriented
// writer: Write accumulates into a fixed buffer, and Flush (or the buffer
// filling past its capacity) slices the buffered bytes into fragments no
// larger than wire.MaxPayloadSize, each posted as its own Block.
type OutputStream struct {
	p       *Pipe
	bufSize int

	mu     basesync.Mutex
	buf    []byte
	closed bool
}

// OutputStream returns the byte-oriented write adapter for p, with a
// bufSize-byte internal buffer (DefaultStreamBufferSize if bufSize <= 0).
// Every call returns a fresh adapter sharing the pipe's send path; callers
// should use one at a time.
func (p *Pipe) OutputStream(bufSize int) *OutputStream {
	if bufSize <= 0 {
		bufSize = DefaultStreamBufferSize
	}
	return &OutputStream{p: p, bufSize: bufSize}
}

// Write buffers data, flushing automatically once the buffer reaches its
// configured capacity. It never blocks the caller on a partial Block.
func (o *OutputStream) Write(data []byte) (int, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return 0, ErrOutputStreamClosed
	}
	o.buf = append(o.buf, data...)
	shouldFlush := len(o.buf) >= o.bufSize
	o.mu.Unlock()

	if shouldFlush {
		if err := o.Flush(); err != nil {
			return 0, err
		}
	}
	return len(data), nil
}

// Flush fragments any buffered bytes into ≤ wire.MaxPayloadSize Blocks and
// posts them, emptying the buffer. A Flush with nothing buffered is a
// no-op.
func (o *OutputStream) Flush() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrOutputStreamClosed
	}
	data := o.buf
	o.buf = nil
	o.mu.Unlock()

	for len(data) > 0 {
		n := len(data)
		if n > wire.MaxPayloadSize {
			n = wire.MaxPayloadSize
		}
		o.p.SendBlock(data[:n])
		data = data[n:]
	}
	return nil
}

// Close flushes any remaining buffered bytes and posts an EOF Block.
// Idempotent.
func (o *OutputStream) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	data := o.buf
	o.buf = nil
	o.mu.Unlock()

	for len(data) > 0 {
		n := len(data)
		if n > wire.MaxPayloadSize {
			n = wire.MaxPayloadSize
		}
		o.p.SendBlock(data[:n])
		data = data[n:]
	}
	o.p.SendEOF()
	return nil
}

// InputStream adapts Pipe's Block-oriented delivery to a byte-oriented
// reader. It must be opted into from the service function's own dispatch
// goroutine via EnableInputStream before Read will drain anything; reading
// an unopted-in stream returns ErrInputStreamNotEnabled rather than
// silently waiting on data nobody asked for.
type InputStream struct {
	p *Pipe

	mu      basesync.Mutex
	enabled bool
	head    []byte
	eof     bool
}

// Input returns the pipe's byte-oriented input adapter. It always returns
// the same instance; Read on it errors with ErrInputStreamNotEnabled until
// EnableInputStream has run.
func (p *Pipe) Input() *InputStream {
	p.inputOnce.Do(func() {
		p.input = &InputStream{p: p}
	})
	return p.input
}

// EnableInputStream opts the pipe into byte-oriented reading and returns
// the adapter. Call this from within the service function itself (the
// handler's own dispatch goroutine) before any Read.
func (p *Pipe) EnableInputStream() *InputStream {
	s := p.Input()
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()
	return s
}

// Read implements io.Reader over the pipe's received Block payloads,
// draining a head buffer so partial reads never lose bytes. It returns
// io.EOF once the peer's EOF Block (or the pipe closing) has drained.
func (s *InputStream) Read(buf []byte) (int, error) {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return 0, ErrInputStreamNotEnabled
	}
	for len(s.head) == 0 && !s.eof {
		s.mu.Unlock()
		chunk, ok := <-s.p.blockCh
		s.mu.Lock()
		if !ok {
			s.eof = true
			break
		}
		s.head = chunk
	}
	if len(s.head) == 0 {
		s.mu.Unlock()
		return 0, io.EOF
	}
	n := copy(buf, s.head)
	s.head = s.head[n:]
	s.mu.Unlock()
	return n, nil
}
