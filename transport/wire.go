package transport

import (
	"errors"
	"fmt"
	"io"
	"net"

	basesync "github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"

	"github.com/asterisque/asterisque/backpressure"
	"github.com/asterisque/asterisque/queue"
	"github.com/asterisque/asterisque/wire"
)

// Default byte/count thresholds for the two Wire-level backpressure
// coordinators (spec §4.8: "two instances guard the session: one on
// pending outbound bytes, one on buffered inbound Blocks awaiting stream
// consumption"). Overridable per-Wire with WithOutboundBackpressure /
// WithInboundBackpressure.
const (
	defaultOutboundSoftBytes = 1 << 20 // 1 MiB pending write
	defaultOutboundHardBytes = 4 << 20
	defaultInboundSoftBlocks = 256 // undispatched Blocks
	defaultInboundHardBlocks = 1024
)

// Option configures optional Wire behavior.
type Option func(*Wire)

// WithOutboundBackpressure overrides the soft/hard byte thresholds for the
// write-side coordinator that gates Post.
func WithOutboundBackpressure(softBytes, hardBytes int) Option {
	return func(w *Wire) { w.outboundSoft, w.outboundHard = softBytes, hardBytes }
}

// WithInboundBackpressure overrides the soft/hard count thresholds for the
// read-side coordinator tracking Blocks sitting in Inbound awaiting
// dispatch.
func WithInboundBackpressure(softBlocks, hardBlocks int) Option {
	return func(w *Wire) { w.inboundSoft, w.inboundHard = softBlocks, hardBlocks }
}

// Wire is the session↔transport interface (spec §4.3). It owns the
// inbound and outbound MessageQueues and the bridge goroutines that pump
// decoded frames in and drain encoded frames out. Wire holds no protocol
// state of its own — it neither knows about pipes nor sessions.
type Wire struct {
	Name    string
	Primary bool

	Inbound  *queue.MessageQueue
	Outbound *queue.MessageQueue

	t Transport

	// OnClosed is invoked once, from whichever side (read or write) first
	// observes the transport closing or erroring.
	OnClosed func(err error)

	failOnce    basesync.Once
	closeChOnce basesync.Once
	closedCh    chan struct{}

	outboundSoft, outboundHard int
	inboundSoft, inboundHard   int

	outboundCoord *backpressure.Coordinator
	outboundGate  *backpressure.Gate
	inboundCoord  *backpressure.Coordinator
}

// New wraps t into a Wire named name, with inbound/outbound cooperative
// limits inboundLimit/outboundLimit (0 disables the limit).
func New(name string, primary bool, t Transport, inboundLimit, outboundLimit int, opts ...Option) *Wire {
	w := &Wire{
		Name:         name,
		Primary:      primary,
		Inbound:      queue.New(name+":inbound", inboundLimit),
		Outbound:     queue.New(name+":outbound", outboundLimit),
		t:            t,
		closedCh:     make(chan struct{}),
		outboundSoft: defaultOutboundSoftBytes,
		outboundHard: defaultOutboundHardBytes,
		inboundSoft:  defaultInboundSoftBlocks,
		inboundHard:  defaultInboundHardBlocks,
	}
	for _, opt := range opts {
		opt(w)
	}

	w.outboundGate = backpressure.NewGate()
	w.outboundCoord = backpressure.New(backpressure.Config{
		SoftLimit:  w.outboundSoft,
		HardLimit:  w.outboundHard,
		OnOverload: func(overloaded bool) { w.outboundGate.Set(!overloaded) },
	})
	w.inboundCoord = backpressure.New(backpressure.Config{
		SoftLimit: w.inboundSoft,
		HardLimit: w.inboundHard,
		OnBroken: func() {
			w.fail(fmt.Errorf("wire %s: inbound Block backlog exceeded hard limit", w.Name))
		},
	})
	return w
}

// OutboundCoordinator reports the write-side backpressure coordinator
// gating Post (spec §4.8).
func (w *Wire) OutboundCoordinator() *backpressure.Coordinator { return w.outboundCoord }

// InboundCoordinator reports the read-side coordinator tracking Blocks
// that have reached Inbound but not yet been routed to their Pipe (spec
// §4.8). Session decrements it via NoteBlockDispatched as it drains them.
func (w *Wire) InboundCoordinator() *backpressure.Coordinator { return w.inboundCoord }

// NoteBlockDispatched must be called once for every Block message Take
// removes from Inbound, balancing the increment readLoop performed when it
// arrived.
func (w *Wire) NoteBlockDispatched(m *wire.Message) {
	if m.Type == wire.TypeBlock {
		w.inboundCoord.Decrement()
	}
}

// LocalAddr returns the underlying transport's local address.
func (w *Wire) LocalAddr() net.Addr { return w.t.LocalAddr() }

// RemoteAddr returns the underlying transport's remote address.
func (w *Wire) RemoteAddr() net.Addr { return w.t.RemoteAddr() }

// TLSDescriptor returns the underlying transport's negotiated TLS
// session, or nil for plaintext.
func (w *Wire) TLSDescriptor() *TLSDescriptor { return w.t.TLSDescriptor() }

// Run starts the read and write bridge goroutines on ctx's pool and
// blocks until both have exited (i.e. until the transport closes).
// Callers typically invoke Run in its own goroutine via context.Pool.
func (w *Wire) Run(ctx context.Context) {
	pool := context.Pool(ctx)
	done := make(chan struct{}, 2)

	pool.Submit(ctx, func() {
		w.readLoop(ctx)
		done <- struct{}{}
	})
	pool.Submit(ctx, func() {
		w.writeLoop(ctx)
		done <- struct{}{}
	})

	<-done
	<-done
}

func (w *Wire) readLoop(ctx context.Context) {
	for {
		m, err := wire.Decode(w.t)
		if err != nil {
			w.fail(fmt.Errorf("wire %s: read: %w", w.Name, err))
			return
		}
		if err := w.Inbound.Offer(m); err != nil {
			// Inbound closed out from under us (e.g. concurrent fail()); stop.
			return
		}
		if m.Type == wire.TypeBlock {
			w.inboundCoord.Increment()
		}
	}
}

func (w *Wire) writeLoop(ctx context.Context) {
	for {
		m, ok := w.Outbound.Take(ctx, 0)
		if !ok {
			return
		}
		w.outboundCoord.DecrementBy(approxWireSize(m))
		if err := wire.Encode(w.t, m); err != nil {
			w.fail(fmt.Errorf("wire %s: write: %w", w.Name, err))
			return
		}
	}
}

// fail closes both queues and notifies OnClosed exactly once across
// however many goroutines call it concurrently.
func (w *Wire) fail(err error) {
	w.failOnce.Do(func() {
		w.Inbound.Close()
		w.Outbound.Close()
		w.outboundGate.Close()
		w.closeChOnce.Do(func() { close(w.closedCh) })
		_ = w.t.Close()
		if w.OnClosed != nil {
			w.OnClosed(err)
		}
	})
}

// Close closes the transport and both queues. It is the graceful
// counterpart to fail: no error is reported to OnClosed.
func (w *Wire) Close() error {
	w.Inbound.Close()
	w.Outbound.Close()
	w.outboundGate.Close()
	w.closeChOnce.Do(func() { close(w.closedCh) })
	return w.t.Close()
}

// Post pushes msg onto the outbound queue. Wire satisfies pipe.Poster
// directly: Session hands the Wire itself to every Pipe it creates. Post
// blocks while the outbound coordinator reports overload (spec §4.8: "a
// gate that blocks the next send until overload clears"), unless the Wire
// closes first.
func (w *Wire) Post(msg *wire.Message) error {
	w.outboundGate.Wait(w.closedCh)
	if err := w.Outbound.Offer(msg); err != nil {
		return err
	}
	w.outboundCoord.IncrementBy(approxWireSize(msg))
	return nil
}

// approxWireSize estimates the encoded byte size of m for the outbound
// backpressure coordinator. It need not be exact: Block payload size
// dominates real frame size, and every other message type is small and
// roughly fixed-size.
func approxWireSize(m *wire.Message) int {
	if m.Type == wire.TypeBlock && m.Block != nil {
		return len(m.Block.Payload) + 8
	}
	return 32
}

// IsClosedErr reports whether err indicates a transport/queue that has
// already closed, as opposed to a genuine I/O failure.
func IsClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}
