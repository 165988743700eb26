// Package queue implements MessageQueue (spec §4.2): a bounded in-memory
// FIFO that never hard-rejects an offer. Crossing cooperativeLimit is only
// ever signalled to listeners so a producer can choose to pause.
package queue

import (
	"container/list"
	"context"
	"time"

	basesync "github.com/gostdlib/base/concurrency/sync"

	"github.com/asterisque/asterisque/asterisqueerrors"
	"github.com/asterisque/asterisque/wire"
)

// Listener is notified of MessageQueue transitions. Implementations MUST
// NOT block or call back into the queue that is notifying them.
type Listener interface {
	// Pollable fires on the empty→non-empty and non-empty→empty edges.
	Pollable(q *MessageQueue, pollable bool)
	// Offerable fires on the below-limit→at-limit and at-limit→below-limit edges.
	Offerable(q *MessageQueue, offerable bool)
}

// ListenerFuncs adapts two plain functions to the Listener interface.
type ListenerFuncs struct {
	OnPollable  func(q *MessageQueue, pollable bool)
	OnOfferable func(q *MessageQueue, offerable bool)
}

func (f ListenerFuncs) Pollable(q *MessageQueue, pollable bool) {
	if f.OnPollable != nil {
		f.OnPollable(q, pollable)
	}
}

func (f ListenerFuncs) Offerable(q *MessageQueue, offerable bool) {
	if f.OnOfferable != nil {
		f.OnOfferable(q, offerable)
	}
}

// MessageQueue is a bounded FIFO of *wire.Message with cooperative
// back-pressure signalling. The zero value is not usable; use New.
type MessageQueue struct {
	name           string
	cooperativeLimit int

	mu        basesync.Mutex
	items     *list.List
	closed    bool
	listeners []Listener

	waitCh chan struct{} // closed and replaced whenever state a waiter cares about changes
}

// New constructs a MessageQueue named name with the given soft capacity.
// cooperativeLimit <= 0 disables the offerable signal entirely (unbounded).
func New(name string, cooperativeLimit int) *MessageQueue {
	return &MessageQueue{
		name:             name,
		cooperativeLimit: cooperativeLimit,
		items:            list.New(),
		waitCh:           make(chan struct{}),
	}
}

// Name returns the queue's diagnostic name.
func (q *MessageQueue) Name() string { return q.name }

// AddListener registers l to receive future Pollable/Offerable
// notifications, then immediately calls it back with the queue's current
// state (spec §4.2: "addListener(l): immediately calls back with the
// current state").
func (q *MessageQueue) AddListener(l Listener) {
	q.mu.Lock()
	q.listeners = append(q.listeners[:len(q.listeners):len(q.listeners)], l)
	pollable := q.items.Len() > 0
	offerable := q.cooperativeLimit <= 0 || q.items.Len() < q.cooperativeLimit
	q.mu.Unlock()

	l.Pollable(q, pollable)
	l.Offerable(q, offerable)
}

// Len returns the current number of queued items.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Closed reports whether Close has been called.
func (q *MessageQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Offer appends msg to the tail of the queue. It fails with a
// CatCall/TypeClosed error once the queue has been closed; otherwise it
// never rejects, even past cooperativeLimit.
func (q *MessageQueue) Offer(msg *wire.Message) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return &asterisqueerrors.Error{Cat: asterisqueerrors.CatCall, Typ: asterisqueerrors.TypeClosed}
	}
	wasEmpty := q.items.Len() == 0
	q.items.PushBack(msg)
	newSize := q.items.Len()
	listeners := q.snapshotListeners()
	q.wake()
	q.mu.Unlock()

	if wasEmpty {
		notifyPollable(listeners, q, true)
	}
	if q.cooperativeLimit > 0 && newSize == q.cooperativeLimit {
		notifyOfferable(listeners, q, false)
	}
	return nil
}

// Poll removes and returns the head item without waiting. ok is false if
// the queue is currently empty (open) or, once closed, once fully drained.
func (q *MessageQueue) Poll() (msg *wire.Message, ok bool) {
	q.mu.Lock()
	front := q.items.Front()
	if front == nil {
		q.mu.Unlock()
		return nil, false
	}
	q.items.Remove(front)
	newSize := q.items.Len()
	wasAtLimit := q.cooperativeLimit > 0 && newSize == q.cooperativeLimit-1
	listeners := q.snapshotListeners()
	q.mu.Unlock()

	if newSize == 0 {
		notifyPollable(listeners, q, false)
	}
	if wasAtLimit {
		notifyOfferable(listeners, q, true)
	}
	return front.Value.(*wire.Message), true
}

// Take removes and returns the head item, waiting up to timeout (0 means
// wait forever) for one to arrive or the queue to close. ok is false if
// the wait timed out or the queue closed with nothing left to drain.
func (q *MessageQueue) Take(ctx context.Context, timeout time.Duration) (msg *wire.Message, ok bool) {
	var deadlineCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadlineCh = timer.C
	}
	for {
		if msg, ok := q.Poll(); ok {
			return msg, true
		}
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		wait := q.waitCh
		q.mu.Unlock()

		select {
		case <-wait:
			// state changed, loop and re-poll
		case <-deadlineCh:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Close idempotently closes the queue. Already-queued items remain
// available to Poll/Take until drained; after that, both report !ok. All
// current and future waiters wake immediately.
func (q *MessageQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.wake()
	q.mu.Unlock()
}

// wake must be called with mu held. It unblocks every goroutine parked in
// Take and arms a fresh channel for the next wait.
func (q *MessageQueue) wake() {
	close(q.waitCh)
	q.waitCh = make(chan struct{})
}

func (q *MessageQueue) snapshotListeners() []Listener {
	if len(q.listeners) == 0 {
		return nil
	}
	out := make([]Listener, len(q.listeners))
	copy(out, q.listeners)
	return out
}

func notifyPollable(listeners []Listener, q *MessageQueue, pollable bool) {
	for _, l := range listeners {
		l.Pollable(q, pollable)
	}
}

func notifyOfferable(listeners []Listener, q *MessageQueue, offerable bool) {
	for _, l := range listeners {
		l.Offerable(q, offerable)
	}
}
