package channel

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Push once End has been emitted.
var ErrClosed = errors.New("channel closed")

// DefaultCapacity is the buffer size used when callers have no preference.
const DefaultCapacity = 64

// Channel is a bounded FIFO between exactly one producer and one consumer.
// Push blocks while the buffer is full (backpressure); Pop blocks while it is
// empty. All methods are safe for concurrent use.
type Channel struct {
	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// New creates a channel holding up to capacity undelivered events.
// Capacities below 1 are coerced to 1.
func New(capacity int) *Channel {
	if capacity < 1 {
		capacity = 1
	}
	return &Channel{
		events: make(chan Event, capacity),
		done:   make(chan struct{}),
	}
}

// Push appends ev to the tail. Pushing an End event is the same as Close.
// It returns ErrClosed after Close and ctx.Err() when ctx is cancelled while
// waiting for buffer space.
func (c *Channel) Push(ctx context.Context, ev Event) error {
	if ev.IsEnd() {
		if !c.Close() {
			return ErrClosed
		}
		return nil
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop removes and returns the head event, blocking while the channel is empty.
// Once closed, queued events are still returned in order before End. Further
// calls after End keep returning End. When ctx is cancelled while waiting Pop
// returns ctx.Err().
func (c *Channel) Pop(ctx context.Context) (Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	default:
	}

	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.done:
		// The producer closes only after its last Push returned, so anything it
		// pushed is already buffered here.
		select {
		case ev := <-c.events:
			return ev, nil
		default:
			return End(), nil
		}
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close emits the End sentinel. It reports true for the call that actually
// closed the channel and false for every later call.
func (c *Channel) Close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	close(c.done)
	return true
}

// Closed reports whether End has been emitted.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// DrainReset discards every queued event without blocking and returns the
// number of dropped events. It does not reopen a closed channel.
func (c *Channel) DrainReset() int {
	n := 0
	for {
		select {
		case <-c.events:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued events.
func (c *Channel) Len() int { return len(c.events) }

// Cap returns the buffer capacity.
func (c *Channel) Cap() int { return cap(c.events) }
