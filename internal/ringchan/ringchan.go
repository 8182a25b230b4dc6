// Package ringchan provides a bounded, drop-oldest channel used for lossy
// observer feeds.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// Producers never block: when the buffer is full the oldest element is
// discarded to make room. Consumers read from C() like any other channel.
//
//	rc := ringchan.New[Event](64)
//	rc.Send(ev)              // never blocks
//	for ev := range rc.C() { // until Close
//	    ...
//	}
//
// Send after Close is a no-op, so late producers racing shutdown are safe.
type RingChannel[T any] struct {
	mu     sync.Mutex // serializes producers against each other and Close
	ch     chan T
	closed bool

	written atomic.Int64
	dropped atomic.Int64
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed by Close.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest element if the buffer is full.
// It reports whether an element was dropped.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return false
	}

	for {
		select {
		case rc.ch <- v:
			rc.written.Add(1)
			return dropped
		default:
		}

		select {
		case <-rc.ch:
			rc.dropped.Add(1)
			dropped = true
		default:
			// a consumer drained the buffer in between; retry the send
		}
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Close closes the receive side. It is safe to call more than once.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return
	}
	rc.closed = true
	close(rc.ch)
}

// Stats is a snapshot of the channel counters.
type Stats struct {
	Written int64
	Dropped int64
}

// Stats returns the current counters.
func (rc *RingChannel[T]) Stats() Stats {
	return Stats{
		Written: rc.written.Load(),
		Dropped: rc.dropped.Load(),
	}
}
