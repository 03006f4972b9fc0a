// Package ringchan provides a bounded channel with drop-oldest semantics,
// used for event streams where a slow consumer must never stall a producer.
package ringchan

import "sync/atomic"

// RingChannel wraps a buffered channel so that sends never block: when the
// buffer is full the oldest element is discarded. Telemetry consumers that
// fall behind lose history, not liveness.
type RingChannel[T any] struct {
	ch      chan T
	dropped atomic.Int64
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Consumers can range over it
// until Close.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts an item, discarding the oldest buffered one if full. Reports
// whether anything was dropped.
func (rc *RingChannel[T]) Send(v T) bool {
	select {
	case rc.ch <- v:
		return false
	default:
	}

	dropped := false
	select {
	case <-rc.ch:
		rc.dropped.Add(1)
		dropped = true
	default:
		// A concurrent receive emptied the slot first.
	}
	rc.ch <- v
	return dropped
}

// TryReceive attempts a non-blocking receive.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int { return len(rc.ch) }

// Cap returns the buffer capacity.
func (rc *RingChannel[T]) Cap() int { return cap(rc.ch) }

// Dropped returns how many elements have been discarded since creation.
func (rc *RingChannel[T]) Dropped() int64 { return rc.dropped.Load() }

// Close closes the underlying channel. Sending after Close panics.
func (rc *RingChannel[T]) Close() { close(rc.ch) }
