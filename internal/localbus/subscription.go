package localbus

import (
	"sync"
	"sync/atomic"
)

// Subscription is one handler attached to one topic.
type Subscription struct {
	bus     *Bus
	topic   string
	handler Handler

	// mu guards closed and the send side of queue.
	mu     sync.Mutex
	closed bool
	queue  chan any

	done     chan struct{}
	stopOnce sync.Once

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Delivered returns the number of messages handed to the handler.
func (s *Subscription) Delivered() uint64 { return s.delivered.Load() }

// Dropped returns the number of messages lost to a full queue.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Unsubscribe stops accepting messages, delivers what is already queued and
// waits for the handler to return. Safe to call multiple times.
//
// Must not be called from the subscription's own handler.
func (s *Subscription) Unsubscribe() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()

		s.bus.remove(s)
	})
	<-s.done
}

// offer enqueues msg without blocking. Returns false if it was dropped.
func (s *Subscription) offer(msg any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}
	select {
	case s.queue <- msg:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// run is the delivery goroutine.
func (s *Subscription) run() {
	defer close(s.done)
	for msg := range s.queue {
		s.deliver(msg)
	}
}

// deliver calls the handler with panic recovery.
func (s *Subscription) deliver(msg any) {
	defer func() {
		if r := recover(); r != nil && s.bus.logger != nil {
			s.bus.logger.Error("local bus handler panic recovered",
				"topic", s.topic,
				"panic", r,
			)
		}
	}()
	s.delivered.Add(1)
	s.handler(msg)
}
