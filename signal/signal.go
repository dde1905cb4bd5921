// Package signal provides a small observer abstraction: a value holder that
// publishes every change to its subscribers, and helpers for deriving
// filtered views of that stream.
package signal

import (
	"sync"
	"sync/atomic"
)

// Subscription is a registration that can be cancelled.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a plain function to the Subscription interface.
type SubscriptionFunc func()

// Unsubscribe calls f.
func (f SubscriptionFunc) Unsubscribe() { f() }

type observer[T any] struct {
	fn     func(T)
	from   uint64 // first broadcast sequence this observer receives
	closed atomic.Bool
}

type delivery[T any] struct {
	seq    uint64
	value  T
	target *observer[T] // nil for a broadcast
}

// Subject holds a current value and delivers each new value to its
// subscribers, in publication order.
//
// Delivery is synchronous and serialized: the goroutine that publishes
// into an idle Subject delivers every queued value before returning. A
// publish made from inside a subscriber callback is queued and delivered by
// the same goroutine once the callback returns, so callbacks may safely
// publish again. A publish racing with a delivery running on another
// goroutine is handed to that goroutine.
type Subject[T any] struct {
	mu       sync.Mutex
	value    T
	seq      uint64
	subs     []*observer[T]
	queue    []delivery[T]
	draining bool
}

// NewSubject returns a Subject holding initial.
func NewSubject[T any](initial T) *Subject[T] {
	return &Subject[T]{value: initial}
}

// Value returns the most recently set value.
func (s *Subject[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set replaces the current value and queues it for delivery without
// delivering it. Callers that hold their own lock while changing state use
// Set under that lock and Flush after releasing it, which keeps delivery
// order identical to the order of state changes.
func (s *Subject[T]) Set(v T) {
	s.mu.Lock()
	s.seq++
	s.value = v
	s.queue = append(s.queue, delivery[T]{seq: s.seq, value: v})
	s.mu.Unlock()
}

// Publish sets v and delivers it.
func (s *Subject[T]) Publish(v T) {
	s.Set(v)
	s.Flush()
}

// Subscribe registers fn. fn receives the current value first and then
// every value published after it.
func (s *Subject[T]) Subscribe(fn func(T)) Subscription {
	o := &observer[T]{fn: fn}
	s.mu.Lock()
	o.from = s.seq + 1
	s.subs = append(s.subs, o)
	s.queue = append(s.queue, delivery[T]{seq: s.seq, value: s.value, target: o})
	s.mu.Unlock()
	s.Flush()

	return SubscriptionFunc(func() { s.remove(o) })
}

// Len reports the number of active subscribers.
func (s *Subject[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Flush delivers all queued values unless another call is already doing so.
func (s *Subject[T]) Flush() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	done := false
	defer func() {
		// A panicking callback leaves the lock released.
		if !done {
			s.mu.Lock()
			s.draining = false
			s.mu.Unlock()
		}
	}()

	for len(s.queue) > 0 {
		d := s.queue[0]
		s.queue[0] = delivery[T]{}
		s.queue = s.queue[1:]
		targets := s.targetsLocked(d)
		s.mu.Unlock()

		for _, o := range targets {
			if !o.closed.Load() {
				o.fn(d.value)
			}
		}

		s.mu.Lock()
	}
	// Cleared together with the empty check so a concurrent Set cannot
	// be left queued behind a drainer that is about to stop.
	s.draining = false
	done = true
	s.mu.Unlock()
}

func (s *Subject[T]) targetsLocked(d delivery[T]) []*observer[T] {
	if d.target != nil {
		return []*observer[T]{d.target}
	}
	targets := make([]*observer[T], 0, len(s.subs))
	for _, o := range s.subs {
		if o.from <= d.seq {
			targets = append(targets, o)
		}
	}
	return targets
}

func (s *Subject[T]) remove(o *observer[T]) {
	o.closed.Store(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.subs {
		if cur == o {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}
