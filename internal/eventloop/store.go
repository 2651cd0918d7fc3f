package eventloop

import "sync/atomic"

// Observers is a list of callbacks notified in subscription order.
// It is loop-confined: Add, Notify and the returned cancel func run on the loop.
type Observers[T any] struct {
	next int
	subs []observer[T]
}

type observer[T any] struct {
	id int
	fn func(T)
}

// Add subscribes fn and returns a func that unsubscribes it.
func (o *Observers[T]) Add(fn func(T)) func() {
	o.next++
	id := o.next
	o.subs = append(o.subs, observer[T]{id: id, fn: fn})
	return func() {
		for i, s := range o.subs {
			if s.id == id {
				o.subs = append(o.subs[:i:i], o.subs[i+1:]...)
				return
			}
		}
	}
}

// Notify calls every subscriber with v. Subscribers added during Notify are not called.
func (o *Observers[T]) Notify(v T) {
	subs := o.subs
	for _, s := range subs {
		s.fn(v)
	}
}

// Store publishes immutable snapshots: writers on the loop replace the whole value,
// readers on any goroutine load the latest one.
type Store[T any] struct {
	cur       atomic.Pointer[T]
	observers Observers[T]
}

func NewStore[T any](initial T) *Store[T] {
	s := &Store[T]{}
	s.cur.Store(&initial)
	return s
}

// Load returns the current snapshot. Safe from any goroutine.
func (s *Store[T]) Load() T {
	return *s.cur.Load()
}

// Publish replaces the snapshot and notifies subscribers. Loop only.
func (s *Store[T]) Publish(v T) {
	s.cur.Store(&v)
	s.observers.Notify(v)
}

// Subscribe registers fn for future snapshots. Loop only.
func (s *Store[T]) Subscribe(fn func(T)) func() {
	return s.observers.Add(fn)
}
