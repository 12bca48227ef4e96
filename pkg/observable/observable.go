// Package observable provides the small set of push-based streams the
// repositories publish their projections through.
//
// Subscribers are called synchronously from the goroutine that emits. Emitting
// from within a subscriber is allowed.
package observable

import (
	"context"
	"sync"
)

type Subscription interface {
	Unsubscribe()
}

type Observable[T any] interface {
	Subscribe(fn func(T)) Subscription
}

// Func adapts a subscribe function to an Observable.
type Func[T any] func(fn func(T)) Subscription

func (f Func[T]) Subscribe(fn func(T)) Subscription {
	return f(fn)
}

type subscription struct {
	once sync.Once
	fn   func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.fn)
}

// NewSubscription returns a Subscription that runs fn on the first Unsubscribe.
func NewSubscription(fn func()) Subscription {
	return &subscription{fn: fn}
}

// Subscriptions unsubscribes a group at once.
type Subscriptions []Subscription

func (s Subscriptions) Unsubscribe() {
	for _, sub := range s {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

type entry[T any] struct {
	id uint64
	fn func(T)
}

// Subject is a hot stream. Values emitted before a subscription are not replayed.
type Subject[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []entry[T]
	closed bool
}

func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{}
}

func (s *Subject[T]) Subscribe(fn func(T)) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return NewSubscription(func() {})
	}
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, entry[T]{id: id, fn: fn})
	return NewSubscription(func() { s.remove(id) })
}

func (s *Subject[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.subs {
		if e.id == id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

func (s *Subject[T]) snapshot() []entry[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	return append([]entry[T](nil), s.subs...)
}

func (s *Subject[T]) Next(v T) {
	for _, e := range s.snapshot() {
		e.fn(v)
	}
}

// Observed reports whether anyone is subscribed.
func (s *Subject[T]) Observed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs) > 0
}

// Close drops all subscribers. Later Next calls are no-ops.
func (s *Subject[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = nil
}

// BehaviorSubject holds a current value and replays it to new subscribers.
type BehaviorSubject[T any] struct {
	Subject[T]
	valueMu sync.RWMutex
	value   T
}

func NewBehaviorSubject[T any](initial T) *BehaviorSubject[T] {
	return &BehaviorSubject[T]{value: initial}
}

func (b *BehaviorSubject[T]) Value() T {
	b.valueMu.RLock()
	defer b.valueMu.RUnlock()
	return b.value
}

func (b *BehaviorSubject[T]) Next(v T) {
	b.valueMu.Lock()
	b.value = v
	b.valueMu.Unlock()
	b.Subject.Next(v)
}

func (b *BehaviorSubject[T]) Subscribe(fn func(T)) Subscription {
	sub := b.Subject.Subscribe(fn)
	fn(b.Value())
	return sub
}

// First blocks until src emits a value accepted by pred, or ctx is done.
// A nil pred accepts everything.
func First[T any](ctx context.Context, src Observable[T], pred func(T) bool) (T, error) {
	ch := make(chan T, 1)
	var once sync.Once
	sub := src.Subscribe(func(v T) {
		if pred != nil && !pred(v) {
			return
		}
		once.Do(func() { ch <- v })
	})
	defer sub.Unsubscribe()

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
