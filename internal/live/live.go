// Package live holds the push primitives the services are built on:
// explicit subscriptions, a fan-out topic, debouncing, de-duplication and
// a reference-counted shared cache.
//
// Every channel produced here holds at most one pending value. A producer
// that finds the slot full replaces the stale value, so a slow consumer
// always observes the latest state instead of blocking the producer.
package live

import "sync"

// Subscription is a handle on a live sequence. Values arrive on C. Close
// tears the sequence down and is safe to call more than once.
type Subscription[T any] struct {
	C <-chan T

	once sync.Once
	stop func()
	done chan struct{}
}

func NewSubscription[T any](c <-chan T, stop func()) *Subscription[T] {
	return &Subscription[T]{C: c, stop: stop, done: make(chan struct{})}
}

func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		close(s.done)
	})
}

// Done is closed once Close has been called.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Offer delivers v on a single-slot channel without blocking, replacing
// whatever value is still waiting. It assumes a single producer per channel.
func Offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Map copies values from src into a fresh single-slot channel through
// fn until src ends or the returned subscription is closed.
func Map[A, B any](src *Subscription[A], fn func(A) B) *Subscription[B] {
	out := make(chan B, 1)
	quit := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-quit:
				return
			case v, ok := <-src.C:
				if !ok {
					return
				}
				Offer(out, fn(v))
			}
		}
	}()
	return NewSubscription[B](out, func() {
		close(quit)
		src.Close()
	})
}
