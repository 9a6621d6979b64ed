package live

import (
	"context"
	"sync"
)

// Shared multiplexes one upstream subscription per key across any number
// of subscribers. The upstream is opened by the first Acquire and closed
// when the last subscriber for that key closes.
type Shared[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*sharedEntry[V]
	// OnChange, if set, is called with the number of live keys.
	OnChange func(n int)
}

type sharedEntry[V any] struct {
	topic    *Topic[V]
	upstream *Subscription[V]
	cancel   context.CancelFunc
	refs     int
}

func NewShared[K comparable, V any]() *Shared[K, V] {
	return &Shared[K, V]{entries: map[K]*sharedEntry[V]{}}
}

// Acquire subscribes to key. open is called with a context owned by the
// cache entry only when no upstream exists for key yet.
func (s *Shared[K, V]) Acquire(key K, open func(ctx context.Context) (*Subscription[V], error)) (*Subscription[V], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		up, err := open(ctx)
		if err != nil {
			cancel()
			return nil, err
		}
		e = &sharedEntry[V]{topic: NewTopic[V](), upstream: up, cancel: cancel}
		s.entries[key] = e
		go s.pump(key, e)
		s.changed()
	}
	e.refs++
	sub := e.topic.Subscribe()
	return NewSubscription[V](sub.C, func() {
		sub.Close()
		s.release(key, e)
	}), nil
}

// pump copies upstream values into the entry's topic. An upstream that
// ends on its own evicts the entry, so the next Acquire opens a new one.
func (s *Shared[K, V]) pump(key K, e *sharedEntry[V]) {
	for v := range e.upstream.C {
		e.topic.Publish(v)
	}
	s.mu.Lock()
	if cur, ok := s.entries[key]; ok && cur == e {
		delete(s.entries, key)
		s.changed()
	}
	s.mu.Unlock()
	e.cancel()
	e.topic.Close()
}

func (s *Shared[K, V]) release(key K, e *sharedEntry[V]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs > 0 {
		return
	}
	if cur, ok := s.entries[key]; ok && cur == e {
		delete(s.entries, key)
		s.changed()
	}
	e.cancel()
	e.upstream.Close()
	e.topic.Close()
}

// Len reports how many upstream subscriptions are open.
func (s *Shared[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Refs reports the subscriber count for key.
func (s *Shared[K, V]) Refs(key K) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e.refs
	}
	return 0
}

func (s *Shared[K, V]) changed() {
	if s.OnChange != nil {
		s.OnChange(len(s.entries))
	}
}
