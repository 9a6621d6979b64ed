package live

import "sync"

// Topic fans one producer out to many subscribers. A new subscriber
// receives the last published value immediately.
type Topic[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	last   T
	has    bool
	closed bool
	replay bool
}

func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{subs: map[int]chan T{}, replay: true}
}

// NewStream returns a Topic that does not replay to new subscribers, for
// event streams where a stale value would be misread as a fresh one.
func NewStream[T any]() *Topic[T] {
	return &Topic[T]{subs: map[int]chan T{}}
}

func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.last, t.has = v, true
	for _, ch := range t.subs {
		Offer(ch, v)
	}
}

// Last returns the most recently published value.
func (t *Topic[T]) Last() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.has
}

func (t *Topic[T]) Subscribe() *Subscription[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan T, 1)
	if t.closed {
		close(ch)
		return NewSubscription[T](ch, nil)
	}
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	if t.has && t.replay {
		ch <- t.last
	}
	return NewSubscription[T](ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if c, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(c)
		}
	})
}

// Len reports the number of open subscribers.
func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Close ends every subscriber's channel. Later publishes are dropped.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
}
