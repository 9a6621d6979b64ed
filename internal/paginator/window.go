package paginator

import (
	"context"
	"fmt"
	"sync"

	"local.dev/chatspace-backend/internal/backend"
	"local.dev/chatspace-backend/internal/live"
	"local.dev/chatspace-backend/internal/metrics"
	"local.dev/chatspace-backend/internal/models"
)

// Window is a live view of the newest messages of one collection. C
// receives the whole window, ascending, whenever it changes.
type Window struct {
	C <-chan []models.Message

	out        chan []models.Message
	p          *Paginator
	ctx        context.Context
	collection string

	mu       sync.Mutex
	limit    int
	gen      int
	upstream *live.Subscription[[]backend.Document]
	latest   []models.Message
	closed   bool
}

func closedWindow() *Window {
	out := make(chan []models.Message)
	close(out)
	return &Window{C: out, out: out, closed: true}
}

// Collection is the path the window reads from.
func (w *Window) Collection() string { return w.collection }

// Limit is the number of messages currently requested.
func (w *Window) Limit() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.limit
}

// Latest returns the most recent emission.
func (w *Window) Latest() []models.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]models.Message(nil), w.latest...)
}

func (w *Window) Contains(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range w.latest {
		if m.ID == id {
			return true
		}
	}
	return false
}

// LoadMore widens the window by one step. It reports false and does
// nothing once the collection has been read to its start.
func (w *Window) LoadMore() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.p.Exhausted(w.collection) {
		return false, nil
	}
	w.limit += w.p.opts.Step
	if err := w.restart(); err != nil {
		return false, err
	}
	return true, nil
}

// Exhausted reports whether older messages remain.
func (w *Window) Exhausted() bool {
	if w.p == nil {
		return true
	}
	return w.p.Exhausted(w.collection)
}

func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.gen++
	if w.upstream != nil {
		w.upstream.Close()
		w.upstream = nil
	}
	close(w.out)
	metrics.LiveSubscriptions.WithLabelValues("messages").Dec()
}

// restart replaces the upstream query with one at the current limit.
// Caller holds w.mu.
func (w *Window) restart() error {
	if w.upstream != nil {
		w.upstream.Close()
		w.upstream = nil
	}
	w.gen++
	sub, err := w.p.docs.Watch(w.ctx, lastN(w.collection, w.limit))
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.collection, err)
	}
	w.upstream = sub
	go w.forward(sub, w.gen, w.limit)
	return nil
}

func (w *Window) forward(sub *live.Subscription[[]backend.Document], gen, limit int) {
	for found := range sub.C {
		msgs := decode(found)
		w.mu.Lock()
		if w.closed || gen != w.gen {
			w.mu.Unlock()
			return
		}
		if len(found) < limit {
			w.p.setExhausted(w.collection, true)
		}
		w.latest = msgs
		live.Offer(w.out, msgs)
		w.mu.Unlock()
	}
	// The upstream ended on its own, typically because ctx was cancelled.
	w.mu.Lock()
	current := !w.closed && gen == w.gen
	w.mu.Unlock()
	if current {
		w.Close()
	}
}
