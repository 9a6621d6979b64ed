package live

import (
	"sync"
	"time"

	"local.dev/chatspace-backend/internal/clock"
)

// Debounce emits a value from in only after d has passed without a newer
// one arriving. The output closes after in closes; a value still waiting
// at that point is dropped.
func Debounce[T any](in <-chan T, d time.Duration, clk clock.Clock) <-chan T {
	out := make(chan T, 1)
	go func() {
		var (
			mu     sync.Mutex
			gen    int
			timer  clock.Timer
			closed bool
		)
		for v := range in {
			mu.Lock()
			gen++
			mine := gen
			if timer != nil {
				timer.Stop()
			}
			timer = clk.AfterFunc(d, func() {
				mu.Lock()
				defer mu.Unlock()
				if closed || mine != gen {
					return
				}
				Offer(out, v)
			})
			mu.Unlock()
		}
		mu.Lock()
		closed = true
		if timer != nil {
			timer.Stop()
		}
		close(out)
		mu.Unlock()
	}()
	return out
}

// Distinct drops values equal to the one emitted just before them.
func Distinct[T comparable](in <-chan T) <-chan T {
	out := make(chan T, 1)
	go func() {
		defer close(out)
		var (
			prev T
			seen bool
		)
		for v := range in {
			if seen && v == prev {
				continue
			}
			prev, seen = v, true
			Offer(out, v)
		}
	}()
	return out
}
