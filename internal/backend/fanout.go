package backend

import (
	"encoding/json"
	"sync"

	"local.dev/chatspace-backend/internal/live"
)

// PathFanout delivers realtime values written through this process to
// every local watcher of the same path.
type PathFanout struct {
	mu     sync.Mutex
	topics map[string]*live.Topic[json.RawMessage]
}

func NewPathFanout() *PathFanout {
	return &PathFanout{topics: map[string]*live.Topic[json.RawMessage]{}}
}

func (f *PathFanout) Publish(path string, v json.RawMessage) {
	f.mu.Lock()
	t, ok := f.topics[path]
	f.mu.Unlock()
	if ok {
		t.Publish(v)
	}
}

// Subscribe watches path. initial loads the current value the first time
// anyone watches it.
func (f *PathFanout) Subscribe(path string, initial func() (json.RawMessage, error)) (*live.Subscription[json.RawMessage], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.topics[path]
	if !ok {
		cur, err := initial()
		if err != nil {
			return nil, err
		}
		t = live.NewTopic[json.RawMessage]()
		t.Publish(cur)
		f.topics[path] = t
	}
	sub := t.Subscribe()
	return live.NewSubscription[json.RawMessage](sub.C, func() {
		sub.Close()
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.topics[path] == t && t.Len() == 0 {
			delete(f.topics, path)
			t.Close()
		}
	}), nil
}

// Len reports the number of watched paths.
func (f *PathFanout) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.topics)
}
