package memdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"local.dev/chatspace-backend/internal/backend"
	"local.dev/chatspace-backend/internal/clock"
	"local.dev/chatspace-backend/internal/live"
)

type Realtime struct {
	clk    clock.Clock
	mu     sync.Mutex
	values map[string]json.RawMessage
	fan    *backend.PathFanout
	hooks  *backend.DisconnectHooks
}

var _ backend.RealtimeStore = (*Realtime)(nil)

func NewRealtime(clk clock.Clock) *Realtime {
	return &Realtime{
		clk:    clk,
		values: map[string]json.RawMessage{},
		fan:    backend.NewPathFanout(),
		hooks:  backend.NewDisconnectHooks(),
	}
}

func (r *Realtime) Get(_ context.Context, path string) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[path], nil
}

func (r *Realtime) Set(_ context.Context, path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if b, err = backend.ResolveServerValues(b, r.clk.Now()); err != nil {
		return err
	}
	r.mu.Lock()
	if string(b) == "null" {
		delete(r.values, path)
		b = nil
	} else {
		r.values[path] = b
	}
	r.mu.Unlock()
	r.fan.Publish(path, b)
	return nil
}

func (r *Realtime) Watch(ctx context.Context, path string) (*live.Subscription[json.RawMessage], error) {
	sub, err := r.fan.Subscribe(path, func() (json.RawMessage, error) { return r.Get(ctx, path) })
	if err != nil {
		return nil, err
	}
	go closeOnDone(ctx, sub.Done(), sub.Close)
	return sub, nil
}

func (r *Realtime) OnDisconnect(session, path string, v any) error {
	return r.hooks.Register(session, path, v)
}

func (r *Realtime) CancelDisconnect(session, path string) { r.hooks.Cancel(session, path) }

func (r *Realtime) Disconnect(ctx context.Context, session string) (bool, error) {
	pending := r.hooks.Take(session)
	for path, v := range pending {
		if err := r.Set(ctx, path, v); err != nil {
			return true, err
		}
	}
	return len(pending) > 0, nil
}

// PendingHooks reports sessions with registered disconnect writes.
func (r *Realtime) PendingHooks() int { return r.hooks.Len() }
