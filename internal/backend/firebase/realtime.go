package firebase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"firebase.google.com/go/v4/db"

	"local.dev/chatspace-backend/internal/backend"
	"local.dev/chatspace-backend/internal/live"
)

// Realtime is a RealtimeStore on the Firebase Realtime Database. The Admin
// SDK talks REST and has no listeners, so watchers see writes made through
// this process plus the value read when the path was first watched.
// Server-value placeholders are sent as-is and resolved by the database.
type Realtime struct {
	client *db.Client
	fan    *backend.PathFanout
	hooks  *backend.DisconnectHooks
}

var _ backend.RealtimeStore = (*Realtime)(nil)

func NewRealtime(client *db.Client) *Realtime {
	return &Realtime{client: client, fan: backend.NewPathFanout(), hooks: backend.NewDisconnectHooks()}
}

func (r *Realtime) Get(ctx context.Context, path string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := r.client.NewRef(path).Get(ctx, &raw); err != nil {
		return nil, fmt.Errorf("rtdb get %s: %w", path, err)
	}
	if string(raw) == "null" {
		return nil, nil
	}
	return raw, nil
}

func (r *Realtime) Set(ctx context.Context, path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	ref := r.client.NewRef(path)
	if string(b) == "null" {
		if err := ref.Delete(ctx); err != nil {
			return fmt.Errorf("rtdb delete %s: %w", path, err)
		}
		r.fan.Publish(path, nil)
		return nil
	}
	if err := ref.Set(ctx, json.RawMessage(b)); err != nil {
		return fmt.Errorf("rtdb set %s: %w", path, err)
	}
	local, err := backend.ResolveServerValues(b, time.Now())
	if err != nil {
		return err
	}
	r.fan.Publish(path, local)
	return nil
}

func (r *Realtime) Watch(ctx context.Context, path string) (*live.Subscription[json.RawMessage], error) {
	sub, err := r.fan.Subscribe(path, func() (json.RawMessage, error) { return r.Get(ctx, path) })
	if err != nil {
		return nil, err
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
	}()
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
