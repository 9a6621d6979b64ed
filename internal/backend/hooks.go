package backend

import (
	"encoding/json"
	"fmt"
	"sync"
)

// DisconnectHooks records per-session writes to apply when the session's
// connection drops. The managed backend offers this to client SDKs only,
// so the server keeps the registry for the sessions it terminates.
type DisconnectHooks struct {
	mu    sync.Mutex
	hooks map[string]map[string]json.RawMessage
}

func NewDisconnectHooks() *DisconnectHooks {
	return &DisconnectHooks{hooks: map[string]map[string]json.RawMessage{}}
}

func (h *DisconnectHooks) Register(session, path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode disconnect value: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.hooks[session]
	if !ok {
		m = map[string]json.RawMessage{}
		h.hooks[session] = m
	}
	m[path] = b
	return nil
}

func (h *DisconnectHooks) Cancel(session, path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.hooks[session]; ok {
		delete(m, path)
		if len(m) == 0 {
			delete(h.hooks, session)
		}
	}
}

// Take removes and returns the writes registered for session.
func (h *DisconnectHooks) Take(session string) map[string]json.RawMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.hooks[session]
	delete(h.hooks, session)
	return m
}

// Len reports the number of sessions with pending hooks.
func (h *DisconnectHooks) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.hooks)
}
