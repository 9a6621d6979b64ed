package httpx

import (
	"context"
	"sync"

	"local.dev/chatspace-backend/internal/identity"
	"local.dev/chatspace-backend/internal/logger"
)

// Hub tracks the open live connections per user.
type Hub struct {
	mu    sync.Mutex
	conns map[string]map[*liveConn]struct{}
}

func NewHub() *Hub { return &Hub{conns: map[string]map[*liveConn]struct{}{}} }

func (h *Hub) add(c *liveConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.conns[c.uid]
	if !ok {
		m = map[*liveConn]struct{}{}
		h.conns[c.uid] = m
	}
	m[c] = struct{}{}
}

func (h *Hub) remove(c *liveConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.conns[c.uid]; ok {
		delete(m, c)
		if len(m) == 0 {
			delete(h.conns, c.uid)
		}
	}
}

func (h *Hub) snapshot(uid string) []*liveConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*liveConn, 0, len(h.conns[uid]))
	for c := range h.conns[uid] {
		out = append(out, c)
	}
	return out
}

// Sessions lists the presence sessions uid has open.
func (h *Hub) Sessions(uid string) []string {
	var out []string
	for _, c := range h.snapshot(uid) {
		out = append(out, c.session)
	}
	return out
}

// Logout closes uid's connections as a deliberate sign-out, so they do not
// fire their disconnect fallbacks.
func (h *Hub) Logout(uid string) int {
	conns := h.snapshot(uid)
	for _, c := range conns {
		c.loggedOut.Store(true)
		c.cancel()
	}
	return len(conns)
}

// CloseAll drops every connection. Sessions that did not log out take the
// forced-close path.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	var all []*liveConn
	for _, m := range h.conns {
		for c := range m {
			all = append(all, c)
		}
	}
	h.mu.Unlock()
	for _, c := range all {
		c.cancel()
	}
}

// Len reports the number of open connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.conns {
		n += len(m)
	}
	return n
}

// Run logs session changes until ctx ends.
func (h *Hub) Run(ctx context.Context, n *identity.Notifier) {
	sub := n.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			logger.Info("session_event", "kind", string(ev.Kind), "uid", ev.UID, "session", ev.Session,
				"live", len(h.snapshot(ev.UID)))
		}
	}
}
