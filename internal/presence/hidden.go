package presence

import (
	"context"
	"sync"
	"time"

	"local.dev/chatspace-backend/internal/clock"
	"local.dev/chatspace-backend/internal/logger"
)

// HiddenTimer takes a session offline when its tab stays hidden for the
// delay, and brings it back when the tab becomes visible again.
type HiddenTimer struct {
	t       *Tracker
	uid     string
	session string
	delay   time.Duration

	mu      sync.Mutex
	timer   clock.Timer
	offline bool
}

func (t *Tracker) NewHiddenTimer(uid, session string, delay time.Duration) *HiddenTimer {
	if delay <= 0 {
		delay = Grace
	}
	return &HiddenTimer{t: t, uid: uid, session: session, delay: delay}
}

func (h *HiddenTimer) Hidden() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil || h.offline {
		return
	}
	h.timer = h.t.clk.AfterFunc(h.delay, h.expire)
}

func (h *HiddenTimer) expire() {
	h.mu.Lock()
	if h.timer == nil {
		h.mu.Unlock()
		return
	}
	h.timer = nil
	h.offline = true
	h.mu.Unlock()
	if err := h.t.SetOffline(context.Background(), h.uid, h.session); err != nil {
		logger.Warn("presence_hidden_offline_failed", "uid", h.uid, "error", err)
	}
}

// Visible cancels a pending hide, or restores presence if it already fired.
func (h *HiddenTimer) Visible(ctx context.Context) error {
	h.mu.Lock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	restore := h.offline
	h.offline = false
	h.mu.Unlock()
	if restore {
		return h.t.InitPresence(ctx, h.uid, h.session)
	}
	return nil
}

func (h *HiddenTimer) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}
