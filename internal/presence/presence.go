// Package presence tracks whether users are online. Each logged-in session
// writes its state to the realtime store and leaves an on-disconnect
// fallback, so a session that vanishes without logging out is recorded as
// a forced close.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"local.dev/chatspace-backend/internal/backend"
	"local.dev/chatspace-backend/internal/clock"
	"local.dev/chatspace-backend/internal/live"
	"local.dev/chatspace-backend/internal/logger"
	"local.dev/chatspace-backend/internal/metrics"
	"local.dev/chatspace-backend/internal/models"
)

// Grace is how long a forced close must stand before it counts, and how
// long a hidden tab waits before going offline.
const Grace = 5 * time.Second

type Tracker struct {
	rt    backend.RealtimeStore
	docs  backend.DocumentStore
	clk   clock.Clock
	grace time.Duration
}

func NewTracker(rt backend.RealtimeStore, docs backend.DocumentStore, clk clock.Clock, grace time.Duration) *Tracker {
	if grace <= 0 {
		grace = Grace
	}
	return &Tracker{rt: rt, docs: docs, clk: clk, grace: grace}
}

func statusValue(state models.PresenceState, forced bool) map[string]any {
	return map[string]any{
		"state":       state,
		"forcedClose": forced,
		"lastChanged": backend.RealtimeTimestamp,
	}
}

// InitPresence marks uid online for session and arms the session's
// disconnect fallback. Calling it again for the same session replaces the
// fallback rather than adding another.
func (t *Tracker) InitPresence(ctx context.Context, uid, session string) error {
	if err := t.MarkOnline(ctx, uid); err != nil {
		return err
	}
	if err := t.rt.OnDisconnect(session, models.StatusPath(uid), statusValue(models.Offline, true)); err != nil {
		return fmt.Errorf("arm disconnect %s: %w", uid, err)
	}
	logger.Debug("presence_armed", "uid", uid, "session", session)
	return nil
}

// MarkOnline records uid as online without a disconnect fallback, for
// callers that have no connection whose loss could fire one.
func (t *Tracker) MarkOnline(ctx context.Context, uid string) error {
	if err := t.rt.Set(ctx, models.StatusPath(uid), statusValue(models.Online, false)); err != nil {
		return fmt.Errorf("set online %s: %w", uid, err)
	}
	t.mirror(ctx, uid, true)
	metrics.PresenceTransitions.WithLabelValues(string(models.Online), "false").Inc()
	logger.Debug("presence_online", "uid", uid)
	return nil
}

// SetOffline records a deliberate sign-out and disarms the fallback.
func (t *Tracker) SetOffline(ctx context.Context, uid, session string) error {
	path := models.StatusPath(uid)
	if session != "" {
		t.rt.CancelDisconnect(session, path)
	}
	if err := t.rt.Set(ctx, path, statusValue(models.Offline, false)); err != nil {
		return fmt.Errorf("set offline %s: %w", uid, err)
	}
	t.mirror(ctx, uid, false)
	metrics.PresenceTransitions.WithLabelValues(string(models.Offline), "false").Inc()
	logger.Debug("presence_offline", "uid", uid, "session", session)
	return nil
}

// Disconnect fires the session's fallback writes, as the backend would
// when a client connection drops.
func (t *Tracker) Disconnect(ctx context.Context, uid, session string) error {
	fired, err := t.rt.Disconnect(ctx, session)
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", session, err)
	}
	if !fired {
		return nil
	}
	t.mirror(ctx, uid, false)
	metrics.PresenceTransitions.WithLabelValues(string(models.Offline), "true").Inc()
	logger.Info("presence_forced_close", "uid", uid, "session", session)
	return nil
}

// Status reads the stored presence; ok is false when nothing is stored.
func (t *Tracker) Status(ctx context.Context, uid string) (models.PresenceStatus, bool, error) {
	raw, err := t.rt.Get(ctx, models.StatusPath(uid))
	if err != nil {
		return models.PresenceStatus{}, false, fmt.Errorf("get status %s: %w", uid, err)
	}
	return decode(uid, raw)
}

// CheckForcedClose reports whether uid's last session ended without a
// logout at least one grace period ago.
func (t *Tracker) CheckForcedClose(ctx context.Context, uid string) (bool, error) {
	st, ok, err := t.Status(ctx, uid)
	if err != nil || !ok {
		return false, err
	}
	return st.ForcedClose && t.clk.Now().Sub(st.LastChanged) >= t.grace, nil
}

// Reconcile runs on sign-in: a stale forced close is mirrored offline onto
// the user document before the new session goes online.
func (t *Tracker) Reconcile(ctx context.Context, uid, session string) error {
	forced, err := t.CheckForcedClose(ctx, uid)
	if err != nil {
		logger.Warn("presence_reconcile_check_failed", "uid", uid, "error", err)
	}
	if forced {
		t.mirror(ctx, uid, false)
	}
	return t.InitPresence(ctx, uid, session)
}

// Watch follows uid's presence. A user with no record reads as offline.
func (t *Tracker) Watch(ctx context.Context, uid string) (*live.Subscription[models.PresenceStatus], error) {
	sub, err := t.rt.Watch(ctx, models.StatusPath(uid))
	if err != nil {
		return nil, fmt.Errorf("watch status %s: %w", uid, err)
	}
	return live.Map(sub, func(raw json.RawMessage) models.PresenceStatus {
		st, ok, err := decode(uid, raw)
		if err != nil || !ok {
			return models.PresenceStatus{UID: uid, State: models.Offline}
		}
		return st
	}), nil
}

func (t *Tracker) mirror(ctx context.Context, uid string, active bool) {
	err := t.docs.Update(ctx, models.UserPath(uid), map[string]any{
		"active":     active,
		"lastActive": backend.ServerTimestamp,
	})
	switch {
	case errors.Is(err, backend.ErrNotFound):
		logger.Debug("presence_mirror_no_user", "uid", uid)
	case err != nil:
		logger.Warn("presence_mirror_failed", "uid", uid, "active", strconv.FormatBool(active), "error", err)
	}
}

func decode(uid string, raw json.RawMessage) (models.PresenceStatus, bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return models.PresenceStatus{}, false, nil
	}
	var w models.PresenceWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.PresenceStatus{}, false, fmt.Errorf("decode status %s: %w", uid, err)
	}
	return w.Status(uid), true, nil
}
