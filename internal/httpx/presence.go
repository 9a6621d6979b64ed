package httpx

import (
	"net/http"
	"slices"

	"github.com/gorilla/mux"

	"local.dev/chatspace-backend/internal/models"
)

// POST /presence/online marks the caller online. With X-Session-ID naming
// one of the caller's /live connections, that connection's disconnect
// fallback is re-armed; without it nothing is armed, since no connection
// exists whose loss would fire it.
func HandlePresenceOnline(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := currentUID(r)
		session := r.Header.Get(sessionHeader)
		var err error
		switch {
		case session == "":
			err = app.Presence.MarkOnline(r.Context(), uid)
		case slices.Contains(app.Hub.Sessions(uid), session):
			err = app.Presence.InitPresence(r.Context(), uid, session)
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown session"})
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"session": session})
	}
}

// POST /presence/offline
func HandlePresenceOffline(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := app.Presence.SetOffline(r.Context(), currentUID(r), r.Header.Get(sessionHeader)); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /presence/forced-close
func HandleForcedClose(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		forced, err := app.Presence.CheckForcedClose(r.Context(), currentUID(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"forcedClose": forced})
	}
}

// GET /presence/{uid}; a user with no record reads as offline.
func HandlePresenceStatus(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := mux.Vars(r)["uid"]
		st, ok, err := app.Presence.Status(r.Context(), uid)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !ok {
			st = models.PresenceStatus{UID: uid, State: models.Offline}
		}
		writeJSON(w, http.StatusOK, st)
	}
}
