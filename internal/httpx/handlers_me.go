package httpx

import (
	"fmt"
	"net/http"

	"local.dev/chatspace-backend/internal/backend"
	"local.dev/chatspace-backend/internal/store"
)

// GET /me ；PATCH /me
func HandleMe(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := currentUID(r)
		switch r.Method {
		case http.MethodGet:
			u, ok, err := app.Store.GetUser(r.Context(), uid)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if !ok {
				// Signed in but never registered, e.g. an OAuth token used
				// directly against the API.
				if u, err = app.Store.RegisterUser(r.Context(), currentClaims(r)); err != nil {
					writeError(w, r, err)
					return
				}
			}
			writeJSON(w, http.StatusOK, u)
		case http.MethodPatch:
			var p store.UserPatch
			if !decodeJSON(w, r, &p) {
				return
			}
			u, err := app.Store.UpsertUser(r.Context(), uid, p)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, u)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// POST /me/contacts
func HandleMyContacts(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			UID string `json:"uid"`
		}
		if !decodeJSON(w, r, &in) {
			return
		}
		uid := currentUID(r)
		if _, ok, err := app.Store.GetUser(r.Context(), in.UID); err != nil || !ok {
			if err == nil {
				err = fmt.Errorf("user %s: %w", in.UID, backend.ErrNotFound)
			}
			writeError(w, r, err)
			return
		}
		if err := app.Store.AddContact(r.Context(), uid, in.UID); err != nil {
			writeError(w, r, err)
			return
		}
		u, _, err := app.Store.GetUser(r.Context(), uid)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}
