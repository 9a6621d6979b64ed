package httpx

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"local.dev/chatspace-backend/internal/backend"
)

// GET /users
func HandleUsers(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := app.Store.ListUsers(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

// GET /users/{uid}
func HandleUser(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := mux.Vars(r)["uid"]
		u, ok, err := app.Store.GetUser(r.Context(), uid)
		if err == nil && !ok {
			err = fmt.Errorf("user %s: %w", uid, backend.ErrNotFound)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}
