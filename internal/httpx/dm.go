package httpx

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"local.dev/chatspace-backend/internal/backend"
)

// GET /chats ；POST /chats
func HandleChats(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := currentUID(r)

		switch r.Method {
		case http.MethodGet:
			chats, err := app.Store.ListChatsFor(r.Context(), uid)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, chats)

		case http.MethodPost:
			var in struct {
				Peer string `json:"peer"`
			}
			if !decodeJSON(w, r, &in) {
				return
			}
			peer := strings.TrimSpace(in.Peer)
			if _, ok, err := app.Store.GetUser(r.Context(), peer); err != nil || !ok {
				if err == nil {
					err = fmt.Errorf("user %q: %w", peer, backend.ErrNotFound)
				}
				writeError(w, r, err)
				return
			}
			c, created, err := app.Store.EnsureChat(r.Context(), uid, peer)
			if err != nil {
				writeError(w, r, err)
				return
			}
			status := http.StatusOK
			if created {
				status = http.StatusCreated
			}
			writeJSON(w, status, c)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

// DELETE /chats/{id} drops a chat nobody wrote in, e.g. when the user
// navigates away from a freshly opened one.
func HandleChat(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		c, ok, err := app.Store.GetChat(r.Context(), id)
		if err == nil && !ok {
			err = fmt.Errorf("chat %s: %w", id, backend.ErrNotFound)
		}
		if err == nil && !c.HasMember(currentUID(r)) {
			err = fmt.Errorf("chat %s: %w", id, backend.ErrForbidden)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": app.Store.DeleteChatIfEmpty(r.Context(), id)})
	}
}
