package httpx

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"local.dev/chatspace-backend/internal/backend"
	"local.dev/chatspace-backend/internal/models"
	"local.dev/chatspace-backend/internal/store"
)

// GET /channels ；POST /channels
func HandleChannels(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := currentUID(r)

		switch r.Method {
		case http.MethodGet:
			channels, err := app.Store.ListChannelsFor(r.Context(), uid, queryBool(r, "all"))
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, channels)

		case http.MethodPost:
			var in struct {
				Name        string   `json:"name"`
				Description *string  `json:"description"`
				MemberIDs   []string `json:"memberIds"`
			}
			if !decodeJSON(w, r, &in) {
				return
			}
			c, err := app.Store.CreateChannel(r.Context(), uid, in.Name, in.Description, in.MemberIDs)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, c)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

// channelFor loads channel {id} and checks the caller may see it.
func channelFor(app *AppCtx, r *http.Request) (models.Channel, error) {
	id := mux.Vars(r)["id"]
	c, ok, err := app.Store.GetChannel(r.Context(), id)
	if err != nil {
		return models.Channel{}, err
	}
	if !ok {
		return models.Channel{}, fmt.Errorf("channel %s: %w", id, backend.ErrNotFound)
	}
	if !c.HasMember(currentUID(r)) {
		return models.Channel{}, fmt.Errorf("channel %s: %w", id, backend.ErrForbidden)
	}
	return c, nil
}

// GET /channels/{id} ；PATCH /channels/{id} ；DELETE /channels/{id}
func HandleChannel(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := channelFor(app, r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, c)

		case http.MethodPatch:
			var p store.ChannelPatch
			if !decodeJSON(w, r, &p) {
				return
			}
			updated, err := app.Store.UpdateChannel(r.Context(), c.ID, p)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, updated)

		case http.MethodDelete:
			if c.CreatedBy != currentUID(r) {
				writeError(w, r, fmt.Errorf("only the creator can delete %s: %w", c.ID, backend.ErrForbidden))
				return
			}
			if err := app.Store.SoftDeleteChannel(r.Context(), c.ID); err != nil {
				writeError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

// POST /channels/{id}/members
func HandleChannelMembers(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := channelFor(app, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		var in struct {
			MemberIDs []string `json:"memberIds"`
		}
		if !decodeJSON(w, r, &in) {
			return
		}
		updated, err := app.Store.AddMembers(r.Context(), c.ID, in.MemberIDs)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

// DELETE /channels/{id}/members/{uid}: members may leave; the creator may
// remove anyone.
func HandleChannelMember(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := channelFor(app, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		uid, target := currentUID(r), mux.Vars(r)["uid"]
		if target != uid && c.CreatedBy != uid {
			writeError(w, r, fmt.Errorf("remove %s from %s: %w", target, c.ID, backend.ErrForbidden))
			return
		}
		updated, err := app.Store.RemoveMember(r.Context(), c.ID, target)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}
