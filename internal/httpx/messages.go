package httpx

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"local.dev/chatspace-backend/internal/backend"
	"local.dev/chatspace-backend/internal/models"
	"local.dev/chatspace-backend/internal/paginator"
)

// conversation resolves {kind}/{id} and checks the caller takes part.
func conversation(app *AppCtx, r *http.Request) (models.Kind, string, error) {
	v := mux.Vars(r)
	kind, ok := models.ParseKind(v["kind"])
	if !ok {
		return "", "", fmt.Errorf("conversation kind %q: %w", v["kind"], backend.ErrNotFound)
	}
	if err := app.Store.Member(r.Context(), kind, v["id"], currentUID(r)); err != nil {
		return "", "", err
	}
	return kind, v["id"], nil
}

// GET /{kind}/{id}/messages?limit= ；POST /{kind}/{id}/messages
func HandleMessages(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, id, err := conversation(app, r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		switch r.Method {
		case http.MethodGet:
			limit := queryInt(r, "limit", app.Config.Tunables.PageSize)
			msgs, err := paginator.Fetch(r.Context(), app.Docs, models.MessagesPath(kind, id), limit)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, msgs)

		case http.MethodPost:
			var in struct {
				Text string `json:"text"`
			}
			if !decodeJSON(w, r, &in) {
				return
			}
			m, err := app.Store.PostMessage(r.Context(), kind, id, currentUID(r), in.Text)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, m)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

// GET /{kind}/{id}/messages/{mid} ；PATCH /{kind}/{id}/messages/{mid}
func HandleMessage(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, id, err := conversation(app, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		path := models.MessagePath(kind, id, mux.Vars(r)["mid"])

		switch r.Method {
		case http.MethodGet:
			m, ok, err := app.Store.GetMessage(r.Context(), path)
			if err == nil && !ok {
				err = fmt.Errorf("message %s: %w", path, backend.ErrNotFound)
			}
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, m)

		case http.MethodPatch:
			var in struct {
				Text string `json:"text"`
			}
			if !decodeJSON(w, r, &in) {
				return
			}
			m, err := app.Store.EditText(r.Context(), path, currentUID(r), in.Text)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, m)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

// GET /{kind}/{id}/messages/{mid}/answers ；POST .../answers
func HandleAnswers(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, id, err := conversation(app, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		mid := mux.Vars(r)["mid"]

		switch r.Method {
		case http.MethodGet:
			limit := queryInt(r, "limit", app.Config.Tunables.PageSize)
			answers, err := paginator.Fetch(r.Context(), app.Docs, models.AnswersPath(kind, id, mid), limit)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, answers)

		case http.MethodPost:
			var in struct {
				Text string `json:"text"`
			}
			if !decodeJSON(w, r, &in) {
				return
			}
			a, err := app.Store.PostAnswer(r.Context(), kind, id, mid, currentUID(r), in.Text)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, a)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

// DELETE /{kind}/{id}/messages/{mid}/answers/{aid}
func HandleAnswer(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, id, err := conversation(app, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		v := mux.Vars(r)
		if err := app.Store.DeleteAnswer(r.Context(), kind, id, v["mid"], v["aid"], currentUID(r)); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET|POST /{kind}/{id}/messages/{mid}/reactions and the same under
// .../answers/{aid}/reactions. POST toggles the caller on one emoji.
func HandleReactions(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, id, err := conversation(app, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		v := mux.Vars(r)
		owner := models.MessagePath(kind, id, v["mid"])
		if aid := v["aid"]; aid != "" {
			owner = models.AnswerPath(kind, id, v["mid"], aid)
		}

		switch r.Method {
		case http.MethodGet:
			rs, err := app.Reactions.List(r.Context(), owner)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, rs)

		case http.MethodPost:
			var in struct {
				Emoji string `json:"emoji"`
			}
			if !decodeJSON(w, r, &in) {
				return
			}
			rx, err := app.Reactions.Toggle(r.Context(), owner, in.Emoji, currentUID(r))
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, rx)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}
