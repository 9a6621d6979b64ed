package httpx

import (
	"net/http"
	"strings"

	"local.dev/chatspace-backend/internal/identity"
	"local.dev/chatspace-backend/internal/logger"
	"local.dev/chatspace-backend/internal/models"
)

type sessionResponse struct {
	Token       string      `json:"token"`
	User        models.User `json:"user"`
	ForcedClose bool        `json:"forcedClose"`
}

// POST /auth/signup
func HandleSignup(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			Name     string `json:"name"`
		}
		if !decodeJSON(w, r, &in) {
			return
		}
		if strings.TrimSpace(in.Email) == "" || len(in.Password) < 6 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email and a password of at least 6 characters are required"})
			return
		}
		sess, err := app.Identity.SignUp(r.Context(), in.Email, in.Password, in.Name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		startSession(app, w, r, sess, http.StatusCreated)
	}
}

// POST /auth/login with {email, password}, or {idToken} from an OAuth
// popup on the client.
func HandleLogin(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			IDToken  string `json:"idToken"`
		}
		if !decodeJSON(w, r, &in) {
			return
		}
		var (
			sess identity.Session
			err  error
		)
		if in.IDToken != "" {
			var c identity.Claims
			c, err = app.Identity.Verify(r.Context(), in.IDToken)
			sess = identity.Session{Claims: c, Token: in.IDToken}
		} else {
			sess, err = app.Identity.SignIn(r.Context(), in.Email, in.Password)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		startSession(app, w, r, sess, http.StatusOK)
	}
}

// startSession registers the user document on first sign-in and reports a
// previous session that ended without logout.
func startSession(app *AppCtx, w http.ResponseWriter, r *http.Request, sess identity.Session, status int) {
	u, err := app.Store.RegisterUser(r.Context(), sess.Claims)
	if err != nil {
		writeError(w, r, err)
		return
	}
	forced, err := app.Presence.CheckForcedClose(r.Context(), u.UID)
	if err != nil {
		logger.Warn("forced_close_check_failed", "uid", u.UID, "error", err)
	}
	app.Notifier.Publish(identity.Event{Kind: identity.SignedIn, UID: u.UID})
	writeJSON(w, status, sessionResponse{Token: sess.Token, User: u, ForcedClose: forced})
}

// POST /auth/logout marks the caller offline for every open live session
// and disarms their disconnect fallbacks.
func HandleLogout(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := currentUID(r)
		sessions := app.Hub.Sessions(uid)
		if s := r.Header.Get(sessionHeader); s != "" {
			sessions = append(sessions, s)
		}
		if len(sessions) == 0 {
			sessions = []string{""}
		}
		for _, s := range sessions {
			if err := app.Presence.SetOffline(r.Context(), uid, s); err != nil {
				writeError(w, r, err)
				return
			}
			app.Notifier.Publish(identity.Event{Kind: identity.SignedOut, UID: uid, Session: s})
		}
		app.Hub.Logout(uid)
		w.WriteHeader(http.StatusNoContent)
	}
}
