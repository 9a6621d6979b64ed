package httpx

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"local.dev/chatspace-backend/internal/backend"
	"local.dev/chatspace-backend/internal/clock"
	"local.dev/chatspace-backend/internal/config"
	"local.dev/chatspace-backend/internal/identity"
	"local.dev/chatspace-backend/internal/logger"
	"local.dev/chatspace-backend/internal/metrics"
	"local.dev/chatspace-backend/internal/presence"
	"local.dev/chatspace-backend/internal/reactions"
	"local.dev/chatspace-backend/internal/search"
	"local.dev/chatspace-backend/internal/store"
)

type ctxKey string

const claimsKey ctxKey = "claims"

// sessionHeader names the client session a presence call belongs to.
const sessionHeader = "X-Session-ID"

type AppCtx struct {
	Config    config.Config
	Clock     clock.Clock
	Docs      backend.DocumentStore
	Store     *store.Store
	Identity  identity.Identity
	Notifier  *identity.Notifier
	Presence  *presence.Tracker
	Reactions *reactions.Aggregator
	Search    *search.Aggregator
	Limiter   *LimiterStore
	Hub       *Hub
}

func currentClaims(r *http.Request) identity.Claims {
	if c, ok := r.Context().Value(claimsKey).(identity.Claims); ok {
		return c
	}
	return identity.Claims{}
}

func currentUID(r *http.Request) string { return currentClaims(r).UID }

// ---- NO_AUTH: a per-browser dev_ cookie is the last resort ----
const devUIDCookie = "DEV_UID"

func genDevUID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return "dev_" + hex.EncodeToString(b[:])
}

func devUIDFromCookie(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(devUIDCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := genDevUID()
	http.SetCookie(w, &http.Cookie{
		Name:     devUIDCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(365 * 24 * time.Hour),
	})
	return id
}

// devClaimsFromBearer reads the payload of a bearer JWT without checking
// its signature. Development only.
func devClaimsFromBearer(authz string) identity.Claims {
	raw := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	m := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, m); err != nil {
		return identity.Claims{}
	}
	get := func(k string) string {
		if v, ok := m[k]; ok && v != nil {
			return strings.TrimSpace(fmt.Sprintf("%v", v))
		}
		return ""
	}
	c := identity.Claims{Email: identity.NormalizeEmail(get("email")), Name: get("name"), Provider: get("provider")}
	for _, k := range []string{"user_id", "uid", "sub"} {
		if c.UID = get(k); c.UID != "" {
			break
		}
	}
	if fb, ok := m["firebase"].(map[string]any); ok && c.Provider == "" {
		c.Provider, _ = fb["sign_in_provider"].(string)
	}
	return c
}

// devClaims resolves the caller in NO_AUTH mode: Debug header, then an
// unverified bearer payload, then the dev cookie.
func devClaims(w http.ResponseWriter, r *http.Request) identity.Claims {
	authz := r.Header.Get("Authorization")
	var c identity.Claims
	switch {
	case strings.HasPrefix(authz, "Debug "):
		key := strings.TrimSpace(strings.TrimPrefix(authz, "Debug "))
		if strings.Contains(key, "@") {
			c.Email = identity.NormalizeEmail(key)
			c.UID, _, _ = strings.Cut(c.Email, "@")
		} else {
			c.UID = key
		}
	case strings.HasPrefix(authz, "Bearer "):
		c = devClaimsFromBearer(authz)
	}
	if c.UID == "" {
		c.UID = devUIDFromCookie(w, r)
	}
	if c.Provider == "" {
		c.Provider = identity.ProviderPassword
	}
	return c
}

// bearer returns the token of a Bearer header, or the access_token query
// parameter browsers use for WebSocket upgrades.
func bearer(r *http.Request) string {
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return r.URL.Query().Get("access_token")
}

func WithAuth(app *AppCtx, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if app.Config.NoAuth {
			c := devClaims(w, r)
			if _, err := app.Store.RegisterUser(r.Context(), c); err != nil {
				logger.Warn("dev_register_failed", "uid", c.UID, "error", err)
			}
			next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, c)))
			return
		}

		token := bearer(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			return
		}
		c, err := app.Identity.Verify(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, c)))
	}
}

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+sessionHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder keeps the response code for logging. It passes Hijack
// through so WebSocket upgrades still work behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer cannot hijack")
	}
	if s.status == 0 {
		s.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

// Instrument logs every request and records it in the HTTP metrics under
// its route template.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		logger.Info("http_request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", elapsed)
	})
}
