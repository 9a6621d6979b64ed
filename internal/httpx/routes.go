package httpx

import (
	"net/http"

	"github.com/gorilla/mux"

	"local.dev/chatspace-backend/internal/metrics"
)

const conv = "/{kind:channels|chats}/{id}"

// NewRouter wires every route. Auth routes are rate limited; everything
// else except health and metrics requires a signed-in caller.
func NewRouter(app *AppCtx) http.Handler {
	r := mux.NewRouter()
	r.Use(Instrument)

	auth := func(h http.HandlerFunc) http.HandlerFunc { return WithAuth(app, h) }

	// ===== auth =====
	r.HandleFunc("/auth/signup", RateLimit(app.Limiter, HandleSignup(app))).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", RateLimit(app.Limiter, HandleLogin(app))).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", auth(HandleLogout(app))).Methods(http.MethodPost)

	// ===== users =====
	r.HandleFunc("/me", auth(HandleMe(app))).Methods(http.MethodGet, http.MethodPatch)
	r.HandleFunc("/me/contacts", auth(HandleMyContacts(app))).Methods(http.MethodPost)
	r.HandleFunc("/me/avatar", auth(HandleAvatar(app))).Methods(http.MethodPost)
	r.HandleFunc("/users", auth(HandleUsers(app))).Methods(http.MethodGet)
	r.HandleFunc("/users/{uid}", auth(HandleUser(app))).Methods(http.MethodGet)

	// ===== channels & chats =====
	r.HandleFunc("/channels", auth(HandleChannels(app))).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/channels/{id}", auth(HandleChannel(app))).Methods(http.MethodGet, http.MethodPatch, http.MethodDelete)
	r.HandleFunc("/channels/{id}/members", auth(HandleChannelMembers(app))).Methods(http.MethodPost)
	r.HandleFunc("/channels/{id}/members/{uid}", auth(HandleChannelMember(app))).Methods(http.MethodDelete)
	r.HandleFunc("/chats", auth(HandleChats(app))).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/chats/{id}", auth(HandleChat(app))).Methods(http.MethodDelete)

	// ===== messages, answers, reactions =====
	r.HandleFunc(conv+"/messages", auth(HandleMessages(app))).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc(conv+"/messages/{mid}", auth(HandleMessage(app))).Methods(http.MethodGet, http.MethodPatch)
	r.HandleFunc(conv+"/messages/{mid}/answers", auth(HandleAnswers(app))).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc(conv+"/messages/{mid}/answers/{aid}", auth(HandleAnswer(app))).Methods(http.MethodDelete)
	r.HandleFunc(conv+"/messages/{mid}/reactions", auth(HandleReactions(app))).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc(conv+"/messages/{mid}/answers/{aid}/reactions", auth(HandleReactions(app))).Methods(http.MethodGet, http.MethodPost)

	// ===== presence & search =====
	r.HandleFunc("/presence/online", auth(HandlePresenceOnline(app))).Methods(http.MethodPost)
	r.HandleFunc("/presence/offline", auth(HandlePresenceOffline(app))).Methods(http.MethodPost)
	r.HandleFunc("/presence/forced-close", auth(HandleForcedClose(app))).Methods(http.MethodGet)
	r.HandleFunc("/presence/{uid}", auth(HandlePresenceStatus(app))).Methods(http.MethodGet)
	r.HandleFunc("/search", auth(HandleSearch(app))).Methods(http.MethodGet)
	r.HandleFunc("/live", auth(HandleLive(app))).Methods(http.MethodGet)

	// ===== ops =====
	r.HandleFunc("/admin/seed", HandleAdminSeed(app)).Methods(http.MethodPost)
	r.HandleFunc("/healthz", HandleHealthz(app)).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/uploads/").Handler(http.StripPrefix("/uploads/", http.FileServer(http.Dir(app.Config.UploadsDir()))))

	return CORS(r)
}
