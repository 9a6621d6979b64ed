package httpx

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"local.dev/chatspace-backend/internal/backend/memdb"
	"local.dev/chatspace-backend/internal/clock"
	"local.dev/chatspace-backend/internal/config"
	"local.dev/chatspace-backend/internal/identity"
	"local.dev/chatspace-backend/internal/models"
	"local.dev/chatspace-backend/internal/presence"
	"local.dev/chatspace-backend/internal/reactions"
	"local.dev/chatspace-backend/internal/search"
	"local.dev/chatspace-backend/internal/store"
)

type testEnv struct {
	app *AppCtx
	rt  *memdb.Realtime
	srv *httptest.Server
}

func newTestEnv(t *testing.T, tweak func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.RateLimitRPM = 600
	cfg.Tunables.HeaderDebounce = 10 * time.Millisecond
	cfg.Tunables.ComposeDebounce = 10 * time.Millisecond
	cfg.Tunables.ScrollInterval = 5 * time.Millisecond
	if tweak != nil {
		tweak(&cfg)
	}
	config.EnsureDir(cfg.UploadsDir())

	clk := clock.Real()
	docs := memdb.NewDocs(clk)
	rt := memdb.NewRealtime(clk)
	limiter := NewLimiterStore(cfg.RateLimitRPM, 3, time.Minute)
	t.Cleanup(limiter.Stop)

	app := &AppCtx{
		Config:    cfg,
		Clock:     clk,
		Docs:      docs,
		Store:     store.NewStore(docs, clk),
		Identity:  identity.NewMemory("test-secret", time.Hour),
		Notifier:  identity.NewNotifier(),
		Presence:  presence.NewTracker(rt, docs, clk, cfg.Tunables.ForcedCloseGrace),
		Reactions: reactions.New(docs),
		Search:    search.NewAggregator(docs, clk, cfg.Tunables.HeaderDebounce, cfg.Tunables.ComposeDebounce),
		Limiter:   limiter,
		Hub:       NewHub(),
	}
	srv := httptest.NewServer(NewRouter(app))
	t.Cleanup(func() {
		app.Hub.CloseAll()
		srv.Close()
	})
	return &testEnv{app: app, rt: rt, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (e *testEnv) doJSON(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()
	status, raw := e.do(t, method, path, token, body)
	if out != nil && status < 300 && len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, out), string(raw))
	}
	return status
}

func (e *testEnv) signup(t *testing.T, email, name string) sessionResponse {
	t.Helper()
	var s sessionResponse
	status := e.doJSON(t, http.MethodPost, "/auth/signup", "",
		map[string]string{"email": email, "password": "secret123", "name": name}, &s)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, s.Token)
	return s
}

func TestSignupLoginAndMe(t *testing.T) {
	e := newTestEnv(t, nil)
	ann := e.signup(t, "Ann@Example.com", "Ann")
	assert.Equal(t, "ann@example.com", ann.User.Email)
	assert.Equal(t, identity.ProviderPassword, ann.User.AuthProvider)

	status, _ := e.do(t, http.MethodPost, "/auth/signup", "",
		map[string]string{"email": "ann@example.com", "password": "secret123"})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = e.do(t, http.MethodPost, "/auth/login", "",
		map[string]string{"email": "ann@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)

	var again sessionResponse
	status = e.doJSON(t, http.MethodPost, "/auth/login", "",
		map[string]string{"email": "ann@example.com", "password": "secret123"}, &again)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, ann.User.UID, again.User.UID)
	assert.False(t, again.ForcedClose)

	var me models.User
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, "/me", again.Token, nil, &me))
	assert.Equal(t, "Ann", me.Name)

	name := "Annie"
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodPatch, "/me", again.Token, map[string]*string{"name": &name}, &me))
	assert.Equal(t, "Annie", me.Name)

	status, _ = e.do(t, http.MethodGet, "/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = e.do(t, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestLoginWithIDToken(t *testing.T) {
	e := newTestEnv(t, nil)
	mem := e.app.Identity.(*identity.Memory)
	sess, err := mem.Mint(identity.Claims{UID: "g1", Email: "gina@example.com", Name: "Gina", Provider: identity.ProviderGoogle})
	require.NoError(t, err)

	var out sessionResponse
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodPost, "/auth/login", "", map[string]string{"idToken": sess.Token}, &out))
	assert.Equal(t, "g1", out.User.UID)
	assert.Equal(t, identity.ProviderGoogle, out.User.AuthProvider)
}

// X creates "general" and adds Y, Y posts "hello", X sees it last and
// toggles a reaction on and off.
func TestChannelConversationEndToEnd(t *testing.T) {
	e := newTestEnv(t, nil)
	x := e.signup(t, "x@example.com", "Xavier")
	y := e.signup(t, "y@example.com", "Yara")

	var ch models.Channel
	require.Equal(t, http.StatusCreated, e.doJSON(t, http.MethodPost, "/channels", x.Token, map[string]any{"name": "general"}, &ch))
	assert.Equal(t, []string{x.User.UID}, ch.MemberIDs)

	status, _ := e.do(t, http.MethodGet, "/channels/"+ch.ID+"/messages", y.Token, nil)
	assert.Equal(t, http.StatusForbidden, status, "not a member yet")

	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodPost, "/channels/"+ch.ID+"/members", x.Token,
		map[string]any{"memberIds": []string{y.User.UID}}, &ch))
	assert.ElementsMatch(t, []string{x.User.UID, y.User.UID}, ch.MemberIDs)

	var earlier, hello models.Message
	require.Equal(t, http.StatusCreated, e.doJSON(t, http.MethodPost, "/channels/"+ch.ID+"/messages", x.Token, map[string]string{"text": "first"}, &earlier))
	time.Sleep(2 * time.Millisecond)
	require.Equal(t, http.StatusCreated, e.doJSON(t, http.MethodPost, "/channels/"+ch.ID+"/messages", y.Token, map[string]string{"text": "hello"}, &hello))

	var msgs []models.Message
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, "/channels/"+ch.ID+"/messages", x.Token, nil, &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[len(msgs)-1].Text)
	assert.Equal(t, y.User.UID, msgs[len(msgs)-1].SenderID)

	reactPath := "/channels/" + ch.ID + "/messages/" + hello.ID + "/reactions"
	var rx models.Reaction
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodPost, reactPath, x.Token, map[string]string{"emoji": "heart"}, &rx))
	assert.Equal(t, []string{x.User.UID}, rx.Users)

	var m models.Message
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, "/channels/"+ch.ID+"/messages/"+hello.ID, x.Token, nil, &m))
	assert.True(t, m.HasReactions)

	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodPost, reactPath, x.Token, map[string]string{"emoji": "heart"}, &rx))
	assert.Empty(t, rx.Users)
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, "/channels/"+ch.ID+"/messages/"+hello.ID, x.Token, nil, &m))
	assert.False(t, m.HasReactions)
}

func TestChannelRulesOverHTTP(t *testing.T) {
	e := newTestEnv(t, nil)
	x := e.signup(t, "x@example.com", "X")
	y := e.signup(t, "y@example.com", "Y")

	var ch models.Channel
	require.Equal(t, http.StatusCreated, e.doJSON(t, http.MethodPost, "/channels", x.Token, map[string]any{"name": "General"}, &ch))
	status, _ := e.do(t, http.MethodPost, "/channels", y.Token, map[string]any{"name": "general"})
	assert.Equal(t, http.StatusBadRequest, status, "names are unique ignoring case")
	status, _ = e.do(t, http.MethodPost, "/channels", y.Token, map[string]any{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = e.do(t, http.MethodGet, "/channels/"+ch.ID, y.Token, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = e.do(t, http.MethodGet, "/channels/missing", y.Token, nil)
	assert.Equal(t, http.StatusNotFound, status)

	var all []models.Channel
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, "/channels?all=1", y.Token, nil, &all))
	assert.Len(t, all, 1)
	var mine []models.Channel
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, "/channels", y.Token, nil, &mine))
	assert.Empty(t, mine)

	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodPost, "/channels/"+ch.ID+"/members", x.Token,
		map[string]any{"memberIds": []string{y.User.UID}}, &ch))
	status, _ = e.do(t, http.MethodDelete, "/channels/"+ch.ID, y.Token, nil)
	assert.Equal(t, http.StatusForbidden, status, "only the creator deletes")
	status, _ = e.do(t, http.MethodDelete, "/channels/"+ch.ID+"/members/"+x.User.UID, y.Token, nil)
	assert.Equal(t, http.StatusForbidden, status)
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodDelete, "/channels/"+ch.ID+"/members/"+y.User.UID, y.Token, nil, &ch))
	assert.Equal(t, []string{x.User.UID}, ch.MemberIDs)

	status, _ = e.do(t, http.MethodDelete, "/channels/"+ch.ID, x.Token, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = e.do(t, http.MethodGet, "/channels/"+ch.ID, x.Token, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDirectChats(t *testing.T) {
	e := newTestEnv(t, nil)
	x := e.signup(t, "x@example.com", "X")
	y := e.signup(t, "y@example.com", "Y")

	var c models.Chat
	require.Equal(t, http.StatusCreated, e.doJSON(t, http.MethodPost, "/chats", x.Token, map[string]string{"peer": y.User.UID}, &c))
	assert.Equal(t, models.ChatID(x.User.UID, y.User.UID), c.ID)
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodPost, "/chats", y.Token, map[string]string{"peer": x.User.UID}, &c))
	assert.Equal(t, models.ChatID(y.User.UID, x.User.UID), c.ID)

	status, _ := e.do(t, http.MethodPost, "/chats", x.Token, map[string]string{"peer": "nobody"})
	assert.Equal(t, http.StatusNotFound, status)

	var del map[string]bool
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodDelete, "/chats/"+c.ID, x.Token, nil, &del))
	assert.True(t, del["deleted"])

	require.Equal(t, http.StatusCreated, e.doJSON(t, http.MethodPost, "/chats", x.Token, map[string]string{"peer": y.User.UID}, &c))
	status, _ = e.do(t, http.MethodPost, "/chats/"+c.ID+"/messages", y.Token, map[string]string{"text": "hi"})
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodDelete, "/chats/"+c.ID, x.Token, nil, &del))
	assert.False(t, del["deleted"], "chats with messages stay")
}

func TestAnswersAndEdits(t *testing.T) {
	e := newTestEnv(t, nil)
	x := e.signup(t, "x@example.com", "X")
	y := e.signup(t, "y@example.com", "Y")
	var c models.Chat
	require.Equal(t, http.StatusCreated, e.doJSON(t, http.MethodPost, "/chats", x.Token, map[string]string{"peer": y.User.UID}, &c))
	base := "/chats/" + c.ID + "/messages"

	var m models.Message
	require.Equal(t, http.StatusCreated, e.doJSON(t, http.MethodPost, base, x.Token, map[string]string{"text": "question"}, &m))

	status, _ := e.do(t, http.MethodPatch, base+"/"+m.ID, y.Token, map[string]string{"text": "hijack"})
	assert.Equal(t, http.StatusForbidden, status)
	var edited models.Message
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodPatch, base+"/"+m.ID, x.Token, map[string]string{"text": "question?"}, &edited))
	assert.Equal(t, "question?", edited.Text)
	assert.NotNil(t, edited.EditedAt)

	var a models.Message
	require.Equal(t, http.StatusCreated, e.doJSON(t, http.MethodPost, base+"/"+m.ID+"/answers", y.Token, map[string]string{"text": "answer"}, &a))
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodPost, base+"/"+m.ID+"/answers/"+a.ID+"/reactions", x.Token, map[string]string{"emoji": "+1"}, nil))

	var answers []models.Message
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, base+"/"+m.ID+"/answers", x.Token, nil, &answers))
	require.Len(t, answers, 1)
	assert.True(t, answers[0].HasReactions)

	var parent models.Message
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, base+"/"+m.ID, x.Token, nil, &parent))
	assert.Equal(t, 1, parent.AnsCounter)

	status, _ = e.do(t, http.MethodDelete, base+"/"+m.ID+"/answers/"+a.ID, y.Token, nil)
	require.Equal(t, http.StatusNoContent, status)
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, base+"/"+m.ID, x.Token, nil, &parent))
	assert.Equal(t, 0, parent.AnsCounter)
}

func TestPresenceEndpoints(t *testing.T) {
	e := newTestEnv(t, nil)
	x := e.signup(t, "x@example.com", "X")

	var st models.PresenceStatus
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, "/presence/"+x.User.UID, x.Token, nil, &st))
	assert.Equal(t, models.Offline, st.State)

	var on map[string]string
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodPost, "/presence/online", x.Token, nil, &on))
	assert.Empty(t, on["session"])
	assert.Zero(t, e.rt.PendingHooks(), "no connection, no fallback")
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, "/presence/"+x.User.UID, x.Token, nil, &st))
	assert.Equal(t, models.Online, st.State)

	var me models.User
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, "/me", x.Token, nil, &me))
	assert.True(t, me.Active)

	status, _ := e.do(t, http.MethodPost, "/presence/offline", x.Token, nil)
	assert.Equal(t, http.StatusNoContent, status)

	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, "/presence/"+x.User.UID, x.Token, nil, &st))
	assert.Equal(t, models.Offline, st.State)
	assert.False(t, st.ForcedClose)

	var fc map[string]bool
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, "/presence/forced-close", x.Token, nil, &fc))
	assert.False(t, fc["forcedClose"])
}

func (e *testEnv) presenceOnline(t *testing.T, token, session string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/presence/online", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(sessionHeader, session)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestPresenceOnlineLeavesNoOrphanHooks(t *testing.T) {
	e := newTestEnv(t, nil)
	x := e.signup(t, "x@example.com", "X")
	y := e.signup(t, "y@example.com", "Y")

	for i := 0; i < 3; i++ {
		status, _ := e.do(t, http.MethodPost, "/presence/online", x.Token, nil)
		require.Equal(t, http.StatusOK, status)
	}
	assert.Zero(t, e.rt.PendingHooks())

	assert.Equal(t, http.StatusBadRequest, e.presenceOnline(t, x.Token, "made-up"))
	assert.Zero(t, e.rt.PendingHooks())

	ws := e.dial(t, x.Token)
	f := next(t, ws, frameSession, "")
	var data map[string]string
	require.NoError(t, json.Unmarshal(f.Data, &data))
	require.Equal(t, 1, e.rt.PendingHooks())

	assert.Equal(t, http.StatusBadRequest, e.presenceOnline(t, y.Token, data["session"]), "sessions belong to their user")
	assert.Equal(t, http.StatusOK, e.presenceOnline(t, x.Token, data["session"]))
	assert.Equal(t, 1, e.rt.PendingHooks(), "re-arming replaces the connection's hook")
}

func TestSearchEndpoint(t *testing.T) {
	e := newTestEnv(t, nil)
	ann := e.signup(t, "ann@example.com", "Ann")
	e.signup(t, "bob@example.com", "Bob")

	var rs []search.Result
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, "/search?q=@", ann.Token, nil, &rs))
	require.Len(t, rs, 2)
	for _, r := range rs {
		assert.Equal(t, search.KindUser, r.Kind)
	}

	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, "/search?q=@AN", ann.Token, nil, &rs))
	require.Len(t, rs, 1)
	assert.Equal(t, "Ann", rs[0].User.Name)

	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, "/search?q=", ann.Token, nil, &rs))
	assert.Empty(t, rs)
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) { c.RateLimitRPM = 1 })
	body := map[string]string{"email": "victim@example.com", "password": "nope"}
	for i := 0; i < 3; i++ {
		status, _ := e.do(t, http.MethodPost, "/auth/login", "", body)
		assert.Equal(t, http.StatusUnauthorized, status)
	}
	status, _ := e.do(t, http.MethodPost, "/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, status)

	status, _ = e.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "other@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, status, "limits are per email")
}

func TestNoAuthDevIdentity(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) { c.NoAuth = true })

	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/me", nil)
	req.Header.Set("Authorization", "Debug Dev@Example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me models.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, "dev", me.UID)
	assert.Equal(t, "dev@example.com", me.Email)

	// An unverified bearer payload is trusted in dev mode.
	mem := identity.NewMemory("other-secret", time.Hour)
	sess, err := mem.Mint(identity.Claims{UID: "u42", Email: "u42@example.com"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, "/me", sess.Token, nil, &me))
	assert.Equal(t, "u42", me.UID)

	// No credentials at all falls back to a dev cookie.
	resp2, err := http.Get(e.srv.URL + "/me")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	require.NotEmpty(t, resp2.Cookies())
	assert.Equal(t, devUIDCookie, resp2.Cookies()[0].Name)
}

func TestAvatarUpload(t *testing.T) {
	e := newTestEnv(t, nil)
	x := e.signup(t, "x@example.com", "X")

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "me.png")
	require.NoError(t, err)
	_, _ = fw.Write(png)
	require.NoError(t, mw.Close())

	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/me/avatar", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+x.Token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me models.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	require.NotNil(t, me.PhotoURL)

	got, err := http.Get(e.srv.URL + *me.PhotoURL)
	require.NoError(t, err)
	got.Body.Close()
	assert.Equal(t, http.StatusOK, got.StatusCode)
}

func TestHealthzAndMetrics(t *testing.T) {
	e := newTestEnv(t, nil)
	status, body := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"ok":true`)

	status, body = e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "chat_http_requests_total")
}

func TestWriteErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{identity.ErrEmailTaken, http.StatusConflict},
		{identity.ErrInvalidToken, http.StatusUnauthorized},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), c.err)
		assert.Equal(t, c.want, rec.Code, c.err.Error())
	}
}
