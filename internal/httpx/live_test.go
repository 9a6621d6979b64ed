package httpx

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"local.dev/chatspace-backend/internal/models"
	"local.dev/chatspace-backend/internal/search"
)

type testFrame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	Exhausted bool            `json:"exhausted"`
	Error     string          `json:"error"`
}

func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/live?access_token=" + token
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// next reads frames until one matches typ and id, failing after a few
// seconds.
func next(t *testing.T, ws *websocket.Conn, typ, id string) testFrame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, ws.SetReadDeadline(deadline))
		var f testFrame
		require.NoError(t, ws.ReadJSON(&f))
		if f.Type == typ && f.ID == id {
			return f
		}
	}
}

func send(t *testing.T, ws *websocket.Conn, f clientFrame) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(f))
}

func TestLiveSessionFrame(t *testing.T) {
	e := newTestEnv(t, nil)
	x := e.signup(t, "x@example.com", "X")
	ws := e.dial(t, x.Token)

	f := next(t, ws, frameSession, "")
	var data map[string]string
	require.NoError(t, json.Unmarshal(f.Data, &data))
	assert.Equal(t, x.User.UID, data["uid"])
	assert.NotEmpty(t, data["session"])

	require.Eventually(t, func() bool { return e.app.Hub.Len() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{data["session"]}, e.app.Hub.Sessions(x.User.UID))

	var st models.PresenceStatus
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, "/presence/"+x.User.UID, x.Token, nil, &st))
	assert.Equal(t, models.Online, st.State)
}

func TestLiveRejectsMissingToken(t *testing.T) {
	e := newTestEnv(t, nil)
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/live"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLiveConversationPushesNewPosts(t *testing.T) {
	e := newTestEnv(t, nil)
	x := e.signup(t, "x@example.com", "X")
	y := e.signup(t, "y@example.com", "Y")
	var ch models.Channel
	require.Equal(t, http.StatusCreated, e.doJSON(t, http.MethodPost, "/channels", x.Token,
		map[string]any{"name": "general", "memberIds": []string{y.User.UID}}, &ch))
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodPost, "/channels/"+ch.ID+"/members", x.Token,
		map[string]any{"memberIds": []string{y.User.UID}}, &ch))

	ws := e.dial(t, x.Token)
	next(t, ws, frameSession, "")
	send(t, ws, clientFrame{Op: opOpen, ID: "c1", Kind: string(models.KindChannel), Conversation: ch.ID})

	first := next(t, ws, frameMessages, "c1")
	var msgs []models.Message
	require.NoError(t, json.Unmarshal(first.Data, &msgs))
	assert.Empty(t, msgs)
	assert.True(t, first.Exhausted)

	status, _ := e.do(t, http.MethodPost, "/channels/"+ch.ID+"/messages", y.Token, map[string]string{"text": "hello"})
	require.Equal(t, http.StatusCreated, status)

	for {
		f := next(t, ws, frameMessages, "c1")
		require.NoError(t, json.Unmarshal(f.Data, &msgs))
		if len(msgs) > 0 {
			break
		}
	}
	assert.Equal(t, "hello", msgs[len(msgs)-1].Text)

	// Exhausted windows answer loadMore with their current contents.
	send(t, ws, clientFrame{Op: opLoadMore, ID: "c1"})
	f := next(t, ws, frameMessages, "c1")
	assert.True(t, f.Exhausted)
}

func TestLiveOpenChecksMembership(t *testing.T) {
	e := newTestEnv(t, nil)
	x := e.signup(t, "x@example.com", "X")
	y := e.signup(t, "y@example.com", "Y")
	var ch models.Channel
	require.Equal(t, http.StatusCreated, e.doJSON(t, http.MethodPost, "/channels", x.Token, map[string]any{"name": "private"}, &ch))

	ws := e.dial(t, y.Token)
	next(t, ws, frameSession, "")
	send(t, ws, clientFrame{Op: opOpen, ID: "c1", Kind: string(models.KindChannel), Conversation: ch.ID})
	f := next(t, ws, frameError, "c1")
	assert.Contains(t, f.Error, "forbidden")

	send(t, ws, clientFrame{Op: opOpen, ID: "c2", Kind: "nope", Conversation: "x"})
	empty := next(t, ws, frameMessages, "c2")
	assert.True(t, empty.Exhausted)
	assert.JSONEq(t, `[]`, string(empty.Data))

	send(t, ws, clientFrame{Op: "dance", ID: "c3"})
	f = next(t, ws, frameError, "c3")
	assert.Contains(t, f.Error, "unknown op")
}

func TestLiveReactionsFeed(t *testing.T) {
	e := newTestEnv(t, nil)
	x := e.signup(t, "x@example.com", "X")
	y := e.signup(t, "y@example.com", "Y")
	var c models.Chat
	require.Equal(t, http.StatusCreated, e.doJSON(t, http.MethodPost, "/chats", x.Token, map[string]string{"peer": y.User.UID}, &c))
	var m models.Message
	require.Equal(t, http.StatusCreated, e.doJSON(t, http.MethodPost, "/chats/"+c.ID+"/messages", x.Token, map[string]string{"text": "hi"}, &m))

	ws := e.dial(t, x.Token)
	next(t, ws, frameSession, "")
	send(t, ws, clientFrame{Op: opReactions, ID: "r1", Owner: m.Path})
	next(t, ws, frameReactions, "r1")

	status, _ := e.do(t, http.MethodPost, "/chats/"+c.ID+"/messages/"+m.ID+"/reactions", y.Token, map[string]string{"emoji": "heart"})
	require.Equal(t, http.StatusOK, status)

	var rs []models.Reaction
	for len(rs) == 0 {
		f := next(t, ws, frameReactions, "r1")
		require.NoError(t, json.Unmarshal(f.Data, &rs))
	}
	require.Len(t, rs, 1)
	assert.Equal(t, []string{y.User.UID}, rs[0].Users)
}

func TestLiveReactionsNormalizeOwner(t *testing.T) {
	e := newTestEnv(t, nil)
	x := e.signup(t, "x@example.com", "X")
	y := e.signup(t, "y@example.com", "Y")
	var c models.Chat
	require.Equal(t, http.StatusCreated, e.doJSON(t, http.MethodPost, "/chats", x.Token, map[string]string{"peer": y.User.UID}, &c))
	var m models.Message
	require.Equal(t, http.StatusCreated, e.doJSON(t, http.MethodPost, "/chats/"+c.ID+"/messages", x.Token, map[string]string{"text": "hi"}, &m))

	ws := e.dial(t, x.Token)
	next(t, ws, frameSession, "")
	send(t, ws, clientFrame{Op: opReactions, ID: "r1", Owner: "/" + m.Path + "/"})
	next(t, ws, frameReactions, "r1")

	status, _ := e.do(t, http.MethodPost, "/chats/"+c.ID+"/messages/"+m.ID+"/reactions", x.Token, map[string]string{"emoji": "smile"})
	require.Equal(t, http.StatusOK, status)

	var rs []models.Reaction
	for len(rs) == 0 {
		f := next(t, ws, frameReactions, "r1")
		require.NoError(t, json.Unmarshal(f.Data, &rs))
	}
	assert.Equal(t, "smile", rs[0].Emoji)
	assert.Equal(t, 1, e.app.Reactions.Feeds())
}

func TestLiveSearchFollowsTerms(t *testing.T) {
	e := newTestEnv(t, nil)
	x := e.signup(t, "x@example.com", "Xavier")
	e.signup(t, "y@example.com", "Yara")

	ws := e.dial(t, x.Token)
	next(t, ws, frameSession, "")
	send(t, ws, clientFrame{Op: opSearch, ID: "s1", Term: "@yar"})

	var rs []search.Result
	for len(rs) == 0 {
		f := next(t, ws, frameSearch, "s1")
		require.NoError(t, json.Unmarshal(f.Data, &rs))
	}
	require.Len(t, rs, 1)
	assert.Equal(t, "Yara", rs[0].User.Name)

	send(t, ws, clientFrame{Op: opSearch, ID: "s1", Term: "@xav"})
	for {
		f := next(t, ws, frameSearch, "s1")
		require.NoError(t, json.Unmarshal(f.Data, &rs))
		if len(rs) == 1 && rs[0].User.Name == "Xavier" {
			break
		}
	}
}

func TestLiveAbruptCloseIsForced(t *testing.T) {
	e := newTestEnv(t, nil)
	x := e.signup(t, "x@example.com", "X")
	y := e.signup(t, "y@example.com", "Y")

	watcher := e.dial(t, y.Token)
	next(t, watcher, frameSession, "")

	ws := e.dial(t, x.Token)
	next(t, ws, frameSession, "")
	send(t, watcher, clientFrame{Op: opPresence, ID: "p1", UID: x.User.UID})

	var st models.PresenceStatus
	for st.State != models.Online {
		f := next(t, watcher, framePresence, "p1")
		require.NoError(t, json.Unmarshal(f.Data, &st))
	}

	// Drop the TCP connection without a close handshake.
	require.NoError(t, ws.UnderlyingConn().Close())

	for st.State != models.Offline {
		f := next(t, watcher, framePresence, "p1")
		require.NoError(t, json.Unmarshal(f.Data, &st))
	}
	assert.True(t, st.ForcedClose)

	require.Eventually(t, func() bool {
		var u models.User
		return e.doJSON(t, http.MethodGet, "/users/"+x.User.UID, y.Token, nil, &u) == http.StatusOK && !u.Active
	}, 2*time.Second, 20*time.Millisecond)
}

func TestLogoutClosesLiveWithoutForcedClose(t *testing.T) {
	e := newTestEnv(t, nil)
	x := e.signup(t, "x@example.com", "X")

	ws := e.dial(t, x.Token)
	next(t, ws, frameSession, "")
	require.Eventually(t, func() bool { return e.app.Hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	status, _ := e.do(t, http.MethodPost, "/auth/logout", x.Token, nil)
	require.Equal(t, http.StatusNoContent, status)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
	}
	require.Eventually(t, func() bool { return e.app.Hub.Len() == 0 }, time.Second, 10*time.Millisecond)

	var st models.PresenceStatus
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, "/presence/"+x.User.UID, x.Token, nil, &st))
	assert.Equal(t, models.Offline, st.State)
	assert.False(t, st.ForcedClose)

	var fc map[string]bool
	require.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, "/presence/forced-close", x.Token, nil, &fc))
	assert.False(t, fc["forcedClose"])
}

func TestLiveVisibility(t *testing.T) {
	e := newTestEnv(t, nil)
	x := e.signup(t, "x@example.com", "X")
	ws := e.dial(t, x.Token)
	next(t, ws, frameSession, "")

	send(t, ws, clientFrame{Op: opVisibility, ID: "v", State: "sideways"})
	f := next(t, ws, frameError, "v")
	assert.Contains(t, f.Error, "visibility")

	send(t, ws, clientFrame{Op: opVisibility, ID: "v", State: "hidden"})
	send(t, ws, clientFrame{Op: opVisibility, ID: "v2", State: "visible"})
	send(t, ws, clientFrame{Op: opPresence, ID: "p", UID: x.User.UID})
	var st models.PresenceStatus
	g := next(t, ws, framePresence, "p")
	require.NoError(t, json.Unmarshal(g.Data, &st))
	assert.Equal(t, models.Online, st.State)
}
