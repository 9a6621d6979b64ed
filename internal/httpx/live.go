package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"local.dev/chatspace-backend/internal/live"
	"local.dev/chatspace-backend/internal/logger"
	"local.dev/chatspace-backend/internal/models"
	"local.dev/chatspace-backend/internal/paginator"
	"local.dev/chatspace-backend/internal/presence"
	"local.dev/chatspace-backend/internal/search"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client operations on /live.
const (
	opOpen       = "open"
	opLoadMore   = "loadMore"
	opScrollTo   = "scrollTo"
	opClose      = "close"
	opReactions  = "reactions"
	opPresence   = "presence"
	opSearch     = "search"
	opVisibility = "visibility"
)

// Server frame types.
const (
	frameSession   = "session"
	frameMessages  = "messages"
	frameReactions = "reactions"
	framePresence  = "presence"
	frameSearch    = "search"
	frameError     = "error"
)

type clientFrame struct {
	Op string `json:"op"`
	// ID names the subscription the frame refers to; chosen by the client.
	ID           string `json:"id"`
	Kind         string `json:"kind,omitempty"`
	Conversation string `json:"conversation,omitempty"`
	Thread       string `json:"thread,omitempty"`
	Message      string `json:"message,omitempty"`
	Owner        string `json:"owner,omitempty"`
	UID          string `json:"uid,omitempty"`
	Term         string `json:"term"`
	Context      string `json:"context,omitempty"`
	All          bool   `json:"all,omitempty"`
	State        string `json:"state,omitempty"`
}

type serverFrame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Exhausted bool   `json:"exhausted,omitempty"`
	Error     string `json:"error,omitempty"`
}

type liveSub struct {
	close  func()
	window *paginator.Window
	terms  chan string
}

// liveConn is one WebSocket client. It is also one presence session: a
// drop without logout fires the session's disconnect fallback.
type liveConn struct {
	app     *AppCtx
	ws      *websocket.Conn
	uid     string
	session string
	pag     *paginator.Paginator
	hidden  *presence.HiddenTimer
	send    chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	loggedOut atomic.Bool

	mu   sync.Mutex
	subs map[string]*liveSub
}

// GET /live
func HandleLive(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := currentUID(r)
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("ws_upgrade_failed", "uid", uid, "error", err)
			return
		}
		ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
		t := app.Config.Tunables
		c := &liveConn{
			app:     app,
			ws:      ws,
			uid:     uid,
			session: uuid.NewString(),
			pag: paginator.New(app.Docs, app.Clock, paginator.Options{
				PageSize:       t.PageSize,
				Step:           t.PageStep,
				ScrollAttempts: t.ScrollAttempts,
				ScrollInterval: t.ScrollInterval,
			}),
			send:   make(chan []byte, sendBuffer),
			ctx:    ctx,
			cancel: cancel,
			subs:   map[string]*liveSub{},
		}
		c.hidden = app.Presence.NewHiddenTimer(uid, c.session, t.HiddenDelay)
		c.serve()
	}
}

func (c *liveConn) serve() {
	c.app.Hub.add(c)
	defer c.app.Hub.remove(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()

	if err := c.app.Presence.Reconcile(c.ctx, c.uid, c.session); err != nil {
		c.pushError("", err)
	}
	c.push(serverFrame{Type: frameSession, Data: map[string]string{"session": c.session, "uid": c.uid}})
	logger.Info("live_connected", "uid", c.uid, "session", c.session)

	go func() {
		<-c.ctx.Done()
		_ = c.ws.SetReadDeadline(time.Now())
	}()
	c.readPump()

	c.cancel()
	<-done
	c.shutdown()
}

func (c *liveConn) readPump() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var f clientFrame
		if err := c.ws.ReadJSON(&f); err != nil {
			var syntax *json.SyntaxError
			if errors.As(err, &syntax) {
				c.pushError("", fmt.Errorf("bad frame: %w", err))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && c.ctx.Err() == nil {
				logger.Debug("live_read_failed", "uid", c.uid, "error", err)
			}
			return
		}
		c.handle(f)
	}
}

func (c *liveConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// shutdown releases every subscription and, unless the user logged out,
// fires the session's disconnect fallback.
func (c *liveConn) shutdown() {
	c.mu.Lock()
	subs := c.subs
	c.subs = map[string]*liveSub{}
	c.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
	c.hidden.Stop()
	_ = c.ws.Close()

	if c.loggedOut.Load() {
		logger.Info("live_logged_out", "uid", c.uid, "session", c.session)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.app.Presence.Disconnect(ctx, c.uid, c.session); err != nil {
		logger.Warn("live_disconnect_failed", "uid", c.uid, "session", c.session, "error", err)
	}
}

func (c *liveConn) push(f serverFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		logger.Error("live_encode_failed", "type", f.Type, "error", err)
		return
	}
	select {
	case c.send <- b:
	case <-c.ctx.Done():
	}
}

func (c *liveConn) pushError(id string, err error) {
	c.push(serverFrame{Type: frameError, ID: id, Error: err.Error()})
}

func (c *liveConn) handle(f clientFrame) {
	var err error
	switch f.Op {
	case opOpen:
		err = c.open(f)
	case opLoadMore:
		err = c.loadMore(f)
	case opScrollTo:
		err = c.scrollTo(f)
	case opClose:
		c.closeSub(f.ID)
	case opReactions:
		err = c.watchReactions(f)
	case opPresence:
		err = c.watchPresence(f)
	case opSearch:
		err = c.search(f)
	case opVisibility:
		err = c.visibility(f)
	default:
		err = fmt.Errorf("unknown op %q", f.Op)
	}
	if err != nil {
		c.pushError(f.ID, err)
	}
}

// ===== subscription registry =====

func (c *liveConn) setSub(id string, s *liveSub) {
	c.mu.Lock()
	old := c.subs[id]
	c.subs[id] = s
	c.mu.Unlock()
	if old != nil {
		old.close()
	}
}

func (c *liveConn) sub(id string) *liveSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[id]
}

func (c *liveConn) closeSub(id string) {
	c.mu.Lock()
	s := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if s != nil {
		s.close()
	}
}

// forward pushes every value of ch as a frame until ch ends.
func forward[T any](c *liveConn, ch <-chan T, frame func(T) serverFrame) {
	go func() {
		for v := range ch {
			c.push(frame(v))
		}
	}()
}

// ===== operations =====

func (c *liveConn) open(f clientFrame) error {
	if f.ID == "" {
		return errors.New("open needs an id")
	}
	kind, ok := models.ParseKind(f.Kind)
	if !ok || f.Conversation == "" {
		c.push(serverFrame{Type: frameMessages, ID: f.ID, Data: []models.Message{}, Exhausted: true})
		return nil
	}
	if err := c.app.Store.Member(c.ctx, kind, f.Conversation, c.uid); err != nil {
		return err
	}
	var (
		w   *paginator.Window
		err error
	)
	if f.Thread != "" {
		w, err = c.pag.OpenThread(c.ctx, f.Kind, f.Conversation, f.Thread)
	} else {
		w, err = c.pag.Open(c.ctx, f.Kind, f.Conversation)
	}
	if err != nil {
		return err
	}
	c.setSub(f.ID, &liveSub{close: w.Close, window: w})
	forward(c, w.C, func(ms []models.Message) serverFrame {
		return serverFrame{Type: frameMessages, ID: f.ID, Data: ms, Exhausted: w.Exhausted()}
	})
	return nil
}

func (c *liveConn) window(id string) (*paginator.Window, error) {
	s := c.sub(id)
	if s == nil || s.window == nil {
		return nil, fmt.Errorf("no open conversation %q", id)
	}
	return s.window, nil
}

func (c *liveConn) loadMore(f clientFrame) error {
	w, err := c.window(f.ID)
	if err != nil {
		return err
	}
	more, err := w.LoadMore()
	if err != nil {
		return err
	}
	if !more {
		c.push(serverFrame{Type: frameMessages, ID: f.ID, Data: w.Latest(), Exhausted: true})
	}
	return nil
}

func (c *liveConn) scrollTo(f clientFrame) error {
	w, err := c.window(f.ID)
	if err != nil {
		return err
	}
	go func() {
		if err := w.ScrollTo(c.ctx, f.Message); err != nil && c.ctx.Err() == nil {
			c.pushError(f.ID, err)
		}
	}()
	return nil
}

func (c *liveConn) watchReactions(f clientFrame) error {
	ref, ok := models.ParsePostPath(f.Owner)
	if !ok {
		return fmt.Errorf("bad reaction owner %q", f.Owner)
	}
	if err := c.app.Store.Member(c.ctx, ref.Kind, ref.ConversationID, c.uid); err != nil {
		return err
	}
	sub, err := c.app.Reactions.Watch(ref.Path())
	if err != nil {
		return err
	}
	c.setSub(f.ID, &liveSub{close: sub.Close})
	forward(c, sub.C, func(rs []models.Reaction) serverFrame {
		return serverFrame{Type: frameReactions, ID: f.ID, Data: rs}
	})
	return nil
}

func (c *liveConn) watchPresence(f clientFrame) error {
	if f.UID == "" {
		return errors.New("presence needs a uid")
	}
	sub, err := c.app.Presence.Watch(c.ctx, f.UID)
	if err != nil {
		return err
	}
	c.setSub(f.ID, &liveSub{close: sub.Close})
	forward(c, sub.C, func(st models.PresenceStatus) serverFrame {
		return serverFrame{Type: framePresence, ID: f.ID, Data: st}
	})
	return nil
}

// search feeds the term into the running search for f.ID, starting one
// on the first term.
func (c *liveConn) search(f clientFrame) error {
	c.mu.Lock()
	if s, ok := c.subs[f.ID]; ok && s.terms != nil {
		live.Offer(s.terms, f.Term)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	opts := search.Options{Context: search.Header, IncludeAllChannels: f.All}
	if f.Context == string(search.Compose) {
		opts.Context = search.Compose
	}
	terms := make(chan string, 1)
	sub, err := c.app.Search.Run(c.ctx, c.uid, opts, terms)
	if err != nil {
		return err
	}
	var once sync.Once
	s := &liveSub{terms: terms}
	s.close = func() {
		once.Do(func() {
			sub.Close()
			c.mu.Lock()
			close(terms)
			c.mu.Unlock()
		})
	}
	c.setSub(f.ID, s)
	forward(c, sub.C, func(rs []search.Result) serverFrame {
		if rs == nil {
			rs = []search.Result{}
		}
		return serverFrame{Type: frameSearch, ID: f.ID, Data: rs}
	})
	c.mu.Lock()
	live.Offer(terms, f.Term)
	c.mu.Unlock()
	return nil
}

func (c *liveConn) visibility(f clientFrame) error {
	switch f.State {
	case "hidden":
		c.hidden.Hidden()
		return nil
	case "visible":
		return c.hidden.Visible(c.ctx)
	}
	return fmt.Errorf("unknown visibility %q", f.State)
}
