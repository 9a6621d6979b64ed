package search

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"local.dev/chatspace-backend/internal/backend"
	"local.dev/chatspace-backend/internal/clock"
	"local.dev/chatspace-backend/internal/live"
	"local.dev/chatspace-backend/internal/metrics"
	"local.dev/chatspace-backend/internal/models"
)

// Context names the box a term was typed into; each has its own debounce.
type Context string

const (
	Header  Context = "header"
	Compose Context = "compose"
)

type Options struct {
	Context Context
	// IncludeAllChannels widens the channel category beyond the viewer's
	// own channels. Channel posts always come from the viewer's channels.
	IncludeAllChannels bool
}

type Aggregator struct {
	docs         backend.DocumentStore
	clk          clock.Clock
	headerDelay  time.Duration
	composeDelay time.Duration
}

func NewAggregator(docs backend.DocumentStore, clk clock.Clock, headerDelay, composeDelay time.Duration) *Aggregator {
	if headerDelay <= 0 {
		headerDelay = 300 * time.Millisecond
	}
	if composeDelay <= 0 {
		composeDelay = 200 * time.Millisecond
	}
	return &Aggregator{docs: docs, clk: clk, headerDelay: headerDelay, composeDelay: composeDelay}
}

func (a *Aggregator) delay(c Context) time.Duration {
	if c == Compose {
		return a.composeDelay
	}
	return a.headerDelay
}

const (
	baseUsers = iota
	baseChannels
	baseChats
	baseMessages
	baseAnswers
	baseCount
)

func (a *Aggregator) queries(viewer string) [baseCount]backend.Query {
	return [baseCount]backend.Query{
		baseUsers:    {Collection: models.UsersCollection, OrderBy: "name"},
		baseChannels: backend.Query{Collection: string(models.KindChannel), OrderBy: "name"}.Where("deleted", backend.OpEqual, false),
		baseChats:    backend.Query{Collection: string(models.KindChat)}.Where("memberIds", backend.OpArrayContains, viewer),
		baseMessages: {Collection: models.MessagesCollection, Group: true, OrderBy: "createdAt"},
		baseAnswers:  {Collection: models.AnswersCollection, Group: true, OrderBy: "createdAt"},
	}
}

// Snapshot loads the viewer's bases once.
func (a *Aggregator) Snapshot(ctx context.Context, viewer string, includeAll bool) (Bases, error) {
	var raw [baseCount][]backend.Document
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range a.queries(viewer) {
		i, q := i, q
		g.Go(func() error {
			found, err := a.docs.Query(gctx, q)
			if err != nil {
				return fmt.Errorf("search base %s: %w", q.Collection, err)
			}
			raw[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Bases{}, err
	}
	return assemble(viewer, includeAll, raw), nil
}

// Run evaluates each settled term from terms against the live bases and
// re-evaluates the last term whenever a base changes. Terms are debounced
// for the box's delay and repeated terms are dropped. The caller closes
// terms when done, and closes the subscription to release the bases.
func (a *Aggregator) Run(ctx context.Context, viewer string, opts Options, terms <-chan string) (*live.Subscription[[]Result], error) {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan []Result, 1)
	r := &run{viewer: viewer, opts: opts, out: out}

	for i, q := range a.queries(viewer) {
		sub, err := a.docs.Watch(ctx, q)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("search base %s: %w", q.Collection, err)
		}
		i := i
		go func() {
			for docs := range sub.C {
				r.setBase(i, docs)
			}
		}()
	}

	settled := live.Distinct(live.Debounce(terms, a.delay(opts.Context), a.clk))
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case term, ok := <-settled:
				if !ok {
					return
				}
				r.setTerm(term)
			}
		}
	}()

	metrics.LiveSubscriptions.WithLabelValues("search").Inc()
	return live.NewSubscription[[]Result](out, func() {
		cancel()
		r.close()
		metrics.LiveSubscriptions.WithLabelValues("search").Dec()
	}), nil
}

type run struct {
	viewer string
	opts   Options

	mu      sync.Mutex
	out     chan []Result
	raw     [baseCount][]backend.Document
	loaded  [baseCount]bool
	term    string
	hasTerm bool
	closed  bool
}

func (r *run) setBase(i int, docs []backend.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raw[i], r.loaded[i] = docs, true
	r.emit()
}

func (r *run) setTerm(term string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.term, r.hasTerm = term, true
	r.emit()
}

// emit runs with r.mu held.
func (r *run) emit() {
	if r.closed || !r.hasTerm {
		return
	}
	for _, ok := range r.loaded {
		if !ok {
			return
		}
	}
	metrics.SearchQueries.WithLabelValues(string(r.opts.Context)).Inc()
	live.Offer(r.out, Search(r.term, assemble(r.viewer, r.opts.IncludeAllChannels, r.raw)))
}

func (r *run) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.out)
	}
}

func assemble(viewer string, includeAll bool, raw [baseCount][]backend.Document) Bases {
	var b Bases
	users := map[string]models.User{}
	for _, d := range raw[baseUsers] {
		u := models.UserFromData(d.ID, d.Data)
		users[u.UID] = u
		b.Users = append(b.Users, u)
	}

	mine := map[string]models.Channel{}
	for _, d := range raw[baseChannels] {
		c := models.ChannelFromData(d.ID, d.Data)
		if c.Deleted {
			continue
		}
		member := c.HasMember(viewer)
		if member {
			mine[c.ID] = c
		}
		if member || includeAll {
			b.Channels = append(b.Channels, c)
		}
	}

	chats := map[string]models.Chat{}
	for _, d := range raw[baseChats] {
		c := models.ChatFromData(d.ID, d.Data)
		if c.HasMember(viewer) {
			chats[c.ID] = c
		}
	}

	posts := append(append([]backend.Document(nil), raw[baseMessages]...), raw[baseAnswers]...)
	for _, d := range posts {
		ref, ok := models.ParsePostPath(d.Path)
		if !ok {
			continue
		}
		msg := models.MessageFromData(d.Path, d.ID, d.Data)
		switch ref.Kind {
		case models.KindChat:
			chat, ok := chats[ref.ConversationID]
			if !ok {
				continue
			}
			peerID := chat.Peer(viewer)
			peer, ok := users[peerID]
			if !ok {
				peer = models.User{UID: peerID}
			}
			b.ChatPosts = append(b.ChatPosts, ChatPost{Post: msg, Peer: peer})
		case models.KindChannel:
			ch, ok := mine[ref.ConversationID]
			if !ok {
				continue
			}
			b.ChannelPosts = append(b.ChannelPosts, ChannelPost{Post: msg, Channel: ch})
		}
	}
	sort.SliceStable(b.ChatPosts, func(i, j int) bool { return b.ChatPosts[i].Post.CreatedAt.Before(b.ChatPosts[j].Post.CreatedAt) })
	sort.SliceStable(b.ChannelPosts, func(i, j int) bool {
		return b.ChannelPosts[i].Post.CreatedAt.Before(b.ChannelPosts[j].Post.CreatedAt)
	})
	return b
}
