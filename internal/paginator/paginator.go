// Package paginator serves conversations as live windows over their most
// recent messages, growing the window on demand.
package paginator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"local.dev/chatspace-backend/internal/backend"
	"local.dev/chatspace-backend/internal/clock"
	"local.dev/chatspace-backend/internal/metrics"
	"local.dev/chatspace-backend/internal/models"
)

var ErrMessageNotLoaded = errors.New("message not loaded")

type Options struct {
	PageSize       int
	Step           int
	ScrollAttempts int
	ScrollInterval time.Duration
}

func DefaultOptions() Options {
	return Options{PageSize: 5, Step: 5, ScrollAttempts: 20, ScrollInterval: 300 * time.Millisecond}
}

// Paginator holds one client's pagination state. Exhaustion is tracked per
// collection and stays set until that collection is opened again.
type Paginator struct {
	docs backend.DocumentStore
	clk  clock.Clock
	opts Options

	mu        sync.Mutex
	exhausted map[string]bool
}

func New(docs backend.DocumentStore, clk clock.Clock, opts Options) *Paginator {
	def := DefaultOptions()
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.Step <= 0 {
		opts.Step = def.Step
	}
	if opts.ScrollAttempts <= 0 {
		opts.ScrollAttempts = def.ScrollAttempts
	}
	if opts.ScrollInterval <= 0 {
		opts.ScrollInterval = def.ScrollInterval
	}
	return &Paginator{docs: docs, clk: clk, opts: opts, exhausted: map[string]bool{}}
}

// Open starts a window over the messages of conversation id. An unknown
// kind yields a window that is already closed.
func (p *Paginator) Open(ctx context.Context, kind, id string) (*Window, error) {
	k, ok := models.ParseKind(kind)
	if !ok || id == "" {
		return closedWindow(), nil
	}
	return p.open(ctx, models.MessagesPath(k, id))
}

// OpenThread starts a window over the answers of one message.
func (p *Paginator) OpenThread(ctx context.Context, kind, id, messageID string) (*Window, error) {
	k, ok := models.ParseKind(kind)
	if !ok || id == "" || messageID == "" {
		return closedWindow(), nil
	}
	return p.open(ctx, models.AnswersPath(k, id, messageID))
}

func (p *Paginator) Exhausted(collection string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exhausted[collection]
}

func (p *Paginator) setExhausted(collection string, v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v {
		p.exhausted[collection] = true
		return
	}
	delete(p.exhausted, collection)
}

func (p *Paginator) open(ctx context.Context, collection string) (*Window, error) {
	p.setExhausted(collection, false)
	out := make(chan []models.Message, 1)
	w := &Window{C: out, out: out, p: p, ctx: ctx, collection: collection, limit: p.opts.PageSize}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.restart(); err != nil {
		return nil, err
	}
	metrics.LiveSubscriptions.WithLabelValues("messages").Inc()
	return w, nil
}

// Fetch is the one-shot form of a window: the newest limit messages of a
// collection in ascending order.
func Fetch(ctx context.Context, docs backend.DocumentStore, collection string, limit int) ([]models.Message, error) {
	found, err := docs.Query(ctx, lastN(collection, limit))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", collection, err)
	}
	return decode(found), nil
}

func lastN(collection string, n int) backend.Query {
	return backend.Query{Collection: collection, OrderBy: "createdAt", Desc: true, Limit: n}
}

func decode(found []backend.Document) []models.Message {
	out := make([]models.Message, 0, len(found))
	for _, d := range found {
		out = append(out, models.MessageFromData(d.Path, d.ID, d.Data))
	}
	models.SortMessages(out)
	return out
}
