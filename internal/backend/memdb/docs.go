// Package memdb is an in-process backend with the same observable
// semantics as the Firebase one. It backs tests and NO_AUTH development.
package memdb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"local.dev/chatspace-backend/internal/backend"
	"local.dev/chatspace-backend/internal/clock"
	"local.dev/chatspace-backend/internal/live"
)

type Docs struct {
	mu      sync.Mutex
	clk     clock.Clock
	docs    map[string]map[string]any
	queries map[int]*queryWatch
	singles map[int]*docWatch
	nextWID int
}

type queryWatch struct {
	q  backend.Query
	ch chan []backend.Document
}

type docWatch struct {
	path string
	ch   chan backend.Document
}

var _ backend.DocumentStore = (*Docs)(nil)

func NewDocs(clk clock.Clock) *Docs {
	return &Docs{
		clk:     clk,
		docs:    map[string]map[string]any{},
		queries: map[int]*queryWatch{},
		singles: map[int]*docWatch{},
	}
}

func (d *Docs) Get(_ context.Context, path string) (backend.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.docs[path]
	if !ok {
		return backend.Document{}, fmt.Errorf("get %s: %w", path, backend.ErrNotFound)
	}
	return snapshot(path, data), nil
}

func (d *Docs) Set(_ context.Context, path string, data map[string]any) error {
	if err := checkDocPath(path); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docs[path] = apply(nil, data, d.clk.Now())
	d.notify(path)
	return nil
}

func (d *Docs) Merge(_ context.Context, path string, data map[string]any) error {
	if err := checkDocPath(path); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docs[path] = apply(d.docs[path], data, d.clk.Now())
	d.notify(path)
	return nil
}

func (d *Docs) Update(_ context.Context, path string, fields map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, ok := d.docs[path]
	if !ok {
		return fmt.Errorf("update %s: %w", path, backend.ErrNotFound)
	}
	d.docs[path] = apply(cur, fields, d.clk.Now())
	d.notify(path)
	return nil
}

func (d *Docs) Delete(_ context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.docs[path]; !ok {
		return nil
	}
	delete(d.docs, path)
	d.notify(path)
	return nil
}

func (d *Docs) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	if err := d.Set(ctx, collection+"/"+id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (d *Docs) Query(_ context.Context, q backend.Query) ([]backend.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.run(q), nil
}

func (d *Docs) Watch(ctx context.Context, q backend.Query) (*live.Subscription[[]backend.Document], error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextWID
	d.nextWID++
	w := &queryWatch{q: q, ch: make(chan []backend.Document, 1)}
	d.queries[id] = w
	w.ch <- d.run(q)

	sub := live.NewSubscription[[]backend.Document](w.ch, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if _, ok := d.queries[id]; ok {
			delete(d.queries, id)
			close(w.ch)
		}
	})
	go closeOnDone(ctx, sub.Done(), sub.Close)
	return sub, nil
}

func (d *Docs) WatchDoc(ctx context.Context, path string) (*live.Subscription[backend.Document], error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextWID
	d.nextWID++
	w := &docWatch{path: path, ch: make(chan backend.Document, 1)}
	d.singles[id] = w
	w.ch <- d.current(path)

	sub := live.NewSubscription[backend.Document](w.ch, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if _, ok := d.singles[id]; ok {
			delete(d.singles, id)
			close(w.ch)
		}
	})
	go closeOnDone(ctx, sub.Done(), sub.Close)
	return sub, nil
}

// Watchers reports the number of open live queries and document watches.
func (d *Docs) Watchers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queries) + len(d.singles)
}

func closeOnDone(ctx context.Context, done <-chan struct{}, closeFn func()) {
	select {
	case <-ctx.Done():
		closeFn()
	case <-done:
	}
}

// ===== internals (caller holds d.mu) =====

func (d *Docs) current(path string) backend.Document {
	data, ok := d.docs[path]
	if !ok {
		return backend.Document{Path: path, ID: backend.LastSegment(path)}
	}
	return snapshot(path, data)
}

func (d *Docs) notify(path string) {
	coll := backend.ParentCollection(path)
	for _, w := range d.queries {
		if inCollection(w.q, coll) {
			live.Offer(w.ch, d.run(w.q))
		}
	}
	for _, w := range d.singles {
		if w.path == path {
			live.Offer(w.ch, d.current(path))
		}
	}
}

func (d *Docs) run(q backend.Query) []backend.Document {
	out := []backend.Document{}
	for path, data := range d.docs {
		if !inCollection(q, backend.ParentCollection(path)) || !matches(q.Filters, data) {
			continue
		}
		out = append(out, snapshot(path, data))
	}
	sort.Slice(out, func(i, j int) bool {
		c := 0
		if q.OrderBy != "" {
			c = compare(out[i].Data[q.OrderBy], out[j].Data[q.OrderBy])
		}
		if c == 0 {
			c = strings.Compare(out[i].ID, out[j].ID)
		}
		if c == 0 {
			c = strings.Compare(out[i].Path, out[j].Path)
		}
		if q.Desc {
			return c > 0
		}
		return c < 0
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func inCollection(q backend.Query, coll string) bool {
	if q.Group {
		return backend.LastSegment(coll) == q.Collection
	}
	return coll == q.Collection
}

func matches(filters []backend.Filter, data map[string]any) bool {
	for _, f := range filters {
		want := normalize(f.Value, time.Time{})
		switch f.Op {
		case backend.OpEqual:
			if compare(data[f.Field], want) != 0 {
				return false
			}
		case backend.OpArrayContains:
			arr, _ := data[f.Field].([]any)
			if indexOf(arr, want) < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func checkDocPath(path string) error {
	if n := strings.Count(strings.Trim(path, "/"), "/"); n%2 == 0 {
		return fmt.Errorf("%q is not a document path: %w", path, backend.ErrValidation)
	}
	return nil
}

func snapshot(path string, data map[string]any) backend.Document {
	return backend.Document{Path: path, ID: backend.LastSegment(path), Data: cloneMap(data)}
}
