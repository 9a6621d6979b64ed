package memdb

import (
	"context"
	"fmt"
	"time"

	"local.dev/chatspace-backend/internal/backend"
)

// RunTransaction holds the store lock for the whole of fn, so no other
// write can land between its reads and its writes.
func (d *Docs) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx backend.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	t := &tx{d: d, exists: map[string]bool{}}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if t.readAfterWrite {
		return backend.ErrReadAfterWrite
	}
	now := d.clk.Now()
	for _, w := range t.writes {
		w.apply(now)
	}
	for _, w := range t.writes {
		d.notify(w.path)
	}
	return nil
}

type txWrite struct {
	path  string
	apply func(now time.Time)
}

// tx buffers writes until commit. Caller holds d.mu.
type tx struct {
	d      *Docs
	writes []txWrite
	// exists tracks documents created or deleted earlier in the tx.
	exists map[string]bool
	// readAfterWrite fails the commit even if fn ignored the read error.
	readAfterWrite bool
}

func (t *tx) Get(path string) (backend.Document, error) {
	if len(t.writes) > 0 {
		t.readAfterWrite = true
		return backend.Document{}, backend.ErrReadAfterWrite
	}
	data, ok := t.d.docs[path]
	if !ok {
		return backend.Document{}, fmt.Errorf("get %s: %w", path, backend.ErrNotFound)
	}
	return snapshot(path, data), nil
}

func (t *tx) Query(q backend.Query) ([]backend.Document, error) {
	if len(t.writes) > 0 {
		t.readAfterWrite = true
		return nil, backend.ErrReadAfterWrite
	}
	return t.d.run(q), nil
}

func (t *tx) Set(path string, data map[string]any) error {
	if err := checkDocPath(path); err != nil {
		return err
	}
	data = cloneMap(data)
	t.exists[path] = true
	t.writes = append(t.writes, txWrite{path: path, apply: func(now time.Time) {
		t.d.docs[path] = apply(nil, data, now)
	}})
	return nil
}

func (t *tx) Update(path string, fields map[string]any) error {
	exists, seen := t.exists[path]
	if !seen {
		_, exists = t.d.docs[path]
	}
	if !exists {
		return fmt.Errorf("update %s: %w", path, backend.ErrNotFound)
	}
	fields = cloneMap(fields)
	t.writes = append(t.writes, txWrite{path: path, apply: func(now time.Time) {
		t.d.docs[path] = apply(t.d.docs[path], fields, now)
	}})
	return nil
}

func (t *tx) Delete(path string) error {
	t.exists[path] = false
	t.writes = append(t.writes, txWrite{path: path, apply: func(time.Time) {
		delete(t.d.docs, path)
	}})
	return nil
}
