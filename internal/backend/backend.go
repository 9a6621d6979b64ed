// Package backend defines the ports the services use to reach the managed
// backend: a document store, a realtime key-value store, and the
// server-owned registry of on-disconnect writes.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"local.dev/chatspace-backend/internal/live"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
	// ErrReadAfterWrite is returned by a Tx read issued after a write.
	ErrReadAfterWrite = errors.New("transaction read after write")
)

// Document is a snapshot of one stored document.
type Document struct {
	Path string
	ID   string
	Data map[string]any
}

// Filter operators.
const (
	OpEqual         = "=="
	OpArrayContains = "array-contains"
)

type Filter struct {
	Field string
	Op    string
	Value any
}

// Query selects documents from one collection, or from every collection
// with the given ID when Group is set.
type Query struct {
	Collection string
	Group      bool
	Filters    []Filter
	OrderBy    string
	Desc       bool
	Limit      int
}

func (q Query) Where(field, op string, v any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: v})
	return q
}

type DocumentStore interface {
	Get(ctx context.Context, path string) (Document, error)
	// Set replaces the document at path.
	Set(ctx context.Context, path string, data map[string]any) error
	// Merge writes the given fields, creating the document if needed.
	Merge(ctx context.Context, path string, data map[string]any) error
	// Update writes the given fields of an existing document.
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	// Add creates a document with a generated ID under collection.
	Add(ctx context.Context, collection string, data map[string]any) (string, error)
	Query(ctx context.Context, q Query) ([]Document, error)
	// Watch emits the full result of q now and after every change.
	Watch(ctx context.Context, q Query) (*live.Subscription[[]Document], error)
	// WatchDoc emits the document on every change; Data is nil while it
	// does not exist.
	WatchDoc(ctx context.Context, path string) (*live.Subscription[Document], error)
	// RunTransaction runs fn atomically. fn may run more than once and must
	// touch the store only through tx.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the store as seen from inside a transaction. Reads come before
// writes; the writes apply together when fn returns nil.
type Tx interface {
	Get(path string) (Document, error)
	Query(q Query) ([]Document, error)
	Set(path string, data map[string]any) error
	Update(path string, fields map[string]any) error
	Delete(path string) error
}

// RealtimeStore is a JSON key-value tree addressed by slash paths.
type RealtimeStore interface {
	// Get returns nil when nothing is stored at path.
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Set(ctx context.Context, path string, v any) error
	Watch(ctx context.Context, path string) (*live.Subscription[json.RawMessage], error)
	// OnDisconnect registers a write to apply when session disconnects,
	// replacing any earlier registration for the same session and path.
	OnDisconnect(session, path string, v any) error
	CancelDisconnect(session, path string)
	// Disconnect applies and clears every write registered for session.
	// fired is false when nothing was registered.
	Disconnect(ctx context.Context, session string) (fired bool, err error)
}

// ParentCollection returns the collection path of a document path.
func ParentCollection(docPath string) string {
	i := strings.LastIndex(docPath, "/")
	if i < 0 {
		return ""
	}
	return docPath[:i]
}

// LastSegment returns the final segment of a slash path.
func LastSegment(p string) string {
	return p[strings.LastIndex(p, "/")+1:]
}
