// Package firebase adapts the Firebase Admin SDK to the backend ports:
// Firestore for documents, the Realtime Database for presence, and Firebase
// Auth plus the Identity Toolkit for accounts.
package firebase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"local.dev/chatspace-backend/internal/backend"
	"local.dev/chatspace-backend/internal/live"
	"local.dev/chatspace-backend/internal/logger"
)

// Docs is a DocumentStore on Cloud Firestore.
type Docs struct {
	client *firestore.Client
}

var _ backend.DocumentStore = (*Docs)(nil)

func NewDocs(client *firestore.Client) *Docs { return &Docs{client: client} }

func (d *Docs) Close() error { return d.client.Close() }

func (d *Docs) Get(ctx context.Context, path string) (backend.Document, error) {
	snap, err := d.client.Doc(path).Get(ctx)
	if err != nil {
		return backend.Document{}, wrap("get "+path, err)
	}
	return fromSnapshot(snap), nil
}

func (d *Docs) Set(ctx context.Context, path string, data map[string]any) error {
	ref, err := d.doc(path)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, toFirestore(data))
	return wrap("set "+path, err)
}

func (d *Docs) Merge(ctx context.Context, path string, data map[string]any) error {
	ref, err := d.doc(path)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, toFirestore(data), firestore.MergeAll)
	return wrap("merge "+path, err)
}

func (d *Docs) Update(ctx context.Context, path string, fields map[string]any) error {
	ref, err := d.doc(path)
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, toUpdates(fields))
	return wrap("update "+path, err)
}

func (d *Docs) Delete(ctx context.Context, path string) error {
	ref, err := d.doc(path)
	if err != nil {
		return err
	}
	_, err = ref.Delete(ctx)
	return wrap("delete "+path, err)
}

func (d *Docs) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	ref, _, err := d.client.Collection(collection).Add(ctx, toFirestore(data))
	if err != nil {
		return "", wrap("add "+collection, err)
	}
	return ref.ID, nil
}

func (d *Docs) Query(ctx context.Context, q backend.Query) ([]backend.Document, error) {
	fq, err := d.query(q)
	if err != nil {
		return nil, err
	}
	snaps, err := fq.Documents(ctx).GetAll()
	if err != nil {
		return nil, wrap("query "+q.Collection, err)
	}
	return fromSnapshots(snaps), nil
}

// Watch listens to q. The first snapshot is read before returning so a
// bad query fails here rather than on the channel.
func (d *Docs) Watch(ctx context.Context, q backend.Query) (*live.Subscription[[]backend.Document], error) {
	fq, err := d.query(q)
	if err != nil {
		return nil, err
	}
	wctx, cancel := context.WithCancel(ctx)
	it := fq.Snapshots(wctx)
	first, err := nextQuerySnapshot(it)
	if err != nil {
		it.Stop()
		cancel()
		return nil, wrap("watch "+q.Collection, err)
	}

	out := make(chan []backend.Document, 1)
	out <- first
	go func() {
		defer close(out)
		defer it.Stop()
		for {
			docs, err := nextQuerySnapshot(it)
			if err != nil {
				if wctx.Err() == nil {
					logger.Warn("firestore_watch_ended", "collection", q.Collection, "error", err)
				}
				return
			}
			live.Offer(out, docs)
		}
	}()
	return live.NewSubscription[[]backend.Document](out, cancel), nil
}

func (d *Docs) WatchDoc(ctx context.Context, path string) (*live.Subscription[backend.Document], error) {
	ref, err := d.doc(path)
	if err != nil {
		return nil, err
	}
	wctx, cancel := context.WithCancel(ctx)
	it := ref.Snapshots(wctx)
	first, err := nextDocSnapshot(path, it)
	if err != nil {
		it.Stop()
		cancel()
		return nil, wrap("watch "+path, err)
	}

	out := make(chan backend.Document, 1)
	out <- first
	go func() {
		defer close(out)
		defer it.Stop()
		for {
			doc, err := nextDocSnapshot(path, it)
			if err != nil {
				if wctx.Err() == nil {
					logger.Warn("firestore_watch_ended", "path", path, "error", err)
				}
				return
			}
			live.Offer(out, doc)
		}
	}()
	return live.NewSubscription[backend.Document](out, cancel), nil
}

// RunTransaction runs fn in a Firestore transaction, which retries fn on
// contention.
func (d *Docs) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx backend.Tx) error) error {
	err := d.client.RunTransaction(ctx, func(ctx context.Context, t *firestore.Transaction) error {
		return fn(ctx, &txn{d: d, t: t})
	})
	return wrap("transaction", err)
}

type txn struct {
	d *Docs
	t *firestore.Transaction
}

func (x *txn) Get(path string) (backend.Document, error) {
	ref, err := x.d.doc(path)
	if err != nil {
		return backend.Document{}, err
	}
	snap, err := x.t.Get(ref)
	if err != nil {
		return backend.Document{}, wrap("get "+path, err)
	}
	return fromSnapshot(snap), nil
}

func (x *txn) Query(q backend.Query) ([]backend.Document, error) {
	fq, err := x.d.query(q)
	if err != nil {
		return nil, err
	}
	snaps, err := x.t.Documents(fq).GetAll()
	if err != nil {
		return nil, wrap("query "+q.Collection, err)
	}
	return fromSnapshots(snaps), nil
}

func (x *txn) Set(path string, data map[string]any) error {
	ref, err := x.d.doc(path)
	if err != nil {
		return err
	}
	return wrap("set "+path, x.t.Set(ref, toFirestore(data)))
}

func (x *txn) Update(path string, fields map[string]any) error {
	ref, err := x.d.doc(path)
	if err != nil {
		return err
	}
	return wrap("update "+path, x.t.Update(ref, toUpdates(fields)))
}

func (x *txn) Delete(path string) error {
	ref, err := x.d.doc(path)
	if err != nil {
		return err
	}
	return wrap("delete "+path, x.t.Delete(ref))
}

// ===== helpers =====

func (d *Docs) doc(path string) (*firestore.DocumentRef, error) {
	ref := d.client.Doc(path)
	if ref == nil {
		return nil, fmt.Errorf("%q is not a document path: %w", path, backend.ErrValidation)
	}
	return ref, nil
}

func (d *Docs) query(q backend.Query) (firestore.Query, error) {
	var fq firestore.Query
	if q.Group {
		fq = d.client.CollectionGroup(q.Collection).Query
	} else {
		coll := d.client.Collection(q.Collection)
		if coll == nil {
			return fq, fmt.Errorf("%q is not a collection path: %w", q.Collection, backend.ErrValidation)
		}
		fq = coll.Query
	}
	for _, f := range q.Filters {
		fq = fq.Where(f.Field, f.Op, toFirestoreValue(f.Value))
	}
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Desc {
			dir = firestore.Desc
		}
		fq = fq.OrderBy(q.OrderBy, dir)
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq, nil
}

func nextQuerySnapshot(it *firestore.QuerySnapshotIterator) ([]backend.Document, error) {
	qs, err := it.Next()
	if err != nil {
		return nil, err
	}
	snaps, err := qs.Documents.GetAll()
	if err != nil {
		return nil, err
	}
	return fromSnapshots(snaps), nil
}

func nextDocSnapshot(path string, it *firestore.DocumentSnapshotIterator) (backend.Document, error) {
	snap, err := it.Next()
	if err != nil {
		return backend.Document{}, err
	}
	if !snap.Exists() {
		return backend.Document{Path: path, ID: backend.LastSegment(path)}, nil
	}
	return fromSnapshot(snap), nil
}

func fromSnapshots(snaps []*firestore.DocumentSnapshot) []backend.Document {
	docs := make([]backend.Document, 0, len(snaps))
	for _, s := range snaps {
		docs = append(docs, fromSnapshot(s))
	}
	return docs
}

func fromSnapshot(s *firestore.DocumentSnapshot) backend.Document {
	return backend.Document{Path: relativePath(s.Ref.Path), ID: s.Ref.ID, Data: s.Data()}
}

// relativePath strips the "projects/<p>/databases/<d>/documents/" prefix.
func relativePath(full string) string {
	const marker = "/documents/"
	if i := strings.Index(full, marker); i >= 0 {
		return full[i+len(marker):]
	}
	return full
}

func toFirestore(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = toFirestoreValue(v)
	}
	return out
}

func toUpdates(fields map[string]any) []firestore.Update {
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		updates = append(updates, firestore.Update{Path: k, Value: toFirestoreValue(v)})
	}
	return updates
}

func toFirestoreValue(v any) any {
	switch t := v.(type) {
	case backend.ArrayUnionOp:
		return firestore.ArrayUnion(t.Elems...)
	case backend.ArrayRemoveOp:
		return firestore.ArrayRemove(t.Elems...)
	case backend.IncrementOp:
		return firestore.Increment(t.By)
	case map[string]any:
		return toFirestore(t)
	}
	switch {
	case backend.IsServerTimestamp(v):
		return firestore.ServerTimestamp
	case backend.IsDeleteField(v):
		return firestore.Delete
	}
	return v
}

// wrap maps gRPC status codes onto the backend errors.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, iterator.Done) {
		return fmt.Errorf("%s: %w", op, backend.ErrNotFound)
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", op, backend.ErrNotFound)
	case codes.InvalidArgument, codes.FailedPrecondition:
		return fmt.Errorf("%s: %w: %v", op, backend.ErrValidation, err)
	case codes.PermissionDenied:
		return fmt.Errorf("%s: %w: %v", op, backend.ErrForbidden, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
