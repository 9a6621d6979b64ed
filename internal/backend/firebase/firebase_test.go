package firebase

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"local.dev/chatspace-backend/internal/backend"
)

func TestRelativePath(t *testing.T) {
	assert.Equal(t, "channels/c1/messages/m1",
		relativePath("projects/p/databases/(default)/documents/channels/c1/messages/m1"))
	assert.Equal(t, "users/u1", relativePath("users/u1"))
}

func TestToFirestoreValue(t *testing.T) {
	assert.Equal(t, firestore.ServerTimestamp, toFirestoreValue(backend.ServerTimestamp))
	assert.Equal(t, firestore.Delete, toFirestoreValue(backend.DeleteField))
	assert.Equal(t, "x", toFirestoreValue("x"))

	nested := toFirestore(map[string]any{"inner": map[string]any{"at": backend.ServerTimestamp}})
	assert.Equal(t, firestore.ServerTimestamp, nested["inner"].(map[string]any)["at"])
}

func TestWrapMapsStatusCodes(t *testing.T) {
	assert.NoError(t, wrap("op", nil))
	assert.True(t, errors.Is(wrap("op", status.Error(codes.NotFound, "gone")), backend.ErrNotFound))
	assert.True(t, errors.Is(wrap("op", status.Error(codes.InvalidArgument, "bad")), backend.ErrValidation))
	assert.True(t, errors.Is(wrap("op", status.Error(codes.PermissionDenied, "no")), backend.ErrForbidden))
	assert.False(t, errors.Is(wrap("op", errors.New("boom")), backend.ErrNotFound))
}

// Runs against the Firestore emulator only.
func TestDocsAgainstEmulator(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := firestore.NewClient(ctx, "demo-chatspace")
	require.NoError(t, err)
	docs := NewDocs(client)
	defer docs.Close()

	coll := "emutest_" + time.Now().Format("150405.000000")
	id, err := docs.Add(ctx, coll, map[string]any{"n": 1, "tags": []any{"a"}})
	require.NoError(t, err)

	require.NoError(t, docs.Update(ctx, coll+"/"+id, map[string]any{
		"n":    backend.Increment(2),
		"tags": backend.ArrayUnion("b"),
	}))
	got, err := docs.Get(ctx, coll+"/"+id)
	require.NoError(t, err)
	assert.Equal(t, coll+"/"+id, got.Path)
	assert.EqualValues(t, 3, got.Data["n"])
	assert.Equal(t, []any{"a", "b"}, got.Data["tags"])

	res, err := docs.Query(ctx, backend.Query{Collection: coll}.Where("tags", backend.OpArrayContains, "b"))
	require.NoError(t, err)
	require.Len(t, res, 1)

	sub, err := docs.Watch(ctx, backend.Query{Collection: coll})
	require.NoError(t, err)
	defer sub.Close()
	first := <-sub.C
	assert.Len(t, first, 1)

	err = docs.RunTransaction(ctx, func(_ context.Context, tx backend.Tx) error {
		cur, err := tx.Get(coll + "/" + id)
		if err != nil {
			return err
		}
		siblings, err := tx.Query(backend.Query{Collection: coll})
		if err != nil {
			return err
		}
		if err := tx.Set(coll+"/copy", map[string]any{"n": cur.Data["n"], "count": len(siblings)}); err != nil {
			return err
		}
		return tx.Update(coll+"/"+id, map[string]any{"n": backend.Increment(1)})
	})
	require.NoError(t, err)
	got, err = docs.Get(ctx, coll+"/copy")
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.Data["n"])
	got, err = docs.Get(ctx, coll+"/"+id)
	require.NoError(t, err)
	assert.EqualValues(t, 4, got.Data["n"])

	require.NoError(t, docs.Delete(ctx, coll+"/"+id))
	require.NoError(t, docs.Delete(ctx, coll+"/copy"))
	_, err = docs.Get(ctx, coll+"/"+id)
	assert.True(t, errors.Is(err, backend.ErrNotFound))
}
