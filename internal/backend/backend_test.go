package backend

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, "chats/a_b/messages", ParentCollection("chats/a_b/messages/m1"))
	assert.Equal(t, "", ParentCollection("root"))
	assert.Equal(t, "m1", LastSegment("chats/a_b/messages/m1"))
	assert.Equal(t, "root", LastSegment("root"))
}

func TestQueryWhereDoesNotAlias(t *testing.T) {
	base := Query{Collection: "channels"}.Where("deleted", OpEqual, false)
	a := base.Where("memberIds", OpArrayContains, "a")
	b := base.Where("memberIds", OpArrayContains, "b")
	assert.Len(t, base.Filters, 1)
	assert.Equal(t, "a", a.Filters[1].Value)
	assert.Equal(t, "b", b.Filters[1].Value)
}

func TestDisconnectHooksReplaceAndTake(t *testing.T) {
	h := NewDisconnectHooks()
	assert.NoError(t, h.Register("s1", "status/u", map[string]any{"n": 1}))
	assert.NoError(t, h.Register("s1", "status/u", map[string]any{"n": 2}))
	assert.Equal(t, 1, h.Len())

	got := h.Take("s1")
	assert.JSONEq(t, `{"n":2}`, string(got["status/u"]))
	assert.Nil(t, h.Take("s1"))

	assert.NoError(t, h.Register("s2", "status/v", true))
	h.Cancel("s2", "status/v")
	assert.Zero(t, h.Len())
}

func TestResolveServerValues(t *testing.T) {
	at := time.UnixMilli(1714564800123)
	raw, err := json.Marshal(map[string]any{"state": "offline", "lastChanged": RealtimeTimestamp})
	assert.NoError(t, err)
	out, err := ResolveServerValues(raw, at)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"state":"offline","lastChanged":1714564800123}`, string(out))
}
