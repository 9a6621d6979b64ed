package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"local.dev/chatspace-backend/internal/backend"
	"local.dev/chatspace-backend/internal/backend/memdb"
	"local.dev/chatspace-backend/internal/clock"
	"local.dev/chatspace-backend/internal/identity"
	"local.dev/chatspace-backend/internal/models"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*Store, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(t0)
	s := NewStore(memdb.NewDocs(clk), clk)
	for _, c := range []identity.Claims{
		{UID: "x", Email: "X@Example.com", Name: "Xena", Provider: identity.ProviderPassword},
		{UID: "y", Email: "yuri@example.com", Provider: identity.ProviderGoogle},
	} {
		_, err := s.RegisterUser(context.Background(), c)
		require.NoError(t, err)
	}
	return s, clk
}

func TestRegisterUserIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	u, ok, err := s.GetUser(ctx, "y")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "yuri", u.Name, "falls back to the email local part")
	assert.Equal(t, identity.ProviderGoogle, u.AuthProvider)

	again, err := s.RegisterUser(ctx, identity.Claims{UID: "y", Name: "Other"})
	require.NoError(t, err)
	assert.Equal(t, "yuri", again.Name)
}

func TestUpsertUserPatchesProvidedFields(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	photo := "/uploads/x.png"
	u, err := s.UpsertUser(ctx, "x", UserPatch{PhotoURL: &photo})
	require.NoError(t, err)
	assert.Equal(t, "Xena", u.Name)
	assert.Equal(t, photo, *u.PhotoURL)

	blank := " "
	_, err = s.UpsertUser(ctx, "x", UserPatch{Name: &blank})
	assert.True(t, errors.Is(err, backend.ErrValidation))

	_, err = s.UpsertUser(ctx, "ghost", UserPatch{Name: &photo})
	assert.True(t, errors.Is(err, backend.ErrNotFound))
}

func TestAddContact(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	require.NoError(t, s.AddContact(ctx, "x", "y"))
	require.NoError(t, s.AddContact(ctx, "x", "y"))
	u, _, _ := s.GetUser(ctx, "x")
	assert.Equal(t, []string{"y"}, u.Contacts)

	assert.True(t, errors.Is(s.AddContact(ctx, "x", "nobody"), backend.ErrNotFound))
	assert.True(t, errors.Is(s.AddContact(ctx, "x", "x"), backend.ErrValidation))
}

func TestChannelLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	c, err := s.CreateChannel(ctx, "x", "General", nil, []string{"x", " "})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, c.MemberIDs)

	_, err = s.CreateChannel(ctx, "y", " general ", nil, nil)
	assert.True(t, errors.Is(err, backend.ErrValidation), "names are unique ignoring case")

	c, err = s.AddMembers(ctx, c.ID, []string{"y"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, c.MemberIDs)

	mine, err := s.ListChannelsFor(ctx, "y", false)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	c, err = s.RemoveMember(ctx, c.ID, "y")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, c.MemberIDs)

	desc := "all hands"
	c, err = s.UpdateChannel(ctx, c.ID, ChannelPatch{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, desc, *c.Description)

	require.NoError(t, s.SoftDeleteChannel(ctx, c.ID))
	_, ok, err := s.GetChannel(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := s.ListChannelsFor(ctx, "x", true)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = s.CreateChannel(ctx, "y", "general", nil, nil)
	assert.NoError(t, err, "a deleted channel frees its name")
}

func TestRenameChecksDuplicates(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	a, err := s.CreateChannel(ctx, "x", "alpha", nil, nil)
	require.NoError(t, err)
	_, err = s.CreateChannel(ctx, "x", "beta", nil, nil)
	require.NoError(t, err)

	name := "BETA"
	_, err = s.UpdateChannel(ctx, a.ID, ChannelPatch{Name: &name})
	assert.True(t, errors.Is(err, backend.ErrValidation))

	same := "Alpha"
	renamed, err := s.UpdateChannel(ctx, a.ID, ChannelPatch{Name: &same})
	require.NoError(t, err)
	assert.Equal(t, "Alpha", renamed.Name)
}

func TestEnsureChatIsUniquePerPair(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	c1, created, err := s.EnsureChat(ctx, "y", "x")
	require.NoError(t, err)
	assert.True(t, created)
	c2, created, err := s.EnsureChat(ctx, "x", "y")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c1.ID, c2.ID)
	assert.Equal(t, "x_y", c1.ID)

	chats, err := s.ListChatsFor(ctx, "x")
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestDeleteChatIfEmpty(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	c, _, err := s.EnsureChat(ctx, "x", "y")
	require.NoError(t, err)
	_, err = s.PostMessage(ctx, models.KindChat, c.ID, "x", "hi")
	require.NoError(t, err)
	assert.False(t, s.DeleteChatIfEmpty(ctx, c.ID))

	empty, _, err := s.EnsureChat(ctx, "x", "x")
	require.NoError(t, err)
	assert.True(t, s.DeleteChatIfEmpty(ctx, empty.ID))
	_, ok, _ := s.GetChat(ctx, empty.ID)
	assert.False(t, ok)
}

func TestMemberChecks(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	c, err := s.CreateChannel(ctx, "x", "general", nil, nil)
	require.NoError(t, err)

	assert.NoError(t, s.Member(ctx, models.KindChannel, c.ID, "x"))
	assert.True(t, errors.Is(s.Member(ctx, models.KindChannel, c.ID, "y"), backend.ErrForbidden))
	assert.True(t, errors.Is(s.Member(ctx, models.KindChat, "x_z", "x"), backend.ErrNotFound))
	assert.True(t, errors.Is(s.Member(ctx, "groups", "g", "x"), backend.ErrNotFound))
}

func TestEditText(t *testing.T) {
	ctx := context.Background()
	s, clk := newStore(t)
	m, err := s.PostMessage(ctx, models.KindChat, "x_y", "x", "helo")
	require.NoError(t, err)
	clk.Advance(time.Minute)

	_, err = s.EditText(ctx, m.Path, "y", "hijack")
	assert.True(t, errors.Is(err, backend.ErrForbidden))

	edited, err := s.EditText(ctx, m.Path, "x", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", edited.Text)
	assert.Equal(t, t0.Add(time.Minute), *edited.EditedAt)

	_, err = s.PostMessage(ctx, models.KindChat, "x_y", "x", "   ")
	assert.True(t, errors.Is(err, backend.ErrValidation))
}

func TestAnswerBookkeeping(t *testing.T) {
	ctx := context.Background()
	s, clk := newStore(t)
	m, err := s.PostMessage(ctx, models.KindChannel, "c1", "x", "question")
	require.NoError(t, err)

	clk.Advance(time.Second)
	a1, err := s.PostAnswer(ctx, models.KindChannel, "c1", m.ID, "y", "first")
	require.NoError(t, err)
	clk.Advance(time.Second)
	a2, err := s.PostAnswer(ctx, models.KindChannel, "c1", m.ID, "x", "second")
	require.NoError(t, err)

	parent, _, _ := s.GetMessage(ctx, m.Path)
	assert.Equal(t, 2, parent.AnsCounter)
	assert.Equal(t, a2.CreatedAt, *parent.AnsLastCreatedAt)

	assert.True(t, errors.Is(s.DeleteAnswer(ctx, models.KindChannel, "c1", m.ID, a2.ID, "y"), backend.ErrForbidden))
	require.NoError(t, s.DeleteAnswer(ctx, models.KindChannel, "c1", m.ID, a2.ID, "x"))
	parent, _, _ = s.GetMessage(ctx, m.Path)
	assert.Equal(t, 1, parent.AnsCounter)
	assert.Equal(t, a1.CreatedAt, *parent.AnsLastCreatedAt)

	require.NoError(t, s.Docs().Merge(ctx, models.ReactionsPath(a1.Path)+"/heart", map[string]any{"users": []string{"x"}}))
	require.NoError(t, s.DeleteAnswer(ctx, models.KindChannel, "c1", m.ID, a1.ID, "y"))
	parent, _, _ = s.GetMessage(ctx, m.Path)
	assert.Zero(t, parent.AnsCounter)
	assert.Nil(t, parent.AnsLastCreatedAt)
	_, err = s.Docs().Get(ctx, models.ReactionsPath(a1.Path)+"/heart")
	assert.True(t, errors.Is(err, backend.ErrNotFound))

	_, err = s.PostAnswer(ctx, models.KindChannel, "c1", "missing", "x", "hi")
	assert.True(t, errors.Is(err, backend.ErrNotFound))
}

func TestSeedIfEmpty(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	s := NewStore(memdb.NewDocs(clk), clk)
	require.NoError(t, s.SeedIfEmpty(ctx))
	require.NoError(t, s.SeedIfEmpty(ctx))
	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
	chans, err := s.ListChannelsFor(ctx, "demo_bob", false)
	require.NoError(t, err)
	require.Len(t, chans, 1)
	assert.Equal(t, "general", chans[0].Name)
}
