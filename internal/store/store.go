package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"local.dev/chatspace-backend/internal/backend"
	"local.dev/chatspace-backend/internal/clock"
	"local.dev/chatspace-backend/internal/logger"
	"local.dev/chatspace-backend/internal/models"
)

// Store is the directory of users, channels, chats and their messages.
// Persistence, ordering and fan-out belong to the DocumentStore.
type Store struct {
	docs backend.DocumentStore
	clk  clock.Clock
}

func NewStore(docs backend.DocumentStore, clk clock.Clock) *Store {
	return &Store{docs: docs, clk: clk}
}

// Docs exposes the underlying document store to the live services.
func (s *Store) Docs() backend.DocumentStore { return s.docs }

func (s *Store) now() time.Time { return s.clk.Now().UTC() }

func validation(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, backend.ErrValidation)...)
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func cleanIDs(ids []string) []string {
	out := []string{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && !containsString(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

// get returns ok=false for a missing document instead of an error.
func (s *Store) get(ctx context.Context, path string) (backend.Document, bool, error) {
	doc, err := s.docs.Get(ctx, path)
	switch {
	case err == nil:
		return doc, true, nil
	case errors.Is(err, backend.ErrNotFound):
		return backend.Document{}, false, nil
	default:
		return backend.Document{}, false, err
	}
}

// ===== Demo seed =====

// SeedIfEmpty fills an empty directory with a couple of users, a shared
// channel and a direct chat, for local runs against the memory backend.
func (s *Store) SeedIfEmpty(ctx context.Context) error {
	existing, err := s.docs.Query(ctx, backend.Query{Collection: models.UsersCollection, Limit: 1})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	alice := models.User{UID: "demo_alice", Name: "Alice", Email: "alice@example.com", AuthProvider: "password", Contacts: []string{"demo_bob"}}
	bob := models.User{UID: "demo_bob", Name: "Bob", Email: "bob@example.com", AuthProvider: "password", Contacts: []string{"demo_alice"}}
	for _, u := range []models.User{alice, bob} {
		if err := s.docs.Set(ctx, models.UserPath(u.UID), u.Data()); err != nil {
			return err
		}
	}
	ch, err := s.CreateChannel(ctx, alice.UID, "general", nil, []string{bob.UID})
	if err != nil {
		return err
	}
	if _, err := s.PostMessage(ctx, models.KindChannel, ch.ID, bob.UID, "Welcome to #general"); err != nil {
		return err
	}
	chat, _, err := s.EnsureChat(ctx, alice.UID, bob.UID)
	if err != nil {
		return err
	}
	if _, err := s.PostMessage(ctx, models.KindChat, chat.ID, alice.UID, "Hi Bob!"); err != nil {
		return err
	}
	logger.Info("seeded_demo_directory", "channel", ch.ID, "chat", chat.ID)
	return nil
}
