// Package reactions toggles emoji reactions on messages and answers and
// serves them live, sharing one backend feed per owner among all viewers.
package reactions

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"local.dev/chatspace-backend/internal/backend"
	"local.dev/chatspace-backend/internal/live"
	"local.dev/chatspace-backend/internal/metrics"
	"local.dev/chatspace-backend/internal/models"
)

type Aggregator struct {
	docs   backend.DocumentStore
	shared *live.Shared[string, []models.Reaction]
}

func New(docs backend.DocumentStore) *Aggregator {
	shared := live.NewShared[string, []models.Reaction]()
	shared.OnChange = func(n int) { metrics.SharedReactionFeeds.Set(float64(n)) }
	return &Aggregator{docs: docs, shared: shared}
}

var imageExt = map[string]bool{".png": true, ".svg": true, ".gif": true, ".webp": true, ".jpg": true, ".jpeg": true}

// NormalizeEmoji reduces the forms a client may send (":Heart:",
// "assets/emojis/heart.svg", " heart ") to one document-safe token.
func NormalizeEmoji(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}
	if ext := strings.ToLower(path.Ext(s)); imageExt[ext] {
		s = s[:len(s)-len(ext)]
	}
	s = strings.ToLower(strings.Trim(s, ": "))
	if s == "." || s == ".." || strings.HasPrefix(s, "__") {
		return ""
	}
	return s
}

// Toggle adds uid to the emoji's reactors, or removes it if present, and
// refreshes the owner's hasReactions flag in the same transaction.
func (a *Aggregator) Toggle(ctx context.Context, ownerPath, emoji, uid string) (models.Reaction, error) {
	token := NormalizeEmoji(emoji)
	if token == "" || uid == "" {
		return models.Reaction{}, fmt.Errorf("emoji and user are required: %w", backend.ErrValidation)
	}
	rpath := models.ReactionsPath(ownerPath) + "/" + token

	var (
		out     models.Reaction
		removed bool
	)
	err := a.docs.RunTransaction(ctx, func(_ context.Context, tx backend.Tx) error {
		if _, err := tx.Get(ownerPath); err != nil {
			return err
		}
		siblings, err := tx.Query(backend.Query{Collection: models.ReactionsPath(ownerPath)})
		if err != nil {
			return fmt.Errorf("list reactions %s: %w", ownerPath, err)
		}

		out = models.Reaction{Emoji: token}
		others := false
		for _, d := range siblings {
			r := models.ReactionFromData(d.ID, d.Data)
			if d.ID == token {
				out = r
				continue
			}
			others = others || len(r.Users) > 0
		}

		removed = out.Has(uid)
		if removed {
			users := make([]string, 0, len(out.Users))
			for _, u := range out.Users {
				if u != uid {
					users = append(users, u)
				}
			}
			out.Users = users
		} else {
			out.Users = append(append([]string(nil), out.Users...), uid)
		}
		out.Emoji = token

		if err := tx.Set(rpath, out.Data()); err != nil {
			return fmt.Errorf("toggle reaction %s: %w", rpath, err)
		}
		return tx.Update(ownerPath, map[string]any{"hasReactions": others || len(out.Users) > 0})
	})
	if err != nil {
		return models.Reaction{}, err
	}

	if removed {
		metrics.ReactionToggles.WithLabelValues("remove").Inc()
	} else {
		metrics.ReactionToggles.WithLabelValues("add").Inc()
	}
	return out, nil
}

// List returns the owner's reactions that still have reactors.
func (a *Aggregator) List(ctx context.Context, ownerPath string) ([]models.Reaction, error) {
	found, err := a.docs.Query(ctx, backend.Query{Collection: models.ReactionsPath(ownerPath)})
	if err != nil {
		return nil, fmt.Errorf("list reactions %s: %w", ownerPath, err)
	}
	return fromDocs(found), nil
}

// Watch follows the owner's reactions. Viewers of the same owner share one
// backend subscription, which closes with the last of them.
func (a *Aggregator) Watch(ownerPath string) (*live.Subscription[[]models.Reaction], error) {
	sub, err := a.shared.Acquire(ownerPath, func(ctx context.Context) (*live.Subscription[[]models.Reaction], error) {
		up, err := a.docs.Watch(ctx, backend.Query{Collection: models.ReactionsPath(ownerPath)})
		if err != nil {
			return nil, fmt.Errorf("watch reactions %s: %w", ownerPath, err)
		}
		return live.Map(up, fromDocs), nil
	})
	if err != nil {
		return nil, err
	}
	metrics.LiveSubscriptions.WithLabelValues("reactions").Inc()
	return live.NewSubscription[[]models.Reaction](sub.C, func() {
		sub.Close()
		metrics.LiveSubscriptions.WithLabelValues("reactions").Dec()
	}), nil
}

// Feeds reports how many backend reaction subscriptions are open.
func (a *Aggregator) Feeds() int { return a.shared.Len() }

func fromDocs(found []backend.Document) []models.Reaction {
	out := make([]models.Reaction, 0, len(found))
	for _, d := range found {
		r := models.ReactionFromData(d.ID, d.Data)
		if len(r.Users) > 0 {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Emoji < out[j].Emoji })
	return out
}
