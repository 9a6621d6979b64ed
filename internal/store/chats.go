package store

import (
	"context"
	"fmt"
	"strings"

	"local.dev/chatspace-backend/internal/backend"
	"local.dev/chatspace-backend/internal/logger"
	"local.dev/chatspace-backend/internal/models"
)

// EnsureChat returns the direct chat between a and b, creating it on first
// use. The deterministic ID keeps it unique per pair.
func (s *Store) EnsureChat(ctx context.Context, a, b string) (models.Chat, bool, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return models.Chat{}, false, validation("both participants are required")
	}
	id := models.ChatID(a, b)
	if c, ok, err := s.GetChat(ctx, id); err != nil || ok {
		return c, false, err
	}
	c := models.Chat{ID: id, MemberIDs: []string{a, b}, CreatedAt: s.now()}
	if err := s.docs.Set(ctx, models.ConversationPath(models.KindChat, id), c.Data()); err != nil {
		return models.Chat{}, false, fmt.Errorf("create chat %s: %w", id, err)
	}
	return c, true, nil
}

func (s *Store) GetChat(ctx context.Context, id string) (models.Chat, bool, error) {
	doc, ok, err := s.get(ctx, models.ConversationPath(models.KindChat, id))
	if err != nil || !ok {
		return models.Chat{}, false, err
	}
	return models.ChatFromData(doc.ID, doc.Data), true, nil
}

func (s *Store) ListChatsFor(ctx context.Context, uid string) ([]models.Chat, error) {
	q := backend.Query{Collection: string(models.KindChat), OrderBy: "createdAt", Desc: true}.
		Where("memberIds", backend.OpArrayContains, uid)
	found, err := s.docs.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	out := make([]models.Chat, 0, len(found))
	for _, d := range found {
		out = append(out, models.ChatFromData(d.ID, d.Data))
	}
	return out, nil
}

// DeleteChatIfEmpty removes a chat nobody has written in. Failures are
// logged; the chat simply stays.
func (s *Store) DeleteChatIfEmpty(ctx context.Context, id string) bool {
	found, err := s.docs.Query(ctx, backend.Query{Collection: models.MessagesPath(models.KindChat, id), Limit: 1})
	if err != nil {
		logger.Warn("chat_cleanup_failed", "chat", id, "error", err)
		return false
	}
	if len(found) > 0 {
		return false
	}
	if err := s.docs.Delete(ctx, models.ConversationPath(models.KindChat, id)); err != nil {
		logger.Warn("chat_cleanup_failed", "chat", id, "error", err)
		return false
	}
	return true
}
