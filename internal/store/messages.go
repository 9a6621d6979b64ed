package store

import (
	"context"
	"fmt"
	"strings"

	"local.dev/chatspace-backend/internal/backend"
	"local.dev/chatspace-backend/internal/models"
)

// Member checks that conversation id exists and uid takes part in it.
func (s *Store) Member(ctx context.Context, kind models.Kind, id, uid string) error {
	var members []string
	switch kind {
	case models.KindChannel:
		c, ok, err := s.GetChannel(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("channel %s: %w", id, backend.ErrNotFound)
		}
		members = c.MemberIDs
	case models.KindChat:
		c, ok, err := s.GetChat(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("chat %s: %w", id, backend.ErrNotFound)
		}
		members = c.MemberIDs
	default:
		return fmt.Errorf("conversation kind %q: %w", kind, backend.ErrNotFound)
	}
	if !containsString(members, uid) {
		return fmt.Errorf("%s/%s: %w", kind, id, backend.ErrForbidden)
	}
	return nil
}

func (s *Store) PostMessage(ctx context.Context, kind models.Kind, id, sender, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, validation("message text is required")
	}
	m := models.Message{SenderID: sender, Text: text, CreatedAt: s.now()}
	coll := models.MessagesPath(kind, id)
	mid, err := s.docs.Add(ctx, coll, m.Data())
	if err != nil {
		return models.Message{}, fmt.Errorf("post message: %w", err)
	}
	m.ID, m.Path = mid, coll+"/"+mid
	return m, nil
}

// GetMessage reads a message or answer by its full path.
func (s *Store) GetMessage(ctx context.Context, path string) (models.Message, bool, error) {
	doc, ok, err := s.get(ctx, path)
	if err != nil || !ok {
		return models.Message{}, false, err
	}
	return models.MessageFromData(doc.Path, doc.ID, doc.Data), true, nil
}

// EditText replaces the text of a message or answer. Only its sender may.
func (s *Store) EditText(ctx context.Context, path, editor, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, validation("message text is required")
	}
	m, ok, err := s.GetMessage(ctx, path)
	if err != nil {
		return models.Message{}, err
	}
	if !ok {
		return models.Message{}, fmt.Errorf("message %s: %w", path, backend.ErrNotFound)
	}
	if m.SenderID != editor {
		return models.Message{}, fmt.Errorf("edit %s: %w", path, backend.ErrForbidden)
	}
	now := s.now()
	if err := s.docs.Update(ctx, path, map[string]any{"text": text, "editedAt": now}); err != nil {
		return models.Message{}, fmt.Errorf("edit %s: %w", path, err)
	}
	m.Text, m.EditedAt = text, &now
	return m, nil
}

// PostAnswer adds a threaded reply and bumps the parent's counter.
func (s *Store) PostAnswer(ctx context.Context, kind models.Kind, id, mid, sender, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, validation("answer text is required")
	}
	parent := models.MessagePath(kind, id, mid)
	if _, ok, err := s.get(ctx, parent); err != nil {
		return models.Message{}, err
	} else if !ok {
		return models.Message{}, fmt.Errorf("message %s: %w", parent, backend.ErrNotFound)
	}

	a := models.Message{SenderID: sender, Text: text, CreatedAt: s.now()}
	coll := models.AnswersPath(kind, id, mid)
	aid, err := s.docs.Add(ctx, coll, a.Data())
	if err != nil {
		return models.Message{}, fmt.Errorf("post answer: %w", err)
	}
	if err := s.docs.Update(ctx, parent, map[string]any{
		"ansCounter":       backend.Increment(1),
		"ansLastCreatedAt": a.CreatedAt,
	}); err != nil {
		return models.Message{}, fmt.Errorf("bump answer counter: %w", err)
	}
	a.ID, a.Path, a.ParentID = aid, coll+"/"+aid, mid
	return a, nil
}

// DeleteAnswer removes a reply and its reactions, then decrements the
// parent's counter and recomputes its last-answer time from what remains.
func (s *Store) DeleteAnswer(ctx context.Context, kind models.Kind, id, mid, aid, uid string) error {
	path := models.AnswerPath(kind, id, mid, aid)
	a, ok, err := s.GetMessage(ctx, path)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("answer %s: %w", path, backend.ErrNotFound)
	}
	if a.SenderID != uid {
		return fmt.Errorf("delete %s: %w", path, backend.ErrForbidden)
	}

	reactions, err := s.docs.Query(ctx, backend.Query{Collection: models.ReactionsPath(path)})
	if err != nil {
		return fmt.Errorf("list answer reactions: %w", err)
	}
	for _, r := range reactions {
		if err := s.docs.Delete(ctx, r.Path); err != nil {
			return fmt.Errorf("delete reaction %s: %w", r.Path, err)
		}
	}
	if err := s.docs.Delete(ctx, path); err != nil {
		return fmt.Errorf("delete answer %s: %w", path, err)
	}

	latest, err := s.docs.Query(ctx, backend.Query{Collection: models.AnswersPath(kind, id, mid), OrderBy: "createdAt", Desc: true, Limit: 1})
	if err != nil {
		return fmt.Errorf("recompute last answer: %w", err)
	}
	var last any = backend.DeleteField
	if len(latest) > 0 {
		last = models.ToTime(latest[0].Data["createdAt"])
	}
	if err := s.docs.Update(ctx, models.MessagePath(kind, id, mid), map[string]any{
		"ansCounter":       backend.Increment(-1),
		"ansLastCreatedAt": last,
	}); err != nil {
		return fmt.Errorf("drop answer counter: %w", err)
	}
	return nil
}
