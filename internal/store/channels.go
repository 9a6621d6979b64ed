package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"local.dev/chatspace-backend/internal/backend"
	"local.dev/chatspace-backend/internal/models"
)

func (s *Store) nameTaken(ctx context.Context, name, exceptID string) (bool, error) {
	q := backend.Query{Collection: string(models.KindChannel)}.
		Where("nameKey", backend.OpEqual, models.ChannelNameKey(name)).
		Where("deleted", backend.OpEqual, false)
	found, err := s.docs.Query(ctx, q)
	if err != nil {
		return false, fmt.Errorf("check channel name: %w", err)
	}
	for _, d := range found {
		if d.ID != exceptID {
			return true, nil
		}
	}
	return false, nil
}

// CreateChannel creates a channel owned by creator, who is always a member.
// Names are unique among live channels, ignoring case.
func (s *Store) CreateChannel(ctx context.Context, creator, name string, description *string, members []string) (models.Channel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Channel{}, validation("channel name is required")
	}
	taken, err := s.nameTaken(ctx, name, "")
	if err != nil {
		return models.Channel{}, err
	}
	if taken {
		return models.Channel{}, validation("channel %q already exists", name)
	}
	c := models.Channel{
		CreatedBy:   creator,
		Name:        name,
		Description: description,
		MemberIDs:   cleanIDs(append([]string{creator}, members...)),
		CreatedAt:   s.now(),
	}
	id, err := s.docs.Add(ctx, string(models.KindChannel), c.Data())
	if err != nil {
		return models.Channel{}, fmt.Errorf("create channel: %w", err)
	}
	c.ID = id
	return c, nil
}

// GetChannel returns ok=false for missing and soft-deleted channels.
func (s *Store) GetChannel(ctx context.Context, id string) (models.Channel, bool, error) {
	doc, ok, err := s.get(ctx, models.ConversationPath(models.KindChannel, id))
	if err != nil || !ok {
		return models.Channel{}, false, err
	}
	c := models.ChannelFromData(doc.ID, doc.Data)
	if c.Deleted {
		return models.Channel{}, false, nil
	}
	return c, true, nil
}

// ListChannelsFor lists live channels uid belongs to, or every live
// channel when includeAll is set.
func (s *Store) ListChannelsFor(ctx context.Context, uid string, includeAll bool) ([]models.Channel, error) {
	q := backend.Query{Collection: string(models.KindChannel)}.Where("deleted", backend.OpEqual, false)
	if !includeAll {
		q = q.Where("memberIds", backend.OpArrayContains, uid)
	}
	found, err := s.docs.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	out := make([]models.Channel, 0, len(found))
	for _, d := range found {
		out = append(out, models.ChannelFromData(d.ID, d.Data))
	}
	sort.SliceStable(out, func(i, j int) bool { return models.ChannelNameKey(out[i].Name) < models.ChannelNameKey(out[j].Name) })
	return out, nil
}

func (s *Store) AddMembers(ctx context.Context, id string, uids []string) (models.Channel, error) {
	uids = cleanIDs(uids)
	if len(uids) == 0 {
		return models.Channel{}, validation("no members given")
	}
	if err := s.docs.Update(ctx, models.ConversationPath(models.KindChannel, id), map[string]any{
		"memberIds": backend.ArrayUnion(toAny(uids)...),
	}); err != nil {
		return models.Channel{}, fmt.Errorf("add members to %s: %w", id, err)
	}
	return s.mustChannel(ctx, id)
}

func (s *Store) RemoveMember(ctx context.Context, id, uid string) (models.Channel, error) {
	if err := s.docs.Update(ctx, models.ConversationPath(models.KindChannel, id), map[string]any{
		"memberIds": backend.ArrayRemove(uid),
	}); err != nil {
		return models.Channel{}, fmt.Errorf("remove member from %s: %w", id, err)
	}
	return s.mustChannel(ctx, id)
}

// ChannelPatch carries editable channel fields; nil means unchanged.
type ChannelPatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (s *Store) UpdateChannel(ctx context.Context, id string, p ChannelPatch) (models.Channel, error) {
	fields := map[string]any{}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return models.Channel{}, validation("channel name is required")
		}
		taken, err := s.nameTaken(ctx, name, id)
		if err != nil {
			return models.Channel{}, err
		}
		if taken {
			return models.Channel{}, validation("channel %q already exists", name)
		}
		fields["name"] = name
		fields["nameKey"] = models.ChannelNameKey(name)
	}
	if p.Description != nil {
		if *p.Description == "" {
			fields["description"] = backend.DeleteField
		} else {
			fields["description"] = *p.Description
		}
	}
	if len(fields) > 0 {
		if err := s.docs.Update(ctx, models.ConversationPath(models.KindChannel, id), fields); err != nil {
			return models.Channel{}, fmt.Errorf("update channel %s: %w", id, err)
		}
	}
	return s.mustChannel(ctx, id)
}

// SoftDeleteChannel hides the channel; its messages stay in place.
func (s *Store) SoftDeleteChannel(ctx context.Context, id string) error {
	if err := s.docs.Update(ctx, models.ConversationPath(models.KindChannel, id), map[string]any{"deleted": true}); err != nil {
		return fmt.Errorf("delete channel %s: %w", id, err)
	}
	return nil
}

func (s *Store) mustChannel(ctx context.Context, id string) (models.Channel, error) {
	c, ok, err := s.GetChannel(ctx, id)
	if err == nil && !ok {
		err = fmt.Errorf("channel %s: %w", id, backend.ErrNotFound)
	}
	return c, err
}
