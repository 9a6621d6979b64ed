package models

import (
	"fmt"
	"strings"
	"time"
)

// Document fields come back from Firestore as time.Time, int64, []any and
// friends, and from the memory backend in the same normalized shapes. The
// readers below are lenient so a stray type never panics a handler.

// ToTime normalizes any stored time representation to UTC. Unknown or
// unparsable values give the zero time.
func ToTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case *time.Time:
		if t == nil {
			return time.Time{}
		}
		return t.UTC()
	case int64:
		return time.UnixMilli(t).UTC()
	case int:
		return time.UnixMilli(int64(t)).UTC()
	case float64:
		return time.UnixMilli(int64(t)).UTC()
	case string:
		if t == "" {
			return time.Time{}
		}
		p, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}
		}
		return p.UTC()
	}
	return time.Time{}
}

func optTime(v any) *time.Time {
	t := ToTime(v)
	if t.IsZero() {
		return nil
	}
	return &t
}

func str(m map[string]any, k string) string {
	switch v := m[k].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func optStr(m map[string]any, k string) *string {
	v, ok := m[k].(string)
	if !ok {
		return nil
	}
	return &v
}

func boolean(m map[string]any, k string) bool {
	b, _ := m[k].(bool)
	return b
}

func integer(m map[string]any, k string) int {
	switch v := m[k].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func stringList(m map[string]any, k string) []string {
	out := []string{}
	switch v := m[k].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func UserFromData(uid string, m map[string]any) User {
	u := User{
		UID:          uid,
		Name:         str(m, "name"),
		Email:        str(m, "email"),
		PhotoURL:     optStr(m, "photoUrl"),
		AuthProvider: str(m, "authProvider"),
		Active:       boolean(m, "active"),
		LastActive:   ToTime(m["lastActive"]),
		Contacts:     stringList(m, "contacts"),
	}
	if s := str(m, "uid"); s != "" {
		u.UID = s
	}
	return u
}

func (u User) Data() map[string]any {
	m := map[string]any{
		"uid":          u.UID,
		"name":         u.Name,
		"email":        u.Email,
		"authProvider": u.AuthProvider,
		"active":       u.Active,
		"contacts":     anyList(u.Contacts),
	}
	if u.PhotoURL != nil {
		m["photoUrl"] = *u.PhotoURL
	}
	if !u.LastActive.IsZero() {
		m["lastActive"] = u.LastActive
	}
	return m
}

func ChannelFromData(id string, m map[string]any) Channel {
	return Channel{
		ID:          id,
		CreatedBy:   str(m, "createdBy"),
		Name:        str(m, "name"),
		Description: optStr(m, "description"),
		MemberIDs:   stringList(m, "memberIds"),
		CreatedAt:   ToTime(m["createdAt"]),
		Deleted:     boolean(m, "deleted"),
	}
}

func (c Channel) Data() map[string]any {
	m := map[string]any{
		"createdBy": c.CreatedBy,
		"name":      c.Name,
		"nameKey":   ChannelNameKey(c.Name),
		"memberIds": anyList(c.MemberIDs),
		"createdAt": c.CreatedAt,
		"deleted":   c.Deleted,
	}
	if c.Description != nil {
		m["description"] = *c.Description
	}
	return m
}

// ChannelNameKey is the form channel names are compared in for uniqueness.
func ChannelNameKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

func ChatFromData(id string, m map[string]any) Chat {
	return Chat{
		ID:        id,
		MemberIDs: stringList(m, "memberIds"),
		CreatedAt: ToTime(m["createdAt"]),
	}
}

func (c Chat) Data() map[string]any {
	return map[string]any{
		"memberIds": anyList(c.MemberIDs),
		"createdAt": c.CreatedAt,
	}
}

// MessageFromData decodes a message or answer stored at path.
func MessageFromData(path, id string, m map[string]any) Message {
	msg := Message{
		ID:               id,
		Path:             path,
		SenderID:         str(m, "senderId"),
		Text:             str(m, "text"),
		CreatedAt:        ToTime(m["createdAt"]),
		EditedAt:         optTime(m["editedAt"]),
		HasReactions:     boolean(m, "hasReactions"),
		AnsCounter:       integer(m, "ansCounter"),
		AnsLastCreatedAt: optTime(m["ansLastCreatedAt"]),
	}
	if ref, ok := ParsePostPath(path); ok && ref.IsAnswer() {
		msg.ParentID = ref.MessageID
	}
	return msg
}

func (msg Message) Data() map[string]any {
	m := map[string]any{
		"senderId":     msg.SenderID,
		"text":         msg.Text,
		"createdAt":    msg.CreatedAt,
		"hasReactions": msg.HasReactions,
	}
	if msg.EditedAt != nil {
		m["editedAt"] = *msg.EditedAt
	}
	if msg.AnsCounter != 0 {
		m["ansCounter"] = int64(msg.AnsCounter)
	}
	if msg.AnsLastCreatedAt != nil {
		m["ansLastCreatedAt"] = *msg.AnsLastCreatedAt
	}
	return m
}

func ReactionFromData(token string, m map[string]any) Reaction {
	r := Reaction{Emoji: str(m, "emoji"), Users: stringList(m, "users")}
	if r.Emoji == "" {
		r.Emoji = token
	}
	return r
}

func (r Reaction) Data() map[string]any {
	return map[string]any{"emoji": r.Emoji, "users": anyList(r.Users)}
}

func anyList(s []string) []any {
	out := make([]any, 0, len(s))
	for _, v := range s {
		out = append(out, v)
	}
	return out
}
