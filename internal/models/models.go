package models

import (
	"sort"
	"strings"
	"time"
)

type User struct {
	UID          string    `json:"uid"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PhotoURL     *string   `json:"photoUrl,omitempty"`
	AuthProvider string    `json:"authProvider"`
	Active       bool      `json:"active"`
	LastActive   time.Time `json:"lastActive,omitempty"`
	Contacts     []string  `json:"contacts"`
}

type Channel struct {
	ID          string    `json:"id"`
	CreatedBy   string    `json:"createdBy"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	MemberIDs   []string  `json:"memberIds"`
	CreatedAt   time.Time `json:"createdAt"`
	Deleted     bool      `json:"deleted,omitempty"`
}

func (c Channel) HasMember(uid string) bool { return containsString(c.MemberIDs, uid) }

type Chat struct {
	ID        string    `json:"id"`
	MemberIDs []string  `json:"memberIds"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c Chat) HasMember(uid string) bool { return containsString(c.MemberIDs, uid) }

// Peer returns the participant that is not uid. A self-chat returns uid.
func (c Chat) Peer(uid string) string {
	for _, m := range c.MemberIDs {
		if m != uid {
			return m
		}
	}
	return uid
}

// Message is a post in a channel or chat. Answers share the shape and
// carry the parent's ID in ParentID.
type Message struct {
	ID               string     `json:"id"`
	Path             string     `json:"path"`
	ParentID         string     `json:"parentId,omitempty"`
	SenderID         string     `json:"senderId"`
	Text             string     `json:"text"`
	CreatedAt        time.Time  `json:"createdAt"`
	EditedAt         *time.Time `json:"editedAt,omitempty"`
	HasReactions     bool       `json:"hasReactions"`
	AnsCounter       int        `json:"ansCounter,omitempty"`
	AnsLastCreatedAt *time.Time `json:"ansLastCreatedAt,omitempty"`
}

// SortMessages orders ascending by creation time, ties by document ID.
func SortMessages(ms []Message) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.Before(ms[j].CreatedAt)
		}
		return ms[i].ID < ms[j].ID
	})
}

type Reaction struct {
	Emoji string   `json:"emoji"`
	Users []string `json:"users"`
}

func (r Reaction) Has(uid string) bool { return containsString(r.Users, uid) }

type PresenceState string

const (
	Online  PresenceState = "online"
	Offline PresenceState = "offline"
)

type PresenceStatus struct {
	UID         string        `json:"uid,omitempty"`
	State       PresenceState `json:"state"`
	ForcedClose bool          `json:"forcedClose"`
	LastChanged time.Time     `json:"lastChanged"`
}

// Wire is the realtime-store shape; lastChanged travels as epoch ms.
func (p PresenceStatus) Wire() PresenceWire {
	return PresenceWire{State: p.State, ForcedClose: p.ForcedClose, LastChanged: p.LastChanged.UnixMilli()}
}

type PresenceWire struct {
	State       PresenceState `json:"state"`
	ForcedClose bool          `json:"forcedClose"`
	LastChanged int64         `json:"lastChanged"`
}

func (w PresenceWire) Status(uid string) PresenceStatus {
	return PresenceStatus{UID: uid, State: w.State, ForcedClose: w.ForcedClose, LastChanged: time.UnixMilli(w.LastChanged).UTC()}
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// ChatID is the deterministic identifier of the direct chat between a and b.
func ChatID(a, b string) string {
	ids := []string{strings.TrimSpace(a), strings.TrimSpace(b)}
	sort.Strings(ids)
	return ids[0] + "_" + ids[1]
}
