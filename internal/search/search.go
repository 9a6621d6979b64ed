// Package search answers the header and compose search boxes over users,
// channels and the posts a viewer can see.
package search

import (
	"strings"

	"local.dev/chatspace-backend/internal/models"
)

type ResultKind string

const (
	KindUser        ResultKind = "user"
	KindChannel     ResultKind = "channel"
	KindChatPost    ResultKind = "chatPost"
	KindChannelPost ResultKind = "channelPost"
)

type Result struct {
	Kind    ResultKind      `json:"kind"`
	User    *models.User    `json:"user,omitempty"`
	Channel *models.Channel `json:"channel,omitempty"`
	Post    *models.Message `json:"post,omitempty"`
	// Peer is the other participant of the chat a chat post belongs to.
	Peer *models.User `json:"peer,omitempty"`
	// In is the channel a channel post belongs to.
	In *models.Channel `json:"in,omitempty"`
}

// ChatPost is a message or answer from a chat, with the chat's other
// participant attached.
type ChatPost struct {
	Post models.Message
	Peer models.User
}

// ChannelPost is a message or answer from a channel.
type ChannelPost struct {
	Post    models.Message
	Channel models.Channel
}

// Bases are the four collections a term is matched against.
type Bases struct {
	Users        []models.User
	Channels     []models.Channel
	ChatPosts    []ChatPost
	ChannelPosts []ChannelPost
}

// Search applies the term rules:
//
//	""      nothing
//	"@"     every user       "@x"  users whose name contains x
//	"#"     every channel    "#x"  channels whose name contains x
//	"x"     users and channels by name, then chat and channel posts by text
//
// Matching is case-insensitive; categories keep that fixed order.
func Search(term string, b Bases) []Result {
	term = strings.TrimSpace(term)
	out := []Result{}
	if term == "" {
		return out
	}
	switch term[0] {
	case '@':
		return appendUsers(out, b.Users, strings.TrimSpace(term[1:]))
	case '#':
		return appendChannels(out, b.Channels, strings.TrimSpace(term[1:]))
	}
	out = appendUsers(out, b.Users, term)
	out = appendChannels(out, b.Channels, term)
	for i := range b.ChatPosts {
		p := b.ChatPosts[i]
		if contains(p.Post.Text, term) {
			out = append(out, Result{Kind: KindChatPost, Post: &p.Post, Peer: &p.Peer})
		}
	}
	for i := range b.ChannelPosts {
		p := b.ChannelPosts[i]
		if contains(p.Post.Text, term) {
			out = append(out, Result{Kind: KindChannelPost, Post: &p.Post, In: &p.Channel})
		}
	}
	return out
}

func appendUsers(out []Result, users []models.User, q string) []Result {
	for i := range users {
		u := users[i]
		if q == "" || contains(u.Name, q) {
			out = append(out, Result{Kind: KindUser, User: &u})
		}
	}
	return out
}

func appendChannels(out []Result, channels []models.Channel, q string) []Result {
	for i := range channels {
		c := channels[i]
		if q == "" || contains(c.Name, q) {
			out = append(out, Result{Kind: KindChannel, Channel: &c})
		}
	}
	return out
}

func contains(s, q string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(q))
}
