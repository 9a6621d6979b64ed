package models

import "strings"

// Kind is the top-level collection a conversation lives in.
type Kind string

const (
	KindChannel Kind = "channels"
	KindChat    Kind = "chats"
)

func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindChannel, KindChat:
		return Kind(s), true
	}
	return "", false
}

const (
	UsersCollection     = "users"
	MessagesCollection  = "messages"
	AnswersCollection   = "answers"
	ReactionsCollection = "reactions"
	StatusRoot          = "status"
)

func UserPath(uid string) string                { return UsersCollection + "/" + uid }
func ConversationPath(k Kind, id string) string { return string(k) + "/" + id }

func MessagesPath(k Kind, id string) string {
	return ConversationPath(k, id) + "/" + MessagesCollection
}

func MessagePath(k Kind, id, mid string) string { return MessagesPath(k, id) + "/" + mid }

func AnswersPath(k Kind, id, mid string) string {
	return MessagePath(k, id, mid) + "/" + AnswersCollection
}

func AnswerPath(k Kind, id, mid, aid string) string { return AnswersPath(k, id, mid) + "/" + aid }

// ReactionsPath is the reactions collection under a message or answer.
func ReactionsPath(ownerPath string) string { return ownerPath + "/" + ReactionsCollection }

func StatusPath(uid string) string { return StatusRoot + "/" + uid }

// PostRef is what a message or answer path says about where it lives.
type PostRef struct {
	Kind           Kind
	ConversationID string
	MessageID      string
	AnswerID       string
}

func (r PostRef) IsAnswer() bool { return r.AnswerID != "" }

// Path is the canonical document path of the post.
func (r PostRef) Path() string {
	if r.IsAnswer() {
		return AnswerPath(r.Kind, r.ConversationID, r.MessageID, r.AnswerID)
	}
	return MessagePath(r.Kind, r.ConversationID, r.MessageID)
}

// ParsePostPath decodes {kind}/{id}/messages/{mid}[/answers/{aid}].
func ParsePostPath(p string) (PostRef, bool) {
	seg := strings.Split(strings.Trim(p, "/"), "/")
	if len(seg) != 4 && len(seg) != 6 {
		return PostRef{}, false
	}
	for _, v := range seg {
		if v == "" {
			return PostRef{}, false
		}
	}
	k, ok := ParseKind(seg[0])
	if !ok || seg[2] != MessagesCollection {
		return PostRef{}, false
	}
	ref := PostRef{Kind: k, ConversationID: seg[1], MessageID: seg[3]}
	if len(seg) == 6 {
		if seg[4] != AnswersCollection {
			return PostRef{}, false
		}
		ref.AnswerID = seg[5]
	}
	return ref, true
}
