// Package identity covers sign-up, sign-in and token verification, plus a
// stream of session changes other components react to.
package identity

import (
	"context"
	"errors"
	"strings"

	"local.dev/chatspace-backend/internal/live"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidToken       = errors.New("invalid token")
)

// Provider names recorded on the user document.
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google.com"
)

// Claims is what a verified token says about its bearer.
type Claims struct {
	UID      string
	Email    string
	Name     string
	Provider string
}

// Session is returned by a successful sign-up or sign-in.
type Session struct {
	Claims
	Token string `json:"token"`
}

type Identity interface {
	SignUp(ctx context.Context, email, password, name string) (Session, error)
	SignIn(ctx context.Context, email, password string) (Session, error)
	// Verify checks an ID token, including ones minted by an OAuth flow
	// on the client.
	Verify(ctx context.Context, token string) (Claims, error)
}

func NormalizeEmail(e string) string { return strings.ToLower(strings.TrimSpace(e)) }

type EventKind string

const (
	SignedIn  EventKind = "signedIn"
	SignedOut EventKind = "signedOut"
)

type Event struct {
	Kind    EventKind
	UID     string
	Session string
}

// Notifier broadcasts session changes.
type Notifier struct {
	topic *live.Topic[Event]
}

func NewNotifier() *Notifier { return &Notifier{topic: live.NewStream[Event]()} }

func (n *Notifier) Publish(e Event) { n.topic.Publish(e) }

func (n *Notifier) Subscribe() *live.Subscription[Event] { return n.topic.Subscribe() }
