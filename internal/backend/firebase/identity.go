package firebase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"firebase.google.com/go/v4/auth"
	identitytoolkit "google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"

	"local.dev/chatspace-backend/internal/identity"
)

// Identity signs users in with Firebase Auth. Account creation and token
// checks use the Admin SDK. Password sign-in goes through the Identity
// Toolkit with the project's web API key, which is the only server-side
// way to obtain an ID token for an email and password.
type Identity struct {
	auth    *auth.Client
	toolkit *identitytoolkit.Service
}

var _ identity.Identity = (*Identity)(nil)

// NewIdentity builds the adapter. apiKey may be empty, in which case
// SignIn and SignUp fail and only Verify works.
func NewIdentity(ctx context.Context, client *auth.Client, apiKey string) (*Identity, error) {
	id := &Identity{auth: client}
	if apiKey != "" {
		svc, err := identitytoolkit.NewService(ctx, option.WithAPIKey(apiKey))
		if err != nil {
			return nil, fmt.Errorf("identity toolkit: %w", err)
		}
		id.toolkit = svc
	}
	return id, nil
}

func (i *Identity) SignUp(ctx context.Context, email, password, name string) (identity.Session, error) {
	email = identity.NormalizeEmail(email)
	if email == "" || password == "" {
		return identity.Session{}, identity.ErrInvalidCredentials
	}
	u := (&auth.UserToCreate{}).Email(email).Password(password)
	if name = strings.TrimSpace(name); name != "" {
		u = u.DisplayName(name)
	}
	if _, err := i.auth.CreateUser(ctx, u); err != nil {
		if auth.IsEmailAlreadyExists(err) {
			return identity.Session{}, identity.ErrEmailTaken
		}
		return identity.Session{}, fmt.Errorf("create user: %w", err)
	}
	return i.SignIn(ctx, email, password)
}

func (i *Identity) SignIn(ctx context.Context, email, password string) (identity.Session, error) {
	if i.toolkit == nil {
		return identity.Session{}, errors.New("password sign-in needs FIREBASE_API_KEY")
	}
	email = identity.NormalizeEmail(email)
	resp, err := i.toolkit.Relyingparty.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return identity.Session{}, fmt.Errorf("%w: %v", identity.ErrInvalidCredentials, err)
	}
	return identity.Session{
		Claims: identity.Claims{
			UID:      resp.LocalId,
			Email:    identity.NormalizeEmail(resp.Email),
			Name:     resp.DisplayName,
			Provider: identity.ProviderPassword,
		},
		Token: resp.IdToken,
	}, nil
}

func (i *Identity) Verify(ctx context.Context, token string) (identity.Claims, error) {
	tok, err := i.auth.VerifyIDToken(ctx, token)
	if err != nil {
		return identity.Claims{}, fmt.Errorf("%w: %v", identity.ErrInvalidToken, err)
	}
	c := identity.Claims{UID: tok.UID, Provider: tok.Firebase.SignInProvider}
	if e, ok := tok.Claims["email"].(string); ok {
		c.Email = identity.NormalizeEmail(e)
	}
	if n, ok := tok.Claims["name"].(string); ok {
		c.Name = n
	}
	return c, nil
}
