package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Memory keeps accounts in process and issues HS256 tokens.
type Memory struct {
	mu       sync.Mutex
	secret   []byte
	ttl      time.Duration
	accounts map[string]account // by normalized email
}

type account struct {
	uid  string
	name string
	hash []byte
}

type tokenClaims struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider"`
	jwt.RegisteredClaims
}

var _ Identity = (*Memory)(nil)

func NewMemory(secret string, ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Memory{secret: []byte(secret), ttl: ttl, accounts: map[string]account{}}
}

func (m *Memory) SignUp(_ context.Context, email, password, name string) (Session, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	m.mu.Lock()
	if _, ok := m.accounts[email]; ok {
		m.mu.Unlock()
		return Session{}, ErrEmailTaken
	}
	acc := account{uid: strings.ReplaceAll(uuid.NewString(), "-", ""), name: strings.TrimSpace(name), hash: hash}
	m.accounts[email] = acc
	m.mu.Unlock()
	return m.issue(Claims{UID: acc.uid, Email: email, Name: acc.name, Provider: ProviderPassword})
}

func (m *Memory) SignIn(_ context.Context, email, password string) (Session, error) {
	email = NormalizeEmail(email)
	m.mu.Lock()
	acc, ok := m.accounts[email]
	m.mu.Unlock()
	if !ok {
		return Session{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	return m.issue(Claims{UID: acc.uid, Email: email, Name: acc.name, Provider: ProviderPassword})
}

func (m *Memory) Verify(_ context.Context, token string) (Claims, error) {
	tc := &tokenClaims{}
	tok, err := jwt.ParseWithClaims(token, tc, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !tok.Valid {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Claims{UID: tc.Subject, Email: tc.Email, Name: tc.Name, Provider: tc.Provider}, nil
}

// Mint issues a token for an arbitrary identity, e.g. an OAuth user in
// development.
func (m *Memory) Mint(c Claims) (Session, error) { return m.issue(c) }

func (m *Memory) issue(c Claims) (Session, error) {
	now := time.Now()
	tc := tokenClaims{
		Email:    c.Email,
		Name:     c.Name,
		Provider: c.Provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(m.secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign token: %w", err)
	}
	return Session{Claims: c, Token: signed}, nil
}
