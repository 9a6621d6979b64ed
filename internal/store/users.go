package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"local.dev/chatspace-backend/internal/backend"
	"local.dev/chatspace-backend/internal/identity"
	"local.dev/chatspace-backend/internal/models"
)

// RegisterUser creates the user document for a freshly authenticated
// identity. An existing document is returned unchanged.
func (s *Store) RegisterUser(ctx context.Context, c identity.Claims) (models.User, error) {
	if c.UID == "" {
		return models.User{}, validation("uid is required")
	}
	if u, ok, err := s.GetUser(ctx, c.UID); err != nil || ok {
		return u, err
	}
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name, _, _ = strings.Cut(c.Email, "@")
	}
	u := models.User{
		UID:          c.UID,
		Name:         name,
		Email:        identity.NormalizeEmail(c.Email),
		AuthProvider: c.Provider,
		LastActive:   s.now(),
		Contacts:     []string{},
	}
	if err := s.docs.Set(ctx, models.UserPath(u.UID), u.Data()); err != nil {
		return models.User{}, fmt.Errorf("create user %s: %w", u.UID, err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, uid string) (models.User, bool, error) {
	doc, ok, err := s.get(ctx, models.UserPath(uid))
	if err != nil || !ok {
		return models.User{}, ok, err
	}
	return models.UserFromData(doc.ID, doc.Data), true, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	found, err := s.docs.Query(ctx, backend.Query{Collection: models.UsersCollection, OrderBy: "name"})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]models.User, 0, len(found))
	for _, d := range found {
		out = append(out, models.UserFromData(d.ID, d.Data))
	}
	sort.SliceStable(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

// UserPatch carries the editable profile fields; nil means unchanged.
type UserPatch struct {
	Name     *string `json:"name"`
	PhotoURL *string `json:"photoUrl"`
}

// UpsertUser overwrites only the fields the patch provides.
func (s *Store) UpsertUser(ctx context.Context, uid string, p UserPatch) (models.User, error) {
	fields := map[string]any{}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return models.User{}, validation("name cannot be blank")
		}
		fields["name"] = name
	}
	if p.PhotoURL != nil {
		if *p.PhotoURL == "" {
			fields["photoUrl"] = backend.DeleteField
		} else {
			fields["photoUrl"] = *p.PhotoURL
		}
	}
	if len(fields) > 0 {
		if err := s.docs.Update(ctx, models.UserPath(uid), fields); err != nil {
			return models.User{}, fmt.Errorf("update user %s: %w", uid, err)
		}
	}
	u, ok, err := s.GetUser(ctx, uid)
	if err == nil && !ok {
		err = fmt.Errorf("user %s: %w", uid, backend.ErrNotFound)
	}
	return u, err
}

func (s *Store) AddContact(ctx context.Context, uid, contact string) error {
	contact = strings.TrimSpace(contact)
	if contact == "" || contact == uid {
		return validation("invalid contact %q", contact)
	}
	if _, ok, err := s.GetUser(ctx, contact); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("contact %s: %w", contact, backend.ErrNotFound)
	}
	if err := s.docs.Update(ctx, models.UserPath(uid), map[string]any{"contacts": backend.ArrayUnion(contact)}); err != nil {
		return fmt.Errorf("add contact: %w", err)
	}
	return nil
}
