// Package users edits user profiles.
package users

import (
	"context"
	"strings"
	"time"

	"norruva.org/internal/audit"
	"norruva.org/internal/auth"
	"norruva.org/internal/domain"
	"norruva.org/internal/store"
	"norruva.org/internal/validation"
)

// ProfileUpdate carries the editable fields; nil leaves a field unchanged.
// Roles and company are not editable here.
type ProfileUpdate struct {
	FullName *string `json:"fullName" validate:"omitempty,notblank,max=200"`
	Email    *string `json:"email" validate:"omitempty,email"`
}

type Service struct {
	users    store.UserRepository
	audit    *audit.Logger
	validate *validation.Validator
	now      func() time.Time
}

func NewService(users store.UserRepository, al *audit.Logger) *Service {
	return &Service{users: users, audit: al, validate: validation.New(), now: func() time.Time { return time.Now().UTC() }}
}

// Get returns the user record for id.
func (s *Service) Get(ctx context.Context, id string) (*domain.User, error) {
	return s.users.GetUser(ctx, id)
}

// UpdateProfile applies upd to the user with id. Only the user themself may
// do this, and admins.
func (s *Service) UpdateProfile(ctx context.Context, actor *domain.User, id string, upd ProfileUpdate) (*domain.User, error) {
	target, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := auth.CheckPermission(actor, auth.UserEdit, auth.UserResource(target)); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(upd); err != nil {
		return nil, err
	}
	changed := make([]string, 0, 2)
	if upd.FullName != nil {
		target.FullName = strings.TrimSpace(*upd.FullName)
		changed = append(changed, "fullName")
	}
	if upd.Email != nil {
		target.Email = strings.TrimSpace(*upd.Email)
		changed = append(changed, "email")
	}
	if len(changed) == 0 {
		return target, nil
	}
	target.UpdatedAt = s.now()
	if err := s.users.UpdateUser(ctx, target); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, "user.updated", target.ID, map[string]any{"fields": changed}, actor.ID)
	return target, nil
}
