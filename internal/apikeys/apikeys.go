// Package apikeys issues and verifies machine credentials for developers.
//
// A raw key has the form nrv_<ulid>_<secret>. Only a bcrypt hash of the
// secret is stored; the raw key is returned once, at creation.
package apikeys

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"norruva.org/internal/audit"
	"norruva.org/internal/auth"
	"norruva.org/internal/domain"
	"norruva.org/internal/ids"
	"norruva.org/internal/store"
)

const keyPrefix = "nrv_"

var (
	ErrInvalidKey   = errors.New("invalid api key")
	ErrRevoked      = errors.New("api key revoked")
	ErrInvalidLabel = errors.New("api key label is required")
)

// Service manages API keys.
type Service struct {
	keys  store.APIKeyRepository
	users store.UserRepository
	audit *audit.Logger
	cost  int
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCost overrides the bcrypt cost.
func WithCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

func NewService(keys store.APIKeyRepository, users store.UserRepository, al *audit.Logger, opts ...Option) *Service {
	s := &Service{
		keys:  keys,
		users: users,
		audit: al,
		cost:  bcrypt.DefaultCost,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Created is returned once by Create; RawKey is never retrievable again.
type Created struct {
	Key    *domain.APIKey `json:"key"`
	RawKey string         `json:"rawKey"`
}

// Create issues a key for actor.
func (s *Service) Create(ctx context.Context, actor *domain.User, label string) (*Created, error) {
	if err := auth.CheckPermission(actor, auth.DeveloperManageAPI, nil); err != nil {
		return nil, err
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, ErrInvalidLabel
	}
	id := ids.WithPrefix(ids.PrefixAPIKey)
	secret := strings.ReplaceAll(uuid.NewString(), "-", "")
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash api key: %w", err)
	}
	now := s.now()
	k := &domain.APIKey{
		ID:         id,
		UserID:     actor.ID,
		Label:      label,
		Token:      Mask(secret),
		SecretHash: string(hash),
		Status:     domain.APIKeyActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.keys.CreateAPIKey(ctx, k); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, "api_key.created", id, map[string]any{"label": label, "token": k.Token}, actor.ID)
	return &Created{Key: k, RawKey: keyPrefix + strings.TrimPrefix(id, ids.PrefixAPIKey+"_") + "_" + secret}, nil
}

// Revoke disables a key owned by actor. Revoking twice is a no-op.
func (s *Service) Revoke(ctx context.Context, actor *domain.User, id string) (*domain.APIKey, error) {
	k, err := s.keys.GetAPIKey(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := auth.CheckPermission(actor, auth.DeveloperManageAPI, nil); err != nil {
		return nil, err
	}
	if k.UserID != actor.ID && !actor.HasRole(domain.RoleAdmin) {
		return nil, &auth.PermissionError{UserID: actor.ID, Action: auth.DeveloperManageAPI, ResourceID: id}
	}
	if k.Status == domain.APIKeyRevoked {
		return k, nil
	}
	k.Status = domain.APIKeyRevoked
	if err := s.keys.UpdateAPIKey(ctx, k); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, "api_key.revoked", id, map[string]any{"label": k.Label}, actor.ID)
	return k, nil
}

// List returns actor's keys.
func (s *Service) List(ctx context.Context, actor *domain.User) ([]*domain.APIKey, error) {
	if err := auth.CheckPermission(actor, auth.DeveloperManageAPI, nil); err != nil {
		return nil, err
	}
	return s.keys.ListAPIKeys(ctx, actor.ID)
}

// Authenticate resolves a raw key to its owner and records its use.
func (s *Service) Authenticate(ctx context.Context, raw string) (*domain.User, *domain.APIKey, error) {
	id, secret, ok := parse(raw)
	if !ok {
		return nil, nil, ErrInvalidKey
	}
	k, err := s.keys.GetAPIKey(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrInvalidKey
		}
		return nil, nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(k.SecretHash), []byte(secret)) != nil {
		return nil, nil, ErrInvalidKey
	}
	if k.Status != domain.APIKeyActive {
		return nil, nil, ErrRevoked
	}
	user, err := s.users.GetUser(ctx, k.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrInvalidKey
		}
		return nil, nil, err
	}
	used := s.now()
	k.LastUsedAt = &used
	if err := s.keys.UpdateAPIKey(ctx, k); err != nil {
		return nil, nil, err
	}
	return user, k, nil
}

// Mask renders a secret for display, keeping only its last four characters.
func Mask(secret string) string {
	if len(secret) <= 4 {
		return keyPrefix + "…"
	}
	return keyPrefix + "…" + secret[len(secret)-4:]
}

// IsKey reports whether raw has the shape of an API key.
func IsKey(raw string) bool {
	_, _, ok := parse(raw)
	return ok
}

func parse(raw string) (id, secret string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(raw), keyPrefix)
	if !found {
		return "", "", false
	}
	idPart, secret, found := strings.Cut(rest, "_")
	if !found || idPart == "" || secret == "" {
		return "", "", false
	}
	return ids.PrefixAPIKey + "_" + idPart, secret, true
}
