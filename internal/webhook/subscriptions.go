package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"norruva.org/internal/audit"
	"norruva.org/internal/auth"
	"norruva.org/internal/domain"
	"norruva.org/internal/ids"
	"norruva.org/internal/store"
)

var ErrInvalidSubscription = errors.New("invalid webhook subscription")

// Subscriptions manages the webhooks a developer owns.
type Subscriptions struct {
	hooks store.WebhookRepository
	audit *audit.Logger
	now   func() time.Time
}

func NewSubscriptions(hooks store.WebhookRepository, al *audit.Logger) *Subscriptions {
	return &Subscriptions{hooks: hooks, audit: al, now: func() time.Time { return time.Now().UTC() }}
}

// Create registers rawURL for events. The returned webhook carries its
// signing secret; it is not exposed in JSON.
func (s *Subscriptions) Create(ctx context.Context, actor *domain.User, rawURL string, events []string) (*domain.Webhook, error) {
	if err := auth.CheckPermission(actor, auth.DeveloperManageAPI, nil); err != nil {
		return nil, err
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: url must be absolute http(s)", ErrInvalidSubscription)
	}
	cleaned := make([]string, 0, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" && !slices.Contains(cleaned, e) {
			cleaned = append(cleaned, e)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: at least one event is required", ErrInvalidSubscription)
	}

	now := s.now()
	w := &domain.Webhook{
		ID:        ids.WithPrefix(ids.PrefixWebhook),
		UserID:    actor.ID,
		URL:       u.String(),
		Events:    cleaned,
		Secret:    "whsec_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Status:    domain.WebhookActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.hooks.CreateWebhook(ctx, w); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, "webhook.created", w.ID, map[string]any{"url": w.URL, "events": cleaned}, actor.ID)
	return w, nil
}

// Delete removes a webhook owned by actor.
func (s *Subscriptions) Delete(ctx context.Context, actor *domain.User, id string) error {
	w, err := s.hooks.GetWebhook(ctx, id)
	if err != nil {
		return err
	}
	if err := auth.CheckPermission(actor, auth.DeveloperManageAPI, nil); err != nil {
		return err
	}
	if w.UserID != actor.ID && !actor.HasRole(domain.RoleAdmin) {
		return &auth.PermissionError{UserID: actor.ID, Action: auth.DeveloperManageAPI, ResourceID: id}
	}
	if err := s.hooks.DeleteWebhook(ctx, id); err != nil {
		return err
	}
	s.audit.Log(ctx, "webhook.deleted", id, map[string]any{"url": w.URL}, actor.ID)
	return nil
}

// List returns actor's webhooks.
func (s *Subscriptions) List(ctx context.Context, actor *domain.User) ([]*domain.Webhook, error) {
	if err := auth.CheckPermission(actor, auth.DeveloperManageAPI, nil); err != nil {
		return nil, err
	}
	return s.hooks.ListWebhooks(ctx, actor.ID)
}
