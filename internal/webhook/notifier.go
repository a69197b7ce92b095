package webhook

import (
	"context"
	"errors"
	"fmt"

	"norruva.org/internal/audit"
	"norruva.org/internal/auth"
	"norruva.org/internal/domain"
	"norruva.org/internal/obs"
	"norruva.org/internal/store"
	"norruva.org/internal/tasks"
)

// ActionDeliveryFailure is the audit action recorded for a failed delivery.
const ActionDeliveryFailure = "webhook.delivery.failure"

var ErrNotReplayable = errors.New("audit entry is not a failed webhook delivery")

// Notifier fans events out to every subscribed webhook in the background.
type Notifier struct {
	hooks     store.WebhookRepository
	logs      store.AuditLogRepository
	deliverer Deliverer
	exec      *tasks.Executor
	audit     *audit.Logger
}

func NewNotifier(hooks store.WebhookRepository, logs store.AuditLogRepository, d Deliverer, exec *tasks.Executor, al *audit.Logger) *Notifier {
	return &Notifier{hooks: hooks, logs: logs, deliverer: d, exec: exec, audit: al}
}

// Publish schedules one delivery per active subscription and returns
// immediately. Lookup failures are logged, never returned.
func (n *Notifier) Publish(ctx context.Context, event string, payload map[string]any) {
	n.exec.Spawn(ctx, "webhook.fanout", func(ctx context.Context) error {
		hooks, err := n.hooks.ListSubscribed(ctx, event)
		if err != nil {
			return fmt.Errorf("list subscribed webhooks: %w", err)
		}
		for _, w := range hooks {
			n.exec.Spawn(ctx, "webhook.deliver", func(ctx context.Context) error {
				return n.deliver(ctx, w, event, payload)
			})
		}
		return nil
	})
}

func (n *Notifier) deliver(ctx context.Context, w *domain.Webhook, event string, payload map[string]any) error {
	err := n.deliverer.Deliver(ctx, w, event, payload)
	if err == nil {
		return nil
	}
	n.audit.Log(ctx, ActionDeliveryFailure, w.ID, map[string]any{
		"event":   event,
		"url":     w.URL,
		"payload": payload,
		"error":   err.Error(),
	}, domain.ActorSystem)
	return err
}

// Replay re-delivers the event captured by a failure audit entry. The actor
// must own the webhook or be an admin.
func (n *Notifier) Replay(ctx context.Context, actor *domain.User, auditLogID string) error {
	if err := auth.CheckPermission(actor, auth.DeveloperManageAPI, nil); err != nil {
		return err
	}
	entry, err := n.logs.GetAuditLog(ctx, auditLogID)
	if err != nil {
		return err
	}
	if entry.Action != ActionDeliveryFailure {
		return fmt.Errorf("%w: %s", ErrNotReplayable, entry.Action)
	}
	w, err := n.hooks.GetWebhook(ctx, entry.EntityID)
	if err != nil {
		return err
	}
	if w.UserID != actor.ID && !actor.HasRole(domain.RoleAdmin) {
		return &auth.PermissionError{UserID: actor.ID, Action: auth.DeveloperManageAPI, ResourceID: w.ID}
	}
	event, _ := entry.Details["event"].(string)
	payload, _ := entry.Details["payload"].(map[string]any)
	if event == "" {
		return fmt.Errorf("%w: missing event", ErrNotReplayable)
	}
	if err := n.deliverer.Deliver(ctx, w, event, payload); err != nil {
		obs.Warn("webhook replay failed", map[string]any{"webhook_id": w.ID, "audit_log_id": auditLogID, "error": err.Error()})
		return err
	}
	n.audit.Log(ctx, "webhook.delivery.replayed", w.ID, map[string]any{"event": event, "auditLogId": auditLogID}, actor.ID)
	return nil
}
