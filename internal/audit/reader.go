package audit

import (
	"context"

	"norruva.org/internal/auth"
	"norruva.org/internal/domain"
	"norruva.org/internal/store"
)

// Reader exposes audit history to authorized users.
type Reader struct {
	logs store.AuditLogRepository
}

func NewReader(logs store.AuditLogRepository) *Reader {
	return &Reader{logs: logs}
}

// List returns entries matching f. Requires audit:view.
func (r *Reader) List(ctx context.Context, actor *domain.User, f store.AuditFilter) ([]domain.AuditLog, error) {
	if err := auth.CheckPermission(actor, auth.AuditView, nil); err != nil {
		return nil, err
	}
	return r.logs.ListAuditLogs(ctx, f)
}

// ForEntity returns the history of one entity. Requires audit:view.
func (r *Reader) ForEntity(ctx context.Context, actor *domain.User, entityID string) ([]domain.AuditLog, error) {
	return r.List(ctx, actor, store.AuditFilter{EntityID: entityID})
}

// Mine returns entries the actor produced; any authenticated user may read
// their own trail.
func (r *Reader) Mine(ctx context.Context, actor *domain.User, limit int) ([]domain.AuditLog, error) {
	if actor == nil {
		return nil, auth.CheckPermission(nil, auth.AuditView, nil)
	}
	return r.logs.ListAuditLogs(ctx, store.AuditFilter{UserID: actor.ID, Limit: limit})
}
