package workflow

import (
	"context"

	"norruva.org/internal/domain"
	"norruva.org/internal/obs"
)

// BulkResult reports a batch item by item. Failed maps id to error text.
type BulkResult struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed"`
}

// Count is the number of items that succeeded.
func (r BulkResult) Count() int { return len(r.Succeeded) }

// BulkAnchorProducts approves each Pending product; each failure is audited
// as product.anchor.failed.
func (e *Engine) BulkAnchorProducts(ctx context.Context, actor *domain.User, ids []string) BulkResult {
	return e.bulk(ctx, actor, ids, "products.bulk_anchored", func(id string) error {
		_, err := e.ApprovePassport(ctx, actor, id)
		if err != nil {
			e.Audit.Log(ctx, "product.anchor.failed", id, map[string]any{"error": err.Error(), "bulk": true}, actorID(actor))
		}
		return err
	})
}

func (e *Engine) BulkDeleteProducts(ctx context.Context, actor *domain.User, ids []string) BulkResult {
	return e.bulk(ctx, actor, ids, "products.bulk_deleted", func(id string) error {
		return e.DeleteProduct(ctx, actor, id)
	})
}

func (e *Engine) BulkSubmitForReview(ctx context.Context, actor *domain.User, ids []string) BulkResult {
	return e.bulk(ctx, actor, ids, "products.bulk_submitted", func(id string) error {
		_, err := e.SubmitForReview(ctx, actor, id)
		return err
	})
}

func (e *Engine) BulkArchiveProducts(ctx context.Context, actor *domain.User, ids []string) BulkResult {
	return e.bulk(ctx, actor, ids, "products.bulk_archived", func(id string) error {
		_, err := e.ArchiveProduct(ctx, actor, id)
		return err
	})
}

// bulk attempts every item independently and writes one summary entry.
func (e *Engine) bulk(ctx context.Context, actor *domain.User, ids []string, summary string, fn func(id string) error) BulkResult {
	res := BulkResult{Succeeded: []string{}, Failed: map[string]string{}}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if err := fn(id); err != nil {
			res.Failed[id] = err.Error()
			obs.Warn("bulk item failed", map[string]any{"op": summary, "product_id": id, "error": err.Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	e.Audit.Log(ctx, summary, "", map[string]any{
		"count":     res.Count(),
		"failed":    len(res.Failed),
		"requested": len(seen),
		"ids":       res.Succeeded,
	}, actorID(actor))
	return res
}
