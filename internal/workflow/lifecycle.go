package workflow

import (
	"context"
	"fmt"
	"strings"

	"norruva.org/internal/auth"
	"norruva.org/internal/domain"
	"norruva.org/internal/obs"
	"norruva.org/internal/store"
)

// MarkAsRecycled ends an Active product's life and credits the actor. The
// recycle is committed before credits are minted; a mint failure is returned
// with the already updated product and can be retried through the credits
// ledger with the same idempotency key.
func (e *Engine) MarkAsRecycled(ctx context.Context, actor *domain.User, id string) (*domain.Product, error) {
	p, err := e.recycle(ctx, actor, id)
	return store.Redact(actor, p), observe("recycle", err)
}

func (e *Engine) recycle(ctx context.Context, actor *domain.User, id string) (*domain.Product, error) {
	if _, err := e.authorize(ctx, actor, auth.ProductRecycle, id); err != nil {
		return nil, err
	}
	updated, err := e.Products.MutateProduct(ctx, id, func(p *domain.Product) error {
		if p.EndOfLifeStatus != domain.EndOfLifeActive {
			return transition(p.EndOfLifeStatus, "recycle")
		}
		p.EndOfLifeStatus = domain.EndOfLifeRecycled
		p.LastUpdated = e.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.record(ctx, "product.recycled", updated, nil, actor.ID)

	tx, err := e.Credits.Mint(ctx, actor.ID, RecycleCreditAmount, "recycled "+id, RecycleIdempotencyKey(id))
	if err != nil {
		obs.Error("mint recycling credits failed", err, map[string]any{"product_id": id, "user_id": actor.ID})
		e.Audit.Log(ctx, "credits.mint.failed", id, map[string]any{"error": err.Error(), "amount": RecycleCreditAmount}, actor.ID)
		return updated, fmt.Errorf("mint recycling credits: %w", err)
	}
	e.Audit.Log(ctx, "credits.minted", id, map[string]any{
		"amount":        tx.Amount,
		"transactionId": tx.ID,
		"recipient":     actor.ID,
	}, actor.ID)
	return updated, nil
}

// RecycleIdempotencyKey is the credits key used for recycling product id.
func RecycleIdempotencyKey(id string) string { return "recycle:" + id }

// DeleteProduct removes a Draft product of the actor's company.
func (e *Engine) DeleteProduct(ctx context.Context, actor *domain.User, id string) error {
	return observe("delete", e.delete(ctx, actor, id))
}

func (e *Engine) delete(ctx context.Context, actor *domain.User, id string) error {
	p, err := e.authorize(ctx, actor, auth.ProductDelete, id)
	if err != nil {
		return err
	}
	if p.IsMinting || p.IsProcessing {
		return ErrBusy
	}
	if err := e.Products.DeleteProduct(ctx, id); err != nil {
		return err
	}
	e.record(ctx, "product.deleted", p, map[string]any{"productName": p.ProductName}, actor.ID)
	return nil
}

// ArchiveProduct retires a product of the actor's company.
func (e *Engine) ArchiveProduct(ctx context.Context, actor *domain.User, id string) (*domain.Product, error) {
	p, err := e.archive(ctx, actor, id)
	return store.Redact(actor, p), observe("archive", err)
}

func (e *Engine) archive(ctx context.Context, actor *domain.User, id string) (*domain.Product, error) {
	if _, err := e.authorize(ctx, actor, auth.ProductArchive, id); err != nil {
		return nil, err
	}
	var previous domain.ProductStatus
	updated, err := e.Products.MutateProduct(ctx, id, func(p *domain.Product) error {
		if p.Status == domain.StatusArchived {
			return transition(p.Status, "archive")
		}
		if p.IsMinting {
			return ErrBusy
		}
		previous = p.Status
		p.Status = domain.StatusArchived
		p.LastUpdated = e.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.record(ctx, "product.archived", updated, map[string]any{"previousStatus": string(previous)}, actor.ID)
	return updated, nil
}

// AddCustodyStep appends a hand-over to the chain of custody.
func (e *Engine) AddCustodyStep(ctx context.Context, actor *domain.User, id string, step domain.CustodyStep) (*domain.Product, error) {
	p, err := e.addCustody(ctx, actor, id, step)
	return store.Redact(actor, p), observe("add_custody", err)
}

func (e *Engine) addCustody(ctx context.Context, actor *domain.User, id string, step domain.CustodyStep) (*domain.Product, error) {
	if _, err := e.authorize(ctx, actor, auth.ProductEdit, id); err != nil {
		return nil, err
	}
	step.Event = strings.TrimSpace(step.Event)
	if err := e.validate.Struct(step); err != nil {
		return nil, err
	}
	if step.Timestamp.IsZero() {
		step.Timestamp = e.now()
	}
	if step.Actor == "" {
		step.Actor = actor.ID
	}
	updated, err := e.Products.MutateProduct(ctx, id, func(p *domain.Product) error {
		p.ChainOfCustody = append(p.ChainOfCustody, step)
		p.LastUpdated = e.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.record(ctx, "product.custody.added", updated, map[string]any{"event": step.Event, "location": step.Location}, actor.ID)
	return updated, nil
}

// AddServiceRecord appends a maintenance entry to the product's history.
func (e *Engine) AddServiceRecord(ctx context.Context, actor *domain.User, id, description string) (*domain.Product, error) {
	p, err := e.addService(ctx, actor, id, description)
	return store.Redact(actor, p), observe("add_service_record", err)
}

func (e *Engine) addService(ctx context.Context, actor *domain.User, id, description string) (*domain.Product, error) {
	if _, err := e.authorize(ctx, actor, auth.ProductAddServiceRecord, id); err != nil {
		return nil, err
	}
	rec := domain.ServiceRecord{Description: strings.TrimSpace(description), ProviderID: actor.ID, Date: e.now()}
	if err := e.validate.Struct(rec); err != nil {
		return nil, err
	}
	updated, err := e.Products.MutateProduct(ctx, id, func(p *domain.Product) error {
		p.ServiceHistory = append(p.ServiceHistory, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.record(ctx, "product.service_record.added", updated, map[string]any{"description": rec.Description}, actor.ID)
	return updated, nil
}
