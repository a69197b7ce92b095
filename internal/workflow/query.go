package workflow

import (
	"context"
	"fmt"

	"norruva.org/internal/auth"
	"norruva.org/internal/domain"
	"norruva.org/internal/store"
)

// GetProducts lists the products matching f that viewer may see.
func (e *Engine) GetProducts(ctx context.Context, viewer *domain.User, f store.ProductFilter) ([]*domain.Product, error) {
	all, err := e.Products.ListProducts(ctx, f)
	if err != nil {
		return nil, err
	}
	return store.FilterVisible(viewer, all), nil
}

// GetProductByID returns ErrNotFound both for missing products and for
// products viewer may not see.
func (e *Engine) GetProductByID(ctx context.Context, viewer *domain.User, id string) (*domain.Product, error) {
	p, err := e.Products.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if !store.Visible(viewer, p) {
		return nil, fmt.Errorf("%w: product %s", ErrNotFound, id)
	}
	return p, nil
}

// ExportProducts is GetProducts behind the export permission. Guests and
// roles without product:export_data are denied.
func (e *Engine) ExportProducts(ctx context.Context, actor *domain.User, f store.ProductFilter) ([]*domain.Product, error) {
	if err := auth.CheckPermission(actor, auth.ProductExportData, nil); err != nil {
		return nil, observe("export", err)
	}
	items, err := e.GetProducts(ctx, actor, f)
	return items, observe("export", err)
}
