package store

import (
	"norruva.org/internal/auth"
	"norruva.org/internal/domain"
)

// Visible applies the read rule shared by every product read path.
func Visible(viewer *domain.User, p *domain.Product) bool {
	return auth.CanViewProduct(viewer, p)
}

// FilterVisible drops products viewer may not see, preserving order.
func FilterVisible(viewer *domain.User, products []*domain.Product) []*domain.Product {
	out := products[:0:0]
	for _, p := range products {
		if Visible(viewer, p) {
			out = append(out, p)
		}
	}
	return out
}

// Redact returns p when viewer may see it and otherwise a copy holding only
// the identifier, lifecycle states and task flags.
func Redact(viewer *domain.User, p *domain.Product) *domain.Product {
	if p == nil || Visible(viewer, p) {
		return p
	}
	return &domain.Product{
		ID:                 p.ID,
		Status:             p.Status,
		VerificationStatus: p.VerificationStatus,
		EndOfLifeStatus:    p.EndOfLifeStatus,
		ChainOfCustody:     []domain.CustodyStep{},
		IsMinting:          p.IsMinting,
		IsProcessing:       p.IsProcessing,
		LastUpdated:        p.LastUpdated,
	}
}
