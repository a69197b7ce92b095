// Package tickets tracks repair and maintenance requests against products.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"norruva.org/internal/audit"
	"norruva.org/internal/auth"
	"norruva.org/internal/domain"
	"norruva.org/internal/ids"
	"norruva.org/internal/store"
)

var (
	ErrInvalidTransition = errors.New("invalid ticket status transition")
	ErrEmptyIssue        = errors.New("ticket issue is required")
)

type Service struct {
	tickets  store.ServiceTicketRepository
	products store.ProductRepository
	audit    *audit.Logger
	now      func() time.Time
}

func NewService(tickets store.ServiceTicketRepository, products store.ProductRepository, al *audit.Logger) *Service {
	return &Service{tickets: tickets, products: products, audit: al, now: func() time.Time { return time.Now().UTC() }}
}

// Create opens a ticket on a product the actor can see.
func (s *Service) Create(ctx context.Context, actor *domain.User, productID, issue string) (*domain.ServiceTicket, error) {
	p, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !store.Visible(actor, p) {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
	}
	if err := auth.CheckPermission(actor, auth.TicketCreate, nil); err != nil {
		return nil, err
	}
	issue = strings.TrimSpace(issue)
	if issue == "" {
		return nil, ErrEmptyIssue
	}
	now := s.now()
	t := &domain.ServiceTicket{
		ID:        ids.WithPrefix(ids.PrefixTicket),
		ProductID: p.ID,
		UserID:    actor.ID,
		CompanyID: p.CompanyID,
		Issue:     issue,
		Status:    domain.TicketOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.tickets.CreateTicket(ctx, t); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, "ticket.created", t.ID, map[string]any{"productId": p.ID, "issue": issue}, actor.ID)
	return t, nil
}

// UpdateStatus moves a ticket along Open, InProgress, Closed.
func (s *Service) UpdateStatus(ctx context.Context, actor *domain.User, ticketID string, next domain.TicketStatus, resolution string) (*domain.ServiceTicket, error) {
	t, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := auth.CheckPermission(actor, auth.TicketManage, nil); err != nil {
		return nil, err
	}
	if !t.Status.CanMoveTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}
	prev := t.Status
	t.Status = next
	if r := strings.TrimSpace(resolution); r != "" {
		t.Resolution = r
	}
	t.UpdatedAt = s.now()
	if err := s.tickets.UpdateTicket(ctx, t); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, "ticket.updated", t.ID, map[string]any{"from": string(prev), "to": string(next)}, actor.ID)
	return t, nil
}

// List returns the tickets actor may see: all of them for global readers and
// ticket managers, otherwise their own.
func (s *Service) List(ctx context.Context, actor *domain.User, f store.TicketFilter) ([]*domain.ServiceTicket, error) {
	if actor == nil {
		return nil, auth.CheckPermission(nil, auth.TicketCreate, nil)
	}
	all, err := s.tickets.ListTickets(ctx, f)
	if err != nil || auth.CanViewAll(actor) || auth.Can(actor, auth.TicketManage, nil) {
		return all, err
	}
	out := all[:0]
	for _, t := range all {
		if t.UserID == actor.ID {
			out = append(out, t)
		}
	}
	return out, nil
}
