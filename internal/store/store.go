// Package store defines the repositories the engine persists through and an
// in-memory implementation of all of them.
package store

import (
	"context"
	"errors"
	"time"

	"norruva.org/internal/domain"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when creating an entity whose id is taken.
	ErrConflict = errors.New("already exists")
)

// ProductFilter narrows ListProducts. Zero fields match everything.
type ProductFilter struct {
	CompanyID          string
	Status             domain.ProductStatus
	VerificationStatus domain.VerificationStatus
	Category           string
}

// ProductMutation edits a working copy of a product. Returning an error
// discards the copy.
type ProductMutation func(p *domain.Product) error

type ProductRepository interface {
	CreateProduct(ctx context.Context, p *domain.Product) error
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	// MutateProduct applies fn atomically and returns the stored result.
	// CompanyID and CreatedAt survive whatever fn does to them.
	MutateProduct(ctx context.Context, id string, fn ProductMutation) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	ListProducts(ctx context.Context, f ProductFilter) ([]*domain.Product, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	UpdateUser(ctx context.Context, u *domain.User) error
	ListUsers(ctx context.Context, companyID string) ([]*domain.User, error)
}

type CompanyRepository interface {
	CreateCompany(ctx context.Context, c *domain.Company) error
	GetCompany(ctx context.Context, id string) (*domain.Company, error)
	ListCompanies(ctx context.Context) ([]*domain.Company, error)
}

// AuditFilter narrows ListAuditLogs. Results are ordered oldest first.
type AuditFilter struct {
	EntityID     string
	UserID       string
	ActionPrefix string
	Since        time.Time
	Limit        int
}

// AuditLogRepository is append-only: there is no way to change or remove an
// entry once appended.
type AuditLogRepository interface {
	AppendAuditLog(ctx context.Context, entry domain.AuditLog) error
	GetAuditLog(ctx context.Context, id string) (domain.AuditLog, error)
	ListAuditLogs(ctx context.Context, f AuditFilter) ([]domain.AuditLog, error)
	CountAuditLogs(ctx context.Context) (int, error)
}

type APIKeyRepository interface {
	CreateAPIKey(ctx context.Context, k *domain.APIKey) error
	GetAPIKey(ctx context.Context, id string) (*domain.APIKey, error)
	UpdateAPIKey(ctx context.Context, k *domain.APIKey) error
	ListAPIKeys(ctx context.Context, userID string) ([]*domain.APIKey, error)
}

type WebhookRepository interface {
	CreateWebhook(ctx context.Context, w *domain.Webhook) error
	GetWebhook(ctx context.Context, id string) (*domain.Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error
	ListWebhooks(ctx context.Context, userID string) ([]*domain.Webhook, error)
	// ListSubscribed returns active webhooks that subscribe to event.
	ListSubscribed(ctx context.Context, event string) ([]*domain.Webhook, error)
}

type CompliancePathRepository interface {
	PutCompliancePath(ctx context.Context, p *domain.CompliancePath) error
	GetCompliancePath(ctx context.Context, id string) (*domain.CompliancePath, error)
	ListCompliancePaths(ctx context.Context) ([]*domain.CompliancePath, error)
}

// TicketFilter narrows ListTickets.
type TicketFilter struct {
	ProductID string
	CompanyID string
	Status    domain.TicketStatus
}

type ServiceTicketRepository interface {
	CreateTicket(ctx context.Context, t *domain.ServiceTicket) error
	GetTicket(ctx context.Context, id string) (*domain.ServiceTicket, error)
	UpdateTicket(ctx context.Context, t *domain.ServiceTicket) error
	ListTickets(ctx context.Context, f TicketFilter) ([]*domain.ServiceTicket, error)
}

// Repositories bundles every repository the services depend on.
type Repositories struct {
	Products  ProductRepository
	Users     UserRepository
	Companies CompanyRepository
	AuditLogs AuditLogRepository
	APIKeys   APIKeyRepository
	Webhooks  WebhookRepository
	Paths     CompliancePathRepository
	Tickets   ServiceTicketRepository
}

// FromMemory wires every repository to m.
func FromMemory(m *Memory) Repositories {
	return Repositories{
		Products:  m,
		Users:     m,
		Companies: m,
		AuditLogs: m,
		APIKeys:   m,
		Webhooks:  m,
		Paths:     m,
		Tickets:   m,
	}
}
