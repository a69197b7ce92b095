package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"norruva.org/internal/domain"
)

// Memory implements every repository in process. Entities are copied on the
// way in and out so callers never alias stored state.
type Memory struct {
	mu        sync.RWMutex
	now       func() time.Time
	products  *table[*domain.Product]
	users     *table[*domain.User]
	companies *table[*domain.Company]
	apiKeys   *table[*domain.APIKey]
	webhooks  *table[*domain.Webhook]
	paths     *table[*domain.CompliancePath]
	tickets   *table[*domain.ServiceTicket]
	auditLogs []domain.AuditLog
	auditIdx  map[string]int
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		now:       func() time.Time { return time.Now().UTC() },
		products:  newTable[*domain.Product](),
		users:     newTable[*domain.User](),
		companies: newTable[*domain.Company](),
		apiKeys:   newTable[*domain.APIKey](),
		webhooks:  newTable[*domain.Webhook](),
		paths:     newTable[*domain.CompliancePath](),
		tickets:   newTable[*domain.ServiceTicket](),
		auditIdx:  make(map[string]int),
	}
}

// table keeps rows keyed by id and remembers insertion order.
type table[T any] struct {
	rows  map[string]T
	order []string
}

func newTable[T any]() *table[T] {
	return &table[T]{rows: make(map[string]T)}
}

func (t *table[T]) insert(id string, v T) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrNotFound)
	}
	if _, ok := t.rows[id]; ok {
		return fmt.Errorf("%w: %s", ErrConflict, id)
	}
	t.rows[id] = v
	t.order = append(t.order, id)
	return nil
}

func (t *table[T]) get(id string) (T, bool) {
	v, ok := t.rows[id]
	return v, ok
}

func (t *table[T]) replace(id string, v T) bool {
	if _, ok := t.rows[id]; !ok {
		return false
	}
	t.rows[id] = v
	return true
}

func (t *table[T]) remove(id string) bool {
	if _, ok := t.rows[id]; !ok {
		return false
	}
	delete(t.rows, id)
	t.order = slices.DeleteFunc(t.order, func(s string) bool { return s == id })
	return true
}

func (t *table[T]) each(fn func(T)) {
	for _, id := range t.order {
		fn(t.rows[id])
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

// --- products ---

func (m *Memory) CreateProduct(ctx context.Context, p *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p.Clone()
	now := m.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	return m.products.insert(cp.ID, cp)
}

func (m *Memory) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products.get(id)
	if !ok {
		return nil, notFound("product", id)
	}
	return p.Clone(), nil
}

func (m *Memory) MutateProduct(ctx context.Context, id string, fn ProductMutation) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.products.get(id)
	if !ok {
		return nil, notFound("product", id)
	}
	work := current.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	work.ID = current.ID
	work.CompanyID = current.CompanyID
	work.CreatedAt = current.CreatedAt
	if !work.UpdatedAt.After(current.UpdatedAt) {
		work.UpdatedAt = m.now()
	}
	m.products.replace(id, work)
	return work.Clone(), nil
}

func (m *Memory) DeleteProduct(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.products.remove(id) {
		return notFound("product", id)
	}
	return nil
}

func (m *Memory) ListProducts(ctx context.Context, f ProductFilter) ([]*domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Product
	m.products.each(func(p *domain.Product) {
		if f.CompanyID != "" && p.CompanyID != f.CompanyID {
			return
		}
		if f.Status != "" && p.Status != f.Status {
			return
		}
		if f.VerificationStatus != "" && p.VerificationStatus != f.VerificationStatus {
			return
		}
		if f.Category != "" && !strings.EqualFold(p.Category, f.Category) {
			return
		}
		out = append(out, p.Clone())
	})
	return out, nil
}

// --- users & companies ---

func (m *Memory) CreateUser(ctx context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := u.Validate(); err != nil {
		return err
	}
	cp := u.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
		cp.UpdatedAt = cp.CreatedAt
	}
	return m.users.insert(cp.ID, cp)
}

func (m *Memory) GetUser(ctx context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users.get(id)
	if !ok {
		return nil, notFound("user", id)
	}
	return u.Clone(), nil
}

func (m *Memory) UpdateUser(ctx context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.users.get(u.ID)
	if !ok {
		return notFound("user", u.ID)
	}
	cp := u.Clone()
	cp.CompanyID = current.CompanyID
	if err := cp.Validate(); err != nil {
		return err
	}
	cp.CreatedAt = current.CreatedAt
	cp.UpdatedAt = m.now()
	m.users.replace(cp.ID, cp)
	return nil
}

func (m *Memory) ListUsers(ctx context.Context, companyID string) ([]*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.User
	m.users.each(func(u *domain.User) {
		if companyID == "" || u.CompanyID == companyID {
			out = append(out, u.Clone())
		}
	})
	return out, nil
}

func (m *Memory) CreateCompany(ctx context.Context, c *domain.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
		cp.UpdatedAt = cp.CreatedAt
	}
	return m.companies.insert(cp.ID, &cp)
}

func (m *Memory) GetCompany(ctx context.Context, id string) (*domain.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.companies.get(id)
	if !ok {
		return nil, notFound("company", id)
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) ListCompanies(ctx context.Context) ([]*domain.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Company
	m.companies.each(func(c *domain.Company) {
		cp := *c
		out = append(out, &cp)
	})
	return out, nil
}

// --- audit log ---

func (m *Memory) AppendAuditLog(ctx context.Context, entry domain.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		return fmt.Errorf("%w: empty audit log id", ErrNotFound)
	}
	if _, ok := m.auditIdx[entry.ID]; ok {
		return fmt.Errorf("%w: %s", ErrConflict, entry.ID)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = m.now()
	}
	m.auditIdx[entry.ID] = len(m.auditLogs)
	m.auditLogs = append(m.auditLogs, entry.Clone())
	return nil
}

func (m *Memory) GetAuditLog(ctx context.Context, id string) (domain.AuditLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.auditIdx[id]
	if !ok {
		return domain.AuditLog{}, notFound("audit log", id)
	}
	return m.auditLogs[i].Clone(), nil
}

func (m *Memory) ListAuditLogs(ctx context.Context, f AuditFilter) ([]domain.AuditLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.AuditLog
	for _, e := range m.auditLogs {
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.ActionPrefix != "" && !strings.HasPrefix(e.Action, f.ActionPrefix) {
			continue
		}
		if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, e.Clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) CountAuditLogs(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.auditLogs), nil
}

// --- api keys ---

func cloneKey(k *domain.APIKey) *domain.APIKey {
	cp := *k
	if k.LastUsedAt != nil {
		t := *k.LastUsedAt
		cp.LastUsedAt = &t
	}
	return &cp
}

func (m *Memory) CreateAPIKey(ctx context.Context, k *domain.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneKey(k)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
		cp.UpdatedAt = cp.CreatedAt
	}
	return m.apiKeys.insert(cp.ID, cp)
}

func (m *Memory) GetAPIKey(ctx context.Context, id string) (*domain.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.apiKeys.get(id)
	if !ok {
		return nil, notFound("api key", id)
	}
	return cloneKey(k), nil
}

func (m *Memory) UpdateAPIKey(ctx context.Context, k *domain.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.apiKeys.get(k.ID)
	if !ok {
		return notFound("api key", k.ID)
	}
	cp := cloneKey(k)
	cp.UserID = current.UserID
	cp.CreatedAt = current.CreatedAt
	cp.UpdatedAt = m.now()
	m.apiKeys.replace(cp.ID, cp)
	return nil
}

func (m *Memory) ListAPIKeys(ctx context.Context, userID string) ([]*domain.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.APIKey
	m.apiKeys.each(func(k *domain.APIKey) {
		if userID == "" || k.UserID == userID {
			out = append(out, cloneKey(k))
		}
	})
	return out, nil
}

// --- webhooks ---

func cloneWebhook(w *domain.Webhook) *domain.Webhook {
	cp := *w
	cp.Events = slices.Clone(w.Events)
	return &cp
}

func (m *Memory) CreateWebhook(ctx context.Context, w *domain.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneWebhook(w)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
		cp.UpdatedAt = cp.CreatedAt
	}
	return m.webhooks.insert(cp.ID, cp)
}

func (m *Memory) GetWebhook(ctx context.Context, id string) (*domain.Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.webhooks.get(id)
	if !ok {
		return nil, notFound("webhook", id)
	}
	return cloneWebhook(w), nil
}

func (m *Memory) DeleteWebhook(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.webhooks.remove(id) {
		return notFound("webhook", id)
	}
	return nil
}

func (m *Memory) ListWebhooks(ctx context.Context, userID string) ([]*domain.Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Webhook
	m.webhooks.each(func(w *domain.Webhook) {
		if userID == "" || w.UserID == userID {
			out = append(out, cloneWebhook(w))
		}
	})
	return out, nil
}

func (m *Memory) ListSubscribed(ctx context.Context, event string) ([]*domain.Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Webhook
	m.webhooks.each(func(w *domain.Webhook) {
		if w.Status == domain.WebhookActive && w.Subscribes(event) {
			out = append(out, cloneWebhook(w))
		}
	})
	return out, nil
}

// --- compliance paths ---

func clonePath(p *domain.CompliancePath) *domain.CompliancePath {
	cp := *p
	cp.Regulations = slices.Clone(p.Regulations)
	cp.Rules.RequiredKeywords = slices.Clone(p.Rules.RequiredKeywords)
	cp.Rules.BannedKeywords = slices.Clone(p.Rules.BannedKeywords)
	if p.Rules.MinSustainabilityScore != nil {
		v := *p.Rules.MinSustainabilityScore
		cp.Rules.MinSustainabilityScore = &v
	}
	return &cp
}

// PutCompliancePath inserts or replaces a path.
func (m *Memory) PutCompliancePath(ctx context.Context, p *domain.CompliancePath) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := clonePath(p)
	now := m.now()
	if current, ok := m.paths.get(cp.ID); ok {
		cp.CreatedAt = current.CreatedAt
		cp.UpdatedAt = now
		m.paths.replace(cp.ID, cp)
		return nil
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = cp.CreatedAt
	return m.paths.insert(cp.ID, cp)
}

func (m *Memory) GetCompliancePath(ctx context.Context, id string) (*domain.CompliancePath, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.paths.get(id)
	if !ok {
		return nil, notFound("compliance path", id)
	}
	return clonePath(p), nil
}

func (m *Memory) ListCompliancePaths(ctx context.Context) ([]*domain.CompliancePath, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.CompliancePath
	m.paths.each(func(p *domain.CompliancePath) { out = append(out, clonePath(p)) })
	return out, nil
}

// --- service tickets ---

func (m *Memory) CreateTicket(ctx context.Context, t *domain.ServiceTicket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
		cp.UpdatedAt = cp.CreatedAt
	}
	return m.tickets.insert(cp.ID, &cp)
}

func (m *Memory) GetTicket(ctx context.Context, id string) (*domain.ServiceTicket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickets.get(id)
	if !ok {
		return nil, notFound("ticket", id)
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) UpdateTicket(ctx context.Context, t *domain.ServiceTicket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.tickets.get(t.ID)
	if !ok {
		return notFound("ticket", t.ID)
	}
	cp := *t
	cp.ProductID = current.ProductID
	cp.CompanyID = current.CompanyID
	cp.CreatedAt = current.CreatedAt
	cp.UpdatedAt = m.now()
	m.tickets.replace(cp.ID, &cp)
	return nil
}

func (m *Memory) ListTickets(ctx context.Context, f TicketFilter) ([]*domain.ServiceTicket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.ServiceTicket
	m.tickets.each(func(t *domain.ServiceTicket) {
		if f.ProductID != "" && t.ProductID != f.ProductID {
			return
		}
		if f.CompanyID != "" && t.CompanyID != f.CompanyID {
			return
		}
		if f.Status != "" && t.Status != f.Status {
			return
		}
		cp := *t
		out = append(out, &cp)
	})
	return out, nil
}

var (
	_ ProductRepository        = (*Memory)(nil)
	_ UserRepository           = (*Memory)(nil)
	_ CompanyRepository        = (*Memory)(nil)
	_ AuditLogRepository       = (*Memory)(nil)
	_ APIKeyRepository         = (*Memory)(nil)
	_ WebhookRepository        = (*Memory)(nil)
	_ CompliancePathRepository = (*Memory)(nil)
	_ ServiceTicketRepository  = (*Memory)(nil)
)
