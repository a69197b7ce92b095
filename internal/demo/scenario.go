// Package demo seeds a development directory and generates plausible
// passport drafts for smoke runs.
package demo

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"norruva.org/internal/domain"
	"norruva.org/internal/store"
	"norruva.org/internal/workflow"
)

// Scenario is a fixed cast of companies and users plus the vocabulary the
// generator draws product drafts from.
type Scenario struct {
	Name       string
	Companies  []domain.Company
	Users      []domain.User
	Categories []string
	Materials  []string
	Countries  []string
}

func DefaultScenario() Scenario {
	return Scenario{
		Name: "CircularApparel",
		Companies: []domain.Company{
			{ID: "cmp_greenthread", Name: "GreenThread Textiles"},
			{ID: "cmp_voltcell", Name: "VoltCell Batteries"},
			{ID: "cmp_certify", Name: "Certify EU Audits"},
			{ID: "cmp_loop", Name: "Loop Recycling"},
		},
		Users: []domain.User{
			{ID: "usr_admin", CompanyID: "cmp_certify", FullName: "Ada Admin", Email: "admin@norruva.test", Roles: []domain.Role{domain.RoleAdmin}},
			{ID: "usr_supplier", CompanyID: "cmp_greenthread", FullName: "Sol Supplier", Email: "supplier@norruva.test", Roles: []domain.Role{domain.RoleSupplier}},
			{ID: "usr_manufacturer", CompanyID: "cmp_voltcell", FullName: "Mika Maker", Email: "maker@norruva.test", Roles: []domain.Role{domain.RoleManufacturer}},
			{ID: "usr_auditor", CompanyID: "cmp_certify", FullName: "Aurel Auditor", Email: "auditor@norruva.test", Roles: []domain.Role{domain.RoleAuditor}},
			{ID: "usr_compliance", CompanyID: "cmp_certify", FullName: "Cleo Compliance", Email: "compliance@norruva.test", Roles: []domain.Role{domain.RoleComplianceManager}},
			{ID: "usr_recycler", CompanyID: "cmp_loop", FullName: "Rui Recycler", Email: "recycler@norruva.test", Roles: []domain.Role{domain.RoleRecycler}},
			{ID: "usr_service", CompanyID: "cmp_loop", FullName: "Sana Service", Email: "service@norruva.test", Roles: []domain.Role{domain.RoleServiceProvider}},
			{ID: "usr_developer", CompanyID: "cmp_greenthread", FullName: "Dev Oper", Email: "dev@norruva.test", Roles: []domain.Role{domain.RoleDeveloper}},
			{ID: "usr_retailer", CompanyID: "cmp_loop", FullName: "Remy Retail", Email: "retail@norruva.test", Roles: []domain.Role{domain.RoleRetailer}},
			{ID: "usr_analyst", CompanyID: "cmp_certify", FullName: "Ana Lyst", Email: "analyst@norruva.test", Roles: []domain.Role{domain.RoleBusinessAnalyst}},
		},
		Categories: []string{"Apparel", "Electronics", "Batteries", "Furniture"},
		Materials:  []string{"Organic Cotton", "Recycled Polyester", "Aluminium", "Lithium", "Oak", "Steel"},
		Countries:  []string{"PT", "DE", "PL", "IT", "SE"},
	}
}

// Seed creates every company and user of s. Existing records are left alone.
func Seed(ctx context.Context, s Scenario, companies store.CompanyRepository, users store.UserRepository) error {
	for i := range s.Companies {
		c := s.Companies[i]
		if err := companies.CreateCompany(ctx, &c); err != nil && !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("seed company %s: %w", c.ID, err)
		}
	}
	for i := range s.Users {
		u := s.Users[i]
		if err := users.CreateUser(ctx, &u); err != nil && !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	return nil
}

// Generator draws product drafts from a scenario. It is deterministic for a
// given seed.
type Generator struct {
	scenario Scenario
	rnd      *rand.Rand
}

func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{scenario: DefaultScenario(), rnd: rand.New(rand.NewSource(seed))}
}

// NextProduct returns a draft that passes the submission checklist.
func (g *Generator) NextProduct() workflow.ProductInput {
	s := g.scenario
	category := s.Categories[g.rnd.Intn(len(s.Categories))]
	n := g.rnd.Intn(3) + 1
	materials := make([]domain.Material, 0, n)
	remaining := 100.0
	for i := 0; i < n; i++ {
		share := remaining
		if i < n-1 {
			share = float64(g.rnd.Intn(int(remaining)/2) + 1)
		}
		remaining -= share
		materials = append(materials, domain.Material{
			Name:       s.Materials[g.rnd.Intn(len(s.Materials))],
			Percentage: share,
			Recycled:   g.rnd.Intn(2) == 0,
		})
	}
	var certs []domain.Certification
	if g.rnd.Intn(2) == 0 {
		certs = append(certs, domain.Certification{Name: "ISO 14001", Authority: "ISO"})
	}
	return workflow.ProductInput{
		ProductName:        fmt.Sprintf("%s item %04d", category, g.rnd.Intn(10_000)),
		ProductDescription: "Generated " + category + " passport for " + s.Name,
		Category:           category,
		Materials:          materials,
		Manufacturing: domain.Manufacturing{
			Country:         s.Countries[g.rnd.Intn(len(s.Countries))],
			EmissionsKgCO2e: float64(g.rnd.Intn(1500)),
		},
		Certifications: certs,
		Packaging:      domain.Packaging{Type: "Cardboard", Recyclable: g.rnd.Intn(4) > 0},
	}
}

// UserWithRole returns the first scenario user holding role.
func (s Scenario) UserWithRole(role domain.Role) (domain.User, bool) {
	for _, u := range s.Users {
		if u.HasRole(role) {
			return u, true
		}
	}
	return domain.User{}, false
}
