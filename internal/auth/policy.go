package auth

import "norruva.org/internal/domain"

// Resource carries the attributes resource policies inspect.
type Resource struct {
	ID        string
	CompanyID string
	Status    domain.ProductStatus
}

// ProductResource adapts a product for permission checks.
func ProductResource(p *domain.Product) *Resource {
	if p == nil {
		return nil
	}
	return &Resource{ID: p.ID, CompanyID: p.CompanyID, Status: p.Status}
}

// UserResource adapts a user for permission checks.
func UserResource(u *domain.User) *Resource {
	if u == nil {
		return nil
	}
	return &Resource{ID: u.ID, CompanyID: u.CompanyID}
}

// ResourcePolicy refines a passing role check against a concrete resource.
// A nil resource never satisfies a policy.
type ResourcePolicy interface {
	Allows(user *domain.User, res *Resource) bool
	Name() string
}

// SameCompany requires the resource to belong to the user's company.
type SameCompany struct{}

func (SameCompany) Allows(user *domain.User, res *Resource) bool {
	return res != nil && res.CompanyID != "" && res.CompanyID == user.CompanyID
}

func (SameCompany) Name() string { return "same_company" }

// SameCompanyDraft additionally requires the product to still be a draft.
type SameCompanyDraft struct{}

func (SameCompanyDraft) Allows(user *domain.User, res *Resource) bool {
	return SameCompany{}.Allows(user, res) && res.Status == domain.StatusDraft
}

func (SameCompanyDraft) Name() string { return "same_company_draft" }

// Self requires the resource to be the acting user.
type Self struct{}

func (Self) Allows(user *domain.User, res *Resource) bool {
	return res != nil && res.ID == user.ID
}

func (Self) Name() string { return "self" }

var resourcePolicies = map[Action]ResourcePolicy{
	ProductEdit:          SameCompany{},
	ProductArchive:       SameCompany{},
	ProductRecalculate:   SameCompany{},
	ProductValidateData:  SameCompany{},
	ProductRunPrediction: SameCompany{},
	ProductDelete:        SameCompanyDraft{},
	UserEdit:             Self{},
}

// PolicyFor returns the resource policy bound to action, if any.
func PolicyFor(action Action) (ResourcePolicy, bool) {
	p, ok := resourcePolicies[action]
	return p, ok
}
