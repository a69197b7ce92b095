package domain

import (
	"slices"
	"strings"
	"time"

	"norruva.org/internal/validation"
)

// Role is one of the fixed platform roles a user can hold.
type Role string

const (
	RoleAdmin             Role = "Admin"
	RoleSupplier          Role = "Supplier"
	RoleAuditor           Role = "Auditor"
	RoleComplianceManager Role = "ComplianceManager"
	RoleManufacturer      Role = "Manufacturer"
	RoleServiceProvider   Role = "ServiceProvider"
	RoleRecycler          Role = "Recycler"
	RoleDeveloper         Role = "Developer"
	RoleRetailer          Role = "Retailer"
	RoleBusinessAnalyst   Role = "BusinessAnalyst"
)

// AllRoles lists every role in declaration order.
var AllRoles = []Role{
	RoleAdmin,
	RoleSupplier,
	RoleAuditor,
	RoleComplianceManager,
	RoleManufacturer,
	RoleServiceProvider,
	RoleRecycler,
	RoleDeveloper,
	RoleRetailer,
	RoleBusinessAnalyst,
}

// ParseRole resolves a role name case-sensitively.
func ParseRole(name string) (Role, bool) {
	for _, r := range AllRoles {
		if string(r) == name {
			return r, true
		}
	}
	return "", false
}

// User belongs to exactly one company and holds a non-empty set of roles.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	CompanyID string    `json:"companyId"`
	Roles     []Role    `json:"roles"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate reports a missing id or company, an empty role set and unknown
// or repeated roles.
func (u *User) Validate() error {
	verr := &validation.Error{}
	if strings.TrimSpace(u.ID) == "" {
		verr.Add("id", "This field is required")
	}
	if strings.TrimSpace(u.CompanyID) == "" {
		verr.Add("companyId", "This field is required")
	}
	if len(u.Roles) == 0 {
		verr.Add("roles", "At least one role is required")
	}
	for i, r := range u.Roles {
		if _, ok := ParseRole(string(r)); !ok {
			verr.Add("roles", "Unknown role "+string(r))
		} else if slices.Index(u.Roles, r) != i {
			verr.Add("roles", "Duplicate role "+string(r))
		}
	}
	return verr.OrNil()
}

// HasRole reports whether the user holds role.
func (u *User) HasRole(role Role) bool {
	if u == nil {
		return false
	}
	return slices.Contains(u.Roles, role)
}

// Clone returns a copy that shares no slices with u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.Roles = slices.Clone(u.Roles)
	return &out
}

// Company owns users and products through their CompanyID back-reference.
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	Industry  string    `json:"industry"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
