package auth

import (
	"fmt"

	"norruva.org/internal/domain"
)

// PermissionError is the only authorization failure the engine produces.
type PermissionError struct {
	UserID     string
	Action     Action
	ResourceID string
}

func (e *PermissionError) Error() string {
	user := e.UserID
	if user == "" {
		user = domain.ActorGuest
	}
	if e.ResourceID == "" {
		return fmt.Sprintf("permission denied: %s may not %s", user, e.Action)
	}
	return fmt.Sprintf("permission denied: %s may not %s on %s", user, e.Action, e.ResourceID)
}

// Can reports whether user may perform action, optionally on res.
func Can(user *domain.User, action Action, res *Resource) bool {
	if user == nil {
		return false
	}
	if user.HasRole(domain.RoleAdmin) {
		return true
	}
	granted := false
	for _, role := range user.Roles {
		if RoleAllows(role, action) {
			granted = true
			break
		}
	}
	if !granted {
		return false
	}
	if policy, ok := resourcePolicies[action]; ok {
		return policy.Allows(user, res)
	}
	return true
}

// CheckPermission returns a *PermissionError iff Can returns false.
func CheckPermission(user *domain.User, action Action, res *Resource) error {
	if Can(user, action, res) {
		return nil
	}
	e := &PermissionError{Action: action}
	if user != nil {
		e.UserID = user.ID
	}
	if res != nil {
		e.ResourceID = res.ID
	}
	return e
}

// CanViewAll reports whether user may read products of every company
// regardless of status.
func CanViewAll(user *domain.User) bool {
	return Can(user, ProductViewAll, nil)
}

// CanViewProduct applies the read visibility rule: published products are
// public, everything else is limited to the owning company and global readers.
func CanViewProduct(user *domain.User, p *domain.Product) bool {
	if p == nil {
		return false
	}
	if p.Status == domain.StatusPublished {
		return true
	}
	if user == nil {
		return false
	}
	return user.CompanyID == p.CompanyID || CanViewAll(user)
}
