package auth

import "norruva.org/internal/domain"

// permissionMatrix is the static role table. Admin is absent: it
// short-circuits every check.
var permissionMatrix = map[domain.Role][]Action{
	domain.RoleSupplier: {
		ProductCreate, ProductEdit, ProductDelete, ProductArchive, ProductSubmit,
		ProductResolve, ProductRecalculate, ProductValidateData, ProductRunPrediction,
		ProductExportData, UserEdit,
	},
	domain.RoleManufacturer: {
		ProductCreate, ProductEdit, ProductArchive, ProductSubmit,
		ProductRecalculate, ProductValidateData, ProductRunPrediction,
		ProductAddServiceRecord, ProductExportData, UserEdit,
	},
	domain.RoleAuditor: {
		ProductApprove, ProductReject, ProductRunCompliance, ProductViewAll,
		ProductExportData, AuditView, UserEdit,
	},
	domain.RoleComplianceManager: {
		ProductApprove, ProductReject, ProductResolve, ProductOverrideVerification,
		ProductRunCompliance, ProductViewAll, ProductExportData, ComplianceManage,
		AuditView, UserEdit,
	},
	domain.RoleServiceProvider: {
		ProductAddServiceRecord, TicketCreate, TicketManage, UserEdit,
	},
	domain.RoleRecycler: {
		ProductRecycle, UserEdit,
	},
	domain.RoleDeveloper: {
		DeveloperManageAPI, UserEdit,
	},
	domain.RoleRetailer: {
		ProductExportData, TicketCreate, UserEdit,
	},
	domain.RoleBusinessAnalyst: {
		ProductViewAll, ProductExportData, AuditView, UserEdit,
	},
}

var matrixIndex = buildIndex(permissionMatrix)

func buildIndex(m map[domain.Role][]Action) map[domain.Role]map[Action]struct{} {
	idx := make(map[domain.Role]map[Action]struct{}, len(m))
	for role, actions := range m {
		set := make(map[Action]struct{}, len(actions))
		for _, a := range actions {
			set[a] = struct{}{}
		}
		idx[role] = set
	}
	return idx
}

// RoleAllows reports whether the role table grants action to role, ignoring
// the Admin escape hatch and resource refinement.
func RoleAllows(role domain.Role, action Action) bool {
	_, ok := matrixIndex[role][action]
	return ok
}

// ActionsFor returns a copy of the actions granted to role.
func ActionsFor(role domain.Role) []Action {
	return append([]Action(nil), permissionMatrix[role]...)
}

// PermissionsFor lists the actions user's roles grant, in AllActions order,
// before any resource policy applies.
func PermissionsFor(user *domain.User) []Action {
	if user == nil {
		return []Action{}
	}
	out := make([]Action, 0, len(AllActions))
	for _, a := range AllActions {
		if user.HasRole(domain.RoleAdmin) {
			out = append(out, a)
			continue
		}
		for _, role := range user.Roles {
			if RoleAllows(role, a) {
				out = append(out, a)
				break
			}
		}
	}
	return out
}
