package auth

// Action identifies an operation subject to authorization.
type Action string

const (
	ProductCreate               Action = "product:create"
	ProductEdit                 Action = "product:edit"
	ProductDelete               Action = "product:delete"
	ProductArchive              Action = "product:archive"
	ProductSubmit               Action = "product:submit"
	ProductApprove              Action = "product:approve"
	ProductReject               Action = "product:reject"
	ProductResolve              Action = "product:resolve"
	ProductRecycle              Action = "product:recycle"
	ProductOverrideVerification Action = "product:override_verification"
	ProductRecalculate          Action = "product:recalculate"
	ProductValidateData         Action = "product:validate_data"
	ProductRunPrediction        Action = "product:run_prediction"
	ProductRunCompliance        Action = "product:run_compliance"
	ProductExportData           Action = "product:export_data"
	ProductViewAll              Action = "product:view_all"
	ProductAddServiceRecord     Action = "product:add_service_record"
	UserEdit                    Action = "user:edit"
	UserManage                  Action = "user:manage"
	CompanyManage               Action = "company:manage"
	ComplianceManage            Action = "compliance:manage"
	AuditView                   Action = "audit:view"
	DeveloperManageAPI          Action = "developer:manage_api"
	TicketCreate                Action = "ticket:create"
	TicketManage                Action = "ticket:manage"
)

// AllActions lists every action known to the permission engine.
var AllActions = []Action{
	ProductCreate,
	ProductEdit,
	ProductDelete,
	ProductArchive,
	ProductSubmit,
	ProductApprove,
	ProductReject,
	ProductResolve,
	ProductRecycle,
	ProductOverrideVerification,
	ProductRecalculate,
	ProductValidateData,
	ProductRunPrediction,
	ProductRunCompliance,
	ProductExportData,
	ProductViewAll,
	ProductAddServiceRecord,
	UserEdit,
	UserManage,
	CompanyManage,
	ComplianceManage,
	AuditView,
	DeveloperManageAPI,
	TicketCreate,
	TicketManage,
}
