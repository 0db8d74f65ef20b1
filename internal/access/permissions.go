package access

// HR core permissions.
const (
	PermHRViewEmployee     = "hr.view_employee"
	PermHRManageEmployee   = "hr.manage_employee"
	PermHRViewDepartment   = "hr.view_department"
	PermHRManageDepartment = "hr.manage_department"
)

// Attendance permissions.
const (
	PermAttendanceView    = "attendance.view"
	PermAttendanceManage  = "attendance.manage"
	PermAttendanceApprove = "attendance.approve"
)

// Leave permissions.
const (
	PermLeaveApply   = "leave.apply"
	PermLeaveView    = "leave.view"
	PermLeaveApprove = "leave.approve"
	PermLeaveManage  = "leave.manage_policy"
)

// Finance permissions.
const (
	PermFinanceView           = "finance.view"
	PermFinanceViewPayroll    = "finance.view_payroll"
	PermFinanceManagePayroll  = "finance.manage_payroll"
	PermFinanceViewExpenses   = "finance.view_expenses"
	PermFinanceManageExpenses = "finance.manage_expenses"
)

// Revenue permissions.
const (
	PermRevenueView   = "revenue.view"
	PermRevenueManage = "revenue.manage"
)

// Sales CRM permissions.
const (
	PermSalesView   = "sales.view"
	PermSalesManage = "sales.manage"
)

// Compliance permissions.
const (
	PermComplianceView   = "compliance.view"
	PermComplianceManage = "compliance.manage"
)

// Administration permissions.
const (
	PermAdminManageUsers   = "admin.manage_users"
	PermAdminManageRoles   = "admin.manage_roles"
	PermAdminManageModules = "admin.manage_modules"
)

// HRScopes lists all permissions related to the HR core module.
func HRScopes() []string {
	return []string{
		PermHRViewEmployee,
		PermHRManageEmployee,
		PermHRViewDepartment,
		PermHRManageDepartment,
	}
}

// AttendanceScopes lists all attendance permissions.
func AttendanceScopes() []string {
	return []string{PermAttendanceView, PermAttendanceManage, PermAttendanceApprove}
}

// LeaveScopes lists all leave permissions.
func LeaveScopes() []string {
	return []string{PermLeaveApply, PermLeaveView, PermLeaveApprove, PermLeaveManage}
}

// FinanceScopes lists all finance permissions.
func FinanceScopes() []string {
	return []string{
		PermFinanceView,
		PermFinanceViewPayroll,
		PermFinanceManagePayroll,
		PermFinanceViewExpenses,
		PermFinanceManageExpenses,
	}
}

// RevenueScopes lists all revenue permissions.
func RevenueScopes() []string {
	return []string{PermRevenueView, PermRevenueManage}
}

// SalesScopes lists all sales CRM permissions.
func SalesScopes() []string {
	return []string{PermSalesView, PermSalesManage}
}

// ComplianceScopes lists all compliance permissions.
func ComplianceScopes() []string {
	return []string{PermComplianceView, PermComplianceManage}
}

// AdminScopes lists all administration permissions.
func AdminScopes() []string {
	return []string{PermAdminManageUsers, PermAdminManageRoles, PermAdminManageModules}
}

// ScopesFor returns the permission catalog of one module.
func ScopesFor(m Module) []string {
	switch m {
	case ModuleHRCore:
		return HRScopes()
	case ModuleAttendance:
		return AttendanceScopes()
	case ModuleLeave:
		return LeaveScopes()
	case ModuleFinance:
		return FinanceScopes()
	case ModuleRevenue:
		return RevenueScopes()
	case ModuleSalesCRM:
		return SalesScopes()
	case ModuleCompliance:
		return ComplianceScopes()
	case ModuleAdmin:
		return AdminScopes()
	}
	return nil
}

// AllScopes returns every permission in the catalog.
func AllScopes() []string {
	var out []string
	for _, info := range catalog {
		out = append(out, ScopesFor(info.Code)...)
	}
	return out
}
