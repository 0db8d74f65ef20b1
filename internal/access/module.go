package access

import (
	"sort"
	"strings"
)

// Module identifies a feature area that a company can enable or disable.
type Module string

// Known modules.
const (
	ModuleHRCore     Module = "HR_CORE"
	ModuleAttendance Module = "ATTENDANCE"
	ModuleLeave      Module = "LEAVE"
	ModuleFinance    Module = "FINANCE"
	ModuleRevenue    Module = "REVENUE"
	ModuleSalesCRM   Module = "SALES_CRM"
	ModuleCompliance Module = "COMPLIANCE"
	ModuleAdmin      Module = "ADMIN"
)

// ModuleInfo describes a module in the catalog.
type ModuleInfo struct {
	Code        Module `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Mandatory   bool   `json:"mandatory"`
}

var catalog = []ModuleInfo{
	{Code: ModuleHRCore, Name: "HR Core", Description: "Employees, departments and positions.", Mandatory: true},
	{Code: ModuleAttendance, Name: "Attendance", Description: "Clock-in records, shifts and timesheets."},
	{Code: ModuleLeave, Name: "Leave", Description: "Leave requests, balances and approvals."},
	{Code: ModuleFinance, Name: "Finance", Description: "Payroll and expense claims."},
	{Code: ModuleRevenue, Name: "Revenue", Description: "Invoicing and revenue tracking."},
	{Code: ModuleSalesCRM, Name: "Sales CRM", Description: "Leads, deals and customer accounts."},
	{Code: ModuleCompliance, Name: "Compliance", Description: "Policies, audits and statutory filings."},
	{Code: ModuleAdmin, Name: "Administration", Description: "Company settings, roles and module toggles.", Mandatory: true},
}

var catalogIndex = func() map[Module]ModuleInfo {
	idx := make(map[Module]ModuleInfo, len(catalog))
	for _, info := range catalog {
		idx[info.Code] = info
	}
	return idx
}()

// Modules returns the module catalog in declaration order.
func Modules() []ModuleInfo {
	out := make([]ModuleInfo, len(catalog))
	copy(out, catalog)
	return out
}

// MandatoryModules lists modules that are always enabled.
func MandatoryModules() []Module {
	var out []Module
	for _, info := range catalog {
		if info.Mandatory {
			out = append(out, info.Code)
		}
	}
	return out
}

// ParseModule resolves a module code case-insensitively.
func ParseModule(raw string) (Module, bool) {
	m := Module(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := catalogIndex[m]; !ok {
		return "", false
	}
	return m, true
}

// Known reports whether m is part of the catalog.
func (m Module) Known() bool {
	_, ok := catalogIndex[m]
	return ok
}

// Mandatory reports whether the module can never be disabled.
func (m Module) Mandatory() bool {
	return catalogIndex[m].Mandatory
}

// Info returns catalog metadata for the module.
func (m Module) Info() (ModuleInfo, bool) {
	info, ok := catalogIndex[m]
	return info, ok
}

func (m Module) String() string {
	return string(m)
}

func sortModules(mods []Module) {
	sort.Slice(mods, func(i, j int) bool { return mods[i] < mods[j] })
}
