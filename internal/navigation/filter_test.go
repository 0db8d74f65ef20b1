package navigation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/access"
)

var key = access.Key{ActorID: 1, TenantID: 1}

func snapshot(roles, perms []string, mods ...access.Module) access.Snapshot {
	return access.NewSnapshot(key, access.Grants{Roles: roles, Permissions: perms, Modules: mods}, access.DefaultAdminRole)
}

func keys(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Key)
		out = append(out, keys(it.Children)...)
	}
	return out
}

func section(key string, m access.Module, children ...Item) Item {
	return Item{Key: key, Label: key, Module: m, Children: children}
}

func leaf(key string, m access.Module, perm string) Item {
	return Item{Key: key, Label: key, Path: "/" + key, Module: m, Permission: perm}
}

func TestFilterDropsSectionWhenAllChildrenDenied(t *testing.T) {
	tree := []Item{
		section("finance", access.ModuleFinance,
			leaf("payroll", access.ModuleFinance, access.PermFinanceViewPayroll),
			leaf("expenses", access.ModuleFinance, access.PermFinanceViewExpenses),
		),
	}
	snap := snapshot([]string{"employee"}, []string{access.PermFinanceView}, access.ModuleFinance)

	assert.Empty(t, Filter{}.Apply(tree, snap))
}

func TestFilterKeepsOnlyAllowedChild(t *testing.T) {
	tree := []Item{
		section("finance", access.ModuleFinance,
			leaf("payroll", access.ModuleFinance, access.PermFinanceViewPayroll),
			leaf("expenses", access.ModuleFinance, access.PermFinanceViewExpenses),
		),
	}
	snap := snapshot([]string{"finance_officer"}, []string{access.PermFinanceViewExpenses}, access.ModuleFinance)

	got := Filter{}.Apply(tree, snap)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"finance", "expenses"}, keys(got))
	assert.Len(t, tree[0].Children, 2, "source tree is not mutated")
}

func TestFilterPreservesOrder(t *testing.T) {
	tree := []Item{
		leaf("c", access.ModuleHRCore, ""),
		leaf("a", access.ModuleHRCore, access.PermHRManageDepartment),
		leaf("b", access.ModuleHRCore, ""),
	}
	snap := snapshot(nil, nil, access.ModuleHRCore)
	assert.Equal(t, []string{"c", "b"}, keys(Filter{}.Apply(tree, snap)))
}

func TestFilterAdminSeesEnabledModulesOnly(t *testing.T) {
	items, err := Default()
	require.NoError(t, err)
	admin := snapshot([]string{"company_admin"}, nil, access.ModuleHRCore, access.ModuleAdmin, access.ModuleLeave)

	got := keys(Filter{}.Apply(items, admin))
	assert.Contains(t, got, "leave.policies")
	assert.Contains(t, got, "admin.modules")
	assert.NotContains(t, got, "finance")
	assert.NotContains(t, got, "finance.payroll")
	assert.NotContains(t, got, "sales")
}

func TestFilterOperationalRoleBypassesPermissionsNotModules(t *testing.T) {
	tree := []Item{
		section("leave", access.ModuleLeave,
			leaf("leave.policies", access.ModuleLeave, access.PermLeaveManage),
		),
		section("finance", access.ModuleFinance,
			leaf("finance.payroll", access.ModuleFinance, access.PermFinanceViewPayroll),
		),
		{Key: "reports", Label: "Reports", Path: "/reports", Permission: "reports.view"},
		{Key: "audit", Label: "Audit", Path: "/audit", Module: access.ModuleLeave, Permission: "leave.audit", Strict: true},
	}
	hr := snapshot([]string{"hr"}, nil, access.ModuleHRCore, access.ModuleLeave)

	assert.Equal(t, []string{"leave", "leave.policies"}, keys(Filter{OperationalRoles: []string{"HR"}}.Apply(tree, hr)))
	assert.Empty(t, Filter{}.Apply(tree, hr))
}

func TestFilterLoadingSnapshotYieldsNothing(t *testing.T) {
	items, err := Default()
	require.NoError(t, err)
	got := Filter{}.Apply(items, access.LoadingSnapshot(key))
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestFilterMatchesEvaluatorForLeaves(t *testing.T) {
	items, err := Default()
	require.NoError(t, err)
	snap := snapshot([]string{"employee"},
		[]string{access.PermHRViewEmployee, access.PermLeaveApply, access.PermAttendanceView},
		access.ModuleHRCore, access.ModuleAdmin, access.ModuleLeave, access.ModuleAttendance)

	visible := map[string]bool{}
	for _, k := range keys(Filter{}.Apply(items, snap)) {
		visible[k] = true
	}
	for _, it := range Leaves(items) {
		allowed := access.Evaluate(snap, it.Requirement()).Allowed()
		assert.Equal(t, allowed, visible[it.Key], it.Key)
	}
}

func TestDefaultTree(t *testing.T) {
	items, err := Default()
	require.NoError(t, err)
	require.NotEmpty(t, items)

	for _, it := range Leaves(items) {
		assert.True(t, strings.HasPrefix(it.Path, "/"), it.Key)
		assert.True(t, it.Module.Known(), it.Key)
	}
}

func TestLoadRejectsInvalidTrees(t *testing.T) {
	cases := map[string]string{
		"unknown module":    "- key: x\n  label: X\n  path: /x\n  module: PAYROLL\n",
		"leaf without path": "- key: x\n  label: X\n",
		"missing label":     "- key: x\n  path: /x\n",
		"duplicate key":     "- key: x\n  label: X\n  path: /x\n- key: x\n  label: Y\n  path: /y\n",
		"relative path":     "- key: x\n  label: X\n  path: x\n",
		"unknown field":     "- key: x\n  label: X\n  path: /x\n  perms: [a]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}
