package access

// Evaluate decides whether snap satisfies req. It has no side effects and
// always returns the same decision for the same inputs.
//
// Order of checks: module, admin bypass, role predicate, permission predicate.
// A disabled module denies even company administrators.
func Evaluate(snap Snapshot, req Requirement) Decision {
	if snap.Loading() {
		return Pending()
	}
	if req.Module != "" && !snap.ModuleEnabled(req.Module) {
		return DenyModule(req.Module)
	}
	if snap.IsCompanyAdmin() && !req.Strict {
		return Allow()
	}
	if !rolePredicate(snap, req) {
		return DenyAccess(FailedRole)
	}
	if !permissionPredicate(snap, req) {
		return DenyAccess(FailedPermission)
	}
	return Allow()
}

// ModuleAllowed applies only the module check of Evaluate.
func ModuleAllowed(snap Snapshot, m Module) bool {
	return m == "" || snap.ModuleEnabled(m)
}

func rolePredicate(snap Snapshot, req Requirement) bool {
	if req.Role != "" && !snap.HasRole(req.Role) {
		return false
	}
	if len(req.AnyRole) > 0 && !snap.HasAnyRole(req.AnyRole...) {
		return false
	}
	return true
}

func permissionPredicate(snap Snapshot, req Requirement) bool {
	if req.Permission != "" && !snap.HasPermission(req.Permission) {
		return false
	}
	if len(req.AllPermissions) > 0 && !snap.HasAllPermissions(req.AllPermissions...) {
		return false
	}
	if len(req.AnyPermission) > 0 && !snap.HasAnyPermission(req.AnyPermission...) {
		return false
	}
	return true
}
