package access

// Requirement declares what an actor needs to reach a route, component or
// menu item. Every field is optional; the zero Requirement is open to any
// member of the company.
type Requirement struct {
	Module         Module   `json:"module,omitempty" validate:"omitempty,module"`
	Permission     string   `json:"permission,omitempty" validate:"omitempty,notblank,max=128"`
	AllPermissions []string `json:"permissions,omitempty" validate:"omitempty,dive,required,notblank,max=128"`
	AnyPermission  []string `json:"any_permission,omitempty" validate:"omitempty,dive,required,notblank,max=128"`
	Role           string   `json:"role,omitempty" validate:"omitempty,notblank,max=128"`
	AnyRole        []string `json:"any_role,omitempty" validate:"omitempty,dive,required,notblank,max=128"`
	// Strict disables the company-admin bypass.
	Strict bool `json:"strict,omitempty"`
}

// RequireModule gates on a module only.
func RequireModule(m Module) Requirement {
	return Requirement{Module: m}
}

// RequirePermission gates on a module and a single permission.
func RequirePermission(m Module, perm string) Requirement {
	return Requirement{Module: m, Permission: perm}
}

// IsZero reports whether the requirement has no constraints.
func (r Requirement) IsZero() bool {
	return r.Module == "" && !r.hasRolePredicate() && !r.hasPermissionPredicate()
}

func (r Requirement) hasRolePredicate() bool {
	return r.Role != "" || len(r.AnyRole) > 0
}

func (r Requirement) hasPermissionPredicate() bool {
	return r.Permission != "" || len(r.AllPermissions) > 0 || len(r.AnyPermission) > 0
}
