package access

import (
	"encoding/json"
	"sort"
	"strings"
)

// DefaultAdminRole is the role name that marks a company administrator.
const DefaultAdminRole = "company_admin"

// Key identifies the actor and company a snapshot was resolved for.
type Key struct {
	ActorID  int64 `json:"actor_id"`
	TenantID int64 `json:"company_id"`
}

// Valid reports whether both actor and company are present.
func (k Key) Valid() bool {
	return k.ActorID > 0 && k.TenantID > 0
}

// Grants is the raw material a snapshot is built from.
type Grants struct {
	Roles       []string
	Permissions []string
	Modules     []Module
}

// Snapshot is the resolved authorization state of one actor in one company.
// It is immutable once constructed.
type Snapshot struct {
	key          Key
	roles        map[string]string
	permissions  map[string]struct{}
	modules      map[Module]struct{}
	companyAdmin bool
	loading      bool
}

// NewSnapshot builds a ready snapshot. Permission codes are normalized and
// deduplicated; the admin flag is derived from adminRole.
func NewSnapshot(key Key, grants Grants, adminRole string) Snapshot {
	s := Snapshot{
		key:         key,
		roles:       make(map[string]string, len(grants.Roles)),
		permissions: make(map[string]struct{}, len(grants.Permissions)),
		modules:     make(map[Module]struct{}, len(grants.Modules)),
	}
	for _, role := range grants.Roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if _, ok := s.roles[foldRole(role)]; !ok {
			s.roles[foldRole(role)] = role
		}
	}
	for _, perm := range normalizePermissions(grants.Permissions) {
		s.permissions[perm] = struct{}{}
	}
	for _, m := range grants.Modules {
		if m == "" {
			continue
		}
		s.modules[m] = struct{}{}
	}
	if adminRole = strings.TrimSpace(adminRole); adminRole != "" {
		_, s.companyAdmin = s.roles[foldRole(adminRole)]
	}
	return s
}

// LoadingSnapshot marks a resolution in flight for key.
func LoadingSnapshot(key Key) Snapshot {
	return Snapshot{key: key, loading: true}
}

// EmptySnapshot grants nothing. It is the fail-closed result.
func EmptySnapshot(key Key) Snapshot {
	return Snapshot{key: key}
}

// Key returns the actor/company pair.
func (s Snapshot) Key() Key { return s.key }

// Loading reports whether the snapshot is still being resolved.
func (s Snapshot) Loading() bool { return s.loading }

// IsCompanyAdmin reports whether the actor holds the admin role.
func (s Snapshot) IsCompanyAdmin() bool { return s.companyAdmin }

// HasRole reports whether the actor holds role (case-insensitive).
func (s Snapshot) HasRole(role string) bool {
	_, ok := s.roles[foldRole(strings.TrimSpace(role))]
	return ok
}

// HasAnyRole reports whether the actor holds at least one of roles.
func (s Snapshot) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if s.HasRole(role) {
			return true
		}
	}
	return false
}

// HasPermission reports whether perm was granted through any active role.
func (s Snapshot) HasPermission(perm string) bool {
	_, ok := s.permissions[normalizePermission(perm)]
	return ok
}

// HasAllPermissions reports whether every code in perms is granted. A blank
// code is never granted.
func (s Snapshot) HasAllPermissions(perms ...string) bool {
	for _, p := range perms {
		if _, ok := s.permissions[normalizePermission(p)]; !ok {
			return false
		}
	}
	return true
}

// HasAnyPermission reports whether at least one code in perms is granted.
// An empty list never matches.
func (s Snapshot) HasAnyPermission(perms ...string) bool {
	for _, p := range normalizePermissions(perms) {
		if _, ok := s.permissions[p]; ok {
			return true
		}
	}
	return false
}

// ModuleEnabled reports whether the company has m enabled.
func (s Snapshot) ModuleEnabled(m Module) bool {
	_, ok := s.modules[m]
	return ok
}

// Roles returns the role names sorted.
func (s Snapshot) Roles() []string {
	out := make([]string, 0, len(s.roles))
	for _, name := range s.roles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Permissions returns the permission codes sorted.
func (s Snapshot) Permissions() []string {
	out := make([]string, 0, len(s.permissions))
	for p := range s.permissions {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Modules returns the enabled modules sorted.
func (s Snapshot) Modules() []Module {
	out := make([]Module, 0, len(s.modules))
	for m := range s.modules {
		out = append(out, m)
	}
	sortModules(out)
	return out
}

type snapshotJSON struct {
	CompanyID      int64    `json:"company_id"`
	ActorID        int64    `json:"actor_id"`
	Roles          []string `json:"roles"`
	Permissions    []string `json:"permissions"`
	EnabledModules []Module `json:"enabled_modules"`
	IsCompanyAdmin bool     `json:"is_company_admin"`
	Loading        bool     `json:"loading"`
}

// MarshalJSON renders the snapshot for API consumers.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		CompanyID:      s.key.TenantID,
		ActorID:        s.key.ActorID,
		Roles:          s.Roles(),
		Permissions:    s.Permissions(),
		EnabledModules: s.Modules(),
		IsCompanyAdmin: s.companyAdmin,
		Loading:        s.loading,
	})
}

func foldRole(role string) string {
	return strings.ToLower(role)
}

func normalizePermission(p string) string {
	return strings.TrimSpace(strings.ToLower(p))
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = normalizePermission(p)
		if p == "" {
			continue
		}
		if _, ok := unique[p]; ok {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
