package directory

import (
	"context"
	"embed"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-access/internal/access"
)

//go:embed seed/dev.yaml
var seedFS embed.FS

// Memory is an in-process Reader used for development and tests.
type Memory struct {
	mu        sync.RWMutex
	roles     map[int64]Role
	perms     map[string]Permission
	permsByID map[int64]Permission
	rolePerms map[int64]map[int64]struct{}
	userRoles []UserRole
	modules   map[int64]map[access.Module]bool
	nextID    int64
}

// NewMemory returns an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		roles:     make(map[int64]Role),
		perms:     make(map[string]Permission),
		permsByID: make(map[int64]Permission),
		rolePerms: make(map[int64]map[int64]struct{}),
		modules:   make(map[int64]map[access.Module]bool),
	}
}

// AddRole stores role, assigning an ID when zero, and grants it perms.
func (m *Memory) AddRole(role Role, perms ...string) Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	if role.ID == 0 {
		m.nextID++
		role.ID = m.nextID
	} else if role.ID > m.nextID {
		m.nextID = role.ID
	}
	now := time.Now()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	role.UpdatedAt = now
	m.roles[role.ID] = role
	if m.rolePerms[role.ID] == nil {
		m.rolePerms[role.ID] = make(map[int64]struct{})
	}
	for _, code := range perms {
		perm := m.ensurePermissionLocked(code)
		m.rolePerms[role.ID][perm.ID] = struct{}{}
	}
	return role
}

// SetRoleActive toggles a role's active flag.
func (m *Memory) SetRoleActive(roleID int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[roleID]
	if !ok {
		return ErrNotFound
	}
	role.Active = active
	role.UpdatedAt = time.Now()
	m.roles[roleID] = role
	return nil
}

// Assign gives userID the role inside companyID.
func (m *Memory) Assign(userID, companyID, roleID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ur := range m.userRoles {
		if ur.UserID == userID && ur.CompanyID == companyID && ur.RoleID == roleID {
			return
		}
	}
	m.userRoles = append(m.userRoles, UserRole{UserID: userID, RoleID: roleID, CompanyID: companyID, CreatedAt: time.Now()})
}

// Unassign removes a role assignment.
func (m *Memory) Unassign(userID, companyID, roleID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.userRoles[:0]
	for _, ur := range m.userRoles {
		if ur.UserID == userID && ur.CompanyID == companyID && ur.RoleID == roleID {
			continue
		}
		kept = append(kept, ur)
	}
	m.userRoles = kept
}

// SetModule records the enablement flag of a module for a company.
func (m *Memory) SetModule(companyID int64, mod access.Module, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.modules[companyID] == nil {
		m.modules[companyID] = make(map[access.Module]bool)
	}
	m.modules[companyID][mod] = enabled
}

// ActiveRoles implements Reader.
func (m *Memory) ActiveRoles(ctx context.Context, actorID, companyID int64) ([]Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var roles []Role
	for _, ur := range m.userRoles {
		if ur.UserID != actorID || ur.CompanyID != companyID {
			continue
		}
		role, ok := m.roles[ur.RoleID]
		if !ok || !role.Active {
			continue
		}
		if role.CompanyID != nil && *role.CompanyID != companyID {
			continue
		}
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

// RolePermissions implements Reader.
func (m *Memory) RolePermissions(ctx context.Context, roleIDs []int64) ([]Permission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[int64]struct{})
	var perms []Permission
	for _, roleID := range roleIDs {
		for permID := range m.rolePerms[roleID] {
			if _, ok := seen[permID]; ok {
				continue
			}
			seen[permID] = struct{}{}
			perms = append(perms, m.permsByID[permID])
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Code < perms[j].Code })
	return perms, nil
}

// EnabledModules implements Reader.
func (m *Memory) EnabledModules(ctx context.Context, companyID int64) ([]access.Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var mods []access.Module
	for mod, enabled := range m.modules[companyID] {
		if enabled {
			mods = append(mods, mod)
		}
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i] < mods[j] })
	return mods, nil
}

func (m *Memory) ensurePermissionLocked(code string) Permission {
	code = strings.TrimSpace(strings.ToLower(code))
	if perm, ok := m.perms[code]; ok {
		return perm
	}
	m.nextID++
	perm := Permission{ID: m.nextID, Code: code}
	m.perms[code] = perm
	m.permsByID[perm.ID] = perm
	return perm
}

// Seed is the YAML document accepted by LoadSeed.
type Seed struct {
	Roles []struct {
		Name        string   `yaml:"name"`
		CompanyID   int64    `yaml:"company_id"`
		Description string   `yaml:"description"`
		Inactive    bool     `yaml:"inactive"`
		Permissions []string `yaml:"permissions"`
	} `yaml:"roles"`
	Companies []struct {
		ID      int64    `yaml:"id"`
		Modules []string `yaml:"modules"`
	} `yaml:"companies"`
	Assignments []struct {
		UserID    int64    `yaml:"user_id"`
		CompanyID int64    `yaml:"company_id"`
		Roles     []string `yaml:"roles"`
	} `yaml:"assignments"`
}

// LoadSeed builds a Memory directory from a YAML seed document.
func LoadSeed(r io.Reader) (*Memory, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("directory: decode seed: %w", err)
	}
	mem := NewMemory()
	byName := make(map[string]Role)
	for _, rs := range seed.Roles {
		name := strings.TrimSpace(rs.Name)
		if name == "" {
			return nil, fmt.Errorf("directory: seed role without name")
		}
		role := Role{Name: name, Description: rs.Description, Active: !rs.Inactive}
		if rs.CompanyID > 0 {
			companyID := rs.CompanyID
			role.CompanyID = &companyID
		}
		byName[seedRoleKey(name, rs.CompanyID)] = mem.AddRole(role, rs.Permissions...)
	}
	for _, c := range seed.Companies {
		for _, raw := range c.Modules {
			mod, ok := access.ParseModule(raw)
			if !ok {
				return nil, fmt.Errorf("directory: seed company %d: unknown module %q", c.ID, raw)
			}
			mem.SetModule(c.ID, mod, true)
		}
	}
	for _, a := range seed.Assignments {
		for _, name := range a.Roles {
			role, ok := byName[seedRoleKey(name, a.CompanyID)]
			if !ok {
				role, ok = byName[seedRoleKey(name, 0)]
			}
			if !ok {
				return nil, fmt.Errorf("directory: seed assignment: unknown role %q", name)
			}
			mem.Assign(a.UserID, a.CompanyID, role.ID)
		}
	}
	return mem, nil
}

// LoadDevSeed builds a Memory directory from the embedded development seed.
func LoadDevSeed() (*Memory, error) {
	f, err := seedFS.Open("seed/dev.yaml")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadSeed(f)
}

func seedRoleKey(name string, companyID int64) string {
	return fmt.Sprintf("%d/%s", companyID, strings.ToLower(strings.TrimSpace(name)))
}
