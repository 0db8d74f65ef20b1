// Package directory reads roles, permissions, role assignments and company
// module flags. The engine never writes to the directory.
package directory

import (
	"context"
	"errors"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/access"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("directory: not found")

// Role represents a named permission bundle. CompanyID is nil for global roles.
type Role struct {
	ID          int64
	CompanyID   *int64
	Name        string
	Description string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission represents an atomic capability.
type Permission struct {
	ID          int64
	Code        string
	Description string
}

// RolePermission ties a permission to a role.
type RolePermission struct {
	RoleID       int64
	PermissionID int64
}

// UserRole links a user to a role inside one company.
type UserRole struct {
	UserID    int64
	RoleID    int64
	CompanyID int64
	CreatedAt time.Time
}

// ModuleFlag is the per-company enablement record of a module.
type ModuleFlag struct {
	CompanyID int64
	Module    access.Module
	Enabled   bool
	UpdatedAt time.Time
}

// Reader is the read side of the directory used by the resolver.
type Reader interface {
	// ActiveRoles returns the active roles the actor holds in the company.
	ActiveRoles(ctx context.Context, actorID, companyID int64) ([]Role, error)
	// RolePermissions returns the distinct permissions granted to roleIDs.
	RolePermissions(ctx context.Context, roleIDs []int64) ([]Permission, error)
	// EnabledModules returns modules explicitly enabled for the company.
	EnabledModules(ctx context.Context, companyID int64) ([]access.Module, error)
}

// RoleIDs extracts the IDs of roles.
func RoleIDs(roles []Role) []int64 {
	ids := make([]int64, 0, len(roles))
	for _, r := range roles {
		ids = append(ids, r.ID)
	}
	return ids
}

// RoleNames extracts the names of roles.
func RoleNames(roles []Role) []string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names
}

// PermissionCodes extracts the codes of perms.
func PermissionCodes(perms []Permission) []string {
	codes := make([]string, 0, len(perms))
	for _, p := range perms {
		codes = append(codes, p.Code)
	}
	return codes
}
