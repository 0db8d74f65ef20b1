package directory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-access/internal/access"
)

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres reads the directory from PostgreSQL.
type Postgres struct {
	db Querier
}

// NewPostgres constructs a Postgres reader.
func NewPostgres(db Querier) *Postgres {
	return &Postgres{db: db}
}

const activeRolesSQL = `
SELECT r.id, r.company_id, r.name, r.description, r.is_active, r.created_at, r.updated_at
FROM user_roles ur
JOIN roles r ON r.id = ur.role_id
WHERE ur.user_id = $1
  AND ur.company_id = $2
  AND (r.company_id = $2 OR r.company_id IS NULL)
  AND r.is_active
ORDER BY r.name`

// ActiveRoles returns the active roles assigned to the actor in the company.
func (p *Postgres) ActiveRoles(ctx context.Context, actorID, companyID int64) ([]Role, error) {
	rows, err := p.db.Query(ctx, activeRolesSQL, actorID, companyID)
	if err != nil {
		return nil, fmt.Errorf("directory: active roles: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.CompanyID, &role.Name, &role.Description, &role.Active, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("directory: scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: active roles: %w", err)
	}
	return roles, nil
}

const rolePermissionsSQL = `
SELECT DISTINCT p.id, p.code, p.description
FROM role_permissions rp
JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role_id = ANY($1)
ORDER BY p.code`

// RolePermissions returns the distinct permissions of roleIDs.
func (p *Postgres) RolePermissions(ctx context.Context, roleIDs []int64) ([]Permission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	rows, err := p.db.Query(ctx, rolePermissionsSQL, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("directory: role permissions: %w", err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Code, &perm.Description); err != nil {
			return nil, fmt.Errorf("directory: scan permission: %w", err)
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: role permissions: %w", err)
	}
	return perms, nil
}

const enabledModulesSQL = `
SELECT module_code
FROM company_modules
WHERE company_id = $1 AND is_enabled
ORDER BY module_code`

// EnabledModules returns the modules enabled for the company. Unknown module
// codes are skipped.
func (p *Postgres) EnabledModules(ctx context.Context, companyID int64) ([]access.Module, error) {
	rows, err := p.db.Query(ctx, enabledModulesSQL, companyID)
	if err != nil {
		return nil, fmt.Errorf("directory: enabled modules: %w", err)
	}
	defer rows.Close()
	var mods []access.Module
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("directory: scan module: %w", err)
		}
		if m, ok := access.ParseModule(code); ok {
			mods = append(mods, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: enabled modules: %w", err)
	}
	return mods, nil
}
