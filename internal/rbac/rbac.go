package rbac

import "github.com/assetdesk/backend/internal/models"

// Permission constants
const (
	PermRequestErasure = "request_erasure"
	PermViewAudit      = "view_audit"
	PermForceAlerts    = "force_alerts"
	PermEraseTenant    = "erase_tenant"
)

// RolePermissions defines what each tenant role can do.
var RolePermissions = map[string][]string{
	models.RoleAdmin: {
		PermRequestErasure, PermViewAudit, PermForceAlerts, PermEraseTenant,
	},
	models.RoleMember: {
		PermRequestErasure,
		// Members CANNOT: PermViewAudit, PermForceAlerts, PermEraseTenant
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// IsDestructiveOperation reports permissions whose effect cannot be undone
// once the grace period ends.
func IsDestructiveOperation(permission string) bool {
	return permission == PermEraseTenant
}
