package auth

import "strings"

// Role is a coarse access level carried in the token's roles claim.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleAnalyst Role = "analyst"
	RoleViewer  Role = "viewer"
)

// Permission names one protected action.
type Permission string

const (
	PermissionListTools   Permission = "tools:list"
	PermissionInvokeTools Permission = "tools:invoke"
	PermissionRedact      Permission = "redact"
	PermissionRunPipeline Permission = "pipeline:run"
	PermissionReadReports Permission = "reports:read"
	PermissionReadAudit   Permission = "audit:read"
)

var rolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermissionListTools, PermissionInvokeTools, PermissionRedact,
		PermissionRunPipeline, PermissionReadReports, PermissionReadAudit,
	},
	RoleAnalyst: {
		PermissionListTools, PermissionInvokeTools, PermissionRedact,
		PermissionRunPipeline, PermissionReadReports,
	},
	RoleViewer: {PermissionListTools, PermissionReadReports},
}

// ParseRoles keeps the known roles in claim. A token without roles is
// treated as an analyst.
func ParseRoles(claim []string) []Role {
	if len(claim) == 0 {
		return []Role{RoleAnalyst}
	}
	roles := make([]Role, 0, len(claim))
	for _, c := range claim {
		r := Role(strings.ToLower(strings.TrimSpace(c)))
		if _, ok := rolePermissions[r]; ok {
			roles = append(roles, r)
		}
	}
	return roles
}

// HasPermission reports whether any of the principal's roles grants permission.
func HasPermission(principal Principal, permission Permission) bool {
	for _, r := range principal.Roles {
		for _, p := range rolePermissions[r] {
			if p == permission {
				return true
			}
		}
	}
	return false
}
