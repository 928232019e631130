package auth

// Permission represents a named capability in the API.
type Permission string

// Permission constants.
const (
	PermDeviceRead    Permission = "device:read"
	PermDeviceOperate Permission = "device:operate"
	PermAlertRead     Permission = "alert:read"
	PermAlertAck      Permission = "alert:acknowledge"
	PermRuleRead      Permission = "rule:read"
	PermRuleManage    Permission = "rule:manage"
	PermTaskManage    Permission = "task:manage"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermDeviceRead,
		PermAlertRead,
		PermRuleRead,
	},
	RoleOperator: {
		PermDeviceRead,
		PermDeviceOperate,
		PermAlertRead,
		PermAlertAck,
		PermRuleRead,
	},
	RoleAdmin: {
		PermDeviceRead,
		PermDeviceOperate,
		PermAlertRead,
		PermAlertAck,
		PermRuleRead,
		PermRuleManage,
		PermTaskManage,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
