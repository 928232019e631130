package auth

import "errors"

// Role represents an authorisation tier.
type Role string

const (
	// RoleViewer can read devices, alerts, rules and history.
	RoleViewer Role = "viewer"

	// RoleOperator can also send device commands.
	RoleOperator Role = "operator"

	// RoleAdmin can also manage rules and scheduled tasks.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Auth errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrEmptySecret  = errors.New("signing secret is empty")
)
