package rbac

// Role names carried in access tokens. Keep these stable; they are part of the auth contract.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
	RoleSystem = "system" // hidden role for internal callers
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsHiddenRole(role string) bool { return role == RoleSystem }
