package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleGuest  = "guest" // restricted role
)

func IsOwner(role string) bool { return role == RoleOwner }

func IsElevated(role string) bool { return role == RoleOwner || role == RoleAdmin }

// IsRestrictedRole reports roles that are denied unless a route explicitly
// allows them.
func IsRestrictedRole(role string) bool { return role == RoleGuest }

// CanInitiateHuddle: guests may join huddles they are invited to but may not
// start them.
func CanInitiateHuddle(role string) bool {
	return role != "" && !IsRestrictedRole(role)
}

// CanForceEnd: admins and owners may end any session in their workspace.
func CanForceEnd(role string) bool { return IsElevated(role) }
