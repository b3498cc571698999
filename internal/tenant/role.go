package tenant

// Role is a principal's privilege level within one organization.
// Roles form a strict total order: owner > admin > librarian > member.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleLibrarian Role = "librarian"
	RoleMember    Role = "member"
)

// ParseRole converts a platform role string into a Role.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleOwner, RoleAdmin, RoleLibrarian, RoleMember:
		return Role(s), true
	}
	return "", false
}

// IsValid reports whether the role is one of the four known roles.
func (r Role) IsValid() bool {
	_, ok := ParseRole(string(r))
	return ok
}

// level returns the position in the privilege order (higher = more privilege).
func (r Role) level() int {
	switch r {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleLibrarian:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether the role has at least the privilege of other.
func (r Role) AtLeast(other Role) bool {
	return r.level() >= other.level()
}

// Capabilities are the derived authorization flags every page consumes.
// They are always recomputed from the role, never stored, so they cannot
// drift from it.
type Capabilities struct {
	IsOwner          bool `json:"is_owner"`
	IsAdmin          bool `json:"is_admin"`
	IsLibrarian      bool `json:"is_librarian"`
	CanManageBooks   bool `json:"can_manage_books"`
	CanManageMembers bool `json:"can_manage_members"`
}

// Capabilities derives the authorization flags from the role.
func (r Role) Capabilities() Capabilities {
	isAdmin := r.AtLeast(RoleAdmin)
	isLibrarian := r.AtLeast(RoleLibrarian)
	return Capabilities{
		IsOwner:          r == RoleOwner,
		IsAdmin:          isAdmin,
		IsLibrarian:      isLibrarian,
		CanManageBooks:   isLibrarian,
		CanManageMembers: isAdmin,
	}
}
