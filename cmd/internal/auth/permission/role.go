package permission

import "strings"

// Role is a CRM user role. Roles are totally ordered by rank.
type Role string

const (
	RoleEmployee   Role = "employee"
	RoleManager    Role = "manager"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// ranks is the role hierarchy. It must stay a contiguous 0..n-1 order (checked in init).
var ranks = map[Role]int{
	RoleEmployee:   0,
	RoleManager:    1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// Rank returns the hierarchy rank of r, or -1 for an unknown role.
func Rank(r Role) int {
	n, ok := ranks[r]
	if !ok {
		return -1
	}
	return n
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := ranks[r]
	return ok
}

func (r Role) String() string { return string(r) }

// ParseRole normalizes s ("Manager", " super_admin ") into a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", false
	}
	return r, true
}

// Roles returns all known roles ordered from least to most privileged.
func Roles() []Role {
	out := make([]Role, len(ranks))
	for r, n := range ranks {
		out[n] = r
	}
	return out
}

// MeetsMinimumRole reports whether r ranks at or above minimum.
// Unknown roles on either side never meet the requirement.
func MeetsMinimumRole(r, minimum Role) bool {
	have, want := Rank(r), Rank(minimum)
	if have < 0 || want < 0 {
		return false
	}
	return have >= want
}
