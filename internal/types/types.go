// README: Shared identifier and geo primitives used across modules.
package types

type ID string

type Point struct {
	Lat float64
	Lng float64
}

// Actor identifies who is requesting a state change. Role gates which
// transitions the request may perform.
type Actor struct {
	ID   ID
	Role Role
}

type Role string

const (
	RolePassenger  Role = "passenger"
	RoleDriver     Role = "driver"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
	RoleSystem     Role = "system"
)

// Admin reports whether the role may act on resources it does not own.
func (r Role) Admin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}
