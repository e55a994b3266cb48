package auth

// Role is a closed workspace role set. Unknown role strings carry no
// capabilities.
type Role string

const (
	RoleOwner    Role = "OWNER"
	RoleAdmin    Role = "ADMIN"
	RoleManager  Role = "MANAGER"
	RoleSalesRep Role = "SALES_REP"
)

// Capability is a named permission checked at the API layer.
type Capability string

const (
	CapManageBilling Capability = "manage_billing"
	CapManageTeam    Capability = "manage_team"
	CapViewReports   Capability = "view_reports"
)

var roleCapabilities = map[Role]map[Capability]bool{
	RoleOwner: {
		CapManageBilling: true,
		CapManageTeam:    true,
		CapViewReports:   true,
	},
	RoleAdmin: {
		CapManageBilling: true,
		CapManageTeam:    true,
		CapViewReports:   true,
	},
	RoleManager: {
		CapViewReports: true,
	},
	RoleSalesRep: {},
}

// ParseRole maps a raw role string to a known Role, or empty when unknown.
func ParseRole(raw string) Role {
	role := Role(raw)
	if _, ok := roleCapabilities[role]; ok {
		return role
	}
	return ""
}

// Can reports whether the role carries the capability.
func (r Role) Can(cap Capability) bool {
	return roleCapabilities[r][cap]
}
