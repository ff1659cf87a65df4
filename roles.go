package sessionsync

// ProfileRole is the application-level role carried by a Profile.
type ProfileRole string

const (
	// RoleAdministrator can manage accounts and every record type.
	RoleAdministrator ProfileRole = "administrator"
	// RoleSalesAgent works the full sales pipeline.
	RoleSalesAgent ProfileRole = "sales-agent"
	// RoleLeadCaptor only registers incoming leads.
	RoleLeadCaptor ProfileRole = "lead-captor"
)

// DefaultRole is assigned to auto-provisioned profiles that carry no
// role hint.
const DefaultRole = RoleSalesAgent

// IsValid checks if the role is one of the predefined valid roles.
func (r ProfileRole) IsValid() bool {
	switch r {
	case RoleAdministrator, RoleSalesAgent, RoleLeadCaptor:
		return true
	default:
		return false
	}
}

// IsPrivileged reports whether the role may manage other accounts.
func (r ProfileRole) IsPrivileged() bool {
	return r == RoleAdministrator
}

// IsAtLeast checks if this role meets the minimum required level.
func (r ProfileRole) IsAtLeast(minRole ProfileRole) bool {
	roleHierarchy := map[ProfileRole]int{
		RoleLeadCaptor:    0,
		RoleSalesAgent:    1,
		RoleAdministrator: 2,
	}

	currentLevel, exists := roleHierarchy[r]
	if !exists {
		return false
	}

	minLevel, exists := roleHierarchy[minRole]
	if !exists {
		return false
	}

	return currentLevel >= minLevel
}

// AllRoles returns the closed role set in hierarchical order.
func AllRoles() []ProfileRole {
	return []ProfileRole{
		RoleLeadCaptor,
		RoleSalesAgent,
		RoleAdministrator,
	}
}

// ParseRole safely parses a string into a ProfileRole.
func ParseRole(roleStr string) (ProfileRole, bool) {
	role := ProfileRole(roleStr)
	return role, role.IsValid()
}
