package authz

// Role is an ordered permission level carried in the token's role claim.
type Role string

const (
	// RoleViewer may read approvals and run state.
	RoleViewer Role = "VIEWER"
	// RoleOperator may invoke runs and decide low-tier actions.
	RoleOperator Role = "OPERATOR"
	// RoleApprover may decide critical-tier actions.
	RoleApprover Role = "APPROVER"
	// RoleAdmin may do everything, including DLQ replay and purge.
	RoleAdmin Role = "ADMIN"
)

// roleOrder gives VIEWER < OPERATOR < APPROVER < ADMIN.
// Unknown roles map to zero and never satisfy any requirement.
var roleOrder = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleApprover: 3,
	RoleAdmin:    4,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleOrder[r]
	return ok
}

// AtLeast reports whether r is at or above required in the hierarchy.
func (r Role) AtLeast(required Role) bool {
	return roleOrder[r] >= roleOrder[required]
}
