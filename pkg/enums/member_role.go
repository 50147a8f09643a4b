package enums

// MemberRole identifies which marketplace surface a principal acts on.
type MemberRole string

const (
	MemberRoleBuyer  MemberRole = "buyer"
	MemberRoleSeller MemberRole = "seller"
	MemberRoleAgent  MemberRole = "agent"
	MemberRoleAdmin  MemberRole = "admin"
)

func (m MemberRole) String() string { return string(m) }

func (m MemberRole) IsValid() bool {
	switch m {
	case MemberRoleBuyer, MemberRoleSeller, MemberRoleAgent, MemberRoleAdmin:
		return true
	}
	return false
}
