package auth

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/pkg/enums"
)

// Principal is the verified caller passed explicitly into every core operation.
type Principal struct {
	UserID uuid.UUID
	Role   enums.MemberRole
}

// Valid reports whether the principal carries a user and a known role.
func (p Principal) Valid() bool {
	return p.UserID != uuid.Nil && p.Role.IsValid()
}

// Is reports whether the principal acts with the given role.
func (p Principal) Is(role enums.MemberRole) bool {
	return p.Role == role
}
