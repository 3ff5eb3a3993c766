package model

import "time"

type Family struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role is a member's permission level within one family.
// Roles are totally ordered: owner > caregiver > viewer.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleCaregiver Role = "caregiver"
	RoleViewer    Role = "viewer"
)

func (r Role) rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleCaregiver:
		return 2
	case RoleViewer:
		return 1
	}
	return 0
}

func (r Role) Valid() bool {
	return r.rank() > 0
}

// AtLeast reports whether r grants everything min grants.
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && r.rank() >= min.rank()
}

type Membership struct {
	ID        int64     `json:"id"`
	FamilyID  string    `json:"family_id"`
	UserID    int64     `json:"user_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemberWithUser is a membership joined with the member's user row.
type MemberWithUser struct {
	Membership
	Email string `json:"email"`
	Name  string `json:"name"`
}
