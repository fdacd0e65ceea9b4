// Package family manages family groups, their members and invite codes.
package family

import "errors"

var (
	ErrInviteNotFound      = errors.New("invite code not found")
	ErrInviteUsed          = errors.New("invite code already used")
	ErrInvalidInvite       = errors.New("invite code is not valid")
	ErrInviteCodeExhausted = errors.New("could not generate a unique invite code")
	ErrNotMember           = errors.New("not a member of this family")
	ErrAlreadyMember       = errors.New("already a member of this family")
	ErrNotOwner            = errors.New("only the family owner can do this")
	ErrFamilyNotFound      = errors.New("family not found")
)

// Family is a group of users that share weekly plans.
type Family struct {
	FamilyID    int64  `db:"family_id"`
	Name        string `db:"name" validate:"name"`
	OwnerID     string `db:"owner_id"`
	CreatedDate int64  `db:"created_date"`
}

// Member is a user that belongs to a family.
type Member struct {
	MemberID    int64   `db:"member_id"`
	FamilyID    int64   `db:"family_id"`
	UserID      string  `db:"user_id"`
	Email       string  `db:"email"`
	DisplayName *string `db:"display_name"`
	JoinedDate  int64   `db:"joined_date"`
}

// Name returns the display name, falling back to the email.
func (m Member) Name() string {
	if m.DisplayName != nil && *m.DisplayName != "" {
		return *m.DisplayName
	}
	return m.Email
}

// Cloud document shapes.

type familyDoc struct {
	Name        string `json:"name"`
	OwnerID     string `json:"ownerId"`
	CreatedDate int64  `json:"createdDate"`
}

type memberDoc struct {
	Email       string  `json:"email"`
	DisplayName *string `json:"displayName"`
	JoinedDate  int64   `json:"joinedDate"`
}

type userFamilyDoc struct {
	FamilyID   int64 `json:"familyId"`
	JoinedDate int64 `json:"joinedDate"`
}

type inviteDoc struct {
	FamilyID  int64   `json:"familyId"`
	CreatedBy string  `json:"createdBy"`
	CreatedAt int64   `json:"createdAt"`
	UsedBy    *string `json:"usedBy"`
	UsedAt    *int64  `json:"usedAt"`
}
