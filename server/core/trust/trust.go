// Package trust decides whether a trust level is sufficient for an operation.
package trust

import (
	"fmt"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/failures"
)

// Level orders privileges. None is the level of a member outside a circle.
type Level int

const (
	All Level = iota - 1 // sentinel: any level, including None, is acceptable
	None
	Read
	Write
	Admin
	Sysop
)

func (l Level) String() string {
	switch l {
	case All:
		return "ALL"
	case None:
		return "NONE"
	case Read:
		return "READ"
	case Write:
		return "WRITE"
	case Admin:
		return "ADMIN"
	case Sysop:
		return "SYSOP"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// ParseLevel parses the names produced by String
func ParseLevel(name string) (Level, error) {
	switch name {
	case "ALL":
		return All, nil
	case "NONE":
		return None, nil
	case "READ":
		return Read, nil
	case "WRITE":
		return Write, nil
	case "ADMIN":
		return Admin, nil
	case "SYSOP":
		return Sysop, nil
	default:
		return None, failures.NewValidationError("unknown trust level: " + name)
	}
}

// Assignable reports whether a trustee can hold l
func (l Level) Assignable() bool {
	return l >= Read && l <= Sysop
}

// Permission names a protected operation
type Permission string

const (
	UnlockMasterKey Permission = "UNLOCK_MASTER_KEY"
	CreateMember    Permission = "CREATE_MEMBER"
	DeleteMember    Permission = "DELETE_MEMBER"
	ListMembers     Permission = "LIST_MEMBERS"
	UpdateSelf      Permission = "UPDATE_SELF"
	ManageSession   Permission = "MANAGE_SESSION"
	CreateCircle    Permission = "CREATE_CIRCLE"
	ListCircles     Permission = "LIST_CIRCLES"
	DeleteCircle    Permission = "DELETE_CIRCLE"
	RotateCircleKey Permission = "ROTATE_CIRCLE_KEY"
	AddTrustee      Permission = "ADD_TRUSTEE"
	RemoveTrustee   Permission = "REMOVE_TRUSTEE"
	AlterTrustLevel Permission = "ALTER_TRUST_LEVEL"
	ListTrustees    Permission = "LIST_TRUSTEES"
	WriteData       Permission = "WRITE_DATA"
	DeleteData      Permission = "DELETE_DATA"
	ReadData        Permission = "READ_DATA"
	ListData        Permission = "LIST_DATA"
	SignDocument    Permission = "SIGN_DOCUMENT"
	VerifySignature Permission = "VERIFY_SIGNATURE"
	ListSignatures  Permission = "LIST_SIGNATURES"
)

var required = map[Permission]Level{
	UnlockMasterKey: Sysop,
	CreateMember:    Sysop,
	DeleteMember:    Sysop,
	ListMembers:     All,
	UpdateSelf:      All,
	ManageSession:   All,
	CreateCircle:    All,
	ListCircles:     All,
	DeleteCircle:    Admin,
	RotateCircleKey: Admin,
	AddTrustee:      Admin,
	RemoveTrustee:   Admin,
	AlterTrustLevel: Admin,
	ListTrustees:    Read,
	WriteData:       Write,
	DeleteData:      Write,
	ReadData:        Read,
	ListData:        Read,
	SignDocument:    All,
	VerifySignature: All,
	ListSignatures:  All,
}

// Required returns the minimum level of p. Unknown permissions require Sysop.
func Required(p Permission) Level {
	if level, ok := required[p]; ok {
		return level
	}
	return Sysop
}

// IsAllowed reports whether actual satisfies the required level
func IsAllowed(actual, requiredLevel Level) bool {
	if requiredLevel == All {
		return true
	}
	return actual >= requiredLevel
}

// Check fails with an AuthorizationError unless actual satisfies the level required by p
func Check(account string, actual Level, p Permission) error {
	if !IsAllowed(actual, Required(p)) {
		return failures.NewAuthorizationError(account, string(p))
	}
	return nil
}
