package members

import (
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/trust"
)

// Role is the system wide role of a member
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleStandard Role = "STANDARD"
)

// TrustLevel is the level a role grants for operations outside any circle
func (r Role) TrustLevel() trust.Level {
	if r == RoleAdmin {
		return trust.Sysop
	}
	return trust.None
}

type Member struct {
	ID              string     // Unique identifier (uuid)
	AccountName     string     // Unique login name
	Role            Role       // System wide role
	PublicKey       string     // Armored public key
	PrivateKey      string     // Private key encrypted under the passphrase derived key, armored with the PBE algorithm
	EscrowedSalt    string     // Passphrase salt encrypted under the master key, armored with the master key algorithm
	SessionChecksum string     // Checksum of the current session token, empty without a session
	SessionCrypto   string     // Credential encrypted under a key derived from the session token
	SessionExpires  *time.Time // Expiry of the current session
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasSession reports whether the member has session material that is not yet expired
func (m *Member) HasSession(now time.Time) bool {
	return m.SessionChecksum != "" && m.SessionExpires != nil && now.Before(*m.SessionExpires)
}

// ClearSession drops the session material
func (m *Member) ClearSession() {
	m.SessionChecksum = ""
	m.SessionCrypto = ""
	m.SessionExpires = nil
}

// Caller identifies whoever invokes an operation. Services never retain Credential.
type Caller struct {
	AccountName string
	Credential  []byte
	RemoteIP    string
}
