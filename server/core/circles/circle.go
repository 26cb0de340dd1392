package circles

import (
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/encryption"
	"github.com/HaugrNet/eds-sub006/server/core/trust"
)

type Circle struct {
	ID           string // Unique identifier (uuid)
	Name         string // Unique circle name
	KeyReference string // Optional opaque reference to an external key, never interpreted
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GenerationStatus tells whether a key generation encrypts new data
type GenerationStatus string

const (
	StatusActive     GenerationStatus = "ACTIVE"
	StatusDeprecated GenerationStatus = "DEPRECATED"
)

// KeyGeneration is one epoch of a circle's symmetric key. Exactly one generation per
// circle is ACTIVE. A DEPRECATED generation keeps its key wrapped under the key of the
// generation that replaced it, so it stays readable until Expires.
type KeyGeneration struct {
	ID          string
	CircleID    string
	Number      int                    // 1 for the first generation of a circle
	Algorithm   encryption.AlgorithmID // Symmetric algorithm of the generation key
	Status      GenerationStatus
	Expires     *time.Time     // Set when deprecated
	GracePeriod *time.Duration // Grace granted when deprecated
	WrappedKey  string         // Key encrypted under the next generation's key, armored. Empty while active.
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Lapsed reports whether the generation's grace period is over
func (g *KeyGeneration) Lapsed(now time.Time) bool {
	return g.Status == StatusDeprecated && g.Expires != nil && !now.Before(*g.Expires)
}

// Trustee is a member of a circle. Envelope is the active circle key encrypted under the
// member's public key.
type Trustee struct {
	ID           string
	CircleID     string
	MemberID     string
	AccountName  string // Read only, joined from the member
	GenerationID string
	Level        trust.Level
	Envelope     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
