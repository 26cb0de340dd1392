package signatures

import "time"

// SignatureRecord is the first occurrence of a signature. Records are keyed by the
// checksum of the raw signature bytes, so signing the same document with the same
// key again finds the existing record.
type SignatureRecord struct {
	ID            string     // Unique identifier (uuid)
	Checksum      string     // Checksum of the raw signature bytes
	MemberID      string     // Signer
	PublicKey     string     // Armored public key of the signer at signing time
	Algorithm     string     // Signature algorithm
	Expires       *time.Time // Signature is rejected from this instant on
	Verifications int        // Number of successful verifications
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Expired reports whether the signature has passed its expiry
func (r *SignatureRecord) Expired(now time.Time) bool {
	return r.Expires != nil && !now.Before(*r.Expires)
}
