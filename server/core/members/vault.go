package members

import (
	"github.com/HaugrNet/eds-sub006/server/core/ccc/failures"
	"github.com/HaugrNet/eds-sub006/server/core/encryption"
	"github.com/awnumar/memguard"
)

// SaltEscrow seals member salts under a master key.
// The master key manager implements it, as does any single candidate key under test.
type SaltEscrow interface {
	// SealSalt encrypts salt and returns it armored
	SealSalt(salt []byte) (string, error)
	// OpenSalt decrypts an escrowed salt. The caller wipes the result.
	OpenSalt(escrowed string) ([]byte, error)
}

// EscrowLocker is a SaltEscrow that can pin its key while fn seals and persists records
type EscrowLocker interface {
	SaltEscrow
	WithEscrow(fn func(escrow SaltEscrow) error) error
}

// Vault implements the escrow cascade protecting each member's private key:
// master key -> escrowed salt -> passphrase derived key -> private key.
type Vault struct {
	engine     encryption.Engine
	escrow     SaltEscrow
	asymmetric encryption.AlgorithmID
	password   encryption.AlgorithmID
}

// NewVault creates a vault sealing salts with escrow and new material with the catalog defaults
func NewVault(engine encryption.Engine, escrow SaltEscrow) *Vault {
	defaults := engine.Catalog().Defaults()
	return &Vault{
		engine:     engine,
		escrow:     escrow,
		asymmetric: defaults.Asymmetric,
		password:   defaults.Password,
	}
}

// Escrow returns the escrow the vault seals with by default
func (v *Vault) Escrow() SaltEscrow {
	return v.escrow
}

// WithEscrow runs fn with an escrow whose key stays current until fn returns. Sealing and
// persisting a member inside fn keeps the salt readable across a master key rotation.
func (v *Vault) WithEscrow(fn func(escrow SaltEscrow) error) error {
	if locker, ok := v.escrow.(EscrowLocker); ok {
		return locker.WithEscrow(fn)
	}
	return fn(v.escrow)
}

// NewKeys generates a key pair for member and seals it with credential
func (v *Vault) NewKeys(member *Member, credential []byte) error {
	return v.NewKeysWith(v.escrow, member, credential)
}

// NewKeysWith is NewKeys with an explicit escrow
func (v *Vault) NewKeysWith(escrow SaltEscrow, member *Member, credential []byte) error {
	pair, err := v.engine.GenerateKeyPair(v.asymmetric)
	if err != nil {
		return err
	}
	defer pair.Destroy()

	return v.Seal(escrow, member, credential, pair.Private())
}

// Seal stores private under a fresh salt: the salt is escrowed, the key derived from
// credential and the salt encrypts private. PublicKey, PrivateKey and EscrowedSalt of
// member are replaced together.
func (v *Vault) Seal(escrow SaltEscrow, member *Member, credential []byte, private *encryption.PrivateKey) error {
	salt, err := v.engine.GenerateSalt()
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(salt)

	escrowed, err := escrow.SealSalt(salt)
	if err != nil {
		return err
	}

	derived, err := v.engine.DeriveKey(v.password, credential, salt)
	if err != nil {
		return err
	}
	defer derived.Destroy()

	der, err := encryption.MarshalPrivateKey(private)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(der)

	encrypted, err := v.engine.Encrypt(derived, der)
	if err != nil {
		return err
	}

	public := private.Public()
	defer public.Destroy()
	armoredPublic, err := v.engine.Armor(public)
	if err != nil {
		return err
	}

	member.PublicKey = armoredPublic
	member.PrivateKey = encryption.ArmorData(v.password, encrypted)
	member.EscrowedSalt = escrowed
	return nil
}

// Unlock recovers the member's key pair. The caller must Destroy it; prefer WithUnlocked.
// Every failure along the cascade is reported as an AuthenticationError.
func (v *Vault) Unlock(member *Member, credential []byte) (*encryption.KeyPair, error) {
	return v.UnlockWith(v.escrow, member, credential)
}

// UnlockWith is Unlock with an explicit escrow
func (v *Vault) UnlockWith(escrow SaltEscrow, member *Member, credential []byte) (*encryption.KeyPair, error) {
	pair, err := v.unlock(escrow, member, credential)
	if err != nil {
		return nil, failures.NewAuthenticationError(member.AccountName)
	}
	return pair, nil
}

func (v *Vault) unlock(escrow SaltEscrow, member *Member, credential []byte) (*encryption.KeyPair, error) {
	salt, err := escrow.OpenSalt(member.EscrowedSalt)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(salt)

	pbe, encrypted, err := encryption.DearmorData(member.PrivateKey)
	if err != nil {
		return nil, err
	}

	derived, err := v.engine.DeriveKey(pbe, credential, salt)
	if err != nil {
		return nil, err
	}
	defer derived.Destroy()

	der, err := v.engine.Decrypt(derived, encrypted)
	if err != nil {
		return nil, err
	}

	asymmetric, err := encryption.ArmorAlgorithm(member.PublicKey)
	if err != nil {
		memguard.WipeBytes(der)
		return nil, err
	}
	private, err := encryption.ParsePrivateKey(asymmetric, der)
	if err != nil {
		return nil, err
	}
	return encryption.NewKeyPair(private.Public(), private), nil
}

// WithUnlocked unlocks the member's key pair for the duration of fn only
func (v *Vault) WithUnlocked(member *Member, credential []byte, fn func(pair *encryption.KeyPair) error) error {
	pair, err := v.Unlock(member, credential)
	if err != nil {
		return err
	}
	defer pair.Destroy()

	return fn(pair)
}

// CheckCredentials reports whether credential unlocks member when salts are opened with escrow.
// Failures are not distinguished.
func (v *Vault) CheckCredentials(escrow SaltEscrow, member *Member, credential []byte) bool {
	pair, err := v.unlock(escrow, member, credential)
	if err != nil {
		return false
	}
	pair.Destroy()
	return true
}

// RotateCredential re-seals the member's private key under newCredential with a fresh salt.
// member is only modified on success.
func (v *Vault) RotateCredential(member *Member, oldCredential, newCredential []byte) error {
	return v.RotateCredentialWith(v.escrow, member, oldCredential, newCredential)
}

// RotateCredentialWith is RotateCredential with an explicit escrow
func (v *Vault) RotateCredentialWith(escrow SaltEscrow, member *Member, oldCredential, newCredential []byte) error {
	pair, err := v.UnlockWith(escrow, member, oldCredential)
	if err != nil {
		return err
	}
	defer pair.Destroy()

	updated := *member
	if err := v.Seal(escrow, &updated, newCredential, pair.Private()); err != nil {
		return err
	}
	member.PublicKey, member.PrivateKey, member.EscrowedSalt = updated.PublicKey, updated.PrivateKey, updated.EscrowedSalt
	return nil
}
