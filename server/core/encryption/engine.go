package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	_ "crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltLength    = 16 // bytes
	masterKeyInfo = "trustcircles/master-key"
)

// Engine is the set of primitive operations the services build on.
// Implementations hold no mutable state.
type Engine interface {
	// Catalog returns the algorithm catalog the engine resolves ids against
	Catalog() *Catalog
	// GenerateSecretKey generates a random key of a symmetric algorithm
	GenerateSecretKey(algorithm AlgorithmID) (*SecretKey, error)
	// GenerateKeyPair generates an asymmetric key pair
	GenerateKeyPair(algorithm AlgorithmID) (*KeyPair, error)
	// GenerateSalt generates a new random salt for key derivation
	GenerateSalt() ([]byte, error)
	// Encrypt seals plaintext under key. The nonce is prefixed to the ciphertext.
	Encrypt(key *SecretKey, plaintext []byte) ([]byte, error)
	// Decrypt opens ciphertext produced by Encrypt
	Decrypt(key *SecretKey, ciphertext []byte) ([]byte, error)
	// EncryptAsymmetric wraps a small payload for the owner of the public key
	EncryptAsymmetric(key *PublicKey, plaintext []byte) ([]byte, error)
	// DecryptAsymmetric unwraps a payload produced by EncryptAsymmetric
	DecryptAsymmetric(key *PrivateKey, ciphertext []byte) ([]byte, error)
	// DeriveKey derives a symmetric key from a passphrase using a PASSWORD family algorithm
	DeriveKey(algorithm AlgorithmID, passphrase, salt []byte) (*SecretKey, error)
	// DeriveMasterKey turns a raw bootstrap secret into a symmetric key. secret is wiped.
	DeriveMasterKey(algorithm AlgorithmID, secret []byte) (*SecretKey, error)
	// Sign signs data with a SIGNATURE family algorithm
	Sign(key *PrivateKey, algorithm AlgorithmID, data []byte) ([]byte, error)
	// Verify reports whether signature is valid for data
	Verify(key *PublicKey, algorithm AlgorithmID, data, signature []byte) bool
	// Checksum returns the lowercase hex SHA-256 of data
	Checksum(data []byte) string
	// Armor encodes key material into its self-describing string form
	Armor(material KeyMaterial) (string, error)
	// Dearmor decodes armored key material and checks it carries the expected algorithm
	Dearmor(armored string, algorithm AlgorithmID) (KeyMaterial, error)
}

// EngineSettings tunes the password based derivations
type EngineSettings struct {
	PBKDF2Iterations int
	Argon2Time       uint32
	Argon2MemoryKiB  uint32
	Argon2Threads    uint8
}

// DefaultEngineSettings returns the production derivation parameters
func DefaultEngineSettings() EngineSettings {
	return EngineSettings{
		PBKDF2Iterations: 100000,
		Argon2Time:       2,
		Argon2MemoryKiB:  19 * 1024,
		Argon2Threads:    1,
	}
}

type aeadFactory func(key []byte) (cipher.AEAD, error)

type kdfFunc func(settings EngineSettings, passphrase, salt []byte, keyLen int) []byte

var aeadTable = map[string]aeadFactory{
	transformAESGCM: func(key []byte) (cipher.AEAD, error) {
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	},
	transformXChaCha: chacha20poly1305.NewX,
}

var kdfTable = map[string]kdfFunc{
	transformPBKDF2: func(s EngineSettings, passphrase, salt []byte, keyLen int) []byte {
		return pbkdf2.Key(passphrase, salt, s.PBKDF2Iterations, keyLen, sha256.New)
	},
	transformArgon2id: func(s EngineSettings, passphrase, salt []byte, keyLen int) []byte {
		return argon2.IDKey(passphrase, salt, s.Argon2Time, s.Argon2MemoryKiB, s.Argon2Threads, uint32(keyLen))
	},
}

// CryptoEngine implements Engine on top of the algorithm catalog
type CryptoEngine struct {
	catalog  *Catalog
	settings EngineSettings
}

// NewCryptoEngine creates a new CryptoEngine instance
func NewCryptoEngine(catalog *Catalog, settings EngineSettings) *CryptoEngine {
	if settings.PBKDF2Iterations <= 0 {
		settings.PBKDF2Iterations = DefaultEngineSettings().PBKDF2Iterations
	}
	if settings.Argon2Time == 0 || settings.Argon2MemoryKiB == 0 || settings.Argon2Threads == 0 {
		d := DefaultEngineSettings()
		settings.Argon2Time, settings.Argon2MemoryKiB, settings.Argon2Threads = d.Argon2Time, d.Argon2MemoryKiB, d.Argon2Threads
	}
	return &CryptoEngine{catalog: catalog, settings: settings}
}

func (e *CryptoEngine) Catalog() *Catalog {
	return e.catalog
}

func (e *CryptoEngine) GenerateSecretKey(algorithm AlgorithmID) (*SecretKey, error) {
	spec, err := e.catalog.Require(algorithm, FamilySymmetric)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, spec.KeyBytes())
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, newCryptoError("generate secret key", err)
	}
	return NewSecretKey(algorithm, raw), nil
}

func (e *CryptoEngine) GenerateKeyPair(algorithm AlgorithmID) (*KeyPair, error) {
	spec, err := e.catalog.Require(algorithm, FamilyAsymmetric)
	if err != nil {
		return nil, err
	}

	key, err := rsa.GenerateKey(rand.Reader, spec.KeyLength)
	if err != nil {
		return nil, newCryptoError("generate key pair", err)
	}
	private := NewPrivateKey(algorithm, key)
	return NewKeyPair(private.Public(), private), nil
}

func (e *CryptoEngine) GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, newCryptoError("generate salt", err)
	}
	return salt, nil
}

func (e *CryptoEngine) aeadFor(op string, key *SecretKey) (cipher.AEAD, error) {
	spec, err := e.catalog.Require(key.Algorithm(), FamilySymmetric)
	if err != nil {
		return nil, err
	}
	keyBytes := key.Bytes()
	if len(keyBytes) != spec.KeyBytes() {
		return nil, newCryptoError(op, errors.New("invalid key length"))
	}
	factory, ok := aeadTable[spec.Transformation]
	if !ok {
		return nil, newCryptoError(op, fmt.Errorf("no cipher for %s", spec.Transformation))
	}
	aead, err := factory(keyBytes)
	if err != nil {
		return nil, newCryptoError(op, err)
	}
	return aead, nil
}

func (e *CryptoEngine) Encrypt(key *SecretKey, plaintext []byte) ([]byte, error) {
	aead, err := e.aeadFor("encrypt", key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, newCryptoError("encrypt", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (e *CryptoEngine) Decrypt(key *SecretKey, ciphertext []byte) ([]byte, error) {
	aead, err := e.aeadFor("decrypt", key)
	if err != nil {
		return nil, err
	}

	nonceSize := aead.NonceSize()
	if len(ciphertext) < nonceSize+aead.Overhead() {
		return nil, newCryptoError("decrypt", errors.New("ciphertext too short"))
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, newCryptoError("decrypt", err)
	}
	return plaintext, nil
}

func (e *CryptoEngine) EncryptAsymmetric(key *PublicKey, plaintext []byte) ([]byte, error) {
	if _, err := e.catalog.Require(key.Algorithm(), FamilyAsymmetric); err != nil {
		return nil, err
	}
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, key.rsaKey(), plaintext, nil)
	if err != nil {
		return nil, newCryptoError("encrypt asymmetric", err)
	}
	return ciphertext, nil
}

func (e *CryptoEngine) DecryptAsymmetric(key *PrivateKey, ciphertext []byte) ([]byte, error) {
	if _, err := e.catalog.Require(key.Algorithm(), FamilyAsymmetric); err != nil {
		return nil, err
	}
	plaintext, err := rsa.DecryptOAEP(sha256.New(), nil, key.rsaKey(), ciphertext, nil)
	if err != nil {
		return nil, newCryptoError("decrypt asymmetric", err)
	}
	return plaintext, nil
}

func (e *CryptoEngine) DeriveKey(algorithm AlgorithmID, passphrase, salt []byte) (*SecretKey, error) {
	spec, err := e.catalog.Require(algorithm, FamilyPassword)
	if err != nil {
		return nil, err
	}
	if len(salt) == 0 {
		return nil, newCryptoError("derive key", errors.New("salt cannot be empty"))
	}
	derived, err := e.catalog.Require(spec.Derived, FamilySymmetric)
	if err != nil {
		return nil, err
	}
	kdf, ok := kdfTable[spec.Transformation]
	if !ok {
		return nil, newCryptoError("derive key", fmt.Errorf("no kdf for %s", spec.Transformation))
	}

	raw := kdf(e.settings, passphrase, salt, derived.KeyBytes())
	return newDerivedKey(derived.ID, raw, salt), nil
}

func (e *CryptoEngine) DeriveMasterKey(algorithm AlgorithmID, secret []byte) (*SecretKey, error) {
	defer memguard.WipeBytes(secret)

	spec, err := e.catalog.Require(algorithm, FamilySymmetric)
	if err != nil {
		return nil, err
	}
	if len(secret) == 0 {
		return nil, newCryptoError("derive master key", errors.New("empty secret"))
	}

	raw := make([]byte, spec.KeyBytes())
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(masterKeyInfo)), raw); err != nil {
		memguard.WipeBytes(raw)
		return nil, newCryptoError("derive master key", err)
	}
	return NewSecretKey(algorithm, raw), nil
}

func (e *CryptoEngine) Sign(key *PrivateKey, algorithm AlgorithmID, data []byte) ([]byte, error) {
	spec, err := e.catalog.Require(algorithm, FamilySignature)
	if err != nil {
		return nil, err
	}

	hasher := spec.Hash.New()
	hasher.Write(data)
	signature, err := rsa.SignPKCS1v15(rand.Reader, key.rsaKey(), spec.Hash, hasher.Sum(nil))
	if err != nil {
		return nil, newCryptoError("sign", err)
	}
	return signature, nil
}

func (e *CryptoEngine) Verify(key *PublicKey, algorithm AlgorithmID, data, signature []byte) bool {
	spec, err := e.catalog.Require(algorithm, FamilySignature)
	if err != nil {
		return false
	}

	hasher := spec.Hash.New()
	hasher.Write(data)
	return rsa.VerifyPKCS1v15(key.rsaKey(), spec.Hash, hasher.Sum(nil), signature) == nil
}

func (e *CryptoEngine) Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
