package encryption

import (
	"crypto/rsa"
	"math/big"

	"github.com/awnumar/memguard"
)

// KeyMaterial is one of *SecretKey, *PublicKey, *PrivateKey or *KeyPair.
//
// Every variant is destroyed at most once. Using a destroyed variant panics:
// it is a programming error, never a condition to recover from.
type KeyMaterial interface {
	Algorithm() AlgorithmID
	Destroy()
	Destroyed() bool

	kind() string
}

const (
	kindSecret  = "SECRET"
	kindPublic  = "PUBLIC"
	kindPrivate = "PRIVATE"
	kindData    = "DATA"
	kindPair    = "PAIR"
)

func mustBeAlive(destroyed bool, what string) {
	if destroyed {
		panic("encryption: use of destroyed " + what)
	}
}

// SecretKey is a symmetric key held in a locked, guarded buffer
type SecretKey struct {
	algorithm AlgorithmID
	buf       *memguard.LockedBuffer
	salt      []byte
	destroyed bool
}

// NewSecretKey moves raw into guarded memory. raw is wiped.
func NewSecretKey(algorithm AlgorithmID, raw []byte) *SecretKey {
	return &SecretKey{
		algorithm: algorithm,
		buf:       memguard.NewBufferFromBytes(raw),
	}
}

// newDerivedKey keeps a copy of the salt the key was derived with
func newDerivedKey(algorithm AlgorithmID, raw, salt []byte) *SecretKey {
	key := NewSecretKey(algorithm, raw)
	key.salt = append([]byte(nil), salt...)
	return key
}

func (k *SecretKey) Algorithm() AlgorithmID { return k.algorithm }
func (k *SecretKey) Destroyed() bool        { return k.destroyed }
func (k *SecretKey) kind() string           { return kindSecret }

// Bytes exposes the key bytes. The slice is only valid until Destroy.
func (k *SecretKey) Bytes() []byte {
	mustBeAlive(k.destroyed, "secret key")
	return k.buf.Bytes()
}

// Salt returns the salt a derived key was produced with, nil otherwise
func (k *SecretKey) Salt() []byte {
	mustBeAlive(k.destroyed, "secret key")
	return k.salt
}

// Seal moves the key into an encrypted enclave and destroys k
func (k *SecretKey) Seal() *memguard.Enclave {
	mustBeAlive(k.destroyed, "secret key")
	enclave := k.buf.Seal()
	k.buf = nil
	memguard.WipeBytes(k.salt)
	k.salt = nil
	k.destroyed = true
	return enclave
}

// OpenSecretKey decrypts an enclave produced by Seal. The enclave stays valid.
func OpenSecretKey(algorithm AlgorithmID, enclave *memguard.Enclave) (*SecretKey, error) {
	buf, err := enclave.Open()
	if err != nil {
		return nil, newCryptoError("open enclave", err)
	}
	return &SecretKey{algorithm: algorithm, buf: buf}, nil
}

func (k *SecretKey) Destroy() {
	if k.destroyed {
		return
	}
	k.buf.Destroy()
	memguard.WipeBytes(k.salt)
	k.salt = nil
	k.destroyed = true
}

// PublicKey is an RSA public key. It holds nothing secret but follows the same lifecycle.
type PublicKey struct {
	algorithm AlgorithmID
	key       *rsa.PublicKey
	destroyed bool
}

func NewPublicKey(algorithm AlgorithmID, key *rsa.PublicKey) *PublicKey {
	return &PublicKey{algorithm: algorithm, key: key}
}

func (k *PublicKey) Algorithm() AlgorithmID { return k.algorithm }
func (k *PublicKey) Destroyed() bool        { return k.destroyed }
func (k *PublicKey) kind() string           { return kindPublic }

func (k *PublicKey) rsaKey() *rsa.PublicKey {
	mustBeAlive(k.destroyed, "public key")
	return k.key
}

func (k *PublicKey) Destroy() {
	k.key = nil
	k.destroyed = true
}

// PrivateKey is an RSA private key. Destroy zeroes the big integers in place.
type PrivateKey struct {
	algorithm AlgorithmID
	key       *rsa.PrivateKey
	destroyed bool
}

func NewPrivateKey(algorithm AlgorithmID, key *rsa.PrivateKey) *PrivateKey {
	return &PrivateKey{algorithm: algorithm, key: key}
}

func (k *PrivateKey) Algorithm() AlgorithmID { return k.algorithm }
func (k *PrivateKey) Destroyed() bool        { return k.destroyed }
func (k *PrivateKey) kind() string           { return kindPrivate }

func (k *PrivateKey) rsaKey() *rsa.PrivateKey {
	mustBeAlive(k.destroyed, "private key")
	return k.key
}

// Public returns the matching public key
func (k *PrivateKey) Public() *PublicKey {
	mustBeAlive(k.destroyed, "private key")
	pub := k.key.PublicKey
	return NewPublicKey(k.algorithm, &rsa.PublicKey{N: new(big.Int).Set(pub.N), E: pub.E})
}

func (k *PrivateKey) Destroy() {
	if k.destroyed {
		return
	}
	zeroInt(k.key.D)
	for _, p := range k.key.Primes {
		zeroInt(p)
	}
	zeroInt(k.key.Precomputed.Dp)
	zeroInt(k.key.Precomputed.Dq)
	zeroInt(k.key.Precomputed.Qinv)
	for _, crt := range k.key.Precomputed.CRTValues {
		zeroInt(crt.Exp)
		zeroInt(crt.Coeff)
		zeroInt(crt.R)
	}
	// drops the internal copy the rsa package keeps, so a retained *rsa.PrivateKey cannot decrypt
	k.key.Precomputed = rsa.PrecomputedValues{}
	k.key = nil
	k.destroyed = true
}

func zeroInt(n *big.Int) {
	if n == nil {
		return
	}
	words := n.Bits()
	for i := range words {
		words[i] = 0
	}
	n.SetInt64(0)
}

// KeyPair couples a public and private key of the same algorithm
type KeyPair struct {
	algorithm AlgorithmID
	public    *PublicKey
	private   *PrivateKey
	destroyed bool
}

func NewKeyPair(public *PublicKey, private *PrivateKey) *KeyPair {
	return &KeyPair{algorithm: private.algorithm, public: public, private: private}
}

func (p *KeyPair) Algorithm() AlgorithmID { return p.algorithm }
func (p *KeyPair) Destroyed() bool        { return p.destroyed }
func (p *KeyPair) kind() string           { return kindPair }

func (p *KeyPair) Public() *PublicKey {
	mustBeAlive(p.destroyed, "key pair")
	return p.public
}

func (p *KeyPair) Private() *PrivateKey {
	mustBeAlive(p.destroyed, "key pair")
	return p.private
}

func (p *KeyPair) Destroy() {
	if p.destroyed {
		return
	}
	p.private.Destroy()
	p.public.Destroy()
	p.destroyed = true
}
