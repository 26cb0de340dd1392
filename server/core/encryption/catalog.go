package encryption

import (
	"crypto"
	"fmt"
	"sort"
)

// Family groups algorithms by the kind of key they operate on
type Family string

const (
	FamilySymmetric  Family = "SYMMETRIC"
	FamilyAsymmetric Family = "ASYMMETRIC"
	FamilySignature  Family = "SIGNATURE"
	FamilyPassword   Family = "PASSWORD"
)

// AlgorithmID is the externally configurable identifier of an algorithm
type AlgorithmID string

const (
	AESGCM128         AlgorithmID = "AES_GCM_128"
	AESGCM192         AlgorithmID = "AES_GCM_192"
	AESGCM256         AlgorithmID = "AES_GCM_256"
	XChaCha20Poly1305 AlgorithmID = "XCHACHA20_POLY1305"

	RSA2048 AlgorithmID = "RSA_2048"
	RSA3072 AlgorithmID = "RSA_3072"
	RSA4096 AlgorithmID = "RSA_4096"

	SHA256WithRSA AlgorithmID = "SHA256_WITH_RSA"
	SHA512WithRSA AlgorithmID = "SHA512_WITH_RSA"

	PBEGCM128       AlgorithmID = "PBE_GCM_128"
	PBEGCM192       AlgorithmID = "PBE_GCM_192"
	PBEGCM256       AlgorithmID = "PBE_GCM_256"
	PBEArgon2GCM256 AlgorithmID = "PBE_ARGON2_GCM_256"
)

// Transformation names select the primitive implementation in the engine tables
const (
	transformAESGCM    = "AES/GCM/NoPadding"
	transformXChaCha   = "XChaCha20-Poly1305"
	transformRSAOAEP   = "RSA/ECB/OAEPWithSHA-256AndMGF1Padding"
	transformSHA256RSA = "SHA256withRSA"
	transformSHA512RSA = "SHA512withRSA"
	transformPBKDF2    = "PBKDF2WithHmacSHA256"
	transformArgon2id  = "Argon2id"
)

// AlgorithmSpec describes one supported algorithm. Specs are immutable.
type AlgorithmSpec struct {
	ID             AlgorithmID
	Family         Family
	Transformation string
	KeyLength      int         // in bits; for SIGNATURE the digest length
	Derived        AlgorithmID // PASSWORD family only: the symmetric algorithm of the derived key
	Hash           crypto.Hash // SIGNATURE family only
}

// KeyBytes returns the key length in bytes
func (s AlgorithmSpec) KeyBytes() int {
	return s.KeyLength / 8
}

var algorithmTable = []AlgorithmSpec{
	{ID: AESGCM128, Family: FamilySymmetric, Transformation: transformAESGCM, KeyLength: 128},
	{ID: AESGCM192, Family: FamilySymmetric, Transformation: transformAESGCM, KeyLength: 192},
	{ID: AESGCM256, Family: FamilySymmetric, Transformation: transformAESGCM, KeyLength: 256},
	{ID: XChaCha20Poly1305, Family: FamilySymmetric, Transformation: transformXChaCha, KeyLength: 256},

	{ID: RSA2048, Family: FamilyAsymmetric, Transformation: transformRSAOAEP, KeyLength: 2048},
	{ID: RSA3072, Family: FamilyAsymmetric, Transformation: transformRSAOAEP, KeyLength: 3072},
	{ID: RSA4096, Family: FamilyAsymmetric, Transformation: transformRSAOAEP, KeyLength: 4096},

	{ID: SHA256WithRSA, Family: FamilySignature, Transformation: transformSHA256RSA, KeyLength: 256, Hash: crypto.SHA256},
	{ID: SHA512WithRSA, Family: FamilySignature, Transformation: transformSHA512RSA, KeyLength: 512, Hash: crypto.SHA512},

	{ID: PBEGCM128, Family: FamilyPassword, Transformation: transformPBKDF2, KeyLength: 128, Derived: AESGCM128},
	{ID: PBEGCM192, Family: FamilyPassword, Transformation: transformPBKDF2, KeyLength: 192, Derived: AESGCM192},
	{ID: PBEGCM256, Family: FamilyPassword, Transformation: transformPBKDF2, KeyLength: 256, Derived: AESGCM256},
	{ID: PBEArgon2GCM256, Family: FamilyPassword, Transformation: transformArgon2id, KeyLength: 256, Derived: AESGCM256},
}

// Defaults names the algorithm used for each family when new material is generated
type Defaults struct {
	Symmetric  AlgorithmID
	Asymmetric AlgorithmID
	Signature  AlgorithmID
	Password   AlgorithmID
}

// DefaultAlgorithms returns the stock algorithm selection
func DefaultAlgorithms() Defaults {
	return Defaults{
		Symmetric:  AESGCM256,
		Asymmetric: RSA2048,
		Signature:  SHA512WithRSA,
		Password:   PBEGCM256,
	}
}

// Catalog is the lookup table of supported algorithms plus the configured defaults.
// It is built once at startup and read-only afterwards.
type Catalog struct {
	specs    map[AlgorithmID]AlgorithmSpec
	defaults Defaults
}

// NewCatalog builds the catalog and checks that every default belongs to the right family
func NewCatalog(defaults Defaults) (*Catalog, error) {
	c := &Catalog{
		specs:    make(map[AlgorithmID]AlgorithmSpec, len(algorithmTable)),
		defaults: defaults,
	}
	for _, spec := range algorithmTable {
		c.specs[spec.ID] = spec
	}

	checks := []struct {
		id     AlgorithmID
		family Family
	}{
		{defaults.Symmetric, FamilySymmetric},
		{defaults.Asymmetric, FamilyAsymmetric},
		{defaults.Signature, FamilySignature},
		{defaults.Password, FamilyPassword},
	}
	for _, check := range checks {
		if _, err := c.Require(check.id, check.family); err != nil {
			return nil, fmt.Errorf("invalid default %s algorithm %q", check.family, check.id)
		}
	}

	return c, nil
}

// Lookup returns the spec for id
func (c *Catalog) Lookup(id AlgorithmID) (AlgorithmSpec, error) {
	spec, ok := c.specs[id]
	if !ok {
		return AlgorithmSpec{}, newCryptoError("lookup", fmt.Errorf("unknown algorithm %q", id))
	}
	return spec, nil
}

// Require returns the spec for id and fails unless it belongs to family
func (c *Catalog) Require(id AlgorithmID, family Family) (AlgorithmSpec, error) {
	spec, err := c.Lookup(id)
	if err != nil {
		return AlgorithmSpec{}, err
	}
	if spec.Family != family {
		return AlgorithmSpec{}, newCryptoError("lookup", fmt.Errorf("algorithm %q is not %s", id, family))
	}
	return spec, nil
}

// Defaults returns the configured default selection
func (c *Catalog) Defaults() Defaults {
	return c.defaults
}

// Family lists the ids of one family in stable order
func (c *Catalog) Family(family Family) []AlgorithmID {
	var ids []AlgorithmID
	for id, spec := range c.specs {
		if spec.Family == family {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
