package encryption

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"
)

// Armored strings have the form <ALGORITHM_ID>:<KIND>:<base64>.

func armorString(algorithm AlgorithmID, kind string, raw []byte) string {
	return string(algorithm) + ":" + kind + ":" + base64.StdEncoding.EncodeToString(raw)
}

func splitArmor(armored string) (AlgorithmID, string, []byte, error) {
	parts := strings.SplitN(armored, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", nil, newCryptoError("dearmor", errors.New("malformed armor"))
	}
	raw, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", "", nil, newCryptoError("dearmor", err)
	}
	return AlgorithmID(parts[0]), parts[1], raw, nil
}

// ArmorData armors ciphertext, a signature or any other opaque payload produced under algorithm
func ArmorData(algorithm AlgorithmID, data []byte) string {
	return armorString(algorithm, kindData, data)
}

// DearmorData decodes an armored payload and returns the algorithm it was tagged with
func DearmorData(armored string) (AlgorithmID, []byte, error) {
	algorithm, kind, raw, err := splitArmor(armored)
	if err != nil {
		return "", nil, err
	}
	if kind != kindData {
		return "", nil, newCryptoError("dearmor", fmt.Errorf("expected %s, got %s", kindData, kind))
	}
	return algorithm, raw, nil
}

// MarshalPrivateKey encodes a private key as PKCS#8 DER. The caller must wipe the result.
func MarshalPrivateKey(key *PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key.rsaKey())
	if err != nil {
		return nil, newCryptoError("marshal private key", err)
	}
	return der, nil
}

// ParsePrivateKey decodes PKCS#8 DER. der is wiped.
func ParsePrivateKey(algorithm AlgorithmID, der []byte) (*PrivateKey, error) {
	defer memguard.WipeBytes(der)

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, newCryptoError("parse private key", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, newCryptoError("parse private key", errors.New("not an RSA key"))
	}
	return NewPrivateKey(algorithm, key), nil
}

// MarshalPublicKey encodes a public key as PKIX DER
func MarshalPublicKey(key *PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key.rsaKey())
	if err != nil {
		return nil, newCryptoError("marshal public key", err)
	}
	return der, nil
}

// ParsePublicKey decodes PKIX DER
func ParsePublicKey(algorithm AlgorithmID, der []byte) (*PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, newCryptoError("parse public key", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, newCryptoError("parse public key", errors.New("not an RSA key"))
	}
	return NewPublicKey(algorithm, key), nil
}

func (e *CryptoEngine) Armor(material KeyMaterial) (string, error) {
	if material.Destroyed() {
		panic("encryption: armor of destroyed key material")
	}

	switch m := material.(type) {
	case *SecretKey:
		return armorString(m.algorithm, kindSecret, m.Bytes()), nil
	case *PublicKey:
		der, err := MarshalPublicKey(m)
		if err != nil {
			return "", err
		}
		return armorString(m.algorithm, kindPublic, der), nil
	case *PrivateKey:
		der, err := MarshalPrivateKey(m)
		if err != nil {
			return "", err
		}
		defer memguard.WipeBytes(der)
		return armorString(m.algorithm, kindPrivate, der), nil
	default:
		return "", newCryptoError("armor", fmt.Errorf("cannot armor %s", material.kind()))
	}
}

func (e *CryptoEngine) Dearmor(armored string, algorithm AlgorithmID) (KeyMaterial, error) {
	tagged, kind, raw, err := splitArmor(armored)
	if err != nil {
		return nil, err
	}
	if tagged != algorithm {
		memguard.WipeBytes(raw)
		return nil, newCryptoError("dearmor", fmt.Errorf("expected %s, got %s", algorithm, tagged))
	}
	spec, err := e.catalog.Lookup(algorithm)
	if err != nil {
		memguard.WipeBytes(raw)
		return nil, err
	}

	switch {
	case kind == kindSecret && spec.Family == FamilySymmetric:
		if len(raw) != spec.KeyBytes() {
			memguard.WipeBytes(raw)
			return nil, newCryptoError("dearmor", errors.New("invalid key length"))
		}
		return NewSecretKey(algorithm, raw), nil
	case kind == kindPublic && spec.Family == FamilyAsymmetric:
		return ParsePublicKey(algorithm, raw)
	case kind == kindPrivate && spec.Family == FamilyAsymmetric:
		return ParsePrivateKey(algorithm, raw)
	default:
		memguard.WipeBytes(raw)
		return nil, newCryptoError("dearmor", fmt.Errorf("%s is not valid for %s", kind, algorithm))
	}
}

// ArmorAlgorithm reads the algorithm tag of an armored string without decoding it
func ArmorAlgorithm(armored string) (AlgorithmID, error) {
	i := strings.IndexByte(armored, ':')
	if i <= 0 {
		return "", newCryptoError("dearmor", errors.New("malformed armor"))
	}
	return AlgorithmID(armored[:i]), nil
}

// DearmorPublicKey decodes an armored public key using the algorithm it is tagged with
func DearmorPublicKey(engine Engine, armored string) (*PublicKey, error) {
	algorithm, err := ArmorAlgorithm(armored)
	if err != nil {
		return nil, err
	}
	material, err := engine.Dearmor(armored, algorithm)
	if err != nil {
		return nil, err
	}
	key, ok := material.(*PublicKey)
	if !ok {
		material.Destroy()
		return nil, newCryptoError("dearmor", errors.New("not a public key"))
	}
	return key, nil
}
