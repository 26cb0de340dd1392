package masterkey

import (
	"errors"
	"sync"
	"testing"

	"github.com/HaugrNet/eds-sub006/server/core/encryption"
	"github.com/HaugrNet/eds-sub006/server/core/members"
)

func newTestEngine(t *testing.T) *encryption.CryptoEngine {
	t.Helper()
	catalog, err := encryption.NewCatalog(encryption.DefaultAlgorithms())
	if err != nil {
		t.Fatalf("Failed to create catalog: %v", err)
	}
	return encryption.NewCryptoEngine(catalog, encryption.EngineSettings{PBKDF2Iterations: 1000})
}

func deriveKey(t *testing.T, engine encryption.Engine, secret string) *encryption.SecretKey {
	t.Helper()
	key, err := engine.DeriveMasterKey(encryption.AESGCM256, []byte(secret))
	if err != nil {
		t.Fatalf("DeriveMasterKey() failed: %v", err)
	}
	return key
}

func TestManager_SealAndOpenSalt(t *testing.T) {
	engine := newTestEngine(t)
	manager := NewManager(engine, deriveKey(t, engine, "s0"), ProvenanceDefault)

	salt := []byte("0123456789abcdef")
	escrowed, err := manager.SealSalt(salt)
	if err != nil {
		t.Fatalf("SealSalt() failed: %v", err)
	}
	if got, err := encryption.ArmorAlgorithm(escrowed); err != nil || got != encryption.AESGCM256 {
		t.Errorf("Escrowed salt algorithm = %s, %v", got, err)
	}

	opened, err := manager.OpenSalt(escrowed)
	if err != nil {
		t.Fatalf("OpenSalt() failed: %v", err)
	}
	if string(opened) != string(salt) {
		t.Error("OpenSalt() returned a different salt")
	}

	// the same secret derives the same key
	other := deriveKey(t, engine, "s0")
	defer other.Destroy()
	if _, err := KeyEscrow(engine, other).OpenSalt(escrowed); err != nil {
		t.Errorf("A key derived from the same secret should open the salt: %v", err)
	}
}

func TestManager_Adopt(t *testing.T) {
	engine := newTestEngine(t)
	manager := NewManager(engine, deriveKey(t, engine, "s0"), ProvenanceDefault)

	escrowed, _ := manager.SealSalt([]byte("salt"))
	manager.Adopt(deriveKey(t, engine, "s1"), ProvenanceInline)

	if manager.Provenance() != ProvenanceInline {
		t.Errorf("Provenance() = %s", manager.Provenance())
	}
	if _, err := manager.OpenSalt(escrowed); err == nil {
		t.Error("Salt sealed under the old key should not open after Adopt")
	}
}

func TestManager_RotateKeepsKeyOnFailure(t *testing.T) {
	engine := newTestEngine(t)
	manager := NewManager(engine, deriveKey(t, engine, "s0"), ProvenanceDefault)
	escrowed, _ := manager.SealSalt([]byte("salt"))

	candidate := deriveKey(t, engine, "s1")
	defer candidate.Destroy()
	failure := errors.New("refused")
	err := manager.Rotate(candidate, ProvenanceInline, func(current, next members.SaltEscrow) error {
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("Rotate() error = %v", err)
	}
	if manager.Provenance() != ProvenanceDefault {
		t.Error("Failed rotation should keep the provenance")
	}
	if _, err := manager.OpenSalt(escrowed); err != nil {
		t.Errorf("Failed rotation should keep the key: %v", err)
	}
}

func TestManager_RotateMovesSalts(t *testing.T) {
	engine := newTestEngine(t)
	manager := NewManager(engine, deriveKey(t, engine, "s0"), ProvenanceDefault)
	escrowed, _ := manager.SealSalt([]byte("salt"))

	var resealed string
	err := manager.Rotate(deriveKey(t, engine, "s1"), ProvenanceURL, func(current, next members.SaltEscrow) error {
		salt, err := current.OpenSalt(escrowed)
		if err != nil {
			return err
		}
		resealed, err = next.SealSalt(salt)
		return err
	})
	if err != nil {
		t.Fatalf("Rotate() failed: %v", err)
	}

	opened, err := manager.OpenSalt(resealed)
	if err != nil || string(opened) != "salt" {
		t.Errorf("OpenSalt() after rotation = %q, %v", opened, err)
	}
	if manager.Provenance() != ProvenanceURL {
		t.Errorf("Provenance() = %s", manager.Provenance())
	}
}

func TestManager_ConcurrentReaders(t *testing.T) {
	engine := newTestEngine(t)
	manager := NewManager(engine, deriveKey(t, engine, "s0"), ProvenanceDefault)

	keys := make([]*encryption.SecretKey, 10)
	for i := range keys {
		keys[i] = deriveKey(t, engine, "s0")
	}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for _, key := range keys {
		wg.Add(2)
		go func() {
			defer wg.Done()
			escrowed, err := manager.SealSalt([]byte("salt"))
			if err == nil {
				_, err = manager.OpenSalt(escrowed)
			}
			if err != nil {
				errs <- err
			}
		}()
		go func(key *encryption.SecretKey) {
			defer wg.Done()
			manager.Adopt(key, ProvenanceInline)
		}(key)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent seal/open failed: %v", err)
	}
}
