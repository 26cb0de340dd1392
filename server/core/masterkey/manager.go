package masterkey

import (
	"sync"

	"github.com/HaugrNet/eds-sub006/server/core/encryption"
	"github.com/HaugrNet/eds-sub006/server/core/members"
	"github.com/awnumar/memguard"
)

// Manager holds the process wide master key. The key lives in a memguard enclave and
// never leaves the manager: callers seal and open member salts through it.
//
// Readers hold the read lock for the whole seal/open call. Replacing the key takes the
// write lock and swaps the enclave pointer, so no reader ever sees a partial key.
type Manager struct {
	mu         sync.RWMutex
	engine     encryption.Engine
	algorithm  encryption.AlgorithmID
	enclave    *memguard.Enclave
	provenance Provenance
}

// NewManager creates a manager holding initial. initial is consumed.
func NewManager(engine encryption.Engine, initial *encryption.SecretKey, provenance Provenance) *Manager {
	return &Manager{
		engine:     engine,
		algorithm:  initial.Algorithm(),
		enclave:    initial.Seal(),
		provenance: provenance,
	}
}

// Algorithm is the symmetric algorithm of the master key
func (m *Manager) Algorithm() encryption.AlgorithmID {
	return m.algorithm
}

// Provenance tells where the current key came from
func (m *Manager) Provenance() Provenance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.provenance
}

func (m *Manager) SealSalt(salt []byte) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, err := encryption.OpenSecretKey(m.algorithm, m.enclave)
	if err != nil {
		return "", err
	}
	defer key.Destroy()

	return KeyEscrow(m.engine, key).SealSalt(salt)
}

func (m *Manager) OpenSalt(escrowed string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, err := encryption.OpenSecretKey(m.algorithm, m.enclave)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	return KeyEscrow(m.engine, key).OpenSalt(escrowed)
}

// WithEscrow runs fn with an escrow for the current key while holding the read lock, so the
// key cannot be replaced before fn has persisted what it sealed. fn must not call back into m.
func (m *Manager) WithEscrow(fn func(escrow members.SaltEscrow) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, err := encryption.OpenSecretKey(m.algorithm, m.enclave)
	if err != nil {
		return err
	}
	defer key.Destroy()

	return fn(KeyEscrow(m.engine, key))
}

// Adopt replaces the master key with candidate. candidate is consumed.
func (m *Manager) Adopt(candidate *encryption.SecretKey, provenance Provenance) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enclave = candidate.Seal()
	m.provenance = provenance
}

// Rotate runs fn with escrows for the current key and candidate while holding the write
// lock, and adopts candidate only when fn succeeds. candidate is consumed on success.
func (m *Manager) Rotate(candidate *encryption.SecretKey, provenance Provenance, fn func(current, next members.SaltEscrow) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := encryption.OpenSecretKey(m.algorithm, m.enclave)
	if err != nil {
		return err
	}
	defer current.Destroy()

	if err := fn(KeyEscrow(m.engine, current), KeyEscrow(m.engine, candidate)); err != nil {
		return err
	}

	m.enclave = candidate.Seal()
	m.provenance = provenance
	return nil
}

type keyEscrow struct {
	engine encryption.Engine
	key    *encryption.SecretKey
}

// KeyEscrow seals salts with one specific key. It does not take ownership of key.
func KeyEscrow(engine encryption.Engine, key *encryption.SecretKey) members.SaltEscrow {
	return &keyEscrow{engine: engine, key: key}
}

func (e *keyEscrow) SealSalt(salt []byte) (string, error) {
	encrypted, err := e.engine.Encrypt(e.key, salt)
	if err != nil {
		return "", err
	}
	return encryption.ArmorData(e.key.Algorithm(), encrypted), nil
}

func (e *keyEscrow) OpenSalt(escrowed string) ([]byte, error) {
	_, encrypted, err := encryption.DearmorData(escrowed)
	if err != nil {
		return nil, err
	}
	return e.engine.Decrypt(e.key, encrypted)
}
