package members

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/auth"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/db"
	"github.com/HaugrNet/eds-sub006/server/core/encryption"
	"github.com/google/uuid"
)

const testAdminName = "admin"

// testEscrow seals salts under a fixed key, standing in for the master key manager
type testEscrow struct {
	engine encryption.Engine
	key    *encryption.SecretKey
}

func newTestEscrow(t *testing.T, engine encryption.Engine) *testEscrow {
	t.Helper()
	key, err := engine.GenerateSecretKey(encryption.AESGCM256)
	if err != nil {
		t.Fatalf("Failed to generate escrow key: %v", err)
	}
	t.Cleanup(key.Destroy)
	return &testEscrow{engine: engine, key: key}
}

func (e *testEscrow) SealSalt(salt []byte) (string, error) {
	encrypted, err := e.engine.Encrypt(e.key, salt)
	if err != nil {
		return "", err
	}
	return encryption.ArmorData(e.key.Algorithm(), encrypted), nil
}

func (e *testEscrow) OpenSalt(escrowed string) ([]byte, error) {
	_, encrypted, err := encryption.DearmorData(escrowed)
	if err != nil {
		return nil, err
	}
	return e.engine.Decrypt(e.key, encrypted)
}

func newTestEngine(t *testing.T) *encryption.CryptoEngine {
	t.Helper()
	catalog, err := encryption.NewCatalog(encryption.DefaultAlgorithms())
	if err != nil {
		t.Fatalf("Failed to create catalog: %v", err)
	}
	return encryption.NewCryptoEngine(catalog, encryption.EngineSettings{PBKDF2Iterations: 1000})
}

type recordingRewrapper struct {
	calls     []string
	persisted int
}

func (r *recordingRewrapper) PrepareRewrap(ctx context.Context, memberID string, current *encryption.PrivateKey, next *encryption.PublicKey) (func(ctx context.Context, tx *sql.Tx) error, error) {
	r.calls = append(r.calls, memberID)
	return func(ctx context.Context, tx *sql.Tx) error {
		r.persisted++
		return nil
	}, nil
}

type testEnv struct {
	db        *sql.DB
	engine    *encryption.CryptoEngine
	escrow    *testEscrow
	repo      *SQLiteMemberRepository
	vault     *Vault
	auth      *memberAuthenticator
	service   *memberService
	rewrapper *recordingRewrapper
	admin     Caller
}

func setupMemberTest(t *testing.T) (*testEnv, func()) {
	t.Helper()

	conn, err := db.NewInMemoryDB()
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	repo, err := NewSQLiteMemberRepository(conn)
	if err != nil {
		t.Fatalf("Failed to create member repository: %v", err)
	}

	engine := newTestEngine(t)
	escrow := newTestEscrow(t, engine)
	vault := NewVault(engine, escrow)
	authenticator := NewAuthenticator(nil, repo, vault, auth.NewMemoryFailureTracker(auth.LockoutSettings{Threshold: 3, TimeWindow: time.Hour}), nil)
	rewrapper := &recordingRewrapper{}
	service := NewMemberService(nil, repo, vault, engine, authenticator, rewrapper, MemberSettings{
		AdminAccountName: testAdminName,
		SessionLifetime:  time.Hour,
	})

	env := &testEnv{
		db:        conn,
		engine:    engine,
		escrow:    escrow,
		repo:      repo,
		vault:     vault,
		auth:      authenticator,
		service:   service,
		rewrapper: rewrapper,
		admin:     Caller{AccountName: testAdminName, Credential: []byte("admin-pass")},
	}
	env.insertMember(t, testAdminName, RoleAdmin, env.admin.Credential)

	return env, func() { conn.Close() }
}

// insertMember stores a member directly, bypassing authorization
func (e *testEnv) insertMember(t *testing.T, name string, role Role, credential []byte) *Member {
	t.Helper()
	now := time.Now().UTC()
	member := &Member{ID: uuid.New().String(), AccountName: name, Role: role, CreatedAt: now, UpdatedAt: now}
	if err := e.vault.NewKeys(member, credential); err != nil {
		t.Fatalf("NewKeys() failed: %v", err)
	}
	if err := e.repo.Create(context.Background(), member); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	return member
}
