package circles

import (
	"context"
	"testing"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/db"
	"github.com/HaugrNet/eds-sub006/server/core/encryption"
	"github.com/HaugrNet/eds-sub006/server/core/masterkey"
	"github.com/HaugrNet/eds-sub006/server/core/members"
	"github.com/HaugrNet/eds-sub006/server/core/trust"
)

type recordingNotifier struct {
	rotations []int
}

func (n *recordingNotifier) NotifyMasterKeyRotated(account string) error { return nil }

func (n *recordingNotifier) NotifyCircleKeyRotated(circleID, circleName string, generation int) error {
	n.rotations = append(n.rotations, generation)
	return nil
}

type circleEnv struct {
	engine     *encryption.CryptoEngine
	memberRepo *members.SQLiteMemberRepository
	repo       *SQLiteCircleRepository
	vault      *members.Vault
	members    members.MemberService
	service    *circleService
	notifier   *recordingNotifier
}

func setupCircleTest(t *testing.T, settings CircleSettings) (*circleEnv, func()) {
	t.Helper()

	conn, err := db.NewInMemoryDB()
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	memberRepo, err := members.NewSQLiteMemberRepository(conn)
	if err != nil {
		t.Fatalf("Failed to create member repository: %v", err)
	}
	repo, err := NewSQLiteCircleRepository(conn)
	if err != nil {
		t.Fatalf("Failed to create circle repository: %v", err)
	}

	catalog, err := encryption.NewCatalog(encryption.DefaultAlgorithms())
	if err != nil {
		t.Fatalf("Failed to create catalog: %v", err)
	}
	engine := encryption.NewCryptoEngine(catalog, encryption.EngineSettings{PBKDF2Iterations: 1000})
	masterKey, err := engine.DeriveMasterKey(encryption.AESGCM256, []byte("test-secret"))
	if err != nil {
		t.Fatalf("DeriveMasterKey() failed: %v", err)
	}
	manager := masterkey.NewManager(engine, masterKey, masterkey.ProvenanceDefault)

	vault := members.NewVault(engine, manager)
	authenticator := members.NewAuthenticator(nil, memberRepo, vault, nil, nil)
	notifier := &recordingNotifier{}
	service := NewCircleService(nil, repo, memberRepo, authenticator, vault, engine, notifier, settings)
	memberService := members.NewMemberService(nil, memberRepo, vault, engine, authenticator, service, members.MemberSettings{
		AdminAccountName: "admin",
		SessionLifetime:  time.Hour,
	})

	env := &circleEnv{
		engine:     engine,
		memberRepo: memberRepo,
		repo:       repo,
		vault:      vault,
		members:    memberService,
		service:    service,
		notifier:   notifier,
	}
	return env, func() { conn.Close() }
}

// addMember stores a member directly and returns it with a caller for it
func (e *circleEnv) addMember(t *testing.T, name string, role members.Role) (*members.Member, members.Caller) {
	t.Helper()
	caller := members.Caller{AccountName: name, Credential: []byte(name + "-pass")}

	now := time.Now().UTC()
	member := &members.Member{ID: name + "-id", AccountName: name, Role: role, CreatedAt: now, UpdatedAt: now}
	if err := e.vault.NewKeys(member, caller.Credential); err != nil {
		t.Fatalf("NewKeys() failed: %v", err)
	}
	if err := e.memberRepo.Create(context.Background(), member); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	return member, caller
}

// circleKey returns a copy of the circle key the caller unwraps for a generation
func (e *circleEnv) circleKey(t *testing.T, caller members.Caller, circleID, generationID string) ([]byte, error) {
	t.Helper()
	ctx := context.Background()

	access, err := e.service.Authorize(ctx, caller, circleID, trust.ReadData)
	if err != nil {
		return nil, err
	}
	key, _, err := e.service.UnwrapCircleKey(ctx, access, generationID)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()
	return append([]byte(nil), key.Bytes()...), nil
}
