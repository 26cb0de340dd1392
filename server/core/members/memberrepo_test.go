package members

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/db"
)

func setupTestMemberRepo(t *testing.T) (*SQLiteMemberRepository, func()) {
	testDB, err := db.NewInMemoryDB()
	if err != nil {
		t.Fatalf("Failed to create in-memory database: %v", err)
	}

	repo, err := NewSQLiteMemberRepository(testDB)
	if err != nil {
		testDB.Close()
		t.Fatalf("Failed to create repository: %v", err)
	}

	cleanup := func() {
		testDB.Close()
	}

	return repo, cleanup
}

func createTestMember(id, name string) *Member {
	now := time.Now().UTC()
	return &Member{
		ID:           id,
		AccountName:  name,
		Role:         RoleStandard,
		PublicKey:    "RSA_2048:PUBLIC:cHVi",
		PrivateKey:   "PBE_GCM_256:DATA:cHJpdg==",
		EscrowedSalt: "AES_GCM_256:DATA:c2FsdA==",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestSQLiteMemberRepository_CreateAndGet(t *testing.T) {
	repo, cleanup := setupTestMemberRepo(t)
	defer cleanup()

	ctx := context.Background()
	member := createTestMember("m1", "alice")

	if err := repo.Create(ctx, member); err != nil {
		t.Fatalf("Failed to create member: %v", err)
	}

	retrieved, err := repo.GetByID(ctx, "m1")
	if err != nil {
		t.Fatalf("Failed to retrieve member: %v", err)
	}
	if retrieved == nil {
		t.Fatal("Retrieved member is nil")
	}
	if retrieved.AccountName != "alice" || retrieved.Role != RoleStandard {
		t.Errorf("Unexpected member %+v", retrieved)
	}
	if retrieved.EscrowedSalt != member.EscrowedSalt || retrieved.PrivateKey != member.PrivateKey {
		t.Error("Key material was not stored verbatim")
	}
	if retrieved.SessionExpires != nil || retrieved.SessionChecksum != "" {
		t.Error("New member should not have a session")
	}
	if !retrieved.CreatedAt.Equal(member.CreatedAt) {
		t.Errorf("CreatedAt mismatch. Expected %v, got %v", member.CreatedAt, retrieved.CreatedAt)
	}

	byName, err := repo.GetByAccountName(ctx, "alice")
	if err != nil || byName == nil || byName.ID != "m1" {
		t.Errorf("GetByAccountName() = %v, %v", byName, err)
	}
}

func TestSQLiteMemberRepository_GetMissing(t *testing.T) {
	repo, cleanup := setupTestMemberRepo(t)
	defer cleanup()

	member, err := repo.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Expected no error for missing member, got %v", err)
	}
	if member != nil {
		t.Error("Expected nil for missing member")
	}
}

func TestSQLiteMemberRepository_UniqueAccountName(t *testing.T) {
	repo, cleanup := setupTestMemberRepo(t)
	defer cleanup()

	ctx := context.Background()
	repo.Create(ctx, createTestMember("m1", "alice"))

	err := repo.Create(ctx, createTestMember("m2", "alice"))
	if err == nil {
		t.Fatal("Expected duplicate account name to fail")
	}
	if !db.IsUniqueViolation(err) {
		t.Errorf("Expected a unique violation, got %v", err)
	}
}

func TestSQLiteMemberRepository_SessionRoundTrip(t *testing.T) {
	repo, cleanup := setupTestMemberRepo(t)
	defer cleanup()

	ctx := context.Background()
	member := createTestMember("m1", "alice")
	repo.Create(ctx, member)

	expires := time.Now().UTC().Add(time.Hour)
	member.SessionChecksum = "abc"
	member.SessionCrypto = "PBE_GCM_256:DATA:eA=="
	member.SessionExpires = &expires
	if err := repo.Update(ctx, member); err != nil {
		t.Fatalf("Failed to update member: %v", err)
	}

	retrieved, err := repo.GetBySessionChecksum(ctx, "abc")
	if err != nil || retrieved == nil {
		t.Fatalf("GetBySessionChecksum() = %v, %v", retrieved, err)
	}
	if retrieved.SessionExpires == nil || !retrieved.SessionExpires.Equal(expires) {
		t.Errorf("SessionExpires mismatch, got %v", retrieved.SessionExpires)
	}
	if !retrieved.HasSession(time.Now()) {
		t.Error("HasSession() should report the open session")
	}
	if retrieved.HasSession(expires.Add(time.Second)) {
		t.Error("HasSession() should be false after expiry")
	}
}

func TestSQLiteMemberRepository_CountAndDelete(t *testing.T) {
	repo, cleanup := setupTestMemberRepo(t)
	defer cleanup()

	ctx := context.Background()
	repo.Create(ctx, createTestMember("m1", "alice"))
	repo.Create(ctx, createTestMember("m2", "bob"))

	count, err := repo.Count(ctx)
	if err != nil || count != 2 {
		t.Fatalf("Count() = %d, %v", count, err)
	}

	all, _ := repo.GetAll(ctx)
	if len(all) != 2 || all[0].AccountName != "alice" {
		t.Errorf("GetAll() should list members by account name, got %d", len(all))
	}

	if err := repo.Delete(ctx, "m1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := repo.Delete(ctx, "m1"); err == nil {
		t.Error("Deleting a missing member should fail")
	}
	count, _ = repo.Count(ctx)
	if count != 1 {
		t.Errorf("Expected 1 member after delete, got %d", count)
	}
}

func TestSQLiteMemberRepository_UpdateWithRollsBack(t *testing.T) {
	repo, cleanup := setupTestMemberRepo(t)
	defer cleanup()

	ctx := context.Background()
	member := createTestMember("m1", "alice")
	repo.Create(ctx, member)

	changed := *member
	changed.PublicKey = "RSA_2048:PUBLIC:bmV3"
	err := repo.UpdateWith(ctx, &changed, func(ctx context.Context, tx *sql.Tx) error {
		return errors.New("envelope update failed")
	})
	if err == nil {
		t.Fatal("Expected UpdateWith() to fail")
	}

	retrieved, _ := repo.GetByID(ctx, "m1")
	if retrieved.PublicKey != member.PublicKey {
		t.Error("Member update should be rolled back when fn fails")
	}

	if err := repo.UpdateWith(ctx, &changed, func(ctx context.Context, tx *sql.Tx) error { return nil }); err != nil {
		t.Fatalf("UpdateWith() failed: %v", err)
	}
	retrieved, _ = repo.GetByID(ctx, "m1")
	if retrieved.PublicKey != changed.PublicKey {
		t.Error("Member update should be committed when fn succeeds")
	}
}
