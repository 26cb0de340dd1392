package data

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/db"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/failures"
	"github.com/HaugrNet/eds-sub006/server/core/circles"
	"github.com/HaugrNet/eds-sub006/server/core/encryption"
	"github.com/HaugrNet/eds-sub006/server/core/masterkey"
	"github.com/HaugrNet/eds-sub006/server/core/members"
	"github.com/HaugrNet/eds-sub006/server/core/trust"
)

type dataEnv struct {
	repo     *SQLiteDataRepository
	service  *dataService
	circles  circles.CircleService
	circleID string
	writer   members.Caller
	reader   members.Caller
}

func setupDataTest(t *testing.T) (*dataEnv, func()) {
	t.Helper()
	ctx := context.Background()

	conn, err := db.NewInMemoryDB()
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	memberRepo, err := members.NewSQLiteMemberRepository(conn)
	if err != nil {
		t.Fatalf("Failed to create member repository: %v", err)
	}
	circleRepo, err := circles.NewSQLiteCircleRepository(conn)
	if err != nil {
		t.Fatalf("Failed to create circle repository: %v", err)
	}
	repo, err := NewSQLiteDataRepository(conn)
	if err != nil {
		t.Fatalf("Failed to create data repository: %v", err)
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
	vault := members.NewVault(engine, masterkey.NewManager(engine, masterKey, masterkey.ProvenanceDefault))
	authenticator := members.NewAuthenticator(nil, memberRepo, vault, nil, nil)
	circleService := circles.NewCircleService(nil, circleRepo, memberRepo, authenticator, vault, engine, nil, circles.CircleSettings{GracePeriod: time.Hour})

	addMember := func(name string) (*members.Member, members.Caller) {
		caller := members.Caller{AccountName: name, Credential: []byte(name + "-pass")}
		now := time.Now().UTC()
		member := &members.Member{ID: name + "-id", AccountName: name, Role: members.RoleStandard, CreatedAt: now, UpdatedAt: now}
		if err := vault.NewKeys(member, caller.Credential); err != nil {
			t.Fatalf("NewKeys() failed: %v", err)
		}
		if err := memberRepo.Create(ctx, member); err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
		return member, caller
	}
	_, writer := addMember("writer")
	readerMember, reader := addMember("reader")

	circle, err := circleService.CreateCircle(ctx, writer, "documents", "")
	if err != nil {
		t.Fatalf("CreateCircle() failed: %v", err)
	}
	if _, err := circleService.AddTrustee(ctx, writer, circle.ID, readerMember.ID, trust.Read); err != nil {
		t.Fatalf("AddTrustee() failed: %v", err)
	}

	env := &dataEnv{
		repo:     repo,
		service:  NewDataService(nil, repo, circleService, engine),
		circles:  circleService,
		circleID: circle.ID,
		writer:   writer,
		reader:   reader,
	}
	return env, func() { conn.Close() }
}

func TestDataService_StoreAndRead(t *testing.T) {
	env, cleanup := setupDataTest(t)
	defer cleanup()

	ctx := context.Background()
	payload := []byte("quarterly numbers")

	info, err := env.service.Store(ctx, env.writer, env.circleID, "report.txt", payload)
	if err != nil {
		t.Fatalf("Store() failed: %v", err)
	}
	if info.Size != len(payload) || info.Checksum == "" {
		t.Errorf("Unexpected info %+v", info)
	}

	stored, _ := env.repo.GetByID(ctx, info.ID)
	if strings.Contains(stored.Payload, "quarterly") {
		t.Error("Payload must be stored encrypted")
	}

	read, err := env.service.Read(ctx, env.reader, env.circleID, info.ID)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if !bytes.Equal(read.Payload, payload) {
		t.Errorf("Read() = %q, want %q", read.Payload, payload)
	}

	if _, err := env.service.Store(ctx, env.reader, env.circleID, "other.txt", payload); !failures.IsAuthorizationError(err) {
		t.Errorf("READ trustee cannot store, got %v", err)
	}
	if _, err := env.service.Store(ctx, env.writer, env.circleID, "report.txt", payload); !failures.IsIllegalActionError(err) {
		t.Errorf("Duplicate name should fail with IllegalActionError, got %v", err)
	}
	if _, err := env.service.Store(ctx, env.writer, env.circleID, "empty.txt", nil); !failures.IsValidationError(err) {
		t.Errorf("Empty payload should fail with ValidationError, got %v", err)
	}
}

func TestDataService_ReadAfterRotation(t *testing.T) {
	env, cleanup := setupDataTest(t)
	defer cleanup()

	ctx := context.Background()
	old, err := env.service.Store(ctx, env.writer, env.circleID, "old.txt", []byte("before rotation"))
	if err != nil {
		t.Fatalf("Store() failed: %v", err)
	}

	if _, err := env.circles.RotateCircleKey(ctx, env.writer, env.circleID); err != nil {
		t.Fatalf("RotateCircleKey() failed: %v", err)
	}

	fresh, err := env.service.Store(ctx, env.writer, env.circleID, "new.txt", []byte("after rotation"))
	if err != nil {
		t.Fatalf("Store() failed: %v", err)
	}
	if fresh.GenerationID == old.GenerationID {
		t.Error("New data should use the new generation")
	}

	read, err := env.service.Read(ctx, env.reader, env.circleID, old.ID)
	if err != nil {
		t.Fatalf("Historical data should stay readable: %v", err)
	}
	if string(read.Payload) != "before rotation" {
		t.Errorf("Read() = %q", read.Payload)
	}
}

func TestDataService_List(t *testing.T) {
	env, cleanup := setupDataTest(t)
	defer cleanup()

	ctx := context.Background()
	for _, name := range []string{"a_1", "a_2", "a_3", "b_1", "a%x"} {
		if _, err := env.service.Store(ctx, env.writer, env.circleID, name, []byte(name)); err != nil {
			t.Fatalf("Store(%s) failed: %v", name, err)
		}
	}

	infos, total, err := env.service.List(ctx, env.reader, DataQuery{CircleID: env.circleID, Name: "a_", Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if total != 3 {
		t.Errorf("Total = %d, want 3", total)
	}
	if len(infos) != 1 || infos[0].Name != "a_3" {
		t.Errorf("Unexpected second page %+v", infos)
	}

	_, total, _ = env.service.List(ctx, env.reader, DataQuery{CircleID: env.circleID})
	if total != 5 {
		t.Errorf("Total = %d, want 5", total)
	}

	if _, _, err := env.service.List(ctx, env.writer, DataQuery{CircleID: "missing"}); !failures.IsIdentificationError(err) {
		t.Errorf("Unknown circle should fail with IdentificationError, got %v", err)
	}
}

func TestDataService_Delete(t *testing.T) {
	env, cleanup := setupDataTest(t)
	defer cleanup()

	ctx := context.Background()
	info, _ := env.service.Store(ctx, env.writer, env.circleID, "doomed.txt", []byte("bye"))

	if err := env.service.Delete(ctx, env.reader, env.circleID, info.ID); !failures.IsAuthorizationError(err) {
		t.Errorf("READ trustee cannot delete, got %v", err)
	}
	if err := env.service.Delete(ctx, env.writer, env.circleID, info.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := env.service.Read(ctx, env.writer, env.circleID, info.ID); !failures.IsIdentificationError(err) {
		t.Errorf("Deleted data should fail with IdentificationError, got %v", err)
	}
}

func TestDataService_DeletedWithCircle(t *testing.T) {
	env, cleanup := setupDataTest(t)
	defer cleanup()

	ctx := context.Background()
	info, _ := env.service.Store(ctx, env.writer, env.circleID, "inside.txt", []byte("content"))

	if err := env.circles.DeleteCircle(ctx, env.writer, env.circleID); err != nil {
		t.Fatalf("DeleteCircle() failed: %v", err)
	}
	if object, _ := env.repo.GetByID(ctx, info.ID); object != nil {
		t.Error("Data should be deleted with its circle")
	}
}
