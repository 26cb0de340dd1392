package signatures

import (
	"context"
	"testing"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/db"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/failures"
	"github.com/HaugrNet/eds-sub006/server/core/encryption"
	"github.com/HaugrNet/eds-sub006/server/core/masterkey"
	"github.com/HaugrNet/eds-sub006/server/core/members"
)

type signatureEnv struct {
	repo    *SQLiteSignatureRepository
	service *signatureService
	signer  *members.Member
	caller  members.Caller
}

func setupSignatureTest(t *testing.T) (*signatureEnv, func()) {
	t.Helper()

	conn, err := db.NewInMemoryDB()
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	memberRepo, err := members.NewSQLiteMemberRepository(conn)
	if err != nil {
		t.Fatalf("Failed to create member repository: %v", err)
	}
	repo, err := NewSQLiteSignatureRepository(conn)
	if err != nil {
		t.Fatalf("Failed to create signature repository: %v", err)
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

	caller := members.Caller{AccountName: "signer", Credential: []byte("signer-pass")}
	now := time.Now().UTC()
	signer := &members.Member{ID: "signer-id", AccountName: "signer", Role: members.RoleStandard, CreatedAt: now, UpdatedAt: now}
	if err := vault.NewKeys(signer, caller.Credential); err != nil {
		t.Fatalf("NewKeys() failed: %v", err)
	}
	if err := memberRepo.Create(context.Background(), signer); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	env := &signatureEnv{
		repo:    repo,
		service: NewSignatureService(nil, repo, authenticator, vault, engine),
		signer:  signer,
		caller:  caller,
	}
	return env, func() { conn.Close() }
}

func TestSignatureService_SignIsIdempotent(t *testing.T) {
	env, cleanup := setupSignatureTest(t)
	defer cleanup()

	ctx := context.Background()
	document := []byte("the contract")

	first, err := env.service.Sign(ctx, env.caller, document, nil)
	if err != nil {
		t.Fatalf("Sign() failed: %v", err)
	}
	if first.Existed {
		t.Error("First signature should be new")
	}
	if algorithm, _ := encryption.ArmorAlgorithm(first.Signature); algorithm != encryption.SHA512WithRSA {
		t.Errorf("Signature algorithm = %s", algorithm)
	}

	second, err := env.service.Sign(ctx, env.caller, document, nil)
	if err != nil {
		t.Fatalf("Second Sign() failed: %v", err)
	}
	if !second.Existed {
		t.Error("Signing the same document again should report the existing signature")
	}
	if second.Record.ID != first.Record.ID || second.Record.Checksum != first.Record.Checksum {
		t.Error("Signing the same document again must reuse the record")
	}

	records, err := env.service.ListSignatures(ctx, env.caller)
	if err != nil {
		t.Fatalf("ListSignatures() failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected 1 signature record, got %d", len(records))
	}
}

func TestSignatureService_Verify(t *testing.T) {
	env, cleanup := setupSignatureTest(t)
	defer cleanup()

	ctx := context.Background()
	document := []byte("the contract")
	signed, _ := env.service.Sign(ctx, env.caller, document, nil)

	verified, err := env.service.Verify(ctx, signed.Signature, document)
	if err != nil || !verified {
		t.Fatalf("Verify() = %v, %v", verified, err)
	}
	verified, err = env.service.Verify(ctx, signed.Signature, []byte("a forged contract"))
	if err != nil || verified {
		t.Errorf("Verify() of other data = %v, %v", verified, err)
	}

	record, _ := env.repo.GetByChecksum(ctx, signed.Record.Checksum)
	if record.Verifications != 1 {
		t.Errorf("Verifications = %d, want 1", record.Verifications)
	}

	unknown := encryption.ArmorData(encryption.SHA512WithRSA, []byte("not a known signature"))
	if _, err := env.service.Verify(ctx, unknown, document); !failures.IsIdentificationError(err) {
		t.Errorf("Unknown signature should fail with IdentificationError, got %v", err)
	}
	if _, err := env.service.Verify(ctx, "garbage", document); !failures.IsValidationError(err) {
		t.Errorf("Malformed signature should fail with ValidationError, got %v", err)
	}
}

func TestSignatureService_ExpiredSignature(t *testing.T) {
	env, cleanup := setupSignatureTest(t)
	defer cleanup()

	ctx := context.Background()
	document := []byte("short lived")
	expires := time.Now().Add(time.Hour)

	signed, err := env.service.Sign(ctx, env.caller, document, &expires)
	if err != nil {
		t.Fatalf("Sign() failed: %v", err)
	}

	env.service.nowFunc = func() time.Time { return expires.Add(time.Minute) }
	if _, err := env.service.Verify(ctx, signed.Signature, document); !failures.IsVerificationError(err) {
		t.Errorf("Expired signature should fail with VerificationError, got %v", err)
	}

	past := time.Now().Add(-time.Hour)
	env.service.nowFunc = time.Now
	if _, err := env.service.Sign(ctx, env.caller, []byte("other"), &past); !failures.IsValidationError(err) {
		t.Errorf("Expiry in the past should fail with ValidationError, got %v", err)
	}
}

func TestSignatureService_RequiresCredential(t *testing.T) {
	env, cleanup := setupSignatureTest(t)
	defer cleanup()

	wrong := members.Caller{AccountName: "signer", Credential: []byte("wrong")}
	if _, err := env.service.Sign(context.Background(), wrong, []byte("doc"), nil); !failures.IsAuthenticationError(err) {
		t.Errorf("Expected AuthenticationError, got %v", err)
	}
	if _, err := env.service.ListSignatures(context.Background(), wrong); !failures.IsAuthenticationError(err) {
		t.Errorf("Expected AuthenticationError, got %v", err)
	}
}
