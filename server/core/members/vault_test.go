package members

import (
	"strings"
	"testing"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/failures"
	"github.com/HaugrNet/eds-sub006/server/core/encryption"
)

func TestVault_NewKeysArmorsEverything(t *testing.T) {
	env, cleanup := setupMemberTest(t)
	defer cleanup()

	member := &Member{AccountName: "alice"}
	if err := env.vault.NewKeys(member, []byte("p1")); err != nil {
		t.Fatalf("NewKeys() failed: %v", err)
	}

	if !strings.HasPrefix(member.PublicKey, "RSA_2048:PUBLIC:") {
		t.Errorf("Unexpected public key armor: %.20s", member.PublicKey)
	}
	if !strings.HasPrefix(member.PrivateKey, "PBE_GCM_256:DATA:") {
		t.Errorf("Unexpected private key armor: %.20s", member.PrivateKey)
	}
	if !strings.HasPrefix(member.EscrowedSalt, "AES_GCM_256:DATA:") {
		t.Errorf("Unexpected escrowed salt armor: %.20s", member.EscrowedSalt)
	}
}

func TestVault_EscrowCascade(t *testing.T) {
	env, cleanup := setupMemberTest(t)
	defer cleanup()

	member := &Member{AccountName: "alice"}
	if err := env.vault.NewKeys(member, []byte("p1")); err != nil {
		t.Fatalf("NewKeys() failed: %v", err)
	}

	// Right master key and right credential
	pair, err := env.vault.Unlock(member, []byte("p1"))
	if err != nil {
		t.Fatalf("Unlock() failed: %v", err)
	}
	pair.Destroy()

	// Right master key, wrong credential
	if _, err := env.vault.Unlock(member, []byte("p2")); !failures.IsAuthenticationError(err) {
		t.Errorf("Expected AuthenticationError with wrong credential, got %v", err)
	}

	// Wrong master key, right credential
	otherEscrow := newTestEscrow(t, env.engine)
	if _, err := env.vault.UnlockWith(otherEscrow, member, []byte("p1")); !failures.IsAuthenticationError(err) {
		t.Errorf("Expected AuthenticationError with wrong master key, got %v", err)
	}
	if env.vault.CheckCredentials(otherEscrow, member, []byte("p1")) {
		t.Error("CheckCredentials() should fail with the wrong master key")
	}
	if !env.vault.CheckCredentials(env.escrow, member, []byte("p1")) {
		t.Error("CheckCredentials() should succeed with the right master key and credential")
	}
}

func TestVault_WithUnlockedDestroysPair(t *testing.T) {
	env, cleanup := setupMemberTest(t)
	defer cleanup()

	member := &Member{AccountName: "alice"}
	env.vault.NewKeys(member, []byte("p1"))

	var leaked *encryption.KeyPair
	err := env.vault.WithUnlocked(member, []byte("p1"), func(pair *encryption.KeyPair) error {
		leaked = pair
		return nil
	})
	if err != nil {
		t.Fatalf("WithUnlocked() failed: %v", err)
	}
	if !leaked.Destroyed() {
		t.Error("Key pair should be destroyed once the scope ends")
	}
}

func TestVault_RotateCredential(t *testing.T) {
	env, cleanup := setupMemberTest(t)
	defer cleanup()

	member := &Member{AccountName: "alice"}
	env.vault.NewKeys(member, []byte("old"))
	before := *member

	if err := env.vault.RotateCredential(member, []byte("wrong"), []byte("new")); !failures.IsAuthenticationError(err) {
		t.Fatalf("Expected AuthenticationError with wrong old credential, got %v", err)
	}
	if member.PrivateKey != before.PrivateKey || member.EscrowedSalt != before.EscrowedSalt {
		t.Fatal("A failed rotation must leave the member untouched")
	}

	if err := env.vault.RotateCredential(member, []byte("old"), []byte("new")); err != nil {
		t.Fatalf("RotateCredential() failed: %v", err)
	}
	if member.EscrowedSalt == before.EscrowedSalt || member.PrivateKey == before.PrivateKey {
		t.Error("Escrowed salt and private key should both be replaced")
	}
	if member.PublicKey != before.PublicKey {
		t.Error("The key pair itself should not change")
	}

	if env.vault.CheckCredentials(env.escrow, member, []byte("old")) {
		t.Error("Old credential should no longer unlock the member")
	}
	if !env.vault.CheckCredentials(env.escrow, member, []byte("new")) {
		t.Error("New credential should unlock the member")
	}
}
