package signatures

import (
	"context"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/db"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/failures"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/logging"
	"github.com/HaugrNet/eds-sub006/server/core/encryption"
	"github.com/HaugrNet/eds-sub006/server/core/members"
	"github.com/HaugrNet/eds-sub006/server/core/trust"
	"github.com/google/uuid"
)

type SignResult struct {
	Signature string // Armored signature
	Existed   bool   // The same signature was recorded before
	Record    *SignatureRecord
}

type SignatureService interface {
	// Sign signs data with the caller's private key. Signing the same data again returns
	// the recorded signature instead of creating a second record.
	Sign(ctx context.Context, caller members.Caller, data []byte, expires *time.Time) (*SignResult, error)
	// Verify checks an armored signature against data and counts successful verifications
	Verify(ctx context.Context, armored string, data []byte) (bool, error)
	// ListSignatures lists the signatures made by the caller
	ListSignatures(ctx context.Context, caller members.Caller) ([]*SignatureRecord, error)
}

type signatureService struct {
	logger        logging.Logger
	repo          SignatureRepository
	authenticator members.Authenticator
	vault         *members.Vault
	engine        encryption.Engine
	nowFunc       func() time.Time
}

func NewSignatureService(logger logging.Logger, repo SignatureRepository, authenticator members.Authenticator, vault *members.Vault, engine encryption.Engine) *signatureService {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &signatureService{
		logger:        logger,
		repo:          repo,
		authenticator: authenticator,
		vault:         vault,
		engine:        engine,
		nowFunc:       time.Now,
	}
}

func (s *signatureService) authorize(ctx context.Context, caller members.Caller, permission trust.Permission) (*members.Member, error) {
	member, err := s.authenticator.Authenticate(ctx, caller)
	if err != nil {
		return nil, err
	}
	if err := trust.Check(member.AccountName, member.Role.TrustLevel(), permission); err != nil {
		return nil, err
	}
	return member, nil
}

func (s *signatureService) Sign(ctx context.Context, caller members.Caller, data []byte, expires *time.Time) (*SignResult, error) {
	member, err := s.authorize(ctx, caller, trust.SignDocument)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, failures.NewValidationError("nothing to sign")
	}
	if expires != nil && !expires.After(s.nowFunc()) {
		return nil, failures.NewValidationError("expiry must be in the future")
	}

	algorithm := s.engine.Catalog().Defaults().Signature
	var signature []byte
	err = s.vault.WithUnlocked(member, caller.Credential, func(pair *encryption.KeyPair) error {
		var err error
		signature, err = s.engine.Sign(pair.Private(), algorithm, data)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to sign document", "error", err, "account", member.AccountName)
		return nil, err
	}

	armored := encryption.ArmorData(algorithm, signature)
	checksum := s.engine.Checksum(signature)

	existing, err := s.repo.GetByChecksum(ctx, checksum)
	if err != nil {
		s.logger.Error("Failed to look up signature", "error", err)
		return nil, err
	}
	if existing != nil {
		s.logger.Info("Document already signed", "id", existing.ID, "account", member.AccountName)
		return &SignResult{Signature: armored, Existed: true, Record: existing}, nil
	}

	now := s.nowFunc().UTC()
	record := &SignatureRecord{
		ID:        uuid.New().String(),
		Checksum:  checksum,
		MemberID:  member.ID,
		PublicKey: member.PublicKey,
		Algorithm: string(algorithm),
		Expires:   expires,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		if db.IsUniqueViolation(err) {
			// signed concurrently with the same key
			if existing, err := s.repo.GetByChecksum(ctx, checksum); err == nil && existing != nil {
				return &SignResult{Signature: armored, Existed: true, Record: existing}, nil
			}
		}
		s.logger.Error("Failed to save signature", "error", err)
		return nil, err
	}

	s.logger.Info("Document signed", "id", record.ID, "account", member.AccountName)
	return &SignResult{Signature: armored, Record: record}, nil
}

func (s *signatureService) Verify(ctx context.Context, armored string, data []byte) (bool, error) {
	algorithm, signature, err := encryption.DearmorData(armored)
	if err != nil {
		return false, failures.NewValidationError("malformed signature")
	}

	checksum := s.engine.Checksum(signature)
	record, err := s.repo.GetByChecksum(ctx, checksum)
	if err != nil {
		s.logger.Error("Failed to look up signature", "error", err)
		return false, err
	}
	if record == nil {
		return false, failures.NewIdentificationError("signature", checksum)
	}

	now := s.nowFunc()
	if record.Expired(now) {
		return false, failures.NewVerificationError("the signature has expired")
	}
	if string(algorithm) != record.Algorithm {
		return false, failures.NewVerificationError("the signature algorithm does not match")
	}

	public, err := encryption.DearmorPublicKey(s.engine, record.PublicKey)
	if err != nil {
		s.logger.Error("Failed to decode signer public key", "error", err, "id", record.ID)
		return false, err
	}
	defer public.Destroy()

	if !s.engine.Verify(public, algorithm, data, signature) {
		s.logger.Info("Signature did not verify", "id", record.ID)
		return false, nil
	}

	if err := s.repo.IncrementVerifications(ctx, record.ID, now.UTC()); err != nil {
		s.logger.Error("Failed to count verification", "error", err, "id", record.ID)
		return false, err
	}
	return true, nil
}

func (s *signatureService) ListSignatures(ctx context.Context, caller members.Caller) ([]*SignatureRecord, error) {
	member, err := s.authorize(ctx, caller, trust.ListSignatures)
	if err != nil {
		return nil, err
	}

	records, err := s.repo.GetByMember(ctx, member.ID)
	if err != nil {
		s.logger.Error("Failed to retrieve signatures", "error", err)
		return nil, err
	}
	return records, nil
}
