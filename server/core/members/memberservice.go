package members

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/db"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/failures"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/logging"
	"github.com/HaugrNet/eds-sub006/server/core/encryption"
	"github.com/HaugrNet/eds-sub006/server/core/trust"
	"github.com/google/uuid"
)

const maxAccountNameLength = 75

type CreateMemberRequest struct {
	AccountName string
	Role        Role
	Credential  []byte
}

// EnvelopeRewrapper re-wraps the circle key envelopes held by a member whose key pair changes
type EnvelopeRewrapper interface {
	// PrepareRewrap unwraps every envelope of the member with current and wraps it for next.
	// The returned function persists the new envelopes inside the caller's transaction.
	PrepareRewrap(ctx context.Context, memberID string, current *encryption.PrivateKey, next *encryption.PublicKey) (func(ctx context.Context, tx *sql.Tx) error, error)
}

type MemberSettings struct {
	AdminAccountName string
	SessionLifetime  time.Duration
}

type MemberService interface {
	// CreateMember creates a new member with a fresh key pair sealed by the given credential
	CreateMember(ctx context.Context, caller Caller, req CreateMemberRequest) (*Member, error)
	// GetMember retrieves a member by its ID
	GetMember(ctx context.Context, caller Caller, id string) (*Member, error)
	// ListMembers retrieves all members
	ListMembers(ctx context.Context, caller Caller) ([]*Member, error)
	// DeleteMember deletes a member and, with it, all of its trustee records
	DeleteMember(ctx context.Context, caller Caller, id string) error
	// ChangeCredential re-seals the caller's private key under a new credential
	ChangeCredential(ctx context.Context, caller Caller, newCredential []byte) error
	// RotateKeyPair replaces the caller's key pair and re-wraps the caller's envelopes
	RotateKeyPair(ctx context.Context, caller Caller) error
	// Login opens a session and returns its token
	Login(ctx context.Context, caller Caller) (token string, expires time.Time, err error)
	// ResolveSession turns a session token back into the caller it was issued to
	ResolveSession(ctx context.Context, token string) (Caller, error)
	// Logout drops the caller's session
	Logout(ctx context.Context, caller Caller) error
}

type memberService struct {
	logger        logging.Logger
	repo          MemberRepository
	vault         *Vault
	engine        encryption.Engine
	authenticator Authenticator
	rewrapper     EnvelopeRewrapper
	settings      MemberSettings
	nowFunc       func() time.Time
}

func NewMemberService(logger logging.Logger, repo MemberRepository, vault *Vault, engine encryption.Engine, authenticator Authenticator, rewrapper EnvelopeRewrapper, settings MemberSettings) *memberService {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &memberService{
		logger:        logger,
		repo:          repo,
		vault:         vault,
		engine:        engine,
		authenticator: authenticator,
		rewrapper:     rewrapper,
		settings:      settings,
		nowFunc:       time.Now,
	}
}

func (s *memberService) authorize(ctx context.Context, caller Caller, permission trust.Permission) (*Member, error) {
	member, err := s.authenticator.Authenticate(ctx, caller)
	if err != nil {
		return nil, err
	}
	if err := trust.Check(member.AccountName, member.Role.TrustLevel(), permission); err != nil {
		s.logger.Warn("Member not authorized", "account", member.AccountName, "permission", permission)
		return nil, err
	}
	return member, nil
}

func (s *memberService) validateNewMember(req CreateMemberRequest) (string, error) {
	name := strings.TrimSpace(req.AccountName)

	switch {
	case name == "":
		return "", failures.NewValidationError("account name cannot be empty")
	case len(name) > maxAccountNameLength:
		return "", failures.NewValidationError("account name is too long")
	case strings.EqualFold(name, s.settings.AdminAccountName):
		return "", failures.NewIllegalActionError("the administrator account is created by the first master key unlock")
	case req.Role != RoleAdmin && req.Role != RoleStandard:
		return "", failures.NewValidationError("unknown role: " + string(req.Role))
	case len(req.Credential) == 0:
		return "", failures.NewValidationError("credential cannot be empty")
	}

	return name, nil
}

func (s *memberService) CreateMember(ctx context.Context, caller Caller, req CreateMemberRequest) (*Member, error) {
	if _, err := s.authorize(ctx, caller, trust.CreateMember); err != nil {
		return nil, err
	}

	name, err := s.validateNewMember(req)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Creating member", "account", name)

	existing, err := s.repo.GetByAccountName(ctx, name)
	if err != nil {
		s.logger.Error("Failed to check for existing member", "error", err)
		return nil, err
	}
	if existing != nil {
		return nil, failures.NewIllegalActionError("account name already in use")
	}

	now := s.nowFunc().UTC()
	member := &Member{
		ID:          uuid.New().String(),
		AccountName: name,
		Role:        req.Role,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// the master key must not rotate between sealing the salt and storing the member
	err = s.vault.WithEscrow(func(escrow SaltEscrow) error {
		if err := s.vault.NewKeysWith(escrow, member, req.Credential); err != nil {
			s.logger.Error("Failed to generate member keys", "error", err)
			return err
		}

		if err := s.repo.Create(ctx, member); err != nil {
			if db.IsUniqueViolation(err) {
				return failures.NewIllegalActionError("account name already in use")
			}
			s.logger.Error("Failed to save member to repository", "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Successfully created member", "id", member.ID, "account", member.AccountName)
	return member, nil
}

func (s *memberService) GetMember(ctx context.Context, caller Caller, id string) (*Member, error) {
	if _, err := s.authorize(ctx, caller, trust.ListMembers); err != nil {
		return nil, err
	}

	member, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to retrieve member", "error", err)
		return nil, err
	}
	if member == nil {
		return nil, failures.NewIdentificationError("member", id)
	}
	return member, nil
}

func (s *memberService) ListMembers(ctx context.Context, caller Caller) ([]*Member, error) {
	if _, err := s.authorize(ctx, caller, trust.ListMembers); err != nil {
		return nil, err
	}

	members, err := s.repo.GetAll(ctx)
	if err != nil {
		s.logger.Error("Failed to retrieve members", "error", err)
		return nil, err
	}
	return members, nil
}

func (s *memberService) DeleteMember(ctx context.Context, caller Caller, id string) error {
	if _, err := s.authorize(ctx, caller, trust.DeleteMember); err != nil {
		return err
	}

	member, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to retrieve member", "error", err)
		return err
	}
	if member == nil {
		return failures.NewIdentificationError("member", id)
	}
	if member.AccountName == s.settings.AdminAccountName {
		return failures.NewIllegalActionError("the administrator account cannot be deleted")
	}

	s.logger.Info("Deleting member", "id", id, "account", member.AccountName)
	if err := s.repo.Delete(ctx, id); err != nil {
		s.logger.Error("Failed to delete member", "error", err)
		return err
	}
	return nil
}

func (s *memberService) ChangeCredential(ctx context.Context, caller Caller, newCredential []byte) error {
	member, err := s.authorize(ctx, caller, trust.UpdateSelf)
	if err != nil {
		return err
	}
	if len(newCredential) == 0 {
		return failures.NewValidationError("credential cannot be empty")
	}

	err = s.vault.WithEscrow(func(escrow SaltEscrow) error {
		if err := s.vault.RotateCredentialWith(escrow, member, caller.Credential, newCredential); err != nil {
			s.logger.Error("Failed to rotate member credential", "error", err, "account", member.AccountName)
			return err
		}
		// the session blob holds the old credential
		member.ClearSession()
		member.UpdatedAt = s.nowFunc().UTC()

		if err := s.repo.Update(ctx, member); err != nil {
			s.logger.Error("Failed to save member credential", "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Member credential changed", "account", member.AccountName)
	return nil
}

func (s *memberService) RotateKeyPair(ctx context.Context, caller Caller) error {
	member, err := s.authorize(ctx, caller, trust.UpdateSelf)
	if err != nil {
		return err
	}

	s.logger.Info("Rotating member key pair", "account", member.AccountName)

	return s.vault.WithEscrow(func(escrow SaltEscrow) error {
		current, err := s.vault.UnlockWith(escrow, member, caller.Credential)
		if err != nil {
			return err
		}
		defer current.Destroy()

		updated := *member
		if err := s.vault.NewKeysWith(escrow, &updated, caller.Credential); err != nil {
			return err
		}
		next, err := encryption.DearmorPublicKey(s.engine, updated.PublicKey)
		if err != nil {
			return err
		}
		defer next.Destroy()

		persist := func(ctx context.Context, tx *sql.Tx) error { return nil }
		if s.rewrapper != nil {
			if persist, err = s.rewrapper.PrepareRewrap(ctx, member.ID, current.Private(), next); err != nil {
				s.logger.Error("Failed to re-wrap member envelopes", "error", err, "account", member.AccountName)
				return err
			}
		}

		updated.UpdatedAt = s.nowFunc().UTC()
		if err := s.repo.UpdateWith(ctx, &updated, persist); err != nil {
			s.logger.Error("Failed to save rotated key pair", "error", err, "account", member.AccountName)
			return err
		}

		s.logger.Info("Member key pair rotated", "account", member.AccountName)
		return nil
	})
}
