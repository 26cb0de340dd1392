package masterkey

import (
	"context"
	"errors"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/failures"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/logging"
	"github.com/HaugrNet/eds-sub006/server/core/encryption"
	"github.com/HaugrNet/eds-sub006/server/core/members"
	"github.com/HaugrNet/eds-sub006/server/core/notifications"
	"github.com/google/uuid"
)

// UnlockResult tells whether an unlock confirmed the current key or rotated it
type UnlockResult string

const (
	ResultUnlocked UnlockResult = "unlocked"
	ResultRotated  UnlockResult = "rotated"
)

type UnlockRequest struct {
	Caller members.Caller
	Secret BootstrapSecret
}

type MasterKeyService interface {
	// Unlock validates a bootstrap secret against the administrator account and adopts it.
	// If only the current key matches, the request rotates the master key to the new secret.
	Unlock(ctx context.Context, req UnlockRequest) (UnlockResult, error)
}

var errNoKeyMatches = errors.New("no key matches")

type masterKeyService struct {
	logger        logging.Logger
	manager       *Manager
	bootstrapper  *Bootstrapper
	engine        encryption.Engine
	vault         *members.Vault
	repo          members.MemberRepository
	authenticator members.Authenticator
	notifier      notifications.SecurityNotifier
	adminName     string
	nowFunc       func() time.Time
}

func NewMasterKeyService(
	logger logging.Logger,
	manager *Manager,
	bootstrapper *Bootstrapper,
	engine encryption.Engine,
	vault *members.Vault,
	repo members.MemberRepository,
	authenticator members.Authenticator,
	notifier notifications.SecurityNotifier,
	adminName string,
) *masterKeyService {
	if logger == nil {
		logger = logging.NopLogger
	}
	if notifier == nil {
		notifier = notifications.NopSecurityNotifier
	}

	return &masterKeyService{
		logger:        logger,
		manager:       manager,
		bootstrapper:  bootstrapper,
		engine:        engine,
		vault:         vault,
		repo:          repo,
		authenticator: authenticator,
		notifier:      notifier,
		adminName:     adminName,
		nowFunc:       time.Now,
	}
}

func (s *masterKeyService) Unlock(ctx context.Context, req UnlockRequest) (UnlockResult, error) {
	account, credential := req.Caller.AccountName, req.Caller.Credential

	if account != s.adminName {
		return "", s.authenticator.ReportFailure(account, req.Caller.RemoteIP)
	}
	if s.authenticator.IsLockedOut(account) {
		s.logger.Warn("Rejected master key unlock of locked out account", "account", account)
		return "", failures.NewAuthenticationError(account)
	}
	if len(credential) == 0 {
		return "", failures.NewValidationError("credential cannot be empty")
	}

	raw, provenance, err := s.bootstrapper.Resolve(ctx, req.Secret)
	if err != nil {
		return "", err
	}
	candidate, err := s.engine.DeriveMasterKey(s.manager.Algorithm(), raw)
	if err != nil {
		return "", err
	}
	defer candidate.Destroy()
	candidateEscrow := KeyEscrow(s.engine, candidate)

	admin, err := s.repo.GetByAccountName(ctx, s.adminName)
	if err != nil {
		s.logger.Error("Failed to look up administrator", "error", err)
		return "", err
	}
	if admin == nil {
		if admin, err = s.bootstrapAdmin(ctx, candidateEscrow, credential); err != nil {
			return "", err
		}
	}

	if s.vault.CheckCredentials(candidateEscrow, admin, credential) {
		s.manager.Adopt(candidate, provenance)
		s.remember(ctx, req.Secret)
		s.authenticator.ReportSuccess(account)
		s.logger.Info("Master key unlocked", "provenance", provenance)
		return ResultUnlocked, nil
	}

	err = s.manager.Rotate(candidate, provenance, func(current, next members.SaltEscrow) error {
		if !s.vault.CheckCredentials(current, admin, credential) {
			return errNoKeyMatches
		}
		return s.reseal(ctx, admin, credential, current, next)
	})
	if errors.Is(err, errNoKeyMatches) {
		return "", s.authenticator.ReportFailure(account, req.Caller.RemoteIP)
	}
	if err != nil {
		return "", err
	}

	s.remember(ctx, req.Secret)
	s.authenticator.ReportSuccess(account)
	s.logger.Info("Master key rotated", "provenance", provenance)
	if err := s.notifier.NotifyMasterKeyRotated(account); err != nil {
		s.logger.Error("Failed to send master key rotation notification", "error", err)
	}
	return ResultRotated, nil
}

// reseal moves the administrator onto the next master key. Every other member's salt is
// escrowed under the current key, so rotating is refused unless the administrator is alone.
func (s *masterKeyService) reseal(ctx context.Context, admin *members.Member, credential []byte, current, next members.SaltEscrow) error {
	count, err := s.repo.Count(ctx)
	if err != nil {
		return err
	}
	if count != 1 {
		s.logger.Warn("Refused master key rotation", "members", count)
		return failures.NewIllegalActionError("the master key can only be rotated while the administrator is the only member")
	}

	pair, err := s.vault.UnlockWith(current, admin, credential)
	if err != nil {
		return err
	}
	defer pair.Destroy()

	updated := *admin
	if err := s.vault.Seal(next, &updated, credential, pair.Private()); err != nil {
		return err
	}
	updated.ClearSession()
	updated.UpdatedAt = s.nowFunc().UTC()

	if err := s.repo.Update(ctx, &updated); err != nil {
		s.logger.Error("Failed to save re-escrowed administrator", "error", err)
		return err
	}
	return nil
}

func (s *masterKeyService) bootstrapAdmin(ctx context.Context, escrow members.SaltEscrow, credential []byte) (*members.Member, error) {
	s.logger.Info("No administrator found, creating it", "account", s.adminName)

	now := s.nowFunc().UTC()
	admin := &members.Member{
		ID:          uuid.New().String(),
		AccountName: s.adminName,
		Role:        members.RoleAdmin,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.vault.NewKeysWith(escrow, admin, credential); err != nil {
		s.logger.Error("Failed to generate administrator keys", "error", err)
		return nil, err
	}
	if err := s.repo.Create(ctx, admin); err != nil {
		s.logger.Error("Failed to save administrator", "error", err)
		return nil, err
	}
	return admin, nil
}

func (s *masterKeyService) remember(ctx context.Context, secret BootstrapSecret) {
	if err := s.bootstrapper.Remember(ctx, secret); err != nil {
		s.logger.Error("Failed to persist master key secret mode", "error", err)
	}
}
