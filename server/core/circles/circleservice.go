package circles

import (
	"context"
	"strings"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/db"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/failures"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/logging"
	"github.com/HaugrNet/eds-sub006/server/core/encryption"
	"github.com/HaugrNet/eds-sub006/server/core/members"
	"github.com/HaugrNet/eds-sub006/server/core/notifications"
	"github.com/HaugrNet/eds-sub006/server/core/trust"
	"github.com/google/uuid"
)

const maxCircleNameLength = 75

type CircleSettings struct {
	RotateOnRemoval bool          // Rotate the circle key whenever a trustee is removed
	GracePeriod     time.Duration // How long a deprecated generation stays readable
}

// Access is an authenticated member acting on one circle with a permission it holds
type Access struct {
	Member     *members.Member
	Circle     *Circle
	Trustee    *Trustee // nil when the member acts through its role only
	Level      trust.Level
	Permission trust.Permission
	credential []byte
}

type CircleService interface {
	// CreateCircle creates a circle with a fresh key and makes the caller its administrator
	CreateCircle(ctx context.Context, caller members.Caller, name, keyReference string) (*Circle, error)
	// ListCircles lists every circle
	ListCircles(ctx context.Context, caller members.Caller) ([]*Circle, error)
	// DeleteCircle removes a circle together with its keys, trustees and data
	DeleteCircle(ctx context.Context, caller members.Caller, circleID string) error
	// AddTrustee wraps the circle key for another member
	AddTrustee(ctx context.Context, caller members.Caller, circleID, memberID string, level trust.Level) (*Trustee, error)
	// RemoveTrustee drops a member's envelope, rotating the key if configured to
	RemoveTrustee(ctx context.Context, caller members.Caller, circleID, memberID string) error
	// AlterTrustLevel changes a trustee's level without touching the envelope
	AlterTrustLevel(ctx context.Context, caller members.Caller, circleID, memberID string, level trust.Level) error
	// RotateCircleKey moves the circle to a new key generation
	RotateCircleKey(ctx context.Context, caller members.Caller, circleID string) (*KeyGeneration, error)
	// ListTrustees lists the trustees of a circle
	ListTrustees(ctx context.Context, caller members.Caller, circleID string) ([]*Trustee, error)
	// Authorize authenticates the caller and checks its level in the circle against permission
	Authorize(ctx context.Context, caller members.Caller, circleID string, permission trust.Permission) (*Access, error)
	// UnwrapCircleKey returns the key of a generation, the active one for an empty ID
	UnwrapCircleKey(ctx context.Context, access *Access, generationID string) (*encryption.SecretKey, *KeyGeneration, error)
}

type circleService struct {
	logger        logging.Logger
	repo          CircleRepository
	memberRepo    members.MemberRepository
	authenticator members.Authenticator
	vault         *members.Vault
	engine        encryption.Engine
	notifier      notifications.SecurityNotifier
	settings      CircleSettings
	nowFunc       func() time.Time
}

func NewCircleService(
	logger logging.Logger,
	repo CircleRepository,
	memberRepo members.MemberRepository,
	authenticator members.Authenticator,
	vault *members.Vault,
	engine encryption.Engine,
	notifier notifications.SecurityNotifier,
	settings CircleSettings,
) *circleService {
	if logger == nil {
		logger = logging.NopLogger
	}
	if notifier == nil {
		notifier = notifications.NopSecurityNotifier
	}

	return &circleService{
		logger:        logger,
		repo:          repo,
		memberRepo:    memberRepo,
		authenticator: authenticator,
		vault:         vault,
		engine:        engine,
		notifier:      notifier,
		settings:      settings,
		nowFunc:       time.Now,
	}
}

func (s *circleService) Authorize(ctx context.Context, caller members.Caller, circleID string, permission trust.Permission) (*Access, error) {
	member, err := s.authenticator.Authenticate(ctx, caller)
	if err != nil {
		return nil, err
	}

	circle, err := s.repo.GetCircle(ctx, circleID)
	if err != nil {
		s.logger.Error("Failed to retrieve circle", "error", err)
		return nil, err
	}
	if circle == nil {
		return nil, failures.NewIdentificationError("circle", circleID)
	}

	trustee, err := s.repo.GetTrustee(ctx, circleID, member.ID)
	if err != nil {
		s.logger.Error("Failed to retrieve trustee", "error", err)
		return nil, err
	}

	level := member.Role.TrustLevel()
	if trustee != nil && trustee.Level > level {
		level = trustee.Level
	}
	if err := trust.Check(member.AccountName, level, permission); err != nil {
		s.logger.Warn("Member not authorized in circle", "account", member.AccountName, "circleID", circleID, "permission", permission)
		return nil, err
	}

	return &Access{
		Member:     member,
		Circle:     circle,
		Trustee:    trustee,
		Level:      level,
		Permission: permission,
		credential: caller.Credential,
	}, nil
}

func (s *circleService) CreateCircle(ctx context.Context, caller members.Caller, name, keyReference string) (*Circle, error) {
	member, err := s.authenticator.Authenticate(ctx, caller)
	if err != nil {
		return nil, err
	}
	if err := trust.Check(member.AccountName, member.Role.TrustLevel(), trust.CreateCircle); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, failures.NewValidationError("circle name cannot be empty")
	}
	if len(name) > maxCircleNameLength {
		return nil, failures.NewValidationError("circle name is too long")
	}

	existing, err := s.repo.GetCircleByName(ctx, name)
	if err != nil {
		s.logger.Error("Failed to check for existing circle", "error", err)
		return nil, err
	}
	if existing != nil {
		return nil, failures.NewIllegalActionError("circle name already in use")
	}

	key, err := s.engine.GenerateSecretKey(s.engine.Catalog().Defaults().Symmetric)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	envelope, err := s.wrapEnvelope(member.PublicKey, key)
	if err != nil {
		s.logger.Error("Failed to wrap circle key", "error", err)
		return nil, err
	}

	now := s.nowFunc().UTC()
	circle := &Circle{
		ID:           uuid.New().String(),
		Name:         name,
		KeyReference: keyReference,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	generation := &KeyGeneration{
		ID:        uuid.New().String(),
		CircleID:  circle.ID,
		Number:    1,
		Algorithm: key.Algorithm(),
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	creator := &Trustee{
		ID:           uuid.New().String(),
		CircleID:     circle.ID,
		MemberID:     member.ID,
		AccountName:  member.AccountName,
		GenerationID: generation.ID,
		Level:        trust.Admin,
		Envelope:     envelope,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.CreateCircle(ctx, circle, generation, creator); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, failures.NewIllegalActionError("circle name already in use")
		}
		s.logger.Error("Failed to save circle", "error", err)
		return nil, err
	}

	s.logger.Info("Successfully created circle", "id", circle.ID, "name", circle.Name, "account", member.AccountName)
	return circle, nil
}

func (s *circleService) ListCircles(ctx context.Context, caller members.Caller) ([]*Circle, error) {
	member, err := s.authenticator.Authenticate(ctx, caller)
	if err != nil {
		return nil, err
	}
	if err := trust.Check(member.AccountName, member.Role.TrustLevel(), trust.ListCircles); err != nil {
		return nil, err
	}

	circles, err := s.repo.GetAllCircles(ctx)
	if err != nil {
		s.logger.Error("Failed to retrieve circles", "error", err)
		return nil, err
	}
	return circles, nil
}

func (s *circleService) DeleteCircle(ctx context.Context, caller members.Caller, circleID string) error {
	access, err := s.Authorize(ctx, caller, circleID, trust.DeleteCircle)
	if err != nil {
		return err
	}

	s.logger.Info("Deleting circle", "id", circleID, "account", access.Member.AccountName)
	if err := s.repo.DeleteCircle(ctx, circleID); err != nil {
		s.logger.Error("Failed to delete circle", "error", err)
		return err
	}
	return nil
}

func (s *circleService) AddTrustee(ctx context.Context, caller members.Caller, circleID, memberID string, level trust.Level) (*Trustee, error) {
	access, err := s.Authorize(ctx, caller, circleID, trust.AddTrustee)
	if err != nil {
		return nil, err
	}
	if !level.Assignable() {
		return nil, failures.NewValidationError("trust level " + level.String() + " cannot be granted")
	}

	member, err := s.memberRepo.GetByID(ctx, memberID)
	if err != nil {
		s.logger.Error("Failed to retrieve member", "error", err)
		return nil, err
	}
	if member == nil {
		return nil, failures.NewIdentificationError("member", memberID)
	}

	existing, err := s.repo.GetTrustee(ctx, circleID, memberID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, failures.NewIllegalActionError("the member is already a trustee of the circle")
	}

	key, generation, err := s.UnwrapCircleKey(ctx, access, "")
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	envelope, err := s.wrapEnvelope(member.PublicKey, key)
	if err != nil {
		s.logger.Error("Failed to wrap circle key", "error", err)
		return nil, err
	}

	now := s.nowFunc().UTC()
	trustee := &Trustee{
		ID:           uuid.New().String(),
		CircleID:     circleID,
		MemberID:     member.ID,
		AccountName:  member.AccountName,
		GenerationID: generation.ID,
		Level:        level,
		Envelope:     envelope,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateTrustee(ctx, trustee); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, failures.NewIllegalActionError("the member is already a trustee of the circle")
		}
		s.logger.Error("Failed to save trustee", "error", err)
		return nil, err
	}

	s.logger.Info("Trustee added", "circleID", circleID, "account", member.AccountName, "level", level)
	return trustee, nil
}

// targetTrustee loads the trustee an administrative operation applies to and refuses
// changes that would leave the circle without an administrator
func (s *circleService) targetTrustee(ctx context.Context, circleID, memberID string, newLevel trust.Level) (*Trustee, error) {
	trustees, err := s.repo.GetTrustees(ctx, circleID)
	if err != nil {
		s.logger.Error("Failed to retrieve trustees", "error", err)
		return nil, err
	}

	var target *Trustee
	admins := 0
	for _, trustee := range trustees {
		if trustee.Level >= trust.Admin {
			admins++
		}
		if trustee.MemberID == memberID {
			target = trustee
		}
	}
	if target == nil {
		return nil, failures.NewIdentificationError("trustee", memberID)
	}
	if target.Level >= trust.Admin && newLevel < trust.Admin && admins == 1 {
		return nil, failures.NewIllegalActionError("a circle must keep at least one administrator")
	}
	return target, nil
}

func (s *circleService) RemoveTrustee(ctx context.Context, caller members.Caller, circleID, memberID string) error {
	access, err := s.Authorize(ctx, caller, circleID, trust.RemoveTrustee)
	if err != nil {
		return err
	}
	target, err := s.targetTrustee(ctx, circleID, memberID, trust.None)
	if err != nil {
		return err
	}

	if s.settings.RotateOnRemoval {
		if _, err := s.rotate(ctx, access, memberID); err != nil {
			return err
		}
	} else if err := s.repo.DeleteTrustee(ctx, circleID, memberID); err != nil {
		s.logger.Error("Failed to delete trustee", "error", err)
		return err
	}

	s.logger.Info("Trustee removed", "circleID", circleID, "account", target.AccountName, "rotated", s.settings.RotateOnRemoval)
	return nil
}

func (s *circleService) AlterTrustLevel(ctx context.Context, caller members.Caller, circleID, memberID string, level trust.Level) error {
	if _, err := s.Authorize(ctx, caller, circleID, trust.AlterTrustLevel); err != nil {
		return err
	}
	if !level.Assignable() {
		return failures.NewValidationError("trust level " + level.String() + " cannot be granted")
	}

	target, err := s.targetTrustee(ctx, circleID, memberID, level)
	if err != nil {
		return err
	}

	target.Level = level
	target.UpdatedAt = s.nowFunc().UTC()
	if err := s.repo.UpdateTrusteeLevel(ctx, target); err != nil {
		s.logger.Error("Failed to update trustee", "error", err)
		return err
	}

	s.logger.Info("Trust level altered", "circleID", circleID, "account", target.AccountName, "level", level)
	return nil
}

func (s *circleService) RotateCircleKey(ctx context.Context, caller members.Caller, circleID string) (*KeyGeneration, error) {
	access, err := s.Authorize(ctx, caller, circleID, trust.RotateCircleKey)
	if err != nil {
		return nil, err
	}
	return s.rotate(ctx, access, "")
}

func (s *circleService) ListTrustees(ctx context.Context, caller members.Caller, circleID string) ([]*Trustee, error) {
	if _, err := s.Authorize(ctx, caller, circleID, trust.ListTrustees); err != nil {
		return nil, err
	}

	trustees, err := s.repo.GetTrustees(ctx, circleID)
	if err != nil {
		s.logger.Error("Failed to retrieve trustees", "error", err)
		return nil, err
	}
	return trustees, nil
}
