package data

import (
	"context"
	"strings"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/db"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/failures"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/logging"
	"github.com/HaugrNet/eds-sub006/server/core/circles"
	"github.com/HaugrNet/eds-sub006/server/core/encryption"
	"github.com/HaugrNet/eds-sub006/server/core/members"
	"github.com/HaugrNet/eds-sub006/server/core/trust"
	"github.com/google/uuid"
)

const (
	maxNameLength  = 128
	maxPayloadSize = 16 * 1024 * 1024
)

// CircleKeys grants access to circles and their keys
type CircleKeys interface {
	Authorize(ctx context.Context, caller members.Caller, circleID string, permission trust.Permission) (*circles.Access, error)
	UnwrapCircleKey(ctx context.Context, access *circles.Access, generationID string) (*encryption.SecretKey, *circles.KeyGeneration, error)
}

type DataService interface {
	// Store encrypts payload under the active circle key and stores it
	Store(ctx context.Context, caller members.Caller, circleID, name string, payload []byte) (*DataInfo, error)
	// Read decrypts a data object with the key of the generation it was stored under
	Read(ctx context.Context, caller members.Caller, circleID, dataID string) (*DecryptedData, error)
	// List retrieves data object metadata of a circle
	// Returns infos and total count of matching records (before pagination)
	List(ctx context.Context, caller members.Caller, query DataQuery) ([]*DataInfo, int, error)
	// Delete removes a data object
	Delete(ctx context.Context, caller members.Caller, circleID, dataID string) error
}

type dataService struct {
	logger  logging.Logger
	repo    DataRepository
	keys    CircleKeys
	engine  encryption.Engine
	nowFunc func() time.Time
}

func NewDataService(logger logging.Logger, repo DataRepository, keys CircleKeys, engine encryption.Engine) *dataService {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &dataService{
		logger:  logger,
		repo:    repo,
		keys:    keys,
		engine:  engine,
		nowFunc: time.Now,
	}
}

func (s *dataService) Store(ctx context.Context, caller members.Caller, circleID, name string, payload []byte) (*DataInfo, error) {
	access, err := s.keys.Authorize(ctx, caller, circleID, trust.WriteData)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return nil, failures.NewValidationError("name cannot be empty")
	case len(name) > maxNameLength:
		return nil, failures.NewValidationError("name is too long")
	case len(payload) == 0:
		return nil, failures.NewValidationError("payload cannot be empty")
	case len(payload) > maxPayloadSize:
		return nil, failures.NewValidationError("payload is too large")
	}

	key, generation, err := s.keys.UnwrapCircleKey(ctx, access, "")
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	encrypted, err := s.engine.Encrypt(key, payload)
	if err != nil {
		s.logger.Error("Failed to encrypt data", "error", err)
		return nil, err
	}

	object := &DataObject{
		ID:           uuid.New().String(),
		CircleID:     circleID,
		GenerationID: generation.ID,
		Name:         name,
		Checksum:     s.engine.Checksum(payload),
		Payload:      encryption.ArmorData(key.Algorithm(), encrypted),
		Size:         len(payload),
		CreatedAt:    s.nowFunc().UTC(),
	}
	if err := s.repo.Add(ctx, object); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, failures.NewIllegalActionError("a data object with this name already exists in the circle")
		}
		s.logger.Error("Failed to save data object", "error", err)
		return nil, err
	}

	s.logger.Info("Data stored", "id", object.ID, "circleID", circleID, "account", access.Member.AccountName)
	return object.Info(), nil
}

func (s *dataService) load(ctx context.Context, circleID, dataID string) (*DataObject, error) {
	object, err := s.repo.GetByID(ctx, dataID)
	if err != nil {
		s.logger.Error("Failed to retrieve data object", "error", err)
		return nil, err
	}
	if object == nil || object.CircleID != circleID {
		return nil, failures.NewIdentificationError("data", dataID)
	}
	return object, nil
}

func (s *dataService) Read(ctx context.Context, caller members.Caller, circleID, dataID string) (*DecryptedData, error) {
	access, err := s.keys.Authorize(ctx, caller, circleID, trust.ReadData)
	if err != nil {
		return nil, err
	}
	object, err := s.load(ctx, circleID, dataID)
	if err != nil {
		return nil, err
	}

	key, _, err := s.keys.UnwrapCircleKey(ctx, access, object.GenerationID)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	_, encrypted, err := encryption.DearmorData(object.Payload)
	if err != nil {
		return nil, err
	}
	payload, err := s.engine.Decrypt(key, encrypted)
	if err != nil {
		s.logger.Error("Failed to decrypt data", "error", err, "id", dataID)
		return nil, err
	}
	if s.engine.Checksum(payload) != object.Checksum {
		s.logger.Error("Data checksum mismatch", "id", dataID)
		return nil, failures.NewVerificationError("the data does not match its checksum")
	}

	return &DecryptedData{DataInfo: *object.Info(), Payload: payload}, nil
}

func (s *dataService) List(ctx context.Context, caller members.Caller, query DataQuery) ([]*DataInfo, int, error) {
	if _, err := s.keys.Authorize(ctx, caller, query.CircleID, trust.ListData); err != nil {
		return nil, 0, err
	}
	if query.Page < 0 || query.PageSize < 0 {
		return nil, 0, failures.NewValidationError("page and page size cannot be negative")
	}

	infos, total, err := s.repo.QueryInfo(ctx, query)
	if err != nil {
		s.logger.Error("Failed to query data objects", "error", err)
		return nil, 0, err
	}
	return infos, total, nil
}

func (s *dataService) Delete(ctx context.Context, caller members.Caller, circleID, dataID string) error {
	access, err := s.keys.Authorize(ctx, caller, circleID, trust.DeleteData)
	if err != nil {
		return err
	}
	if _, err := s.load(ctx, circleID, dataID); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, dataID); err != nil {
		s.logger.Error("Failed to delete data object", "error", err)
		return err
	}

	s.logger.Info("Data deleted", "id", dataID, "circleID", circleID, "account", access.Member.AccountName)
	return nil
}
