package circles

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/failures"
	"github.com/HaugrNet/eds-sub006/server/core/encryption"
	"github.com/HaugrNet/eds-sub006/server/core/members"
	"github.com/google/uuid"
)

// Envelopes carry the raw circle key encrypted under one member's public key and are
// armored as DATA with the asymmetric algorithm. Deprecated generations carry their key
// encrypted under the key of the next generation, armored with that key's algorithm.

func (s *circleService) wrapFor(public *encryption.PublicKey, key *encryption.SecretKey) (string, error) {
	encrypted, err := s.engine.EncryptAsymmetric(public, key.Bytes())
	if err != nil {
		return "", err
	}
	return encryption.ArmorData(public.Algorithm(), encrypted), nil
}

func (s *circleService) wrapEnvelope(armoredPublic string, key *encryption.SecretKey) (string, error) {
	public, err := encryption.DearmorPublicKey(s.engine, armoredPublic)
	if err != nil {
		return "", err
	}
	defer public.Destroy()

	return s.wrapFor(public, key)
}

func (s *circleService) unwrapEnvelope(private *encryption.PrivateKey, envelope string, algorithm encryption.AlgorithmID) (*encryption.SecretKey, error) {
	_, encrypted, err := encryption.DearmorData(envelope)
	if err != nil {
		return nil, err
	}
	raw, err := s.engine.DecryptAsymmetric(private, encrypted)
	if err != nil {
		return nil, err
	}
	return encryption.NewSecretKey(algorithm, raw), nil
}

func (s *circleService) unwrapGeneration(newer *encryption.SecretKey, generation *KeyGeneration) (*encryption.SecretKey, error) {
	_, encrypted, err := encryption.DearmorData(generation.WrappedKey)
	if err != nil {
		return nil, err
	}
	raw, err := s.engine.Decrypt(newer, encrypted)
	if err != nil {
		return nil, err
	}
	return encryption.NewSecretKey(generation.Algorithm, raw), nil
}

// openEnvelope unlocks the member's private key just long enough to unwrap their envelope
func (s *circleService) openEnvelope(access *Access, generation *KeyGeneration) (*encryption.SecretKey, error) {
	var key *encryption.SecretKey
	err := s.vault.WithUnlocked(access.Member, access.credential, func(pair *encryption.KeyPair) error {
		var err error
		key, err = s.unwrapEnvelope(pair.Private(), access.Trustee.Envelope, generation.Algorithm)
		return err
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}

// UnwrapCircleKey returns the key of a generation of the accessed circle, the active one
// when generationID is empty. Older generations are reached by walking the wrap chain
// down from the active key. The caller must Destroy the key.
func (s *circleService) UnwrapCircleKey(ctx context.Context, access *Access, generationID string) (*encryption.SecretKey, *KeyGeneration, error) {
	circleID := access.Circle.ID

	active, err := s.repo.GetActiveGeneration(ctx, circleID)
	if err != nil {
		return nil, nil, err
	}
	if active == nil {
		return nil, nil, fmt.Errorf("circle %s has no active key generation", circleID)
	}

	target := active
	if generationID != "" && generationID != active.ID {
		if target, err = s.repo.GetGeneration(ctx, generationID); err != nil {
			return nil, nil, err
		}
		if target == nil || target.CircleID != circleID {
			return nil, nil, failures.NewIdentificationError("key generation", generationID)
		}
		if target.Lapsed(s.nowFunc()) {
			return nil, nil, failures.NewIllegalActionError("the key generation is past its grace period")
		}
	}

	if access.Trustee == nil {
		return nil, nil, failures.NewAuthorizationError(access.Member.AccountName, string(access.Permission))
	}
	if access.Trustee.GenerationID != active.ID {
		return nil, nil, fmt.Errorf("envelope of trustee %s is not for the active generation", access.Trustee.ID)
	}

	key, err := s.openEnvelope(access, active)
	if err != nil {
		return nil, nil, err
	}
	if target == active {
		return key, active, nil
	}

	generations, err := s.repo.GetGenerations(ctx, circleID)
	if err != nil {
		key.Destroy()
		return nil, nil, err
	}
	for _, generation := range generations {
		if generation.Number >= active.Number {
			continue
		}
		if generation.Number < target.Number {
			break
		}
		older, err := s.unwrapGeneration(key, generation)
		key.Destroy()
		if err != nil {
			return nil, nil, err
		}
		key = older
	}
	return key, target, nil
}

// rotate moves the circle to a fresh key and re-wraps every remaining trustee's envelope.
// removedMemberID, if set, loses its trustee record in the same transaction.
func (s *circleService) rotate(ctx context.Context, access *Access, removedMemberID string) (*KeyGeneration, error) {
	current, active, err := s.UnwrapCircleKey(ctx, access, "")
	if err != nil {
		return nil, err
	}
	defer current.Destroy()

	next, err := s.engine.GenerateSecretKey(s.engine.Catalog().Defaults().Symmetric)
	if err != nil {
		return nil, err
	}
	defer next.Destroy()

	wrapped, err := s.engine.Encrypt(next, current.Bytes())
	if err != nil {
		return nil, err
	}

	now := s.nowFunc().UTC()
	grace := s.settings.GracePeriod
	expires := now.Add(grace)

	previous := *active
	previous.Status = StatusDeprecated
	previous.Expires = &expires
	previous.GracePeriod = &grace
	previous.WrappedKey = encryption.ArmorData(next.Algorithm(), wrapped)
	previous.UpdatedAt = now

	generation := &KeyGeneration{
		ID:        uuid.New().String(),
		CircleID:  active.CircleID,
		Number:    active.Number + 1,
		Algorithm: next.Algorithm(),
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	trustees, err := s.repo.GetTrustees(ctx, active.CircleID)
	if err != nil {
		return nil, err
	}
	var remaining []*Trustee
	for _, trustee := range trustees {
		if trustee.MemberID == removedMemberID {
			continue
		}
		member, err := s.memberRepo.GetByID(ctx, trustee.MemberID)
		if err != nil {
			return nil, err
		}
		if member == nil {
			return nil, fmt.Errorf("member %s of trustee %s not found", trustee.MemberID, trustee.ID)
		}
		if trustee.Envelope, err = s.wrapEnvelope(member.PublicKey, next); err != nil {
			return nil, err
		}
		trustee.GenerationID = generation.ID
		trustee.UpdatedAt = now
		remaining = append(remaining, trustee)
	}

	err = s.repo.Rotate(ctx, &Rotation{
		Previous:        &previous,
		Next:            generation,
		Trustees:        remaining,
		RemovedMemberID: removedMemberID,
	})
	if err != nil {
		s.logger.Error("Failed to save circle key rotation", "error", err, "circleID", active.CircleID)
		return nil, err
	}

	s.logger.Info("Circle key rotated", "circleID", active.CircleID, "generation", generation.Number, "trustees", len(remaining))
	if err := s.notifier.NotifyCircleKeyRotated(access.Circle.ID, access.Circle.Name, generation.Number); err != nil {
		s.logger.Error("Failed to send circle key rotation notification", "error", err)
	}
	return generation, nil
}

// PrepareRewrap re-wraps every envelope of a member whose key pair is being replaced
func (s *circleService) PrepareRewrap(ctx context.Context, memberID string, current *encryption.PrivateKey, next *encryption.PublicKey) (func(ctx context.Context, tx *sql.Tx) error, error) {
	trustees, err := s.repo.GetTrusteesByMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	now := s.nowFunc().UTC()
	for _, trustee := range trustees {
		generation, err := s.repo.GetGeneration(ctx, trustee.GenerationID)
		if err != nil {
			return nil, err
		}
		if generation == nil {
			return nil, fmt.Errorf("key generation %s of trustee %s not found", trustee.GenerationID, trustee.ID)
		}

		key, err := s.unwrapEnvelope(current, trustee.Envelope, generation.Algorithm)
		if err != nil {
			return nil, err
		}
		trustee.Envelope, err = s.wrapFor(next, key)
		key.Destroy()
		if err != nil {
			return nil, err
		}
		trustee.UpdatedAt = now
	}

	return func(ctx context.Context, tx *sql.Tx) error {
		return s.repo.UpdateEnvelopes(ctx, tx, trustees)
	}, nil
}

var _ members.EnvelopeRewrapper = (*circleService)(nil)
