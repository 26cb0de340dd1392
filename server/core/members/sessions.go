package members

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/failures"
	"github.com/HaugrNet/eds-sub006/server/core/encryption"
	"github.com/HaugrNet/eds-sub006/server/core/trust"
	"github.com/awnumar/memguard"
)

const sessionTokenLength = 32

// A session stores the member's credential encrypted under a key derived from a random
// token. Only the checksum of the token is persisted, so the token itself is the only
// way back to the credential.

func (s *memberService) Login(ctx context.Context, caller Caller) (string, time.Time, error) {
	member, err := s.authorize(ctx, caller, trust.ManageSession)
	if err != nil {
		return "", time.Time{}, err
	}

	raw := make([]byte, sessionTokenLength)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", time.Time{}, err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	memguard.WipeBytes(raw)

	blob, err := s.sealSession(token, caller.Credential)
	if err != nil {
		s.logger.Error("Failed to seal session", "error", err)
		return "", time.Time{}, err
	}

	now := s.nowFunc().UTC()
	expires := now.Add(s.settings.SessionLifetime)
	member.SessionChecksum = s.engine.Checksum([]byte(token))
	member.SessionCrypto = blob
	member.SessionExpires = &expires
	member.UpdatedAt = now

	if err := s.repo.Update(ctx, member); err != nil {
		s.logger.Error("Failed to save session", "error", err)
		return "", time.Time{}, err
	}

	s.logger.Info("Session opened", "account", member.AccountName, "expires", expires)
	return token, expires, nil
}

func (s *memberService) ResolveSession(ctx context.Context, token string) (Caller, error) {
	member, err := s.repo.GetBySessionChecksum(ctx, s.engine.Checksum([]byte(token)))
	if err != nil {
		s.logger.Error("Failed to look up session", "error", err)
		return Caller{}, err
	}
	if member == nil {
		return Caller{}, failures.NewAuthenticationError("")
	}

	now := s.nowFunc()
	if !member.HasSession(now) {
		member.ClearSession()
		member.UpdatedAt = now.UTC()
		if err := s.repo.Update(ctx, member); err != nil {
			s.logger.Error("Failed to clear expired session", "error", err)
		}
		return Caller{}, failures.NewAuthenticationError(member.AccountName)
	}

	credential, err := s.openSession(token, member.SessionCrypto)
	if err != nil {
		return Caller{}, failures.NewAuthenticationError(member.AccountName)
	}

	return Caller{AccountName: member.AccountName, Credential: credential}, nil
}

func (s *memberService) Logout(ctx context.Context, caller Caller) error {
	member, err := s.authorize(ctx, caller, trust.ManageSession)
	if err != nil {
		return err
	}

	member.ClearSession()
	member.UpdatedAt = s.nowFunc().UTC()
	if err := s.repo.Update(ctx, member); err != nil {
		s.logger.Error("Failed to clear session", "error", err)
		return err
	}

	s.logger.Info("Session closed", "account", member.AccountName)
	return nil
}

func (s *memberService) sessionAlgorithm() encryption.AlgorithmID {
	return s.engine.Catalog().Defaults().Password
}

func (s *memberService) sealSession(token string, credential []byte) (string, error) {
	salt, err := s.engine.GenerateSalt()
	if err != nil {
		return "", err
	}

	key, err := s.engine.DeriveKey(s.sessionAlgorithm(), []byte(token), salt)
	if err != nil {
		return "", err
	}
	defer key.Destroy()

	encrypted, err := s.engine.Encrypt(key, credential)
	if err != nil {
		return "", err
	}
	return encryption.ArmorData(s.sessionAlgorithm(), append(salt, encrypted...)), nil
}

func (s *memberService) openSession(token string, blob string) ([]byte, error) {
	algorithm, raw, err := encryption.DearmorData(blob)
	if err != nil {
		return nil, err
	}
	if len(raw) <= encryption.SaltLength {
		return nil, failures.NewAuthenticationError("")
	}
	salt, encrypted := raw[:encryption.SaltLength], raw[encryption.SaltLength:]

	key, err := s.engine.DeriveKey(algorithm, []byte(token), salt)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	return s.engine.Decrypt(key, encrypted)
}
