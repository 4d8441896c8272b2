package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/deepsense/sandboxd/internal/apperror"
	"github.com/deepsense/sandboxd/internal/auth"
	"github.com/deepsense/sandboxd/internal/model"
	"github.com/deepsense/sandboxd/internal/repository"
)

// AuthService exchanges API-key credentials for bearer tokens.
type AuthService struct {
	keys    repository.APIKeyRepository
	secrets *auth.SecretService
	tokens  *auth.TokenService
	logger  *slog.Logger
}

func NewAuthService(keys repository.APIKeyRepository, secrets *auth.SecretService, tokens *auth.TokenService, logger *slog.Logger) *AuthService {
	return &AuthService{keys: keys, secrets: secrets, tokens: tokens, logger: logger}
}

// IssueToken verifies the key id/secret pair and returns a signed bearer
// token. Unknown ids and wrong secrets produce the same error so callers
// cannot probe which key ids exist.
func (s *AuthService) IssueToken(ctx context.Context, keyID, secret string) (string, error) {
	key, err := s.keys.GetByID(ctx, keyID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", apperror.Unauthorized("invalid credentials")
		}
		return "", err
	}
	if !s.secrets.Verify(key.SecretHash, secret) {
		return "", apperror.Unauthorized("invalid credentials")
	}

	token, err := s.tokens.Generate(key.ID)
	if err != nil {
		return "", err
	}

	if err := s.keys.TouchLastUsed(ctx, key.ID); err != nil {
		s.logger.Warn("failed to update key last_used_at", "key_id", key.ID, "error", err)
	}

	return token, nil
}

// SeedKey creates or updates the bootstrap API key from configuration,
// hashing the secret before it ever reaches storage. Called once at
// startup so a fresh deployment has a usable credential.
func (s *AuthService) SeedKey(ctx context.Context, id, name, secret string) error {
	hash, err := s.secrets.Hash(secret)
	if err != nil {
		return err
	}
	key := &model.APIKey{ID: id, Name: name, SecretHash: hash}
	if err := s.keys.Upsert(ctx, key); err != nil {
		return err
	}
	s.logger.Info("bootstrap API key seeded", "key_id", key.ID, "name", name)
	return nil
}
