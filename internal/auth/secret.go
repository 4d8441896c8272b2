package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// SecretService hashes and verifies API-key secrets with bcrypt.
type SecretService struct {
	cost int
}

// NewSecretService returns a SecretService using the production cost.
func NewSecretService() *SecretService {
	return &SecretService{cost: 12}
}

// NewSecretServiceWithCost allows tests to use the minimum cost so key
// fixtures hash in microseconds instead of hundreds of milliseconds.
func NewSecretServiceWithCost(cost int) *SecretService {
	return &SecretService{cost: cost}
}

// Hash derives a bcrypt hash of the secret for storage.
func (s *SecretService) Hash(secret string) (string, error) {
	if len(secret) < 8 {
		return "", fmt.Errorf("auth: secret must be at least 8 characters")
	}
	// bcrypt silently truncates past 72 bytes; reject instead so two
	// distinct long secrets can never verify against the same hash.
	if len(secret) > 72 {
		return "", fmt.Errorf("auth: secret must be at most 72 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing secret: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether the secret matches the stored hash.
func (s *SecretService) Verify(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
