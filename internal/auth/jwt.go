// Package auth provides API-key verification and JWT bearer tokens for
// the sandbox API.
//
// The flow is machine-to-machine: the orchestration layer holds an API
// key (id + secret), exchanges it at POST /auth/token for a short-lived
// HS256 JWT, and presents that as an Authorization: Bearer header on
// every execute call. Stateless verification keeps the hot path free of
// database lookups; only the token exchange touches storage.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "sandboxd"

// TokenTTL is the access-token lifetime. Callers re-exchange their API
// key when it expires.
const TokenTTL = 15 * time.Minute

// TokenService signs and verifies the service's access tokens.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given HMAC secret.
// The secret should be at least 32 bytes of random data in production.
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// claims embeds the registered claim set; the API-key id travels in the
// standard "sub" claim.
type claims struct {
	jwt.RegisteredClaims
}

// Generate signs a token for the given API-key id with the default TTL.
func (s *TokenService) Generate(keyID string) (string, error) {
	return s.GenerateWithDuration(keyID, TokenTTL)
}

// GenerateWithDuration signs a token with a custom expiry. Used in tests
// to mint already-expired tokens.
func (s *TokenService) GenerateWithDuration(keyID string, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   keyID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a token string and returns the API-key id
// it was issued for. Signature, expiry, issuer, and algorithm are all
// checked; pinning the algorithm list blocks downgrade tricks.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return "", fmt.Errorf("auth: token has no subject")
	}

	return c.Subject, nil
}
