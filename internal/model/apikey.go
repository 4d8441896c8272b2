package model

import "time"

// APIKey is a service credential: callers present the key id and secret
// to POST /auth/token and receive a short-lived JWT. Only the bcrypt hash
// of the secret is ever stored.
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	SecretHash string     `json:"-"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}
