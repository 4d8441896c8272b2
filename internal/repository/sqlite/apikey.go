package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/deepsense/sandboxd/internal/apperror"
	"github.com/deepsense/sandboxd/internal/model"
)

// APIKeyStore implements repository.APIKeyRepository.
type APIKeyStore struct {
	db *DB
}

// Upsert inserts a key or replaces the hash of an existing one (used by
// the bootstrap path, which re-seeds the same key id on every start).
func (s *APIKeyStore) Upsert(ctx context.Context, key *model.APIKey) error {
	if key.ID == "" {
		key.ID = xid.New().String()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, secret_hash, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			secret_hash = excluded.secret_hash`,
		key.ID, key.Name, key.SecretHash, key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting api key: %w", err)
	}
	return nil
}

// GetByID fetches a key, returning apperror.ErrNotFound when absent.
func (s *APIKeyStore) GetByID(ctx context.Context, id string) (*model.APIKey, error) {
	var (
		key      model.APIKey
		lastUsed sql.NullTime
	)
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT id, name, secret_hash, created_at, last_used_at
		FROM api_keys WHERE id = ?`, id).
		Scan(&key.ID, &key.Name, &key.SecretHash, &key.CreatedAt, &lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("api key", id)
		}
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	if lastUsed.Valid {
		key.LastUsedAt = &lastUsed.Time
	}
	return &key, nil
}

// TouchLastUsed stamps the key's last successful use.
func (s *APIKeyStore) TouchLastUsed(ctx context.Context, id string) error {
	_, err := s.db.conn.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating api key last_used_at: %w", err)
	}
	return nil
}
