// Package repository declares the storage interfaces the service layer
// programs against. The sqlite subpackage is the concrete backend; tests
// substitute in-memory mocks.
package repository

import (
	"context"

	"github.com/deepsense/sandboxd/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// ExecutionRepository stores the per-session audit records.
type ExecutionRepository interface {
	Create(ctx context.Context, rec *model.ExecutionRecord) error
	GetByID(ctx context.Context, id string) (*model.ExecutionRecord, error)
	List(ctx context.Context, opts ListOptions) ([]model.ExecutionRecord, error)
}

// APIKeyRepository stores service credentials (bcrypt-hashed secrets).
type APIKeyRepository interface {
	Upsert(ctx context.Context, key *model.APIKey) error
	GetByID(ctx context.Context, id string) (*model.APIKey, error)
	TouchLastUsed(ctx context.Context, id string) error
}
