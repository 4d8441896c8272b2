package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/deepsense/sandboxd/internal/apperror"
	"github.com/deepsense/sandboxd/internal/model"
	"github.com/deepsense/sandboxd/internal/repository"
)

// ExecutionStore implements repository.ExecutionRepository.
type ExecutionStore struct {
	db *DB
}

// Create inserts one execution record. The record id is the session id
// (minted at admission, unique per request) so no id generation happens
// here.
func (s *ExecutionStore) Create(ctx context.Context, rec *model.ExecutionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO executions
			(id, language, state, error_kind, exit_code, duration_ms,
			 stdout_bytes, stderr_bytes, image_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Language, rec.State, rec.ErrorKind, rec.ExitCode,
		rec.Duration.Milliseconds(), rec.StdoutBytes, rec.StderrBytes,
		rec.ImageCount, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting execution record: %w", err)
	}
	return nil
}

// GetByID fetches one record, returning apperror.ErrNotFound when absent.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (*model.ExecutionRecord, error) {
	row := s.db.conn.QueryRowContext(ctx, `
		SELECT id, language, state, error_kind, exit_code, duration_ms,
		       stdout_bytes, stderr_bytes, image_count, created_at
		FROM executions WHERE id = ?`, id)

	rec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("execution", id)
		}
		return nil, fmt.Errorf("querying execution record: %w", err)
	}
	return rec, nil
}

// List returns records newest-first with limit/offset pagination.
func (s *ExecutionStore) List(ctx context.Context, opts repository.ListOptions) ([]model.ExecutionRecord, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, language, state, error_kind, exit_code, duration_ms,
		       stdout_bytes, stderr_bytes, image_count, created_at
		FROM executions
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing execution records: %w", err)
	}
	defer rows.Close()

	records := make([]model.ExecutionRecord, 0)
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating execution records: %w", err)
	}
	return records, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(s scanner) (*model.ExecutionRecord, error) {
	var (
		rec        model.ExecutionRecord
		durationMS int64
	)
	err := s.Scan(
		&rec.ID, &rec.Language, &rec.State, &rec.ErrorKind, &rec.ExitCode,
		&durationMS, &rec.StdoutBytes, &rec.StderrBytes, &rec.ImageCount,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	return &rec, nil
}
