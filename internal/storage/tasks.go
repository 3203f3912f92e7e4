package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/model"
)

const taskColumns = `id, kind, payload, dedup_key, status, attempts, available_at, last_error, created_at`

// claimAttempts bounds how often ClaimTask retries after losing a lease race.
const claimAttempts = 3

// EnqueueTask inserts a pending task. It returns false when a pending task
// with the same dedup key is already waiting.
func (s *SQLiteStorage) EnqueueTask(ctx context.Context, t *model.Task) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if t == nil {
		return false, fmt.Errorf("%w: task", ErrNilParameter)
	}
	if err := validateString(t.Kind, "kind"); err != nil {
		return false, err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := s.now()
	if t.AvailableAt.IsZero() {
		t.AvailableAt = now
	}
	t.CreatedAt = now
	t.Status = model.TaskPending
	payload := string(t.Payload)
	if payload == "" {
		payload = "null"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, kind, payload, dedup_key, status, attempts, available_at, created_at)
		VALUES (?, ?, ?, ?, 'pending', 0, ?, ?)
	`, t.ID, t.Kind, payload, t.DedupKey, t.AvailableAt.UnixMilli(), now)
	if err == nil {
		return true, nil
	}
	if isUniqueViolation(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to enqueue task: %w", err)
}

// ClaimTask leases the oldest available task for lease. Expired leases are
// claimable again. It returns common.ErrNotFound when nothing is ready.
func (s *SQLiteStorage) ClaimTask(ctx context.Context, lease time.Duration) (*model.Task, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < claimAttempts; attempt++ {
		now := s.now().UnixMilli()

		var id string
		err := s.db.QueryRowContext(ctx, `
			SELECT id FROM tasks
			WHERE (status = 'pending' AND available_at <= ?)
			   OR (status = 'leased' AND leased_until < ?)
			ORDER BY available_at, created_at
			LIMIT 1
		`, now, now).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to find ready task: %w", err)
		}

		res, err := s.db.ExecContext(ctx, `
			UPDATE tasks
			SET status = 'leased', leased_until = ?, attempts = attempts + 1
			WHERE id = ? AND status IN ('pending', 'leased')
			  AND (leased_until IS NULL OR leased_until < ?)
		`, now+lease.Milliseconds(), id, now)
		if err != nil {
			return nil, fmt.Errorf("failed to lease task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return s.GetTask(ctx, id)
		}
	}
	return nil, common.ErrNotFound
}

// GetTask retrieves a task by id.
func (s *SQLiteStorage) GetTask(ctx context.Context, id string) (*model.Task, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	var (
		t           model.Task
		payload     string
		status      string
		availableAt int64
		lastError   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id).Scan(
		&t.ID, &t.Kind, &payload, &t.DedupKey, &status, &t.Attempts, &availableAt, &lastError, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	t.Payload = []byte(payload)
	t.Status = model.TaskStatus(status)
	t.AvailableAt = time.UnixMilli(availableAt).UTC()
	t.LastError = lastError.String
	return &t, nil
}

// CompleteTask marks a leased task done.
func (s *SQLiteStorage) CompleteTask(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'done', leased_until = NULL WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	return nil
}

// RetryTask returns a task to pending after delay. When an identical task is
// already pending, this copy is folded into it and marked done.
func (s *SQLiteStorage) RetryTask(ctx context.Context, id, lastError string, delay time.Duration) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	availableAt := s.now().Add(delay).UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'pending', leased_until = NULL, available_at = ?, last_error = ?
		WHERE id = ?
	`, availableAt, lastError, id)
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return s.CompleteTask(ctx, id)
	}
	return fmt.Errorf("failed to reschedule task: %w", err)
}

// DeadLetterTask marks a task permanently failed.
func (s *SQLiteStorage) DeadLetterTask(ctx context.Context, id, lastError string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'failed', leased_until = NULL, last_error = ? WHERE id = ?
	`, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to dead-letter task: %w", err)
	}
	return nil
}

// CountTasks returns the number of tasks in status.
func (s *SQLiteStorage) CountTasks(ctx context.Context, status model.TaskStatus) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE status = ?`, string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}
