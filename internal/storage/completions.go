package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/model"
)

// InsertCompletionEvent records a completion event. It returns false, and no
// error, when the (owner, type, run) row already exists.
func (s *SQLiteStorage) InsertCompletionEvent(ctx context.Context, ev *model.CompletionEvent) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateEvent(ev); err != nil {
		return false, err
	}

	summary, err := json.Marshal(ev.Summary)
	if err != nil {
		return false, fmt.Errorf("failed to encode summary: %w", err)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.CreatedAt = s.now()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO completion_events (id, owner_id, event_type, import_run_id, summary,
			verified, verify_reason, warnings, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.OwnerID, ev.EventType, ev.ImportRunID, string(summary),
		ev.Verification.Verified, nullIfEmpty(ev.Verification.Reason), marshalStrings(ev.Verification.Warnings), ev.CreatedAt)
	if err == nil {
		return true, nil
	}
	if isUniqueViolation(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to insert completion event: %w", err)
}

// GetCompletionEvent returns the event of an import run.
func (s *SQLiteStorage) GetCompletionEvent(ctx context.Context, ownerID, eventType, importRunID string) (*model.CompletionEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, event_type, import_run_id, summary, verified, verify_reason, warnings, created_at, announced_at
		FROM completion_events
		WHERE owner_id = ? AND event_type = ? AND import_run_id = ?
	`, ownerID, eventType, importRunID)
	return scanEvent(row)
}

// LatestUnannounced returns the most recent event with announced_at NULL.
func (s *SQLiteStorage) LatestUnannounced(ctx context.Context, ownerID, eventType string) (*model.CompletionEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, event_type, import_run_id, summary, verified, verify_reason, warnings, created_at, announced_at
		FROM completion_events
		WHERE owner_id = ? AND event_type = ? AND announced_at IS NULL
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, ownerID, eventType)
	return scanEvent(row)
}

// MarkAnnounced stamps announced_at once. It returns false when another
// caller already stamped it.
func (s *SQLiteStorage) MarkAnnounced(ctx context.Context, id string, at time.Time) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE completion_events SET announced_at = ? WHERE id = ? AND announced_at IS NULL
	`, at.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark event announced: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// InsertMessage stores an announcement. It returns false when the owner
// already has a message with the same client message id.
func (s *SQLiteStorage) InsertMessage(ctx context.Context, msg *model.Message) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(msg.ClientMessageID, "clientMessageID"); err != nil {
		return false, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = s.now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, owner_id, client_message_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.OwnerID, msg.ClientMessageID, msg.Body, msg.CreatedAt)
	if err == nil {
		return true, nil
	}
	if isUniqueViolation(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to insert message: %w", err)
}

// ListMessages returns an owner's messages, oldest first.
func (s *SQLiteStorage) ListMessages(ctx context.Context, ownerID string) ([]model.Message, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, client_message_id, body, created_at
		FROM messages WHERE owner_id = ? ORDER BY created_at, rowid
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	msgs := []model.Message{}
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.ClientMessageID, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanEvent(row rowScanner) (*model.CompletionEvent, error) {
	var (
		ev                model.CompletionEvent
		summary, warnings string
		reason            sql.NullString
		announcedAt       sql.NullTime
	)
	err := row.Scan(&ev.ID, &ev.OwnerID, &ev.EventType, &ev.ImportRunID, &summary,
		&ev.Verification.Verified, &reason, &warnings, &ev.CreatedAt, &announcedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan completion event: %w", err)
	}
	if err := json.Unmarshal([]byte(summary), &ev.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}
	ev.Verification.Reason = reason.String
	ev.Verification.Warnings = unmarshalStrings(warnings)
	if announcedAt.Valid {
		t := announcedAt.Time
		ev.AnnouncedAt = &t
	}
	return &ev, nil
}
