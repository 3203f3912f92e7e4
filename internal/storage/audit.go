package storage

import (
	"context"
	"fmt"

	"github.com/Veraticus/ledger-intake/internal/model"
)

// WriteAudit appends an audit record.
func (s *SQLiteStorage) WriteAudit(ctx context.Context, rec *model.AuditRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: audit record", ErrNilParameter)
	}
	rec.CreatedAt = s.now()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (owner_id, document_id, stage, action, input_hash, verdict, reasons, pii_types, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.OwnerID, nullIfEmpty(rec.DocumentID), rec.Stage, rec.Action, nullIfEmpty(rec.InputHash),
		nullIfEmpty(rec.Verdict), marshalStrings(rec.Reasons), marshalStrings(rec.PIITypes), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

// ListAudit returns an owner's audit records, oldest first.
func (s *SQLiteStorage) ListAudit(ctx context.Context, ownerID string) ([]model.AuditRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, COALESCE(document_id, ''), stage, action, COALESCE(input_hash, ''),
			COALESCE(verdict, ''), reasons, pii_types, created_at
		FROM audit_log WHERE owner_id = ? ORDER BY id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []model.AuditRecord{}
	for rows.Next() {
		var (
			rec               model.AuditRecord
			reasons, piiTypes string
		)
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.DocumentID, &rec.Stage, &rec.Action, &rec.InputHash,
			&rec.Verdict, &reasons, &piiTypes, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Reasons = unmarshalStrings(reasons)
		rec.PIITypes = unmarshalStrings(piiTypes)
		records = append(records, rec)
	}
	return records, rows.Err()
}
