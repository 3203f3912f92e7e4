package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/model"
)

const documentColumns = `id, owner_id, source, filename, mime_type, status, storage_path,
	content_hash, expected_size, redacted_text, pii_types, rejection_reason,
	import_run_id, created_at, updated_at`

// CreateDocument inserts doc unless the owner already has a live document
// with the same content hash, in which case the existing id is returned with
// isDuplicate=true.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *model.Document) (string, bool, error) {
	if err := validateContext(ctx); err != nil {
		return "", false, err
	}
	if err := validateDocument(doc); err != nil {
		return "", false, err
	}

	if doc.ContentHash != "" {
		existing, err := s.findDocumentByHash(ctx, s.db, doc.OwnerID, doc.ContentHash)
		if err == nil {
			return existing.ID, true, nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return "", false, err
		}
	}

	now := s.now()
	if doc.Status == "" {
		doc.Status = model.StatusPending
	}
	doc.CreatedAt, doc.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, owner_id, source, filename, mime_type, status, storage_path,
			content_hash, expected_size, redacted_text, pii_types, rejection_reason,
			import_run_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.OwnerID, string(doc.Source), doc.Filename, doc.MimeType, string(doc.Status), doc.StoragePath,
		nullIfEmpty(doc.ContentHash), doc.ExpectedSize, nullIfEmpty(doc.RedactedText), marshalStrings(doc.PIITypes),
		nullIfEmpty(doc.RejectionReason), nullIfEmpty(doc.ImportRunID), now, now)
	if err == nil {
		return doc.ID, false, nil
	}
	if !isUniqueViolation(err) || doc.ContentHash == "" {
		return "", false, fmt.Errorf("failed to insert document: %w", err)
	}

	// A concurrent writer stored the same content first.
	existing, lookupErr := s.findDocumentByHash(ctx, s.db, doc.OwnerID, doc.ContentHash)
	if lookupErr != nil {
		return "", false, fmt.Errorf("failed to resolve duplicate document: %w", lookupErr)
	}
	return existing.ID, true, nil
}

// FindDocumentByHash returns the live document of owner holding hash.
func (s *SQLiteStorage) FindDocumentByHash(ctx context.Context, ownerID, hash string) (*model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.findDocumentByHash(ctx, s.db, ownerID, hash)
}

func (s *SQLiteStorage) findDocumentByHash(ctx context.Context, q queryable, ownerID, hash string) (*model.Document, error) {
	row := q.QueryRowContext(ctx, `SELECT `+documentColumns+`
		FROM documents
		WHERE owner_id = ? AND content_hash = ? AND status != 'discarded'
	`, ownerID, hash)
	return scanDocument(row)
}

// GetDocument retrieves a document by id.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getDocument(ctx, s.db, id)
}

func (s *SQLiteStorage) getDocument(ctx context.Context, q queryable, id string) (*model.Document, error) {
	row := q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// GetDocuments retrieves the documents with the given ids. Missing ids are
// simply absent from the result.
func (s *SQLiteStorage) GetDocuments(ctx context.Context, ids []string) ([]model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []model.Document{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+`
		FROM documents WHERE id IN (`+placeholders(len(ids))+`)
		ORDER BY created_at, id
	`, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	docs := []model.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// ListDocumentsByRun returns the documents an owner tagged with importRunID.
func (s *SQLiteStorage) ListDocumentsByRun(ctx context.Context, ownerID, importRunID string) ([]model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+`
		FROM documents WHERE owner_id = ? AND import_run_id = ?
		ORDER BY created_at, id
	`, ownerID, importRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	docs := []model.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// AssignContentHash records the hash of the uploaded bytes. If another live
// document of the same owner already holds it, that document's id is
// returned and id is left unchanged.
func (s *SQLiteStorage) AssignContentHash(ctx context.Context, id, hash string) (string, error) {
	if err := validateContext(ctx); err != nil {
		return "", err
	}
	if err := validateString(hash, "hash"); err != nil {
		return "", err
	}

	doc, err := s.getDocument(ctx, s.db, id)
	if err != nil {
		return "", err
	}
	if doc.ContentHash == hash {
		return "", nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE documents SET content_hash = ?, updated_at = ? WHERE id = ?
	`, hash, s.now(), id)
	if err == nil {
		return "", nil
	}
	if !isUniqueViolation(err) {
		return "", fmt.Errorf("failed to set content hash: %w", err)
	}

	existing, err := s.findDocumentByHash(ctx, s.db, doc.OwnerID, hash)
	if err != nil {
		return "", fmt.Errorf("failed to resolve duplicate content: %w", err)
	}
	return existing.ID, nil
}

// SaveExtraction stores the redacted text and detected PII types.
func (s *SQLiteStorage) SaveExtraction(ctx context.Context, id, redactedText string, piiTypes []string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET redacted_text = ?, pii_types = ?, updated_at = ?
		WHERE id = ? AND status != 'discarded'
	`, redactedText, marshalStrings(piiTypes), s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to save extraction: %w", err)
	}
	return requireAffected(res, id)
}

// MarkReady moves a pending document to ready.
func (s *SQLiteStorage) MarkReady(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = 'ready', rejection_reason = NULL, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'ready')
	`, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark document ready: %w", err)
	}
	return requireAffected(res, id)
}

// MarkRejected moves a document to rejected with a reason.
func (s *SQLiteStorage) MarkRejected(ctx context.Context, id, reason string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = 'rejected', rejection_reason = ?, updated_at = ?
		WHERE id = ? AND status != 'discarded'
	`, reason, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark document rejected: %w", err)
	}
	return requireAffected(res, id)
}

// DiscardDocument deletes the transactions and items created from the
// document and marks it discarded, all in one transaction.
func (s *SQLiteStorage) DiscardDocument(ctx context.Context, ownerID, id string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return 0, err
	}

	var deleted int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		doc, err := s.getDocument(ctx, tx, id)
		if err != nil {
			return err
		}
		if doc.OwnerID != ownerID {
			return fmt.Errorf("document %s: %w", id, common.ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM transaction_items
			WHERE transaction_id IN (SELECT id FROM transactions WHERE document_id = ? AND owner_id = ?)
		`, id, ownerID); err != nil {
			return fmt.Errorf("failed to delete items: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			DELETE FROM transactions WHERE document_id = ? AND owner_id = ?
		`, id, ownerID)
		if err != nil {
			return fmt.Errorf("failed to delete transactions: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted = int(n)

		if _, err := tx.ExecContext(ctx, `
			UPDATE documents SET status = 'discarded', redacted_text = NULL, updated_at = ?
			WHERE id = ?
		`, s.now(), id); err != nil {
			return fmt.Errorf("failed to discard document: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var (
		doc                                 model.Document
		source, status                      string
		hash, text, reason, runID, piiTypes sql.NullString
	)
	err := row.Scan(&doc.ID, &doc.OwnerID, &source, &doc.Filename, &doc.MimeType, &status, &doc.StoragePath,
		&hash, &doc.ExpectedSize, &text, &piiTypes, &reason, &runID, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	doc.Source = model.DocumentSource(source)
	doc.Status = model.DocumentStatus(status)
	doc.ContentHash = hash.String
	doc.RedactedText = text.String
	doc.RejectionReason = reason.String
	doc.ImportRunID = runID.String
	doc.PIITypes = unmarshalStrings(piiTypes.String)
	return &doc, nil
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	return nil
}
