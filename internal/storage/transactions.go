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

const transactionColumns = `id, owner_id, document_id, kind, date, merchant, description, amount,
	currency, category, subcategory, confidence, category_source, source, created_at, updated_at`

// amountKey is the canonical text form of an amount inside the dedup key.
func amountKey(t *model.Transaction) string {
	return t.Amount.StringFixed(2)
}

// UpsertTransaction stores txn keyed by (owner, date, merchant, amount,
// currency). An existing row has its mutable fields updated; a missing row
// is inserted; an insert that loses a race re-reads the winner's id.
func (s *SQLiteStorage) UpsertTransaction(ctx context.Context, txn *model.Transaction) (string, bool, error) {
	if err := validateContext(ctx); err != nil {
		return "", false, err
	}
	if err := validateTransaction(txn); err != nil {
		return "", false, err
	}

	id, err := s.lookupTransaction(ctx, txn)
	switch {
	case err == nil:
		if err := s.updateTransaction(ctx, id, txn); err != nil {
			return "", false, err
		}
		txn.ID = id
		return id, false, nil
	case !errors.Is(err, common.ErrNotFound):
		return "", false, err
	}

	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	if txn.CategorySource == "" {
		txn.CategorySource = model.CategoryNone
	}
	now := s.now()
	txn.CreatedAt, txn.UpdatedAt = now, now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, txn.ID, txn.OwnerID, nullIfEmpty(txn.DocumentID), string(txn.Kind), txn.DateString(), txn.Merchant,
		txn.Description, amountKey(txn), txn.Currency, nullIfEmpty(txn.Category), nullIfEmpty(txn.Subcategory),
		txn.Confidence, string(txn.CategorySource), string(txn.Source), now, now)
	if err == nil {
		return txn.ID, true, nil
	}
	if !isUniqueViolation(err) {
		return "", false, fmt.Errorf("failed to insert transaction: %w", err)
	}

	id, err = s.lookupTransaction(ctx, txn)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve concurrent transaction insert: %w", err)
	}
	txn.ID = id
	return id, false, nil
}

func (s *SQLiteStorage) lookupTransaction(ctx context.Context, txn *model.Transaction) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM transactions
		WHERE owner_id = ? AND date = ? AND merchant = ? AND amount = ? AND currency = ?
	`, txn.OwnerID, txn.DateString(), txn.Merchant, amountKey(txn), txn.Currency).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", common.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up transaction: %w", err)
	}
	return id, nil
}

// updateTransaction refreshes mutable fields. An uncategorized update never
// erases an existing categorization.
func (s *SQLiteStorage) updateTransaction(ctx context.Context, id string, txn *model.Transaction) error {
	keep := txn.CategorySource == "" || txn.CategorySource == model.CategoryNone
	_, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET
			kind = ?,
			document_id = COALESCE(?, document_id),
			description = CASE WHEN ? = '' THEN description ELSE ? END,
			category = CASE WHEN ? THEN category ELSE ? END,
			subcategory = CASE WHEN ? THEN subcategory ELSE ? END,
			confidence = CASE WHEN ? THEN confidence ELSE ? END,
			category_source = CASE WHEN ? THEN category_source ELSE ? END,
			updated_at = ?
		WHERE id = ?
	`, string(txn.Kind), nullIfEmpty(txn.DocumentID),
		txn.Description, txn.Description,
		keep, nullIfEmpty(txn.Category),
		keep, nullIfEmpty(txn.Subcategory),
		keep, txn.Confidence,
		keep, string(txn.CategorySource),
		s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return nil
}

// ReplaceItems deletes every item of the transaction and inserts items.
func (s *SQLiteStorage) ReplaceItems(ctx context.Context, transactionID string, items []model.TransactionItem) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(transactionID, "transactionID"); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM transaction_items WHERE transaction_id = ?`, transactionID); err != nil {
			return fmt.Errorf("failed to delete items: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO transaction_items (transaction_id, name, qty, unit, price)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare item insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, item := range items {
			if _, err := stmt.ExecContext(ctx, transactionID, item.Name, item.Qty.String(), item.Unit, item.Price.StringFixed(2)); err != nil {
				return fmt.Errorf("failed to insert item %q: %w", item.Name, err)
			}
		}
		return nil
	})
}

// GetItems returns the items of a transaction in insertion order.
func (s *SQLiteStorage) GetItems(ctx context.Context, transactionID string) ([]model.TransactionItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, name, qty, unit, price
		FROM transaction_items WHERE transaction_id = ? ORDER BY id
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := []model.TransactionItem{}
	for rows.Next() {
		var item model.TransactionItem
		if err := rows.Scan(&item.ID, &item.TransactionID, &item.Name, &item.Qty, &item.Unit, &item.Price); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetTransaction retrieves a transaction by id.
func (s *SQLiteStorage) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	return scanTransaction(row)
}

// ListTransactionsByDocuments returns the transactions linked to any of the documents.
func (s *SQLiteStorage) ListTransactionsByDocuments(ctx context.Context, documentIDs []string) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if len(documentIDs) == 0 {
		return []model.Transaction{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+transactionColumns+`
		FROM transactions WHERE document_id IN (`+placeholders(len(documentIDs))+`)
		ORDER BY date, created_at, id
	`, stringArgs(documentIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectTransactions(rows)
}

// ListTransactionsByOwner returns all transactions of an owner, oldest first.
func (s *SQLiteStorage) ListTransactionsByOwner(ctx context.Context, ownerID string) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+transactionColumns+`
		FROM transactions WHERE owner_id = ?
		ORDER BY date, created_at, id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectTransactions(rows)
}

// RecategorizeMerchant applies c to every transaction of owner whose merchant
// equals merchant, ignoring case.
func (s *SQLiteStorage) RecategorizeMerchant(ctx context.Context, ownerID, merchant string, c model.Categorization) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET category = ?, subcategory = ?, confidence = ?, category_source = ?, updated_at = ?
		WHERE owner_id = ? AND merchant = ? COLLATE NOCASE
	`, nullIfEmpty(c.Category), nullIfEmpty(c.Subcategory), c.Confidence, string(c.Source), s.now(), ownerID, merchant)
	if err != nil {
		return 0, fmt.Errorf("failed to recategorize merchant: %w", err)
	}
	return res.RowsAffected()
}

func collectTransactions(rows *sql.Rows) ([]model.Transaction, error) {
	txns := []model.Transaction{}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *txn)
	}
	return txns, rows.Err()
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var (
		txn                              model.Transaction
		docID, category, subcategory     sql.NullString
		kind, date, catSource, txnSource string
	)
	err := row.Scan(&txn.ID, &txn.OwnerID, &docID, &kind, &date, &txn.Merchant, &txn.Description, &txn.Amount,
		&txn.Currency, &category, &subcategory, &txn.Confidence, &catSource, &txnSource, &txn.CreatedAt, &txn.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	txn.DocumentID = docID.String
	txn.Kind = model.TransactionKind(kind)
	txn.Category = category.String
	txn.Subcategory = subcategory.String
	txn.CategorySource = model.CategorySource(catSource)
	txn.Source = model.TransactionSource(txnSource)
	if date != "" {
		if d, err := time.Parse(model.DateLayout, date); err == nil {
			txn.Date = d
		}
	}
	return &txn, nil
}
