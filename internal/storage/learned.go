package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/model"
)

// FindLearnedFacts returns the owner's facts whose merchant occurs in text or
// contains text, ignoring case. Facts with more corrections come first, then
// longer (more specific) merchants.
func (s *SQLiteStorage) FindLearnedFacts(ctx context.Context, ownerID, text string) ([]model.LearnedCategoryFact, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return []model.LearnedCategoryFact{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id, merchant, category, subcategory, correction_count, updated_at
		FROM learned_category_facts
		WHERE owner_id = ?
		  AND (instr(?, lower(merchant)) > 0 OR instr(lower(merchant), ?) > 0)
		ORDER BY correction_count DESC, length(merchant) DESC
	`, ownerID, text, text)
	if err != nil {
		return nil, fmt.Errorf("failed to query learned facts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	facts := []model.LearnedCategoryFact{}
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, *fact)
	}
	return facts, rows.Err()
}

// GetLearnedFact retrieves the fact for an exact merchant, ignoring case.
func (s *SQLiteStorage) GetLearnedFact(ctx context.Context, ownerID, merchant string) (*model.LearnedCategoryFact, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getLearnedFactTx(ctx, s.db, ownerID, merchant)
}

func (s *SQLiteStorage) getLearnedFactTx(ctx context.Context, q queryable, ownerID, merchant string) (*model.LearnedCategoryFact, error) {
	row := q.QueryRowContext(ctx, `
		SELECT owner_id, merchant, category, subcategory, correction_count, updated_at
		FROM learned_category_facts
		WHERE owner_id = ? AND merchant = ?
	`, ownerID, merchant)
	return scanFact(row)
}

// RecordCorrection counts one more correction of merchant to category. A
// correction to a different category replaces the fact and restarts its count.
func (s *SQLiteStorage) RecordCorrection(ctx context.Context, ownerID, merchant, category, subcategory string) (*model.LearnedCategoryFact, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(merchant, "merchant"); err != nil {
		return nil, err
	}
	if err := validateString(category, "category"); err != nil {
		return nil, err
	}

	var fact *model.LearnedCategoryFact
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO learned_category_facts (owner_id, merchant, category, subcategory, correction_count, updated_at)
			VALUES (?, ?, ?, ?, 1, ?)
			ON CONFLICT(owner_id, merchant) DO UPDATE SET
				correction_count = CASE
					WHEN learned_category_facts.category = excluded.category
						THEN learned_category_facts.correction_count + 1
					ELSE 1
				END,
				category = excluded.category,
				subcategory = excluded.subcategory,
				updated_at = excluded.updated_at
		`, ownerID, strings.TrimSpace(merchant), category, nullIfEmpty(subcategory), s.now())
		if err != nil {
			return fmt.Errorf("failed to record correction: %w", err)
		}
		fact, err = s.getLearnedFactTx(ctx, tx, ownerID, strings.TrimSpace(merchant))
		return err
	})
	if err != nil {
		return nil, err
	}
	return fact, nil
}

func scanFact(row rowScanner) (*model.LearnedCategoryFact, error) {
	var (
		fact        model.LearnedCategoryFact
		subcategory sql.NullString
	)
	err := row.Scan(&fact.OwnerID, &fact.Merchant, &fact.Category, &subcategory, &fact.CorrectionCount, &fact.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan learned fact: %w", err)
	}
	fact.Subcategory = subcategory.String
	return &fact, nil
}
