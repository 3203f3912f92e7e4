package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/model"
)

// Vendor alias reinforcement constants.
const (
	AliasInitialConfidence = 0.5
	AliasReinforcement     = 0.1
)

// GetVendorAlias retrieves the alias of rawName for owner.
func (s *SQLiteStorage) GetVendorAlias(ctx context.Context, ownerID, rawName string) (*model.VendorAlias, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(rawName, "rawName"); err != nil {
		return nil, err
	}
	return s.getVendorAliasTx(ctx, s.db, ownerID, rawName)
}

func (s *SQLiteStorage) getVendorAliasTx(ctx context.Context, q queryable, ownerID, rawName string) (*model.VendorAlias, error) {
	var alias model.VendorAlias
	err := q.QueryRowContext(ctx, `
		SELECT owner_id, raw_name, canonical_name, confidence, updated_at
		FROM vendor_aliases
		WHERE owner_id = ? AND raw_name = ?
	`, ownerID, rawName).Scan(&alias.OwnerID, &alias.RawName, &alias.CanonicalName, &alias.Confidence, &alias.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vendor alias: %w", err)
	}
	return &alias, nil
}

// ReinforceVendorAlias confirms rawName → canonicalName. A new alias starts at
// 0.5; each confirmation adds 0.1, capped at 1.0. Pointing an alias at a
// different canonical name restarts it at 0.5.
func (s *SQLiteStorage) ReinforceVendorAlias(ctx context.Context, ownerID, rawName, canonicalName string) (*model.VendorAlias, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(rawName, "rawName"); err != nil {
		return nil, err
	}
	if err := validateString(canonicalName, "canonicalName"); err != nil {
		return nil, err
	}

	var alias *model.VendorAlias
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO vendor_aliases (owner_id, raw_name, canonical_name, confidence, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(owner_id, raw_name) DO UPDATE SET
				confidence = CASE
					WHEN vendor_aliases.canonical_name = excluded.canonical_name
						THEN MIN(1.0, vendor_aliases.confidence + ?)
					ELSE excluded.confidence
				END,
				canonical_name = excluded.canonical_name,
				updated_at = excluded.updated_at
		`, ownerID, rawName, canonicalName, AliasInitialConfidence, s.now(), AliasReinforcement)
		if err != nil {
			return fmt.Errorf("failed to reinforce vendor alias: %w", err)
		}

		alias, err = s.getVendorAliasTx(ctx, tx, ownerID, rawName)
		return err
	})
	if err != nil {
		return nil, err
	}
	// Floating point drift from repeated +0.1 is trimmed to two places.
	alias.Confidence = math.Round(alias.Confidence*100) / 100
	return alias, nil
}
