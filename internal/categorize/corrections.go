package categorize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/model"
	"github.com/Veraticus/ledger-intake/internal/service"
)

// Recategorizer rewrites the category of an owner's transactions.
type Recategorizer interface {
	RecategorizeMerchant(ctx context.Context, ownerID, merchant string, c model.Categorization) (int64, error)
}

// Correction is one user correction.
type Correction struct {
	OwnerID     string
	Merchant    string
	Category    string
	Subcategory string
	// Canonical, when set, reinforces the vendor alias Merchant -> Canonical.
	Canonical string
}

// CorrectionResult reports what a correction changed.
type CorrectionResult struct {
	Fact            *model.LearnedCategoryFact
	Alias           *model.VendorAlias
	Recategorized   int64
	AppliesNextTime bool
}

// Corrections records user corrections into the learning store.
type Corrections struct {
	store          service.LearningStore
	txs            Recategorizer
	logger         *slog.Logger
	minCorrections int
}

// NewCorrections creates a recorder. txs may be nil to skip rewriting
// existing transactions.
func NewCorrections(store service.LearningStore, txs Recategorizer, minCorrections int, logger *slog.Logger) *Corrections {
	if minCorrections <= 0 {
		minCorrections = DefaultMinCorrections
	}
	return &Corrections{store: store, txs: txs, minCorrections: minCorrections, logger: common.LoggerOrDefault(logger)}
}

// Record counts the correction, reinforces the alias when one is given and
// relabels the owner's existing transactions from that merchant.
func (c *Corrections) Record(ctx context.Context, corr Correction) (*CorrectionResult, error) {
	corr.Merchant = common.CollapseSpace(corr.Merchant)
	corr.Category = strings.TrimSpace(corr.Category)
	if corr.OwnerID == "" || corr.Merchant == "" || corr.Category == "" {
		return nil, common.Validation("record_correction", "owner, merchant and category are required")
	}

	fact, err := c.store.RecordCorrection(ctx, corr.OwnerID, corr.Merchant, corr.Category, corr.Subcategory)
	if err != nil {
		return nil, fmt.Errorf("failed to record correction: %w", err)
	}
	res := &CorrectionResult{Fact: fact, AppliesNextTime: fact.CorrectionCount >= c.minCorrections}

	if canonical := common.CollapseSpace(corr.Canonical); canonical != "" {
		alias, err := c.store.ReinforceVendorAlias(ctx, corr.OwnerID, corr.Merchant, canonical)
		if err != nil {
			return nil, fmt.Errorf("failed to reinforce vendor alias: %w", err)
		}
		res.Alias = alias
	}

	if c.txs != nil {
		n, err := c.txs.RecategorizeMerchant(ctx, corr.OwnerID, corr.Merchant, model.Categorization{
			Category:    fact.Category,
			Subcategory: fact.Subcategory,
			Confidence:  1,
			Source:      model.CategoryLearned,
		})
		if err != nil {
			c.logger.Warn("Failed to relabel existing transactions", "owner_id", corr.OwnerID, "error", err)
		}
		res.Recategorized = n
	}
	c.logger.Info("Recorded correction",
		"owner_id", corr.OwnerID,
		"category", fact.Category,
		"count", fact.CorrectionCount,
		"recategorized", res.Recategorized)
	return res, nil
}
