package categorize

import (
	"context"
	"log/slog"
	"math"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/model"
)

// DefaultMinCorrections is how often an owner must correct a merchant before
// the correction is applied automatically.
const DefaultMinCorrections = 2

// FactFinder looks up learned facts.
type FactFinder interface {
	FindLearnedFacts(ctx context.Context, ownerID, text string) ([]model.LearnedCategoryFact, error)
}

// LearnedTier applies the owner's repeated corrections.
type LearnedTier struct {
	store          FactFinder
	logger         *slog.Logger
	minCorrections int
}

// NewLearnedTier creates the tier.
func NewLearnedTier(store FactFinder, minCorrections int, logger *slog.Logger) *LearnedTier {
	if minCorrections <= 0 {
		minCorrections = DefaultMinCorrections
	}
	return &LearnedTier{store: store, minCorrections: minCorrections, logger: common.LoggerOrDefault(logger)}
}

// Name implements Tier.
func (t *LearnedTier) Name() string { return "learned" }

// TryCategorize implements Tier. Merchant and description are matched
// separately so a short fact merchant still hits a long description.
func (t *LearnedTier) TryCategorize(ctx context.Context, tx *model.Transaction, ownerID string) (model.Categorization, bool) {
	for _, candidate := range []string{tx.Merchant, tx.Description} {
		if candidate == "" {
			continue
		}
		facts, err := t.store.FindLearnedFacts(ctx, ownerID, candidate)
		if err != nil {
			t.logger.Warn("Failed to look up learned facts", "owner_id", ownerID, "error", err)
			return model.Categorization{}, false
		}
		for _, f := range facts {
			if f.CorrectionCount < t.minCorrections {
				continue
			}
			return model.Categorization{
				Category:    f.Category,
				Subcategory: f.Subcategory,
				Confidence:  learnedConfidence(f.CorrectionCount, t.minCorrections),
				Source:      model.CategoryLearned,
			}, true
		}
	}
	return model.Categorization{}, false
}

func learnedConfidence(count, minCorrections int) float64 {
	c := 0.95 + 0.01*float64(count-minCorrections)
	return math.Round(math.Min(0.99, c)*100) / 100
}
