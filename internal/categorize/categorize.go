// Package categorize assigns categories to transactions through an ordered
// cascade of tiers: the owner's learned corrections, a deterministic rule
// table and a language model fallback.
package categorize

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/model"
)

// Review defaults.
const (
	DefaultReviewThreshold = 0.6
	DefaultReviewMaxLow    = 2
)

var categorizedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "intake_categorizations_total",
		Help: "Categorizations by the tier that produced them.",
	},
	[]string{"source"},
)

// Tier is one step of the cascade. ok=false passes to the next tier.
type Tier interface {
	Name() string
	TryCategorize(ctx context.Context, tx *model.Transaction, ownerID string) (model.Categorization, bool)
}

// Config tunes batch review.
type Config struct {
	ReviewThreshold float64
	ReviewMaxLow    int
}

// BatchResult holds one categorization per input transaction, in order.
type BatchResult struct {
	Results       []model.Categorization
	LowConfidence int
	NeedsReview   bool
}

// Engine runs the tiers in order; the first tier with a result wins.
type Engine struct {
	logger *slog.Logger
	tiers  []Tier
	cfg    Config
}

// NewEngine creates an engine over tiers.
func NewEngine(cfg Config, logger *slog.Logger, tiers ...Tier) *Engine {
	if cfg.ReviewThreshold <= 0 {
		cfg.ReviewThreshold = DefaultReviewThreshold
	}
	if cfg.ReviewMaxLow <= 0 {
		cfg.ReviewMaxLow = DefaultReviewMaxLow
	}
	return &Engine{
		tiers:  tiers,
		cfg:    cfg,
		logger: common.LoggerOrDefault(logger).With("component", "categorize"),
	}
}

// Categorize returns the first tier result, or an uncategorized result.
func (e *Engine) Categorize(ctx context.Context, tx *model.Transaction, ownerID string) model.Categorization {
	for _, tier := range e.tiers {
		if ctx.Err() != nil {
			break
		}
		if c, ok := tier.TryCategorize(ctx, tx, ownerID); ok {
			categorizedTotal.WithLabelValues(string(c.Source)).Inc()
			return c
		}
	}
	categorizedTotal.WithLabelValues(string(model.CategoryNone)).Inc()
	return model.Uncategorized()
}

// CategorizeBatch categorizes every transaction. The batch needs review when
// more than ReviewMaxLow results fall below ReviewThreshold.
func (e *Engine) CategorizeBatch(ctx context.Context, txs []model.Transaction, ownerID string) BatchResult {
	res := BatchResult{Results: make([]model.Categorization, len(txs))}
	for i := range txs {
		c := e.Categorize(ctx, &txs[i], ownerID)
		res.Results[i] = c
		if c.Confidence < e.cfg.ReviewThreshold {
			res.LowConfidence++
		}
	}
	res.NeedsReview = res.LowConfidence > e.cfg.ReviewMaxLow
	if res.NeedsReview {
		e.logger.Info("Batch needs review",
			"owner_id", ownerID,
			"transactions", len(txs),
			"low_confidence", res.LowConfidence)
	}
	return res
}

// Review counts transactions whose stored confidence falls below the review
// threshold and reports whether they are too many.
func (e *Engine) Review(txs []model.Transaction) (int, bool) {
	low := 0
	for i := range txs {
		if txs[i].Confidence < e.cfg.ReviewThreshold {
			low++
		}
	}
	return low, low > e.cfg.ReviewMaxLow
}

// text is what rule and learned matching read.
func text(tx *model.Transaction) string {
	return common.CollapseSpace(tx.Description + " " + tx.Merchant)
}
