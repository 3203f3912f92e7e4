package categorize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/ledger-intake/internal/cache"
	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/llm"
	"github.com/Veraticus/ledger-intake/internal/model"
)

// AI tier defaults.
const (
	AIConfidence = 0.70
	aiCacheSize  = 2048
	aiCacheTTL   = 24 * time.Hour
)

// DefaultAIMinAmount is the amount at or below which the model is not asked.
var DefaultAIMinAmount = decimal.NewFromFloat(5.00)

const categorySystemPrompt = `You categorize financial transactions.
Answer with JSON only: {"category": "...", "subcategory": "..."}.
The category must be exactly one of: %s.
Use "Uncategorized" when unsure. Subcategory may be empty.`

type aiAnswer struct {
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
}

// AITier asks a language model for a label from the closed vocabulary.
type AITier struct {
	client    llm.Client
	cache     cache.Cache[string, model.Categorization]
	logger    *slog.Logger
	minAmount decimal.Decimal
}

// NewAITier creates the tier. A nil cache gets a bounded in-process one.
func NewAITier(client llm.Client, minAmount decimal.Decimal, c cache.Cache[string, model.Categorization], logger *slog.Logger) *AITier {
	if c == nil {
		c = cache.NewLRU[string, model.Categorization]("ai_categories", aiCacheSize, aiCacheTTL)
	}
	if minAmount.IsZero() {
		minAmount = DefaultAIMinAmount
	}
	return &AITier{client: client, cache: c, minAmount: minAmount, logger: common.LoggerOrDefault(logger)}
}

// Name implements Tier.
func (t *AITier) Name() string { return "ai" }

// TryCategorize implements Tier. Answers outside the vocabulary, and
// "Uncategorized" itself, count as no result.
func (t *AITier) TryCategorize(ctx context.Context, tx *model.Transaction, _ string) (model.Categorization, bool) {
	if t.client == nil || tx.Amount.Abs().LessThanOrEqual(t.minAmount) {
		return model.Categorization{}, false
	}
	key := strings.ToUpper(common.CollapseSpace(tx.Merchant))
	if key == "" {
		key = strings.ToUpper(common.CollapseSpace(tx.Description))
	}
	if key == "" {
		return model.Categorization{}, false
	}
	if c, ok := t.cache.Get(key); ok {
		return c, true
	}

	prompt := fmt.Sprintf("Merchant: %s\nDescription: %s\nAmount: %s %s",
		orNA(tx.Merchant), orNA(tx.Description), tx.Amount.StringFixed(2), tx.Currency)
	content, err := t.client.Complete(ctx, llm.Request{
		System: fmt.Sprintf(categorySystemPrompt, strings.Join(model.Vocabulary, ", ")),
		Prompt: prompt,
	})
	if err != nil {
		t.logger.Warn("AI categorization failed", "error", err)
		return model.Categorization{}, false
	}

	label, sub := parseAnswer(content)
	category, ok := model.InVocabulary(label)
	if !ok || category == "Uncategorized" {
		return model.Categorization{}, false
	}
	c := model.Categorization{
		Category:    category,
		Subcategory: sub,
		Confidence:  AIConfidence,
		Source:      model.CategoryAI,
	}
	t.cache.Set(key, c)
	return c, true
}

// parseAnswer accepts the JSON shape or a bare label.
func parseAnswer(content string) (string, string) {
	var a aiAnswer
	if err := llm.DecodeJSON(content, &a); err == nil {
		return strings.TrimSpace(a.Category), strings.TrimSpace(a.Subcategory)
	}
	return strings.Trim(strings.TrimSpace(content), `"'.`), ""
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
