package notify

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/ledger-intake/internal/model"
)

const (
	topCategories       = 5
	duplicateSimilarity = 0.5
	uncategorizedLabel  = "Uncategorized"
)

// BuildSummary aggregates an import run's transactions. Empty input gives the
// zero summary with non-nil slices.
func BuildSummary(txs []model.Transaction) model.ImportSummary {
	s := model.ImportSummary{
		TotalAmount:   decimal.Zero,
		TopCategories: []model.CategoryTotal{},
		Issues:        FindIssues(txs),
	}

	byCategory := map[string]*model.CategoryTotal{}
	for i := range txs {
		tx := &txs[i]
		s.TransactionCount++
		s.TotalAmount = s.TotalAmount.Add(tx.Amount)

		if isUncategorized(tx) {
			s.UncategorizedCount++
		} else {
			ct, ok := byCategory[tx.Category]
			if !ok {
				ct = &model.CategoryTotal{Category: tx.Category, Total: decimal.Zero}
				byCategory[tx.Category] = ct
			}
			ct.Count++
			ct.Total = ct.Total.Add(tx.Amount)
		}

		if d := tx.DateString(); d != "" {
			if s.EarliestDate == "" || d < s.EarliestDate {
				s.EarliestDate = d
			}
			if d > s.LatestDate {
				s.LatestDate = d
			}
		}
	}

	for _, ct := range byCategory {
		s.TopCategories = append(s.TopCategories, *ct)
	}
	sort.Slice(s.TopCategories, func(i, j int) bool {
		a, b := s.TopCategories[i], s.TopCategories[j]
		if c := a.Total.Cmp(b.Total); c != 0 {
			return c > 0
		}
		return a.Category < b.Category
	})
	if len(s.TopCategories) > topCategories {
		s.TopCategories = s.TopCategories[:topCategories]
	}
	return s
}

// FindIssues flags likely duplicates (same date and amount, similar
// merchant) and transactions without a category.
func FindIssues(txs []model.Transaction) []model.Issue {
	issues := []model.Issue{}

	tokens := make([]map[string]bool, len(txs))
	for i := range txs {
		tokens[i] = merchantTokens(txs[i].Merchant)
	}
	for i := 0; i < len(txs); i++ {
		for j := i + 1; j < len(txs); j++ {
			a, b := &txs[i], &txs[j]
			if a.DateString() != b.DateString() || !a.Amount.Equal(b.Amount) {
				continue
			}
			if jaccard(tokens[i], tokens[j]) < duplicateSimilarity {
				continue
			}
			issues = append(issues, model.Issue{
				Type:           model.IssuePossibleDuplicate,
				Detail:         fmt.Sprintf("%s and %s on %s for %s look like the same purchase", a.Merchant, b.Merchant, dateOrUnknown(a), a.Amount.StringFixed(2)),
				TransactionIDs: []string{a.ID, b.ID},
			})
		}
	}

	var uncategorized []string
	for i := range txs {
		if isUncategorized(&txs[i]) {
			uncategorized = append(uncategorized, txs[i].ID)
		}
	}
	if len(uncategorized) > 0 {
		issues = append(issues, model.Issue{
			Type:           model.IssueUncategorized,
			Detail:         fmt.Sprintf("%d transaction(s) need a category", len(uncategorized)),
			TransactionIDs: uncategorized,
		})
	}
	return issues
}

func isUncategorized(tx *model.Transaction) bool {
	return tx.Category == "" || strings.EqualFold(tx.Category, uncategorizedLabel)
}

func merchantTokens(s string) map[string]bool {
	out := map[string]bool{}
	for _, f := range strings.FieldsFunc(strings.ToUpper(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[f] = true
	}
	return out
}

// jaccard is |a∩b| / |a∪b|; two empty sets share nothing.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

func dateOrUnknown(tx *model.Transaction) string {
	if d := tx.DateString(); d != "" {
		return d
	}
	return "an unknown date"
}
