package categorize

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Veraticus/ledger-intake/internal/model"
)

// Rule labels transactions whose text contains a keyword or matches Pattern.
type Rule struct {
	Category    string
	Subcategory string
	Pattern     string
	Keywords    []string
	Confidence  float64
}

// DefaultRules is the built-in table. Order matters: the first match wins.
var DefaultRules = []Rule{
	{
		Category:   "Groceries",
		Keywords:   []string{"save-on-foods", "sobeys", "safeway", "kroger", "whole foods", "costco", "superstore", "loblaws", "metro grocery", "no frills", "trader joe", "grocery"},
		Pattern:    `\b(walmart|target|aldi|freshco)\b`,
		Confidence: 0.9,
	},
	{
		Category:    "Transportation",
		Subcategory: "Fuel",
		Keywords:    []string{"petro-canada", "gas station", "petrol", "chevron", "exxon", "husky"},
		Pattern:     `\b(shell|esso|bp|mobil|fuel)\b`,
		Confidence:  0.9,
	},
	{
		Category:   "Dining",
		Keywords:   []string{"restaurant", "bistro", "starbucks", "tim hortons", "mcdonald", "pizza", "grill", "diner", "café", "cafe", "coffee"},
		Pattern:    `\b(subway|a&w|wendy'?s|kfc)\b`,
		Confidence: 0.85,
	},
	{
		Category:    "Office",
		Subcategory: "Supplies",
		Keywords:    []string{"staples", "office depot", "office max", "officemax", "grand & toy"},
		Confidence:  0.85,
	},
	{
		Category:   "Utilities",
		Keywords:   []string{"hydro", "electric", "gas company", "water", "internet", "cable", "rogers", "bell canada", "telus", "comcast", "verizon"},
		Pattern:    `\bphone\b`,
		Confidence: 0.85,
	},
	{
		Category:    "Healthcare",
		Subcategory: "Pharmacy",
		Keywords:    []string{"pharmacy", "shoppers drug", "rexall", "walgreens", "london drugs", "pharmasave"},
		Pattern:     `\b(cvs|drug mart)\b`,
		Confidence:  0.9,
	},
	{
		Category:    "Entertainment",
		Subcategory: "Streaming",
		Keywords:    []string{"netflix", "spotify", "disney+", "disney plus", "crave", "hulu", "apple music", "youtube premium", "prime video"},
		Confidence:  0.9,
	},
	{
		Category:    "Shopping",
		Subcategory: "Online",
		Keywords:    []string{"amazon", "amzn", "ebay", "etsy", "shopify", "aliexpress", "temu"},
		Confidence:  0.85,
	},
}

type compiledRule struct {
	re *regexp.Regexp
	Rule
}

// RuleTier matches the rule table against description and merchant.
type RuleTier struct {
	rules []compiledRule
}

// NewRuleTier compiles rules. A rule pattern that does not compile is an error.
func NewRuleTier(rules []Rule) (*RuleTier, error) {
	t := &RuleTier{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		if r.Category == "" {
			return nil, fmt.Errorf("rule %d: category is required", i)
		}
		cr := compiledRule{Rule: r}
		cr.Keywords = make([]string, len(r.Keywords))
		for j, kw := range r.Keywords {
			cr.Keywords[j] = strings.ToLower(kw)
		}
		if r.Pattern != "" {
			re, err := regexp.Compile("(?i)" + r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%s): invalid pattern: %w", i, r.Category, err)
			}
			cr.re = re
		}
		t.rules = append(t.rules, cr)
	}
	return t, nil
}

// MustDefaultRuleTier returns the tier over DefaultRules.
func MustDefaultRuleTier() *RuleTier {
	t, err := NewRuleTier(DefaultRules)
	if err != nil {
		panic(err)
	}
	return t
}

// Name implements Tier.
func (t *RuleTier) Name() string { return "rule" }

// TryCategorize implements Tier.
func (t *RuleTier) TryCategorize(_ context.Context, tx *model.Transaction, _ string) (model.Categorization, bool) {
	s := strings.ToLower(text(tx))
	if s == "" {
		return model.Categorization{}, false
	}
	for _, r := range t.rules {
		if r.matches(s) {
			return model.Categorization{
				Category:    r.Category,
				Subcategory: r.Subcategory,
				Confidence:  r.Confidence,
				Source:      model.CategoryRule,
			}, true
		}
	}
	return model.Categorization{}, false
}

func (r compiledRule) matches(s string) bool {
	for _, kw := range r.Keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return r.re != nil && r.re.MatchString(s)
}
