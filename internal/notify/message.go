package notify

import (
	"fmt"
	"strings"

	"github.com/Veraticus/ledger-intake/internal/model"
)

// ComposeMessage renders the announcement body for a completed run.
func ComposeMessage(s model.ImportSummary, v model.Verification) string {
	var b strings.Builder
	if s.TransactionCount == 0 {
		b.WriteString("Your import finished, but no transactions were found.")
	} else {
		fmt.Fprintf(&b, "Your import finished: %d transaction(s) totaling %s", s.TransactionCount, s.TotalAmount.StringFixed(2))
		if s.EarliestDate != "" {
			if s.EarliestDate == s.LatestDate {
				fmt.Fprintf(&b, " on %s", s.EarliestDate)
			} else {
				fmt.Fprintf(&b, " from %s to %s", s.EarliestDate, s.LatestDate)
			}
		}
		b.WriteString(".")
	}

	if len(s.TopCategories) > 0 {
		parts := make([]string, len(s.TopCategories))
		for i, c := range s.TopCategories {
			parts[i] = fmt.Sprintf("%s %s", c.Category, c.Total.StringFixed(2))
		}
		fmt.Fprintf(&b, "\nTop categories: %s.", strings.Join(parts, ", "))
	}
	if s.UncategorizedCount > 0 {
		fmt.Fprintf(&b, "\n%d transaction(s) still need a category.", s.UncategorizedCount)
	}
	if dups := countIssues(s.Issues, model.IssuePossibleDuplicate); dups > 0 {
		fmt.Fprintf(&b, "\n%d possible duplicate(s) to review.", dups)
	}
	if s.NeedsReview {
		b.WriteString("\nSome categories were low confidence; please review them.")
	}
	if !v.Verified && v.Reason != "" {
		fmt.Fprintf(&b, "\nHeads up: %s.", v.Reason)
	}
	return b.String()
}

func countIssues(issues []model.Issue, t model.IssueType) int {
	n := 0
	for _, i := range issues {
		if i.Type == t {
			n++
		}
	}
	return n
}
