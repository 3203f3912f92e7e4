package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/ledger-intake/internal/categorize"
	"github.com/Veraticus/ledger-intake/internal/model"
)

// DocumentRow is one line of the per-document import table.
type DocumentRow struct {
	Filename string
	Status   string
	Detail   string
}

// RenderDocuments renders a table of documents and their processing status.
func RenderDocuments(rows []DocumentRow) string {
	if len(rows) == 0 {
		return mutedStyle.Render("No documents.")
	}

	fileW, statusW := len("File"), len("Status")
	for _, r := range rows {
		fileW = max(fileW, lipgloss.Width(r.Filename))
		statusW = max(statusW, lipgloss.Width(r.Status))
	}
	fileCol := cellStyle.Width(fileW + 2)
	statusCol := cellStyle.Width(statusW + 2)

	lines := []string{
		headerStyle.Render(lipgloss.JoinHorizontal(lipgloss.Top,
			fileCol.Render("File"), statusCol.Render("Status"), "Detail")),
	}
	for _, r := range rows {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			fileCol.Render(r.Filename),
			statusCol.Render(styleStatus(r.Status)),
			mutedStyle.Render(r.Detail)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// RenderRunSummary renders the completion summary of an import run.
func RenderRunSummary(importRunID string, s model.ImportSummary, v model.Verification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Run:"), importRunID)
	fmt.Fprintf(&b, "%s %d\n", labelStyle.Render("Documents:"), s.DocumentCount)
	fmt.Fprintf(&b, "%s %d\n", labelStyle.Render("Transactions:"), s.TransactionCount)
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Total:"), s.TotalAmount.StringFixed(2))
	if s.EarliestDate != "" {
		fmt.Fprintf(&b, "%s %s to %s\n", labelStyle.Render("Dates:"), s.EarliestDate, s.LatestDate)
	}

	if len(s.TopCategories) > 0 {
		b.WriteString("\n" + noteStyle.Render(iconCategories+" Top categories") + "\n")
		for _, c := range s.TopCategories {
			fmt.Fprintf(&b, "  %-20s %10s  (%d)\n", c.Category, c.Total.StringFixed(2), c.Count)
		}
	}

	if s.UncategorizedCount > 0 {
		b.WriteString("\n" + FormatWarning(fmt.Sprintf("%d uncategorized transaction(s)", s.UncategorizedCount)) + "\n")
	}
	for _, issue := range s.Issues {
		if issue.Type == model.IssuePossibleDuplicate {
			b.WriteString(FormatWarning("Possible duplicate: "+issue.Detail) + "\n")
		}
	}
	if s.NeedsReview {
		b.WriteString(FormatWarning("Low confidence categories need review") + "\n")
	}

	b.WriteString("\n" + RenderVerification(v))
	return renderBox("Import complete", strings.TrimRight(b.String(), "\n"))
}

// RenderVerification renders an integrity verification result.
func RenderVerification(v model.Verification) string {
	var b strings.Builder
	if v.Verified {
		b.WriteString(FormatSuccess("Verified"))
	} else {
		reason := v.Reason
		if reason == "" {
			reason = "unknown reason"
		}
		b.WriteString(FormatError("Not verified: " + reason))
	}
	for _, w := range v.Warnings {
		b.WriteString("\n  " + mutedStyle.Render("- "+w))
	}
	return b.String()
}

// RenderCorrection renders the outcome of recording a correction.
func RenderCorrection(res *categorize.CorrectionResult) string {
	if res == nil || res.Fact == nil {
		return FormatError("No correction recorded")
	}
	f := res.Fact
	label := f.Category
	if f.Subcategory != "" {
		label += " / " + f.Subcategory
	}

	lines := []string{
		FormatSuccess(fmt.Sprintf("%s → %s", f.Merchant, label)),
		fmt.Sprintf("Corrections recorded: %d", f.CorrectionCount),
	}
	if res.AppliesNextTime {
		lines = append(lines, noteStyle.Render("Future imports from this merchant will use this category."))
	} else {
		lines = append(lines, mutedStyle.Render("Future imports will use this category after more corrections."))
	}
	if res.Alias != nil {
		lines = append(lines, fmt.Sprintf("Alias: %s = %s", res.Alias.RawName, res.Alias.CanonicalName))
	}
	if res.Recategorized > 0 {
		lines = append(lines, fmt.Sprintf("Relabeled %d existing transaction(s)", res.Recategorized))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
