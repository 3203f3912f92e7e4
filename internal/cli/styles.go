// Package cli renders import progress and run reports for the terminal.
package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/ledger-intake/internal/model"
)

var (
	accentColor  = lipgloss.Color("#5B8DEF")
	readyColor   = lipgloss.Color("#4ECDC4")
	pendingColor = lipgloss.Color("#FFE66D")
	rejectColor  = lipgloss.Color("#FF6B6B")
	noteColor    = lipgloss.Color("#95E1D3")
	mutedColor   = lipgloss.Color("#666666")
	ruleColor    = lipgloss.Color("#333")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accentColor).MarginBottom(1)
	readyStyle   = lipgloss.NewStyle().Foreground(readyColor)
	pendingStyle = lipgloss.NewStyle().Foreground(pendingColor)
	rejectStyle  = lipgloss.NewStyle().Foreground(rejectColor)
	noteStyle    = lipgloss.NewStyle().Foreground(noteColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	labelStyle   = lipgloss.NewStyle().Bold(true)

	// summaryBoxStyle frames the run summary printed after an import.
	summaryBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ruleColor).
			Padding(1, 2)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(ruleColor)

	cellStyle = lipgloss.NewStyle().PaddingRight(2)
)

// statusStyles colours the status column of the document table. Statuses
// not listed are still in flight.
var statusStyles = map[model.DocumentStatus]lipgloss.Style{
	model.StatusReady:     readyStyle,
	model.StatusRejected:  rejectStyle,
	model.StatusDiscarded: rejectStyle,
}

const (
	iconOK         = "✓"
	iconFail       = "✗"
	iconWarn       = "⚠️"
	iconInfo       = "ℹ️"
	iconRun        = "🧾"
	iconCategories = "📊"
)

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return readyStyle.Render(iconOK + " " + message)
}

// FormatError formats an error message with icon.
func FormatError(message string) string {
	return rejectStyle.Render(iconFail + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return pendingStyle.Render(iconWarn + " " + message)
}

// FormatInfo formats an info message with icon.
func FormatInfo(message string) string {
	return noteStyle.Render(iconInfo + " " + message)
}

// FormatTitle formats a command heading.
func FormatTitle(title string) string {
	return titleStyle.Render(iconRun + " " + title)
}

func styleStatus(status string) string {
	style, ok := statusStyles[model.DocumentStatus(status)]
	if !ok {
		style = pendingStyle
	}
	return style.Render(status)
}

func renderBox(title, content string) string {
	return summaryBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.UnsetMargins().Render(title),
		content,
	))
}
