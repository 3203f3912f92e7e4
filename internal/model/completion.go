package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventImportCompleted is the only completion event type emitted today.
const EventImportCompleted = "import_completed"

// CompletionEvent marks an import run as finished. At most one exists per
// (OwnerID, EventType, ImportRunID).
type CompletionEvent struct {
	CreatedAt    time.Time
	AnnouncedAt  *time.Time
	ID           string
	OwnerID      string
	EventType    string
	ImportRunID  string
	Summary      ImportSummary
	Verification Verification
}

// Message is an owner-facing announcement. ClientMessageID is unique per owner.
type Message struct {
	CreatedAt       time.Time
	ID              string
	OwnerID         string
	ClientMessageID string
	Body            string
}

// Verification is the result of checking an import run's documents.
type Verification struct {
	Reason   string   `json:"reason,omitempty"`
	Warnings []string `json:"warnings"`
	Verified bool     `json:"verified"`
}

// CategoryTotal is one entry of the top-categories breakdown.
type CategoryTotal struct {
	Total    decimal.Decimal `json:"total"`
	Category string          `json:"category"`
	Count    int             `json:"count"`
}

// ImportSummary aggregates the transactions produced by an import run.
type ImportSummary struct {
	TotalAmount        decimal.Decimal `json:"total_amount"`
	EarliestDate       string          `json:"earliest_date,omitempty"`
	LatestDate         string          `json:"latest_date,omitempty"`
	TopCategories      []CategoryTotal `json:"top_categories"`
	Issues             []Issue         `json:"issues"`
	DocumentCount      int             `json:"document_count"`
	TransactionCount   int             `json:"transaction_count"`
	UncategorizedCount int             `json:"uncategorized_count"`
	NeedsReview        bool            `json:"needs_review"`
}

// IssueType names a kind of post-import issue.
type IssueType string

// Issue types.
const (
	IssuePossibleDuplicate IssueType = "possible_duplicate"
	IssueUncategorized     IssueType = "uncategorized"
)

// Issue flags transactions that probably need a human look.
type Issue struct {
	Type           IssueType `json:"type"`
	Detail         string    `json:"detail"`
	TransactionIDs []string  `json:"transaction_ids"`
}
