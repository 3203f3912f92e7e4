package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO calendar date layout used for stored dates.
const DateLayout = "2006-01-02"

// TransactionKind identifies the document shape a transaction came from.
type TransactionKind string

const (
	// KindReceipt is a point-of-sale receipt.
	KindReceipt TransactionKind = "receipt"
	// KindInvoice is a vendor invoice.
	KindInvoice TransactionKind = "invoice"
	// KindBank is a line from a bank or card statement.
	KindBank TransactionKind = "bank"
)

// TransactionSource records how the transaction entered the system.
type TransactionSource string

const (
	// SourceOCR covers text extracted from images and PDFs.
	SourceOCR TransactionSource = "ocr"
	// SourceCSV covers tabular CSV and OFX exports.
	SourceCSV TransactionSource = "csv"
	// SourceManual covers hand-entered records.
	SourceManual TransactionSource = "manual"
)

// Transaction is the canonical, normalized record persisted per owner.
// The tuple (OwnerID, Date, Merchant, Amount, Currency) is its natural key.
type Transaction struct {
	Date           time.Time // zero when the source had no parseable date
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Amount         decimal.Decimal // expense-positive
	ID             string
	OwnerID        string
	DocumentID     string
	Kind           TransactionKind
	Merchant       string
	Description    string
	Currency       string
	Category       string
	Subcategory    string
	CategorySource CategorySource
	Source         TransactionSource
	Items          []TransactionItem
	Confidence     float64
}

// HasDate reports whether the transaction carries a calendar date.
func (t *Transaction) HasDate() bool {
	return !t.Date.IsZero()
}

// DateString returns the ISO date or "" when absent.
func (t *Transaction) DateString() string {
	if t.Date.IsZero() {
		return ""
	}
	return t.Date.Format(DateLayout)
}

// ApplyCategorization copies a categorization result onto the transaction.
func (t *Transaction) ApplyCategorization(c Categorization) {
	t.Category = c.Category
	t.Subcategory = c.Subcategory
	t.Confidence = c.Confidence
	t.CategorySource = c.Source
}

// TransactionItem is a line item owned by exactly one transaction.
type TransactionItem struct {
	Qty           decimal.Decimal
	Price         decimal.Decimal
	ID            int64
	TransactionID string
	Name          string
	Unit          string
}

// RawTransaction is a parser candidate before normalization. Date is the
// text as found, Amount is an unsigned magnitude for expenses.
type RawTransaction struct {
	Amount      decimal.Decimal
	Date        string
	Merchant    string
	Description string
	Currency    string
	RawLine     string
}
