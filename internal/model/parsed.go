package model

import "github.com/shopspring/decimal"

// ParsedDocument is the closed set of document shapes the parser can emit.
// The unexported method keeps the set closed to this package.
type ParsedDocument interface {
	Kind() TransactionKind
	isParsedDocument()
}

// ParsedItem is a line item as read from a receipt or invoice.
type ParsedItem struct {
	Qty   decimal.Decimal
	Price decimal.Decimal
	Name  string
	Unit  string
}

// Receipt is a point-of-sale receipt with a single total.
type Receipt struct {
	Total    decimal.NullDecimal
	Merchant string
	Date     string
	Currency string
	Items    []ParsedItem
}

// Kind implements ParsedDocument.
func (Receipt) Kind() TransactionKind { return KindReceipt }
func (Receipt) isParsedDocument()     {}

// Invoice is a vendor invoice. Total wins over Subtotal+Tax when present.
type Invoice struct {
	Total     decimal.NullDecimal
	Subtotal  decimal.NullDecimal
	Tax       decimal.NullDecimal
	Vendor    string
	Number    string
	Date      string
	Currency  string
	LineItems []ParsedItem
}

// Kind implements ParsedDocument.
func (Invoice) Kind() TransactionKind { return KindInvoice }
func (Invoice) isParsedDocument()     {}

// BankStatement is a list of statement lines.
type BankStatement struct {
	Currency     string
	Transactions []RawTransaction
}

// Kind implements ParsedDocument.
func (BankStatement) Kind() TransactionKind { return KindBank }
func (BankStatement) isParsedDocument()     {}
