// Package normalize converts parsed documents into canonical transactions.
package normalize

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/model"
)

// Options carry the context a parsed document does not hold itself.
type Options struct {
	OwnerID         string
	DocumentID      string
	DefaultCurrency string
	Source          model.TransactionSource
}

// Normalize maps a parsed document to transactions. Records without a
// positive amount are dropped.
func Normalize(parsed model.ParsedDocument, opts Options) []model.Transaction {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "USD"
	}
	if opts.Source == "" {
		opts.Source = model.SourceOCR
	}

	out := []model.Transaction{}
	switch doc := parsed.(type) {
	case model.Receipt:
		if !doc.Total.Valid {
			return out
		}
		tx := newTransaction(opts, model.KindReceipt, doc.Date, doc.Merchant, "", doc.Total.Decimal, doc.Currency)
		tx.Items = items(doc.Items)
		out = appendPositive(out, tx)
	case model.Invoice:
		amount, ok := invoiceAmount(doc)
		if !ok {
			return out
		}
		desc := ""
		if doc.Number != "" {
			desc = "Invoice " + doc.Number
		}
		tx := newTransaction(opts, model.KindInvoice, doc.Date, doc.Vendor, desc, amount, doc.Currency)
		tx.Items = items(doc.LineItems)
		out = appendPositive(out, tx)
	case model.BankStatement:
		for _, raw := range doc.Transactions {
			cur := raw.Currency
			if cur == "" {
				cur = doc.Currency
			}
			out = appendPositive(out, newTransaction(opts, model.KindBank, raw.Date, raw.Merchant, raw.Description, raw.Amount, cur))
		}
	}
	return out
}

// invoiceAmount is the total, else subtotal plus tax, else the subtotal.
func invoiceAmount(inv model.Invoice) (decimal.Decimal, bool) {
	switch {
	case inv.Total.Valid:
		return inv.Total.Decimal, true
	case inv.Subtotal.Valid && inv.Tax.Valid:
		return inv.Subtotal.Decimal.Add(inv.Tax.Decimal), true
	case inv.Subtotal.Valid:
		return inv.Subtotal.Decimal, true
	}
	return decimal.Zero, false
}

func newTransaction(opts Options, kind model.TransactionKind, date, merchant, desc string, amount decimal.Decimal, cur string) model.Transaction {
	tx := model.Transaction{
		OwnerID:        opts.OwnerID,
		DocumentID:     opts.DocumentID,
		Kind:           kind,
		Merchant:       common.CollapseSpace(merchant),
		Description:    common.CollapseSpace(desc),
		Amount:         amount.Round(2),
		Currency:       Currency(cur, opts.DefaultCurrency),
		Source:         opts.Source,
		CategorySource: model.CategoryNone,
	}
	if t, ok := ParseDate(date); ok {
		tx.Date = t
	}
	return tx
}

func appendPositive(out []model.Transaction, tx model.Transaction) []model.Transaction {
	if !tx.Amount.IsPositive() {
		return out
	}
	return append(out, tx)
}

func items(parsed []model.ParsedItem) []model.TransactionItem {
	if len(parsed) == 0 {
		return nil
	}
	out := make([]model.TransactionItem, 0, len(parsed))
	for _, p := range parsed {
		qty := p.Qty
		if qty.IsZero() {
			qty = decimal.NewFromInt(1)
		}
		out = append(out, model.TransactionItem{
			Name:  common.CollapseSpace(p.Name),
			Qty:   qty,
			Unit:  p.Unit,
			Price: p.Price,
		})
	}
	return out
}

// Currency upper-cases code and returns it when it is a known ISO 4217
// code, else def.
func Currency(code, def string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return strings.ToUpper(def)
	}
	if _, err := currency.ParseISO(code); err != nil {
		return strings.ToUpper(def)
	}
	return code
}

// ValidateCurrency reports an error for codes that are not ISO 4217.
func ValidateCurrency(code string) error {
	if _, err := currency.ParseISO(strings.ToUpper(code)); err != nil {
		return fmt.Errorf("%w: currency %q", common.ErrInvalidConfig, code)
	}
	return nil
}
