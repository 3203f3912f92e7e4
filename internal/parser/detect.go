package parser

import (
	"bytes"
	"context"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/model"
	"github.com/Veraticus/ledger-intake/internal/ofx"
)

const money = `(?:[A-Z]{0,2}\$|€|£)?\s?((?:\d{1,3}(?:,\d{3})+|\d+)\.\d{2})`

var (
	totalLineRe    = regexp.MustCompile(`(?im)^\s*(?:grand\s+)?total(?:\s+(?:due|amount|paid))?\b[\s:]*` + money + `\s*$`)
	amountDueRe    = regexp.MustCompile(`(?im)^\s*(?:amount|balance)\s+due\b[\s:]*` + money)
	subtotalRe     = regexp.MustCompile(`(?im)^\s*sub[\s-]?total\b[\s:]*` + money)
	taxRe          = regexp.MustCompile(`(?im)^\s*(?:sales\s+)?(?:tax|hst|gst|vat)\b[^\n]*?` + money + `\s*$`)
	invoiceMarker  = regexp.MustCompile(`(?i)\binvoice\s*(?:#|no\.?|number)|\bbill\s+to\b`)
	remitMarker    = regexp.MustCompile(`(?i)\b(amount\s+due|remit\s+to)\b`)
	invoiceNumRe   = regexp.MustCompile(`(?i)\binvoice\s*(?:#|no\.?|number)[:\s#]*([A-Z0-9][A-Z0-9-]*)`)
	invoiceDateRe  = regexp.MustCompile(`(?i)\b(?:invoice\s+)?date[:\s]+` + fullDatePattern)
	anyDateRe      = regexp.MustCompile(fullDatePattern)
	itemLineRe     = regexp.MustCompile(`(?i)^(.+?)\s+(\d+(?:\.\d+)?)\s*(kg|lb|g|l|ea)?\s*[x@]\s*\$?(\d+\.\d{2})\b`)
	currencyCodeRe = regexp.MustCompile(`\b(USD|CAD|EUR|GBP|AUD|NZD|CHF|JPY|MXN)\b`)
	vendorFromRe   = regexp.MustCompile(`(?im)^\s*(?:from|vendor|seller)[:\s]+(.+)$`)
)

// merchantSkipRe matches header lines that never name the merchant.
var merchantSkipRe = regexp.MustCompile(`(?i)^(receipt|invoice|tax invoice|welcome|thank you|customer copy|merchant copy|tel|phone|www\.)`)

// Detector routes extracted text to a document shape.
type Detector struct {
	cascade  *Cascade
	tabular  *TabularParser
	everyday *EverydayBankingParser
	generic  *GenericLineParser
}

// NewDetector creates a detector that parses statements with cascade.
func NewDetector(cascade *Cascade) *Detector {
	return &Detector{
		cascade:  cascade,
		tabular:  NewTabularParser(cascade.logger),
		everyday: NewEverydayBankingParser(),
		generic:  NewGenericLineParser(),
	}
}

// Detect classifies text and parses it. The specialized statement layout
// wins, then invoice markers, then a receipt with a single total line.
// Everything else is a bank statement read by the cascade.
//
// An invoice without a total that has two or more dated amount lines is
// read as a statement. "Amount due" and "remit to" also print on card
// statements, so on their own they make an invoice only when both appear
// with a total and fewer than two dated amount lines.
func (d *Detector) Detect(ctx context.Context, text string) model.ParsedDocument {
	if d.everyday.Matches(text) {
		return d.bank(ctx, text)
	}
	dated := len(d.generic.ParseLines(text))
	if invoiceMarker.MatchString(text) {
		if inv := parseInvoice(text); inv.Total.Valid || dated < 2 {
			return inv
		}
		return d.bank(ctx, text)
	}
	if dated >= 2 {
		return d.bank(ctx, text)
	}
	if remitMarkers(text) >= 2 {
		if inv := parseInvoice(text); inv.Total.Valid {
			return inv
		}
	}
	if totals := totalLineRe.FindAllStringSubmatch(text, -1); len(totals) == 1 {
		return parseReceipt(text, totals[0][1])
	}
	return d.bank(ctx, text)
}

// remitMarkers counts the distinct remittance phrases in text.
func remitMarkers(text string) int {
	seen := map[string]bool{}
	for _, m := range remitMarker.FindAllStringSubmatch(text, -1) {
		seen[strings.Join(strings.Fields(strings.ToLower(m[1])), " ")] = true
	}
	return len(seen)
}

func (d *Detector) bank(ctx context.Context, text string) model.BankStatement {
	return model.BankStatement{
		Currency:     detectCurrency(text),
		Transactions: d.cascade.Parse(ctx, Input{Text: text, Kind: model.KindBank}),
	}
}

// DetectTabular parses a CSV or OFX export. OFX files carry their own
// currency; CSV exports only when a currency column exists.
func (d *Detector) DetectTabular(ctx context.Context, data []byte, format string) (model.BankStatement, error) {
	if strings.EqualFold(format, FormatOFX) || ofx.LooksLikeOFX(data) {
		stmt, err := d.tabular.ParseOFX(ctx, data)
		if err != nil {
			return model.BankStatement{}, err
		}
		return model.BankStatement{
			Currency:     stmt.Currency,
			Transactions: Postprocess(stmt.Transactions),
		}, nil
	}
	txs, err := d.tabular.ParseCSV(data)
	if err != nil {
		return model.BankStatement{}, common.NewPipelineError(common.KindValidation, "parse_csv", "check the file is a CSV export with a header row", err)
	}
	if len(txs) == 0 {
		// Headerless or unknown layouts still go through the text tiers.
		return d.bank(ctx, string(bytes.TrimSpace(data))), nil
	}
	return model.BankStatement{Transactions: Postprocess(txs)}, nil
}

func parseReceipt(text, total string) model.Receipt {
	lines := splitLines(text)
	r := model.Receipt{
		Merchant: firstMeaningfulLine(lines),
		Date:     firstDate(text),
		Currency: detectCurrency(text),
		Items:    parseItems(lines),
	}
	r.Total = moneyValue(total)
	return r
}

func parseInvoice(text string) model.Invoice {
	lines := splitLines(text)
	inv := model.Invoice{
		Vendor:    firstMeaningfulLine(lines),
		Currency:  detectCurrency(text),
		LineItems: parseItems(lines),
	}
	if m := vendorFromRe.FindStringSubmatch(text); m != nil {
		inv.Vendor = common.CollapseSpace(m[1])
	}
	if m := invoiceNumRe.FindStringSubmatch(text); m != nil {
		inv.Number = m[1]
	}
	if m := invoiceDateRe.FindStringSubmatch(text); m != nil {
		inv.Date = m[1]
	} else {
		inv.Date = firstDate(text)
	}
	if m := totalLineRe.FindStringSubmatch(text); m != nil {
		inv.Total = moneyValue(m[1])
	} else if m := amountDueRe.FindStringSubmatch(text); m != nil {
		inv.Total = moneyValue(m[1])
	}
	if m := subtotalRe.FindStringSubmatch(text); m != nil {
		inv.Subtotal = moneyValue(m[1])
	}
	if m := taxRe.FindStringSubmatch(text); m != nil {
		inv.Tax = moneyValue(m[1])
	}
	return inv
}

// firstMeaningfulLine returns the first of the top lines that reads like a
// business name: letters, no amount, no date, not boilerplate.
func firstMeaningfulLine(lines []string) string {
	for i, line := range lines {
		if i >= 8 {
			break
		}
		if len(line) < 3 || len(line) > 50 || merchantSkipRe.MatchString(line) {
			continue
		}
		if isAmountLine(line) || anyDateRe.MatchString(line) || !strings.ContainsAny(strings.ToLower(line), "abcdefghijklmnopqrstuvwxyz") {
			continue
		}
		return line
	}
	return ""
}

func firstDate(text string) string {
	if m := anyDateRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

func parseItems(lines []string) []model.ParsedItem {
	var items []model.ParsedItem
	for _, line := range lines {
		m := itemLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		qty, err := decimal.NewFromString(m[2])
		if err != nil {
			continue
		}
		price, err := decimal.NewFromString(m[4])
		if err != nil {
			continue
		}
		items = append(items, model.ParsedItem{
			Name:  strings.TrimSpace(m[1]),
			Qty:   qty,
			Unit:  strings.ToLower(m[3]),
			Price: price,
		})
	}
	return items
}

func detectCurrency(text string) string {
	if m := currencyCodeRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	switch {
	case strings.Contains(text, "C$") || strings.Contains(text, "CA$"):
		return "CAD"
	case strings.Contains(text, "€"):
		return "EUR"
	case strings.Contains(text, "£"):
		return "GBP"
	}
	return ""
}

func moneyValue(s string) decimal.NullDecimal {
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
