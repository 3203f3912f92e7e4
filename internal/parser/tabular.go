package parser

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/model"
	"github.com/Veraticus/ledger-intake/internal/ofx"
)

var (
	dateHeaders     = []string{"date", "txdate", "posted", "transaction date", "posting date", "posted date"}
	descHeaders     = []string{"description", "payee", "merchant", "name", "memo"}
	amountHeaders   = []string{"amount", "transaction amount"}
	debitHeaders    = []string{"debit", "withdrawal", "withdrawals"}
	creditHeaders   = []string{"credit", "deposit", "deposits"}
	currencyHeaders = []string{"currency", "ccy"}
)

// csvColumns maps header roles to column indexes; -1 means absent.
type csvColumns struct {
	date, desc, amount, debit, credit, currency int
}

func (c csvColumns) usable() bool {
	return c.desc >= 0 && (c.amount >= 0 || c.debit >= 0 || c.credit >= 0)
}

// TabularParser reads CSV and OFX/QFX exports.
type TabularParser struct {
	logger *slog.Logger
	ofx    *ofx.Parser
}

// NewTabularParser creates the parser.
func NewTabularParser(logger *slog.Logger) *TabularParser {
	logger = common.LoggerOrDefault(logger)
	return &TabularParser{logger: logger, ofx: ofx.NewParser(logger)}
}

// Name implements Strategy.
func (p *TabularParser) Name() string { return "tabular" }

// TryParse implements Strategy. Without raw tabular bytes it tries the text
// itself, which covers CSV bodies pasted into email.
func (p *TabularParser) TryParse(ctx context.Context, in Input) ([]model.RawTransaction, bool) {
	data := in.Tabular
	if len(data) == 0 {
		data = []byte(in.Text)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, false
	}
	if strings.EqualFold(in.Format, FormatOFX) || ofx.LooksLikeOFX(data) {
		stmt, err := p.ParseOFX(ctx, data)
		if err != nil {
			p.logger.Debug("OFX parse failed", "error", err)
			return nil, false
		}
		return stmt.Transactions, len(stmt.Transactions) > 0
	}
	txs, err := p.ParseCSV(data)
	if err != nil {
		p.logger.Debug("CSV parse failed", "error", err)
		return nil, false
	}
	return txs, len(txs) > 0
}

// ParseOFX decodes an OFX/QFX export.
func (p *TabularParser) ParseOFX(ctx context.Context, data []byte) (*ofx.Statement, error) {
	return p.ofx.Parse(ctx, bytes.NewReader(data))
}

// ParseCSV reads a CSV export whose header row names its columns. Rows
// without a description or amount are skipped. A lone amount column that is
// negative for every nonzero row uses bank sign conventions and is flipped
// to expense-positive.
func (p *TabularParser) ParseCSV(data []byte) ([]model.RawTransaction, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, err
	}
	cols := mapColumns(header)
	if !cols.usable() {
		return nil, nil
	}

	var out []model.RawTransaction
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, err
		}
		tx, ok := readRow(rec, cols)
		if ok {
			out = append(out, tx)
		}
	}
	if cols.amount >= 0 && allNegative(out) {
		for i := range out {
			out[i].Amount = out[i].Amount.Neg()
		}
	}
	return out, nil
}

func mapColumns(header []string) csvColumns {
	cols := csvColumns{-1, -1, -1, -1, -1, -1}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case cols.date < 0 && contains(dateHeaders, h):
			cols.date = i
		case cols.desc < 0 && contains(descHeaders, h):
			cols.desc = i
		case cols.amount < 0 && contains(amountHeaders, h):
			cols.amount = i
		case cols.debit < 0 && contains(debitHeaders, h):
			cols.debit = i
		case cols.credit < 0 && contains(creditHeaders, h):
			cols.credit = i
		case cols.currency < 0 && contains(currencyHeaders, h):
			cols.currency = i
		}
	}
	return cols
}

func readRow(rec []string, cols csvColumns) (model.RawTransaction, bool) {
	field := func(i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	desc := common.CollapseSpace(field(cols.desc))
	if desc == "" {
		return model.RawTransaction{}, false
	}

	var (
		amount decimal.Decimal
		ok     bool
	)
	if s := field(cols.amount); s != "" {
		amount, ok = parseAmount(s)
	}
	if !ok {
		if d, dok := parseAmount(field(cols.debit)); dok && !d.IsZero() {
			amount, ok = d.Abs(), true
		} else if c, cok := parseAmount(field(cols.credit)); cok && !c.IsZero() {
			amount, ok = c.Abs().Neg(), true
		}
	}
	if !ok {
		return model.RawTransaction{}, false
	}

	return model.RawTransaction{
		Date:        field(cols.date),
		Merchant:    cleanMerchant(desc),
		Description: desc,
		Amount:      amount,
		Currency:    strings.ToUpper(field(cols.currency)),
		RawLine:     strings.Join(rec, ","),
	}, true
}

func allNegative(txs []model.RawTransaction) bool {
	seen := false
	for _, tx := range txs {
		if tx.Amount.IsZero() {
			continue
		}
		if tx.Amount.IsPositive() {
			return false
		}
		seen = true
	}
	return seen
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
