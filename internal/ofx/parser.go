// Package ofx decodes OFX and QFX statement exports into raw statement lines.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/ledger-intake/internal/model"
)

var (
	severityRe = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	openTagRe  = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
	postDateRe = regexp.MustCompile(`^\d{2}/\d{2} `)
)

// cardPrefixes are processor boilerplate in front of the merchant name.
var cardPrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"ACH DEBIT ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"DEBIT PURCHASE ",
	"INTERAC PURCHASE ",
}

// Statement is the decoded content of one OFX file.
type Statement struct {
	Currency     string
	Accounts     []string
	Transactions []model.RawTransaction
}

// Parser implements OFX/QFX file parsing.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a new OFX parser.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// LooksLikeOFX reports whether data carries an OFX header or root element.
func LooksLikeOFX(data []byte) bool {
	head := strings.ToUpper(string(data[:min(len(data), 512)]))
	return strings.Contains(head, "OFXHEADER") || strings.Contains(head, "<OFX>")
}

// preprocess fixes common formatting issues in exported files.
func preprocess(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRe.ReplaceAllStringFunc(content, strings.ToUpper)
	// SGML exports sometimes drop the closing bracket of a bare opening tag.
	return openTagRe.ReplaceAllString(content, "$1>")
}

// Parse decodes an OFX/QFX stream. Amounts are expense-positive: OFX debits
// are negative, so signs are flipped.
func (p *Parser) Parse(ctx context.Context, r io.Reader) (*Statement, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(preprocess(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	stmt := &Statement{Accounts: []string{}, Transactions: []model.RawTransaction{}}
	seen := map[string]bool{}
	addAccount := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			stmt.Accounts = append(stmt.Accounts, id)
		}
	}

	for _, msg := range resp.Bank {
		s, ok := msg.(*ofxgo.StatementResponse)
		if !ok {
			continue
		}
		addAccount(string(s.BankAcctFrom.AcctID))
		currency := s.CurDef.String()
		if stmt.Currency == "" {
			stmt.Currency = currency
		}
		if s.BankTranList != nil {
			stmt.Transactions = append(stmt.Transactions, p.convert(s.BankTranList.Transactions, currency)...)
		}
	}

	for _, msg := range resp.CreditCard {
		s, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok {
			continue
		}
		addAccount(string(s.CCAcctFrom.AcctID))
		currency := s.CurDef.String()
		if stmt.Currency == "" {
			stmt.Currency = currency
		}
		if s.BankTranList != nil {
			stmt.Transactions = append(stmt.Transactions, p.convert(s.BankTranList.Transactions, currency)...)
		}
	}

	p.logger.Debug("Parsed OFX file",
		"transactions", len(stmt.Transactions),
		"accounts", len(stmt.Accounts))

	return stmt, nil
}

func (p *Parser) convert(txns []ofxgo.Transaction, currency string) []model.RawTransaction {
	out := make([]model.RawTransaction, 0, len(txns))
	for _, t := range txns {
		amount, err := decimal.NewFromString(t.TrnAmt.FloatString(2))
		if err != nil {
			p.logger.Warn("Skipping OFX transaction with unreadable amount", "fitid", string(t.FiTID))
			continue
		}
		raw := model.RawTransaction{
			Amount:      amount.Neg(),
			Merchant:    merchantName(t),
			Description: strings.TrimSpace(strings.Join(nonEmpty(string(t.Name), string(t.Memo)), " ")),
			Currency:    currency,
			RawLine:     string(t.FiTID),
		}
		if !t.DtPosted.IsZero() {
			raw.Date = t.DtPosted.Format(model.DateLayout)
		}
		out = append(out, raw)
	}
	return out
}

// merchantName picks the cleanest merchant field from an OFX transaction.
func merchantName(t ofxgo.Transaction) string {
	if t.Payee != nil && t.Payee.Name != "" {
		return strings.TrimSpace(string(t.Payee.Name))
	}

	name := strings.TrimSpace(string(t.Name))
	if t.Memo != "" && isGenericDescription(name) {
		name = strings.TrimSpace(string(t.Memo))
	}

	upper := strings.ToUpper(name)
	for _, prefix := range cardPrefixes {
		if strings.HasPrefix(upper, prefix) {
			name = name[len(prefix):]
			break
		}
	}

	return strings.TrimSpace(postDateRe.ReplaceAllString(name, ""))
}

func isGenericDescription(name string) bool {
	switch strings.ToUpper(name) {
	case "", "DEBIT", "CREDIT", "PURCHASE", "PAYMENT", "POS TRANSACTION", "CARD PURCHASE":
		return true
	}
	return false
}

func nonEmpty(values ...string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
