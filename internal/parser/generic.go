package parser

import (
	"context"
	"regexp"
	"strings"

	"github.com/Veraticus/ledger-intake/internal/model"
)

const (
	fullDatePattern  = `(\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\d{4}-\d{2}-\d{2}|[A-Za-z]{3,9}\.? \d{1,2},? \d{4})`
	shortDatePattern = `(\d{1,2}/\d{1,2})`
)

var (
	summaryLineRe = regexp.MustCompile(`(?i)\b(opening|closing|previous|new|starting|ending) balance\b|\bbalance (forward|brought forward)\b|\bsub-?total\b|\btotal (deposits|withdrawals|debits|credits|fees)\b|\bminimum payment\b|\bpayment due\b|\bcredit limit\b|\bavailable credit\b|\binterest rate\b|\bstatement period\b|^total\b`)
	startsWithDate = regexp.MustCompile(`^` + fullDatePattern + `\s`)
	statementYear  = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
)

// isSummaryLine reports statement boilerplate that carries amounts but is
// not a transaction.
func isSummaryLine(line string) bool {
	return summaryLineRe.MatchString(line)
}

type linePattern struct {
	re *regexp.Regexp
	// date, description and amount submatch indexes
	date, desc, amount int
	short              bool
	// reject drops matches a later pattern reads better.
	reject func(m []string) bool
}

// GenericLineParser reads one transaction per line using a fixed, ordered
// list of layouts. The first layout matching a line wins.
type GenericLineParser struct {
	patterns []linePattern
}

// NewGenericLineParser creates the parser.
func NewGenericLineParser() *GenericLineParser {
	amount := `(` + amountPattern + `)`
	return &GenericLineParser{patterns: []linePattern{
		{ // date desc amount
			re:   regexp.MustCompile(`^` + fullDatePattern + `\s+(.+?)\s+` + amount + `$`),
			date: 1, desc: 2, amount: 3,
			reject: func(m []string) bool { return startsWithDate.MatchString(m[2] + " ") },
		},
		{ // date amount desc
			re:   regexp.MustCompile(`^` + fullDatePattern + `\s+` + amount + `\s+(.+)$`),
			date: 1, amount: 2, desc: 3,
		},
		{ // desc date amount
			re:   regexp.MustCompile(`^(.+?)\s+` + fullDatePattern + `\s+` + amount + `$`),
			desc: 1, date: 2, amount: 3,
		},
		{ // MM/DD desc amount
			re:   regexp.MustCompile(`^` + shortDatePattern + `\s+(.+?)\s+` + amount + `$`),
			date: 1, desc: 2, amount: 3, short: true,
		},
		{ // transaction date, posting date, desc, amount
			re:   regexp.MustCompile(`^` + fullDatePattern + `\s+` + fullDatePattern + `\s+(.+?)\s+` + amount + `$`),
			date: 1, desc: 3, amount: 4,
		},
	}}
}

// Name implements Strategy.
func (p *GenericLineParser) Name() string { return "generic_line" }

// TryParse implements Strategy.
func (p *GenericLineParser) TryParse(_ context.Context, in Input) ([]model.RawTransaction, bool) {
	out := p.ParseLines(in.Text)
	return out, len(out) > 0
}

// ParseLines returns every line that matches a layout.
func (p *GenericLineParser) ParseLines(text string) []model.RawTransaction {
	year := ""
	if m := statementYear.FindStringSubmatch(text); m != nil {
		year = m[1]
	}

	var out []model.RawTransaction
	for _, line := range splitLines(text) {
		if isSummaryLine(line) {
			continue
		}
		if tx, ok := p.parseLine(line, year); ok {
			out = append(out, tx)
		}
	}
	return out
}

func (p *GenericLineParser) parseLine(line, year string) (model.RawTransaction, bool) {
	for _, pat := range p.patterns {
		m := pat.re.FindStringSubmatch(line)
		if m == nil || (pat.reject != nil && pat.reject(m)) {
			continue
		}
		amt, ok := parseAmount(m[pat.amount])
		if !ok {
			continue
		}
		desc := strings.TrimSpace(m[pat.desc])
		date := m[pat.date]
		if pat.short && year != "" {
			date += "/" + year
		}
		// Statement amounts are magnitudes; only explicit credit marks flip the sign.
		if amountHasCreditMark(m[pat.amount]) {
			amt = amt.Abs().Neg()
		} else {
			amt = amt.Abs()
		}
		return model.RawTransaction{
			Date:        date,
			Merchant:    cleanMerchant(desc),
			Description: desc,
			Amount:      amt,
			RawLine:     line,
		}, true
	}
	return model.RawTransaction{}, false
}

func amountHasCreditMark(s string) bool {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.HasSuffix(s, "CR") || (strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")"))
}

var merchantSuffixRe = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(.*?)\s+(INC|LLC|CORP|LTD|CO)\.?$`),
	regexp.MustCompile(`^(.*?)\s+#\d+$`),
	regexp.MustCompile(`^(.*?)\s+\d{4,}$`),
	regexp.MustCompile(`^(.*?)\s+(WA|ON|CA|BC|AB|QC|NS|MB|SK|NY|TX)$`),
}

// cleanMerchant drops one trailing store number, legal suffix or region
// code and bounds the length.
func cleanMerchant(desc string) string {
	merchant := desc
	for _, prefix := range descriptionPrefixes {
		if len(merchant) > len(prefix) && strings.EqualFold(merchant[:len(prefix)], prefix) {
			merchant = merchant[len(prefix):]
			break
		}
	}
	for _, re := range merchantSuffixRe {
		if m := re.FindStringSubmatch(merchant); m != nil && strings.TrimSpace(m[1]) != "" {
			merchant = m[1]
			break
		}
	}
	merchant = strings.TrimSpace(merchant)
	if len(merchant) > 50 {
		merchant = strings.TrimSpace(merchant[:50])
	}
	return merchant
}
