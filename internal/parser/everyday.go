package parser

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/ledger-intake/internal/model"
	"github.com/Veraticus/ledger-intake/internal/normalize"
)

var (
	everydayMarkerRe = regexp.MustCompile(`(?i)everyday banking`)
	periodEndingRe   = regexp.MustCompile(`(?i)for the period ending\b(.*?)\b((?:19|20)\d{2})\b`)
	blockDateRe      = regexp.MustCompile(`^([A-Za-z]{3,9})\.?\s+(\d{1,2})$`)
)

// descriptionPrefixes are channel labels in front of the merchant.
var descriptionPrefixes = []string{
	"Debit Card Purchase, ",
	"Point of Sale Purchase, ",
	"Point of Sale Interac Retail Purchase, ",
	"Visa Debit Purchase, ",
	"Pre-Authorized Payment, ",
	"Pre-Authorized Debit, ",
	"Online Banking Payment, ",
	"Online Bill Payment, ",
	"Interac e-Transfer, ",
	"Contactless Interac Purchase, ",
	"Recurring Payment, ",
}

// EverydayBankingParser reads the block layout of "Everyday Banking"
// statements: a "Mon D" line, description lines, an amount line and an
// optional running balance line.
type EverydayBankingParser struct{}

// NewEverydayBankingParser creates the parser.
func NewEverydayBankingParser() *EverydayBankingParser { return &EverydayBankingParser{} }

// Name implements Strategy.
func (p *EverydayBankingParser) Name() string { return "everyday_banking" }

// Matches reports whether text carries both layout markers.
func (p *EverydayBankingParser) Matches(text string) bool {
	_, _, ok := statementPeriod(text)
	return ok && everydayMarkerRe.MatchString(text)
}

// statementPeriod returns the closing year and, when present, month of the
// "For the period ending" line.
func statementPeriod(text string) (int, time.Month, bool) {
	m := periodEndingRe.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	year, _ := strconv.Atoi(m[2])
	var month time.Month
	for _, word := range strings.Fields(m[1]) {
		if mm, ok := normalize.MonthFromName(strings.Trim(word, ",")); ok {
			month = mm
			break
		}
	}
	return year, month, true
}

// TryParse implements Strategy.
func (p *EverydayBankingParser) TryParse(_ context.Context, in Input) ([]model.RawTransaction, bool) {
	if !p.Matches(in.Text) {
		return nil, false
	}
	year, endMonth, _ := statementPeriod(in.Text)

	var (
		out  []model.RawTransaction
		date string
		desc []string
	)
	for _, line := range splitLines(in.Text) {
		if d, ok := blockDate(line, year, endMonth); ok {
			date, desc = d, nil
			continue
		}
		if date == "" {
			continue
		}
		if isAmountLine(line) {
			if len(desc) == 0 {
				// An amount with no description is the running balance.
				continue
			}
			amt, ok := parseAmount(line)
			if !ok {
				continue
			}
			out = append(out, model.RawTransaction{
				Date:        date,
				Merchant:    merchantFrom(desc),
				Description: strings.Join(desc, " "),
				Amount:      amt.Abs(),
				RawLine:     strings.Join(desc, " ") + " " + line,
			})
			desc = nil
			continue
		}
		if isSummaryLine(line) {
			desc = nil
			continue
		}
		desc = append(desc, line)
	}
	return out, len(out) > 0
}

// blockDate reads a "Mon D" line. Months after the closing month belong to
// the previous year.
func blockDate(line string, year int, endMonth time.Month) (string, bool) {
	m := blockDateRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	month, ok := normalize.MonthFromName(m[1])
	if !ok {
		return "", false
	}
	day, _ := strconv.Atoi(m[2])
	y := year
	if endMonth != 0 && month > endMonth {
		y--
	}
	t := time.Date(y, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, month, day), true
}

// merchantFrom strips a known channel prefix from the first description line
// that has one, else returns the first line.
func merchantFrom(desc []string) string {
	for _, line := range desc {
		for _, prefix := range descriptionPrefixes {
			if len(line) > len(prefix) && strings.EqualFold(line[:len(prefix)], prefix) {
				return strings.TrimSpace(line[len(prefix):])
			}
		}
	}
	return desc[0]
}
