package parser

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// amountPattern matches money with exactly two decimals, optional sign,
// currency symbol, thousands separators, parentheses or a CR/DR suffix.
const amountPattern = `[-+]?\(?[-+]?(?:[A-Z]{0,2}\$)?\s?(?:\d{1,3}(?:,\d{3})+|\d+)\.\d{2}\)?(?:\s?(?:CR|DR))?`

var amountLineRe = regexp.MustCompile(`^` + amountPattern + `$`)

// parseAmount reads an amount token. Parentheses, a leading minus and a CR
// suffix mean a credit and give a negative value.
func parseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	negative := false
	upper := strings.ToUpper(s)
	switch {
	case strings.HasSuffix(upper, "CR"):
		negative = true
		s = strings.TrimSpace(s[:len(s)-2])
	case strings.HasSuffix(upper, "DR"):
		s = strings.TrimSpace(s[:len(s)-2])
	}
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	}
	s = strings.TrimPrefix(s, "+")
	if i := strings.IndexByte(s, '$'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

// isAmountLine reports whether the whole line is a single amount.
func isAmountLine(line string) bool {
	return amountLineRe.MatchString(strings.TrimSpace(line))
}
