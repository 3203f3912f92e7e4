package guardrail

import (
	"regexp"
	"strings"
)

// PII types reported by RegexRedactor.
const (
	PIIEmail      = "email"
	PIICard       = "card_number"
	PIISSN        = "ssn"
	PIISIN        = "sin"
	PIIIBAN       = "iban"
	PIIPhone      = "phone"
	PIIPostalCode = "postal_code"
)

type detector struct {
	re *regexp.Regexp
	// valid, when set, sees the whole text, the match offset and the match.
	valid func(text string, start int, match string) bool
	kind  string
}

// ofxDateTag matches an OFX/QFX date element left open before a value.
var ofxDateTag = regexp.MustCompile(`(?i)<DT[A-Z]*>\s*$`)

// RegexRedactor masks a fixed set of PII shapes. Detectors run in order and
// each sees the output of the previous one.
type RegexRedactor struct {
	detectors []detector
}

// NewRegexRedactor creates the default redactor.
func NewRegexRedactor() *RegexRedactor {
	return &RegexRedactor{detectors: []detector{
		{kind: PIIEmail, re: regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`)},
		{kind: PIIIBAN, re: regexp.MustCompile(`\b[A-Z]{2}\d{2}(?: ?[A-Z0-9]{4}){2,7}(?: ?[A-Z0-9]{1,3})?\b`)},
		{kind: PIICard, re: regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`), valid: cardNumber},
		{kind: PIISSN, re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
		{kind: PIIPhone, re: regexp.MustCompile(`(?:\+1[ .-]?)?(?:\(\d{3}\) ?|\b\d{3}[ .-])\d{3}[ .-]\d{4}\b`)},
		{kind: PIISIN, re: regexp.MustCompile(`\b\d{3}[ -]\d{3}[ -]\d{3}\b`)},
		{kind: PIIPostalCode, re: regexp.MustCompile(`(?i)\b[ABCEGHJ-NPRSTVXY]\d[ABCEGHJ-NPRSTV-Z] ?\d[ABCEGHJ-NPRSTV-Z]\d\b`)},
	}}
}

// Redact implements Redactor.
func (r *RegexRedactor) Redact(text string) (string, []string) {
	types := []string{}
	for _, d := range r.detectors {
		var found bool
		text, found = d.replace(text, "[REDACTED:"+strings.ToUpper(d.kind)+"]")
		if found {
			types = append(types, d.kind)
		}
	}
	return text, types
}

func (d detector) replace(text, mask string) (string, bool) {
	locs := d.re.FindAllStringIndex(text, -1)
	var b strings.Builder
	last, found := 0, false
	for _, loc := range locs {
		if d.valid != nil && !d.valid(text, loc[0], text[loc[0]:loc[1]]) {
			continue
		}
		b.WriteString(text[last:loc[0]])
		b.WriteString(mask)
		last, found = loc[1], true
	}
	if !found {
		return text, false
	}
	b.WriteString(text[last:])
	return b.String(), true
}

// cardNumber accepts Luhn-valid digit runs that are not statement timestamps.
// No card network issues numbers starting 19 or 20, so an unseparated run
// opening with a calendar date is a YYYYMMDD[hhmmss] stamp.
func cardNumber(text string, start int, m string) bool {
	if !luhn(m) || dateStamp(m) {
		return false
	}
	lineStart := strings.LastIndexByte(text[:start], '\n') + 1
	return !ofxDateTag.MatchString(text[lineStart:start])
}

func dateStamp(m string) bool {
	if len(m) < 8 || strings.ContainsAny(m, " -") {
		return false
	}
	num := func(s string) int {
		n := 0
		for _, c := range s {
			n = n*10 + int(c-'0')
		}
		return n
	}
	year, month, day := num(m[:4]), num(m[4:6]), num(m[6:8])
	return year >= 1900 && year <= 2099 && month >= 1 && month <= 12 && day >= 1 && day <= 31
}

// luhn reports whether the digits in s pass the Luhn checksum.
func luhn(s string) bool {
	sum, n := 0, 0
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if n%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		n++
	}
	return n >= 13 && sum%10 == 0
}
