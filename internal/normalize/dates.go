package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	numericDateRe = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{2}|\d{4})$`)
	isoDateRe     = regexp.MustCompile(`^(\d{4})[-/](\d{1,2})[-/](\d{1,2})$`)
	namedDateRe   = regexp.MustCompile(`^([A-Za-z]{3,9})\.?\s+(\d{1,2}),?\s+(\d{4})$`)
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "sept": time.September, "oct": time.October,
	"nov": time.November, "dec": time.December,
}

// MonthFromName resolves a full or abbreviated English month name.
func MonthFromName(name string) (time.Month, bool) {
	name = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(name), "."))
	if m, ok := months[name]; ok {
		return m, true
	}
	if len(name) > 3 {
		for i := time.January; i <= time.December; i++ {
			if strings.EqualFold(i.String(), name) {
				return i, true
			}
		}
	}
	return 0, false
}

// ParseDate reads the date shapes found on receipts and statements:
// M/D/Y or D/M/Y, ISO Y-M-D, then "Mon D, Y". Numeric dates are M/D/Y
// unless the first field cannot be a month. It reports false when s is
// not a real calendar date.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) > 10 && s[4] == '-' && (s[10] == 'T' || s[10] == ' ') {
		s = s[:10]
	}

	if m := numericDateRe.FindStringSubmatch(s); m != nil {
		first, _ := strconv.Atoi(m[1])
		second, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if len(m[3]) == 2 {
			year += 2000
		}
		month, day := first, second
		if first > 12 {
			month, day = second, first
		}
		return makeDate(year, month, day)
	}

	if m := isoDateRe.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		return makeDate(year, month, day)
	}

	if m := namedDateRe.FindStringSubmatch(s); m != nil {
		month, ok := MonthFromName(m[1])
		if !ok {
			return time.Time{}, false
		}
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		return makeDate(year, int(month), day)
	}

	return time.Time{}, false
}

// makeDate rejects dates that time.Date would silently roll over.
func makeDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 || year < 1900 || year > 2199 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}
