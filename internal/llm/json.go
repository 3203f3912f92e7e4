package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a completion contains no JSON value.
var ErrNoJSON = errors.New("no JSON found in completion")

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// ExtractJSON returns the first JSON object or array in content, dropping
// markdown code fences and surrounding prose.
func ExtractJSON(content string) (string, error) {
	content = strings.TrimSpace(content)
	if i := strings.Index(content, "```"); i >= 0 {
		rest := content[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		content = strings.TrimSpace(rest)
	}

	start := strings.IndexAny(content, "{[")
	if start < 0 {
		return "", ErrNoJSON
	}
	open, closeCh := content[start], byte('}')
	if open == '[' {
		closeCh = ']'
	}
	end := strings.LastIndexByte(content, closeCh)
	if end < start {
		return "", ErrNoJSON
	}
	return content[start : end+1], nil
}

// RepairJSON applies the fixes models most often need: smart quotes and
// trailing commas.
func RepairJSON(s string) string {
	s = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'").Replace(s)
	return trailingComma.ReplaceAllString(s, "$1")
}

// DecodeJSON extracts the JSON value from content into v, retrying once
// after RepairJSON.
func DecodeJSON(content string, v any) error {
	raw, err := ExtractJSON(content)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}
	return json.Unmarshal([]byte(RepairJSON(raw)), v)
}
