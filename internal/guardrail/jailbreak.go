package guardrail

import (
	"regexp"
	"strings"
)

// jailbreakThreshold is the score at which a chat message is blocked.
const jailbreakThreshold = 0.7

var jailbreakSignals = []struct {
	re     *regexp.Regexp
	weight float64
}{
	{regexp.MustCompile(`(?i)\bignore (all |any )?(the )?(previous|prior|above) (instructions|prompts?|rules)`), 0.8},
	{regexp.MustCompile(`(?i)\bdisregard (your|the|all) (instructions|guidelines|rules)`), 0.8},
	{regexp.MustCompile(`(?i)\b(system prompt|developer mode|jailbreak)\b`), 0.5},
	{regexp.MustCompile(`(?i)\byou are now (a|an|in)\b`), 0.4},
	{regexp.MustCompile(`(?i)\b(do anything now|DAN mode)\b`), 0.7},
	{regexp.MustCompile(`(?i)\bpretend (you have|there are) no (rules|restrictions|filters)`), 0.7},
	{regexp.MustCompile(`(?i)\breveal (your|the) (prompt|instructions)`), 0.6},
}

// JailbreakScore returns a score in [0,1] for prompt-injection phrasing.
func JailbreakScore(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	score := 0.0
	for _, s := range jailbreakSignals {
		if s.re.MatchString(text) {
			score += s.weight
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}

// IsJailbreak reports whether text scores at or above the block threshold.
func IsJailbreak(text string) bool {
	return JailbreakScore(text) >= jailbreakThreshold
}
