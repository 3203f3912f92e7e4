package common

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// HashText returns the hex sha256 digest of s.
func HashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashBytes returns the hex sha256 digest of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// CollapseSpace trims s and collapses internal whitespace runs to one space.
func CollapseSpace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
