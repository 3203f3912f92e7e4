package contentstore

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
)

// OwnerPrefix spreads owners over 256 top-level directories.
func OwnerPrefix(ownerID string) string {
	sum := sha256.Sum256([]byte(ownerID))
	return hex.EncodeToString(sum[:1]) + "/" + sanitize(ownerID)
}

// DocumentPath is {owner-prefix}/{doc}/{doc}.{ext}.
func DocumentPath(ownerID, documentID, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	doc := sanitize(documentID)
	return path.Join(OwnerPrefix(ownerID), doc, doc+"."+sanitize(ext))
}

// OCRPath is the sidecar holding redacted text next to the document.
func OCRPath(ownerID, documentID string) string {
	doc := sanitize(documentID)
	return path.Join(OwnerPrefix(ownerID), doc, doc+".ocr.json")
}

// sanitize keeps letters, digits, dash, underscore and dot.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "_"
	}
	return out
}
