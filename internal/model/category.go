package model

import "strings"

// CategorySource names the cascade tier that produced a categorization.
type CategorySource string

const (
	// CategoryLearned comes from the owner's own past corrections.
	CategoryLearned CategorySource = "learned"
	// CategoryRule comes from the deterministic keyword table.
	CategoryRule CategorySource = "rule"
	// CategoryAI comes from the language model fallback.
	CategoryAI CategorySource = "ai"
	// CategoryNone means no tier produced a label.
	CategoryNone CategorySource = "none"
)

// Categorization is the outcome of running the categorization cascade.
type Categorization struct {
	Category    string
	Subcategory string
	Source      CategorySource
	Confidence  float64
}

// Uncategorized is the empty, zero-confidence result.
func Uncategorized() Categorization {
	return Categorization{Source: CategoryNone}
}

// Vocabulary is the closed label set the language model may answer with.
var Vocabulary = []string{
	"Groceries",
	"Dining",
	"Transportation",
	"Utilities",
	"Office",
	"Shopping",
	"Healthcare",
	"Entertainment",
	"Education",
	"Uncategorized",
}

// InVocabulary returns the canonical spelling of label if it belongs to the
// closed vocabulary.
func InVocabulary(label string) (string, bool) {
	for _, v := range Vocabulary {
		if strings.EqualFold(v, strings.TrimSpace(label)) {
			return v, true
		}
	}
	return "", false
}
