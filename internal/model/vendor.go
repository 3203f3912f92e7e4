package model

import "time"

// VendorAlias maps a raw merchant string to a canonical merchant per owner.
type VendorAlias struct {
	UpdatedAt     time.Time
	OwnerID       string
	RawName       string
	CanonicalName string
	Confidence    float64
}

// LearnedCategoryFact aggregates one owner's category corrections for a merchant.
type LearnedCategoryFact struct {
	UpdatedAt       time.Time
	OwnerID         string
	Merchant        string
	Category        string
	Subcategory     string
	CorrectionCount int
}
