package domain

import "time"

// ComplianceRules are the checks a compliance path applies to a product.
type ComplianceRules struct {
	MinSustainabilityScore *float64 `json:"minSustainabilityScore,omitempty" yaml:"minSustainabilityScore,omitempty"`
	RequiredKeywords       []string `json:"requiredKeywords,omitempty" yaml:"requiredKeywords,omitempty"`
	BannedKeywords         []string `json:"bannedKeywords,omitempty" yaml:"bannedKeywords,omitempty"`
	// Expression is an optional CEL predicate over `product` and `score`.
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// CompliancePath groups regulations applicable to a product category.
type CompliancePath struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Category    string          `json:"category" yaml:"category"`
	Regulations []string        `json:"regulations" yaml:"regulations"`
	Rules       ComplianceRules `json:"rules" yaml:"rules"`
	CreatedAt   time.Time       `json:"createdAt" yaml:"-"`
	UpdatedAt   time.Time       `json:"updatedAt" yaml:"-"`
}
