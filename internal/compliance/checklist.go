// Package compliance holds the submission checklist and the rule comparison
// the scoring oracle delegates to.
package compliance

import (
	"strings"

	"norruva.org/internal/domain"
)

// ChecklistItem is one required piece of passport data.
type ChecklistItem struct {
	Field string `json:"field"`
	Label string `json:"label"`
	Done  bool   `json:"done"`
}

// Checklist gates submission for review.
type Checklist struct {
	Items []ChecklistItem `json:"items"`
}

// Complete reports whether every item is done.
func (c Checklist) Complete() bool {
	for _, it := range c.Items {
		if !it.Done {
			return false
		}
	}
	return true
}

// Missing returns the fields of unfinished items.
func (c Checklist) Missing() []string {
	var out []string
	for _, it := range c.Items {
		if !it.Done {
			out = append(out, it.Field)
		}
	}
	return out
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// Validate builds the checklist for p.
func Validate(p *domain.Product) Checklist {
	hasMaterials := false
	for _, m := range p.Materials {
		if !blank(m.Name) {
			hasMaterials = true
			break
		}
	}
	return Checklist{Items: []ChecklistItem{
		{Field: "productName", Label: "Product name", Done: !blank(p.ProductName)},
		{Field: "productDescription", Label: "Description", Done: !blank(p.ProductDescription)},
		{Field: "category", Label: "Category", Done: !blank(p.Category)},
		{Field: "materials", Label: "At least one material", Done: hasMaterials},
		{Field: "manufacturing", Label: "Manufacturing facility or country", Done: !blank(p.Manufacturing.Facility) || !blank(p.Manufacturing.Country)},
		{Field: "packaging", Label: "Packaging type", Done: !blank(p.Packaging.Type)},
	}}
}
