package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"norruva.org/internal/domain"
)

// hashDocument is the anchored content. Workflow flags and timestamps are
// excluded so re-anchoring unchanged content yields the same hash.
type hashDocument struct {
	ID                 string                 `json:"id"`
	CompanyID          string                 `json:"companyId"`
	ProductName        string                 `json:"productName"`
	ProductDescription string                 `json:"productDescription"`
	Category           string                 `json:"category"`
	Materials          []domain.Material      `json:"materials"`
	Manufacturing      domain.Manufacturing   `json:"manufacturing"`
	Certifications     []domain.Certification `json:"certifications"`
	Packaging          domain.Packaging       `json:"packaging"`
	ChainOfCustody     []domain.CustodyStep   `json:"chainOfCustody"`
}

// DataHash returns the hex SHA-256 of the RFC 8785 canonical JSON of p's content.
func DataHash(p *domain.Product) (string, error) {
	raw, err := json.Marshal(hashDocument{
		ID:                 p.ID,
		CompanyID:          p.CompanyID,
		ProductName:        p.ProductName,
		ProductDescription: p.ProductDescription,
		Category:           p.Category,
		Materials:          p.Materials,
		Manufacturing:      p.Manufacturing,
		Certifications:     p.Certifications,
		Packaging:          p.Packaging,
		ChainOfCustody:     p.ChainOfCustody,
	})
	if err != nil {
		return "", fmt.Errorf("encode passport: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize passport: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
