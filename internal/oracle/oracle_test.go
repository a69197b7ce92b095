package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"norruva.org/internal/compliance"
	"norruva.org/internal/domain"
)

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sampleProduct() *domain.Product {
	return &domain.Product{
		ID:          "prd_1",
		ProductName: "Eco Jacket",
		Category:    "Apparel",
		Materials: []domain.Material{
			{Name: "Recycled Polyester", Percentage: 70, Recycled: true, Origin: "PT"},
			{Name: "Organic Cotton", Percentage: 30, Origin: "IN"},
		},
		Certifications: []domain.Certification{{Name: "GOTS"}, {Name: "GRS"}},
		Packaging:      domain.Packaging{Type: "Cardboard", Recyclable: true},
		Manufacturing:  domain.Manufacturing{Country: "PT", EmissionsKgCO2e: 12},
	}
}

func TestMockScorerDeterministic(t *testing.T) {
	ev, err := compliance.NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	minScore := 60.0
	path := &domain.CompliancePath{Name: "EU Textile Strategy", Rules: domain.ComplianceRules{MinSustainabilityScore: &minScore}}
	s := NewMockScorer(ev)

	a, err := s.ScoreProduct(context.Background(), Snapshot{Product: sampleProduct(), Path: path})
	if err != nil {
		t.Fatalf("ScoreProduct: %v", err)
	}
	b, _ := s.ScoreProduct(context.Background(), Snapshot{Product: sampleProduct(), Path: path})
	if a.Score != b.Score || a.Score != 80 {
		t.Fatalf("unexpected scores %v %v", a.Score, b.Score)
	}
	if !a.IsCompliant || !strings.Contains(a.QRLabelText, "Compliant with EU Textile Strategy") {
		t.Fatalf("unexpected result: %+v", a)
	}
	if len(a.DataQualityWarnings) != 0 {
		t.Fatalf("unexpected warnings: %v", a.DataQualityWarnings)
	}
}

func TestMockScorerWarnings(t *testing.T) {
	ev, _ := compliance.NewEvaluator()
	p := sampleProduct()
	p.Materials[1].Origin = ""
	p.Materials[1].Percentage = 10
	p.Certifications = nil
	res, err := NewMockScorer(ev).ScoreProduct(context.Background(), Snapshot{Product: p})
	if err != nil {
		t.Fatalf("ScoreProduct: %v", err)
	}
	if len(res.DataQualityWarnings) != 3 {
		t.Fatalf("expected 3 warnings, got %v", res.DataQualityWarnings)
	}
}

func TestMockAnchorerIdempotent(t *testing.T) {
	a := NewMockAnchorer("")
	h := hashOf("passport")
	p1, err := a.Anchor(context.Background(), h)
	if err != nil {
		t.Fatalf("Anchor: %v", err)
	}
	p2, _ := a.Anchor(context.Background(), h)
	if p1.TxHash != p2.TxHash || p1.BlockHeight != p2.BlockHeight {
		t.Fatalf("retry produced a different proof")
	}
	p3, _ := a.Anchor(context.Background(), hashOf("other"))
	if p3.BlockHeight != p1.BlockHeight+1 {
		t.Fatalf("block height did not advance")
	}
	if !strings.HasSuffix(p1.ExplorerURL, p1.TxHash) {
		t.Fatalf("explorer url %s does not reference tx", p1.ExplorerURL)
	}
	if _, err := a.Anchor(context.Background(), "short"); err == nil {
		t.Fatalf("expected malformed hash error")
	}
}

func TestValidatingIssuer(t *testing.T) {
	v, err := NewValidatingIssuer(NewMockIssuer())
	if err != nil {
		t.Fatalf("NewValidatingIssuer: %v", err)
	}
	p := sampleProduct()
	p.BlockchainProof = &domain.BlockchainProof{DataHash: hashOf("x"), TxHash: "0xabc"}
	company := &domain.Company{ID: "cmp_a", Name: "Acme"}

	vc, err := v.Issue(context.Background(), p, company)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if vc.CredentialSubject["dataHash"] != p.BlockchainProof.DataHash || !strings.HasPrefix(vc.ID, "urn:uuid:") {
		t.Fatalf("unexpected credential: %+v", vc)
	}

	// Without an anchored hash the subject is incomplete.
	p.BlockchainProof = nil
	if _, err := v.Issue(context.Background(), p, company); err == nil {
		t.Fatalf("expected schema validation failure")
	}

	vc.Type = []string{"SomethingElse"}
	if err := v.Validate(vc); err == nil {
		t.Fatalf("expected type check failure")
	}
}
