package oracle

import (
	"context"
	"fmt"
	"math"
	"strings"

	"norruva.org/internal/compliance"
)

// MockScorer derives a score from materials, certifications, packaging and
// emissions, and delegates gap evaluation to the compliance evaluator.
type MockScorer struct {
	Evaluator *compliance.Evaluator
}

func NewMockScorer(ev *compliance.Evaluator) *MockScorer {
	return &MockScorer{Evaluator: ev}
}

func (s *MockScorer) ScoreProduct(ctx context.Context, snap Snapshot) (Score, error) {
	if err := ctx.Err(); err != nil {
		return Score{}, err
	}
	p := snap.Product
	if p == nil {
		return Score{}, fmt.Errorf("score product: empty snapshot")
	}

	score := 50.0
	recycled := 0.0
	for _, m := range p.Materials {
		if m.Recycled {
			recycled += 10
		}
	}
	score += math.Min(recycled, 30)
	score += math.Min(float64(len(p.Certifications))*5, 20)
	if p.Packaging.Recyclable {
		score += 10
	}
	if p.Manufacturing.EmissionsKgCO2e > 1000 {
		score -= 10
	}
	score = math.Max(0, math.Min(100, score))

	res, err := s.Evaluator.SummarizeGaps(score, p, snap.Path)
	if err != nil {
		return Score{}, fmt.Errorf("score product: %w", err)
	}

	label := fmt.Sprintf("%s: sustainability score %.0f/100.", p.ProductName, score)
	if snap.Path != nil {
		if res.IsCompliant {
			label += " Compliant with " + snap.Path.Name + "."
		} else {
			label += fmt.Sprintf(" %d open compliance gap(s).", len(res.Gaps))
		}
	}

	return Score{
		Score:               score,
		IsCompliant:         res.IsCompliant,
		ComplianceSummary:   res.Summary,
		Gaps:                res.Gaps,
		QRLabelText:         label,
		DataQualityWarnings: dataQualityWarnings(snap),
	}, nil
}

func dataQualityWarnings(snap Snapshot) []string {
	p := snap.Product
	var out []string
	total, declared := 0.0, false
	for _, m := range p.Materials {
		if m.Percentage > 0 {
			declared = true
			total += m.Percentage
		}
		if strings.TrimSpace(m.Origin) == "" {
			out = append(out, fmt.Sprintf("Material %q has no declared origin.", m.Name))
		}
	}
	if declared && math.Abs(total-100) > 0.5 {
		out = append(out, fmt.Sprintf("Material percentages add up to %.1f%%, expected 100%%.", total))
	}
	if len(p.Certifications) == 0 {
		out = append(out, "No certifications provided.")
	}
	if p.Manufacturing.EmissionsKgCO2e == 0 {
		out = append(out, "Manufacturing emissions are not reported.")
	}
	return out
}
