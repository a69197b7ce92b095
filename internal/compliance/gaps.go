package compliance

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"norruva.org/internal/domain"
)

// Result is what the scoring oracle stores on the product.
type Result struct {
	IsCompliant bool                   `json:"isCompliant"`
	Summary     string                 `json:"complianceSummary"`
	Gaps        []domain.ComplianceGap `json:"gaps"`
}

// Evaluator compares products against compliance path rules. Rule
// expressions are CEL predicates over `product` (the passport as a map) and
// `score` (double).
type Evaluator struct {
	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// NewEvaluator creates an evaluator with the rule environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("product", cel.DynType),
		cel.Variable("score", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &Evaluator{env: env, prgCache: make(map[string]cel.Program)}, nil
}

// Check compiles expr without evaluating it.
func (e *Evaluator) Check(expr string) error {
	_, err := e.program(expr)
	return err
}

// SummarizeGaps evaluates p with the given score against path. A nil path
// is trivially compliant.
func (e *Evaluator) SummarizeGaps(score float64, p *domain.Product, path *domain.CompliancePath) (Result, error) {
	if path == nil {
		return Result{IsCompliant: true, Summary: "No compliance path applies to this product."}, nil
	}
	rules := path.Rules
	var gaps []domain.ComplianceGap
	gap := func(format string, args ...any) {
		gaps = append(gaps, domain.ComplianceGap{Regulation: path.Name, Issue: fmt.Sprintf(format, args...)})
	}

	if rules.MinSustainabilityScore != nil && score < *rules.MinSustainabilityScore {
		gap("Sustainability score %.0f is below the required minimum of %.0f.", score, *rules.MinSustainabilityScore)
	}
	haystack := materialText(p)
	for _, kw := range rules.RequiredKeywords {
		if !strings.Contains(haystack, strings.ToLower(kw)) {
			gap("Missing required material or certification: %q.", kw)
		}
	}
	for _, kw := range rules.BannedKeywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			gap("Contains banned material: %q.", kw)
		}
	}
	if strings.TrimSpace(rules.Expression) != "" {
		ok, err := e.eval(rules.Expression, p, score)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			gap("Rule not satisfied: %s", rules.Expression)
		}
	}

	if len(gaps) == 0 {
		return Result{IsCompliant: true, Summary: fmt.Sprintf("Product meets all requirements of %s.", path.Name)}, nil
	}
	issues := make([]string, len(gaps))
	for i, g := range gaps {
		issues[i] = g.Issue
	}
	return Result{
		IsCompliant: false,
		Summary:     fmt.Sprintf("%d gap(s) found against %s: %s", len(gaps), path.Name, strings.Join(issues, " ")),
		Gaps:        gaps,
	}, nil
}

func materialText(p *domain.Product) string {
	var b strings.Builder
	for _, m := range p.Materials {
		b.WriteString(strings.ToLower(m.Name))
		b.WriteByte('\n')
	}
	for _, c := range p.Certifications {
		b.WriteString(strings.ToLower(c.Name))
		b.WriteByte('\n')
	}
	return b.String()
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile rule: %w", issues.Err())
	}
	if !ast.OutputType().IsAssignableType(cel.BoolType) {
		return nil, fmt.Errorf("compile rule: %q does not yield a bool", expr)
	}
	prg, err := e.env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("program rule: %w", err)
	}
	e.prgCache[expr] = prg
	return prg, nil
}

func (e *Evaluator) eval(expr string, p *domain.Product, score float64) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	doc, err := productMap(p)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{"product": doc, "score": score})
	if err != nil {
		return false, fmt.Errorf("eval rule: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("eval rule: result is not a bool")
	}
	return val, nil
}

func productMap(p *domain.Product) (map[string]any, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
