package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"norruva.org/internal/auth"
	"norruva.org/internal/compliance"
	"norruva.org/internal/domain"
	"norruva.org/internal/ids"
	"norruva.org/internal/obs"
	"norruva.org/internal/oracle"
	"norruva.org/internal/store"
)

// ProductInput is the editable content of a passport.
type ProductInput struct {
	ProductName        string                 `json:"productName" validate:"notblank,max=200"`
	ProductDescription string                 `json:"productDescription" validate:"max=5000"`
	Category           string                 `json:"category" validate:"max=100"`
	Materials          []domain.Material      `json:"materials" validate:"max=200,dive"`
	Manufacturing      domain.Manufacturing   `json:"manufacturing"`
	Certifications     []domain.Certification `json:"certifications" validate:"max=100,dive"`
	Packaging          domain.Packaging       `json:"packaging"`
}

func (in ProductInput) apply(p *domain.Product) {
	p.ProductName = strings.TrimSpace(in.ProductName)
	p.ProductDescription = strings.TrimSpace(in.ProductDescription)
	p.Category = strings.TrimSpace(in.Category)
	p.Materials = append([]domain.Material(nil), in.Materials...)
	p.Manufacturing = in.Manufacturing
	p.Certifications = append([]domain.Certification(nil), in.Certifications...)
	p.Packaging = in.Packaging
}

// SaveProduct creates a product when id is empty and updates it otherwise.
// Either way a scoring task is started.
func (e *Engine) SaveProduct(ctx context.Context, actor *domain.User, id string, in ProductInput) (*domain.Product, error) {
	if id == "" {
		p, err := e.createProduct(ctx, actor, in)
		return store.Redact(actor, p), observe("create", err)
	}
	p, err := e.updateProduct(ctx, actor, id, in)
	return store.Redact(actor, p), observe("update", err)
}

func (e *Engine) createProduct(ctx context.Context, actor *domain.User, in ProductInput) (*domain.Product, error) {
	if err := auth.CheckPermission(actor, auth.ProductCreate, nil); err != nil {
		return nil, err
	}
	if err := e.validate.Struct(in); err != nil {
		return nil, err
	}
	now := e.now()
	p := &domain.Product{
		ID:                 ids.WithPrefix(ids.PrefixProduct),
		CompanyID:          actor.CompanyID,
		Status:             domain.StatusDraft,
		VerificationStatus: domain.VerificationNotSubmitted,
		EndOfLifeStatus:    domain.EndOfLifeActive,
		ChainOfCustody:     []domain.CustodyStep{},
		IsProcessing:       true,
		CreatedAt:          now,
		UpdatedAt:          now,
		LastUpdated:        now,
	}
	in.apply(p)
	if err := e.Products.CreateProduct(ctx, p); err != nil {
		return nil, err
	}
	e.record(ctx, "product.created", p, map[string]any{"productName": p.ProductName}, actor.ID)
	e.spawnScoring(ctx, p.ID, actor.ID)
	return p, nil
}

func (e *Engine) updateProduct(ctx context.Context, actor *domain.User, id string, in ProductInput) (*domain.Product, error) {
	if _, err := e.authorize(ctx, actor, auth.ProductEdit, id); err != nil {
		return nil, err
	}
	if err := e.validate.Struct(in); err != nil {
		return nil, err
	}
	updated, err := e.Products.MutateProduct(ctx, id, func(p *domain.Product) error {
		if p.IsProcessing {
			return ErrBusy
		}
		in.apply(p)
		p.IsProcessing = true
		p.LastUpdated = e.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.record(ctx, "product.updated", updated, map[string]any{"productName": updated.ProductName}, actor.ID)
	e.spawnScoring(ctx, id, actor.ID)
	return updated, nil
}

// RecalculateScore re-runs the scoring oracle in the background.
func (e *Engine) RecalculateScore(ctx context.Context, actor *domain.User, id string) (*domain.Product, error) {
	p, err := e.startProcessing(ctx, actor, auth.ProductRecalculate, id)
	if err != nil {
		return nil, observe("recalculate", err)
	}
	e.record(ctx, "product.score.requested", p, nil, actor.ID)
	e.spawnScoring(ctx, id, actor.ID)
	return store.Redact(actor, p), observe("recalculate", nil)
}

// ValidateData refreshes the data quality warnings in the background.
func (e *Engine) ValidateData(ctx context.Context, actor *domain.User, id string) (*domain.Product, error) {
	p, err := e.startProcessing(ctx, actor, auth.ProductValidateData, id)
	if err != nil {
		return nil, observe("validate_data", err)
	}
	e.record(ctx, "product.validation.requested", p, nil, actor.ID)
	e.Executor.Spawn(ctx, "product.validate", func(ctx context.Context) error {
		return e.validateData(ctx, id, actor.ID)
	})
	return store.Redact(actor, p), observe("validate_data", nil)
}

// startProcessing atomically claims the isProcessing flag.
func (e *Engine) startProcessing(ctx context.Context, actor *domain.User, action auth.Action, id string) (*domain.Product, error) {
	if _, err := e.authorize(ctx, actor, action, id); err != nil {
		return nil, err
	}
	return e.Products.MutateProduct(ctx, id, func(p *domain.Product) error {
		if p.IsProcessing {
			return ErrBusy
		}
		p.IsProcessing = true
		return nil
	})
}

func (e *Engine) spawnScoring(ctx context.Context, id, userID string) {
	e.Executor.Spawn(ctx, "product.score", func(ctx context.Context) error {
		return e.score(ctx, id, userID)
	})
}

func (e *Engine) score(ctx context.Context, id, userID string) error {
	res, pathID, err := e.runScorer(ctx, id)
	if err != nil {
		return e.failProcessing(ctx, id, userID, "product.score.failed", err)
	}
	updated, err := e.Products.MutateProduct(ctx, id, func(p *domain.Product) error {
		p.IsProcessing = false
		next := &domain.Sustainability{
			Score:               res.Score,
			IsCompliant:         res.IsCompliant,
			ComplianceSummary:   res.ComplianceSummary,
			Gaps:                res.Gaps,
			QRLabelText:         res.QRLabelText,
			DataQualityWarnings: res.DataQualityWarnings,
			CompliancePathID:    pathID,
			ScoredAt:            e.now(),
		}
		// A rejected passport keeps the reviewer's verdict until it is resolved.
		if p.VerificationStatus == domain.VerificationFailed && p.Sustainability != nil {
			next.IsCompliant = false
			next.ComplianceSummary = p.Sustainability.ComplianceSummary
			next.Gaps = p.Sustainability.Gaps
		}
		p.Sustainability = next
		return nil
	})
	if err != nil {
		return e.failProcessing(ctx, id, userID, "product.score.failed", err)
	}
	e.record(ctx, "product.scored", updated, map[string]any{
		"score":       res.Score,
		"isCompliant": res.IsCompliant,
		"gaps":        len(res.Gaps),
	}, userID)
	return nil
}

func (e *Engine) validateData(ctx context.Context, id, userID string) error {
	res, _, err := e.runScorer(ctx, id)
	if err != nil {
		return e.failProcessing(ctx, id, userID, "product.validation.failed", err)
	}
	updated, err := e.Products.MutateProduct(ctx, id, func(p *domain.Product) error {
		p.IsProcessing = false
		if p.Sustainability == nil {
			p.Sustainability = &domain.Sustainability{}
		}
		p.Sustainability.DataQualityWarnings = res.DataQualityWarnings
		return nil
	})
	if err != nil {
		return e.failProcessing(ctx, id, userID, "product.validation.failed", err)
	}
	e.record(ctx, "product.data_validated", updated, map[string]any{"warnings": len(res.DataQualityWarnings)}, userID)
	return nil
}

// runScorer snapshots the product and calls the scoring oracle. A panicking
// oracle is reported as an error so the caller can clear its flag.
func (e *Engine) runScorer(ctx context.Context, id string) (res oracle.Score, pathID string, err error) {
	defer recoverOracle("scoring", &err)
	p, err := e.Products.GetProduct(ctx, id)
	if err != nil {
		return res, "", err
	}
	path, err := e.pathFor(ctx, p.Category)
	if err != nil {
		return res, "", err
	}
	if path != nil {
		pathID = path.ID
	}
	res, err = e.Scorer.ScoreProduct(ctx, oracle.Snapshot{Product: p, Path: path})
	if err != nil {
		return res, "", fmt.Errorf("scoring oracle: %w", err)
	}
	return res, pathID, nil
}

func (e *Engine) pathFor(ctx context.Context, category string) (*domain.CompliancePath, error) {
	paths, err := e.Paths.ListCompliancePaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("list compliance paths: %w", err)
	}
	return compliance.SelectPath(paths, category), nil
}

// failProcessing clears isProcessing and audits action with the cause.
func (e *Engine) failProcessing(ctx context.Context, id, userID, action string, cause error) error {
	_, err := e.Products.MutateProduct(ctx, id, func(p *domain.Product) error {
		p.IsProcessing = false
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		obs.Error("clear processing flag failed", err, map[string]any{"product_id": id})
	}
	e.Audit.Log(ctx, action, id, map[string]any{"error": cause.Error()}, userID)
	return cause
}

func recoverOracle(name string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s oracle panicked: %v", name, r)
	}
}
