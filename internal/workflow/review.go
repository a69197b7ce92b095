package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"norruva.org/internal/auth"
	"norruva.org/internal/compliance"
	"norruva.org/internal/domain"
	"norruva.org/internal/obs"
	"norruva.org/internal/store"
)

// SubmitForReview moves a complete NotSubmitted or Failed passport to Pending.
func (e *Engine) SubmitForReview(ctx context.Context, actor *domain.User, id string) (*domain.Product, error) {
	p, err := e.submit(ctx, actor, id)
	return store.Redact(actor, p), observe("submit", err)
}

func (e *Engine) submit(ctx context.Context, actor *domain.User, id string) (*domain.Product, error) {
	p, err := e.authorize(ctx, actor, auth.ProductSubmit, id)
	if err != nil {
		return nil, err
	}
	if checklist := compliance.Validate(p); !checklist.Complete() {
		verr := &ValidationError{}
		for _, field := range checklist.Missing() {
			verr.Add(field, "Required before submission")
		}
		return nil, verr
	}
	updated, err := e.Products.MutateProduct(ctx, id, func(p *domain.Product) error {
		switch p.VerificationStatus {
		case domain.VerificationNotSubmitted, domain.VerificationFailed:
		default:
			return transition(p.VerificationStatus, "submit")
		}
		if p.IsMinting {
			return ErrBusy
		}
		p.VerificationStatus = domain.VerificationPending
		p.LastUpdated = e.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.record(ctx, "passport.submitted", updated, nil, actor.ID)
	return updated, nil
}

// ApprovePassport marks the product as minting, audits the approval and
// anchors it in the background. The returned product has isMinting set.
func (e *Engine) ApprovePassport(ctx context.Context, actor *domain.User, id string) (*domain.Product, error) {
	p, err := e.approve(ctx, actor, id)
	return store.Redact(actor, p), observe("approve", err)
}

func (e *Engine) approve(ctx context.Context, actor *domain.User, id string) (*domain.Product, error) {
	if _, err := e.authorize(ctx, actor, auth.ProductApprove, id); err != nil {
		return nil, err
	}
	updated, err := e.Products.MutateProduct(ctx, id, func(p *domain.Product) error {
		if p.VerificationStatus != domain.VerificationPending {
			return transition(p.VerificationStatus, "approve")
		}
		if p.IsMinting {
			return ErrBusy
		}
		p.IsMinting = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.record(ctx, "passport.approved", updated, nil, actor.ID)
	e.Executor.Spawn(ctx, "product.anchor", func(ctx context.Context) error {
		return e.anchor(ctx, id, actor.ID)
	})
	return updated, nil
}

// anchor hashes, anchors and issues a credential, then publishes the passport.
func (e *Engine) anchor(ctx context.Context, id, userID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = e.failAnchor(ctx, id, userID, fmt.Errorf("anchoring panicked: %v", r))
		}
	}()

	p, err := e.Products.GetProduct(ctx, id)
	if err != nil {
		return e.failAnchor(ctx, id, userID, err)
	}
	hash, err := DataHash(p)
	if err != nil {
		return e.failAnchor(ctx, id, userID, err)
	}
	proof, err := e.Anchorer.Anchor(ctx, hash)
	if err != nil {
		return e.failAnchor(ctx, id, userID, fmt.Errorf("anchoring oracle: %w", err))
	}
	company, err := e.Companies.GetCompany(ctx, p.CompanyID)
	if errors.Is(err, store.ErrNotFound) {
		company, err = &domain.Company{ID: p.CompanyID, Name: p.CompanyID}, nil
	}
	if err != nil {
		return e.failAnchor(ctx, id, userID, err)
	}
	p.BlockchainProof = &proof
	vc, err := e.Issuer.Issue(ctx, p, company)
	if err != nil {
		return e.failAnchor(ctx, id, userID, fmt.Errorf("credential issuer: %w", err))
	}

	updated, err := e.Products.MutateProduct(ctx, id, func(p *domain.Product) error {
		p.IsMinting = false
		p.VerificationStatus = domain.VerificationVerified
		p.Status = domain.StatusPublished
		p.BlockchainProof = &proof
		p.VerifiableCredential = &vc
		p.LastUpdated = e.now()
		return nil
	})
	if err != nil {
		return e.failAnchor(ctx, id, userID, err)
	}
	details := map[string]any{
		"dataHash":    proof.DataHash,
		"txHash":      proof.TxHash,
		"blockHeight": proof.BlockHeight,
	}
	e.record(ctx, "product.anchored", updated, details, userID)
	e.notify(ctx, "product.published", map[string]any{
		"productId":   updated.ID,
		"companyId":   updated.CompanyID,
		"productName": updated.ProductName,
		"txHash":      proof.TxHash,
		"explorerUrl": proof.ExplorerURL,
	})
	return nil
}

// failAnchor clears isMinting and audits product.anchor.failed.
func (e *Engine) failAnchor(ctx context.Context, id, userID string, cause error) error {
	_, err := e.Products.MutateProduct(ctx, id, func(p *domain.Product) error {
		p.IsMinting = false
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		obs.Error("clear minting flag failed", err, map[string]any{"product_id": id})
	}
	e.Audit.Log(ctx, "product.anchor.failed", id, map[string]any{"error": cause.Error()}, userID)
	return cause
}

// RejectPassport fails a Pending passport, keeping reason as the compliance
// summary alongside gaps.
func (e *Engine) RejectPassport(ctx context.Context, actor *domain.User, id, reason string, gaps []domain.ComplianceGap) (*domain.Product, error) {
	p, err := e.reject(ctx, actor, id, reason, gaps)
	return store.Redact(actor, p), observe("reject", err)
}

func (e *Engine) reject(ctx context.Context, actor *domain.User, id, reason string, gaps []domain.ComplianceGap) (*domain.Product, error) {
	if _, err := e.authorize(ctx, actor, auth.ProductReject, id); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		verr := &ValidationError{}
		verr.Add("reason", "This field is required")
		return nil, verr
	}
	updated, err := e.Products.MutateProduct(ctx, id, func(p *domain.Product) error {
		if p.VerificationStatus != domain.VerificationPending {
			return transition(p.VerificationStatus, "reject")
		}
		if p.IsMinting || p.IsProcessing {
			return ErrBusy
		}
		p.VerificationStatus = domain.VerificationFailed
		if p.Sustainability == nil {
			p.Sustainability = &domain.Sustainability{}
		}
		p.Sustainability.ComplianceSummary = reason
		p.Sustainability.Gaps = append([]domain.ComplianceGap(nil), gaps...)
		p.Sustainability.IsCompliant = false
		p.LastUpdated = e.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.record(ctx, "passport.rejected", updated, map[string]any{"reason": reason, "gaps": len(gaps)}, actor.ID)
	return updated, nil
}

// OverrideVerification publishes a passport without anchoring.
func (e *Engine) OverrideVerification(ctx context.Context, actor *domain.User, id, reason string) (*domain.Product, error) {
	p, err := e.override(ctx, actor, id, reason)
	return store.Redact(actor, p), observe("override", err)
}

func (e *Engine) override(ctx context.Context, actor *domain.User, id, reason string) (*domain.Product, error) {
	if _, err := e.authorize(ctx, actor, auth.ProductOverrideVerification, id); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		verr := &ValidationError{}
		verr.Add("reason", "This field is required")
		return nil, verr
	}
	updated, err := e.Products.MutateProduct(ctx, id, func(p *domain.Product) error {
		if p.Status == domain.StatusArchived || p.VerificationStatus == domain.VerificationVerified {
			return transition(p.VerificationStatus, "override")
		}
		if p.IsMinting || p.IsProcessing {
			return ErrBusy
		}
		now := e.now()
		p.VerificationStatus = domain.VerificationVerified
		p.Status = domain.StatusPublished
		p.VerificationOverride = &domain.VerificationOverride{UserID: actor.ID, Reason: reason, Date: now}
		p.LastUpdated = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.record(ctx, "product.verification.overridden", updated, map[string]any{"reason": reason}, actor.ID)
	return updated, nil
}

// ResolveComplianceIssue reopens a Failed passport for editing.
func (e *Engine) ResolveComplianceIssue(ctx context.Context, actor *domain.User, id string) (*domain.Product, error) {
	p, err := e.resolve(ctx, actor, id)
	return store.Redact(actor, p), observe("resolve", err)
}

func (e *Engine) resolve(ctx context.Context, actor *domain.User, id string) (*domain.Product, error) {
	if _, err := e.authorize(ctx, actor, auth.ProductResolve, id); err != nil {
		return nil, err
	}
	updated, err := e.Products.MutateProduct(ctx, id, func(p *domain.Product) error {
		if p.VerificationStatus != domain.VerificationFailed {
			return transition(p.VerificationStatus, "resolve")
		}
		if p.IsProcessing {
			return ErrBusy
		}
		p.VerificationStatus = domain.VerificationNotSubmitted
		p.Status = domain.StatusDraft
		p.LastUpdated = e.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.record(ctx, "compliance.resolved", updated, nil, actor.ID)
	return updated, nil
}

// RunComplianceCheck evaluates the product against pathID, or the path for
// its category when pathID is empty, using the last computed score.
func (e *Engine) RunComplianceCheck(ctx context.Context, actor *domain.User, id, pathID string) (*domain.Product, error) {
	p, err := e.checkCompliance(ctx, actor, id, pathID)
	return store.Redact(actor, p), observe("run_compliance", err)
}

func (e *Engine) checkCompliance(ctx context.Context, actor *domain.User, id, pathID string) (*domain.Product, error) {
	p, err := e.authorize(ctx, actor, auth.ProductRunCompliance, id)
	if err != nil {
		return nil, err
	}
	var path *domain.CompliancePath
	if pathID != "" {
		if path, err = e.Paths.GetCompliancePath(ctx, pathID); err != nil {
			return nil, err
		}
	} else {
		if path, err = e.pathFor(ctx, p.Category); err != nil {
			return nil, err
		}
		if path == nil {
			return nil, fmt.Errorf("%w: category %q", ErrNoCompliancePath, p.Category)
		}
	}
	var score float64
	if p.Sustainability != nil {
		score = p.Sustainability.Score
	}
	res, err := e.Evaluator.SummarizeGaps(score, p, path)
	if err != nil {
		return nil, err
	}
	updated, err := e.Products.MutateProduct(ctx, id, func(p *domain.Product) error {
		if p.Sustainability == nil {
			p.Sustainability = &domain.Sustainability{}
		}
		p.Sustainability.IsCompliant = res.IsCompliant
		p.Sustainability.ComplianceSummary = res.Summary
		p.Sustainability.Gaps = res.Gaps
		p.Sustainability.CompliancePathID = path.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.record(ctx, "compliance.checked", updated, map[string]any{
		"compliancePathId": path.ID,
		"isCompliant":      res.IsCompliant,
		"gaps":             len(res.Gaps),
	}, actor.ID)
	return updated, nil
}
