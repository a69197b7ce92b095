// Package oracle defines the external collaborators the workflow calls from
// background tasks and ships deterministic mock implementations of them.
package oracle

import (
	"context"

	"norruva.org/internal/domain"
)

// Snapshot is the scoring input: a product copy and the path it is judged by.
type Snapshot struct {
	Product *domain.Product
	Path    *domain.CompliancePath
}

// Score is the scoring oracle output.
type Score struct {
	Score               float64                `json:"score"`
	IsCompliant         bool                   `json:"isCompliant"`
	ComplianceSummary   string                 `json:"complianceSummary"`
	Gaps                []domain.ComplianceGap `json:"gaps"`
	QRLabelText         string                 `json:"qrLabelText"`
	DataQualityWarnings []string               `json:"dataQualityWarnings"`
}

type Scorer interface {
	ScoreProduct(ctx context.Context, snap Snapshot) (Score, error)
}

// Anchorer records a data hash on a ledger. Failures are returned as errors;
// it never fabricates a proof. Retrying the same hash is safe.
type Anchorer interface {
	Anchor(ctx context.Context, dataHash string) (domain.BlockchainProof, error)
}

type CredentialIssuer interface {
	Issue(ctx context.Context, p *domain.Product, c *domain.Company) (domain.VerifiableCredential, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, snap Snapshot) (Score, error)

func (f ScorerFunc) ScoreProduct(ctx context.Context, snap Snapshot) (Score, error) {
	return f(ctx, snap)
}

// AnchorerFunc adapts a function to Anchorer.
type AnchorerFunc func(ctx context.Context, dataHash string) (domain.BlockchainProof, error)

func (f AnchorerFunc) Anchor(ctx context.Context, dataHash string) (domain.BlockchainProof, error) {
	return f(ctx, dataHash)
}

// IssuerFunc adapts a function to CredentialIssuer.
type IssuerFunc func(ctx context.Context, p *domain.Product, c *domain.Company) (domain.VerifiableCredential, error)

func (f IssuerFunc) Issue(ctx context.Context, p *domain.Product, c *domain.Company) (domain.VerifiableCredential, error) {
	return f(ctx, p, c)
}
