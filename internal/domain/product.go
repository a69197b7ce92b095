package domain

import (
	"slices"
	"time"
)

// ProductStatus is the publication state of a passport.
type ProductStatus string

const (
	StatusDraft     ProductStatus = "Draft"
	StatusPublished ProductStatus = "Published"
	StatusArchived  ProductStatus = "Archived"
)

// VerificationStatus tracks the review lifecycle.
type VerificationStatus string

const (
	VerificationNotSubmitted VerificationStatus = "NotSubmitted"
	VerificationPending      VerificationStatus = "Pending"
	VerificationVerified     VerificationStatus = "Verified"
	VerificationFailed       VerificationStatus = "Failed"
)

// EndOfLifeStatus is orthogonal to the review lifecycle.
type EndOfLifeStatus string

const (
	EndOfLifeActive   EndOfLifeStatus = "Active"
	EndOfLifeRecycled EndOfLifeStatus = "Recycled"
	EndOfLifeDisposed EndOfLifeStatus = "Disposed"
)

// Material is one entry of a product's bill of materials.
type Material struct {
	Name       string  `json:"name" validate:"required,max=200"`
	Percentage float64 `json:"percentage,omitempty" validate:"gte=0,lte=100"`
	Recycled   bool    `json:"recycled,omitempty"`
	Origin     string  `json:"origin,omitempty"`
}

// Manufacturing describes where and how the product was made.
type Manufacturing struct {
	Facility        string  `json:"facility,omitempty"`
	Country         string  `json:"country,omitempty"`
	EmissionsKgCO2e float64 `json:"emissionsKgCo2e,omitempty" validate:"gte=0"`
}

// Certification is a third-party claim attached to the product.
type Certification struct {
	Name      string `json:"name" validate:"required"`
	Authority string `json:"authority,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// Packaging describes the product's packaging.
type Packaging struct {
	Type          string  `json:"type,omitempty"`
	Recyclable    bool    `json:"recyclable,omitempty"`
	RecycledShare float64 `json:"recycledShare,omitempty" validate:"gte=0,lte=100"`
}

// ComplianceGap is one unmet rule of a compliance path.
type ComplianceGap struct {
	Regulation string `json:"regulation,omitempty"`
	Issue      string `json:"issue"`
}

// Sustainability is written only by the scoring oracle and review actions.
type Sustainability struct {
	Score               float64         `json:"score"`
	IsCompliant         bool            `json:"isCompliant"`
	ComplianceSummary   string          `json:"complianceSummary,omitempty"`
	Gaps                []ComplianceGap `json:"gaps,omitempty"`
	QRLabelText         string          `json:"qrLabelText,omitempty"`
	DataQualityWarnings []string        `json:"dataQualityWarnings,omitempty"`
	CompliancePathID    string          `json:"compliancePathId,omitempty"`
	ScoredAt            time.Time       `json:"scoredAt,omitempty"`
}

// BlockchainProof is written only by the anchoring oracle.
type BlockchainProof struct {
	DataHash    string    `json:"dataHash"`
	TxHash      string    `json:"txHash"`
	ExplorerURL string    `json:"explorerUrl"`
	BlockHeight uint64    `json:"blockHeight"`
	AnchoredAt  time.Time `json:"anchoredAt"`
}

// VerifiableCredential is a JSON-LD shaped credential.
type VerifiableCredential struct {
	Context           []string       `json:"@context"`
	ID                string         `json:"id"`
	Type              []string       `json:"type"`
	Issuer            string         `json:"issuer"`
	IssuanceDate      string         `json:"issuanceDate"`
	CredentialSubject map[string]any `json:"credentialSubject"`
	Proof             map[string]any `json:"proof"`
}

// VerificationOverride records a manual bypass of anchoring.
type VerificationOverride struct {
	UserID string    `json:"userId"`
	Reason string    `json:"reason"`
	Date   time.Time `json:"date"`
}

// CustodyStep is one hand-over in the chain of custody.
type CustodyStep struct {
	Event     string    `json:"event" validate:"required"`
	Location  string    `json:"location,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ServiceRecord is one maintenance or repair entry.
type ServiceRecord struct {
	Description string    `json:"description" validate:"notblank,max=1000"`
	ProviderID  string    `json:"providerId"`
	Date        time.Time `json:"date"`
}

// Customs holds the latest customs inspection outcome.
type Customs struct {
	Status    string    `json:"status"`
	Location  string    `json:"location,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Product is the central passport aggregate.
type Product struct {
	ID                   string                `json:"id"`
	CompanyID            string                `json:"companyId"`
	ProductName          string                `json:"productName"`
	ProductDescription   string                `json:"productDescription"`
	Category             string                `json:"category"`
	Materials            []Material            `json:"materials"`
	Manufacturing        Manufacturing         `json:"manufacturing"`
	Certifications       []Certification       `json:"certifications"`
	Packaging            Packaging             `json:"packaging"`
	Status               ProductStatus         `json:"status"`
	VerificationStatus   VerificationStatus    `json:"verificationStatus"`
	EndOfLifeStatus      EndOfLifeStatus       `json:"endOfLifeStatus"`
	Sustainability       *Sustainability       `json:"sustainability,omitempty"`
	BlockchainProof      *BlockchainProof      `json:"blockchainProof,omitempty"`
	VerifiableCredential *VerifiableCredential `json:"verifiableCredential,omitempty"`
	VerificationOverride *VerificationOverride `json:"verificationOverride,omitempty"`
	ChainOfCustody       []CustodyStep         `json:"chainOfCustody"`
	ServiceHistory       []ServiceRecord       `json:"serviceHistory,omitempty"`
	Customs              *Customs              `json:"customs,omitempty"`
	IsMinting            bool                  `json:"isMinting"`
	IsProcessing         bool                  `json:"isProcessing"`
	CreatedAt            time.Time             `json:"createdAt"`
	UpdatedAt            time.Time             `json:"updatedAt"`
	LastUpdated          time.Time             `json:"lastUpdated"`
}

// Clone returns a deep copy of p.
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	out := *p
	out.Materials = slices.Clone(p.Materials)
	out.Certifications = slices.Clone(p.Certifications)
	out.ChainOfCustody = slices.Clone(p.ChainOfCustody)
	out.ServiceHistory = slices.Clone(p.ServiceHistory)
	if p.Sustainability != nil {
		s := *p.Sustainability
		s.Gaps = slices.Clone(p.Sustainability.Gaps)
		s.DataQualityWarnings = slices.Clone(p.Sustainability.DataQualityWarnings)
		out.Sustainability = &s
	}
	if p.BlockchainProof != nil {
		bp := *p.BlockchainProof
		out.BlockchainProof = &bp
	}
	if p.VerifiableCredential != nil {
		vc := *p.VerifiableCredential
		vc.Context = slices.Clone(p.VerifiableCredential.Context)
		vc.Type = slices.Clone(p.VerifiableCredential.Type)
		vc.CredentialSubject = cloneMap(p.VerifiableCredential.CredentialSubject)
		vc.Proof = cloneMap(p.VerifiableCredential.Proof)
		out.VerifiableCredential = &vc
	}
	if p.VerificationOverride != nil {
		vo := *p.VerificationOverride
		out.VerificationOverride = &vo
	}
	if p.Customs != nil {
		c := *p.Customs
		out.Customs = &c
	}
	return &out
}

// MaterialNames returns the material names in order.
func (p *Product) MaterialNames() []string {
	names := make([]string, 0, len(p.Materials))
	for _, m := range p.Materials {
		names = append(names, m.Name)
	}
	return names
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
