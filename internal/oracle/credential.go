package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"norruva.org/internal/domain"
)

const credentialSchemaURL = "https://norruva.org/schemas/dpp-credential.schema.json"

const credentialSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["@context", "id", "type", "issuer", "issuanceDate", "credentialSubject", "proof"],
  "properties": {
    "@context": {"type": "array", "minItems": 1, "items": {"type": "string"}, "prefixItems": [{"const": "https://www.w3.org/2018/credentials/v1"}]},
    "id": {"type": "string", "pattern": "^urn:uuid:"},
    "type": {"type": "array", "contains": {"const": "VerifiableCredential"}},
    "issuer": {"type": "string", "pattern": "^did:"},
    "issuanceDate": {"type": "string", "minLength": 20},
    "credentialSubject": {
      "type": "object",
      "required": ["id", "productName", "dataHash"],
      "properties": {"dataHash": {"type": "string", "minLength": 64, "maxLength": 64}}
    },
    "proof": {
      "type": "object",
      "required": ["type", "created", "proofPurpose", "verificationMethod", "proofValue"]
    }
  }
}`

// MockIssuer builds JSON-LD shaped credentials with a placeholder proof.
type MockIssuer struct {
	now func() time.Time
}

func NewMockIssuer() *MockIssuer {
	return &MockIssuer{now: func() time.Time { return time.Now().UTC() }}
}

func (m *MockIssuer) Issue(ctx context.Context, p *domain.Product, c *domain.Company) (domain.VerifiableCredential, error) {
	if p == nil || c == nil {
		return domain.VerifiableCredential{}, fmt.Errorf("issue credential: product and company are required")
	}
	subject := map[string]any{
		"id":          "did:norruva:product:" + p.ID,
		"productName": p.ProductName,
		"category":    p.Category,
		"manufacturer": map[string]any{
			"id":   "did:norruva:company:" + c.ID,
			"name": c.Name,
		},
	}
	if p.BlockchainProof != nil {
		subject["dataHash"] = p.BlockchainProof.DataHash
		subject["txHash"] = p.BlockchainProof.TxHash
	}
	if p.Sustainability != nil {
		subject["sustainabilityScore"] = p.Sustainability.Score
	}
	created := m.now().Format(time.RFC3339)
	issuer := "did:web:norruva.org:company:" + c.ID
	digest := sha256.Sum256([]byte(issuer + "|" + p.ID + "|" + created))
	return domain.VerifiableCredential{
		Context:           []string{"https://www.w3.org/2018/credentials/v1", "https://norruva.org/contexts/dpp/v1"},
		ID:                "urn:uuid:" + uuid.NewString(),
		Type:              []string{"VerifiableCredential", "DigitalProductPassport"},
		Issuer:            issuer,
		IssuanceDate:      created,
		CredentialSubject: subject,
		Proof: map[string]any{
			"type":               "Ed25519Signature2020",
			"created":            created,
			"proofPurpose":       "assertionMethod",
			"verificationMethod": issuer + "#key-1",
			"proofValue":         "mock-" + hex.EncodeToString(digest[:]),
		},
	}, nil
}

// ValidatingIssuer rejects credentials that do not match the passport
// credential schema.
type ValidatingIssuer struct {
	next   CredentialIssuer
	schema *jsonschema.Schema
}

func NewValidatingIssuer(next CredentialIssuer) (*ValidatingIssuer, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(credentialSchemaURL, strings.NewReader(credentialSchema)); err != nil {
		return nil, fmt.Errorf("credential schema load failed: %w", err)
	}
	schema, err := c.Compile(credentialSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("credential schema compile failed: %w", err)
	}
	return &ValidatingIssuer{next: next, schema: schema}, nil
}

func (v *ValidatingIssuer) Issue(ctx context.Context, p *domain.Product, c *domain.Company) (domain.VerifiableCredential, error) {
	vc, err := v.next.Issue(ctx, p, c)
	if err != nil {
		return domain.VerifiableCredential{}, err
	}
	if err := v.Validate(vc); err != nil {
		return domain.VerifiableCredential{}, err
	}
	return vc, nil
}

// Validate checks vc against the schema.
func (v *ValidatingIssuer) Validate(vc domain.VerifiableCredential) error {
	raw, err := json.Marshal(vc)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode credential: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("credential schema validation failed: %w", err)
	}
	return nil
}
