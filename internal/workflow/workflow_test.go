package workflow

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"norruva.org/internal/audit"
	"norruva.org/internal/auth"
	"norruva.org/internal/compliance"
	"norruva.org/internal/credits"
	"norruva.org/internal/domain"
	"norruva.org/internal/obs"
	"norruva.org/internal/oracle"
	"norruva.org/internal/store"
	"norruva.org/internal/stream"
	"norruva.org/internal/tasks"
)

var (
	supplier = &domain.User{ID: "usr_sup", CompanyID: "cmp_1", Roles: []domain.Role{domain.RoleSupplier}}
	rival    = &domain.User{ID: "usr_rival", CompanyID: "cmp_2", Roles: []domain.Role{domain.RoleSupplier}}
	auditor  = &domain.User{ID: "usr_aud", CompanyID: "cmp_audit", Roles: []domain.Role{domain.RoleAuditor}}
	manager  = &domain.User{ID: "usr_cm", CompanyID: "cmp_audit", Roles: []domain.Role{domain.RoleComplianceManager}}
	recycler = &domain.User{ID: "usr_rec", CompanyID: "cmp_3", Roles: []domain.Role{domain.RoleRecycler}}
	provider = &domain.User{ID: "usr_sp", CompanyID: "cmp_3", Roles: []domain.Role{domain.RoleServiceProvider}}
)

type published struct {
	mu     sync.Mutex
	events []string
}

func (p *published) Publish(ctx context.Context, event string, payload map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *published) list() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.events)
}

type fixture struct {
	eng      *Engine
	mem      *store.Memory
	exec     *tasks.Executor
	credits  *credits.InMemory
	notifier *published
}

func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	for _, u := range []*domain.User{supplier, rival, auditor, manager, recycler, provider} {
		if err := mem.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	if err := mem.CreateCompany(ctx, &domain.Company{ID: "cmp_1", Name: "Acme Textiles"}); err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}
	minScore := 60.0
	if err := mem.PutCompliancePath(ctx, &domain.CompliancePath{
		ID:       "cpl_apparel",
		Name:     "EU Textile Strategy",
		Category: "Apparel",
		Rules:    domain.ComplianceRules{MinSustainabilityScore: &minScore, BannedKeywords: []string{"PFAS"}},
	}); err != nil {
		t.Fatalf("PutCompliancePath: %v", err)
	}

	ev, err := compliance.NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	issuer, err := oracle.NewValidatingIssuer(oracle.NewMockIssuer())
	if err != nil {
		t.Fatalf("NewValidatingIssuer: %v", err)
	}
	exec := tasks.NewExecutor(8)
	ledger := credits.NewInMemory()
	notifier := &published{}
	deps := Deps{
		Products:  mem,
		Companies: mem,
		Paths:     mem,
		Audit:     audit.NewLogger(mem, mem),
		Executor:  exec,
		Scorer:    oracle.NewMockScorer(ev),
		Anchorer:  oracle.NewMockAnchorer(""),
		Issuer:    issuer,
		Evaluator: ev,
		Credits:   ledger,
		Notifier:  notifier,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	eng, err := New(deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(exec.Wait)
	return &fixture{eng: eng, mem: mem, exec: exec, credits: ledger, notifier: notifier}
}

func completeInput(name string) ProductInput {
	return ProductInput{
		ProductName:        name,
		ProductDescription: "Water resistant shell",
		Category:           "Apparel",
		Materials:          []domain.Material{{Name: "Recycled Polyester", Percentage: 100, Recycled: true}},
		Manufacturing:      domain.Manufacturing{Country: "PT", EmissionsKgCO2e: 12},
		Certifications:     []domain.Certification{{Name: "GRS"}},
		Packaging:          domain.Packaging{Type: "Cardboard", Recyclable: true},
	}
}

// create saves a complete product and waits for its scoring task.
func (f *fixture) create(t *testing.T, actor *domain.User, name string) *domain.Product {
	t.Helper()
	p, err := f.eng.SaveProduct(context.Background(), actor, "", completeInput(name))
	if err != nil {
		t.Fatalf("SaveProduct: %v", err)
	}
	f.exec.Wait()
	return f.get(t, p.ID)
}

func (f *fixture) get(t *testing.T, id string) *domain.Product {
	t.Helper()
	p, err := f.mem.GetProduct(context.Background(), id)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	return p
}

func (f *fixture) actions(t *testing.T, entityID string) []string {
	t.Helper()
	logs, err := f.mem.ListAuditLogs(context.Background(), store.AuditFilter{EntityID: entityID})
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	out := make([]string, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.Action)
	}
	return out
}

func only(actions []string, keep ...string) []string {
	var out []string
	for _, a := range actions {
		if slices.Contains(keep, a) {
			out = append(out, a)
		}
	}
	return out
}

func TestCreateStartsScoring(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.eng.SaveProduct(ctx, supplier, "", completeInput("Jacket"))
	if err != nil {
		t.Fatalf("SaveProduct: %v", err)
	}
	if p.Status != domain.StatusDraft || p.VerificationStatus != domain.VerificationNotSubmitted ||
		p.EndOfLifeStatus != domain.EndOfLifeActive || p.CompanyID != "cmp_1" || !p.IsProcessing {
		t.Fatalf("unexpected new product %+v", p)
	}
	f.exec.Wait()
	got := f.get(t, p.ID)
	if got.IsProcessing || got.Sustainability == nil || got.Sustainability.CompliancePathID != "cpl_apparel" {
		t.Fatalf("scoring did not complete: %+v", got)
	}
	if !slices.Equal(f.actions(t, p.ID), []string{"product.created", "product.scored"}) {
		t.Fatalf("unexpected audit trail %v", f.actions(t, p.ID))
	}
}

func TestSaveValidatesInput(t *testing.T) {
	f := newFixture(t)
	in := completeInput(" ")
	in.Materials = append(in.Materials, domain.Material{Name: "", Percentage: 140})
	_, err := f.eng.SaveProduct(context.Background(), supplier, "", in)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"productName", "materials[1].name", "materials[1].percentage"} {
		if len(verr.Fields[field]) == 0 {
			t.Fatalf("missing %q in %v", field, verr.Fields)
		}
	}
}

func TestUpdateRequiresSameCompany(t *testing.T) {
	f := newFixture(t)
	p := f.create(t, supplier, "Jacket")
	ctx := context.Background()

	var permErr *auth.PermissionError
	if _, err := f.eng.SaveProduct(ctx, rival, p.ID, completeInput("Stolen")); !errors.As(err, &permErr) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
	updated, err := f.eng.SaveProduct(ctx, supplier, p.ID, completeInput("Jacket v2"))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	f.exec.Wait()
	got := f.get(t, p.ID)
	if got.ProductName != "Jacket v2" || got.CompanyID != "cmp_1" || !got.CreatedAt.Equal(p.CreatedAt) || updated.ID != p.ID {
		t.Fatalf("unexpected update %+v", got)
	}
	if _, err := f.eng.SaveProduct(ctx, supplier, "prd_missing", completeInput("x")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// Supplier creates and submits, auditor approves; anchoring completes later.
func TestApproveScenario(t *testing.T) {
	release := make(chan struct{})
	anchorer := oracle.NewMockAnchorer("")
	events := stream.New()
	f := newFixture(t, func(d *Deps) {
		d.Anchorer = oracle.AnchorerFunc(func(ctx context.Context, hash string) (domain.BlockchainProof, error) {
			<-release
			return anchorer.Anchor(ctx, hash)
		})
		d.Events = events
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := events.Subscribe(ctx, "passport.")

	p := f.create(t, supplier, "Jacket")
	submitted, err := f.eng.SubmitForReview(ctx, supplier, p.ID)
	if err != nil || submitted.VerificationStatus != domain.VerificationPending {
		t.Fatalf("SubmitForReview: %v %+v", err, submitted)
	}
	approved, err := f.eng.ApprovePassport(ctx, auditor, p.ID)
	if err != nil {
		t.Fatalf("ApprovePassport: %v", err)
	}
	if !approved.IsMinting || !f.get(t, p.ID).IsMinting {
		t.Fatalf("isMinting must be set before approve returns")
	}
	if _, err := f.eng.ApprovePassport(ctx, auditor, p.ID); !errors.Is(err, ErrBusy) {
		t.Fatalf("second approve while minting: expected ErrBusy, got %v", err)
	}

	close(release)
	f.exec.Wait()

	got := f.get(t, p.ID)
	if got.VerificationStatus != domain.VerificationVerified || got.Status != domain.StatusPublished || got.IsMinting {
		t.Fatalf("unexpected final state %+v", got)
	}
	if got.BlockchainProof == nil || got.VerifiableCredential == nil {
		t.Fatalf("proof and credential must be stored")
	}
	hash, _ := DataHash(got)
	if got.BlockchainProof.DataHash != hash || got.VerifiableCredential.CredentialSubject["dataHash"] != hash {
		t.Fatalf("credential not bound to anchored hash")
	}

	trail := only(f.actions(t, p.ID), "passport.submitted", "passport.approved", "product.anchored")
	if !slices.Equal(trail, []string{"passport.submitted", "passport.approved", "product.anchored"}) {
		t.Fatalf("unexpected audit order %v", trail)
	}
	if !slices.Equal(f.notifier.list(), []string{"product.published"}) {
		t.Fatalf("expected product.published webhook, got %v", f.notifier.list())
	}

	var names []string
	for len(names) < 2 {
		select {
		case evt := <-sub:
			names = append(names, evt.Name)
		case <-time.After(time.Second):
			t.Fatalf("missing stream events, got %v", names)
		}
	}
	if !slices.Equal(names, []string{"passport.submitted", "passport.approved"}) {
		t.Fatalf("unexpected stream events %v", names)
	}
}

func TestDeletePublishedIsDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, supplier, "Jacket")
	if _, err := f.mem.MutateProduct(ctx, p.ID, func(p *domain.Product) error {
		p.Status = domain.StatusPublished
		p.VerificationStatus = domain.VerificationVerified
		return nil
	}); err != nil {
		t.Fatalf("MutateProduct: %v", err)
	}
	before, _ := f.mem.CountAuditLogs(ctx)
	denied := testutil.ToFloat64(obs.WorkflowTransitions.WithLabelValues("delete", "denied"))

	var permErr *auth.PermissionError
	if err := f.eng.DeleteProduct(ctx, supplier, p.ID); !errors.As(err, &permErr) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
	after, _ := f.mem.CountAuditLogs(ctx)
	if after != before {
		t.Fatalf("denied delete must not audit: %d -> %d", before, after)
	}
	if _, err := f.mem.GetProduct(ctx, p.ID); err != nil {
		t.Fatalf("product must survive: %v", err)
	}
	if got := testutil.ToFloat64(obs.WorkflowTransitions.WithLabelValues("delete", "denied")); got != denied+1 {
		t.Fatalf("denied counter not incremented: %v -> %v", denied, got)
	}
}

func TestDeleteDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, supplier, "Jacket")
	if err := f.eng.DeleteProduct(ctx, supplier, p.ID); err != nil {
		t.Fatalf("DeleteProduct: %v", err)
	}
	if _, err := f.mem.GetProduct(ctx, p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected product removed, got %v", err)
	}
	if err := f.eng.DeleteProduct(ctx, supplier, p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := f.eng.DeleteProduct(ctx, nil, "prd_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("existence is checked before permission, got %v", err)
	}
}

func TestRejectAndResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, supplier, "Jacket")

	if _, err := f.eng.RejectPassport(ctx, auditor, p.ID, "missing data", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("reject from NotSubmitted: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := f.eng.SubmitForReview(ctx, supplier, p.ID); err != nil {
		t.Fatalf("SubmitForReview: %v", err)
	}
	var verr *ValidationError
	if _, err := f.eng.RejectPassport(ctx, auditor, p.ID, "  ", nil); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for empty reason, got %v", err)
	}
	gaps := []domain.ComplianceGap{{Regulation: "ESPR", Issue: "No repairability score"}}
	rejected, err := f.eng.RejectPassport(ctx, auditor, p.ID, "Repairability data missing", gaps)
	if err != nil {
		t.Fatalf("RejectPassport: %v", err)
	}
	if rejected.VerificationStatus != domain.VerificationFailed ||
		rejected.Sustainability.ComplianceSummary != "Repairability data missing" ||
		len(rejected.Sustainability.Gaps) != 1 {
		t.Fatalf("unexpected rejected product %+v", rejected.Sustainability)
	}

	if _, err := f.eng.ResolveComplianceIssue(ctx, auditor, p.ID); err == nil {
		t.Fatalf("auditors may not resolve")
	}
	resolved, err := f.eng.ResolveComplianceIssue(ctx, supplier, p.ID)
	if err != nil || resolved.VerificationStatus != domain.VerificationNotSubmitted || resolved.Status != domain.StatusDraft {
		t.Fatalf("ResolveComplianceIssue: %v %+v", err, resolved)
	}
	if _, err := f.eng.ResolveComplianceIssue(ctx, supplier, p.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("resolve twice: expected ErrInvalidTransition, got %v", err)
	}
	trail := only(f.actions(t, p.ID), "passport.submitted", "passport.rejected", "compliance.resolved")
	if !slices.Equal(trail, []string{"passport.submitted", "passport.rejected", "compliance.resolved"}) {
		t.Fatalf("unexpected trail %v", trail)
	}
}

func TestSubmitRequiresCompleteChecklist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := completeInput("Jacket")
	in.ProductDescription = ""
	in.Packaging = domain.Packaging{}
	p, err := f.eng.SaveProduct(ctx, supplier, "", in)
	if err != nil {
		t.Fatalf("SaveProduct: %v", err)
	}
	f.exec.Wait()
	_, err = f.eng.SubmitForReview(ctx, supplier, p.ID)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Fields["productDescription"]) == 0 || len(verr.Fields["packaging"]) == 0 {
		t.Fatalf("unexpected fields %v", verr.Fields)
	}
	if f.get(t, p.ID).VerificationStatus != domain.VerificationNotSubmitted {
		t.Fatalf("state must not change")
	}
}

func TestApproveRequiresPending(t *testing.T) {
	f := newFixture(t)
	p := f.create(t, supplier, "Jacket")
	if _, err := f.eng.ApprovePassport(context.Background(), auditor, p.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var permErr *auth.PermissionError
	if _, err := f.eng.ApprovePassport(context.Background(), supplier, p.ID); !errors.As(err, &permErr) {
		t.Fatalf("suppliers may not approve, got %v", err)
	}
}

func TestAnchorFailureClearsMinting(t *testing.T) {
	for name, anchor := range map[string]oracle.AnchorerFunc{
		"error": func(context.Context, string) (domain.BlockchainProof, error) {
			return domain.BlockchainProof{}, errors.New("ledger unavailable")
		},
		"panic": func(context.Context, string) (domain.BlockchainProof, error) {
			panic("ledger exploded")
		},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, func(d *Deps) { d.Anchorer = anchor })
			ctx := context.Background()
			p := f.create(t, supplier, "Jacket")
			if _, err := f.eng.SubmitForReview(ctx, supplier, p.ID); err != nil {
				t.Fatalf("SubmitForReview: %v", err)
			}
			if _, err := f.eng.ApprovePassport(ctx, auditor, p.ID); err != nil {
				t.Fatalf("ApprovePassport: %v", err)
			}
			f.exec.Wait()
			got := f.get(t, p.ID)
			if got.IsMinting || got.VerificationStatus != domain.VerificationPending || got.Status != domain.StatusDraft {
				t.Fatalf("unexpected state after failed anchor %+v", got)
			}
			if !slices.Contains(f.actions(t, p.ID), "product.anchor.failed") {
				t.Fatalf("expected product.anchor.failed, got %v", f.actions(t, p.ID))
			}
			if len(f.notifier.list()) != 0 {
				t.Fatalf("no webhook on failure")
			}
		})
	}
}

func TestIssuerFailureClearsMinting(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Issuer = oracle.IssuerFunc(func(context.Context, *domain.Product, *domain.Company) (domain.VerifiableCredential, error) {
			return domain.VerifiableCredential{}, errors.New("signer offline")
		})
	})
	ctx := context.Background()
	p := f.create(t, supplier, "Jacket")
	_, _ = f.eng.SubmitForReview(ctx, supplier, p.ID)
	if _, err := f.eng.ApprovePassport(ctx, auditor, p.ID); err != nil {
		t.Fatalf("ApprovePassport: %v", err)
	}
	f.exec.Wait()
	if got := f.get(t, p.ID); got.IsMinting || got.BlockchainProof != nil {
		t.Fatalf("unexpected state %+v", got)
	}
}

func TestScoreFailureClearsProcessing(t *testing.T) {
	for name, scorer := range map[string]oracle.ScorerFunc{
		"error": func(context.Context, oracle.Snapshot) (oracle.Score, error) {
			return oracle.Score{}, errors.New("model timeout")
		},
		"panic": func(context.Context, oracle.Snapshot) (oracle.Score, error) {
			panic("model crashed")
		},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, func(d *Deps) { d.Scorer = scorer })
			p := f.create(t, supplier, "Jacket")
			if p.IsProcessing {
				t.Fatalf("isProcessing stuck after scoring failure")
			}
			if !slices.Equal(f.actions(t, p.ID), []string{"product.created", "product.score.failed"}) {
				t.Fatalf("unexpected trail %v", f.actions(t, p.ID))
			}
		})
	}
}

func TestSecondTaskWhileProcessingIsBusy(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(d *Deps) {
		d.Scorer = oracle.ScorerFunc(func(ctx context.Context, snap oracle.Snapshot) (oracle.Score, error) {
			<-release
			return oracle.Score{Score: 70}, nil
		})
	})
	ctx := context.Background()
	p, err := f.eng.SaveProduct(ctx, supplier, "", completeInput("Jacket"))
	if err != nil {
		t.Fatalf("SaveProduct: %v", err)
	}
	if _, err := f.eng.RecalculateScore(ctx, supplier, p.ID); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if _, err := f.eng.SaveProduct(ctx, supplier, p.ID, completeInput("Jacket v2")); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy on update, got %v", err)
	}
	if err := f.eng.DeleteProduct(ctx, supplier, p.ID); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy on delete, got %v", err)
	}
	close(release)
	f.exec.Wait()

	if _, err := f.eng.RecalculateScore(ctx, supplier, p.ID); err != nil {
		t.Fatalf("RecalculateScore after completion: %v", err)
	}
	f.exec.Wait()
	got := f.get(t, p.ID)
	if got.IsProcessing || got.Sustainability.Score != 70 {
		t.Fatalf("unexpected product %+v", got)
	}
}

func TestValidateData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := completeInput("Jacket")
	in.Materials = []domain.Material{{Name: "Cotton", Percentage: 40}}
	p, _ := f.eng.SaveProduct(ctx, supplier, "", in)
	f.exec.Wait()

	var permErr *auth.PermissionError
	if _, err := f.eng.ValidateData(ctx, rival, p.ID); !errors.As(err, &permErr) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
	if _, err := f.eng.ValidateData(ctx, supplier, p.ID); err != nil {
		t.Fatalf("ValidateData: %v", err)
	}
	f.exec.Wait()
	got := f.get(t, p.ID)
	if got.IsProcessing || len(got.Sustainability.DataQualityWarnings) == 0 {
		t.Fatalf("expected warnings, got %+v", got.Sustainability)
	}
	if !slices.Contains(f.actions(t, p.ID), "product.data_validated") {
		t.Fatalf("missing product.data_validated")
	}
}

func TestOverrideVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, supplier, "Jacket")

	var permErr *auth.PermissionError
	if _, err := f.eng.OverrideVerification(ctx, auditor, p.ID, "manual"); !errors.As(err, &permErr) {
		t.Fatalf("auditors may not override, got %v", err)
	}
	got, err := f.eng.OverrideVerification(ctx, manager, p.ID, "Verified offline by notified body")
	if err != nil {
		t.Fatalf("OverrideVerification: %v", err)
	}
	if got.VerificationStatus != domain.VerificationVerified || got.Status != domain.StatusPublished ||
		got.VerificationOverride == nil || got.VerificationOverride.UserID != manager.ID || got.BlockchainProof != nil {
		t.Fatalf("unexpected override result %+v", got)
	}
	if _, err := f.eng.OverrideVerification(ctx, manager, p.ID, "again"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if !slices.Contains(f.actions(t, p.ID), "product.verification.overridden") {
		t.Fatalf("missing override audit")
	}
}

func TestMarkAsRecycledGrantsCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, supplier, "Jacket")

	var permErr *auth.PermissionError
	if _, err := f.eng.MarkAsRecycled(ctx, supplier, p.ID); !errors.As(err, &permErr) {
		t.Fatalf("suppliers may not recycle, got %v", err)
	}
	got, err := f.eng.MarkAsRecycled(ctx, recycler, p.ID)
	if err != nil || got.EndOfLifeStatus != domain.EndOfLifeRecycled {
		t.Fatalf("MarkAsRecycled: %v %+v", err, got)
	}
	acc, err := f.credits.GetAccount(ctx, recycler.ID)
	if err != nil || acc.Balance != RecycleCreditAmount {
		t.Fatalf("unexpected credits %v %+v", err, acc)
	}
	if _, err := f.eng.MarkAsRecycled(ctx, recycler, p.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	acc, _ = f.credits.GetAccount(ctx, recycler.ID)
	if acc.Balance != RecycleCreditAmount {
		t.Fatalf("credited twice: %d", acc.Balance)
	}
	trail := only(f.actions(t, p.ID), "product.recycled", "credits.minted")
	if !slices.Equal(trail, []string{"product.recycled", "credits.minted"}) {
		t.Fatalf("unexpected trail %v", trail)
	}
}

func TestArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, supplier, "Jacket")
	var permErr *auth.PermissionError
	if _, err := f.eng.ArchiveProduct(ctx, rival, p.ID); !errors.As(err, &permErr) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
	got, err := f.eng.ArchiveProduct(ctx, supplier, p.ID)
	if err != nil || got.Status != domain.StatusArchived {
		t.Fatalf("ArchiveProduct: %v %+v", err, got)
	}
	if _, err := f.eng.ArchiveProduct(ctx, supplier, p.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var permErr2 *auth.PermissionError
	if err := f.eng.DeleteProduct(ctx, supplier, p.ID); !errors.As(err, &permErr2) {
		t.Fatalf("archived products cannot be deleted, got %v", err)
	}
}

func TestCustodyAndServiceRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, supplier, "Jacket")

	var verr *ValidationError
	if _, err := f.eng.AddCustodyStep(ctx, supplier, p.ID, domain.CustodyStep{Location: "Porto"}); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	got, err := f.eng.AddCustodyStep(ctx, supplier, p.ID, domain.CustodyStep{Event: "shipped", Location: "Porto"})
	if err != nil || len(got.ChainOfCustody) != 1 || got.ChainOfCustody[0].Actor != supplier.ID || got.ChainOfCustody[0].Timestamp.IsZero() {
		t.Fatalf("AddCustodyStep: %v %+v", err, got)
	}
	var permErr *auth.PermissionError
	if _, err := f.eng.AddServiceRecord(ctx, supplier, p.ID, "zip replaced"); !errors.As(err, &permErr) {
		t.Fatalf("suppliers may not add service records, got %v", err)
	}
	if _, err := f.eng.AddServiceRecord(ctx, provider, p.ID, "zip replaced"); err != nil {
		t.Fatalf("AddServiceRecord: %v", err)
	}
	stored := f.get(t, p.ID)
	if len(stored.ServiceHistory) != 1 || stored.ServiceHistory[0].ProviderID != provider.ID {
		t.Fatalf("unexpected service history %+v", stored.ServiceHistory)
	}
}

func TestMutationsHideForeignDrafts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		actor *domain.User
		run   func(id string) (*domain.Product, error)
	}{
		{"submit", rival, func(id string) (*domain.Product, error) { return f.eng.SubmitForReview(ctx, rival, id) }},
		{"recycle", recycler, func(id string) (*domain.Product, error) { return f.eng.MarkAsRecycled(ctx, recycler, id) }},
		{"service record", provider, func(id string) (*domain.Product, error) {
			return f.eng.AddServiceRecord(ctx, provider, id, "seam repaired")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := f.create(t, supplier, "Secret Jacket")
			got, err := tc.run(p.ID)
			if err != nil {
				t.Fatalf("%s: %v", tc.name, err)
			}
			if got.ID != p.ID || got.ProductName != "" || got.CompanyID != "" || got.Sustainability != nil || got.Materials != nil {
				t.Fatalf("draft contents returned to %s: %+v", tc.actor.ID, got)
			}
			if stored := f.get(t, p.ID); stored.ProductName != "Secret Jacket" || stored.Status != domain.StatusDraft {
				t.Fatalf("stored product changed unexpectedly: %+v", stored)
			}
		})
	}

	own := f.create(t, supplier, "Own Jacket")
	got, err := f.eng.SubmitForReview(ctx, supplier, own.ID)
	if err != nil || got.ProductName != "Own Jacket" || got.CompanyID != "cmp_1" {
		t.Fatalf("owner should see full product: %v %+v", err, got)
	}
}

func TestRejectWaitsForScoring(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	f := newFixture(t, func(d *Deps) {
		d.Scorer = oracle.ScorerFunc(func(ctx context.Context, snap oracle.Snapshot) (oracle.Score, error) {
			if calls.Add(1) > 1 {
				<-release
			}
			return oracle.Score{Score: 75, IsCompliant: true, ComplianceSummary: "Product meets all requirements."}, nil
		})
	})
	ctx := context.Background()
	p := f.create(t, supplier, "Jacket")
	if _, err := f.eng.SubmitForReview(ctx, supplier, p.ID); err != nil {
		t.Fatalf("SubmitForReview: %v", err)
	}
	if _, err := f.eng.RecalculateScore(ctx, supplier, p.ID); err != nil {
		t.Fatalf("RecalculateScore: %v", err)
	}
	if _, err := f.eng.RejectPassport(ctx, auditor, p.ID, "Repairability data missing", nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("reject during scoring: expected ErrBusy, got %v", err)
	}
	if _, err := f.eng.OverrideVerification(ctx, manager, p.ID, "manual"); !errors.Is(err, ErrBusy) {
		t.Fatalf("override during scoring: expected ErrBusy, got %v", err)
	}
	close(release)
	f.exec.Wait()

	if _, err := f.eng.RejectPassport(ctx, auditor, p.ID, "Repairability data missing", nil); err != nil {
		t.Fatalf("RejectPassport: %v", err)
	}
	if _, err := f.eng.RecalculateScore(ctx, supplier, p.ID); err != nil {
		t.Fatalf("RecalculateScore after reject: %v", err)
	}
	f.exec.Wait()
	got := f.get(t, p.ID)
	if got.VerificationStatus != domain.VerificationFailed || got.Sustainability.IsCompliant ||
		got.Sustainability.ComplianceSummary != "Repairability data missing" || got.Sustainability.Score != 75 {
		t.Fatalf("rejection lost after rescoring: %+v", got.Sustainability)
	}
}

func TestRunComplianceCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := completeInput("Jacket")
	in.Materials = []domain.Material{{Name: "PFAS coated nylon", Percentage: 100}}
	p, _ := f.eng.SaveProduct(ctx, supplier, "", in)
	f.exec.Wait()

	var permErr *auth.PermissionError
	if _, err := f.eng.RunComplianceCheck(ctx, supplier, p.ID, ""); !errors.As(err, &permErr) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
	got, err := f.eng.RunComplianceCheck(ctx, auditor, p.ID, "")
	if err != nil {
		t.Fatalf("RunComplianceCheck: %v", err)
	}
	if got.Sustainability.IsCompliant || len(got.Sustainability.Gaps) == 0 || got.Sustainability.CompliancePathID != "cpl_apparel" {
		t.Fatalf("expected banned keyword gap, got %+v", got.Sustainability)
	}
	if _, err := f.eng.RunComplianceCheck(ctx, auditor, p.ID, "cpl_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := f.create(t, supplier, "Draft")
	pub := f.create(t, supplier, "Public")
	if _, err := f.eng.OverrideVerification(ctx, manager, pub.ID, "ok"); err != nil {
		t.Fatalf("OverrideVerification: %v", err)
	}

	for _, viewer := range []*domain.User{nil, rival, recycler} {
		list, err := f.eng.GetProducts(ctx, viewer, store.ProductFilter{})
		if err != nil {
			t.Fatalf("GetProducts: %v", err)
		}
		if len(list) != 1 || list[0].ID != pub.ID {
			t.Fatalf("viewer %v saw %d products", viewer, len(list))
		}
		if _, err := f.eng.GetProductByID(ctx, viewer, draft.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("draft leaked to %v: %v", viewer, err)
		}
	}
	for _, viewer := range []*domain.User{supplier, auditor} {
		list, _ := f.eng.GetProducts(ctx, viewer, store.ProductFilter{})
		if len(list) != 2 {
			t.Fatalf("viewer %s should see both, got %d", viewer.ID, len(list))
		}
	}
}

func TestExportRequiresPermissionAndHonoursVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, supplier, "Draft")
	pub := f.create(t, supplier, "Public")
	if _, err := f.eng.OverrideVerification(ctx, manager, pub.ID, "ok"); err != nil {
		t.Fatalf("OverrideVerification: %v", err)
	}

	items, err := f.eng.ExportProducts(ctx, rival, store.ProductFilter{})
	if err != nil {
		t.Fatalf("ExportProducts: %v", err)
	}
	if len(items) != 1 || items[0].ID != pub.ID {
		t.Fatalf("rival export leaked drafts: %d items", len(items))
	}
	var permErr *auth.PermissionError
	for _, actor := range []*domain.User{nil, recycler} {
		if _, err := f.eng.ExportProducts(ctx, actor, store.ProductFilter{}); !errors.As(err, &permErr) {
			t.Fatalf("expected PermissionError, got %v", err)
		}
	}
}

func TestBulkDeletePartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, f.create(t, supplier, "Own").ID)
	}
	for i := 0; i < 2; i++ {
		ids = append(ids, f.create(t, rival, "Foreign").ID)
	}

	res := f.eng.BulkDeleteProducts(ctx, supplier, ids)
	if res.Count() != 3 || len(res.Failed) != 2 {
		t.Fatalf("unexpected bulk result %+v", res)
	}
	left, _ := f.mem.ListProducts(ctx, store.ProductFilter{})
	if len(left) != 2 {
		t.Fatalf("expected 2 products left, got %d", len(left))
	}
	summaries, _ := f.mem.ListAuditLogs(ctx, store.AuditFilter{ActionPrefix: "products.bulk_deleted"})
	if len(summaries) != 1 || summaries[0].Details["count"] != 3 {
		t.Fatalf("expected one summary with count 3, got %+v", summaries)
	}
}

func TestBulkAnchorAuditsFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := f.create(t, supplier, "Pending")
	draft := f.create(t, supplier, "Draft")
	if _, err := f.eng.SubmitForReview(ctx, supplier, pending.ID); err != nil {
		t.Fatalf("SubmitForReview: %v", err)
	}

	res := f.eng.BulkAnchorProducts(ctx, auditor, []string{pending.ID, draft.ID, "prd_missing"})
	f.exec.Wait()
	if res.Count() != 1 || len(res.Failed) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.get(t, pending.ID).Status != domain.StatusPublished {
		t.Fatalf("pending product should be published")
	}
	for _, id := range []string{draft.ID, "prd_missing"} {
		if !slices.Contains(f.actions(t, id), "product.anchor.failed") {
			t.Fatalf("missing per-item failure for %s", id)
		}
	}
	summaries, _ := f.mem.ListAuditLogs(ctx, store.AuditFilter{ActionPrefix: "products.bulk_anchored"})
	if len(summaries) != 1 || summaries[0].Details["failed"] != 2 {
		t.Fatalf("unexpected summary %+v", summaries)
	}
}

func TestBulkSubmitAndArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, supplier, "A")
	b := f.create(t, supplier, "B")
	res := f.eng.BulkSubmitForReview(ctx, supplier, []string{a.ID, b.ID, a.ID})
	if res.Count() != 2 || len(res.Failed) != 0 {
		t.Fatalf("unexpected submit result %+v", res)
	}
	res = f.eng.BulkArchiveProducts(ctx, rival, []string{a.ID, b.ID})
	if res.Count() != 0 || len(res.Failed) != 2 {
		t.Fatalf("rival must not archive, got %+v", res)
	}
	res = f.eng.BulkArchiveProducts(ctx, supplier, []string{a.ID, b.ID})
	if res.Count() != 2 {
		t.Fatalf("unexpected archive result %+v", res)
	}
}

func TestAuditLogOnlyGrows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snapshot := func() []domain.AuditLog {
		logs, _ := f.mem.ListAuditLogs(ctx, store.AuditFilter{})
		return logs
	}
	var prev []domain.AuditLog
	check := func(step string) {
		cur := snapshot()
		if len(cur) < len(prev) {
			t.Fatalf("%s: log shrank %d -> %d", step, len(prev), len(cur))
		}
		for i := range prev {
			if cur[i].ID != prev[i].ID || cur[i].Action != prev[i].Action || !cur[i].CreatedAt.Equal(prev[i].CreatedAt) {
				t.Fatalf("%s: entry %d changed", step, i)
			}
		}
		prev = cur
	}

	p := f.create(t, supplier, "Jacket")
	check("create")
	_, _ = f.eng.SubmitForReview(ctx, supplier, p.ID)
	check("submit")
	_, _ = f.eng.RejectPassport(ctx, auditor, p.ID, "no", nil)
	check("reject")
	_ = f.eng.DeleteProduct(ctx, rival, p.ID)
	check("denied delete")
	_ = f.eng.DeleteProduct(ctx, supplier, p.ID)
	check("delete")
	f.eng.BulkDeleteProducts(ctx, supplier, []string{p.ID})
	check("bulk")
}

func TestDataHashIgnoresWorkflowState(t *testing.T) {
	p := &domain.Product{ID: "prd_1", CompanyID: "cmp_1", ProductName: "Jacket", Materials: []domain.Material{{Name: "Wool"}}}
	a, err := DataHash(p)
	if err != nil {
		t.Fatalf("DataHash: %v", err)
	}
	q := p.Clone()
	q.IsMinting = true
	q.VerificationStatus = domain.VerificationPending
	q.UpdatedAt = time.Now()
	b, _ := DataHash(q)
	if a != b || len(a) != 64 {
		t.Fatalf("hash changed with workflow state: %s vs %s", a, b)
	}
	q.ProductName = "Coat"
	c, _ := DataHash(q)
	if c == a {
		t.Fatalf("hash must change with content")
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatalf("expected missing dependency error")
	}
}
