package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"norruva.org/internal/domain"
	"norruva.org/internal/store"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := New(db)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func productDoc(t *testing.T, p *domain.Product) []byte {
	t.Helper()
	doc, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return doc
}

func TestCreateProduct(t *testing.T) {
	s, mock := newMockStore(t)
	p := &domain.Product{ID: "prd_1", CompanyID: "cmp_a", Status: domain.StatusDraft, VerificationStatus: domain.VerificationNotSubmitted, Category: "Textiles"}

	mock.ExpectExec("insert into products").
		WithArgs("prd_1", "cmp_a", domain.StatusDraft, domain.VerificationNotSubmitted, "Textiles", sqlmock.AnyArg(), fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.CreateProduct(context.Background(), p); err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetProductNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("select document from products where id").WithArgs("prd_x").WillReturnError(sql.ErrNoRows)

	if _, err := s.GetProduct(context.Background(), "prd_x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMutateProductLocksAndPreservesOwner(t *testing.T) {
	s, mock := newMockStore(t)
	created := fixedNow.Add(-time.Hour)
	current := &domain.Product{ID: "prd_1", CompanyID: "cmp_a", Status: domain.StatusDraft, VerificationStatus: domain.VerificationNotSubmitted, CreatedAt: created, UpdatedAt: created}

	mock.ExpectBegin()
	mock.ExpectQuery("select document from products where id=\\$1 for update").WithArgs("prd_1").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(productDoc(t, current)))
	mock.ExpectExec("update products").
		WithArgs("prd_1", domain.StatusDraft, domain.VerificationPending, "", sqlmock.AnyArg(), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := s.MutateProduct(context.Background(), "prd_1", func(p *domain.Product) error {
		p.VerificationStatus = domain.VerificationPending
		p.CompanyID = "cmp_other"
		return nil
	})
	if err != nil {
		t.Fatalf("MutateProduct: %v", err)
	}
	if got.CompanyID != "cmp_a" || !got.CreatedAt.Equal(created) || !got.UpdatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected product: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMutateProductRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	current := &domain.Product{ID: "prd_1", CompanyID: "cmp_a"}
	mock.ExpectBegin()
	mock.ExpectQuery("for update").WithArgs("prd_1").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(productDoc(t, current)))
	mock.ExpectRollback()

	boom := errors.New("boom")
	_, err := s.MutateProduct(context.Background(), "prd_1", func(*domain.Product) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteProductMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("delete from products").WithArgs("prd_1").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.DeleteProduct(context.Background(), "prd_1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListProductsBuildsFilter(t *testing.T) {
	s, mock := newMockStore(t)
	p := &domain.Product{ID: "prd_1", CompanyID: "cmp_a", Status: domain.StatusPublished}
	mock.ExpectQuery("select document from products where company_id=\\$1 and status=\\$2 order by created_at").
		WithArgs("cmp_a", domain.StatusPublished).
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(productDoc(t, p)))

	got, err := s.ListProducts(context.Background(), store.ProductFilter{CompanyID: "cmp_a", Status: domain.StatusPublished})
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(got) != 1 || got[0].ID != "prd_1" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestAuditAppendAndList(t *testing.T) {
	s, mock := newMockStore(t)
	entry := domain.AuditLog{ID: "log_1", UserID: "usr_1", Action: "product.created", EntityID: "prd_1", Details: map[string]any{"name": "Widget"}}

	mock.ExpectExec("insert into audit_logs").
		WithArgs("log_1", "usr_1", "product.created", "prd_1", []byte(`{"name":"Widget"}`), fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := s.AppendAuditLog(context.Background(), entry); err != nil {
		t.Fatalf("AppendAuditLog: %v", err)
	}

	rows := sqlmock.NewRows([]string{"id", "user_id", "action", "entity_id", "details", "created_at"}).
		AddRow("log_1", "usr_1", "product.created", "prd_1", []byte(`{"name":"Widget"}`), fixedNow)
	mock.ExpectQuery("from audit_logs where entity_id=\\$1 and action like \\$2 order by seq asc limit \\$3").
		WithArgs("prd_1", `product.%`, 10).
		WillReturnRows(rows)

	logs, err := s.ListAuditLogs(context.Background(), store.AuditFilter{EntityID: "prd_1", ActionPrefix: "product.", Limit: 10})
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].Details["name"] != "Widget" {
		t.Fatalf("unexpected logs: %+v", logs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMintIdempotentReplay(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("from credit_transactions where idempotency_key").WithArgs("recycle:prd_1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount", "reason", "sequence", "idempotency_key", "created_at"}).
			AddRow("crd_1", "usr_1", int64(10), "recycled", uint64(7), "recycle:prd_1", fixedNow))
	mock.ExpectRollback()

	tx, err := s.Mint(context.Background(), "usr_1", 10, "recycled", "recycle:prd_1")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if tx.ID != "crd_1" || tx.Sequence != 7 {
		t.Fatalf("expected replayed tx, got %+v", tx)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMintNewGrant(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("from credit_transactions where idempotency_key").WithArgs("k").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("insert into credit_accounts").WithArgs("usr_1", int64(10), fixedNow).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("insert into credit_transactions").
		WithArgs(sqlmock.AnyArg(), "usr_1", int64(10), "r", "k", fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(uint64(1)))
	mock.ExpectCommit()

	tx, err := s.Mint(context.Background(), "usr_1", 10, "r", "k")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if tx.Sequence != 1 || tx.Amount != 10 {
		t.Fatalf("unexpected tx: %+v", tx)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
