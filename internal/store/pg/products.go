package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"norruva.org/internal/domain"
	"norruva.org/internal/store"
)

var _ store.ProductRepository = (*Store)(nil)

// Products are stored as JSONB documents; the scalar columns mirror the
// fields list queries filter on.

func (s *Store) CreateProduct(ctx context.Context, p *domain.Product) error {
	cp := p.Clone()
	now := s.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	doc, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode product: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into products(id, company_id, status, verification_status, category, document, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, cp.ID, cp.CompanyID, cp.Status, cp.VerificationStatus, cp.Category, doc, cp.CreatedAt, cp.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", store.ErrConflict, cp.ID)
	}
	return err
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `select document from products where id=$1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeProduct(doc)
}

func (s *Store) MutateProduct(ctx context.Context, id string, fn store.ProductMutation) (*domain.Product, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var doc []byte
	err = tx.QueryRowContext(ctx, `select document from products where id=$1 for update`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	current, err := decodeProduct(doc)
	if err != nil {
		return nil, err
	}
	work := current.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	work.ID = current.ID
	work.CompanyID = current.CompanyID
	work.CreatedAt = current.CreatedAt
	if !work.UpdatedAt.After(current.UpdatedAt) {
		work.UpdatedAt = s.now()
	}
	next, err := json.Marshal(work)
	if err != nil {
		return nil, fmt.Errorf("encode product: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		update products
		set status=$2, verification_status=$3, category=$4, document=$5, updated_at=$6
		where id=$1
	`, id, work.Status, work.VerificationStatus, work.Category, next, work.UpdatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return work, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from products where id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context, f store.ProductFilter) ([]*domain.Product, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.CompanyID != "" {
		add("company_id=$%d", f.CompanyID)
	}
	if f.Status != "" {
		add("status=$%d", f.Status)
	}
	if f.VerificationStatus != "" {
		add("verification_status=$%d", f.VerificationStatus)
	}
	if f.Category != "" {
		add("lower(category)=lower($%d)", f.Category)
	}
	q := `select document from products`
	if len(where) > 0 {
		q += " where " + strings.Join(where, " and ")
	}
	q += " order by created_at asc, id asc"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Product
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		p, err := decodeProduct(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func decodeProduct(doc []byte) (*domain.Product, error) {
	var p domain.Product
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("decode product: %w", err)
	}
	return &p, nil
}
